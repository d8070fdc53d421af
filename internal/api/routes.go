package api

import (
	"net/http"

	"github.com/czcorpus/wag-sub001/internal/version"
)

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/metrics", s.handleMetrics)

	s.router.HandleFunc("/api/search", s.handleSearch)              // GET ?q=&q2=&type=&lang1=&lang2=
	s.router.HandleFunc("/api/search/stream", s.handleSearchStream) // GET, same parameters, SSE
	s.router.HandleFunc("/api/tiles", s.handleTiles)                // GET ?type=
	s.router.HandleFunc("/api/source-info", s.handleSourceInfo)     // GET ?tile=&corpname=&type=
	s.router.HandleFunc("/api/cache/clear", s.handleCacheClear)     // POST

	s.router.HandleFunc("/", s.handleRoot)
}

// handleRoot handles requests to the root path
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		NotFound(w, "no such endpoint "+r.URL.Path)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"name":    "WaG HTTP API",
		"version": version.Version,
		"endpoints": []string{
			"GET /health - Health check",
			"GET /metrics - Prometheus metrics",
			"GET /api/search?q=word[&q2=word][&type=single|cmp|translat][&lang1=][&lang2=] - Run a search",
			"GET /api/search/stream?q=word[...] - Run a search, tiles are sent as server-sent events",
			"GET /api/tiles?type=single - Tiles of a query type",
			"GET /api/source-info?tile=0[&corpname=][&type=] - Data source of a tile",
			"POST /api/cache/clear - Drop cached backend responses",
		},
	}

	WriteJSON(w, response, http.StatusOK)
}
