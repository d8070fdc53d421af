package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/layout"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// TilesResponse lists the tiles of a query type
type TilesResponse struct {
	QueryType query.Type    `json:"queryType"`
	Tiles     []layout.Tile `json:"tiles"`
	TileTypes []string      `json:"tileTypes"`
}

// CacheResponse represents cache operation responses
type CacheResponse struct {
	Status    string    `json:"status"`
	Cleared   int       `json:"cleared"`
	Timestamp time.Time `json:"timestamp"`
}

// fail writes err with its mapped status and counts it
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.Code(err)
	s.metrics.RecordError(string(code))
	s.logger.Warn("Request failed", map[string]interface{}{
		"path":      r.URL.Path,
		"code":      string(code),
		"error":     err.Error(),
		"requestID": GetRequestID(r.Context()),
	})
	WriteWagError(w, err)
}

func parseQueryType(r *http.Request) (query.Type, error) {
	qt, err := query.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		return "", errors.New(errors.ArgsMapping, "invalid parameter 'type'", err)
	}
	return qt, nil
}

// parseSearchRequest reads the query form parameters of a search
func parseSearchRequest(r *http.Request) (dashboard.Request, error) {
	params := r.URL.Query()
	var queries []string
	// repeated q is the cmp form, q2 the translation target
	for _, q := range params["q"] {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if q2 := strings.TrimSpace(params.Get("q2")); q2 != "" {
		queries = append(queries, q2)
	}
	if len(queries) == 0 {
		return dashboard.Request{}, errors.New(errors.ArgsMapping, "Query parameter 'q' is required", nil)
	}
	qt, err := parseQueryType(r)
	if err != nil {
		return dashboard.Request{}, err
	}
	return dashboard.Request{
		QueryType: qt,
		Queries:   queries,
		Lang1:     params.Get("lang1"),
		Lang2:     params.Get("lang2"),
	}, nil
}

// recordResult counts a finished search
func (s *Server) recordResult(res *dashboard.Result, took time.Duration) {
	s.metrics.RecordSearch(string(res.QueryType), took, res.Complete)
	for _, t := range res.Tiles {
		s.metrics.RecordTile(t.Type, string(t.Phase))
	}
}

// handleSearch runs a search and returns the whole dashboard
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := parseSearchRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	start := time.Now()
	res, err := s.engine.Search(r.Context(), req)
	// failed tiles come back inside res, only a failed search ends here
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.recordResult(res, time.Since(start))
	WriteJSON(w, res, http.StatusOK)
}

// handleTiles describes the layout of a query type
func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	qt, err := parseQueryType(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	l, err := s.engine.Layout(qt)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	WriteJSON(w, TilesResponse{
		QueryType: l.QueryType,
		Tiles:     l.Tiles,
		TileTypes: layout.TileTypes(),
	}, http.StatusOK)
}

// handleSourceInfo asks a tile for a description of its data source
func (s *Server) handleSourceInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	tileID, err := strconv.Atoi(params.Get("tile"))
	if err != nil || tileID < 0 {
		BadRequest(w, "Query parameter 'tile' must be a tile id")
		return
	}
	qt, err := parseQueryType(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// corpname is optional, tiles fall back to their own corpus
	uiLang := params.Get("lang")
	if uiLang == "" {
		uiLang = "en"
	}

	info, err := s.engine.SourceInfo(r.Context(), qt, tileID, params.Get("corpname"), uiLang)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, info, http.StatusOK)
}

// handleCacheClear clears the response cache
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := s.engine.ClearCache(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// a dummy store always reports zero entries
	s.metrics.RecordCacheCleared(n)

	WriteJSON(w, CacheResponse{
		Status:    "success",
		Cleared:   n,
		Timestamp: time.Now().UTC(),
	}, http.StatusOK)
}
