package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/version"
)

// HealthResponse tells whether the server is up and which query types it
// has layouts for
type HealthResponse struct {
	Status     string       `json:"status"`
	Version    string       `json:"version"`
	Uptime     string       `json:"uptime"`
	QueryTypes []query.Type `json:"queryTypes"`
	CheckedAt  time.Time    `json:"checkedAt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	layouts := s.engine.Settings().Layouts
	qts := make([]query.Type, 0, len(layouts))
	for qt, tiles := range layouts {
		if len(tiles) > 0 {
			qts = append(qts, qt)
		}
	}
	sort.Slice(qts, func(i, j int) bool { return qts[i] < qts[j] })

	status := "healthy"
	if len(qts) == 0 {
		status = "degraded"
	}
	WriteJSON(w, HealthResponse{
		Status:     status,
		Version:    version.Version,
		Uptime:     time.Since(s.metrics.startTime).Round(time.Second).String(),
		QueryTypes: qts,
		CheckedAt:  time.Now().UTC(),
	}, http.StatusOK)
}
