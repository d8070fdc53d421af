package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/storage"
	"github.com/czcorpus/wag-sub001/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.ConcAPI, storage.KeyValueStore) {
	t.Helper()
	conc := &testutil.ConcAPI{}
	conc.Respond = func(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
		return &backends.ConcResponse{
			ConcPersistenceID: "abc123",
			ConcSize:          3,
			Lines:             []backends.Line{{Kwic: []backends.Token{{Str: "house"}}}},
		}, nil
	}
	cache, err := storage.Open(storage.Config{Backend: storage.BackendSQLite, Path: filepath.Join(t.TempDir(), "cache.db")}, nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	conf := map[string]interface{}{
		"tileType":            "ConcordanceTile",
		"api":                 map[string]interface{}{"apiType": string(testutil.Vendor), "apiURL": "conc"},
		"corpname":            "susanne",
		"supportedQueryTypes": []string{"single", "cmp"},
	}
	engine := dashboard.NewEngine(dashboard.Settings{
		Layouts: map[query.Type][]string{
			query.Single: {"Conc"},
			query.Cmp:    {"Conc"},
		},
		Tiles:         map[string]map[string]interface{}{"Conc": conf},
		WaitTimeout:   testutil.WaitTimeout,
		SearchTimeout: testutil.WaitTimeout,
	}, dashboard.Services{
		Registry: testutil.Registry(map[string]interface{}{"conc": conc}),
		Cache:    cache,
	}, nil)

	return NewServer("localhost:0", engine, nil, Options{}), conc, cache
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "healthy" || resp.Version == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if diff := cmp.Diff([]query.Type{query.Cmp, query.Single}, resp.QueryTypes); diff != "" {
		t.Errorf("query types mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s, conc, _ := newTestServer(t)

	w := get(t, s, "/api/search?q=house")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res struct {
		Round     uint64   `json:"round"`
		QueryType string   `json:"queryType"`
		Queries   []string `json:"queries"`
		Complete  bool     `json:"complete"`
		Tiles     []struct {
			Name  string `json:"name"`
			Phase string `json:"phase"`
		} `json:"tiles"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if res.Round != 1 || res.QueryType != "single" || !res.Complete {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Tiles) != 1 || res.Tiles[0].Name != "Conc" || res.Tiles[0].Phase != "ready" {
		t.Errorf("unexpected tiles %+v", res.Tiles)
	}
	if conc.Calls() != 1 {
		t.Errorf("expected one backend call, got %d", conc.Calls())
	}

	w = get(t, s, "/api/search?q=house&q2=home&type=cmp")
	if w.Code != http.StatusOK {
		t.Fatalf("cmp status = %d, body %s", w.Code, w.Body.String())
	}
	if conc.Calls() != 3 {
		t.Errorf("expected a call per compared word, got %d in total", conc.Calls())
	}
}

func TestSearchEndpointErrors(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing query", "/api/search", http.StatusBadRequest, "ARGS_MAPPING"},
		{"bad query type", "/api/search?q=house&type=dict", http.StatusBadRequest, "ARGS_MAPPING"},
		{"cmp needs two words", "/api/search?q=house&type=cmp", http.StatusBadRequest, "ARGS_MAPPING"},
		{"no layout", "/api/search?q=house&type=translat&lang2=cs", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, s, tt.target)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/search?q=house", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
}

func TestTilesEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := get(t, s, "/api/tiles?type=cmp")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp TilesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.QueryType != query.Cmp || len(resp.Tiles) != 1 || resp.Tiles[0].Type != "ConcordanceTile" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.TileTypes) == 0 {
		t.Error("expected the known tile types")
	}
}

func TestSourceInfoEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := get(t, s, "/api/source-info?tile=0")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var info backends.SourceDetails
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if info.CorpusName != "susanne" {
		t.Errorf("unexpected source info %+v", info)
	}

	if w := get(t, s, "/api/source-info?tile=x"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if w := get(t, s, "/api/source-info?tile=5"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	s, _, cache := newTestServer(t)
	if err := cache.Set(context.Background(), "conc:susanne", "cached"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if w := get(t, s, "/api/cache/clear"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp CacheResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Cleared != 1 || resp.Timestamp.After(time.Now().Add(time.Second)) {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	if w := get(t, s, "/api/search?q=house"); w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	get(t, s, "/api/search")

	w := get(t, s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`wag_search_total{query_type="single",complete="true"} 1`,
		`wag_tile_results_total{tile_type="ConcordanceTile",phase="ready"} 1`,
		`wag_search_duration_seconds_count{query_type="single"} 1`,
		`wag_search_duration_seconds_bucket{query_type="single",le="+Inf"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics lack %q", want)
		}
	}
	if got := s.metrics.errorTotal.Value("ARGS_MAPPING"); got != 1 {
		t.Errorf("ARGS_MAPPING errors = %d, want 1", got)
	}
}

func TestUnknownPath(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/nowhere")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", resp.Code)
	}
}
