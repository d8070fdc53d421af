package dashboard

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/config"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/testutil"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

type lemmas map[string][]query.QueryMatch

func (l lemmas) FindQueryMatches(ctx context.Context, word string, minFreq int) ([]query.QueryMatch, error) {
	return l[word], nil
}

type fixture struct {
	engine *Engine
	conc   *testutil.ConcAPI
	coll   *testutil.CollAPI
	sim    *testutil.WordSimAPI
}

func api(name string) map[string]interface{} {
	return map[string]interface{}{"apiType": string(testutil.Vendor), "apiURL": name}
}

func setup(t *testing.T, settings Settings) *fixture {
	t.Helper()
	f := &fixture{
		conc: &testutil.ConcAPI{},
		coll: &testutil.CollAPI{},
		sim:  &testutil.WordSimAPI{},
	}
	f.conc.Respond = func(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
		return &backends.ConcResponse{
			ConcPersistenceID: "abc123",
			ConcSize:          42,
			Lines: []backends.Line{
				{Left: []backends.Token{{Str: "the"}}, Kwic: []backends.Token{{Str: "house"}}},
			},
		}, nil
	}
	f.coll.Respond = func(ctx context.Context, args backends.Args) (*backends.CollApiResponse, error) {
		return &backends.CollApiResponse{
			ConcID: "abc123",
			Data: []backends.CollItem{
				{Str: "white", Freq: 12, Stats: []float64{7.5}},
				{Str: "big", Freq: 9, Stats: []float64{6.1}},
			},
		}, nil
	}
	f.sim.Respond = func(ctx context.Context, args backends.Args) (*backends.WordSimApiResponse, error) {
		return nil, errors.New(errors.HTTPStatus, "server returned 503", nil)
	}

	registry := testutil.Registry(map[string]interface{}{
		"kontext": testutil.ByCapability{
			backends.CapConcordance:  f.conc,
			backends.CapCollocations: f.coll,
		},
		"datamuse": f.sim,
	})
	if settings.Layouts == nil {
		settings.Layouts = map[query.Type][]string{query.Single: {"conc", "coll", "sim"}}
	}
	if settings.Tiles == nil {
		settings.Tiles = map[string]map[string]interface{}{
			"conc": {"tileType": "ConcordanceTile", "api": api("kontext"), "corpname": "susanne"},
			"coll": {"tileType": "CollocTile", "api": api("kontext"), "corpname": "susanne", "cattr": "word", "waitFor": []string{"conc"}},
			"sim":  {"tileType": "WordSimTile", "api": api("datamuse")},
		}
	}
	if settings.WaitTimeout == 0 {
		settings.WaitTimeout = testutil.WaitTimeout
	}
	if settings.SearchTimeout == 0 {
		settings.SearchTimeout = testutil.WaitTimeout
	}
	resolver := lemmas{"house": {
		{Lemma: "house", Word: "house", PoS: []query.PosItem{{Value: "N", Label: "noun"}}, IPM: 120, FLevel: 4, IsCurrent: true},
		{Lemma: "house", Word: "house", PoS: []query.PosItem{{Value: "V", Label: "verb"}}, IPM: 3, FLevel: 2},
	}}
	f.engine = NewEngine(settings, Services{Registry: registry, Resolver: resolver}, nil)
	return f
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := f.engine.NewSession(query.Single)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

type tileSummary struct {
	ID      int         `json:"tileId"`
	Name    string      `json:"name"`
	Type    string      `json:"tileType"`
	WaitFor []int       `json:"waitFor,omitempty"`
	Phase   tiles.Phase `json:"phase"`
	IsEmpty bool        `json:"isEmpty"`
	Error   string      `json:"error,omitempty"`
}

type messageSummary struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	TileID int    `json:"tileId"`
}

type searchSummary struct {
	Round     uint64           `json:"round"`
	QueryType query.Type       `json:"queryType"`
	Queries   []string         `json:"queries"`
	Lemmas    []string         `json:"lemmas"`
	Complete  bool             `json:"complete"`
	CollQuery string           `json:"collQuery"`
	Tiles     []tileSummary    `json:"tiles"`
	Messages  []messageSummary `json:"messages"`
}

func summarize(res *Result, f *fixture) searchSummary {
	ans := searchSummary{
		Round:     res.Round,
		QueryType: res.QueryType,
		Queries:   res.Queries,
		Complete:  res.Complete,
	}
	for _, m := range res.Matches.Currents() {
		ans.Lemmas = append(ans.Lemmas, m.Lemma+"/"+m.PosLabel())
	}
	if calls := f.coll.CallArgs(); len(calls) > 0 {
		ans.CollQuery = calls[0].Get("q")
	}
	for _, t := range res.Tiles {
		ans.Tiles = append(ans.Tiles, tileSummary{t.ID, t.Name, t.Type, t.WaitFor, t.Phase, t.IsEmpty, t.Error})
	}
	for _, m := range res.Messages {
		ans.Messages = append(ans.Messages, messageSummary{m.Type, m.Text, m.TileID})
	}
	return ans
}

func TestGoldenHouseSearch(t *testing.T) {
	f := setup(t, Settings{})
	s := f.session(t)

	res, err := s.Search(context.Background(), Request{Queries: []string{"house"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.SessionID != s.ID {
		t.Errorf("SessionID = %q, want %q", res.SessionID, s.ID)
	}
	testutil.CompareGolden(t, "house_search", summarize(res, f))
}

func TestSearchProgress(t *testing.T) {
	f := setup(t, Settings{})
	s := f.session(t)

	var steps []Progress
	res, err := s.SearchProgress(context.Background(), Request{Queries: []string{"house"}}, func(p Progress) {
		steps = append(steps, p)
	})
	if err != nil {
		t.Fatalf("SearchProgress: %v", err)
	}
	if len(steps) == 0 || steps[0].Kind != ProgressRound {
		t.Fatalf("the round must be reported first, got %+v", steps)
	}
	if m, ok := steps[0].Matches.Current(0); !ok || m.PosLabel() != "noun" {
		t.Errorf("round step lacks the resolved lemma, got %+v", steps[0].Matches)
	}

	finished := map[string]tiles.Phase{}
	for _, p := range steps {
		if p.Kind != ProgressMessage && p.Round != res.Round {
			t.Errorf("step %s of round %d, want %d", p.Kind, p.Round, res.Round)
		}
		if p.Kind == ProgressTile {
			if _, dup := finished[p.Tile.Name]; dup {
				t.Errorf("tile %s reported twice", p.Tile.Name)
			}
			finished[p.Tile.Name] = p.Tile.Phase
		}
	}
	if len(finished) != len(res.Tiles) {
		t.Errorf("reported %d finished tiles, want %d", len(finished), len(res.Tiles))
	}
	if finished["conc"] != tiles.PhaseReady || finished["sim"] != tiles.PhaseErrored {
		t.Errorf("unexpected phases %v", finished)
	}
}

func TestRejectedQuery(t *testing.T) {
	f := setup(t, Settings{})
	s := f.session(t)

	_, err := s.Search(context.Background(), Request{Queries: []string{"  "}})
	if !errors.Is(err, errors.ArgsMapping) {
		t.Fatalf("expected ArgsMapping, got %v", err)
	}
	if f.conc.Calls() != 0 {
		t.Error("a rejected query must not reach any adapter")
	}
	if _, err := s.Search(context.Background(), Request{QueryType: query.Cmp, Queries: []string{"a", "b"}}); !errors.Is(err, errors.ArgsMapping) {
		t.Errorf("a query of another type must be rejected, got %v", err)
	}

	res, err := s.Search(context.Background(), Request{Queries: []string{"house"}})
	if err != nil {
		t.Fatalf("the session must stay usable: %v", err)
	}
	if res.Round != 1 {
		t.Errorf("Round = %d, want 1", res.Round)
	}
}

func TestRetryFailedTile(t *testing.T) {
	f := setup(t, Settings{})
	s := f.session(t)
	ctx := context.Background()

	if _, err := s.Search(ctx, Request{Queries: []string{"house"}}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if tile, _ := s.Tile(2); tile.Phase != tiles.PhaseErrored {
		t.Fatalf("expected the similarity tile to fail, got %s", tile.Phase)
	}

	f.sim.Respond = func(ctx context.Context, args backends.Args) (*backends.WordSimApiResponse, error) {
		return &backends.WordSimApiResponse{Words: []backends.WordSimWord{{Word: "home", Score: 0.9}}}, nil
	}
	tile, err := s.Retry(ctx, 2)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if tile.Phase != tiles.PhaseReady || tile.IsEmpty || tile.Error != "" {
		t.Errorf("unexpected tile after retry %+v", tile)
	}
	if f.sim.Calls() != 2 || f.conc.Calls() != 1 {
		t.Errorf("retry must reload the one tile, calls conc=%d sim=%d", f.conc.Calls(), f.sim.Calls())
	}

	if _, err := s.Retry(ctx, 0); !errors.Is(err, errors.ArgsMapping) {
		t.Errorf("retrying a loaded tile must fail, got %v", err)
	}
	if _, err := s.Retry(ctx, 9); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRetryRecoversDependentTiles(t *testing.T) {
	f := setup(t, Settings{})
	var failing atomic.Bool
	failing.Store(true)
	respond := f.conc.Respond
	f.conc.Respond = func(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
		if failing.Load() {
			return nil, errors.New(errors.HTTPStatus, "server returned 502", nil)
		}
		return respond(ctx, args)
	}
	s := f.session(t)
	ctx := context.Background()

	for _, search := range []struct {
		name  string
		retry int
	}{
		{"retry the dependent tile", 1},
		{"retry the upstream tile", 0},
	} {
		failing.Store(true)
		if _, err := s.Search(ctx, Request{Queries: []string{"house"}}); err != nil {
			t.Fatalf("%s: Search: %v", search.name, err)
		}
		coll, _ := s.Tile(1)
		if coll.Phase != tiles.PhaseErrored || coll.Error != errors.MsgMissingDependency {
			t.Fatalf("%s: expected a dependency failure, got %s %q", search.name, coll.Phase, coll.Error)
		}
		collCalls := f.coll.Calls()

		failing.Store(false)
		if _, err := s.Retry(ctx, search.retry); err != nil {
			t.Fatalf("%s: Retry: %v", search.name, err)
		}
		for _, id := range []int{0, 1} {
			if tile, _ := s.Tile(id); tile.Phase != tiles.PhaseReady {
				t.Errorf("%s: tile %d is %s after retry (%s)", search.name, id, tile.Phase, tile.Error)
			}
		}
		if got := f.coll.Calls() - collCalls; got != 1 {
			t.Errorf("%s: expected one collocation call, got %d", search.name, got)
		}
	}
}

func TestChangeLemma(t *testing.T) {
	f := setup(t, Settings{})
	s := f.session(t)
	ctx := context.Background()

	if _, err := s.ChangeLemma(ctx, 0, 1); !errors.Is(err, errors.ArgsMapping) {
		t.Errorf("changing a lemma before any search must fail, got %v", err)
	}
	if _, err := s.Search(ctx, Request{Queries: []string{"house"}}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := s.ChangeLemma(ctx, 0, 5); !errors.Is(err, errors.ArgsMapping) {
		t.Errorf("expected ArgsMapping for a missing variant, got %v", err)
	}

	res, err := s.ChangeLemma(ctx, 0, 1)
	if err != nil {
		t.Fatalf("ChangeLemma: %v", err)
	}
	if res.Round != 2 || !res.Complete {
		t.Errorf("unexpected round %d (complete %v)", res.Round, res.Complete)
	}
	if m, _ := res.Matches.Current(0); m.PosLabel() != "verb" {
		t.Errorf("expected the verb variant, got %+v", m)
	}
	if f.conc.Calls() != 2 {
		t.Errorf("expected a second concordance call, got %d", f.conc.Calls())
	}
}

func TestSearchTimeout(t *testing.T) {
	f := setup(t, Settings{SearchTimeout: 200 * time.Millisecond, WaitTimeout: time.Minute})
	f.conc.Gate = make(chan struct{})
	s := f.session(t)

	res, err := s.Search(context.Background(), Request{Queries: []string{"house"}})
	if err != nil {
		t.Fatalf("an expired search must still render: %v", err)
	}
	if res.Complete {
		t.Error("expected an incomplete result")
	}
	phases := []tiles.Phase{res.Tiles[0].Phase, res.Tiles[1].Phase, res.Tiles[2].Phase}
	want := []tiles.Phase{tiles.PhaseLoading, tiles.PhaseWaiting, tiles.PhaseErrored}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("tile %d phase = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestSourceInfo(t *testing.T) {
	f := setup(t, Settings{})

	info, err := f.engine.SourceInfo(context.Background(), query.Single, 0, "", "en")
	if err != nil {
		t.Fatalf("SourceInfo: %v", err)
	}
	if info.TileID != 0 || info.CorpusName != "susanne" {
		t.Errorf("unexpected source info %+v", info)
	}
	if _, err := f.engine.SourceInfo(context.Background(), query.Single, 7, "", "en"); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLayoutAndReload(t *testing.T) {
	f := setup(t, Settings{})

	l, err := f.engine.Layout(query.Single)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if len(l.Tiles) != 3 {
		t.Errorf("expected 3 tiles, got %d", len(l.Tiles))
	}
	if _, err := f.engine.Layout(query.Translat); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound for a query type without layout, got %v", err)
	}

	next := f.engine.Settings()
	next.Layouts = map[query.Type][]string{query.Single: {"conc"}}
	f.engine.Reload(next)
	if l, err = f.engine.Layout(query.Single); err != nil || len(l.Tiles) != 1 {
		t.Errorf("expected the reloaded layout, got %v (err %v)", l, err)
	}
}

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Cache.Path = filepath.Join(dir, "cache.db")
	cfg.FreqDB.Path = filepath.Join(dir, "freq.db")

	e, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if e.services.Resolver == nil || e.services.Registry == nil {
		t.Fatal("expected wired services")
	}
	if err := e.services.Cache.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := e.ClearCache(context.Background())
	if err != nil || n != 1 {
		t.Errorf("ClearCache = %d, %v; want 1 entry", n, err)
	}
	if got := e.Settings().SearchTimeout; got != 60*time.Second {
		t.Errorf("SearchTimeout = %s, want 60s", got)
	}
}
