package colloc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/backends/kontext"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/testutil"
	"github.com/czcorpus/wag-sub001/internal/tiles"
	"github.com/czcorpus/wag-sub001/internal/tiles/concordance"
)

const concHouse = `{
  "Lines": [
    {"Left": [{"str": "the"}, {"str": "old"}], "Kwic": [{"str": "house"}], "Right": [{"str": "was"}], "toknum": 1024, "ref": []}
  ],
  "concsize": 42,
  "result_arf": 1.7,
  "result_relative_freq": 12.5,
  "conc_persistence_op_id": "abc123",
  "Q": ["~abc123"],
  "corpname": "susanne"
}`

const collHouse = `{
  "Head": [{"n": "Freq", "s": "freq"}, {"n": "logDice", "s": "d"}],
  "Items": [
    {"str": "old", "freq": 14, "Stats": [{"s": "9.02"}], "pfilter": "q=p1", "nfilter": "q=n1"},
    {"str": "white", "freq": 9, "Stats": [{"s": "8.4"}], "pfilter": "q=p2", "nfilter": "q=n2"}
  ],
  "conc_persistence_op_id": "abc123"
}`

type recordedCall struct {
	path  string
	query url.Values
}

func TestHouseScenario(t *testing.T) {
	var mu sync.Mutex
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, recordedCall{path: r.URL.Path, query: r.URL.Query()})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/first":
			_, _ = w.Write([]byte(concHouse))
		case "/collx":
			_, _ = w.Write([]byte(collHouse))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	registry := backends.NewRegistry(backends.Env{Client: backends.NewClient(nil, nil, nil, nil)})
	kontext.Register(registry)
	api := backends.APIConf{Type: backends.VendorKontext, URL: srv.URL}

	bus := testutil.StartBus(t)
	conc, err := concordance.New(tiles.Env{TileID: 1, Name: "conc", Registry: registry}, concordance.Conf{
		Conf:     tiles.Conf{API: api},
		CorpName: "susanne",
	})
	if err != nil {
		t.Fatalf("concordance.New: %v", err)
	}
	coll, err := New(tiles.Env{TileID: 2, Name: "coll", Registry: registry, WaitFor: []int{1}}, Conf{
		Conf:     tiles.Conf{API: api},
		CorpName: "susanne",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus.Register(conc)
	bus.Register(coll)
	concResults := testutil.Results(bus, 1)
	collResults := testutil.Results(bus, 2)

	bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))

	a := testutil.Next(t, concResults)
	if a.Error != nil {
		t.Fatalf("concordance failed: %v", a.Error)
	}
	if ids := a.Payload.(action.TileLoaded).Body.(action.ConcLoaded).ConcIDs; len(ids) != 1 || ids[0] != "abc123" {
		t.Fatalf("unexpected concordance ids %v", ids)
	}
	a = testutil.Next(t, collResults)
	if a.Error != nil {
		t.Fatalf("collocations failed: %v", a.Error)
	}
	if p := a.Payload.(action.TileLoaded); p.IsEmpty || p.TileID != 2 {
		t.Errorf("unexpected collocation result %+v", p)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0].path != "/first" || calls[1].path != "/collx" {
		t.Fatalf("unexpected call sequence %+v", calls)
	}
	first := calls[0].query
	if first.Get("corpname") != "susanne" || first.Get("queryselector") != "cqlrow" || first.Get("cql") != `[word="house"]` {
		t.Errorf("unexpected concordance args %v", first)
	}
	if q := calls[1].query.Get("q"); q != "~abc123" {
		t.Errorf("collocations must reuse the concordance, got q=%q", q)
	}

	s := coll.State()
	if len(s.Results) != 1 || len(s.Results[0].Data) != 2 || s.Results[0].Data[0].Str != "old" {
		t.Errorf("unexpected collocation state %+v", s.Results)
	}
}

type fixture struct {
	bus     *action.Bus
	model   *Model
	api     *testutil.CollAPI
	results *action.Subscription
}

func setup(t *testing.T, waitTimeout time.Duration) *fixture {
	t.Helper()
	api := &testutil.CollAPI{}
	api.Respond = func(ctx context.Context, args backends.Args) (*backends.CollApiResponse, error) {
		return &backends.CollApiResponse{
			ConcID: args.Get("q")[1:],
			Data: []backends.CollItem{
				{Str: "old", Freq: 14, InteractionID: backends.InteractionID("old")},
			},
		}, nil
	}
	bus := testutil.StartBus(t)
	m, err := New(tiles.Env{
		TileID:      2,
		Name:        "coll",
		Registry:    testutil.Registry(map[string]interface{}{"coll": api}),
		WaitFor:     []int{1},
		WaitTimeout: waitTimeout,
	}, Conf{Conf: tiles.Conf{API: testutil.APIConf("coll")}, CorpName: "susanne"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus.Register(m)
	return &fixture{bus: bus, model: m, api: api, results: testutil.Results(bus, 2)}
}

func (f *fixture) request(round uint64) {
	f.bus.Dispatch(testutil.Request(round, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))
}

func upstream(round uint64, concID string) action.Action {
	return tiles.Loaded(1, round, false, action.ConcLoaded{CorpusName: "susanne", ConcIDs: []string{concID}}, nil)
}

func TestDependencyGating(t *testing.T) {
	f := setup(t, time.Second)
	f.request(1)

	testutil.NoMore(t, f.results, 50*time.Millisecond)
	if f.api.Calls() != 0 {
		t.Fatalf("adapter called before upstream reported: %d calls", f.api.Calls())
	}
	if s := f.model.State(); s.Phase != tiles.PhaseWaiting || len(s.Pending) != 1 {
		t.Errorf("expected waiting for tile 1, got %+v", s.Common)
	}

	f.bus.Dispatch(upstream(1, "abc123"))
	a := testutil.Next(t, f.results)
	if a.Error != nil {
		t.Fatalf("unexpected error %v", a.Error)
	}
	f.bus.Dispatch(upstream(1, "again"))
	testutil.NoMore(t, f.results, 50*time.Millisecond)
	if f.api.Calls() != 1 {
		t.Errorf("expected exactly one call, got %d", f.api.Calls())
	}
	if q := f.api.CallArgs()[0].Get("q"); q != "~abc123" {
		t.Errorf("unexpected q %q", q)
	}
	items := a.Payload.(action.TileLoaded).Body.(action.SubqueryList).Items
	if len(items) != 1 || items[0].Subqueries[0].Value != "old" || *items[0].Subqueries[0].Context != (action.CtxRange{Left: -3, Right: 3}) {
		t.Errorf("unexpected sub-queries %+v", items)
	}
}

func TestTimeoutFiresOnce(t *testing.T) {
	f := setup(t, 50*time.Millisecond)
	f.request(1)

	a := testutil.Next(t, f.results)
	if !errors.Is(a.Error, errors.DependencyTimeout) {
		t.Fatalf("expected DependencyTimeout, got %v", a.Error)
	}
	f.bus.Dispatch(upstream(1, "late"))
	testutil.NoMore(t, f.results, 100*time.Millisecond)
	if f.api.Calls() != 0 {
		t.Errorf("late upstream result must be ignored, got %d calls", f.api.Calls())
	}
	if s := f.model.State(); s.Phase != tiles.PhaseErrored {
		t.Errorf("expected errored state, got %+v", s.Common)
	}
}

func TestUpstreamFailure(t *testing.T) {
	f := setup(t, time.Second)
	f.request(1)
	f.bus.Dispatch(tiles.Failed(1, 1, errors.New(errors.HTTPStatus, "server returned 502", nil)))

	a := testutil.Next(t, f.results)
	if !errors.Is(a.Error, errors.DependencyFailed) {
		t.Fatalf("expected DependencyFailed, got %v", a.Error)
	}
	if s := f.model.State(); s.Error != errors.MsgMissingDependency {
		t.Errorf("unexpected error message %q", s.Error)
	}
	if f.api.Calls() != 0 {
		t.Errorf("adapter must not be called, got %d calls", f.api.Calls())
	}
}

func retry(f *fixture) {
	f.bus.Dispatch(action.Action{Name: action.RetryTileLoad, Payload: action.TileRef{TileID: 2}})
}

func TestRetryAfterUpstreamRecovered(t *testing.T) {
	f := setup(t, 300*time.Millisecond)
	f.request(1)
	f.bus.Dispatch(tiles.Failed(1, 1, errors.New(errors.HTTPStatus, "server returned 502", nil)))
	if a := testutil.Next(t, f.results); !errors.Is(a.Error, errors.DependencyFailed) {
		t.Fatalf("expected DependencyFailed, got %v", a.Error)
	}

	// the concordance succeeds on its own retry within the same round
	f.bus.Dispatch(upstream(1, "abc123"))
	testutil.NoMore(t, f.results, 50*time.Millisecond)
	if f.api.Calls() != 0 {
		t.Fatalf("a recovered upstream must not reload a failed tile by itself, got %d calls", f.api.Calls())
	}

	retry(f)
	a := testutil.Next(t, f.results)
	if a.Error != nil {
		t.Fatalf("retry failed: %v", a.Error)
	}
	if a.Round() != 1 {
		t.Errorf("retry must stay in round 1, got %d", a.Round())
	}
	if args := f.api.CallArgs(); len(args) != 1 || args[0].Get("q") != "~abc123" {
		t.Errorf("expected one call over the recovered concordance, got %+v", args)
	}
	if s := f.model.State(); s.Phase != tiles.PhaseReady {
		t.Errorf("expected ready state, got %+v", s.Common)
	}
}

func TestRetryWaitsForFailedUpstream(t *testing.T) {
	f := setup(t, time.Second)
	f.request(1)
	f.bus.Dispatch(tiles.Failed(1, 1, errors.New(errors.HTTPStatus, "server returned 502", nil)))
	if a := testutil.Next(t, f.results); a.Error == nil {
		t.Fatal("first load must fail")
	}

	retry(f)
	testutil.NoMore(t, f.results, 50*time.Millisecond)
	if s := f.model.State(); s.Phase != tiles.PhaseWaiting || len(s.Pending) != 1 || s.Pending[0] != 1 {
		t.Fatalf("expected waiting for tile 1, got %+v", s.Common)
	}

	f.bus.Dispatch(upstream(1, "abc123"))
	if a := testutil.Next(t, f.results); a.Error != nil {
		t.Fatalf("retry failed: %v", a.Error)
	}
	if f.api.Calls() != 1 {
		t.Errorf("expected one call, got %d", f.api.Calls())
	}
}

func TestNewRoundSupersedesWait(t *testing.T) {
	f := setup(t, time.Second)
	f.request(1)
	f.request(2)
	f.bus.Dispatch(upstream(1, "old-round"))
	f.bus.Dispatch(upstream(2, "abc123"))

	a := testutil.Next(t, f.results)
	if a.Error != nil || a.Round() != 2 {
		t.Fatalf("expected the round 2 result, got round %d (err %v)", a.Round(), a.Error)
	}
	testutil.NoMore(t, f.results, 50*time.Millisecond)
	if args := f.api.CallArgs(); len(args) != 1 || args[0].Get("q") != "~abc123" {
		t.Errorf("expected one call for round 2, got %+v", args)
	}
}

func TestEmptyUpstreamConcordance(t *testing.T) {
	f := setup(t, time.Second)
	f.request(1)
	f.bus.Dispatch(upstream(1, ""))

	a := testutil.Next(t, f.results)
	if a.Error != nil || !a.Payload.(action.TileLoaded).IsEmpty {
		t.Fatalf("expected an empty result, got %+v", a)
	}
	if f.api.Calls() != 0 {
		t.Errorf("no concordance means no call, got %d", f.api.Calls())
	}
}

func TestTweakAnnouncesSubqueries(t *testing.T) {
	f := setup(t, time.Second)
	changes := testutil.Named(f.bus, action.SubqChanged)
	f.request(1)
	f.bus.Dispatch(upstream(1, "abc123"))
	testutil.Next(t, f.results)

	f.bus.Dispatch(action.Action{Name: action.TileTweakParam, Payload: action.TweakParam{TileID: 2, Param: ParamCtxSize, Value: "5"}})
	testutil.Next(t, f.results)
	p := testutil.Next(t, changes).Payload.(action.SubqueryPayload)
	if p.TileID != 2 || *p.Subqueries[0].Context != (action.CtxRange{Left: -5, Right: 5}) {
		t.Errorf("unexpected announcement %+v", p)
	}
	if args := f.api.CallArgs(); len(args) != 2 || args[1].Get("range") != "-5:5" {
		t.Errorf("expected a reload with the new window, got %+v", args)
	}
	if f.model.State().CtxSize != 5 {
		t.Error("context size not stored")
	}
}

func TestNewNeedsUpstream(t *testing.T) {
	_, err := New(tiles.Env{Name: "coll", Registry: testutil.Registry(map[string]interface{}{"coll": &testutil.CollAPI{}})},
		Conf{Conf: tiles.Conf{API: testutil.APIConf("coll")}})
	if !errors.Is(err, errors.ConfigInvalid) {
		t.Errorf("expected ConfigInvalid, got %v", err)
	}
}
