package freqtree

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/testutil"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

type fixture struct {
	bus     *action.Bus
	model   *Model
	conc    *testutil.ConcAPI
	freqs   *testutil.FreqAPI
	results *action.Subscription
}

// distributions maps q and fcrit args to frequency data.
var distributions = map[string][]backends.FreqItem{
	"~abc123|tag 0":              {{Name: "NN", Freq: 30}, {Name: "VB", Freq: 12}, {Name: "JJ", Freq: 1}},
	`~flt-[tag="NN"]|doc.genre 0`: {{Name: "fiction", Freq: 20}, {Name: "news", Freq: 10}},
	`~flt-[tag="VB"]|doc.genre 0`: {{Name: "news", Freq: 12}},
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{conc: &testutil.ConcAPI{}, freqs: &testutil.FreqAPI{}}
	f.conc.Respond = func(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
		return &backends.ConcResponse{ConcPersistenceID: "flt-" + args.Get("filter")}, nil
	}
	f.freqs.Respond = func(ctx context.Context, args backends.Args) (*backends.FreqResponse, error) {
		data, ok := distributions[args.Get("q")+"|"+args.Get("fcrit")]
		if !ok {
			return nil, fmt.Errorf("unexpected freqs request %v", args.Query)
		}
		return &backends.FreqResponse{Data: data}, nil
	}
	f.bus = testutil.StartBus(t)
	m, err := New(tiles.Env{
		TileID: 3,
		Name:   "freqtree",
		Registry: testutil.Registry(map[string]interface{}{
			"api": testutil.ByCapability{
				backends.CapConcordance: f.conc,
				backends.CapFrequencies: f.freqs,
			},
		}),
		WaitFor: []int{1},
	}, Conf{
		Conf:      tiles.Conf{API: testutil.APIConf("api")},
		CorpName:  "susanne",
		FcritTree: []string{"tag 0", "doc.genre 0"},
		MaxItems:  2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.model = m
	f.bus.Register(m)
	f.results = testutil.Results(f.bus, 3)
	return f
}

func TestNewValidation(t *testing.T) {
	registry := testutil.Registry(map[string]interface{}{"api": testutil.ByCapability{
		backends.CapConcordance: &testutil.ConcAPI{},
		backends.CapFrequencies: &testutil.FreqAPI{},
	}})
	cases := []struct {
		name    string
		waitFor []int
		fcrit   []string
	}{
		{"no upstream", nil, []string{"tag 0", "doc.genre 0"}},
		{"one criterion", []int{1}, []string{"tag 0"}},
		{"blank criterion", []int{1}, []string{"tag 0", " "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tiles.Env{Name: "freqtree", Registry: registry, WaitFor: tc.waitFor}, Conf{
				Conf:      tiles.Conf{API: testutil.APIConf("api")},
				FcritTree: tc.fcrit,
			})
			if !errors.Is(err, errors.ConfigInvalid) {
				t.Errorf("expected ConfigInvalid, got %v", err)
			}
		})
	}
}

func TestTree(t *testing.T) {
	f := setup(t)
	f.bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))
	testutil.NoMore(t, f.results, 30*time.Millisecond)
	if f.freqs.Calls() != 0 {
		t.Fatal("frequencies requested before the concordance is known")
	}
	f.bus.Dispatch(tiles.Loaded(1, 1, false, action.ConcLoaded{ConcIDs: []string{"abc123"}}, nil))

	a := testutil.Next(t, f.results)
	if a.Error != nil {
		t.Fatalf("unexpected error %v", a.Error)
	}
	want := []Tree{{
		QueryID: 0,
		Nodes: []Node{
			{Name: "NN", Freq: 30, Children: []Node{{Name: "fiction", Freq: 20}, {Name: "news", Freq: 10}}},
			{Name: "VB", Freq: 12, Children: []Node{{Name: "news", Freq: 12}}},
		},
	}}
	if diff := cmp.Diff(want, f.model.State().Trees); diff != "" {
		t.Errorf("unexpected tree (-want +got):\n%s", diff)
	}
	if f.conc.Calls() != 2 || f.freqs.Calls() != 3 {
		t.Errorf("expected 2 filter and 3 freqs calls, got %d and %d", f.conc.Calls(), f.freqs.Calls())
	}
	for _, args := range f.conc.CallArgs() {
		if args.Get("q") != "~abc123" {
			t.Errorf("filters must start from the upstream concordance, got %v", args.Query)
		}
	}
}

func TestFailedBranchFailsTile(t *testing.T) {
	f := setup(t)
	f.conc.Respond = func(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
		return &backends.ConcResponse{}, nil
	}
	f.bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))
	f.bus.Dispatch(tiles.Loaded(1, 1, false, action.ConcLoaded{ConcIDs: []string{"abc123"}}, nil))

	a := testutil.Next(t, f.results)
	if !errors.Is(a.Error, errors.MalformedResponse) {
		t.Fatalf("expected MalformedResponse, got %v", a.Error)
	}
	if s := f.model.State(); s.Phase != tiles.PhaseErrored {
		t.Errorf("expected errored state, got %+v", s.Common)
	}
}

func TestRetryReusesConcordance(t *testing.T) {
	f := setup(t)
	var calls int32
	f.freqs.Respond = func(ctx context.Context, args backends.Args) (*backends.FreqResponse, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, fmt.Errorf("temporary failure")
		}
		return &backends.FreqResponse{Data: distributions[args.Get("q")+"|"+args.Get("fcrit")]}, nil
	}
	f.bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))
	f.bus.Dispatch(tiles.Loaded(1, 1, false, action.ConcLoaded{ConcIDs: []string{"abc123"}}, nil))
	if a := testutil.Next(t, f.results); a.Error == nil {
		t.Fatal("first load must fail")
	}

	f.bus.Dispatch(action.Action{Name: action.RetryTileLoad, Payload: action.TileRef{TileID: 3}})
	if a := testutil.Next(t, f.results); a.Error != nil {
		t.Fatalf("retry failed: %v", a.Error)
	}
	if got := len(f.model.State().Trees[0].Nodes); got != 2 {
		t.Errorf("expected 2 nodes after retry, got %d", got)
	}
}
