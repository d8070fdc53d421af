package wordforms

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/testutil"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

func setup(t *testing.T, api *testutil.FormsAPI) (*action.Bus, *Model, *action.Subscription) {
	t.Helper()
	bus := testutil.StartBus(t)
	m, err := New(tiles.Env{
		TileID:   5,
		Name:     "forms",
		Registry: testutil.Registry(map[string]interface{}{"forms": api}),
	}, Conf{Conf: tiles.Conf{API: testutil.APIConf("forms")}, CorpName: "syn2020", MaxItems: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus.Register(m)
	return bus, m, testutil.Results(bus, 5)
}

func TestFormsSortedWithRatios(t *testing.T) {
	api := &testutil.FormsAPI{}
	api.Respond = func(ctx context.Context, args backends.Args) (*backends.WordFormsResponse, error) {
		return &backends.WordFormsResponse{Forms: []backends.WordForm{
			{Value: "houses", Freq: 25},
			{Value: "house", Freq: 75},
			{Value: "House", Freq: 1},
		}}, nil
	}
	bus, m, results := setup(t, api)
	bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))

	a := testutil.Next(t, results)
	if a.Error != nil {
		t.Fatalf("unexpected error %v", a.Error)
	}
	want := []Forms{{
		QueryID: 0,
		Lemma:   "house",
		Forms: []backends.WordForm{
			{Value: "house", Freq: 75, Ratio: 0.75},
			{Value: "houses", Freq: 25, Ratio: 0.25},
		},
	}}
	if diff := cmp.Diff(want, m.State().Data, cmpopts.IgnoreFields(backends.WordForm{}, "InteractionID")); diff != "" {
		t.Errorf("unexpected forms (-want +got):\n%s", diff)
	}
	if args := api.CallArgs()[0]; args.Get("lemma") != "house" || args.Get("limit") != "2" {
		t.Errorf("unexpected args %v", args.Query)
	}
}

func TestNonDictWordSkipsCall(t *testing.T) {
	api := &testutil.FormsAPI{}
	bus, m, results := setup(t, api)
	bus.Dispatch(testutil.Request(1, action.QueryRequest{
		QueryType: query.Single,
		Matches:   query.MatchSet{{query.NonDictMatch("xyzzy")}},
	}))

	a := testutil.Next(t, results)
	if a.Error != nil || !a.Payload.(action.TileLoaded).IsEmpty {
		t.Fatalf("expected an empty result, got %+v", a)
	}
	if api.Calls() != 0 {
		t.Errorf("expected no calls, got %d", api.Calls())
	}
	if !m.State().IsEmpty {
		t.Error("state must be empty")
	}
}

func TestFailureAndRetry(t *testing.T) {
	api := &testutil.FormsAPI{}
	var recovered atomic.Bool
	api.Respond = func(ctx context.Context, args backends.Args) (*backends.WordFormsResponse, error) {
		if !recovered.Load() {
			return nil, errors.New(errors.AdapterError, "service unavailable", nil)
		}
		return &backends.WordFormsResponse{Forms: []backends.WordForm{{Value: "house", Freq: 3}}}, nil
	}
	bus, m, results := setup(t, api)
	messages := testutil.Named(bus, action.AddSystemMessage)
	bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))

	if a := testutil.Next(t, results); !errors.Is(a.Error, errors.AdapterError) {
		t.Fatalf("expected AdapterError, got %v", a.Error)
	}
	if msg := testutil.Next(t, messages).Payload.(action.SystemMessage); msg.TileID != 5 || msg.Text != "service unavailable" {
		t.Errorf("unexpected system message %+v", msg)
	}

	recovered.Store(true)
	bus.Dispatch(action.Action{Name: action.RetryTileLoad, Payload: action.TileRef{TileID: 6}})
	testutil.NoMore(t, results, 30*time.Millisecond)
	bus.Dispatch(action.Action{Name: action.RetryTileLoad, Payload: action.TileRef{TileID: 5}})
	if a := testutil.Next(t, results); a.Error != nil {
		t.Fatalf("retry failed: %v", a.Error)
	}
	if s := m.State(); s.Phase != tiles.PhaseReady || s.Data[0].Forms[0].Ratio != 1 {
		t.Errorf("unexpected state after retry %+v", s)
	}
}
