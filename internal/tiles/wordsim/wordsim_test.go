package wordsim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/backends/datamuse"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/testutil"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

func TestDatamuseScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/words" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Query().Get("ml") == "house":
			_, _ = w.Write([]byte(`[{"word": "home", "score": 900}, {"word": "building", "score": 850}]`))
		case r.URL.Query().Get("sl") == "house":
			_, _ = w.Write([]byte(`[{"word": "mouse", "score": 100}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	registry := backends.NewRegistry(backends.Env{Client: backends.NewClient(nil, nil, nil, nil)})
	datamuse.Register(registry)
	bus := testutil.StartBus(t)
	m, err := New(tiles.Env{TileID: 3, Name: "sim", Registry: registry}, Conf{
		Conf:       tiles.Conf{API: backends.APIConf{Type: backends.VendorDatamuse, URL: srv.URL}},
		MaxResults: 5,
	})
	require.NoError(t, err)
	bus.Register(m)
	results := testutil.Results(bus, 3)
	changes := testutil.Named(bus, action.SubqChanged)

	bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))
	a := testutil.Next(t, results)
	require.NoError(t, a.Error)

	items := a.Payload.(action.TileLoaded).Body.(action.SubqueryList).Items
	require.Len(t, items, 1)
	require.Equal(t, 3, items[0].TileID)
	require.Len(t, items[0].Subqueries, 2)
	require.Equal(t, "home", items[0].Subqueries[0].Value)
	require.Equal(t, backends.InteractionID("home"), items[0].Subqueries[0].InteractionID)
	require.Nil(t, items[0].Subqueries[0].Context)
	testutil.NoMore(t, changes, 30*time.Millisecond)

	bus.Dispatch(action.Action{Name: action.TileTweakParam, Payload: action.TweakParam{TileID: 3, Param: ParamOperation, Value: OpSoundsLike}})
	a = testutil.Next(t, results)
	require.NoError(t, a.Error)
	p := testutil.Next(t, changes).Payload.(action.SubqueryPayload)
	require.Equal(t, "mouse", p.Subqueries[0].Value)
	require.Equal(t, OpSoundsLike, m.State().Operation)
}

func TestInvalidTweakRejected(t *testing.T) {
	api := &testutil.WordSimAPI{}
	bus := testutil.StartBus(t)
	m, err := New(tiles.Env{TileID: 3, Name: "sim", Registry: testutil.Registry(map[string]interface{}{"sim": api})},
		Conf{Conf: tiles.Conf{API: testutil.APIConf("sim")}})
	require.NoError(t, err)
	bus.Register(m)
	results := testutil.Results(bus, 3)
	messages := testutil.Named(bus, action.AddSystemMessage)

	bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Single, Matches: testutil.Matches("house")}))
	testutil.Next(t, results)
	require.Equal(t, 1, api.Calls())

	bus.Dispatch(action.Action{Name: action.TileTweakParam, Payload: action.TweakParam{TileID: 3, Param: ParamOperation, Value: "rhymes"}})
	msg := testutil.Next(t, messages).Payload.(action.SystemMessage)
	require.Equal(t, 3, msg.TileID)
	testutil.NoMore(t, results, 30*time.Millisecond)
	require.Equal(t, 1, api.Calls())
	require.Equal(t, OpMeansLike, m.State().Operation)
}

func TestCmpQuerySlots(t *testing.T) {
	api := &testutil.WordSimAPI{}
	api.Respond = func(ctx context.Context, args backends.Args) (*backends.WordSimApiResponse, error) {
		if args.Get("ml") == "cat" {
			return nil, errors.New(errors.HTTPStatus, "server returned 503", nil)
		}
		return &backends.WordSimApiResponse{Words: []backends.WordSimWord{{Word: "puppy", Score: 1}}}, nil
	}
	bus := testutil.StartBus(t)
	m, err := New(tiles.Env{TileID: 3, Name: "sim", Registry: testutil.Registry(map[string]interface{}{"sim": api})},
		Conf{Conf: tiles.Conf{API: testutil.APIConf("sim")}})
	require.NoError(t, err)
	bus.Register(m)
	results := testutil.Results(bus, 3)

	bus.Dispatch(testutil.Request(1, action.QueryRequest{QueryType: query.Cmp, Matches: testutil.Matches("dog", "cat")}))
	a := testutil.Next(t, results)
	require.NoError(t, a.Error)
	data := m.State().Data
	require.Len(t, data, 2)
	require.Equal(t, "puppy", data[0].Words[0].Word)
	require.Equal(t, "server returned 503", data[1].Error)
}

func TestNewRejectsUnknownOperation(t *testing.T) {
	_, err := New(tiles.Env{Name: "sim", Registry: testutil.Registry(map[string]interface{}{"sim": &testutil.WordSimAPI{}})},
		Conf{Conf: tiles.Conf{API: testutil.APIConf("sim")}, Operation: "rhymes"})
	require.True(t, errors.Is(err, errors.ConfigInvalid), "got %v", err)
}
