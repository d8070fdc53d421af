package fcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

func newAPI(t *testing.T, url string) *ConcAPI {
	t.Helper()
	api, err := NewConcAPI(
		backends.Env{Client: backends.NewClient(nil, nil, nil, nil)},
		backends.APIConf{Type: backends.VendorFCS, URL: url},
	)
	require.NoError(t, err)
	return api
}

func xmlServer(t *testing.T, fixture string) *httptest.Server {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", fixture))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStateToArgs(t *testing.T) {
	api := newAPI(t, "http://fcs.test/sru")
	m := query.QueryMatch{Word: "house", Lemma: "house"}
	q := backends.ConcQuery{CorpName: "hdl:11858/00-097C", PageSize: 10, Page: 2}

	first, err := api.StateToArgs(q, m, 0, backends.ArgsContext{})
	require.NoError(t, err)
	second, err := api.StateToArgs(q, m, 0, backends.ArgsContext{})
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("StateToArgs not deterministic:\n%s", diff)
	}
	require.Equal(t, "searchRetrieve", first.Get("operation"))
	require.Equal(t, `"house"`, first.Get("query"))
	require.Equal(t, "11", first.Get("startRecord"))
	require.Equal(t, "hdl:11858/00-097C", first.Get("x-fcs-context"))

	_, err = api.StateToArgs(q, query.QueryMatch{Word: "white house"}, 0, backends.ArgsContext{})
	require.True(t, errors.Is(err, errors.ArgsMapping))
}

func TestCall(t *testing.T) {
	srv := xmlServer(t, "search_house.xml")
	api := newAPI(t, srv.URL)
	args, err := api.StateToArgs(backends.ConcQuery{}, query.QueryMatch{Word: "house"}, 0, backends.ArgsContext{})
	require.NoError(t, err)

	resp, err := api.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, "house", resp.Query)
	require.Equal(t, "house", resp.ConcPersistenceID)
	require.Equal(t, 2, resp.ConcSize)

	want := []backends.Line{
		{
			Left:     []backends.Token{{Str: "the"}, {Str: "old"}},
			Kwic:     []backends.Token{{Str: "house"}},
			Right:    []backends.Token{{Str: "was"}, {Str: "empty"}},
			Metadata: []backends.MetadataItem{{Label: "ref", Value: "https://repo.example.org/doc/1"}},
		},
		{
			Left:   []backends.Token{},
			Kwic:   []backends.Token{{Str: "house"}},
			Right:  []backends.Token{{Str: "prices"}, {Str: "rose"}},
			Toknum: 1,
		},
	}
	if diff := cmp.Diff(want, resp.Lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestCallDiagnostic(t *testing.T) {
	srv := xmlServer(t, "diagnostic.xml")
	api := newAPI(t, srv.URL)

	_, err := api.Call(context.Background(), backends.NewArgs("").Set("query", `"house`))
	require.True(t, errors.Is(err, errors.AdapterError), "got %v", err)
	require.Contains(t, err.Error(), "unbalanced quotes")
}

func TestCallMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>maintenance"))
	}))
	defer srv.Close()

	_, err := newAPI(t, srv.URL).Call(context.Background(), backends.NewArgs("").Set("query", `"house"`))
	require.True(t, errors.Is(err, errors.MalformedResponse), "got %v", err)
}

func TestGetSourceDescription(t *testing.T) {
	srv := xmlServer(t, "explain.xml")
	details, err := newAPI(t, srv.URL).GetSourceDescription(context.Background(), 3, "en", "hdl:11858/00-097C")
	require.NoError(t, err)
	require.Equal(t, 3, details.TileID)
	require.Equal(t, "Example Reference Corpus", details.Title)
	require.Equal(t, "Balanced written corpus.", details.Description)
	require.Equal(t, "Example Institute", details.Author)
}
