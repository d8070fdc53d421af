package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

const searchFixture = `{
  "hits": {
    "total": {"value": 2},
    "hits": [
      {"_id": "d1", "_score": 7.5, "_source": {"title": "Housing Report", "year": 2019}},
      {"_id": "d2", "_score": 3.25, "_source": {}}
    ]
  }
}`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/docs/_search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req searchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		if mm, ok := req.Query["multi_match"].(map[string]interface{}); !ok || mm["query"] != "house" {
			t.Errorf("unexpected query %v", req.Query)
		}
		_, _ = w.Write([]byte(searchFixture))
	}))
	defer srv.Close()

	api, err := NewDocsAPI(backends.Env{Client: backends.NewClient(nil, nil, nil, nil)}, backends.APIConf{URL: srv.URL})
	require.NoError(t, err)

	q := backends.DocsQuery{
		CorpName:     "docs",
		SrchAttrs:    []string{"text", "title"},
		DisplayAttrs: []string{"title", "year"},
		MaxNumItems:  5,
	}
	args, err := api.StateToArgs(q, query.QueryMatch{Word: "houses", Lemma: "house"}, "")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, args.Method)

	resp, err := api.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, []backends.DocItem{
		{Name: "Housing Report, 2019", Score: 7.5},
		{Name: "d2", Score: 3.25},
	}, resp.Data)
}

func TestStateToArgsErrors(t *testing.T) {
	api, err := NewDocsAPI(backends.Env{Client: backends.NewClient(nil, nil, nil, nil)}, backends.APIConf{URL: "http://es.test"})
	require.NoError(t, err)
	m := query.QueryMatch{Word: "house"}

	_, err = api.StateToArgs(backends.DocsQuery{SrchAttrs: []string{"text"}}, m, "")
	require.True(t, errors.Is(err, errors.ArgsMapping))
	_, err = api.StateToArgs(backends.DocsQuery{CorpName: "docs"}, m, "")
	require.True(t, errors.Is(err, errors.ArgsMapping))
}

func TestSearchErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index [docs]"}}`))
	}))
	defer srv.Close()
	api, err := NewDocsAPI(backends.Env{Client: backends.NewClient(nil, nil, nil, nil)}, backends.APIConf{URL: srv.URL})
	require.NoError(t, err)

	args, err := api.StateToArgs(backends.DocsQuery{CorpName: "docs", SrchAttrs: []string{"text"}}, query.QueryMatch{Word: "house"}, "")
	require.NoError(t, err)
	_, err = api.Call(context.Background(), args)
	require.True(t, errors.Is(err, errors.AdapterError), "got %v", err)
}
