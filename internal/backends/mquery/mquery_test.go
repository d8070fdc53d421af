package mquery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

func newEnv() backends.Env {
	return backends.Env{Client: backends.NewClient(nil, nil, nil, nil)}
}

func houseMatch() query.QueryMatch {
	return query.QueryMatch{Word: "house", Lemma: "house", IsCurrent: true}
}

const concFixture = `{
  "lines": [
    {
      "text": [
        {"word": "the", "strong": false},
        {"word": "old", "strong": false},
        {"word": "house", "strong": true},
        {"word": "stood", "strong": false}
      ],
      "props": {"doc.title": "Rural Life", "doc.year": "1961"}
    }
  ],
  "concSize": 42,
  "ipm": 3.5,
  "resultType": "conc"
}`

func TestConcStateToArgs(t *testing.T) {
	api, err := NewConcAPI(newEnv(), backends.APIConf{URL: "http://mquery.test"})
	require.NoError(t, err)

	q := backends.ConcQuery{
		CorpName:      "syn v2",
		PageSize:      10,
		Page:          3,
		LeftCtx:       4,
		RightCtx:      6,
		MetadataAttrs: []backends.MetadataAttr{{Value: "doc.title", Label: "Title"}},
	}
	first, err := api.StateToArgs(q, houseMatch(), 0, backends.ArgsContext{})
	require.NoError(t, err)
	second, err := api.StateToArgs(q, houseMatch(), 0, backends.ArgsContext{})
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("StateToArgs not deterministic:\n%s", diff)
	}

	require.Equal(t, "concordance/syn v2", first.Path)
	require.Equal(t, `[word="house"]`, first.Get("q"))
	require.Equal(t, "20", first.Get("fromLine"))
	require.Equal(t, "6", first.Get("contextWidth"))
	require.Equal(t, []string{"doc.title"}, first.Query["showProps"])

	_, err = api.StateToArgs(q, houseMatch(), 0, backends.ArgsContext{ConcID: "x", Filter: &backends.ConcFilter{CQL: "[]"}})
	require.True(t, errors.Is(err, errors.ArgsMapping))
}

func TestConcCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/concordance/susanne" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(concFixture))
	}))
	defer srv.Close()

	api, err := NewConcAPI(newEnv(), backends.APIConf{URL: srv.URL})
	require.NoError(t, err)
	q := backends.ConcQuery{CorpName: "susanne", MetadataAttrs: []backends.MetadataAttr{{Value: "doc.title"}}}
	args, err := api.StateToArgs(q, houseMatch(), 0, backends.ArgsContext{})
	require.NoError(t, err)

	resp, err := api.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, "susanne", resp.CorpName)
	require.Equal(t, `[word="house"]`, resp.ConcPersistenceID)
	require.Equal(t, 42, resp.ConcSize)
	require.Len(t, resp.Lines, 1)

	want := backends.Line{
		Left:     []backends.Token{{Str: "the"}, {Str: "old"}},
		Kwic:     []backends.Token{{Str: "house"}},
		Right:    []backends.Token{{Str: "stood"}},
		Metadata: []backends.MetadataItem{{Label: "doc.title", Value: "Rural Life"}},
	}
	if diff := cmp.Diff(want, resp.Lines[0]); diff != "" {
		t.Errorf("line mismatch (-want +got):\n%s", diff)
	}
}

func TestCollUsesUpstreamQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"colls":[{"word":"old","score":9.5,"freq":14}],"measure":"logDice"}`))
	}))
	defer srv.Close()

	api, err := NewCollAPI(newEnv(), backends.APIConf{URL: srv.URL})
	require.NoError(t, err)
	q := backends.CollQuery{CorpName: "susanne", CtxType: backends.CtxLeft, CtxSize: 3}
	args, err := api.StateToArgs(q, houseMatch(), `[lemma="house"]`)
	require.NoError(t, err)
	require.Equal(t, `[lemma="house"]`, args.Get("q"))
	require.Equal(t, "3", args.Get("srchLeft"))
	require.Equal(t, "-1", args.Get("srchRight"))
	require.Equal(t, "logDice", args.Get("measure"))

	resp, err := api.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, []backends.CollHeading{{Label: "logDice", Ident: "logDice"}}, resp.CollHeadings)
	require.Equal(t, []float64{9.5}, resp.Data[0].Stats)

	q.SortByMetric = "s"
	_, err = api.StateToArgs(q, houseMatch(), "")
	require.True(t, errors.Is(err, errors.ArgsMapping))
}

func TestFormsAndServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("attr") == "broken" {
			_, _ = w.Write([]byte(`{"error":"attribute not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"freqs":[{"word":"house","freq":3},{"word":"houses","freq":1}]}`))
	}))
	defer srv.Close()
	conf := backends.APIConf{URL: srv.URL}

	forms, err := NewFormsAPI(newEnv(), conf)
	require.NoError(t, err)
	args, err := forms.StateToArgs(backends.FormsQuery{CorpName: "susanne"}, houseMatch())
	require.NoError(t, err)
	resp, err := forms.Call(context.Background(), args)
	require.NoError(t, err)
	require.InDelta(t, 0.75, resp.Forms[0].Ratio, 1e-9)

	freq, err := NewFreqAPI(newEnv(), conf)
	require.NoError(t, err)
	fargs, err := freq.StateToArgs(backends.FreqQuery{CorpName: "susanne", Fcrit: "broken 0"}, houseMatch(), "")
	require.NoError(t, err)
	_, err = freq.Call(context.Background(), fargs)
	require.True(t, errors.Is(err, errors.AdapterError), "got %v", err)
}

func TestFcritAttr(t *testing.T) {
	tests := map[string]string{
		"doc.genre 0": "doc.genre",
		"word/i 0":    "word",
		"lemma":       "lemma",
		"tag/e 0~0>0": "tag",
	}
	for in, want := range tests {
		if got := fcritAttr(in); got != want {
			t.Errorf("fcritAttr(%q) = %q, want %q", in, got, want)
		}
	}
}
