package datamuse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

func newAPI(t *testing.T, url string) *WordSimAPI {
	t.Helper()
	api, err := NewWordSimAPI(backends.Env{Client: backends.NewClient(nil, nil, nil, nil)}, backends.APIConf{URL: url})
	require.NoError(t, err)
	return api
}

func TestStateToArgs(t *testing.T) {
	api := newAPI(t, "http://datamuse.test")

	tests := []struct {
		name    string
		q       backends.WordSimQuery
		m       query.QueryMatch
		wantKey string
		wantVal string
		wantErr bool
	}{
		{"lemma", backends.WordSimQuery{}, query.QueryMatch{Word: "houses", Lemma: "house"}, "ml", "house", false},
		{"non-dict word", backends.WordSimQuery{}, query.NonDictMatch("housy"), "ml", "housy", false},
		{"sounds like", backends.WordSimQuery{Operation: OpSoundsLike}, query.QueryMatch{Word: "house", Lemma: "house"}, "sl", "house", false},
		{"bad op", backends.WordSimQuery{Operation: "rhymes"}, query.QueryMatch{Word: "house"}, "", "", true},
		{"empty", backends.WordSimQuery{}, query.QueryMatch{}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := api.StateToArgs(tt.q, tt.m)
			if tt.wantErr {
				require.True(t, errors.Is(err, errors.ArgsMapping), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantVal, args.Get(tt.wantKey))
			require.Equal(t, "20", args.Get("max"))
		})
	}
}

func TestCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/words" || r.URL.Query().Get("ml") != "house" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`[{"word":"home","score":49521,"tags":["syn","n"]},{"word":"building","score":40212}]`))
	}))
	defer srv.Close()

	api := newAPI(t, srv.URL)
	args, err := api.StateToArgs(backends.WordSimQuery{MaxResults: 2}, query.QueryMatch{Word: "house", Lemma: "house"})
	require.NoError(t, err)
	resp, err := api.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, []backends.WordSimWord{
		{Word: "home", Score: 49521, InteractionID: backends.InteractionID("home")},
		{Word: "building", Score: 40212, InteractionID: backends.InteractionID("building")},
	}, resp.Words)

	details, err := api.GetSourceDescription(context.Background(), 4, "en", "")
	require.NoError(t, err)
	require.Equal(t, 4, details.TileID)
}
