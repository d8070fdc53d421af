// Package datamuse adapts the Datamuse word-finding API.
package datamuse

import (
	"context"
	"fmt"
	"strconv"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Word similarity operations
const (
	OpMeansLike  = "ml"
	OpSoundsLike = "sl"
)

// Register adds the Datamuse capabilities to r.
func Register(r *backends.Registry) {
	factory := func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewWordSimAPI(env, conf)
	}
	r.Register(backends.VendorDatamuse, backends.CapWordSim, factory)
	r.Register(backends.VendorDatamuse, backends.CapSourceInfo, factory)
}

type wordItem struct {
	Word  string   `json:"word"`
	Score float64  `json:"score"`
	Tags  []string `json:"tags"`
}

// WordSimAPI finds words with a similar meaning or sound.
type WordSimAPI struct {
	client *backends.Client
	conf   backends.APIConf
	logger *logging.Logger
}

// NewWordSimAPI creates the adapter.
func NewWordSimAPI(env backends.Env, conf backends.APIConf) (*WordSimAPI, error) {
	if conf.URL == "" {
		return nil, fmt.Errorf("missing apiURL")
	}
	if env.Client == nil {
		return nil, fmt.Errorf("missing HTTP client")
	}
	logger := env.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &WordSimAPI{
		client: env.Client,
		conf:   conf,
		logger: logger.With(map[string]interface{}{"vendor": backends.VendorDatamuse}),
	}, nil
}

// StateToArgs implements backends.WordSimAPI. Dictionary words are looked
// up by lemma, other words as typed.
func (a *WordSimAPI) StateToArgs(q backends.WordSimQuery, m query.QueryMatch) (backends.Args, error) {
	word := m.Lemma
	if m.IsNonDict || word == "" {
		word = m.Word
	}
	if word == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "empty query")
	}
	op := q.Operation
	if op == "" {
		op = OpMeansLike
	}
	if op != OpMeansLike && op != OpSoundsLike {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "unsupported operation %q", op)
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	return backends.NewArgs("words").
		Set(op, word).
		Set("max", strconv.Itoa(maxResults)), nil
}

// Call implements backends.DataAPI.
func (a *WordSimAPI) Call(ctx context.Context, args backends.Args) (*backends.WordSimApiResponse, error) {
	var items []wordItem
	err := a.client.FetchJSON(ctx, backends.Request{
		Vendor:  backends.VendorDatamuse,
		BaseURL: a.conf.URL,
		Args:    args,
		Headers: a.conf.Headers,
		NoCache: a.conf.NoCache,
	}, &items)
	if err != nil {
		return nil, err
	}
	ans := &backends.WordSimApiResponse{Words: make([]backends.WordSimWord, len(items))}
	for i, item := range items {
		ans.Words[i] = backends.WordSimWord{
			Word:          item.Word,
			Score:         item.Score,
			InteractionID: backends.InteractionID(item.Word),
		}
	}
	return ans, nil
}

// GetSourceDescription implements backends.SourceInfoProvider. Datamuse
// has no metadata endpoint.
func (a *WordSimAPI) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	href := a.conf.WebURL
	if href == "" {
		href = "https://www.datamuse.com/api/"
	}
	return &backends.SourceDetails{
		TileID:      tileID,
		Title:       "Datamuse API",
		Description: "A word-finding query engine",
		Href:        href,
	}, nil
}
