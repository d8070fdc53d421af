// Package lcc adapts the Leipzig Corpora Collection REST API
// (co-occurrences and corpus listing).
package lcc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Register adds the LCC capabilities to r.
func Register(r *backends.Registry) {
	r.Register(backends.VendorLCC, backends.CapCollocations, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewCollAPI(env, conf)
	})
	r.Register(backends.VendorLCC, backends.CapSourceInfo, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewCollAPI(env, conf)
	})
}

type wordInfo struct {
	ID   int64  `json:"id"`
	Word string `json:"word"`
}

type cooccurrence struct {
	W1           wordInfo `json:"w1"`
	W2           wordInfo `json:"w2"`
	Freq         int      `json:"freq"`
	Significance float64  `json:"significance"`
}

type corpusItem struct {
	ID                int64  `json:"id"`
	CorpusName        string `json:"corpusName"`
	Language          string `json:"language"`
	NumberOfSentences int64  `json:"numberOfSentences"`
	NumberOfTokens    int64  `json:"numberOfTokens"`
	Description       string `json:"description"`
}

// CollAPI finds co-occurrences of a word form. Collocations are computed by
// the service from its own corpus, so an upstream concordance is not needed.
type CollAPI struct {
	client *backends.Client
	conf   backends.APIConf
	logger *logging.Logger
}

// NewCollAPI creates the adapter.
func NewCollAPI(env backends.Env, conf backends.APIConf) (*CollAPI, error) {
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
	return &CollAPI{
		client: env.Client,
		conf:   conf,
		logger: logger.With(map[string]interface{}{"vendor": backends.VendorLCC}),
	}, nil
}

func (a *CollAPI) SupportsLeftRightContext() bool { return true }

func (a *CollAPI) fetch(ctx context.Context, args backends.Args, dst interface{}) error {
	return a.client.FetchJSON(ctx, backends.Request{
		Vendor:  backends.VendorLCC,
		BaseURL: a.conf.URL,
		Args:    args,
		Headers: a.conf.Headers,
		NoCache: a.conf.NoCache,
	}, dst)
}

// StateToArgs implements backends.CollAPI. The window type selects the
// service operation, its size is not adjustable.
func (a *CollAPI) StateToArgs(q backends.CollQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	if q.CorpName == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "missing corpus name")
	}
	if m.Word == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "empty query")
	}
	var op string
	switch q.CtxType {
	case backends.CtxLeft:
		op = "leftNeighbours"
	case backends.CtxRight:
		op = "rightNeighbours"
	case backends.CtxLeftRight, "":
		op = "cooccurrences"
	default:
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "unsupported context type %q", q.CtxType)
	}
	limit := q.MaxItems
	if limit <= 0 {
		limit = 10
	}
	return backends.NewArgs(fmt.Sprintf("cooccurrences/%s/%s/%s", q.CorpName, op, m.Word)).
		Set("limit", strconv.Itoa(limit)).
		Set("minSignificance", strconv.Itoa(max(q.MinFreq, 0))), nil
}

// Call implements backends.DataAPI.
func (a *CollAPI) Call(ctx context.Context, args backends.Args) (*backends.CollApiResponse, error) {
	var items []cooccurrence
	if err := a.fetch(ctx, args, &items); err != nil {
		return nil, err
	}
	ans := &backends.CollApiResponse{
		CollHeadings: []backends.CollHeading{{Label: "Significance", Ident: "sig"}},
		Data:         make([]backends.CollItem, len(items)),
	}
	for i, item := range items {
		ans.Data[i] = backends.CollItem{
			Str:           item.W2.Word,
			Stats:         []float64{item.Significance},
			Freq:          item.Freq,
			InteractionID: backends.InteractionID(item.W2.Word),
		}
	}
	return ans, nil
}

// Backlink points to the Wortschatz portal when a web URL is configured.
func (a *CollAPI) Backlink(args backends.Args) *backends.Backlink {
	return backends.NewBacklink("Wortschatz", a.conf.WebURL, "", nil)
}

// GetSourceDescription implements backends.SourceInfoProvider.
func (a *CollAPI) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	var corpora []corpusItem
	if err := a.fetch(ctx, backends.NewArgs("corpora/availableCorpora"), &corpora); err != nil {
		return nil, err
	}
	for _, c := range corpora {
		if c.CorpusName != corpname {
			continue
		}
		return &backends.SourceDetails{
			TileID:      tileID,
			Title:       c.CorpusName,
			Description: c.Description,
			Href:        a.conf.WebURL,
			CorpusName:  c.CorpusName,
			Size:        c.NumberOfTokens,
		}, nil
	}
	return nil, errors.Newf(errors.NotFound, "corpus %s not found", corpname)
}
