package kontext

import (
	"context"
	"strconv"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// collMetrics are the association measures KonText understands.
var collMetrics = map[string]string{
	"t": "T-score",
	"m": "MI",
	"3": "MI3",
	"l": "log likelihood",
	"s": "min. sensitivity",
	"d": "logDice",
	"p": "MI.log_f",
	"r": "relative freq.",
}

type collHead struct {
	N string `json:"n"`
	S string `json:"s"`
}

type collStat struct {
	S string `json:"s"`
}

type collItem struct {
	Str     string     `json:"str"`
	Freq    int        `json:"freq"`
	Stats   []collStat `json:"Stats"`
	PFilter string     `json:"pfilter"`
	NFilter string     `json:"nfilter"`
}

// CollResponse is the KonText collx document.
type CollResponse struct {
	Head              []collHead `json:"Head"`
	Items             []collItem `json:"Items"`
	ConcPersistenceID string     `json:"conc_persistence_op_id"`
}

// CollAPI computes collocations over a stored KonText concordance.
type CollAPI struct {
	*base
}

// NewCollAPI creates the adapter.
func NewCollAPI(env backends.Env, conf backends.APIConf) (*CollAPI, error) {
	b, err := newBase(env, conf)
	if err != nil {
		return nil, err
	}
	return &CollAPI{base: b}, nil
}

func (a *CollAPI) SupportsLeftRightContext() bool { return true }

// StateToArgs implements backends.CollAPI.
func (a *CollAPI) StateToArgs(q backends.CollQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	if concID == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "collocations need a concordance")
	}
	from, to := q.CtxRange()
	attr := q.Attr
	if attr == "" {
		attr = "word"
	}
	maxItems := q.MaxItems
	if maxItems <= 0 {
		maxItems = 10
	}
	args := backends.NewArgs("collx").
		Set("corpname", q.CorpName).
		Set("q", concRef(concID)).
		Set("cattr", attr).
		Set("cfromw", itoa(from)).
		Set("ctow", itoa(to)).
		Set("cminfreq", itoa(max(q.MinFreq, 1))).
		Set("cminbgr", itoa(max(q.MinLocalFreq, 1))).
		Set("citemsperpage", itoa(maxItems)).
		Set("collpage", "1")
	for _, metric := range q.AppliedMetrics {
		if _, ok := collMetrics[metric]; !ok {
			return backends.Args{}, errors.Newf(errors.ArgsMapping, "unknown collocation metric %q", metric)
		}
		args = args.Add("cbgrfns", metric)
	}
	if q.SortByMetric != "" {
		if _, ok := collMetrics[q.SortByMetric]; !ok {
			return backends.Args{}, errors.Newf(errors.ArgsMapping, "unknown collocation metric %q", q.SortByMetric)
		}
		args = args.Set("csortfn", q.SortByMetric)
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *CollAPI) Call(ctx context.Context, args backends.Args) (*backends.CollApiResponse, error) {
	var resp CollResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	ans := &backends.CollApiResponse{
		ConcID: resp.ConcPersistenceID,
		Data:   make([]backends.CollItem, 0, len(resp.Items)),
	}
	if ans.ConcID == "" {
		ans.ConcID = trimConcRef(args.Get("q"))
	}
	for _, h := range resp.Head {
		if h.S == "" || h.S == "freq" {
			continue
		}
		ans.CollHeadings = append(ans.CollHeadings, backends.CollHeading{Label: h.N, Ident: h.S})
	}
	for _, item := range resp.Items {
		stats := make([]float64, 0, len(item.Stats))
		for _, s := range item.Stats {
			v, err := strconv.ParseFloat(s.S, 64)
			if err != nil {
				return nil, errors.New(errors.MalformedResponse, "invalid collocation statistic", err)
			}
			stats = append(stats, v)
		}
		ans.Data = append(ans.Data, backends.CollItem{
			Str:           item.Str,
			Stats:         stats,
			Freq:          item.Freq,
			PFilter:       item.PFilter,
			NFilter:       item.NFilter,
			InteractionID: backends.InteractionID(item.Str),
		})
	}
	return ans, nil
}

// Backlink points to the collocation view of KonText.
func (a *CollAPI) Backlink(args backends.Args) *backends.Backlink {
	return a.backlink("KonText", "collx", args)
}

func trimConcRef(q string) string {
	if len(q) > 0 && q[0] == '~' {
		return q[1:]
	}
	return q
}
