package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Vendor is the vendor id mock adapters are registered under.
const Vendor backends.VendorID = "mock"

// APIConf selects the mock registered as name in Registry.
func APIConf(name string) backends.APIConf {
	return backends.APIConf{Type: Vendor, URL: name}
}

// ByCapability lets one mock name serve a different adapter per
// capability, like a vendor instance providing several APIs.
type ByCapability map[backends.Capability]interface{}

// Registry creates a registry whose mock vendor hands out apis by the URL
// of the requested APIConf.
func Registry(apis map[string]interface{}) *backends.Registry {
	r := backends.NewRegistry(backends.Env{})
	for _, c := range []backends.Capability{
		backends.CapConcordance, backends.CapCollocations, backends.CapFrequencies,
		backends.CapWordSim, backends.CapMatchingDocs, backends.CapWordForms,
		backends.CapSourceInfo,
	} {
		capability := c
		r.Register(Vendor, capability, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
			api, ok := apis[conf.URL]
			if !ok {
				return nil, fmt.Errorf("no mock adapter named %q", conf.URL)
			}
			if byCap, isMulti := api.(ByCapability); isMulti {
				if api, ok = byCap[capability]; !ok {
					return nil, fmt.Errorf("mock adapter %q does not provide %s", conf.URL, capability)
				}
			}
			return api, nil
		})
	}
	return r
}

// Endpoint records calls and answers them with Respond. A nil Respond
// yields the zero response. Gate, when set, holds every call until it is
// closed (or the call context ends).
type Endpoint[Resp any] struct {
	Respond func(ctx context.Context, args backends.Args) (Resp, error)
	Gate    chan struct{}

	mu    sync.Mutex
	calls []backends.Args
}

// Call implements backends.DataAPI.
func (e *Endpoint[Resp]) Call(ctx context.Context, args backends.Args) (Resp, error) {
	e.mu.Lock()
	e.calls = append(e.calls, args)
	respond, gate := e.Respond, e.Gate
	e.mu.Unlock()

	var zero Resp
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	if respond == nil {
		return zero, nil
	}
	return respond(ctx, args)
}

// Calls returns the number of calls so far.
func (e *Endpoint[Resp]) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// CallArgs returns the args of all calls in call order.
func (e *Endpoint[Resp]) CallArgs() []backends.Args {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]backends.Args(nil), e.calls...)
}

// GetSourceDescription implements backends.SourceInfoProvider.
func (e *Endpoint[Resp]) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	return &backends.SourceDetails{TileID: tileID, Title: corpname, CorpusName: corpname}, nil
}

func matchCQL(m query.QueryMatch, gen backends.PosQueryGenerator) string {
	cql, err := backends.BuildCQL(m, gen)
	if err != nil {
		return ""
	}
	return cql
}

func backlink(path string, args backends.Args) *backends.Backlink {
	return backends.NewBacklink("mock", "http://mock.test", path, args.Query)
}

// ConcAPI is a mock concordance adapter.
type ConcAPI struct {
	Endpoint[*backends.ConcResponse]
	NoMultiWord bool
}

func (a *ConcAPI) SupportsLeftRightContext() bool { return true }
func (a *ConcAPI) SupportsMultiWordQueries() bool { return !a.NoMultiWord }

// StateToArgs implements backends.ConcAPI.
func (a *ConcAPI) StateToArgs(q backends.ConcQuery, m query.QueryMatch, queryIdx int, extra backends.ArgsContext) (backends.Args, error) {
	args := backends.NewArgs("conc").
		Set("corpname", q.CorpName).
		Set("queryIdx", strconv.Itoa(queryIdx)).
		Set("page", strconv.Itoa(max(q.Page, 1))).
		Set("pagesize", strconv.Itoa(q.PageSize)).
		Set("viewmode", string(q.ViewMode))
	if extra.ConcID != "" {
		args = args.Set("q", "~"+extra.ConcID)
	} else {
		args = args.Set("cql", matchCQL(m, q.PosQueryGenerator))
	}
	if extra.Filter != nil {
		args = args.Set("filter", extra.Filter.CQL).
			Set("filterCtx", fmt.Sprintf("%d:%d", extra.Filter.Left, extra.Filter.Right))
	}
	if q.OtherCorpname != "" {
		args = args.Set("align", q.OtherCorpname)
	}
	return args, nil
}

func (a *ConcAPI) Backlink(args backends.Args) *backends.Backlink { return backlink("view", args) }

// CollAPI is a mock collocation adapter.
type CollAPI struct {
	Endpoint[*backends.CollApiResponse]
}

func (a *CollAPI) SupportsLeftRightContext() bool { return true }

// StateToArgs implements backends.CollAPI.
func (a *CollAPI) StateToArgs(q backends.CollQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	from, to := q.CtxRange()
	return backends.NewArgs("coll").
		Set("corpname", q.CorpName).
		Set("q", "~"+concID).
		Set("cattr", q.Attr).
		Set("range", fmt.Sprintf("%d:%d", from, to)).
		Set("minfreq", strconv.Itoa(q.MinFreq)).
		Set("metrics", strings.Join(q.AppliedMetrics, ",")), nil
}

func (a *CollAPI) Backlink(args backends.Args) *backends.Backlink { return backlink("collx", args) }

// FreqAPI is a mock frequency adapter.
type FreqAPI struct {
	Endpoint[*backends.FreqResponse]
}

// StateToArgs implements backends.FreqAPI.
func (a *FreqAPI) StateToArgs(q backends.FreqQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	args := backends.NewArgs("freqs").
		Set("corpname", q.CorpName).
		Set("fcrit", q.Fcrit).
		Set("flimit", strconv.Itoa(q.FLimit))
	if concID != "" {
		return args.Set("q", "~"+concID), nil
	}
	return args.Set("cql", matchCQL(m, q.PosQueryGenerator)), nil
}

func (a *FreqAPI) Backlink(args backends.Args) *backends.Backlink { return backlink("freqs", args) }

// WordSimAPI is a mock word similarity adapter.
type WordSimAPI struct {
	Endpoint[*backends.WordSimApiResponse]
}

// StateToArgs implements backends.WordSimAPI.
func (a *WordSimAPI) StateToArgs(q backends.WordSimQuery, m query.QueryMatch) (backends.Args, error) {
	return backends.NewArgs("words").
		Set(q.Operation, m.Word).
		Set("max", strconv.Itoa(q.MaxResults)), nil
}

// DocsAPI is a mock matching-documents adapter.
type DocsAPI struct {
	Endpoint[*backends.DocsResponse]
}

// StateToArgs implements backends.MatchingDocsAPI.
func (a *DocsAPI) StateToArgs(q backends.DocsQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	return backends.NewArgs("docs").
		Set("corpname", q.CorpName).
		Set("q", "~"+concID).
		Set("attrs", strings.Join(q.SrchAttrs, ",")).
		Set("max", strconv.Itoa(q.MaxNumItems)), nil
}

// FormsAPI is a mock word-forms adapter.
type FormsAPI struct {
	Endpoint[*backends.WordFormsResponse]
}

// StateToArgs implements backends.WordFormsAPI.
func (a *FormsAPI) StateToArgs(q backends.FormsQuery, m query.QueryMatch) (backends.Args, error) {
	return backends.NewArgs("forms").
		Set("corpname", q.CorpName).
		Set("lemma", m.Lemma).
		Set("limit", strconv.Itoa(q.Limit)), nil
}

// Match returns a current dictionary match for word.
func Match(word string) query.QueryMatch {
	return query.QueryMatch{Word: word, Lemma: word, IsCurrent: true, IPM: 10, FLevel: 3}
}

// Matches builds a single-variant match set, one slot per word.
func Matches(words ...string) query.MatchSet {
	ans := make(query.MatchSet, len(words))
	for i, w := range words {
		ans[i] = []query.QueryMatch{Match(w)}
	}
	return ans
}
