// Package colloc implements the collocation tile. It computes collocates
// over the concordance of the tile it waits for and publishes them as
// sub-queries for tiles reading them.
package colloc

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "CollocTile"

// Tweak parameters
const (
	ParamCtxType = "ctxType"
	ParamCtxSize = "ctxSize"
	ParamMinFreq = "minFreq"
)

const maxCtxSize = 10

// Conf configures a collocation tile.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	CorpName       string   `json:"corpname" mapstructure:"corpname"`
	Attr           string   `json:"cattr" mapstructure:"cattr"`
	CtxType        string   `json:"ctxType,omitempty" mapstructure:"ctxType"`
	CtxSize        int      `json:"ctxSize,omitempty" mapstructure:"ctxSize"`
	MinFreq        int      `json:"minFreq,omitempty" mapstructure:"minFreq"`
	MinLocalFreq   int      `json:"minLocalFreq,omitempty" mapstructure:"minLocalFreq"`
	AppliedMetrics []string `json:"appliedMetrics,omitempty" mapstructure:"appliedMetrics"`
	SortByMetric   string   `json:"sortByMetric,omitempty" mapstructure:"sortByMetric"`
	MaxItems       int      `json:"maxItems,omitempty" mapstructure:"maxItems"`
}

// Result holds the collocates of one query slot.
type Result struct {
	QueryID  int                    `json:"queryId"`
	ConcID   string                 `json:"concId"`
	Heading  []backends.CollHeading `json:"heading"`
	Data     []backends.CollItem    `json:"data"`
	Error    string                 `json:"error,omitempty"`
	Backlink *backends.Backlink     `json:"backlink,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	CorpName       string         `json:"corpname"`
	Attr           string         `json:"cattr"`
	CtxType        string         `json:"ctxType"`
	CtxSize        int            `json:"ctxSize"`
	MinFreq        int            `json:"minFreq"`
	MinLocalFreq   int            `json:"minLocalFreq"`
	AppliedMetrics []string       `json:"appliedMetrics,omitempty"`
	SortByMetric   string         `json:"sortByMetric,omitempty"`
	MaxItems       int            `json:"maxItems"`
	QueryType      query.Type     `json:"queryType"`
	Matches        query.MatchSet `json:"-"`
	Results        []Result       `json:"results"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

func (s State) query() backends.CollQuery {
	return backends.CollQuery{
		CorpName:       s.CorpName,
		Attr:           s.Attr,
		CtxType:        s.CtxType,
		CtxSize:        s.CtxSize,
		MinFreq:        s.MinFreq,
		MinLocalFreq:   s.MinLocalFreq,
		AppliedMetrics: s.AppliedMetrics,
		SortByMetric:   s.SortByMetric,
		MaxItems:       s.MaxItems,
	}
}

// Model is the collocation tile model.
type Model struct {
	*tiles.Base[State]
	api  backends.CollAPI
	deps *tiles.Resolver
}

// Create decodes raw and creates the model.
func Create(env tiles.Env, raw map[string]interface{}) (tiles.Model, error) {
	var conf Conf
	if err := tiles.DecodeConf(raw, &conf); err != nil {
		return nil, err
	}
	return New(env, conf)
}

// New creates the model. The tile must wait for a concordance tile.
func New(env tiles.Env, conf Conf) (*Model, error) {
	if len(env.WaitFor) == 0 {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: collocations need a concordance tile to wait for", env.Name)
	}
	api, err := env.Registry.CollAPI(conf.API)
	if err != nil {
		return nil, err
	}
	initial := State{
		CorpName:       conf.CorpName,
		Attr:           conf.Attr,
		CtxType:        conf.CtxType,
		CtxSize:        conf.CtxSize,
		MinFreq:        conf.MinFreq,
		MinLocalFreq:   conf.MinLocalFreq,
		AppliedMetrics: conf.AppliedMetrics,
		SortByMetric:   conf.SortByMetric,
		MaxItems:       conf.MaxItems,
	}
	if initial.CtxType == "" {
		initial.CtxType = backends.CtxLeftRight
	}
	if initial.CtxSize <= 0 {
		initial.CtxSize = 3
	}
	if initial.MaxItems <= 0 {
		initial.MaxItems = 10
	}
	if _, err := setParam(initial, ParamCtxType, initial.CtxType, api.SupportsLeftRightContext()); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "tile "+env.Name, err)
	}
	m := &Model{
		Base: tiles.NewBase(env, initial),
		api:  api,
		deps: tiles.NewResolver(env.WaitFor...),
	}
	m.DependOn(m.deps)
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.request})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.retry})
	m.On(action.TilePartialDataLoaded, tiles.Handler[State]{Reduce: m.reducePartial})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.On(action.TileTweakParam, tiles.Handler[State]{Accept: m.acceptTweak, Reduce: m.reduceTweak, Effect: m.tweak})
	if info, err := env.Registry.SourceInfo(conf.API); err == nil {
		m.HandleSourceInfo(info, conf.CorpName)
	}
	return m, nil
}

func (m *Model) reduceRequest(s State, a action.Action) State {
	p, ok := a.Payload.(action.QueryRequest)
	if !ok {
		return s
	}
	m.deps.Reset(p.Round)
	s.Common = s.Common.Begin(p.Round, m.deps.Upstream())
	s.QueryType = p.QueryType
	s.Matches = p.Matches.Clone()
	s.Results = nil
	return s
}

func (m *Model) request(s State, a action.Action, d action.Dispatcher) {
	m.AwaitUpstream(d, m.deps, s.Round, func(ctx context.Context) error {
		return m.load(ctx, s, d, false)
	})
}

// reduceRetry keeps the upstream data collected in the round, including
// results published after the tile failed.
func (m *Model) reduceRetry(s State, a action.Action) State {
	s.Common = s.Common.Begin(s.Round, m.deps.Rearm())
	return s
}

// retry loads right away when the upstream data is complete, otherwise it
// waits for the missing upstream tiles only.
func (m *Model) retry(s State, a action.Action, d action.Dispatcher) {
	if len(s.Pending) == 0 {
		m.Go(
			func(ctx context.Context) error { return m.load(ctx, s, d, false) },
			func(err error) { m.Fail(d, s.Round, err) },
		)
		return
	}
	m.request(s, a, d)
}

func (m *Model) reducePartial(s State, a action.Action) State {
	p, ok := a.Payload.(action.PartialLoaded)
	if !ok || !m.IsMine(a) || !m.IsCurrent(s, a) || a.Error == nil {
		return s
	}
	for i := range s.Results {
		if s.Results[i].QueryID == p.QueryID {
			s.Results = append([]Result(nil), s.Results...)
			s.Results[i].Error = errors.UserMessage(a.Error)
		}
	}
	return s
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if results, ok := p.Data.([]Result); ok {
		s.Results = results
		for _, r := range results {
			if r.Backlink != nil {
				s.Backlinks = append(s.Backlinks, r.Backlink)
			}
		}
	}
	return s
}

func setParam(s State, param, value string, leftRight bool) (State, error) {
	switch param {
	case ParamCtxType:
		switch value {
		case backends.CtxLeftRight:
		case backends.CtxLeft, backends.CtxRight:
			if !leftRight {
				return s, errors.Newf(errors.ArgsMapping, "the service does not support one-sided context")
			}
		default:
			return s, errors.Newf(errors.ArgsMapping, "unknown context type %q", value)
		}
		s.CtxType = value
	case ParamCtxSize:
		size, err := strconv.Atoi(value)
		if err != nil || size < 1 || size > maxCtxSize {
			return s, errors.Newf(errors.ArgsMapping, "context size must be between 1 and %d", maxCtxSize)
		}
		s.CtxSize = size
	case ParamMinFreq:
		freq, err := strconv.Atoi(value)
		if err != nil || freq < 1 {
			return s, errors.Newf(errors.ArgsMapping, "invalid minimum frequency %q", value)
		}
		s.MinFreq = freq
	default:
		return s, errors.Newf(errors.ArgsMapping, "unknown parameter %q", param)
	}
	return s, nil
}

// acceptTweak accepts tweaks once the upstream data of the round is
// complete; collocations cannot be recomputed without a concordance.
func (m *Model) acceptTweak(s State, a action.Action) bool {
	return m.Idle(s, a) && m.deps.Complete()
}

func (m *Model) reduceTweak(s State, a action.Action) State {
	p := a.Payload.(action.TweakParam)
	next, err := setParam(s, p.Param, p.Value, m.api.SupportsLeftRightContext())
	if err != nil {
		return s
	}
	next.Common = next.Common.Begin(s.Round, nil)
	return next
}

func (m *Model) tweak(s State, a action.Action, d action.Dispatcher) {
	p := a.Payload.(action.TweakParam)
	if _, err := setParam(s, p.Param, p.Value, m.api.SupportsLeftRightContext()); err != nil {
		d.Dispatch(sysmsg.ErrorAction(m.TileID(), errors.UserMessage(err)))
		return
	}
	m.Go(
		func(ctx context.Context) error { return m.load(ctx, s, d, true) },
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

// load computes collocations of every query slot over the upstream
// concordances. Slots whose concordance is empty yield no collocates.
// With announce set the new sub-queries are broadcast by SubqChanged too,
// as dependents already consumed the round's first result.
func (m *Model) load(ctx context.Context, s State, d action.Dispatcher, announce bool) error {
	src, ok := m.deps.ConcSource()
	if !ok {
		return errors.Newf(errors.DependencyFailed, "no concordance to compute collocations from")
	}
	n := len(s.Matches)
	if n == 0 {
		n = len(src.ConcIDs)
	}
	results := make([]Result, n)
	errs := make([]error, n)
	var attempted int
	var g errgroup.Group
	for i := range results {
		results[i] = Result{QueryID: i}
		if i < len(src.ConcIDs) {
			results[i].ConcID = src.ConcIDs[i]
		}
		if results[i].ConcID == "" {
			continue
		}
		attempted++
		i := i
		g.Go(func() error {
			match, _ := s.Matches.Current(i)
			args, err := m.api.StateToArgs(s.query(), match, results[i].ConcID)
			if err == nil {
				var resp *backends.CollApiResponse
				if resp, err = m.api.Call(ctx, args); err == nil && resp != nil {
					results[i].Heading = resp.CollHeadings
					results[i].Data = resp.Data
					results[i].Backlink = m.api.Backlink(args)
				}
			}
			if err != nil {
				errs[i] = err
				results[i].Error = errors.UserMessage(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []int
	for i, err := range errs {
		if err != nil {
			failed = append(failed, i)
		}
	}
	if attempted > 0 && len(failed) == attempted {
		return errs[failed[0]]
	}
	for _, i := range failed {
		m.FailPartial(d, s.Round, i, errs[i])
	}

	isEmpty := true
	items := make([]action.SubqueryPayload, 0, n)
	for _, r := range results {
		if len(r.Data) > 0 {
			isEmpty = false
		}
		items = append(items, m.subqueries(s, r))
	}
	d.Dispatch(tiles.Loaded(m.TileID(), s.Round, isEmpty, action.SubqueryList{Items: items}, results))
	if announce {
		for _, item := range items {
			d.Dispatch(action.Action{Name: action.SubqChanged, Payload: item})
		}
	}
	return nil
}

func (m *Model) subqueries(s State, r Result) action.SubqueryPayload {
	from, to := s.query().CtxRange()
	ans := action.SubqueryPayload{TileID: m.TileID(), QueryID: r.QueryID}
	for _, item := range r.Data {
		ans.Subqueries = append(ans.Subqueries, action.Subquery{
			Value:         item.Str,
			Context:       &action.CtxRange{Left: from, Right: to},
			InteractionID: item.InteractionID,
		})
	}
	return ans
}
