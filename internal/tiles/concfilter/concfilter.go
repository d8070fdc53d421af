// Package concfilter implements the filtered concordance tile: for every
// sub-query published by its source tiles it shows the lines of the
// upstream concordance containing the sub-query near the KWIC.
package concfilter

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "ConcFilterTile"

const (
	defaultMaxLines      = 1
	defaultMaxSubqueries = 5
	// window used for sub-queries published without a context
	defaultFilterCtx = 5
	maxParallel      = 4
)

// Conf configures a filtered concordance tile.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	CorpName      string                  `json:"corpname" mapstructure:"corpname"`
	SubcName      string                  `json:"subcname,omitempty" mapstructure:"subcname"`
	PosAttrs      []string                `json:"posAttrs,omitempty" mapstructure:"posAttrs"`
	MetadataAttrs []backends.MetadataAttr `json:"metadataAttrs,omitempty" mapstructure:"metadataAttrs"`
	// MaxLines limits the lines shown per sub-query
	MaxLines int `json:"maxNumLines,omitempty" mapstructure:"maxNumLines"`
	// MaxSubqueries limits the sub-queries read from one payload
	MaxSubqueries int `json:"maxSubqueries,omitempty" mapstructure:"maxSubqueries"`
}

// Filtered holds the lines of one sub-query.
type Filtered struct {
	SourceTile    int             `json:"sourceTile"`
	QueryID       int             `json:"queryId"`
	Value         string          `json:"value"`
	InteractionID string          `json:"interactionId,omitempty"`
	Color         string          `json:"color,omitempty"`
	ConcID        string          `json:"concId,omitempty"`
	ConcSize      int             `json:"concsize"`
	Lines         []backends.Line `json:"lines"`
	Error         string          `json:"error,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	CorpName      string                  `json:"corpname"`
	SubcName      string                  `json:"subcname,omitempty"`
	PosAttrs      []string                `json:"posAttrs,omitempty"`
	MetadataAttrs []backends.MetadataAttr `json:"metadataAttrs,omitempty"`
	MaxLines      int                     `json:"maxNumLines"`
	MaxSubqueries int                     `json:"maxSubqueries"`
	Matches       query.MatchSet          `json:"-"`
	Lines         []Filtered              `json:"lines"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

func (s State) query() backends.ConcQuery {
	return backends.ConcQuery{
		CorpName:      s.CorpName,
		SubcorpName:   s.SubcName,
		ViewMode:      backends.ViewModeKWIC,
		PageSize:      s.MaxLines,
		Page:          1,
		Attrs:         s.PosAttrs,
		MetadataAttrs: s.MetadataAttrs,
	}
}

// Model is the filtered concordance tile model.
type Model struct {
	*tiles.Base[State]
	api         backends.ConcAPI
	deps        *tiles.Resolver
	subqSources []int
}

// Create decodes raw and creates the model.
func Create(env tiles.Env, raw map[string]interface{}) (tiles.Model, error) {
	var conf Conf
	if err := tiles.DecodeConf(raw, &conf); err != nil {
		return nil, err
	}
	return New(env, conf)
}

// New creates the model. The tile waits for a concordance tile and for the
// tiles publishing sub-queries.
func New(env tiles.Env, conf Conf) (*Model, error) {
	if len(env.WaitFor) == 0 || len(env.SubqSources) == 0 {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: needs a concordance tile and at least one sub-query source", env.Name)
	}
	api, err := env.Registry.ConcAPI(conf.API)
	if err != nil {
		return nil, err
	}
	maxLines := conf.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	maxSubq := conf.MaxSubqueries
	if maxSubq <= 0 {
		maxSubq = defaultMaxSubqueries
	}
	upstream := append(append([]int(nil), env.WaitFor...), env.SubqSources...)
	m := &Model{
		Base: tiles.NewBase(env, State{
			CorpName:      conf.CorpName,
			SubcName:      conf.SubcName,
			PosAttrs:      conf.PosAttrs,
			MetadataAttrs: conf.MetadataAttrs,
			MaxLines:      maxLines,
			MaxSubqueries: maxSubq,
		}),
		api:         api,
		deps:        tiles.NewResolver(upstream...),
		subqSources: append([]int(nil), env.SubqSources...),
	}
	m.DependOn(m.deps)
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.request})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.retry})
	m.On(action.TilePartialDataLoaded, tiles.Handler[State]{Reduce: m.reducePartial})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.On(action.SubqChanged, tiles.Handler[State]{Accept: m.acceptSubqChange, Reduce: m.reduceSubqChange, Effect: m.reload})
	m.HandleSourceInfo(api, conf.CorpName)
	return m, nil
}

func (m *Model) reduceRequest(s State, a action.Action) State {
	p, ok := a.Payload.(action.QueryRequest)
	if !ok {
		return s
	}
	m.deps.Reset(p.Round)
	s.Common = s.Common.Begin(p.Round, m.deps.Upstream())
	s.Matches = p.Matches.Clone()
	s.Lines = nil
	return s
}

func (m *Model) request(s State, a action.Action, d action.Dispatcher) {
	m.AwaitUpstream(d, m.deps, s.Round, func(ctx context.Context) error {
		return m.load(ctx, s, d)
	})
}

// reduceRetry keeps the upstream data collected in the round, including
// results published after the tile failed.
func (m *Model) reduceRetry(s State, a action.Action) State {
	s.Common = s.Common.Begin(s.Round, m.deps.Rearm())
	return s
}

func (m *Model) retry(s State, a action.Action, d action.Dispatcher) {
	if len(s.Pending) == 0 {
		m.reload(s, a, d)
		return
	}
	m.request(s, a, d)
}

func (m *Model) reload(s State, a action.Action, d action.Dispatcher) {
	m.Go(
		func(ctx context.Context) error { return m.load(ctx, s, d) },
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

func (m *Model) isSubqSource(tileID int) bool {
	for _, id := range m.subqSources {
		if id == tileID {
			return true
		}
	}
	return false
}

// acceptSubqChange takes new sub-queries of a source tile once the round's
// data is complete and the tile is not loading.
func (m *Model) acceptSubqChange(s State, a action.Action) bool {
	p, ok := a.Payload.(action.SubqueryPayload)
	return ok && m.isSubqSource(p.TileID) && !s.IsBusy && s.Round > 0 && m.deps.Complete()
}

// reduceSubqChange stores the new sub-queries in the resolver, which is
// model bookkeeping rather than state.
func (m *Model) reduceSubqChange(s State, a action.Action) State {
	if !m.deps.Replace(a.Payload.(action.SubqueryPayload)) {
		return s
	}
	s.Common = s.Common.Begin(s.Round, nil)
	return s
}

func (m *Model) reducePartial(s State, a action.Action) State {
	p, ok := a.Payload.(action.PartialLoaded)
	if !ok || !m.IsMine(a) || !m.IsCurrent(s, a) {
		return s
	}
	if f, ok := p.Data.(Filtered); ok {
		s.Lines = append(append([]Filtered(nil), s.Lines...), f)
	}
	return s
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if lines, ok := p.Data.([]Filtered); ok {
		s.Lines = lines
	}
	return s
}

// jobs lists one filter per sub-query in the configured order of source
// tiles, then by query slot. Arrival order of upstream results does not
// matter.
func (m *Model) jobs(s State, concIDs []string) ([]Filtered, []*backends.ConcFilter) {
	var ans []Filtered
	var filters []*backends.ConcFilter
	for _, p := range m.deps.SubqueriesFrom(m.subqSources...) {
		if p.QueryID < 0 || p.QueryID >= len(concIDs) || concIDs[p.QueryID] == "" {
			continue
		}
		seen := make(map[string]bool)
		for _, sq := range p.Subqueries {
			key := strings.ToLower(sq.Value)
			if sq.Value == "" || seen[key] {
				continue
			}
			if len(seen) == s.MaxSubqueries {
				break
			}
			seen[key] = true
			ans = append(ans, Filtered{
				SourceTile:    p.TileID,
				QueryID:       p.QueryID,
				Value:         sq.Value,
				InteractionID: sq.InteractionID,
				Color:         sq.Color,
				ConcID:        concIDs[p.QueryID],
			})
			filters = append(filters, filterOf(sq))
		}
	}
	return ans, filters
}

func filterOf(sq action.Subquery) *backends.ConcFilter {
	words := strings.Fields(sq.Value)
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf(`[word="%s"]`, backends.EscapeCQL(w))
	}
	f := &backends.ConcFilter{
		CQL:   strings.Join(parts, ""),
		Left:  -defaultFilterCtx,
		Right: defaultFilterCtx,
	}
	if sq.Context != nil {
		f.Left, f.Right = sq.Context.Left, sq.Context.Right
	}
	return f
}

func (m *Model) load(ctx context.Context, s State, d action.Dispatcher) error {
	src, ok := m.deps.ConcSource()
	if !ok {
		return errors.Newf(errors.DependencyFailed, "no concordance to filter")
	}
	lines, filters := m.jobs(s, src.ConcIDs)
	errs := make([]error, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i := range lines {
		i := i
		g.Go(func() error {
			f := lines[i]
			match, _ := s.Matches.Current(f.QueryID)
			args, err := m.api.StateToArgs(s.query(), match, f.QueryID, backends.ArgsContext{ConcID: f.ConcID, Filter: filters[i]})
			if err == nil {
				var resp *backends.ConcResponse
				if resp, err = m.api.Call(gctx, args); err == nil && resp != nil {
					lines[i].ConcSize = resp.ConcSize
					lines[i].Lines = backends.RelabelMetadata(resp.Lines, s.MetadataAttrs)
					if len(lines[i].Lines) > s.MaxLines {
						lines[i].Lines = lines[i].Lines[:s.MaxLines]
					}
				}
			}
			if err != nil {
				errs[i] = err
				lines[i].Error = errors.UserMessage(err)
				return nil
			}
			d.Dispatch(action.Action{
				Name: action.TilePartialDataLoaded,
				Payload: action.PartialLoaded{
					TileID:  m.TileID(),
					Round:   s.Round,
					QueryID: f.QueryID,
					Heading: f.Value,
					ConcID:  f.ConcID,
					IsEmpty: len(lines[i].Lines) == 0,
					Data:    lines[i],
				},
			})
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
	if len(lines) > 0 && len(failed) == len(lines) {
		return errs[failed[0]]
	}
	for _, i := range failed {
		m.FailPartial(d, s.Round, lines[i].QueryID, errs[i])
	}
	isEmpty := true
	for _, f := range lines {
		if len(f.Lines) > 0 {
			isEmpty = false
		}
	}
	d.Dispatch(tiles.Loaded(m.TileID(), s.Round, isEmpty, nil, lines))
	return nil
}
