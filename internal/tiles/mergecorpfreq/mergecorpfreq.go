// Package mergecorpfreq implements the merged frequency tile: frequency
// distributions from several sources, possibly different vendors and
// corpora, rendered as one list.
package mergecorpfreq

import (
	"context"
	"sync"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "MergeCorpFreqTile"

const defaultMaxItems = 10

// SourceConf configures one frequency source. A source without an API
// uses the API of the tile.
type SourceConf struct {
	API               backends.APIConf           `json:"api" mapstructure:"api"`
	CorpName          string                     `json:"corpname" mapstructure:"corpname"`
	SubcName          string                     `json:"subcname,omitempty" mapstructure:"subcname"`
	Fcrit             string                     `json:"fcrit" mapstructure:"fcrit"`
	FLimit            int                        `json:"flimit,omitempty" mapstructure:"flimit"`
	Label             string                     `json:"valuePlaceholder,omitempty" mapstructure:"valuePlaceholder"`
	ReuseConcordance  bool                       `json:"reuseConcordance,omitempty" mapstructure:"reuseConcordance"`
	PosQueryGenerator backends.PosQueryGenerator `json:"posQueryGenerator" mapstructure:"posQueryGenerator"`
}

// Conf configures a merged frequency tile.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	Sources  []SourceConf `json:"sources" mapstructure:"sources"`
	MaxItems int          `json:"maxItems,omitempty" mapstructure:"maxItems"`
}

// Row is one frequency item labelled with its source.
type Row struct {
	Name      string  `json:"name"`
	Freq      int     `json:"freq"`
	IPM       float64 `json:"ipm"`
	Norm      int64   `json:"norm"`
	SourceIdx int     `json:"sourceIdx"`
	Source    string  `json:"source"`
}

// SourceRows is what one source produced for one query slot.
type SourceRows struct {
	QueryID   int    `json:"queryId"`
	SourceIdx int    `json:"sourceIdx"`
	Rows      []Row  `json:"rows"`
	Error     string `json:"error,omitempty"`
}

// Merged is the merged list of one query slot.
type Merged struct {
	QueryID       int    `json:"queryId"`
	Rows          []Row  `json:"rows"`
	FailedSources []int  `json:"failedSources,omitempty"`
	Error         string `json:"error,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	Sources  []SourceConf   `json:"sources"`
	MaxItems int            `json:"maxItems"`
	Matches  query.MatchSet `json:"-"`
	Partial  []SourceRows   `json:"partial,omitempty"`
	Data     []Merged       `json:"data"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

type source struct {
	conf SourceConf
	api  backends.FreqAPI
}

// batch counts the source calls of one load still running. It is
// bookkeeping of the load, never part of the rendered state.
type batch struct {
	round uint64

	mu      sync.Mutex
	pending int
	claimed [][]bool
	rows    [][]SourceRows
	errs    [][]error
}

// claim marks a source call as finished. It reports false when the call
// was already finished, e.g. by the panic handler after a regular return.
func (b *batch) claim(queryID, sourceIdx int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed[queryID][sourceIdx] {
		return false
	}
	b.claimed[queryID][sourceIdx] = true
	return true
}

// done stores one finished source call and reports whether it was the
// last one.
func (b *batch) done(queryID, sourceIdx int, rows SourceRows, err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[queryID][sourceIdx] = rows
	b.errs[queryID][sourceIdx] = err
	b.pending--
	return b.pending == 0
}

// Model is the merged frequency tile model.
type Model struct {
	*tiles.Base[State]
	sources []source
	deps    *tiles.Resolver

	mu    sync.Mutex
	batch *batch
}

// Create decodes raw and creates the model.
func Create(env tiles.Env, raw map[string]interface{}) (tiles.Model, error) {
	var conf Conf
	if err := tiles.DecodeConf(raw, &conf); err != nil {
		return nil, err
	}
	return New(env, conf)
}

// New creates the model. Sources reusing a concordance require the tile to
// wait for a concordance tile.
func New(env tiles.Env, conf Conf) (*Model, error) {
	if len(conf.Sources) == 0 {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: no frequency sources configured", env.Name)
	}
	sources := make([]source, len(conf.Sources))
	for i, sc := range conf.Sources {
		if sc.API.Type == "" {
			sc.API = conf.API
		}
		if sc.Fcrit == "" {
			return nil, errors.Newf(errors.ConfigInvalid, "tile %s: source %d has no fcrit", env.Name, i)
		}
		if sc.ReuseConcordance && len(env.WaitFor) == 0 {
			return nil, errors.Newf(errors.ConfigInvalid, "tile %s: source %d reuses a concordance but the tile waits for none", env.Name, i)
		}
		if sc.FLimit <= 0 {
			sc.FLimit = 1
		}
		api, err := env.Registry.FreqAPI(sc.API)
		if err != nil {
			return nil, err
		}
		sources[i] = source{conf: sc, api: api}
	}
	maxItems := conf.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	state := State{MaxItems: maxItems}
	for _, src := range sources {
		state.Sources = append(state.Sources, src.conf)
	}
	m := &Model{
		Base:    tiles.NewBase(env, state),
		sources: sources,
	}
	if len(env.WaitFor) > 0 {
		m.deps = tiles.NewResolver(env.WaitFor...)
		m.DependOn(m.deps)
	}
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.request})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.retry})
	m.On(action.TilePartialDataLoaded, tiles.Handler[State]{Reduce: m.reducePartial})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.HandleSourceInfo(sources[0].api, sources[0].conf.CorpName)
	return m, nil
}

// PendingSources returns the number of source calls of the current load
// still running.
func (m *Model) PendingSources() int {
	m.mu.Lock()
	b := m.batch
	m.mu.Unlock()
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

func (m *Model) reduceRequest(s State, a action.Action) State {
	p, ok := a.Payload.(action.QueryRequest)
	if !ok {
		return s
	}
	var upstream []int
	if m.deps != nil {
		m.deps.Reset(p.Round)
		upstream = m.deps.Upstream()
	}
	s.Common = s.Common.Begin(p.Round, upstream)
	s.Matches = p.Matches.Clone()
	s.Partial = nil
	s.Data = nil
	return s
}

func (m *Model) request(s State, a action.Action, d action.Dispatcher) {
	if m.deps == nil {
		m.Go(
			func(ctx context.Context) error { return m.load(ctx, s, d) },
			func(err error) { m.Fail(d, s.Round, err) },
		)
		return
	}
	m.AwaitUpstream(d, m.deps, s.Round, func(ctx context.Context) error {
		return m.load(ctx, s, d)
	})
}

func (m *Model) reduceRetry(s State, a action.Action) State {
	var pending []int
	if m.deps != nil {
		pending = m.deps.Rearm()
	}
	s.Common = s.Common.Begin(s.Round, pending)
	s.Partial = nil
	return s
}

func (m *Model) retry(s State, a action.Action, d action.Dispatcher) {
	if len(s.Pending) > 0 {
		m.request(s, a, d)
		return
	}
	m.Go(
		func(ctx context.Context) error { return m.load(ctx, s, d) },
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

func (m *Model) reducePartial(s State, a action.Action) State {
	p, ok := a.Payload.(action.PartialLoaded)
	if !ok || !m.IsMine(a) || !m.IsCurrent(s, a) {
		return s
	}
	if rows, ok := p.Data.(SourceRows); ok {
		s.Partial = append(append([]SourceRows(nil), s.Partial...), rows)
	}
	return s
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if data, ok := p.Data.([]Merged); ok {
		s.Data = data
		s.Partial = nil
	}
	return s
}

// load starts one call per source and query slot. The call finishing last
// merges and publishes the result.
func (m *Model) load(_ context.Context, s State, d action.Dispatcher) error {
	slots := len(s.Matches)
	if slots == 0 {
		return errors.Newf(errors.ArgsMapping, "no query to compute frequencies for")
	}
	var concIDs []string
	if m.deps != nil {
		if src, ok := m.deps.ConcSource(); ok {
			concIDs = src.ConcIDs
		}
	}
	b := &batch{
		round:   s.Round,
		pending: slots * len(m.sources),
		claimed: make([][]bool, slots),
		rows:    make([][]SourceRows, slots),
		errs:    make([][]error, slots),
	}
	for i := range b.rows {
		b.claimed[i] = make([]bool, len(m.sources))
		b.rows[i] = make([]SourceRows, len(m.sources))
		b.errs[i] = make([]error, len(m.sources))
	}
	m.mu.Lock()
	m.batch = b
	m.mu.Unlock()

	for q := 0; q < slots; q++ {
		for j, src := range m.sources {
			concID := ""
			if src.conf.ReuseConcordance {
				if q < len(concIDs) {
					concID = concIDs[q]
				}
				if concID == "" {
					m.finish(d, b, q, j, SourceRows{QueryID: q, SourceIdx: j}, nil)
					continue
				}
			}
			q, j, src := q, j, src
			m.Go(
				func(ctx context.Context) error {
					rows, err := m.loadSource(ctx, s, q, j, src, concID)
					m.finish(d, b, q, j, rows, err)
					return nil
				},
				func(err error) { m.finish(d, b, q, j, SourceRows{QueryID: q, SourceIdx: j}, err) },
			)
		}
	}
	return nil
}

func (m *Model) finish(d action.Dispatcher, b *batch, queryID, sourceIdx int, rows SourceRows, err error) {
	if !b.claim(queryID, sourceIdx) {
		return
	}
	if err == nil {
		d.Dispatch(action.Action{
			Name: action.TilePartialDataLoaded,
			Payload: action.PartialLoaded{
				TileID:  m.TileID(),
				Round:   b.round,
				QueryID: queryID,
				Heading: m.sources[sourceIdx].conf.Label,
				IsEmpty: len(rows.Rows) == 0,
				Data:    rows,
			},
		})
	}
	if !b.done(queryID, sourceIdx, rows, err) {
		return
	}
	m.publish(d, b)
}

func (m *Model) publish(d action.Dispatcher, b *batch) {
	var attempted, failed int
	var firstErr error
	merged := make([]Merged, len(b.rows))
	for q := range b.rows {
		merged[q] = Merged{QueryID: q}
		for j, rows := range b.rows[q] {
			attempted++
			if err := b.errs[q][j]; err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				merged[q].FailedSources = append(merged[q].FailedSources, j)
				continue
			}
			merged[q].Rows = append(merged[q].Rows, rows.Rows...)
		}
		if len(merged[q].FailedSources) == len(m.sources) {
			merged[q].Error = errors.UserMessage(b.errs[q][0])
		}
	}
	if failed == attempted {
		m.Fail(d, b.round, firstErr)
		return
	}
	for q := range b.errs {
		for j, err := range b.errs[q] {
			if err != nil {
				m.FailPartial(d, b.round, q, errors.New(errors.Code(err), "source "+m.label(j)+" failed", err))
			}
		}
	}
	isEmpty := true
	for _, mg := range merged {
		if len(mg.Rows) > 0 {
			isEmpty = false
		}
	}
	d.Dispatch(tiles.Loaded(m.TileID(), b.round, isEmpty, nil, merged))
}

func (m *Model) label(sourceIdx int) string {
	if l := m.sources[sourceIdx].conf.Label; l != "" {
		return l
	}
	return m.sources[sourceIdx].conf.CorpName
}

func (m *Model) loadSource(ctx context.Context, s State, queryID, sourceIdx int, src source, concID string) (SourceRows, error) {
	ans := SourceRows{QueryID: queryID, SourceIdx: sourceIdx}
	match, ok := s.Matches.Current(queryID)
	if !ok {
		return ans, errors.Newf(errors.ArgsMapping, "no query for slot %d", queryID)
	}
	q := backends.FreqQuery{
		CorpName:          src.conf.CorpName,
		SubcorpName:       src.conf.SubcName,
		Fcrit:             src.conf.Fcrit,
		FLimit:            src.conf.FLimit,
		FMaxItems:         s.MaxItems,
		PosQueryGenerator: src.conf.PosQueryGenerator,
	}
	args, err := src.api.StateToArgs(q, match, concID)
	if err != nil {
		return ans, err
	}
	resp, err := src.api.Call(ctx, args)
	if err != nil {
		ans.Error = errors.UserMessage(err)
		return ans, err
	}
	if resp == nil {
		return ans, nil
	}
	data := resp.Data
	if len(data) > s.MaxItems {
		data = data[:s.MaxItems]
	}
	for _, item := range data {
		name := item.Name
		// a single value (e.g. a corpus total) is shown under the source label
		if src.conf.Label != "" && len(resp.Data) == 1 {
			name = src.conf.Label
		}
		ans.Rows = append(ans.Rows, Row{
			Name:      name,
			Freq:      item.Freq,
			IPM:       item.IPM,
			Norm:      item.Norm,
			SourceIdx: sourceIdx,
			Source:    m.label(sourceIdx),
		})
	}
	return ans, nil
}
