// Package matchingdocs implements the tile listing documents where the
// queried word is most frequent. Pages are cut from the loaded list, so
// paging never calls the service.
package matchingdocs

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "MatchingDocsTile"

const (
	defaultMaxItems     = 20
	defaultItemsPerPage = 5
)

// Conf configures a matching documents tile. When the tile waits for a
// concordance tile, documents are counted over that concordance.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	CorpName          string                     `json:"corpname" mapstructure:"corpname"`
	SubcName          string                     `json:"subcname,omitempty" mapstructure:"subcname"`
	SrchAttrs         []string                   `json:"srchAttrs" mapstructure:"srchAttrs"`
	DisplayAttrs      []string                   `json:"displayAttrs,omitempty" mapstructure:"displayAttrs"`
	MaxItems          int                        `json:"maxNumItems,omitempty" mapstructure:"maxNumItems"`
	ItemsPerPage      int                        `json:"itemsPerPage,omitempty" mapstructure:"itemsPerPage"`
	PosQueryGenerator backends.PosQueryGenerator `json:"posQueryGenerator" mapstructure:"posQueryGenerator"`
}

// Docs are the documents of one query slot.
type Docs struct {
	QueryID  int                `json:"queryId"`
	Items    []backends.DocItem `json:"items"`
	Page     int                `json:"page"`
	NumPages int                `json:"numPages"`
	Error    string             `json:"error,omitempty"`
}

// Visible returns the items of the current page.
func (d Docs) Visible(perPage int) []backends.DocItem {
	from := (max(d.Page, 1) - 1) * perPage
	if from >= len(d.Items) {
		return nil
	}
	return d.Items[from:min(from+perPage, len(d.Items))]
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	CorpName          string                     `json:"corpname"`
	SubcName          string                     `json:"subcname,omitempty"`
	SrchAttrs         []string                   `json:"srchAttrs"`
	DisplayAttrs      []string                   `json:"displayAttrs,omitempty"`
	MaxItems          int                        `json:"maxNumItems"`
	ItemsPerPage      int                        `json:"itemsPerPage"`
	PosQueryGenerator backends.PosQueryGenerator `json:"-"`
	Matches           query.MatchSet             `json:"-"`
	Data              []Docs                     `json:"data"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

func (s State) query() backends.DocsQuery {
	return backends.DocsQuery{
		CorpName:          s.CorpName,
		SubcorpName:       s.SubcName,
		SrchAttrs:         s.SrchAttrs,
		DisplayAttrs:      s.DisplayAttrs,
		MaxNumItems:       s.MaxItems,
		PosQueryGenerator: s.PosQueryGenerator,
	}
}

// Model is the matching documents tile model.
type Model struct {
	*tiles.Base[State]
	api  backends.MatchingDocsAPI
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

// New creates the model.
func New(env tiles.Env, conf Conf) (*Model, error) {
	if len(conf.SrchAttrs) == 0 {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: srchAttrs must not be empty", env.Name)
	}
	api, err := env.Registry.MatchingDocsAPI(conf.API)
	if err != nil {
		return nil, err
	}
	state := State{
		CorpName:          conf.CorpName,
		SubcName:          conf.SubcName,
		SrchAttrs:         conf.SrchAttrs,
		DisplayAttrs:      conf.DisplayAttrs,
		MaxItems:          conf.MaxItems,
		ItemsPerPage:      conf.ItemsPerPage,
		PosQueryGenerator: conf.PosQueryGenerator,
	}
	if state.MaxItems <= 0 {
		state.MaxItems = defaultMaxItems
	}
	if state.ItemsPerPage <= 0 {
		state.ItemsPerPage = defaultItemsPerPage
	}
	m := &Model{Base: tiles.NewBase(env, state), api: api}
	if len(env.WaitFor) > 0 {
		m.deps = tiles.NewResolver(env.WaitFor...)
		m.DependOn(m.deps)
	}
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.request})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.retry})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.On(action.TilePageChange, tiles.Handler[State]{Accept: m.acceptPage, Reduce: m.reducePage})
	m.HandleSourceInfo(api, conf.CorpName)
	return m, nil
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
	s.Data = nil
	return s
}

func (m *Model) request(s State, a action.Action, d action.Dispatcher) {
	if m.deps == nil {
		m.reload(s, a, d)
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
	return s
}

func (m *Model) retry(s State, a action.Action, d action.Dispatcher) {
	if len(s.Pending) > 0 {
		m.request(s, a, d)
		return
	}
	m.reload(s, a, d)
}

func (m *Model) reload(s State, a action.Action, d action.Dispatcher) {
	m.Go(
		func(ctx context.Context) error { return m.load(ctx, s, d) },
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if data, ok := p.Data.([]Docs); ok {
		s.Data = data
	}
	return s
}

func (m *Model) acceptPage(s State, a action.Action) bool {
	p, ok := a.Payload.(action.PageChange)
	if !ok || !m.Idle(s, a) || p.QueryID < 0 || p.QueryID >= len(s.Data) {
		return false
	}
	return p.Page >= 1 && p.Page <= s.Data[p.QueryID].NumPages
}

func (m *Model) reducePage(s State, a action.Action) State {
	p := a.Payload.(action.PageChange)
	s.Data = append([]Docs(nil), s.Data...)
	s.Data[p.QueryID].Page = p.Page
	return s
}

func (m *Model) load(ctx context.Context, s State, d action.Dispatcher) error {
	var concIDs []string
	if m.deps != nil {
		src, ok := m.deps.ConcSource()
		if !ok {
			return errors.Newf(errors.DependencyFailed, "no concordance to search documents in")
		}
		concIDs = src.ConcIDs
	}
	data := make([]Docs, len(s.Matches))
	errs := make([]error, len(s.Matches))
	var attempted int
	var g errgroup.Group
	for i := range data {
		data[i] = Docs{QueryID: i, Page: 1}
		concID := ""
		if m.deps != nil {
			if i < len(concIDs) {
				concID = concIDs[i]
			}
			if concID == "" {
				continue
			}
		}
		attempted++
		i := i
		g.Go(func() error {
			items, err := m.loadSlot(ctx, s, i, concID)
			if err != nil {
				errs[i] = err
				data[i].Error = errors.UserMessage(err)
				return nil
			}
			data[i].Items = items
			data[i].NumPages = (len(items) + s.ItemsPerPage - 1) / s.ItemsPerPage
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
	for _, docs := range data {
		if len(docs.Items) > 0 {
			isEmpty = false
		}
	}
	d.Dispatch(tiles.Loaded(m.TileID(), s.Round, isEmpty, nil, data))
	return nil
}

func (m *Model) loadSlot(ctx context.Context, s State, queryIdx int, concID string) ([]backends.DocItem, error) {
	match, ok := s.Matches.Current(queryIdx)
	if !ok {
		return nil, errors.Newf(errors.ArgsMapping, "no query for slot %d", queryIdx)
	}
	args, err := m.api.StateToArgs(s.query(), match, concID)
	if err != nil {
		return nil, err
	}
	resp, err := m.api.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	items := resp.Data
	if len(items) > s.MaxItems {
		items = items[:s.MaxItems]
	}
	return items, nil
}
