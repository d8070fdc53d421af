// Package concordance implements the concordance tile: one KWIC
// concordance per query slot, published to dependent tiles as concordance
// persistence ids.
package concordance

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "ConcordanceTile"

const defaultPageSize = 20

// Tweak parameters
const (
	ParamViewMode = "viewMode"
	ParamPageSize = "pageSize"
)

// Conf configures a concordance tile.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	CorpName          string                     `json:"corpname" mapstructure:"corpname"`
	SubcName          string                     `json:"subcname,omitempty" mapstructure:"subcname"`
	OtherCorpname     string                     `json:"otherCorpname,omitempty" mapstructure:"otherCorpname"`
	ViewMode          string                     `json:"viewMode,omitempty" mapstructure:"viewMode"`
	PageSize          int                        `json:"pageSize,omitempty" mapstructure:"pageSize"`
	KwicLeftCtx       int                        `json:"kwicLeftCtx,omitempty" mapstructure:"kwicLeftCtx"`
	KwicRightCtx      int                        `json:"kwicRightCtx,omitempty" mapstructure:"kwicRightCtx"`
	PosAttrs          []string                   `json:"posAttrs,omitempty" mapstructure:"posAttrs"`
	MetadataAttrs     []backends.MetadataAttr    `json:"metadataAttrs,omitempty" mapstructure:"metadataAttrs"`
	PosQueryGenerator backends.PosQueryGenerator `json:"posQueryGenerator" mapstructure:"posQueryGenerator"`
}

// Conc is the concordance of one query slot.
type Conc struct {
	QueryID  int                `json:"queryId"`
	Lines    []backends.Line    `json:"lines"`
	ConcSize int                `json:"concsize"`
	IPM      float64            `json:"ipm"`
	ARF      float64            `json:"arf"`
	ConcID   string             `json:"concId"`
	Page     int                `json:"page"`
	NumPages int                `json:"numPages"`
	Error    string             `json:"error,omitempty"`
	Backlink *backends.Backlink `json:"backlink,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	CorpName          string                     `json:"corpname"`
	SubcName          string                     `json:"subcname,omitempty"`
	OtherCorpname     string                     `json:"otherCorpname,omitempty"`
	QueryType         query.Type                 `json:"queryType"`
	Matches           query.MatchSet             `json:"-"`
	ViewMode          backends.ViewMode          `json:"viewMode"`
	PageSize          int                        `json:"pageSize"`
	LeftCtx           int                        `json:"leftCtx"`
	RightCtx          int                        `json:"rightCtx"`
	Attrs             []string                   `json:"attrs,omitempty"`
	MetadataAttrs     []backends.MetadataAttr    `json:"metadataAttrs,omitempty"`
	PosQueryGenerator backends.PosQueryGenerator `json:"-"`
	Concordances      []Conc                     `json:"concordances"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

func (s State) query(page int) backends.ConcQuery {
	q := backends.ConcQuery{
		CorpName:          s.CorpName,
		SubcorpName:       s.SubcName,
		QueryType:         s.QueryType,
		ViewMode:          s.ViewMode,
		PageSize:          s.PageSize,
		Page:              page,
		LeftCtx:           s.LeftCtx,
		RightCtx:          s.RightCtx,
		Attrs:             s.Attrs,
		MetadataAttrs:     s.MetadataAttrs,
		PosQueryGenerator: s.PosQueryGenerator,
	}
	if s.QueryType == query.Translat {
		q.OtherCorpname = s.OtherCorpname
	}
	return q
}

func (s State) concordances() []Conc {
	return append([]Conc(nil), s.Concordances...)
}

// Model is the concordance tile model.
type Model struct {
	*tiles.Base[State]
	api backends.ConcAPI
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
	if conf.CorpName == "" {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: missing corpname", env.Name)
	}
	api, err := env.Registry.ConcAPI(conf.API)
	if err != nil {
		return nil, err
	}
	viewMode := backends.ViewMode(conf.ViewMode)
	if viewMode == "" {
		viewMode = backends.ViewModeKWIC
	}
	if !validViewMode(viewMode) {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: unknown view mode %q", env.Name, conf.ViewMode)
	}
	pageSize := conf.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	m := &Model{
		api: api,
		Base: tiles.NewBase(env, State{
			CorpName:          conf.CorpName,
			SubcName:          conf.SubcName,
			OtherCorpname:     conf.OtherCorpname,
			ViewMode:          viewMode,
			PageSize:          pageSize,
			LeftCtx:           conf.KwicLeftCtx,
			RightCtx:          conf.KwicRightCtx,
			Attrs:             conf.PosAttrs,
			MetadataAttrs:     conf.MetadataAttrs,
			PosQueryGenerator: conf.PosQueryGenerator,
		}),
	}
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.loadAll})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.loadAll})
	m.On(action.TilePartialDataLoaded, tiles.Handler[State]{Reduce: m.reducePartial})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.On(action.TilePageChange, tiles.Handler[State]{Accept: m.acceptPage, Reduce: m.reducePage, Effect: m.changePage})
	m.On(action.TileTweakParam, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceTweak, Effect: m.tweak})
	m.HandleSourceInfo(api, conf.CorpName)
	return m, nil
}

func validViewMode(v backends.ViewMode) bool {
	switch v {
	case backends.ViewModeKWIC, backends.ViewModeSent, backends.ViewModeAlign:
		return true
	}
	return false
}

func (m *Model) reduceRequest(s State, a action.Action) State {
	p, ok := a.Payload.(action.QueryRequest)
	if !ok {
		return s
	}
	s.Common = s.Common.Begin(p.Round, nil)
	s.QueryType = p.QueryType
	s.Matches = p.Matches.Clone()
	s.Concordances = make([]Conc, len(p.Matches))
	for i := range s.Concordances {
		s.Concordances[i] = Conc{QueryID: i, Page: 1}
	}
	return s
}

func (m *Model) reduceRetry(s State, a action.Action) State {
	s.Common = s.Common.Begin(s.Round, nil)
	return s
}

func (m *Model) reducePartial(s State, a action.Action) State {
	p, ok := a.Payload.(action.PartialLoaded)
	if !ok || !m.IsMine(a) || !m.IsCurrent(s, a) || p.QueryID < 0 || p.QueryID >= len(s.Concordances) {
		return s
	}
	s.Concordances = s.concordances()
	if a.Error != nil {
		s.Concordances[p.QueryID].Error = errors.UserMessage(a.Error)
		return s
	}
	if c, ok := p.Data.(Conc); ok {
		s.Concordances[p.QueryID] = c
	}
	return s
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if concs, ok := p.Data.([]Conc); ok {
		s.Concordances = concs
		s.Backlinks = nil
		for _, c := range concs {
			if c.Backlink != nil {
				s.Backlinks = append(s.Backlinks, c.Backlink)
			}
		}
	}
	return s
}

func (m *Model) acceptPage(s State, a action.Action) bool {
	p, ok := a.Payload.(action.PageChange)
	if !ok || !m.Idle(s, a) || p.QueryID < 0 || p.QueryID >= len(s.Concordances) {
		return false
	}
	c := s.Concordances[p.QueryID]
	return p.Page >= 1 && (c.NumPages == 0 || p.Page <= c.NumPages) && p.Page != c.Page
}

func (m *Model) reducePage(s State, a action.Action) State {
	p := a.Payload.(action.PageChange)
	s.Concordances = s.concordances()
	s.Concordances[p.QueryID].Page = p.Page
	s.Common = s.Common.Begin(s.Round, nil)
	return s
}

func (m *Model) changePage(s State, a action.Action, d action.Dispatcher) {
	p := a.Payload.(action.PageChange)
	round := s.Round
	m.Go(
		func(ctx context.Context) error {
			c, err := m.loadSlot(ctx, s, p.QueryID)
			if err != nil {
				return err
			}
			m.dispatchPartial(d, round, c)
			concs := s.concordances()
			concs[p.QueryID] = c
			d.Dispatch(m.result(s, concs))
			return nil
		},
		func(err error) { m.Fail(d, round, err) },
	)
}

func applyTweak(s State, p action.TweakParam) (State, error) {
	switch p.Param {
	case ParamViewMode:
		v := backends.ViewMode(p.Value)
		if !validViewMode(v) {
			return s, errors.Newf(errors.ArgsMapping, "unknown view mode %q", p.Value)
		}
		s.ViewMode = v
	case ParamPageSize:
		size, err := strconv.Atoi(p.Value)
		if err != nil || size <= 0 {
			return s, errors.Newf(errors.ArgsMapping, "invalid page size %q", p.Value)
		}
		s.PageSize = size
		s.Concordances = s.concordances()
		for i := range s.Concordances {
			s.Concordances[i].Page = 1
		}
	default:
		return s, errors.Newf(errors.ArgsMapping, "unknown parameter %q", p.Param)
	}
	return s, nil
}

func (m *Model) reduceTweak(s State, a action.Action) State {
	next, err := applyTweak(s, a.Payload.(action.TweakParam))
	if err != nil {
		return s
	}
	next.Common = next.Common.Begin(s.Round, nil)
	return next
}

// tweak reloads with the new parameter. Applying the parameter to the
// reduced state again only fails when the reducer rejected it.
func (m *Model) tweak(s State, a action.Action, d action.Dispatcher) {
	if _, err := applyTweak(s, a.Payload.(action.TweakParam)); err != nil {
		d.Dispatch(sysmsg.ErrorAction(m.TileID(), errors.UserMessage(err)))
		return
	}
	m.loadAll(s, a, d)
}

// loadAll loads every query slot concurrently. Slots reuse the stored
// concordance ids so a reload only changes the view.
func (m *Model) loadAll(s State, a action.Action, d action.Dispatcher) {
	round := s.Round
	m.Go(
		func(ctx context.Context) error {
			concs := s.concordances()
			errs := make([]error, len(concs))
			var g errgroup.Group
			for i := range concs {
				i := i
				g.Go(func() error {
					c, err := m.loadSlot(ctx, s, i)
					if err != nil {
						errs[i] = err
						concs[i].Error = errors.UserMessage(err)
						return nil
					}
					concs[i] = c
					m.dispatchPartial(d, round, c)
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
			if len(concs) == 0 {
				return errors.Newf(errors.ArgsMapping, "no query to search for")
			}
			if len(failed) == len(concs) {
				return errs[0]
			}
			for _, i := range failed {
				m.FailPartial(d, round, i, errs[i])
			}
			d.Dispatch(m.result(s, concs))
			return nil
		},
		func(err error) { m.Fail(d, round, err) },
	)
}

func (m *Model) loadSlot(ctx context.Context, s State, queryIdx int) (Conc, error) {
	match, ok := s.Matches.Current(queryIdx)
	if !ok {
		return Conc{}, errors.Newf(errors.ArgsMapping, "no query for slot %d", queryIdx)
	}
	if match.IsMultiWord() && !m.api.SupportsMultiWordQueries() {
		return Conc{}, errors.Newf(errors.ArgsMapping, "the service does not support multi-word queries")
	}
	prev := s.Concordances[queryIdx]
	page := max(prev.Page, 1)
	args, err := m.api.StateToArgs(s.query(page), match, queryIdx, backends.ArgsContext{ConcID: prev.ConcID})
	if err != nil {
		return Conc{}, err
	}
	resp, err := m.api.Call(ctx, args)
	if err != nil {
		return Conc{}, err
	}
	if resp == nil {
		resp = &backends.ConcResponse{}
	}
	concID := resp.ConcPersistenceID
	if concID == "" {
		concID = prev.ConcID
	}
	numPages := 0
	if s.PageSize > 0 {
		numPages = (resp.ConcSize + s.PageSize - 1) / s.PageSize
	}
	return Conc{
		QueryID:  queryIdx,
		Lines:    backends.RelabelMetadata(resp.Lines, s.MetadataAttrs),
		ConcSize: resp.ConcSize,
		IPM:      resp.IPM,
		ARF:      resp.ARF,
		ConcID:   concID,
		Page:     page,
		NumPages: numPages,
		Backlink: m.api.Backlink(args),
	}, nil
}

func (m *Model) dispatchPartial(d action.Dispatcher, round uint64, c Conc) {
	d.Dispatch(action.Action{
		Name: action.TilePartialDataLoaded,
		Payload: action.PartialLoaded{
			TileID:  m.TileID(),
			Round:   round,
			QueryID: c.QueryID,
			ConcID:  c.ConcID,
			IsEmpty: len(c.Lines) == 0,
			Data:    c,
		},
	})
}

// result builds the terminal action. The body carries the concordance id
// of every slot (empty for failed ones) and the distinct KWIC words as
// sub-queries.
func (m *Model) result(s State, concs []Conc) action.Action {
	body := action.ConcLoaded{
		CorpusName:    s.CorpName,
		SubcorpusName: s.SubcName,
		ConcIDs:       make([]string, len(concs)),
	}
	isEmpty := true
	for i, c := range concs {
		body.ConcIDs[i] = c.ConcID
		if len(c.Lines) > 0 {
			isEmpty = false
		}
		if subq := kwicSubqueries(m.TileID(), c); len(subq.Subqueries) > 0 {
			body.Subqueries = append(body.Subqueries, subq)
		}
	}
	return tiles.Loaded(m.TileID(), s.Round, isEmpty, body, concs)
}

func kwicSubqueries(tileID int, c Conc) action.SubqueryPayload {
	ans := action.SubqueryPayload{TileID: tileID, QueryID: c.QueryID}
	seen := make(map[string]bool)
	for _, line := range c.Lines {
		words := make([]string, len(line.Kwic))
		for i, t := range line.Kwic {
			words[i] = t.Str
		}
		value := strings.Join(words, " ")
		key := strings.ToLower(value)
		if value == "" || seen[key] {
			continue
		}
		seen[key] = true
		ans.Subqueries = append(ans.Subqueries, action.Subquery{
			Value:         value,
			InteractionID: backends.InteractionID(value),
		})
	}
	return ans
}
