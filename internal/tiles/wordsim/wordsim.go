// Package wordsim implements the word similarity tile. The similar words
// are published as sub-queries for tiles reading them.
package wordsim

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "WordSimTile"

// ParamOperation is the tweak parameter switching the similarity kind.
const ParamOperation = "operation"

// Similarity operations
const (
	OpMeansLike  = "ml"
	OpSoundsLike = "sl"
)

const defaultMaxResults = 20

// Conf configures a word similarity tile.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	MaxResults int    `json:"maxResultItems,omitempty" mapstructure:"maxResultItems"`
	Operation  string `json:"operation,omitempty" mapstructure:"operation"`
	// CorpName only names the source in source info requests
	CorpName string `json:"corpname,omitempty" mapstructure:"corpname"`
}

// Words lists the similar words of one query slot.
type Words struct {
	QueryID int                    `json:"queryId"`
	Words   []backends.WordSimWord `json:"words"`
	Error   string                 `json:"error,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	MaxResults int            `json:"maxResultItems"`
	Operation  string         `json:"operation"`
	Lang1      string         `json:"lang1,omitempty"`
	Lang2      string         `json:"lang2,omitempty"`
	Matches    query.MatchSet `json:"-"`
	Data       []Words        `json:"data"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

// Model is the word similarity tile model.
type Model struct {
	*tiles.Base[State]
	api backends.WordSimAPI
}

// Create decodes raw and creates the model.
func Create(env tiles.Env, raw map[string]interface{}) (tiles.Model, error) {
	var conf Conf
	if err := tiles.DecodeConf(raw, &conf); err != nil {
		return nil, err
	}
	return New(env, conf)
}

func validOperation(op string) bool {
	return op == OpMeansLike || op == OpSoundsLike
}

// New creates the model.
func New(env tiles.Env, conf Conf) (*Model, error) {
	api, err := env.Registry.WordSimAPI(conf.API)
	if err != nil {
		return nil, err
	}
	op := conf.Operation
	if op == "" {
		op = OpMeansLike
	}
	if !validOperation(op) {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: unknown operation %q", env.Name, conf.Operation)
	}
	maxResults := conf.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	m := &Model{
		Base: tiles.NewBase(env, State{MaxResults: maxResults, Operation: op}),
		api:  api,
	}
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.request})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.request})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.On(action.TileTweakParam, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceTweak, Effect: m.tweak})
	m.HandleSourceInfo(api, conf.CorpName)
	return m, nil
}

func (m *Model) reduceRequest(s State, a action.Action) State {
	p, ok := a.Payload.(action.QueryRequest)
	if !ok {
		return s
	}
	s.Common = s.Common.Begin(p.Round, nil)
	s.Matches = p.Matches.Clone()
	s.Lang1, s.Lang2 = p.Lang1, p.Lang2
	s.Data = nil
	return s
}

func (m *Model) reduceRetry(s State, a action.Action) State {
	s.Common = s.Common.Begin(s.Round, nil)
	return s
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if data, ok := p.Data.([]Words); ok {
		s.Data = data
	}
	return s
}

func (m *Model) reduceTweak(s State, a action.Action) State {
	p := a.Payload.(action.TweakParam)
	if p.Param != ParamOperation || !validOperation(p.Value) {
		return s
	}
	s.Operation = p.Value
	s.Common = s.Common.Begin(s.Round, nil)
	return s
}

func (m *Model) tweak(s State, a action.Action, d action.Dispatcher) {
	p := a.Payload.(action.TweakParam)
	if p.Param != ParamOperation || !validOperation(p.Value) {
		d.Dispatch(sysmsg.ErrorAction(m.TileID(), "unsupported parameter value "+p.Param+"="+p.Value))
		return
	}
	m.Go(
		func(ctx context.Context) error { return m.load(ctx, s, d, true) },
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

func (m *Model) request(s State, a action.Action, d action.Dispatcher) {
	m.Go(
		func(ctx context.Context) error { return m.load(ctx, s, d, false) },
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

// load looks up similar words of every query slot. With announce set the
// new sub-queries are broadcast by SubqChanged as well.
func (m *Model) load(ctx context.Context, s State, d action.Dispatcher, announce bool) error {
	data := make([]Words, len(s.Matches))
	errs := make([]error, len(s.Matches))
	var g errgroup.Group
	for i := range data {
		data[i] = Words{QueryID: i}
		i := i
		g.Go(func() error {
			match, ok := s.Matches.Current(i)
			if !ok {
				errs[i] = errors.Newf(errors.ArgsMapping, "no query for slot %d", i)
				return nil
			}
			args, err := m.api.StateToArgs(backends.WordSimQuery{MaxResults: s.MaxResults, Operation: s.Operation}, match)
			if err == nil {
				var resp *backends.WordSimApiResponse
				if resp, err = m.api.Call(ctx, args); err == nil && resp != nil {
					data[i].Words = resp.Words
				}
			}
			if err != nil {
				errs[i] = err
				data[i].Error = errors.UserMessage(err)
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
	if len(data) == 0 {
		return errors.Newf(errors.ArgsMapping, "no query to look up")
	}
	if len(failed) == len(data) {
		return errs[0]
	}
	for _, i := range failed {
		m.FailPartial(d, s.Round, i, errs[i])
	}

	isEmpty := true
	items := make([]action.SubqueryPayload, len(data))
	for i, w := range data {
		if len(w.Words) > 0 {
			isEmpty = false
		}
		items[i] = action.SubqueryPayload{TileID: m.TileID(), QueryID: w.QueryID, Lang1: s.Lang1, Lang2: s.Lang2}
		for _, word := range w.Words {
			id := word.InteractionID
			if id == "" {
				id = backends.InteractionID(word.Word)
			}
			items[i].Subqueries = append(items[i].Subqueries, action.Subquery{Value: word.Word, InteractionID: id})
		}
	}
	d.Dispatch(tiles.Loaded(m.TileID(), s.Round, isEmpty, action.SubqueryList{Items: items}, data))
	if announce {
		for _, item := range items {
			d.Dispatch(action.Action{Name: action.SubqChanged, Payload: item})
		}
	}
	return nil
}
