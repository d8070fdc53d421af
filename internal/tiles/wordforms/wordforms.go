// Package wordforms implements the tile listing the word forms of the
// queried lemma with their frequency ratios.
package wordforms

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// TileType is the configuration name of the tile.
const TileType = "WordFormsTile"

const defaultMaxItems = 10

// Conf configures a word forms tile.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	CorpName          string                     `json:"corpname" mapstructure:"corpname"`
	MaxItems          int                        `json:"maxNumItems,omitempty" mapstructure:"maxNumItems"`
	PosQueryGenerator backends.PosQueryGenerator `json:"posQueryGenerator" mapstructure:"posQueryGenerator"`
}

// Forms lists the forms of one query slot, most frequent first.
type Forms struct {
	QueryID int                 `json:"queryId"`
	Lemma   string              `json:"lemma"`
	Forms   []backends.WordForm `json:"forms"`
	Error   string              `json:"error,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	CorpName          string                     `json:"corpname"`
	MaxItems          int                        `json:"maxNumItems"`
	PosQueryGenerator backends.PosQueryGenerator `json:"-"`
	Matches           query.MatchSet             `json:"-"`
	Data              []Forms                    `json:"data"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

// Model is the word forms tile model.
type Model struct {
	*tiles.Base[State]
	api backends.WordFormsAPI
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
	api, err := env.Registry.WordFormsAPI(conf.API)
	if err != nil {
		return nil, err
	}
	maxItems := conf.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	m := &Model{
		Base: tiles.NewBase(env, State{
			CorpName:          conf.CorpName,
			MaxItems:          maxItems,
			PosQueryGenerator: conf.PosQueryGenerator,
		}),
		api: api,
	}
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.load})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.load})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
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
	s.Common = s.Common.Begin(p.Round, nil)
	s.Matches = p.Matches.Clone()
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
	if data, ok := p.Data.([]Forms); ok {
		s.Data = data
	}
	return s
}

func (m *Model) load(s State, a action.Action, d action.Dispatcher) {
	m.Go(
		func(ctx context.Context) error {
			data := make([]Forms, len(s.Matches))
			errs := make([]error, len(s.Matches))
			var attempted int
			var g errgroup.Group
			for i := range data {
				match, ok := s.Matches.Current(i)
				data[i] = Forms{QueryID: i, Lemma: match.Lemma}
				// words missing in the dictionary have no known forms
				if !ok || match.IsNonDict || match.Lemma == "" {
					continue
				}
				attempted++
				i := i
				g.Go(func() error {
					forms, err := m.forms(ctx, s, match)
					if err != nil {
						errs[i] = err
						data[i].Error = errors.UserMessage(err)
						return nil
					}
					data[i].Forms = forms
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
			for _, f := range data {
				if len(f.Forms) > 0 {
					isEmpty = false
				}
			}
			d.Dispatch(tiles.Loaded(m.TileID(), s.Round, isEmpty, nil, data))
			return nil
		},
		func(err error) { m.Fail(d, s.Round, err) },
	)
}

// forms returns the forms sorted by frequency with ratios summing to one
// over the returned items.
func (m *Model) forms(ctx context.Context, s State, match query.QueryMatch) ([]backends.WordForm, error) {
	args, err := m.api.StateToArgs(backends.FormsQuery{
		CorpName:          s.CorpName,
		Limit:             s.MaxItems,
		PosQueryGenerator: s.PosQueryGenerator,
	}, match)
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
	forms := append([]backends.WordForm(nil), resp.Forms...)
	sort.SliceStable(forms, func(i, j int) bool { return forms[i].Freq > forms[j].Freq })
	if len(forms) > s.MaxItems {
		forms = forms[:s.MaxItems]
	}
	var total int
	for _, f := range forms {
		total += f.Freq
	}
	for i := range forms {
		if total > 0 {
			forms[i].Ratio = float64(forms[i].Freq) / float64(total)
		}
		if forms[i].InteractionID == "" {
			forms[i].InteractionID = backends.InteractionID(forms[i].Value)
		}
	}
	return forms, nil
}
