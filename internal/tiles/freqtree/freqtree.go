// Package freqtree implements the two-level frequency tile: the top values
// of a first criterion and, for each of them, the distribution of a second
// criterion over the concordance filtered to that value.
package freqtree

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
const TileType = "FreqTreeTile"

const (
	defaultMaxItems = 5
	maxParallel     = 4
)

// Conf configures a frequency tree tile. FcritTree holds two KonText style
// criteria ("attr offset"); the first one must be a positional attribute
// of the KWIC.
type Conf struct {
	tiles.Conf `mapstructure:",squash"`

	CorpName  string   `json:"corpname" mapstructure:"corpname"`
	SubcName  string   `json:"subcname,omitempty" mapstructure:"subcname"`
	FcritTree []string `json:"fcritTree" mapstructure:"fcritTree"`
	// TreeLabels name the levels in the rendered tree
	TreeLabels []string `json:"treeLabels,omitempty" mapstructure:"treeLabels"`
	FLimit     int      `json:"flimit,omitempty" mapstructure:"flimit"`
	MaxItems   int      `json:"maxItems,omitempty" mapstructure:"maxItems"`
}

// Node is one value of a tree level.
type Node struct {
	Name     string  `json:"name"`
	Freq     int     `json:"freq"`
	IPM      float64 `json:"ipm"`
	Children []Node  `json:"children,omitempty"`
}

// Tree is the breakdown of one query slot.
type Tree struct {
	QueryID int    `json:"queryId"`
	Nodes   []Node `json:"nodes"`
	Error   string `json:"error,omitempty"`
}

// State is the rendered state of the tile.
type State struct {
	tiles.Common
	CorpName   string         `json:"corpname"`
	SubcName   string         `json:"subcname,omitempty"`
	FcritTree  []string       `json:"fcritTree"`
	TreeLabels []string       `json:"treeLabels,omitempty"`
	FLimit     int            `json:"flimit"`
	MaxItems   int            `json:"maxItems"`
	Matches    query.MatchSet `json:"-"`
	Trees      []Tree         `json:"trees"`
}

func (s State) Commons() tiles.Common { return s.Common }

func (s State) WithCommons(c tiles.Common) State {
	s.Common = c
	return s
}

func (s State) freqQuery(level int) backends.FreqQuery {
	return backends.FreqQuery{
		CorpName:    s.CorpName,
		SubcorpName: s.SubcName,
		Fcrit:       s.FcritTree[level],
		FLimit:      s.FLimit,
		FMaxItems:   s.MaxItems,
	}
}

// Model is the frequency tree tile model.
type Model struct {
	*tiles.Base[State]
	freqs backends.FreqAPI
	conc  backends.ConcAPI
	deps  *tiles.Resolver
}

// Create decodes raw and creates the model.
func Create(env tiles.Env, raw map[string]interface{}) (tiles.Model, error) {
	var conf Conf
	if err := tiles.DecodeConf(raw, &conf); err != nil {
		return nil, err
	}
	return New(env, conf)
}

// New creates the model. The tile waits for a concordance tile; the same
// API serves filtered concordances and frequencies.
func New(env tiles.Env, conf Conf) (*Model, error) {
	if len(env.WaitFor) == 0 {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: frequency tree needs a concordance tile to wait for", env.Name)
	}
	if len(conf.FcritTree) != 2 || strings.TrimSpace(conf.FcritTree[0]) == "" || strings.TrimSpace(conf.FcritTree[1]) == "" {
		return nil, errors.Newf(errors.ConfigInvalid, "tile %s: fcritTree must contain two criteria", env.Name)
	}
	freqs, err := env.Registry.FreqAPI(conf.API)
	if err != nil {
		return nil, err
	}
	conc, err := env.Registry.ConcAPI(conf.API)
	if err != nil {
		return nil, err
	}
	maxItems := conf.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	m := &Model{
		Base: tiles.NewBase(env, State{
			CorpName:   conf.CorpName,
			SubcName:   conf.SubcName,
			FcritTree:  conf.FcritTree,
			TreeLabels: conf.TreeLabels,
			FLimit:     max(conf.FLimit, 1),
			MaxItems:   maxItems,
		}),
		freqs: freqs,
		conc:  conc,
		deps:  tiles.NewResolver(env.WaitFor...),
	}
	m.DependOn(m.deps)
	m.On(action.RequestQueryResponse, tiles.Handler[State]{Reduce: m.reduceRequest, Effect: m.request})
	m.On(action.RetryTileLoad, tiles.Handler[State]{Accept: m.Idle, Reduce: m.reduceRetry, Effect: m.retry})
	m.On(action.TileDataLoaded, tiles.Handler[State]{Reduce: m.reduceLoaded})
	m.On(action.TilePartialDataLoaded, tiles.Handler[State]{Reduce: m.reducePartial})
	m.HandleSourceInfo(conc, conf.CorpName)
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
	s.Trees = nil
	return s
}

func (m *Model) request(s State, a action.Action, d action.Dispatcher) {
	m.AwaitUpstream(d, m.deps, s.Round, func(ctx context.Context) error {
		return m.load(ctx, s, d)
	})
}

func (m *Model) reduceRetry(s State, a action.Action) State {
	s.Common = s.Common.Begin(s.Round, m.deps.Rearm())
	return s
}

// retry waits for the concordance only when the round has none yet
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
	tree, ok := p.Data.(Tree)
	if !ok {
		tree = Tree{QueryID: p.QueryID}
	}
	if a.Error != nil {
		tree.Error = errors.UserMessage(a.Error)
	}
	trees := make([]Tree, 0, len(s.Trees)+1)
	for _, t := range s.Trees {
		if t.QueryID != p.QueryID {
			trees = append(trees, t)
		}
	}
	s.Trees = append(trees, tree)
	return s
}

func (m *Model) reduceLoaded(s State, a action.Action) State {
	p, ok := m.OwnResult(s, a)
	if !ok {
		return s
	}
	s.Common = s.Common.Finish(a, p.IsEmpty)
	if trees, ok := p.Data.([]Tree); ok {
		s.Trees = trees
	}
	return s
}

func (m *Model) load(ctx context.Context, s State, d action.Dispatcher) error {
	src, ok := m.deps.ConcSource()
	if !ok {
		return errors.Newf(errors.DependencyFailed, "no concordance to compute frequencies from")
	}
	trees := make([]Tree, len(src.ConcIDs))
	errs := make([]error, len(src.ConcIDs))
	var attempted int
	var g errgroup.Group
	for i, concID := range src.ConcIDs {
		trees[i] = Tree{QueryID: i}
		if concID == "" {
			continue
		}
		attempted++
		i, concID := i, concID
		g.Go(func() error {
			match, _ := s.Matches.Current(i)
			nodes, err := m.loadTree(ctx, s, match, i, concID)
			if err != nil {
				errs[i] = err
				trees[i].Error = errors.UserMessage(err)
				return nil
			}
			trees[i].Nodes = nodes
			d.Dispatch(action.Action{
				Name: action.TilePartialDataLoaded,
				Payload: action.PartialLoaded{
					TileID:  m.TileID(),
					Round:   s.Round,
					QueryID: i,
					ConcID:  concID,
					IsEmpty: len(nodes) == 0,
					Data:    trees[i],
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
	if attempted > 0 && len(failed) == attempted {
		return errs[failed[0]]
	}
	for _, i := range failed {
		m.FailPartial(d, s.Round, i, errs[i])
	}
	isEmpty := true
	for _, t := range trees {
		if len(t.Nodes) > 0 {
			isEmpty = false
		}
	}
	d.Dispatch(tiles.Loaded(m.TileID(), s.Round, isEmpty, nil, trees))
	return nil
}

// loadTree fetches the first level and then, with bounded parallelism,
// the second level of every first level value. Any failed branch fails
// the tree.
func (m *Model) loadTree(ctx context.Context, s State, match query.QueryMatch, queryIdx int, concID string) ([]Node, error) {
	args, err := m.freqs.StateToArgs(s.freqQuery(0), match, concID)
	if err != nil {
		return nil, err
	}
	resp, err := m.freqs.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	top := resp.Data
	if len(top) > s.MaxItems {
		top = top[:s.MaxItems]
	}
	attr := strings.Fields(s.FcritTree[0])[0]
	nodes := make([]Node, len(top))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for j, item := range top {
		nodes[j] = Node{Name: item.Name, Freq: item.Freq, IPM: item.IPM}
		j, item := j, item
		g.Go(func() error {
			children, err := m.loadBranch(gctx, s, match, queryIdx, concID, attr, item.Name)
			if err != nil {
				return fmt.Errorf("branch %q: %w", item.Name, err)
			}
			nodes[j].Children = children
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (m *Model) loadBranch(ctx context.Context, s State, match query.QueryMatch, queryIdx int, concID, attr, value string) ([]Node, error) {
	filter := &backends.ConcFilter{
		CQL: fmt.Sprintf(`[%s="%s"]`, attr, backends.EscapeCQL(value)),
	}
	cargs, err := m.conc.StateToArgs(
		backends.ConcQuery{CorpName: s.CorpName, SubcorpName: s.SubcName, PageSize: 1},
		match, queryIdx, backends.ArgsContext{ConcID: concID, Filter: filter},
	)
	if err != nil {
		return nil, err
	}
	cresp, err := m.conc.Call(ctx, cargs)
	if err != nil {
		return nil, err
	}
	if cresp == nil || cresp.ConcPersistenceID == "" {
		return nil, errors.Newf(errors.MalformedResponse, "filtered concordance has no persistence id")
	}
	fargs, err := m.freqs.StateToArgs(s.freqQuery(1), match, cresp.ConcPersistenceID)
	if err != nil {
		return nil, err
	}
	fresp, err := m.freqs.Call(ctx, fargs)
	if err != nil {
		return nil, err
	}
	if fresp == nil {
		return nil, nil
	}
	data := fresp.Data
	if len(data) > s.MaxItems {
		data = data[:s.MaxItems]
	}
	ans := make([]Node, len(data))
	for i, item := range data {
		ans[i] = Node{Name: item.Name, Freq: item.Freq, IPM: item.IPM}
	}
	return ans, nil
}
