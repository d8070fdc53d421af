// Package layout turns the configured tiles of a query type into tile
// models. Tiles get ids by their position in the layout and dependency names
// (waitFor, readSubqFrom) are resolved to those ids.
package layout

import (
	"context"
	"sort"
	"time"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/tiles"
	"github.com/czcorpus/wag-sub001/internal/tiles/colloc"
	"github.com/czcorpus/wag-sub001/internal/tiles/concfilter"
	"github.com/czcorpus/wag-sub001/internal/tiles/concordance"
	"github.com/czcorpus/wag-sub001/internal/tiles/freqtree"
	"github.com/czcorpus/wag-sub001/internal/tiles/matchingdocs"
	"github.com/czcorpus/wag-sub001/internal/tiles/mergecorpfreq"
	"github.com/czcorpus/wag-sub001/internal/tiles/wordforms"
	"github.com/czcorpus/wag-sub001/internal/tiles/wordsim"
)

// Factory creates a tile model from its raw configuration.
type Factory func(env tiles.Env, raw map[string]interface{}) (tiles.Model, error)

var factories = map[string]Factory{
	concordance.TileType:   concordance.Create,
	colloc.TileType:        colloc.Create,
	freqtree.TileType:      freqtree.Create,
	mergecorpfreq.TileType: mergecorpfreq.Create,
	concfilter.TileType:    concfilter.Create,
	wordforms.TileType:     wordforms.Create,
	wordsim.TileType:       wordsim.Create,
	matchingdocs.TileType:  matchingdocs.Create,
}

// TileTypes returns the known tile types, sorted.
func TileTypes() []string {
	ans := make([]string, 0, len(factories))
	for t := range factories {
		ans = append(ans, t)
	}
	sort.Strings(ans)
	return ans
}

// Layouts lists tile names per query type in display order.
type Layouts map[query.Type][]string

// Options is shared by all tiles of a layout.
type Options struct {
	Registry    *backends.Registry
	Logger      *logging.Logger
	Ctx         context.Context
	WaitTimeout time.Duration
}

// Tile is one placed tile.
type Tile struct {
	ID          int         `json:"tileId"`
	Name        string      `json:"name"`
	Type        string      `json:"tileType"`
	Label       string      `json:"label,omitempty"`
	WaitFor     []int       `json:"waitFor,omitempty"`
	SubqSources []int       `json:"readSubqFrom,omitempty"`
	Model       tiles.Model `json:"-"`
}

// Layout is the set of tiles taking part in searches of one query type.
type Layout struct {
	QueryType query.Type `json:"queryType"`
	Tiles     []Tile     `json:"tiles"`
}

// Models returns the tile models in layout order.
func (l *Layout) Models() []tiles.Model {
	ans := make([]tiles.Model, len(l.Tiles))
	for i, t := range l.Tiles {
		ans[i] = t.Model
	}
	return ans
}

// Tile returns the tile with id.
func (l *Layout) Tile(id int) (Tile, bool) {
	for _, t := range l.Tiles {
		if t.ID == id {
			return t, true
		}
	}
	return Tile{}, false
}

// Upstream returns the tiles id waits for or reads sub-queries from.
func (l *Layout) Upstream(id int) []int {
	t, ok := l.Tile(id)
	if !ok {
		return nil
	}
	seen := make(map[int]bool, len(t.WaitFor)+len(t.SubqSources))
	var ans []int
	for _, ids := range [][]int{t.WaitFor, t.SubqSources} {
		for _, u := range ids {
			if !seen[u] {
				seen[u] = true
				ans = append(ans, u)
			}
		}
	}
	return ans
}

// Chain returns the tiles id depends on, id itself and the tiles depending
// on it, directly or through other tiles. Each tile is listed after all of
// its upstream tiles, otherwise layout order is kept.
func (l *Layout) Chain(id int) []int {
	if _, ok := l.Tile(id); !ok {
		return nil
	}
	related := map[int]bool{id: true}
	var up func(int)
	up = func(n int) {
		for _, u := range l.Upstream(n) {
			if !related[u] {
				related[u] = true
				up(u)
			}
		}
	}
	up(id)

	down := map[int]bool{id: true}
	for grown := true; grown; {
		grown = false
		for _, t := range l.Tiles {
			if down[t.ID] {
				continue
			}
			for _, u := range l.Upstream(t.ID) {
				if down[u] {
					down[t.ID], related[t.ID], grown = true, true, true
					break
				}
			}
		}
	}

	var order []int
	visited := make(map[int]bool, len(related))
	var visit func(int)
	visit = func(n int) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, u := range l.Upstream(n) {
			if related[u] {
				visit(u)
			}
		}
		order = append(order, n)
	}
	for _, t := range l.Tiles {
		if related[t.ID] {
			visit(t.ID)
		}
	}
	return order
}

// placement is a configured tile before its model exists.
type placement struct {
	name string
	conf tiles.Conf
	raw  map[string]interface{}
}

// Build creates the models of the qt layout. Tiles not supporting qt are
// left out; depending on such a tile is a configuration error.
func Build(qt query.Type, layouts Layouts, confs map[string]map[string]interface{}, opts Options) (*Layout, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	names, ok := layouts[qt]
	if !ok || len(names) == 0 {
		return nil, errors.Newf(errors.NotFound, "no layout for query type %s", qt)
	}

	var placed []placement
	ids := make(map[string]int)
	for _, name := range names {
		raw, ok := confs[name]
		if !ok {
			return nil, errors.Newf(errors.ConfigInvalid, "layout %s: unknown tile %s", qt, name)
		}
		if _, dup := ids[name]; dup {
			return nil, errors.Newf(errors.ConfigInvalid, "layout %s: tile %s placed twice", qt, name)
		}
		var conf tiles.Conf
		if err := tiles.DecodeConf(raw, &conf); err != nil {
			return nil, errors.New(errors.ConfigInvalid, "tile "+name+": invalid configuration", err)
		}
		if !conf.Supports(qt) {
			opts.Logger.Debug("Tile does not support query type", map[string]interface{}{
				"tile":      name,
				"queryType": string(qt),
			})
			continue
		}
		ids[name] = len(placed)
		placed = append(placed, placement{name: name, conf: conf, raw: raw})
	}

	ans := &Layout{QueryType: qt, Tiles: make([]Tile, 0, len(placed))}
	for id, p := range placed {
		factory, ok := factories[p.conf.Type]
		if !ok {
			return nil, errors.Newf(errors.ConfigInvalid, "tile %s: unknown tile type %q", p.name, p.conf.Type)
		}
		waitFor, err := resolveNames(p.name, "waitFor", p.conf.WaitFor, ids)
		if err != nil {
			return nil, err
		}
		subqSources, err := resolveNames(p.name, "readSubqFrom", p.conf.SubqSources, ids)
		if err != nil {
			return nil, err
		}
		env := tiles.Env{
			TileID:      id,
			Name:        p.name,
			Registry:    opts.Registry,
			Logger:      opts.Logger.With(map[string]interface{}{"tile": p.name, "tileId": id}),
			Ctx:         opts.Ctx,
			WaitFor:     waitFor,
			SubqSources: subqSources,
			WaitTimeout: opts.WaitTimeout,
		}
		model, err := factory(env, p.raw)
		if err != nil {
			if errors.Code(err) == "" {
				err = errors.New(errors.ConfigInvalid, "tile "+p.name+": failed to create", err)
			}
			return nil, err
		}
		ans.Tiles = append(ans.Tiles, Tile{
			ID:          id,
			Name:        p.name,
			Type:        p.conf.Type,
			Label:       p.conf.Label,
			WaitFor:     waitFor,
			SubqSources: subqSources,
			Model:       model,
		})
	}
	return ans, nil
}

func resolveNames(tile, field string, names []string, ids map[string]int) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ans := make([]int, 0, len(names))
	for _, n := range names {
		id, ok := ids[n]
		if !ok {
			return nil, errors.Newf(errors.ConfigInvalid, "tile %s: %s refers to %s which is not in the layout", tile, field, n)
		}
		if n == tile {
			return nil, errors.Newf(errors.ConfigInvalid, "tile %s: %s refers to the tile itself", tile, field)
		}
		ans = append(ans, id)
	}
	return ans, nil
}
