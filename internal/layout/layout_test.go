package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/testutil"
)

func api(name string) map[string]interface{} {
	return map[string]interface{}{"apiType": string(testutil.Vendor), "apiURL": name}
}

func tileConfs() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"conc": {
			"tileType":            "ConcordanceTile",
			"api":                 api("kontext"),
			"corpname":            "susanne",
			"supportedQueryTypes": []string{"single", "cmp"},
		},
		"coll": {
			"tileType":            "CollocTile",
			"api":                 api("kontext"),
			"corpname":            "susanne",
			"cattr":               "word",
			"waitFor":             []string{"conc"},
			"supportedQueryTypes": []string{"single", "cmp"},
		},
		"sim": {
			"tileType": "WordSimTile",
			"api":      api("datamuse"),
		},
		"filter": {
			"tileType":     "ConcFilterTile",
			"api":          api("kontext"),
			"corpname":     "susanne",
			"waitFor":      []string{"conc"},
			"readSubqFrom": []string{"coll", "sim"},
		},
	}
}

func options() Options {
	return Options{Registry: testutil.Registry(map[string]interface{}{
		"kontext": testutil.ByCapability{
			backends.CapConcordance:  &testutil.ConcAPI{},
			backends.CapCollocations: &testutil.CollAPI{},
		},
		"datamuse": &testutil.WordSimAPI{},
	})}
}

func TestBuildResolvesNames(t *testing.T) {
	layouts := Layouts{query.Single: {"conc", "coll", "sim", "filter"}}
	l, err := Build(query.Single, layouts, tileConfs(), options())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	type placed struct {
		ID          int
		Name        string
		Type        string
		WaitFor     []int
		SubqSources []int
	}
	var got []placed
	for _, tile := range l.Tiles {
		if tile.Model == nil || tile.Model.TileID() != tile.ID {
			t.Errorf("tile %s: model missing or with a wrong id", tile.Name)
		}
		got = append(got, placed{tile.ID, tile.Name, tile.Type, tile.WaitFor, tile.SubqSources})
	}
	want := []placed{
		{0, "conc", "ConcordanceTile", nil, nil},
		{1, "coll", "CollocTile", []int{0}, nil},
		{2, "sim", "WordSimTile", nil, nil},
		{3, "filter", "ConcFilterTile", []int{0}, []int{1, 2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected layout (-want +got):\n%s", diff)
	}
	if len(l.Models()) != 4 {
		t.Errorf("expected 4 models, got %d", len(l.Models()))
	}
	if tile, ok := l.Tile(2); !ok || tile.Name != "sim" {
		t.Errorf("Tile(2) = %+v, %v", tile, ok)
	}
}

func TestUnsupportedTilesLeftOut(t *testing.T) {
	layouts := Layouts{query.Cmp: {"conc", "sim", "coll"}}
	l, err := Build(query.Cmp, layouts, tileConfs(), options())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var names []string
	for _, tile := range l.Tiles {
		names = append(names, tile.Name)
	}
	if diff := cmp.Diff([]string{"conc", "coll"}, names); diff != "" {
		t.Errorf("unexpected tiles (-want +got):\n%s", diff)
	}
	if l.Tiles[1].ID != 1 || l.Tiles[1].WaitFor[0] != 0 {
		t.Errorf("ids must follow the filtered order, got %+v", l.Tiles[1])
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		layouts Layouts
		qt      query.Type
		edit    func(confs map[string]map[string]interface{})
		code    errors.ErrorCode
	}{
		{
			name:    "no layout for query type",
			layouts: Layouts{query.Single: {"conc"}},
			qt:      query.Translat,
			code:    errors.NotFound,
		},
		{
			name:    "unknown tile name",
			layouts: Layouts{query.Single: {"conc", "missing"}},
			qt:      query.Single,
			code:    errors.ConfigInvalid,
		},
		{
			name:    "dependency outside the layout",
			layouts: Layouts{query.Single: {"coll"}},
			qt:      query.Single,
			code:    errors.ConfigInvalid,
		},
		{
			name:    "dependency on an unsupported tile",
			layouts: Layouts{query.Cmp: {"conc", "sim", "filter"}},
			qt:      query.Cmp,
			edit: func(confs map[string]map[string]interface{}) {
				confs["filter"]["supportedQueryTypes"] = []string{"cmp"}
			},
			code: errors.ConfigInvalid,
		},
		{
			name:    "unknown tile type",
			layouts: Layouts{query.Single: {"conc"}},
			qt:      query.Single,
			edit: func(confs map[string]map[string]interface{}) {
				confs["conc"]["tileType"] = "TimeDistribTile"
			},
			code: errors.ConfigInvalid,
		},
		{
			name:    "tile rejects its configuration",
			layouts: Layouts{query.Single: {"conc", "coll"}},
			qt:      query.Single,
			edit: func(confs map[string]map[string]interface{}) {
				delete(confs["coll"], "waitFor")
			},
			code: errors.ConfigInvalid,
		},
		{
			name:    "missing adapter",
			layouts: Layouts{query.Single: {"conc"}},
			qt:      query.Single,
			edit: func(confs map[string]map[string]interface{}) {
				confs["conc"]["api"] = api("nowhere")
			},
			code: errors.ConfigInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confs := tileConfs()
			if tt.edit != nil {
				tt.edit(confs)
			}
			_, err := Build(tt.qt, tt.layouts, confs, options())
			if !errors.Is(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestTileTypes(t *testing.T) {
	got := TileTypes()
	if len(got) != 8 || got[0] != "CollocTile" || got[7] != "WordSimTile" {
		t.Errorf("unexpected tile types %v", got)
	}
}

func TestChain(t *testing.T) {
	// layout order deliberately lists a dependent before its upstream
	l := &Layout{Tiles: []Tile{
		{ID: 0, Name: "filter", WaitFor: []int{2}, SubqSources: []int{1, 2}},
		{ID: 1, Name: "sim"},
		{ID: 2, Name: "conc"},
		{ID: 3, Name: "coll", WaitFor: []int{2}},
		{ID: 4, Name: "forms"},
	}}

	if diff := cmp.Diff([]int{2, 1}, l.Upstream(0)); diff != "" {
		t.Errorf("Upstream(0) mismatch (-want +got):\n%s", diff)
	}
	tests := []struct {
		tile int
		want []int
	}{
		{3, []int{2, 3}},
		{2, []int{2, 0, 3}},
		{1, []int{1, 0}},
		{0, []int{2, 1, 0}},
		{4, []int{4}},
		{9, nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, l.Chain(tt.tile)); diff != "" {
			t.Errorf("Chain(%d) mismatch (-want +got):\n%s", tt.tile, diff)
		}
	}
}
