package main

import (
	"strings"
	"testing"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/layout"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

func TestFormatResponse_JSON(t *testing.T) {
	resp := map[string]interface{}{
		"key": "value",
		"num": 42,
	}

	result, err := FormatResponse(resp, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, `"key": "value"`) {
		t.Error("JSON output missing expected key")
	}
	if !strings.Contains(result, `"num": 42`) {
		t.Error("JSON output missing expected number")
	}
}

func TestFormatResponse_YAMLUsesJSONNames(t *testing.T) {
	resp := struct {
		QueryType string `json:"queryType"`
		Round     int    `json:"round"`
	}{"single", 3}

	result, err := FormatResponse(resp, FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "queryType: single") {
		t.Errorf("YAML output should use json field names, got:\n%s", result)
	}
	if !strings.Contains(result, "round: 3") {
		t.Errorf("YAML output missing round, got:\n%s", result)
	}
}

func TestFormatResponse_UnsupportedFormat(t *testing.T) {
	_, err := FormatResponse(map[string]string{"key": "value"}, "xml")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("error should mention unsupported format, got: %v", err)
	}
}

func TestFormatResultHuman(t *testing.T) {
	res := &dashboard.Result{
		SessionID: "s1",
		Round:     2,
		QueryType: query.Single,
		Queries:   []string{"house"},
		Matches: query.MatchSet{{
			{Lemma: "house", Word: "house", PoS: []query.PosItem{{Value: "N", Label: "noun"}}, IPM: 120, IsCurrent: true},
			{Lemma: "house", Word: "house", PoS: []query.PosItem{{Value: "V", Label: "verb"}}, IPM: 3},
		}},
		Tiles: []dashboard.TileResult{
			{Tile: layout.Tile{ID: 0, Name: "conc", Type: "ConcordanceTile"}, Phase: tiles.PhaseReady},
			{Tile: layout.Tile{ID: 1, Name: "sim", Type: "WordSimTile"}, Phase: tiles.PhaseErrored, IsEmpty: true, Error: "server returned 503"},
		},
		Messages: []sysmsg.Message{{Type: sysmsg.TypeError, Text: "server returned 503", TileID: 1}},
	}

	out, err := FormatResponse(res, FormatHuman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Word at a Glance: house (single)",
		"* 0. house [noun] 120.00 ipm",
		"  1. house [verb] 3.00 ipm",
		"✓ [0] conc (ConcordanceTile): ready",
		"✗ [1] sim (WordSimTile): errored - server returned 503",
		"! error: server returned 503",
		"Search timed out",
		"Round 2, session s1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestJoinInts(t *testing.T) {
	tests := []struct {
		ids  []int
		want string
	}{
		{nil, ""},
		{[]int{3}, "3"},
		{[]int{0, 2, 5}, "0, 2, 5"},
	}
	for _, tt := range tests {
		if got := joinInts(tt.ids); got != tt.want {
			t.Errorf("joinInts(%v) = %q, want %q", tt.ids, got, tt.want)
		}
	}
}

func TestProgressLine(t *testing.T) {
	sim := dashboard.TileResult{
		Tile:  layout.Tile{ID: 2, Name: "sim", Type: "WordSimTile"},
		Phase: tiles.PhaseErrored,
		Error: "server returned 503",
	}
	tests := []struct {
		name string
		p    dashboard.Progress
		want string
	}{
		{"round", dashboard.Progress{Kind: dashboard.ProgressRound, Round: 3}, "round 3 started"},
		{"tile", dashboard.Progress{Kind: dashboard.ProgressTile, Tile: &sim}, "✗ [2] sim: errored - server returned 503"},
		{"partial", dashboard.Progress{Kind: dashboard.ProgressPartial, Tile: &sim}, ""},
		{"message", dashboard.Progress{Kind: dashboard.ProgressMessage, Message: &action.SystemMessage{Type: "warning", Text: "no data"}}, "! warning: no data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressLine(tt.p); got != tt.want {
				t.Errorf("progressLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
