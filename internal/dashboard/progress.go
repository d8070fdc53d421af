package dashboard

import (
	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// ProgressKind tells which field of a Progress is set.
type ProgressKind string

const (
	// ProgressRound reports the round number and the resolved lemma variants
	ProgressRound ProgressKind = "round"
	// ProgressTile reports a tile that finished the round
	ProgressTile ProgressKind = "tile"
	// ProgressPartial reports partial data of a tile still loading
	ProgressPartial ProgressKind = "partial"
	// ProgressMessage reports a system message
	ProgressMessage ProgressKind = "message"
)

// Progress is one step of a running search round.
type Progress struct {
	Kind    ProgressKind
	Round   uint64
	Matches query.MatchSet
	Tile    *TileResult
	Message *action.SystemMessage
}

// ProgressFunc receives the steps of a round in the order they happen.
type ProgressFunc func(Progress)
