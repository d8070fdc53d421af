// Package action defines the messages exchanged between tile models and the
// bus that delivers them.
package action

import (
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Name identifies an action. Handlers subscribe by name.
type Name string

const (
	// RequestQueryResponse starts a new round for every tile
	RequestQueryResponse Name = "MAIN_REQUEST_QUERY_RESPONSE"
	// TileDataLoaded is a tile's terminal result for a round
	TileDataLoaded Name = "MAIN_TILE_DATA_LOADED"
	// TilePartialDataLoaded reports one finished query slot of a multi-slot tile
	TilePartialDataLoaded Name = "MAIN_TILE_PARTIAL_DATA_LOADED"
	// SubqChanged broadcasts a new sub-query list outside a regular load
	SubqChanged Name = "MAIN_SUBQ_CHANGED"

	EnableTileTweakMode  Name = "MAIN_ENABLE_TILE_TWEAK_MODE"
	DisableTileTweakMode Name = "MAIN_DISABLE_TILE_TWEAK_MODE"
	EnableAltViewMode    Name = "MAIN_ENABLE_ALT_VIEW_MODE"
	DisableAltViewMode   Name = "MAIN_DISABLE_ALT_VIEW_MODE"

	GetSourceInfo     Name = "MAIN_GET_SOURCE_INFO"
	GetSourceInfoDone Name = "MAIN_GET_SOURCE_INFO_DONE"

	// RetryTileLoad re-runs the load path of a single tile
	RetryTileLoad Name = "MAIN_RETRY_TILE_LOAD"
	// TilePageChange moves a paginated tile to another page
	TilePageChange Name = "MAIN_TILE_PAGE_CHANGE"
	// TileTweakParam changes one tweak-mode parameter of a tile
	TileTweakParam Name = "MAIN_TILE_TWEAK_PARAM"

	SubmitQuery          Name = "QUERY_SUBMIT"
	ChangeQueryInput     Name = "QUERY_CHANGE_INPUT"
	ChangeCurrentLemma   Name = "QUERY_CHANGE_CURRENT_LEMMA"
	QueryMatchesResolved Name = "QUERY_MATCHES_RESOLVED"

	AddSystemMessage Name = "MAIN_ADD_SYSTEM_MESSAGE"
)

// Kind is the explicit discriminant of a payload.
type Kind string

const (
	KindQueryRequest   Kind = "queryRequest"
	KindTileLoaded     Kind = "tileLoaded"
	KindPartialLoaded  Kind = "partialLoaded"
	KindSubqueries     Kind = "subqueries"
	KindConcLoaded     Kind = "concLoaded"
	KindTileRef        Kind = "tileRef"
	KindSourceInfo     Kind = "sourceInfo"
	KindSourceInfoDone Kind = "sourceInfoDone"
	KindPageChange     Kind = "pageChange"
	KindTweakParam     Kind = "tweakParam"
	KindQuerySubmit    Kind = "querySubmit"
	KindQueryInput     Kind = "queryInput"
	KindLemmaChoice    Kind = "lemmaChoice"
	KindMatches        Kind = "matches"
	KindSystemMessage  Kind = "systemMessage"
	KindEmpty          Kind = "empty"
)

// Payload is implemented by every action payload.
type Payload interface {
	Kind() Kind
}

// TileScoped is implemented by payloads addressed to (or sent by) one tile.
type TileScoped interface {
	Payload
	TileIdent() int
}

// Action is an immutable message. Error set means the operation named by
// the payload's tile failed.
type Action struct {
	Name    Name
	Payload Payload
	Error   error
}

// TileID returns the tile a payload refers to, if any.
func (a Action) TileID() (int, bool) {
	if ts, ok := a.Payload.(TileScoped); ok {
		return ts.TileIdent(), true
	}
	return 0, false
}

// IsFrom reports whether a is name sent by (or addressed to) tileID.
func (a Action) IsFrom(name Name, tileID int) bool {
	if a.Name != name {
		return false
	}
	id, ok := a.TileID()
	return ok && id == tileID
}

// Round returns the round an action belongs to, 0 for round-less actions.
func (a Action) Round() uint64 {
	if r, ok := a.Payload.(interface{ RoundID() uint64 }); ok {
		return r.RoundID()
	}
	return 0
}

// Empty is a payload for actions carrying no data.
type Empty struct{}

func (Empty) Kind() Kind { return KindEmpty }

// QueryRequest is the payload of RequestQueryResponse.
type QueryRequest struct {
	Round     uint64
	QueryType query.Type
	Matches   query.MatchSet
	Lang1     string
	Lang2     string
}

func (QueryRequest) Kind() Kind        { return KindQueryRequest }
func (p QueryRequest) RoundID() uint64 { return p.Round }

// Body is the tagged content a tile publishes with TileDataLoaded for the
// tiles depending on it.
type Body interface {
	BodyKind() Kind
}

// Subquery is one derived unit of work published for dependent tiles.
// Context is set for collocation candidates (search window around the KWIC).
type Subquery struct {
	Value         string    `json:"value"`
	Context       *CtxRange `json:"context,omitempty"`
	InteractionID string    `json:"interactionId,omitempty"`
	Color         string    `json:"color,omitempty"`
}

// CtxRange is a token window relative to the KWIC, both ends inclusive.
type CtxRange struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// SubqueryPayload is a list of sub-queries derived by one tile from one
// query slot.
type SubqueryPayload struct {
	TileID     int        `json:"tileId"`
	QueryID    int        `json:"queryId"`
	Subqueries []Subquery `json:"subqueries"`
	Lang1      string     `json:"lang1,omitempty"`
	Lang2      string     `json:"lang2,omitempty"`
}

func (SubqueryPayload) Kind() Kind       { return KindSubqueries }
func (p SubqueryPayload) TileIdent() int { return p.TileID }

// SubqueryList publishes sub-queries (one payload per query slot).
type SubqueryList struct {
	Items []SubqueryPayload
}

func (SubqueryList) BodyKind() Kind { return KindSubqueries }

// ConcLoaded publishes concordance persistence IDs, one per query slot.
// A concordance tile may attach KWIC-derived sub-queries in the same body.
type ConcLoaded struct {
	CorpusName    string
	SubcorpusName string
	ConcIDs       []string
	Subqueries    []SubqueryPayload
}

func (ConcLoaded) BodyKind() Kind { return KindConcLoaded }

// TileLoaded is the payload of TileDataLoaded. Body is what dependent tiles
// read; it is nil when the tile publishes nothing. Data is owned and typed
// by the sending tile.
type TileLoaded struct {
	TileID  int
	Round   uint64
	IsEmpty bool
	Body    Body
	Data    interface{}
}

func (TileLoaded) Kind() Kind        { return KindTileLoaded }
func (p TileLoaded) TileIdent() int  { return p.TileID }
func (p TileLoaded) RoundID() uint64 { return p.Round }

// PartialLoaded is the payload of TilePartialDataLoaded. Data is owned and
// typed by the sending tile.
type PartialLoaded struct {
	TileID  int
	Round   uint64
	QueryID int
	Heading string
	ConcID  string
	IsEmpty bool
	Data    interface{}
}

func (PartialLoaded) Kind() Kind        { return KindPartialLoaded }
func (p PartialLoaded) TileIdent() int  { return p.TileID }
func (p PartialLoaded) RoundID() uint64 { return p.Round }

// TileRef addresses a tile (mode toggles, retry).
type TileRef struct {
	TileID int
}

func (TileRef) Kind() Kind       { return KindTileRef }
func (p TileRef) TileIdent() int { return p.TileID }

// SourceInfoRequest is the payload of GetSourceInfo.
type SourceInfoRequest struct {
	TileID   int
	Corpname string
	UILang   string
}

func (SourceInfoRequest) Kind() Kind       { return KindSourceInfo }
func (p SourceInfoRequest) TileIdent() int { return p.TileID }

// SourceInfoDone is the payload of GetSourceInfoDone.
type SourceInfoDone struct {
	TileID int
	Data   *backends.SourceDetails
}

func (SourceInfoDone) Kind() Kind       { return KindSourceInfoDone }
func (p SourceInfoDone) TileIdent() int { return p.TileID }

// PageChange is the payload of TilePageChange; Page is 1-based.
type PageChange struct {
	TileID  int
	QueryID int
	Page    int
}

func (PageChange) Kind() Kind       { return KindPageChange }
func (p PageChange) TileIdent() int { return p.TileID }

// TweakParam is the payload of TileTweakParam.
type TweakParam struct {
	TileID int
	Param  string
	Value  string
}

func (TweakParam) Kind() Kind       { return KindTweakParam }
func (p TweakParam) TileIdent() int { return p.TileID }

// QuerySubmit is the payload of SubmitQuery. Empty Queries keep the
// current form inputs.
type QuerySubmit struct {
	QueryType query.Type
	Queries   []string
	Lang1     string
	Lang2     string
}

func (QuerySubmit) Kind() Kind { return KindQuerySubmit }

// QueryInput is the payload of ChangeQueryInput.
type QueryInput struct {
	QueryIdx int
	Value    string
}

func (QueryInput) Kind() Kind { return KindQueryInput }

// LemmaChoice is the payload of ChangeCurrentLemma.
type LemmaChoice struct {
	QueryIdx   int
	VariantIdx int
}

func (LemmaChoice) Kind() Kind { return KindLemmaChoice }

// Matches is the payload of QueryMatchesResolved.
type Matches struct {
	Round   uint64
	Matches query.MatchSet
}

func (Matches) Kind() Kind        { return KindMatches }
func (p Matches) RoundID() uint64 { return p.Round }

// SystemMessage is the payload of AddSystemMessage.
type SystemMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	TileID int    `json:"tileId"`
}

func (SystemMessage) Kind() Kind { return KindSystemMessage }
