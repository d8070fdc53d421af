package backends

import (
	"github.com/czcorpus/wag-sub001/internal/query"
)

// ViewMode is how a concordance is displayed.
type ViewMode string

const (
	ViewModeKWIC  ViewMode = "kwic"
	ViewModeSent  ViewMode = "sen"
	ViewModeAlign ViewMode = "align"
)

// MetadataAttr is a structural attribute shown with each line.
type MetadataAttr struct {
	Value string `json:"value" toml:"value" mapstructure:"value"`
	Label string `json:"label" toml:"label" mapstructure:"label"`
}

// PosQueryGenerator tells how PoS values become CQL: Attr is the positional
// attribute, Fn the tagset mapping.
type PosQueryGenerator struct {
	Attr string `json:"attr" toml:"attr" mapstructure:"attr"`
	Fn   string `json:"fn" toml:"fn" mapstructure:"fn"`
}

// ConcQuery is the concordance tile state relevant to a request.
type ConcQuery struct {
	CorpName          string
	SubcorpName       string
	OtherCorpname     string
	QueryType         query.Type
	ViewMode          ViewMode
	PageSize          int
	Page              int
	LeftCtx           int
	RightCtx          int
	Attrs             []string
	MetadataAttrs     []MetadataAttr
	PosQueryGenerator PosQueryGenerator
}

// ConcFilter narrows a concordance to lines containing CQL within a token
// window around the KWIC.
type ConcFilter struct {
	CQL   string
	Left  int
	Right int
}

// ArgsContext carries data from outside the tile state.
type ArgsContext struct {
	// ConcID reuses an existing concordance instead of a new search
	ConcID string
	Filter *ConcFilter
}

// CollQuery is the collocation tile state relevant to a request.
type CollQuery struct {
	CorpName       string
	Attr           string
	CtxType        string
	CtxSize        int
	MinFreq        int
	MinLocalFreq   int
	AppliedMetrics []string
	SortByMetric   string
	MaxItems       int
}

// Collocation context window types
const (
	CtxLeftRight = "LR"
	CtxLeft      = "L"
	CtxRight     = "R"
)

// CtxRange returns the window as a (from, to) token offset pair.
func (q CollQuery) CtxRange() (int, int) {
	switch q.CtxType {
	case CtxLeft:
		return -q.CtxSize, -1
	case CtxRight:
		return 1, q.CtxSize
	default:
		return -q.CtxSize, q.CtxSize
	}
}

// FreqQuery is a frequency distribution request.
type FreqQuery struct {
	CorpName          string
	SubcorpName       string
	Fcrit             string
	FLimit            int
	FMaxItems         int
	PosQueryGenerator PosQueryGenerator
}

// WordSimQuery is a word similarity request.
type WordSimQuery struct {
	MaxResults int
	// Operation is "ml" (means like) or "sl" (sounds like)
	Operation string
}

// DocsQuery is a matching-documents request.
type DocsQuery struct {
	CorpName          string
	SubcorpName       string
	SrchAttrs         []string
	DisplayAttrs      []string
	MaxNumItems       int
	PosQueryGenerator PosQueryGenerator
}

// FormsQuery is a word-forms request.
type FormsQuery struct {
	CorpName          string
	Limit             int
	PosQueryGenerator PosQueryGenerator
}
