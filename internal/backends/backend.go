// Package backends defines the contract between tile models and the data
// services they read from: normalized request arguments and responses,
// capability interfaces and the registry selecting a vendor adapter.
package backends

import (
	"context"

	"github.com/czcorpus/wag-sub001/internal/query"
)

// VendorID uniquely identifies a backend vendor type
type VendorID string

const (
	// VendorKontext is the KonText corpus search engine
	VendorKontext VendorID = "kontext"
	// VendorMQuery is the MQuery corpus service
	VendorMQuery VendorID = "mquery"
	// VendorFCS is a CLARIN Federated Content Search endpoint
	VendorFCS VendorID = "fcs"
	// VendorLCC is the Leipzig Corpora Collection REST API
	VendorLCC VendorID = "lcc"
	// VendorDatamuse is the Datamuse word-finding API
	VendorDatamuse VendorID = "datamuse"
	// VendorElastic is an Elasticsearch document index
	VendorElastic VendorID = "elastic"
	// VendorFreqDB is the local frequency database
	VendorFreqDB VendorID = "freqdb"
)

// Capability names what an adapter can be used for.
type Capability string

const (
	CapConcordance  Capability = "concordance"
	CapCollocations Capability = "collocations"
	CapFrequencies  Capability = "frequencies"
	CapWordSim      Capability = "word-similarity"
	CapMatchingDocs Capability = "matching-docs"
	CapWordForms    Capability = "word-forms"
	CapSourceInfo   Capability = "source-info"
)

// DataAPI is the single-shot call every adapter provides. One invocation
// yields exactly one value or one error.
type DataAPI[Resp any] interface {
	Call(ctx context.Context, args Args) (Resp, error)
}

// SourceInfoProvider describes the data source behind a tile.
type SourceInfoProvider interface {
	GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*SourceDetails, error)
}

// ConcAPI searches concordances.
type ConcAPI interface {
	DataAPI[*ConcResponse]
	SourceInfoProvider
	// StateToArgs maps a query seed to vendor arguments. It is pure.
	StateToArgs(q ConcQuery, m query.QueryMatch, queryIdx int, extra ArgsContext) (Args, error)
	SupportsLeftRightContext() bool
	SupportsMultiWordQueries() bool
	Backlink(args Args) *Backlink
}

// CollAPI computes collocations, usually over an existing concordance.
type CollAPI interface {
	DataAPI[*CollApiResponse]
	SourceInfoProvider
	StateToArgs(q CollQuery, m query.QueryMatch, concID string) (Args, error)
	SupportsLeftRightContext() bool
	Backlink(args Args) *Backlink
}

// FreqAPI computes frequency distributions.
type FreqAPI interface {
	DataAPI[*FreqResponse]
	SourceInfoProvider
	StateToArgs(q FreqQuery, m query.QueryMatch, concID string) (Args, error)
	Backlink(args Args) *Backlink
}

// WordSimAPI finds similar words.
type WordSimAPI interface {
	DataAPI[*WordSimApiResponse]
	SourceInfoProvider
	StateToArgs(q WordSimQuery, m query.QueryMatch) (Args, error)
}

// MatchingDocsAPI finds documents with the best match.
type MatchingDocsAPI interface {
	DataAPI[*DocsResponse]
	SourceInfoProvider
	StateToArgs(q DocsQuery, m query.QueryMatch, concID string) (Args, error)
}

// WordFormsAPI lists the word forms of a lemma.
type WordFormsAPI interface {
	DataAPI[*WordFormsResponse]
	StateToArgs(q FormsQuery, m query.QueryMatch) (Args, error)
}

// LemmaResolver resolves a raw query word into lemma variants.
type LemmaResolver interface {
	FindQueryMatches(ctx context.Context, word string, minFreq int) ([]query.QueryMatch, error)
}
