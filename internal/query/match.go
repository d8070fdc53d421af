// Package query holds the resolved query seeds tiles read from: query types
// and the lemma variants found for each query slot.
package query

import (
	"fmt"
	"strings"
)

// Type is the kind of search the user submitted.
type Type string

const (
	// Single searches one word
	Single Type = "single"
	// Cmp compares two or more words
	Cmp Type = "cmp"
	// Translat looks a word up in a second language
	Translat Type = "translat"
)

// AllTypes lists query types in display order.
var AllTypes = []Type{Single, Cmp, Translat}

// ParseType validates a query type string. Empty means Single.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", Single:
		return Single, nil
	case Cmp:
		return Cmp, nil
	case Translat:
		return Translat, nil
	}
	return "", fmt.Errorf("unknown query type %q", s)
}

// PosItem is one part-of-speech component of a lemma.
type PosItem struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// QueryMatch is a lemma variant of the queried word with its frequency data.
type QueryMatch struct {
	Lemma     string    `json:"lemma"`
	Word      string    `json:"word"`
	PoS       []PosItem `json:"pos"`
	Abs       int64     `json:"abs"`
	IPM       float64   `json:"ipm"`
	ARF       float64   `json:"arf"`
	FLevel    int       `json:"flevel"`
	IsCurrent bool      `json:"isCurrent"`
	IsNonDict bool      `json:"isNonDict,omitempty"`
}

// PosValues returns the tag values of the match PoS in order.
func (m QueryMatch) PosValues() []string {
	ans := make([]string, len(m.PoS))
	for i, p := range m.PoS {
		ans[i] = p.Value
	}
	return ans
}

// PosLabel joins PoS labels for display.
func (m QueryMatch) PosLabel() string {
	labels := make([]string, len(m.PoS))
	for i, p := range m.PoS {
		labels[i] = p.Label
	}
	return strings.Join(labels, " ")
}

// IsMultiWord reports whether the lemma spans more than one token.
func (m QueryMatch) IsMultiWord() bool {
	return len(strings.Fields(m.Lemma)) > 1 || len(m.PoS) > 1
}

// NonDictMatch is the placeholder variant used when the frequency database
// knows nothing about word.
func NonDictMatch(word string) QueryMatch {
	return QueryMatch{
		Lemma:     word,
		Word:      word,
		PoS:       []PosItem{},
		FLevel:    0,
		IsCurrent: true,
		IsNonDict: true,
	}
}

// MatchSet holds the lemma variants of every query slot.
type MatchSet [][]QueryMatch

// Current returns the selected variant of slot idx. When no variant is
// flagged as current the first one is used.
func (ms MatchSet) Current(idx int) (QueryMatch, bool) {
	if idx < 0 || idx >= len(ms) || len(ms[idx]) == 0 {
		return QueryMatch{}, false
	}
	for _, m := range ms[idx] {
		if m.IsCurrent {
			return m, true
		}
	}
	return ms[idx][0], true
}

// Currents returns the selected variant of every non-empty slot.
func (ms MatchSet) Currents() []QueryMatch {
	ans := make([]QueryMatch, 0, len(ms))
	for i := range ms {
		if m, ok := ms.Current(i); ok {
			ans = append(ans, m)
		}
	}
	return ans
}

// WithCurrent returns a copy of ms where variant variantIdx of slot queryIdx
// is the only current one.
func (ms MatchSet) WithCurrent(queryIdx, variantIdx int) (MatchSet, error) {
	if queryIdx < 0 || queryIdx >= len(ms) {
		return nil, fmt.Errorf("query slot %d out of range", queryIdx)
	}
	if variantIdx < 0 || variantIdx >= len(ms[queryIdx]) {
		return nil, fmt.Errorf("lemma variant %d out of range", variantIdx)
	}
	ans := ms.Clone()
	for i := range ans[queryIdx] {
		ans[queryIdx][i].IsCurrent = i == variantIdx
	}
	return ans, nil
}

// Clone deep-copies the set.
func (ms MatchSet) Clone() MatchSet {
	if ms == nil {
		return nil
	}
	ans := make(MatchSet, len(ms))
	for i, slot := range ms {
		ans[i] = make([]QueryMatch, len(slot))
		for j, m := range slot {
			m.PoS = append([]PosItem(nil), m.PoS...)
			ans[i][j] = m
		}
	}
	return ans
}

// FreqBand maps instances-per-million to a 1-5 band. Zero frequency maps
// to 0 (unknown).
func FreqBand(ipm float64) int {
	switch {
	case ipm <= 0:
		return 0
	case ipm < 1:
		return 1
	case ipm < 10:
		return 2
	case ipm < 100:
		return 3
	case ipm < 1000:
		return 4
	default:
		return 5
	}
}
