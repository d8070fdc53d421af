package backends

import (
	"fmt"
	"strings"

	"github.com/czcorpus/wag-sub001/internal/query"
)

// PoS mapping functions accepted in PosQueryGenerator.Fn
const (
	PosFnDirect       = "directPos"
	PosFnPPTagset     = "ppTagset"
	PosFnPennTreebank = "pennTreebank"
)

var pennTreebank = map[string]string{
	"N": "NN.*",
	"A": "JJ.*",
	"V": "VB.*",
	"D": "RB.*",
	"P": "PP.*",
	"C": "CD",
	"R": "IN",
	"J": "CC",
	"T": "RP",
	"I": "UH",
	"X": ".*",
}

func posValue(fn, v string) (string, error) {
	switch fn {
	case "", PosFnDirect:
		return v, nil
	case PosFnPPTagset:
		return v + ".*", nil
	case PosFnPennTreebank:
		if t, ok := pennTreebank[v]; ok {
			return t, nil
		}
		return "", fmt.Errorf("no Penn Treebank tag for PoS %q", v)
	}
	return "", fmt.Errorf("unknown PoS query function %q", fn)
}

// EscapeCQL escapes a value for use inside a double-quoted CQL string.
func EscapeCQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}

// BuildCQL turns a lemma variant into a CQL query. Without a PoS attribute,
// or for words missing in the dictionary, the query matches word forms;
// otherwise each token matches its lemma and PoS.
func BuildCQL(m query.QueryMatch, gen PosQueryGenerator) (string, error) {
	if m.IsNonDict || m.Lemma == "" || gen.Attr == "" {
		words := strings.Fields(m.Word)
		if len(words) == 0 {
			words = strings.Fields(m.Lemma)
		}
		if len(words) == 0 {
			return "", fmt.Errorf("empty query")
		}
		var sb strings.Builder
		for _, w := range words {
			fmt.Fprintf(&sb, `[word="%s"]`, EscapeCQL(w))
		}
		return sb.String(), nil
	}

	lemmas := strings.Fields(m.Lemma)
	var sb strings.Builder
	for i, lemma := range lemmas {
		if i < len(m.PoS) {
			tag, err := posValue(gen.Fn, m.PoS[i].Value)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, `[lemma="%s" & %s="%s"]`, EscapeCQL(lemma), gen.Attr, EscapeCQL(tag))
			continue
		}
		fmt.Fprintf(&sb, `[lemma="%s"]`, EscapeCQL(lemma))
	}
	return sb.String(), nil
}
