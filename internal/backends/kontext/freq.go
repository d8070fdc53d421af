package kontext

import (
	"context"
	"fmt"
	"strings"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

type freqWord struct {
	N string `json:"n"`
}

type freqItem struct {
	Word []freqWord `json:"Word"`
	Freq int        `json:"freq"`
	Rel  float64    `json:"rel"`
	Norm int64      `json:"norm"`
}

type freqBlock struct {
	Items []freqItem `json:"Items"`
	Fcrit string     `json:"fcrit"`
}

// FreqResponse is the KonText freqs document.
type FreqResponse struct {
	Blocks            []freqBlock `json:"Blocks"`
	ConcPersistenceID string      `json:"conc_persistence_op_id"`
}

func (r *FreqResponse) items() []backends.FreqItem {
	if len(r.Blocks) == 0 {
		return []backends.FreqItem{}
	}
	ans := make([]backends.FreqItem, 0, len(r.Blocks[0].Items))
	for _, item := range r.Blocks[0].Items {
		words := make([]string, len(item.Word))
		for i, w := range item.Word {
			words[i] = w.N
		}
		ans = append(ans, backends.FreqItem{
			Name: strings.Join(words, " "),
			Freq: item.Freq,
			IPM:  item.Rel,
			Norm: item.Norm,
		})
	}
	return ans
}

// freqsArgs builds the common part of a freqs request. Without a stored
// concordance the query is sent inline.
func freqsArgs(corpname, subcorpname, concID, cql, fcrit string, flimit, maxItems int) backends.Args {
	q := concRef(concID)
	if concID == "" {
		q = "q" + cql
	}
	args := backends.NewArgs("freqs").
		Set("corpname", corpname).
		Set("q", q).
		Set("fcrit", fcrit).
		Set("flimit", itoa(max(flimit, 1))).
		Set("freq_sort", "freq").
		Set("fpage", "1")
	if subcorpname != "" {
		args = args.Set("usesubcorp", subcorpname)
	}
	if maxItems > 0 {
		args = args.Set("fmaxitems", itoa(maxItems))
	}
	return args
}

// FreqAPI computes frequency distributions in KonText.
type FreqAPI struct {
	*base
}

// NewFreqAPI creates the adapter.
func NewFreqAPI(env backends.Env, conf backends.APIConf) (*FreqAPI, error) {
	b, err := newBase(env, conf)
	if err != nil {
		return nil, err
	}
	return &FreqAPI{base: b}, nil
}

// StateToArgs implements backends.FreqAPI.
func (a *FreqAPI) StateToArgs(q backends.FreqQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	if q.Fcrit == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "missing frequency criterion")
	}
	var cql string
	if concID == "" {
		var err error
		cql, err = backends.BuildCQL(m, q.PosQueryGenerator)
		if err != nil {
			return backends.Args{}, errors.New(errors.ArgsMapping, "cannot build query", err)
		}
	}
	return freqsArgs(q.CorpName, q.SubcorpName, concID, cql, q.Fcrit, q.FLimit, q.FMaxItems), nil
}

// Call implements backends.DataAPI.
func (a *FreqAPI) Call(ctx context.Context, args backends.Args) (*backends.FreqResponse, error) {
	var resp FreqResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	concID := resp.ConcPersistenceID
	if concID == "" {
		concID = trimConcRef(args.Get("q"))
	}
	return &backends.FreqResponse{
		ConcID:   concID,
		CorpName: args.Get("corpname"),
		Fcrit:    args.Get("fcrit"),
		Data:     resp.items(),
	}, nil
}

// Backlink points to the frequency view of KonText.
func (a *FreqAPI) Backlink(args backends.Args) *backends.Backlink {
	return a.backlink("KonText", "freqs", args)
}

// DocsAPI lists documents with most hits using a frequency distribution
// over a document attribute.
type DocsAPI struct {
	*base
}

// NewDocsAPI creates the adapter.
func NewDocsAPI(env backends.Env, conf backends.APIConf) (*DocsAPI, error) {
	b, err := newBase(env, conf)
	if err != nil {
		return nil, err
	}
	return &DocsAPI{base: b}, nil
}

// StateToArgs implements backends.MatchingDocsAPI.
func (a *DocsAPI) StateToArgs(q backends.DocsQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	if len(q.SrchAttrs) == 0 {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "missing document attribute")
	}
	var cql string
	if concID == "" {
		var err error
		cql, err = backends.BuildCQL(m, q.PosQueryGenerator)
		if err != nil {
			return backends.Args{}, errors.New(errors.ArgsMapping, "cannot build query", err)
		}
	}
	fcrit := fmt.Sprintf("%s 0", q.SrchAttrs[0])
	return freqsArgs(q.CorpName, q.SubcorpName, concID, cql, fcrit, 1, q.MaxNumItems), nil
}

// Call implements backends.DataAPI. Documents are scored by their relative
// frequency of hits.
func (a *DocsAPI) Call(ctx context.Context, args backends.Args) (*backends.DocsResponse, error) {
	var resp FreqResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	items := resp.items()
	ans := &backends.DocsResponse{Data: make([]backends.DocItem, len(items))}
	for i, item := range items {
		ans.Data[i] = backends.DocItem{Name: item.Name, Score: item.IPM}
	}
	return ans, nil
}

// FormsAPI lists word forms of a lemma with their frequencies.
type FormsAPI struct {
	*base
}

// NewFormsAPI creates the adapter.
func NewFormsAPI(env backends.Env, conf backends.APIConf) (*FormsAPI, error) {
	b, err := newBase(env, conf)
	if err != nil {
		return nil, err
	}
	return &FormsAPI{base: b}, nil
}

// lemmaCQL matches every form of the lemma.
func lemmaCQL(m query.QueryMatch, gen backends.PosQueryGenerator) (string, error) {
	if m.IsNonDict || m.Lemma == "" {
		return "", fmt.Errorf("word %q has no known lemma", m.Word)
	}
	lemmaOnly := m
	if gen.Attr == "" {
		lemmaOnly.PoS = nil
		gen = backends.PosQueryGenerator{Attr: "tag", Fn: backends.PosFnDirect}
	}
	return backends.BuildCQL(lemmaOnly, gen)
}

// StateToArgs implements backends.WordFormsAPI.
func (a *FormsAPI) StateToArgs(q backends.FormsQuery, m query.QueryMatch) (backends.Args, error) {
	cql, err := lemmaCQL(m, q.PosQueryGenerator)
	if err != nil {
		return backends.Args{}, errors.New(errors.ArgsMapping, "cannot build query", err)
	}
	return freqsArgs(q.CorpName, "", "", cql, "word/i 0", 1, q.Limit), nil
}

// Call implements backends.DataAPI.
func (a *FormsAPI) Call(ctx context.Context, args backends.Args) (*backends.WordFormsResponse, error) {
	var resp FreqResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	items := resp.items()
	total := 0
	for _, item := range items {
		total += item.Freq
	}
	ans := &backends.WordFormsResponse{Forms: make([]backends.WordForm, len(items))}
	for i, item := range items {
		ratio := 0.0
		if total > 0 {
			ratio = float64(item.Freq) / float64(total)
		}
		ans.Forms[i] = backends.WordForm{
			Value:         item.Name,
			Freq:          item.Freq,
			Ratio:         ratio,
			InteractionID: backends.InteractionID(item.Name),
		}
	}
	return ans, nil
}
