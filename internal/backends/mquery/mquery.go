// Package mquery adapts the MQuery corpus service. MQuery keeps no stored
// concordances, so the CQL query itself serves as the concordance id handed
// to dependent tiles.
package mquery

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Register adds every MQuery capability to r.
func Register(r *backends.Registry) {
	r.Register(backends.VendorMQuery, backends.CapConcordance, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewConcAPI(env, conf)
	})
	r.Register(backends.VendorMQuery, backends.CapCollocations, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewCollAPI(env, conf)
	})
	r.Register(backends.VendorMQuery, backends.CapFrequencies, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewFreqAPI(env, conf)
	})
	r.Register(backends.VendorMQuery, backends.CapWordForms, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewFormsAPI(env, conf)
	})
	r.Register(backends.VendorMQuery, backends.CapSourceInfo, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return newBase(env, conf)
	})
}

type base struct {
	client *backends.Client
	conf   backends.APIConf
	logger *logging.Logger
}

func newBase(env backends.Env, conf backends.APIConf) (*base, error) {
	if conf.URL == "" {
		return nil, fmt.Errorf("missing apiURL")
	}
	if env.Client == nil {
		return nil, fmt.Errorf("missing HTTP client")
	}
	logger := env.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &base{
		client: env.Client,
		conf:   conf,
		logger: logger.With(map[string]interface{}{"vendor": backends.VendorMQuery}),
	}, nil
}

func (b *base) fetch(ctx context.Context, args backends.Args, dst interface{}) error {
	return b.client.FetchJSON(ctx, backends.Request{
		Vendor:  backends.VendorMQuery,
		BaseURL: b.conf.URL,
		Args:    args,
		Headers: b.conf.Headers,
		NoCache: b.conf.NoCache,
	}, dst)
}

func (b *base) SupportsLeftRightContext() bool { return false }

func endpoint(op, corpname string) string {
	return op + "/" + corpname
}

// concQuery returns the query of an upstream concordance or builds a new
// one from the match.
func concQuery(concID string, m query.QueryMatch, gen backends.PosQueryGenerator) (string, error) {
	if concID != "" {
		return concID, nil
	}
	cql, err := backends.BuildCQL(m, gen)
	if err != nil {
		return "", errors.New(errors.ArgsMapping, "cannot build query", err)
	}
	return cql, nil
}

type corpusInfoResponse struct {
	Data struct {
		Corpname     string `json:"corpname"`
		Description  string `json:"description"`
		Size         int64  `json:"size"`
		WebURL       string `json:"webUrl"`
		CitationInfo struct {
			DefaultRef string `json:"defaultRef"`
		} `json:"citationInfo"`
	} `json:"data"`
	Error string `json:"error"`
}

// GetSourceDescription implements backends.SourceInfoProvider.
func (b *base) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	args := backends.NewArgs(endpoint("info", corpname)).Set("lang", uiLang)
	var resp corpusInfoResponse
	if err := b.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.Newf(errors.AdapterError, "mquery: %s", resp.Error)
	}
	return &backends.SourceDetails{
		TileID:      tileID,
		Title:       resp.Data.Corpname,
		Description: resp.Data.Description,
		Href:        resp.Data.WebURL,
		CorpusName:  resp.Data.Corpname,
		Size:        resp.Data.Size,
		Citation:    resp.Data.CitationInfo.DefaultRef,
	}, nil
}

type concToken struct {
	Word   string            `json:"word"`
	Strong bool              `json:"strong"`
	Attrs  map[string]string `json:"attrs"`
}

type concLine struct {
	Text  []concToken       `json:"text"`
	Props map[string]string `json:"props"`
	Ref   string            `json:"ref"`
}

type concResponse struct {
	Lines    []concLine `json:"lines"`
	ConcSize int        `json:"concSize"`
	IPM      float64    `json:"ipm"`
	Error    string     `json:"error"`
}

// splitLine divides a flat token sequence into left context, KWIC and right
// context using the strong flag.
func splitLine(line concLine, metadataAttrs []backends.MetadataAttr) backends.Line {
	ans := backends.Line{
		Left:  []backends.Token{},
		Kwic:  []backends.Token{},
		Right: []backends.Token{},
	}
	seenKwic := false
	for _, t := range line.Text {
		tok := backends.Token{Str: t.Word}
		switch {
		case t.Strong:
			seenKwic = true
			ans.Kwic = append(ans.Kwic, tok)
		case seenKwic:
			ans.Right = append(ans.Right, tok)
		default:
			ans.Left = append(ans.Left, tok)
		}
	}
	for _, attr := range metadataAttrs {
		if v, ok := line.Props[attr.Value]; ok {
			ans.Metadata = append(ans.Metadata, backends.MetadataItem{Label: attr.Label, Value: v})
		}
	}
	return ans
}

// ConcAPI searches MQuery concordances.
type ConcAPI struct {
	*base
}

// NewConcAPI creates the adapter.
func NewConcAPI(env backends.Env, conf backends.APIConf) (*ConcAPI, error) {
	b, err := newBase(env, conf)
	if err != nil {
		return nil, err
	}
	return &ConcAPI{base: b}, nil
}

func (a *ConcAPI) SupportsMultiWordQueries() bool { return true }

// StateToArgs implements backends.ConcAPI.
func (a *ConcAPI) StateToArgs(q backends.ConcQuery, m query.QueryMatch, queryIdx int, extra backends.ArgsContext) (backends.Args, error) {
	if extra.Filter != nil {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "mquery does not support concordance filters")
	}
	if q.ViewMode == backends.ViewModeAlign {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "mquery does not support aligned corpora")
	}
	cql, err := concQuery(extra.ConcID, m, q.PosQueryGenerator)
	if err != nil {
		return backends.Args{}, err
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := max(q.Page, 1)
	args := backends.NewArgs(endpoint("concordance", q.CorpName)).
		Set("q", cql).
		Set("maxRows", strconv.Itoa(pageSize)).
		Set("fromLine", strconv.Itoa((page-1)*pageSize))
	if q.SubcorpName != "" {
		args = args.Set("subcorpus", q.SubcorpName)
	}
	if ctx := max(q.LeftCtx, q.RightCtx); ctx > 0 {
		args = args.Set("contextWidth", strconv.Itoa(ctx))
	}
	if q.ViewMode == backends.ViewModeSent {
		args = args.Set("contextStruct", "s")
	}
	for _, attr := range q.MetadataAttrs {
		args = args.Add("showProps", attr.Value)
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *ConcAPI) Call(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
	var resp concResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.Newf(errors.AdapterError, "mquery: %s", resp.Error)
	}
	attrs := make([]backends.MetadataAttr, len(args.Query["showProps"]))
	for i, v := range args.Query["showProps"] {
		attrs[i] = backends.MetadataAttr{Value: v, Label: v}
	}
	lines := make([]backends.Line, len(resp.Lines))
	for i, line := range resp.Lines {
		lines[i] = splitLine(line, attrs)
		lines[i].Toknum = int64(i)
	}
	cql := args.Get("q")
	return &backends.ConcResponse{
		Query:             cql,
		CorpName:          corpusFromPath(args.Path),
		SubcorpName:       args.Get("subcorpus"),
		Lines:             lines,
		ConcSize:          resp.ConcSize,
		IPM:               resp.IPM,
		ConcPersistenceID: cql,
	}, nil
}

// Backlink is not available, MQuery has no user interface.
func (a *ConcAPI) Backlink(args backends.Args) *backends.Backlink {
	return nil
}

func corpusFromPath(p string) string {
	return path.Base(p)
}

type collItem struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
	Freq  int     `json:"freq"`
}

type collResponse struct {
	Colls   []collItem `json:"colls"`
	Measure string     `json:"measure"`
	Error   string     `json:"error"`
}

// collMeasures maps metric idents to MQuery measure names.
var collMeasures = map[string]string{
	"t": "tScore",
	"m": "mutualInfo",
	"3": "mutualInfo3",
	"l": "logLikelihood",
	"d": "logDice",
	"p": "mutualInfoLogF",
	"r": "relFreq",
}

// CollAPI computes collocations over a query.
type CollAPI struct {
	*base
}

// NewCollAPI creates the adapter.
func NewCollAPI(env backends.Env, conf backends.APIConf) (*CollAPI, error) {
	b, err := newBase(env, conf)
	if err != nil {
		return nil, err
	}
	return &CollAPI{base: b}, nil
}

// StateToArgs implements backends.CollAPI. Only the sort metric is used,
// MQuery computes a single measure per request.
func (a *CollAPI) StateToArgs(q backends.CollQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	cql, err := concQuery(concID, m, backends.PosQueryGenerator{})
	if err != nil {
		return backends.Args{}, err
	}
	metric := q.SortByMetric
	if metric == "" {
		metric = "d"
	}
	measure, ok := collMeasures[metric]
	if !ok {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "unsupported collocation metric %q", metric)
	}
	from, to := q.CtxRange()
	attr := q.Attr
	if attr == "" {
		attr = "lemma"
	}
	maxItems := q.MaxItems
	if maxItems <= 0 {
		maxItems = 10
	}
	return backends.NewArgs(endpoint("collocations", q.CorpName)).
		Set("q", cql).
		Set("measure", measure).
		Set("srchLeft", strconv.Itoa(-from)).
		Set("srchRight", strconv.Itoa(to)).
		Set("srchAttr", attr).
		Set("minCollFreq", strconv.Itoa(max(q.MinFreq, 1))).
		Set("maxItems", strconv.Itoa(maxItems)), nil
}

// Call implements backends.DataAPI.
func (a *CollAPI) Call(ctx context.Context, args backends.Args) (*backends.CollApiResponse, error) {
	var resp collResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.Newf(errors.AdapterError, "mquery: %s", resp.Error)
	}
	ans := &backends.CollApiResponse{
		ConcID:       args.Get("q"),
		CollHeadings: []backends.CollHeading{{Label: resp.Measure, Ident: args.Get("measure")}},
		Data:         make([]backends.CollItem, len(resp.Colls)),
	}
	for i, item := range resp.Colls {
		ans.Data[i] = backends.CollItem{
			Str:           item.Word,
			Stats:         []float64{item.Score},
			Freq:          item.Freq,
			InteractionID: backends.InteractionID(item.Word),
		}
	}
	return ans, nil
}

func (a *CollAPI) Backlink(args backends.Args) *backends.Backlink {
	return nil
}

type freqItem struct {
	Word string  `json:"word"`
	Freq int     `json:"freq"`
	Norm int64   `json:"norm"`
	IPM  float64 `json:"ipm"`
}

type freqResponse struct {
	Freqs      []freqItem `json:"freqs"`
	ConcSize   int        `json:"concSize"`
	CorpusSize int64      `json:"corpusSize"`
	Error      string     `json:"error"`
}

func (r *freqResponse) items() []backends.FreqItem {
	ans := make([]backends.FreqItem, len(r.Freqs))
	for i, f := range r.Freqs {
		ans[i] = backends.FreqItem{Name: f.Word, Freq: f.Freq, IPM: f.IPM, Norm: f.Norm}
	}
	return ans
}

func (b *base) fetchFreqs(ctx context.Context, args backends.Args) (*freqResponse, error) {
	var resp freqResponse
	if err := b.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.Newf(errors.AdapterError, "mquery: %s", resp.Error)
	}
	return &resp, nil
}

// FreqAPI computes frequency distributions. The attribute part of the
// frequency criterion (e.g. "doc.genre" of "doc.genre 0") selects the
// attribute.
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

func fcritAttr(fcrit string) string {
	for i, c := range fcrit {
		if c == ' ' || c == '/' {
			return fcrit[:i]
		}
	}
	return fcrit
}

// StateToArgs implements backends.FreqAPI.
func (a *FreqAPI) StateToArgs(q backends.FreqQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	if q.Fcrit == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "missing frequency criterion")
	}
	cql, err := concQuery(concID, m, q.PosQueryGenerator)
	if err != nil {
		return backends.Args{}, err
	}
	args := backends.NewArgs(endpoint("freqs", q.CorpName)).
		Set("q", cql).
		Set("attr", fcritAttr(q.Fcrit)).
		Set("flimit", strconv.Itoa(max(q.FLimit, 1)))
	if q.FMaxItems > 0 {
		args = args.Set("maxItems", strconv.Itoa(q.FMaxItems))
	}
	if q.SubcorpName != "" {
		args = args.Set("subcorpus", q.SubcorpName)
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *FreqAPI) Call(ctx context.Context, args backends.Args) (*backends.FreqResponse, error) {
	resp, err := a.fetchFreqs(ctx, args)
	if err != nil {
		return nil, err
	}
	return &backends.FreqResponse{
		ConcID:   args.Get("q"),
		CorpName: corpusFromPath(args.Path),
		Fcrit:    args.Get("attr"),
		Data:     resp.items(),
	}, nil
}

func (a *FreqAPI) Backlink(args backends.Args) *backends.Backlink {
	return nil
}

// FormsAPI lists word forms of a lemma.
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

// StateToArgs implements backends.WordFormsAPI.
func (a *FormsAPI) StateToArgs(q backends.FormsQuery, m query.QueryMatch) (backends.Args, error) {
	if m.IsNonDict || m.Lemma == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "word %q has no known lemma", m.Word)
	}
	cql := fmt.Sprintf(`[lemma="%s"]`, backends.EscapeCQL(m.Lemma))
	args := backends.NewArgs(endpoint("freqs", q.CorpName)).
		Set("q", cql).
		Set("attr", "word").
		Set("matchCase", "0")
	if q.Limit > 0 {
		args = args.Set("maxItems", strconv.Itoa(q.Limit))
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *FormsAPI) Call(ctx context.Context, args backends.Args) (*backends.WordFormsResponse, error) {
	resp, err := a.fetchFreqs(ctx, args)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, f := range resp.Freqs {
		total += f.Freq
	}
	ans := &backends.WordFormsResponse{Forms: make([]backends.WordForm, len(resp.Freqs))}
	for i, f := range resp.Freqs {
		var ratio float64
		if total > 0 {
			ratio = float64(f.Freq) / float64(total)
		}
		ans.Forms[i] = backends.WordForm{
			Value:         f.Word,
			Freq:          f.Freq,
			Ratio:         ratio,
			InteractionID: backends.InteractionID(f.Word),
		}
	}
	return ans, nil
}
