package kontext

import (
	"context"
	"strings"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Token is a KonText line token.
type Token struct {
	Str   string `json:"str"`
	Class string `json:"class"`
}

// Line is a concordance line as KonText sends it.
type Line struct {
	Left   []Token  `json:"Left"`
	Kwic   []Token  `json:"Kwic"`
	Right  []Token  `json:"Right"`
	Align  []Line   `json:"Align"`
	Toknum int64    `json:"toknum"`
	Ref    []string `json:"ref"`
}

// ConcResponse is the KonText concordance document.
type ConcResponse struct {
	Lines              []Line      `json:"Lines"`
	ConcSize           int         `json:"concsize"`
	ResultARF          float64     `json:"result_arf"`
	ResultRelativeFreq float64     `json:"result_relative_freq"`
	Messages           [][2]string `json:"messages"`
	ConcPersistenceID  string      `json:"conc_persistence_op_id"`
	Q                  []string    `json:"Q"`
	Corpname           string      `json:"corpname"`
	Subcorpname        string      `json:"usesubcorp"`
}

func convertTokens(src []Token) []backends.Token {
	ans := make([]backends.Token, len(src))
	for i, t := range src {
		ans[i] = backends.Token{Str: t.Str, Class: t.Class}
	}
	return ans
}

// ConvertLines maps KonText lines to normalized lines. Left, Kwic and Right
// are copied token by token; ref values are paired with metadataAttrs by
// position.
func ConvertLines(lines []Line, metadataAttrs []backends.MetadataAttr) []backends.Line {
	ans := make([]backends.Line, len(lines))
	for i, line := range lines {
		item := backends.Line{
			Left:   convertTokens(line.Left),
			Kwic:   convertTokens(line.Kwic),
			Right:  convertTokens(line.Right),
			Toknum: line.Toknum,
		}
		if len(line.Align) > 0 {
			item.Align = ConvertLines(line.Align, nil)
		}
		n := len(line.Ref)
		if len(metadataAttrs) < n {
			n = len(metadataAttrs)
		}
		if n > 0 {
			item.Metadata = make([]backends.MetadataItem, n)
			for j := 0; j < n; j++ {
				item.Metadata[j] = backends.MetadataItem{Label: metadataAttrs[j].Label, Value: line.Ref[j]}
			}
		}
		ans[i] = item
	}
	return ans
}

// refsArg encodes structural attributes for the refs argument.
func refsArg(attrs []backends.MetadataAttr) string {
	items := make([]string, len(attrs))
	for i, a := range attrs {
		items[i] = "=" + a.Value
	}
	return strings.Join(items, ",")
}

// attrsFromRefs recovers metadata attributes from the refs argument. Labels
// equal attribute names, see backends.RelabelMetadata.
func attrsFromRefs(refs string) []backends.MetadataAttr {
	if refs == "" {
		return nil
	}
	parts := strings.Split(refs, ",")
	ans := make([]backends.MetadataAttr, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimPrefix(p, "=")
		ans = append(ans, backends.MetadataAttr{Value: v, Label: v})
	}
	return ans
}

// ConcAPI searches KonText concordances.
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

func (a *ConcAPI) SupportsLeftRightContext() bool { return true }
func (a *ConcAPI) SupportsMultiWordQueries() bool { return true }

// StateToArgs implements backends.ConcAPI.
func (a *ConcAPI) StateToArgs(q backends.ConcQuery, m query.QueryMatch, queryIdx int, extra backends.ArgsContext) (backends.Args, error) {
	var args backends.Args
	switch {
	case extra.ConcID != "" && extra.Filter != nil:
		args = backends.NewArgs("filter").
			Set("q", concRef(extra.ConcID)).
			Set("pnfilter", "p").
			Set("filfl", "f").
			Set("filfpos", itoa(extra.Filter.Left)).
			Set("filtpos", itoa(extra.Filter.Right)).
			Set("inclkwic", "1").
			Set("queryselector", "cqlrow").
			Set("cql", extra.Filter.CQL)
	case extra.ConcID != "":
		args = backends.NewArgs("view").Set("q", concRef(extra.ConcID))
	default:
		cql, err := backends.BuildCQL(m, q.PosQueryGenerator)
		if err != nil {
			return backends.Args{}, errors.New(errors.ArgsMapping, "cannot build query", err)
		}
		args = backends.NewArgs("first").
			Set("queryselector", "cqlrow").
			Set("cql", cql)
		if q.OtherCorpname != "" {
			args = args.Set("align", q.OtherCorpname).
				Set("maincorp", q.CorpName)
		}
	}

	args = args.Set("corpname", q.CorpName)
	if q.SubcorpName != "" {
		args = args.Set("usesubcorp", q.SubcorpName)
	}

	viewMode := q.ViewMode
	if viewMode == "" {
		viewMode = backends.ViewModeKWIC
	}
	if viewMode == backends.ViewModeAlign && q.OtherCorpname == "" {
		viewMode = backends.ViewModeKWIC
	}
	switch viewMode {
	case backends.ViewModeKWIC, backends.ViewModeSent, backends.ViewModeAlign:
	default:
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "unsupported view mode %q", viewMode)
	}
	args = args.Set("viewmode", string(viewMode))

	if q.LeftCtx > 0 {
		args = args.Set("kwicleftctx", "-"+itoa(q.LeftCtx))
	}
	if q.RightCtx > 0 {
		args = args.Set("kwicrightctx", itoa(q.RightCtx))
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	args = args.Set("pagesize", itoa(pageSize)).
		Set("fromp", itoa(page)).
		Set("async", "0").
		Set("attr_vmode", "mouseover")
	if len(q.Attrs) > 0 {
		args = args.Set("attrs", strings.Join(q.Attrs, ","))
	}
	if len(q.MetadataAttrs) > 0 {
		args = args.Set("refs", refsArg(q.MetadataAttrs))
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *ConcAPI) Call(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
	var resp ConcResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	cql := args.Get("cql")
	if cql == "" && len(resp.Q) > 0 {
		cql = resp.Q[0]
	}
	corpname := resp.Corpname
	if corpname == "" {
		corpname = args.Get("corpname")
	}
	return &backends.ConcResponse{
		Query:             cql,
		CorpName:          corpname,
		SubcorpName:       resp.Subcorpname,
		Lines:             ConvertLines(resp.Lines, attrsFromRefs(args.Get("refs"))),
		ConcSize:          resp.ConcSize,
		ARF:               resp.ResultARF,
		IPM:               resp.ResultRelativeFreq,
		Messages:          resp.Messages,
		ConcPersistenceID: resp.ConcPersistenceID,
	}, nil
}

// Backlink points to the concordance view of KonText.
func (a *ConcAPI) Backlink(args backends.Args) *backends.Backlink {
	return a.backlink("KonText", args.Path, args)
}
