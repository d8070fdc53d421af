// Package fcs adapts CLARIN Federated Content Search endpoints (SRU 1.2
// searchRetrieve with the hits data view).
package fcs

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

const (
	sruVersion     = "1.2"
	resourceSchema = "http://clarin.eu/fcs/resource"
	hitsDataView   = "application/x-clarin-fcs-hits+xml"
)

// Register adds the FCS capabilities to r.
func Register(r *backends.Registry) {
	r.Register(backends.VendorFCS, backends.CapConcordance, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewConcAPI(env, conf)
	})
	r.Register(backends.VendorFCS, backends.CapSourceInfo, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewConcAPI(env, conf)
	})
}

type searchRetrieveResponse struct {
	XMLName         xml.Name     `xml:"searchRetrieveResponse"`
	NumberOfRecords int          `xml:"numberOfRecords"`
	Records         []record     `xml:"records>record"`
	Diagnostics     []diagnostic `xml:"diagnostics>diagnostic"`
}

type record struct {
	Resource resource `xml:"recordData>Resource"`
}

type resource struct {
	PID       string     `xml:"pid,attr"`
	Ref       string     `xml:"ref,attr"`
	Fragments []fragment `xml:"ResourceFragment"`
}

type fragment struct {
	DataViews []dataView `xml:"DataView"`
}

type dataView struct {
	Type  string `xml:"type,attr"`
	Inner []byte `xml:",innerxml"`
}

type diagnostic struct {
	URI     string `xml:"uri"`
	Details string `xml:"details"`
	Message string `xml:"message"`
}

type explainResponse struct {
	XMLName     xml.Name     `xml:"explainResponse"`
	Title       string       `xml:"record>recordData>explain>databaseInfo>title"`
	Description string       `xml:"record>recordData>explain>databaseInfo>description"`
	Author      string       `xml:"record>recordData>explain>databaseInfo>author"`
	Diagnostics []diagnostic `xml:"diagnostics>diagnostic"`
}

func diagnosticsError(diags []diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	msg := diags[0].Message
	if diags[0].Details != "" {
		msg += ": " + diags[0].Details
	}
	return errors.Newf(errors.AdapterError, "fcs: %s", msg)
}

// parseHits converts a hits data view into a line. Text before the first
// Hit element is the left context, Hit elements form the KWIC and the rest
// is the right context.
func parseHits(inner []byte) (backends.Line, error) {
	ans := backends.Line{Left: []backends.Token{}, Kwic: []backends.Token{}, Right: []backends.Token{}}
	dec := xml.NewDecoder(bytes.NewReader(inner))
	depth := 0
	seenHit := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ans, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Hit" {
				depth++
				seenHit = true
			}
		case xml.EndElement:
			if t.Name.Local == "Hit" {
				depth--
			}
		case xml.CharData:
			for _, w := range strings.Fields(string(t)) {
				item := backends.Token{Str: w}
				switch {
				case depth > 0:
					ans.Kwic = append(ans.Kwic, item)
				case seenHit:
					ans.Right = append(ans.Right, item)
				default:
					ans.Left = append(ans.Left, item)
				}
			}
		}
	}
	return ans, nil
}

// ConcAPI searches an FCS endpoint. The query is a plain term search, the
// endpoint has no stored concordances so the term itself is handed to
// dependent tiles.
type ConcAPI struct {
	client *backends.Client
	conf   backends.APIConf
	logger *logging.Logger
}

// NewConcAPI creates the adapter.
func NewConcAPI(env backends.Env, conf backends.APIConf) (*ConcAPI, error) {
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
	return &ConcAPI{
		client: env.Client,
		conf:   conf,
		logger: logger.With(map[string]interface{}{"vendor": backends.VendorFCS}),
	}, nil
}

func (a *ConcAPI) SupportsLeftRightContext() bool { return false }
func (a *ConcAPI) SupportsMultiWordQueries() bool { return false }

func (a *ConcAPI) fetch(ctx context.Context, args backends.Args, dst interface{}) error {
	body, err := a.client.Fetch(ctx, backends.Request{
		Vendor:  backends.VendorFCS,
		BaseURL: a.conf.URL,
		Args:    args,
		Accept:  "application/xml",
		Headers: a.conf.Headers,
		NoCache: a.conf.NoCache,
	})
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, dst); err != nil {
		return errors.New(errors.MalformedResponse, "invalid SRU response", err)
	}
	return nil
}

// StateToArgs implements backends.ConcAPI.
func (a *ConcAPI) StateToArgs(q backends.ConcQuery, m query.QueryMatch, queryIdx int, extra backends.ArgsContext) (backends.Args, error) {
	if extra.Filter != nil {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "fcs does not support concordance filters")
	}
	term := extra.ConcID
	if term == "" {
		term = m.Word
		if m.IsMultiWord() {
			return backends.Args{}, errors.Newf(errors.ArgsMapping, "fcs does not support multi-word queries")
		}
	}
	if term == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "empty query")
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := max(q.Page, 1)
	args := backends.NewArgs("").
		Set("operation", "searchRetrieve").
		Set("version", sruVersion).
		Set("query", strconv.Quote(term)).
		Set("recordSchema", resourceSchema).
		Set("maximumRecords", strconv.Itoa(pageSize)).
		Set("startRecord", strconv.Itoa((page-1)*pageSize+1))
	if q.CorpName != "" {
		args = args.Set("x-fcs-context", q.CorpName)
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *ConcAPI) Call(ctx context.Context, args backends.Args) (*backends.ConcResponse, error) {
	var resp searchRetrieveResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	if err := diagnosticsError(resp.Diagnostics); err != nil {
		return nil, err
	}
	term, err := strconv.Unquote(args.Get("query"))
	if err != nil {
		term = args.Get("query")
	}
	ans := &backends.ConcResponse{
		Query:             term,
		CorpName:          args.Get("x-fcs-context"),
		Lines:             []backends.Line{},
		ConcSize:          resp.NumberOfRecords,
		ConcPersistenceID: term,
	}
	for i, rec := range resp.Records {
		for _, frag := range rec.Resource.Fragments {
			for _, view := range frag.DataViews {
				if view.Type != hitsDataView {
					continue
				}
				line, err := parseHits(view.Inner)
				if err != nil {
					return nil, errors.New(errors.MalformedResponse, "invalid hits data view", err)
				}
				line.Toknum = int64(i)
				if rec.Resource.Ref != "" {
					line.Metadata = []backends.MetadataItem{{Label: "ref", Value: rec.Resource.Ref}}
				}
				ans.Lines = append(ans.Lines, line)
			}
		}
	}
	return ans, nil
}

// Backlink is not provided, FCS endpoints have no common web interface.
func (a *ConcAPI) Backlink(args backends.Args) *backends.Backlink {
	return nil
}

// GetSourceDescription implements backends.SourceInfoProvider using the
// SRU explain operation.
func (a *ConcAPI) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	args := backends.NewArgs("").
		Set("operation", "explain").
		Set("version", sruVersion)
	var resp explainResponse
	if err := a.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	if err := diagnosticsError(resp.Diagnostics); err != nil {
		return nil, err
	}
	return &backends.SourceDetails{
		TileID:      tileID,
		Title:       strings.TrimSpace(resp.Title),
		Description: strings.TrimSpace(resp.Description),
		Author:      strings.TrimSpace(resp.Author),
		CorpusName:  corpname,
		Href:        a.conf.WebURL,
	}, nil
}
