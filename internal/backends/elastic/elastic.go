// Package elastic finds matching documents in an Elasticsearch index.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// Register adds the Elasticsearch capabilities to r.
func Register(r *backends.Registry) {
	factory := func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewDocsAPI(env, conf)
	}
	r.Register(backends.VendorElastic, backends.CapMatchingDocs, factory)
	r.Register(backends.VendorElastic, backends.CapSourceInfo, factory)
}

type searchRequest struct {
	Query  map[string]interface{} `json:"query"`
	Size   int                    `json:"size"`
	Source []string               `json:"_source,omitempty"`
}

type searchHit struct {
	ID     string                 `json:"_id"`
	Score  float64                `json:"_score"`
	Source map[string]interface{} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
	Error *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// DocsAPI searches an index (DocsQuery.CorpName) for documents containing
// the queried word in one of the search attributes. Display attributes
// compose the document name.
type DocsAPI struct {
	client *backends.Client
	conf   backends.APIConf
	logger *logging.Logger
}

// NewDocsAPI creates the adapter.
func NewDocsAPI(env backends.Env, conf backends.APIConf) (*DocsAPI, error) {
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
	return &DocsAPI{
		client: env.Client,
		conf:   conf,
		logger: logger.With(map[string]interface{}{"vendor": backends.VendorElastic}),
	}, nil
}

// StateToArgs implements backends.MatchingDocsAPI.
func (a *DocsAPI) StateToArgs(q backends.DocsQuery, m query.QueryMatch, concID string) (backends.Args, error) {
	if q.CorpName == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "missing index name")
	}
	if len(q.SrchAttrs) == 0 {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "missing search attributes")
	}
	text := m.Word
	if !m.IsNonDict && m.Lemma != "" {
		text = m.Lemma
	}
	if text == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "empty query")
	}
	size := q.MaxNumItems
	if size <= 0 {
		size = 10
	}
	req := searchRequest{
		Query: map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": q.SrchAttrs,
			},
		},
		Size:   size,
		Source: q.DisplayAttrs,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return backends.Args{}, errors.New(errors.ArgsMapping, "cannot encode search request", err)
	}
	args := backends.NewArgs(q.CorpName + "/_search")
	args.Method = http.MethodPost
	args.Body = body
	return args, nil
}

func documentName(hit searchHit, displayAttrs []string) string {
	parts := make([]string, 0, len(displayAttrs))
	for _, attr := range displayAttrs {
		if v, ok := hit.Source[attr]; ok && v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	if len(parts) == 0 {
		return hit.ID
	}
	return strings.Join(parts, ", ")
}

// Call implements backends.DataAPI.
func (a *DocsAPI) Call(ctx context.Context, args backends.Args) (*backends.DocsResponse, error) {
	var req searchRequest
	if err := json.Unmarshal(args.Body, &req); err != nil {
		return nil, errors.New(errors.ArgsMapping, "invalid search request", err)
	}
	var resp searchResponse
	err := a.client.FetchJSON(ctx, backends.Request{
		Vendor:  backends.VendorElastic,
		BaseURL: a.conf.URL,
		Args:    args,
		Headers: a.conf.Headers,
		NoCache: a.conf.NoCache,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.Newf(errors.AdapterError, "elastic: %s: %s", resp.Error.Type, resp.Error.Reason)
	}
	ans := &backends.DocsResponse{Data: make([]backends.DocItem, len(resp.Hits.Hits))}
	for i, hit := range resp.Hits.Hits {
		ans.Data[i] = backends.DocItem{Name: documentName(hit, req.Source), Score: hit.Score}
	}
	return ans, nil
}

// GetSourceDescription implements backends.SourceInfoProvider.
func (a *DocsAPI) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	return &backends.SourceDetails{
		TileID:     tileID,
		Title:      corpname,
		CorpusName: corpname,
		Href:       a.conf.WebURL,
	}, nil
}
