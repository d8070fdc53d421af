// Package kontext adapts the KonText corpus search engine HTTP API.
package kontext

import (
	"context"
	"fmt"
	"strconv"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/logging"
)

// Register adds every KonText capability to r.
func Register(r *backends.Registry) {
	r.Register(backends.VendorKontext, backends.CapConcordance, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewConcAPI(env, conf)
	})
	r.Register(backends.VendorKontext, backends.CapCollocations, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewCollAPI(env, conf)
	})
	r.Register(backends.VendorKontext, backends.CapFrequencies, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewFreqAPI(env, conf)
	})
	r.Register(backends.VendorKontext, backends.CapMatchingDocs, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewDocsAPI(env, conf)
	})
	r.Register(backends.VendorKontext, backends.CapWordForms, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return NewFormsAPI(env, conf)
	})
	r.Register(backends.VendorKontext, backends.CapSourceInfo, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		return newBase(env, conf)
	})
}

// base holds what all KonText adapters share.
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
		logger: logger.With(map[string]interface{}{"vendor": backends.VendorKontext}),
	}, nil
}

func (b *base) fetch(ctx context.Context, args backends.Args, dst interface{}) error {
	args = args.Set("format", "json")
	return b.client.FetchJSON(ctx, backends.Request{
		Vendor:  backends.VendorKontext,
		BaseURL: b.conf.URL,
		Args:    args,
		Headers: b.conf.Headers,
		NoCache: b.conf.NoCache,
	}, dst)
}

func (b *base) backlink(label, path string, args backends.Args) *backends.Backlink {
	webURL := b.conf.WebURL
	if webURL == "" {
		return nil
	}
	q := make(map[string][]string, len(args.Query))
	for k, v := range args.Query {
		if k == "format" {
			continue
		}
		q[k] = append([]string(nil), v...)
	}
	return backends.NewBacklink(label, webURL, path, q)
}

type corpusInfo struct {
	Corpname     string `json:"corpname"`
	Description  string `json:"description"`
	Size         int64  `json:"size"`
	WebURL       string `json:"web_url"`
	CitationInfo struct {
		DefaultRef string   `json:"default_ref"`
		ArticleRef []string `json:"article_ref"`
	} `json:"citation_info"`
	Keywords []struct {
		Name string `json:"name"`
	} `json:"keywords"`
}

// GetSourceDescription implements backends.SourceInfoProvider.
func (b *base) GetSourceDescription(ctx context.Context, tileID int, uiLang, corpname string) (*backends.SourceDetails, error) {
	args := backends.NewArgs("corpora/ajax_get_corp_details").
		Set("corpname", corpname).
		Set("ui_lang", uiLang)
	var resp corpusInfo
	if err := b.fetch(ctx, args, &resp); err != nil {
		return nil, err
	}
	ans := &backends.SourceDetails{
		TileID:      tileID,
		Title:       resp.Corpname,
		Description: resp.Description,
		Href:        resp.WebURL,
		CorpusName:  resp.Corpname,
		Size:        resp.Size,
		Citation:    resp.CitationInfo.DefaultRef,
	}
	for _, k := range resp.Keywords {
		ans.Keywords = append(ans.Keywords, k.Name)
	}
	return ans, nil
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

// concRef is the q argument reusing a stored concordance.
func concRef(concID string) string {
	return "~" + concID
}
