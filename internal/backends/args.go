package backends

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// Args is a normalized request: everything the HTTP layer needs besides the
// vendor base URL. Query values are the vendor-specific arguments.
type Args struct {
	Method string     `json:"method"`
	Path   string     `json:"path"`
	Query  url.Values `json:"query,omitempty"`
	Body   []byte     `json:"body,omitempty"`
}

// NewArgs creates GET args for path.
func NewArgs(path string) Args {
	return Args{Method: http.MethodGet, Path: path, Query: url.Values{}}
}

// Set returns a copy of a with key set to value. The receiver is not
// modified, so args can be shared between goroutines.
func (a Args) Set(key, value string) Args {
	a.Query = a.cloneQuery()
	a.Query.Set(key, value)
	return a
}

// Add returns a copy of a with value appended to key.
func (a Args) Add(key, value string) Args {
	a.Query = a.cloneQuery()
	a.Query.Add(key, value)
	return a
}

func (a Args) cloneQuery() url.Values {
	ans := make(url.Values, len(a.Query)+1)
	for k, v := range a.Query {
		ans[k] = append([]string(nil), v...)
	}
	return ans
}

// Get returns the first value of key.
func (a Args) Get(key string) string {
	return a.Query.Get(key)
}

// Fingerprint identifies the request for caching and coalescing. Query keys
// are sorted, so equal args always produce equal fingerprints.
func (a Args) Fingerprint() string {
	var sb strings.Builder
	method := a.Method
	if method == "" {
		method = http.MethodGet
	}
	sb.WriteString(method)
	sb.WriteByte('\n')
	sb.WriteString(a.Path)
	sb.WriteByte('\n')
	sb.WriteString(a.Query.Encode())
	sb.WriteByte('\n')
	sb.Write(a.Body)
	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:16])
}

// URL resolves the args against a vendor base URL.
func (a Args) URL(baseURL string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if a.Path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(a.Path, "/")
	}
	if len(a.Query) > 0 {
		u.RawQuery = a.Query.Encode()
	}
	return u, nil
}

// Backlink is a deep link into the vendor's own UI, built from the same
// args as the data call.
type Backlink struct {
	URL    string     `json:"url"`
	Method string     `json:"method"`
	Label  string     `json:"label"`
	Args   url.Values `json:"args,omitempty"`
}

// NewBacklink creates a GET backlink for baseURL/path with args.
func NewBacklink(label, baseURL, path string, args url.Values) *Backlink {
	if baseURL == "" {
		return nil
	}
	link := NewArgs(path)
	link.Query = args
	u, err := link.URL(baseURL)
	if err != nil {
		return nil
	}
	return &Backlink{URL: u.String(), Method: http.MethodGet, Label: label, Args: args}
}

// InteractionID links the same word across tiles.
func InteractionID(value string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(value)))
	return hex.EncodeToString(hash[:6])
}
