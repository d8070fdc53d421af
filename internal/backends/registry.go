package backends

import (
	"fmt"
	"sort"
	"sync"

	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
)

// APIConf selects and configures an adapter instance for a tile.
type APIConf struct {
	Type    VendorID          `json:"apiType" toml:"apiType" mapstructure:"apiType"`
	URL     string            `json:"apiURL" toml:"apiURL" mapstructure:"apiURL"`
	WebURL  string            `json:"webURL,omitempty" toml:"webURL" mapstructure:"webURL"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers" mapstructure:"headers"`
	NoCache bool              `json:"noCache,omitempty" toml:"noCache" mapstructure:"noCache"`
	// Options holds vendor specific settings (e.g. corpusSize for freqdb)
	Options map[string]string `json:"options,omitempty" toml:"options" mapstructure:"options"`
}

// Env is what every adapter factory gets.
type Env struct {
	Client *Client
	Logger *logging.Logger
}

// Factory creates an adapter implementing the capability it was registered
// for.
type Factory func(env Env, conf APIConf) (interface{}, error)

// Registry maps vendor ids and capabilities to adapter factories.
type Registry struct {
	env       Env
	mu        sync.RWMutex
	factories map[VendorID]map[Capability]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry(env Env) *Registry {
	if env.Logger == nil {
		env.Logger = logging.NewDiscard()
	}
	return &Registry{env: env, factories: make(map[VendorID]map[Capability]Factory)}
}

// Register registers a vendor factory for a capability
func (r *Registry) Register(id VendorID, capability Capability, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[id] == nil {
		r.factories[id] = make(map[Capability]Factory)
	}
	r.factories[id][capability] = f
	r.env.Logger.Debug("Registered vendor", map[string]interface{}{
		"vendor":     id,
		"capability": capability,
	})
}

// Capabilities lists what vendor id provides, sorted.
func (r *Registry) Capabilities(id VendorID) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ans := make([]Capability, 0, len(r.factories[id]))
	for c := range r.factories[id] {
		ans = append(ans, c)
	}
	sort.Slice(ans, func(i, j int) bool { return ans[i] < ans[j] })
	return ans
}

// Vendors lists registered vendor ids, sorted.
func (r *Registry) Vendors() []VendorID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ans := make([]VendorID, 0, len(r.factories))
	for id := range r.factories {
		ans = append(ans, id)
	}
	sort.Slice(ans, func(i, j int) bool { return ans[i] < ans[j] })
	return ans
}

// Create instantiates the adapter of conf for capability.
func (r *Registry) Create(conf APIConf, capability Capability) (interface{}, error) {
	r.mu.RLock()
	caps, ok := r.factories[conf.Type]
	var f Factory
	if ok {
		f = caps[capability]
	}
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.NotFound, "unknown API type %q", conf.Type)
	}
	if f == nil {
		return nil, errors.Newf(errors.ConfigInvalid, "API type %q does not provide %s", conf.Type, capability)
	}
	api, err := f(r.env, conf)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("failed to create %s adapter", conf.Type), err)
	}
	return api, nil
}

func resolve[T any](r *Registry, conf APIConf, capability Capability) (T, error) {
	var zero T
	api, err := r.Create(conf, capability)
	if err != nil {
		return zero, err
	}
	typed, ok := api.(T)
	if !ok {
		return zero, errors.Newf(errors.ConfigInvalid, "API type %q does not provide %s", conf.Type, capability)
	}
	return typed, nil
}

// ConcAPI creates a concordance adapter.
func (r *Registry) ConcAPI(conf APIConf) (ConcAPI, error) {
	return resolve[ConcAPI](r, conf, CapConcordance)
}

// CollAPI creates a collocation adapter.
func (r *Registry) CollAPI(conf APIConf) (CollAPI, error) {
	return resolve[CollAPI](r, conf, CapCollocations)
}

// FreqAPI creates a frequency adapter.
func (r *Registry) FreqAPI(conf APIConf) (FreqAPI, error) {
	return resolve[FreqAPI](r, conf, CapFrequencies)
}

// WordSimAPI creates a word similarity adapter.
func (r *Registry) WordSimAPI(conf APIConf) (WordSimAPI, error) {
	return resolve[WordSimAPI](r, conf, CapWordSim)
}

// MatchingDocsAPI creates a matching documents adapter.
func (r *Registry) MatchingDocsAPI(conf APIConf) (MatchingDocsAPI, error) {
	return resolve[MatchingDocsAPI](r, conf, CapMatchingDocs)
}

// WordFormsAPI creates a word forms adapter.
func (r *Registry) WordFormsAPI(conf APIConf) (WordFormsAPI, error) {
	return resolve[WordFormsAPI](r, conf, CapWordForms)
}

// SourceInfo creates a source description provider.
func (r *Registry) SourceInfo(conf APIConf) (SourceInfoProvider, error) {
	return resolve[SourceInfoProvider](r, conf, CapSourceInfo)
}
