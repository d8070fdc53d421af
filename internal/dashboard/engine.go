// Package dashboard runs searches: it owns the long lived services (data
// adapters, response cache, frequency database) and creates a session with
// its own action bus for every dashboard a user works with.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/backends/freqdb"
	"github.com/czcorpus/wag-sub001/internal/backends/vendors"
	"github.com/czcorpus/wag-sub001/internal/config"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/layout"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/storage"
)

// Settings is the part of the configuration that may change while the
// engine runs.
type Settings struct {
	Layouts       layout.Layouts
	Tiles         map[string]map[string]interface{}
	WaitTimeout   time.Duration
	SearchTimeout time.Duration
	MessageTTL    time.Duration
	MinFreq       int
}

// SettingsFromConfig extracts Settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Layouts:       cfg.QueryLayouts(),
		Tiles:         cfg.Tiles,
		WaitTimeout:   time.Duration(cfg.WaitForTilesTimeoutSecs) * time.Second,
		SearchTimeout: time.Duration(cfg.SearchTimeoutSecs) * time.Second,
		MessageTTL:    time.Duration(cfg.SystemMessageTTLSecs) * time.Second,
		MinFreq:       cfg.FreqDB.MinFreq,
	}
}

// Services are the dependencies shared by all sessions.
type Services struct {
	Registry *backends.Registry
	// Resolver looks up lemma variants, nil treats every word as missing
	// from the dictionary
	Resolver backends.LemmaResolver
	Cache    storage.KeyValueStore
}

// Engine is the central search coordinator.
type Engine struct {
	services Services
	logger   *logging.Logger
	closers  []func() error

	mu       sync.RWMutex
	settings Settings
}

// NewEngine creates an engine from ready services.
func NewEngine(settings Settings, services Services, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if services.Cache == nil {
		services.Cache = storage.Dummy{}
	}
	return &Engine{
		services: services,
		logger:   logger,
		settings: settings,
	}
}

// Open wires the engine from cfg: the response cache, the frequency
// database, request policy and the adapter registry.
func Open(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	cache, err := storage.Open(storage.Config{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Cache.Path,
		MaxAge:  time.Duration(cfg.Cache.MaxAgeSecs) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var db *freqdb.DB
	if cfg.FreqDB.Path != "" {
		db, err = freqdb.Open(cfg.FreqDB.Path, cfg.FreqDB.CorpusSize, logger)
		if err != nil {
			_ = cache.Close()
			return nil, fmt.Errorf("failed to open frequency database: %w", err)
		}
	}

	policy := backends.LoadPolicy(cfg)
	client := backends.NewClient(policy, backends.NewLimiter(policy), cache, logger)
	registry := vendors.NewRegistry(backends.Env{Client: client, Logger: logger}, db)

	services := Services{Registry: registry, Cache: cache}
	if db != nil {
		services.Resolver = db
	}
	e := NewEngine(SettingsFromConfig(cfg), services, logger)
	if db != nil {
		e.closers = append(e.closers, db.Close)
	}
	e.closers = append(e.closers, cache.Close)

	logger.Info("Engine initialized", map[string]interface{}{
		"cache":      cfg.Cache.Backend,
		"freqDB":     cfg.FreqDB.Path,
		"tiles":      len(cfg.Tiles),
		"queryTypes": len(cfg.Layouts),
	})
	return e, nil
}

// Close releases the resources opened by Open.
func (e *Engine) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// Reload replaces the settings. Running sessions keep their tiles, new
// sessions use the new layouts.
func (e *Engine) Reload(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	e.logger.Info("Settings reloaded", map[string]interface{}{
		"tiles":      len(s.Tiles),
		"queryTypes": len(s.Layouts),
	})
}

// Layout describes the tiles of query type qt without running them.
func (e *Engine) Layout(qt query.Type) (*layout.Layout, error) {
	s := e.Settings()
	return layout.Build(qt, s.Layouts, s.Tiles, layout.Options{
		Registry:    e.services.Registry,
		Logger:      logging.NewDiscard(),
		Ctx:         context.Background(),
		WaitTimeout: s.WaitTimeout,
	})
}

// Search runs req in a fresh session and closes it afterwards.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	return e.SearchProgress(ctx, req, nil)
}

// SearchProgress is Search reporting tile results to progress as they
// arrive.
func (e *Engine) SearchProgress(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	qt := req.QueryType
	if qt == "" {
		qt = query.Single
	}
	sess, err := e.NewSession(qt)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.SearchProgress(ctx, req, progress)
}

// SourceInfo asks tile tileID of a query type qt layout to describe its
// data source.
func (e *Engine) SourceInfo(ctx context.Context, qt query.Type, tileID int, corpname, uiLang string) (*backends.SourceDetails, error) {
	sess, err := e.NewSession(qt)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.SourceInfo(ctx, tileID, corpname, uiLang)
}

// ClearCache drops all cached adapter responses.
func (e *Engine) ClearCache(ctx context.Context) (int, error) {
	n, err := e.services.Cache.ClearAll(ctx)
	if err != nil {
		return 0, errors.New(errors.InternalError, "failed to clear cache", err)
	}
	e.logger.Info("Cache cleared", map[string]interface{}{"entries": n})
	return n, nil
}
