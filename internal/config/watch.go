package config

import (
	"context"

	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/watcher"
)

// Watch reloads the configuration whenever one of its files changes and
// passes every valid result to onChange. Invalid edits are logged and
// skipped, so the previous configuration stays in use.
func Watch(ctx context.Context, cfg *Config, logger *logging.Logger, onChange func(*Config)) (*watcher.Watcher, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	path := cfg.Path()
	w, err := watcher.New(watcher.DefaultConfig(), logger, func(events []watcher.Event) {
		next, err := LoadConfig(path)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			return
		}
		logger.Info("Configuration reloaded", map[string]interface{}{
			"path":   path,
			"events": len(events),
		})
		onChange(next)
	})
	if err != nil {
		return nil, err
	}
	for _, f := range cfg.WatchedFiles() {
		if err := w.Watch(f); err != nil {
			_ = w.Stop()
			return nil, err
		}
	}
	w.Start(ctx)
	return w, nil
}
