package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/czcorpus/wag-sub001/internal/config"
	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/version"
)

var (
	// configPath is the --config flag value
	configPath string
	// logLevelFlag overrides logging.level of the configuration
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "wag",
	Short: "WaG - Word at a Glance",
	Long: `WaG (Word at a Glance) shows a dashboard of linguistic information about
a word: concordances, collocations, frequencies, word forms and similar words,
each tile fetched from a corpus search backend.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("WaG version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Configuration file (default: "+config.DefaultFileName+" in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error or silent")
}

// loadConfig reads and validates the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger creates the logger configured by cfg. Command output goes to
// stdout, so logs stay on stderr.
func newLogger(cfg *config.Config) *logging.Logger {
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.ParseLevel(level),
		Output: os.Stderr,
	})
}

// openEngine loads the configuration and wires an engine from it.
func openEngine() (*dashboard.Engine, *config.Config, *logging.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg)
	engine, err := dashboard.Open(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	return engine, cfg, logger, nil
}

// newContext creates a context cancelled by Ctrl+C.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
