package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/czcorpus/wag-sub001/internal/api"
	"github.com/czcorpus/wag-sub001/internal/config"
	"github.com/czcorpus/wag-sub001/internal/dashboard"
)

var (
	servePort  int
	serveHost  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Start the WaG HTTP API server. Every search runs all tiles of the
layout configured for its query type and returns the finished dashboard.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload layouts and tiles when the configuration changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	engine, cfg, logger, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	// Flags override the configured address
	host, port := cfg.Server.Host, cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort > 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	server := api.NewServer(addr, engine, logger, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
	})

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	// defaults only config has no file to watch
	if (serveWatch || cfg.Server.WatchConfig) && cfg.Path() != "" {
		w, err := config.Watch(watchCtx, cfg, logger, func(next *config.Config) {
			// running sessions keep the settings they started with
			engine.Reload(dashboard.SettingsFromConfig(next))
		})
		if err != nil {
			return fmt.Errorf("failed to watch configuration: %w", err)
		}
		defer w.Stop()
	}

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("WaG HTTP API server listening on http://%s\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})

		// Give running searches time to finish
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during shutdown", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}

		logger.Info("Server stopped gracefully", nil)
	}

	return nil
}
