package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/gateway"
	"github.com/equityrun/equityrun/internal/jobs"
	"github.com/equityrun/equityrun/internal/metrics"
	"github.com/equityrun/equityrun/internal/pipeline"
	"github.com/equityrun/equityrun/internal/provider/polygon"
	"github.com/equityrun/equityrun/internal/store"
)

func serveCmd() *cobra.Command {
	var scoringFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the discovery HTTP gateway",
		Long: `Serves the discovery contract: candidates, status, trigger, health.
Requires STORE_URL; jobs are handed to a worker process over the shared
queue, with a synchronous fallback when no worker heartbeat is live.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(scoringFile, true)
			if err != nil {
				return err
			}

			st, err := store.NewAuto(cfg.StoreURL)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			reg := metrics.NewRegistry()
			client := polygon.NewClient(polygonConfig(cfg, reg))
			coord := pipeline.NewCoordinator(client, st, cfg, reg)
			queue := jobs.NewQueue(st, cfg.ResultTTL)
			gw := gateway.New(st, queue, coord, cfg, reg)

			srv := gateway.NewServer(gateway.DefaultServerConfig(cfg.HTTPHost, cfg.HTTPPort), gw)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&scoringFile, "config", "", "Optional scoring threshold YAML")
	return cmd
}

// loadConfig reads the environment, applies the optional scoring file, and
// validates.
func loadConfig(scoringFile string, requireStore bool) (config.Config, error) {
	cfg := config.FromEnv()
	if scoringFile != "" {
		if err := config.LoadScoringFile(scoringFile, &cfg); err != nil {
			return config.Config{}, fmt.Errorf("scoring config: %w", err)
		}
	}
	if err := cfg.Validate(requireStore); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func polygonConfig(cfg config.Config, reg *metrics.Registry) polygon.Config {
	pc := polygon.DefaultConfig(cfg.UpstreamAPIKey)
	pc.BaseURL = cfg.UpstreamBaseURL
	pc.RatePerSec = cfg.RatePerSec
	pc.Burst = cfg.RateBurst
	pc.MaxConcurrency = cfg.Concurrency
	pc.MaxRetries = cfg.MaxRetries
	pc.RequestTimeout = cfg.RequestTimeout
	pc.Metrics = reg
	return pc
}
