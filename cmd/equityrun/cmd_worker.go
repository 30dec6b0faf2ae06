package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/equityrun/equityrun/internal/jobs"
	"github.com/equityrun/equityrun/internal/metrics"
	"github.com/equityrun/equityrun/internal/pipeline"
	"github.com/equityrun/equityrun/internal/provider/polygon"
	"github.com/equityrun/equityrun/internal/store"
	"github.com/equityrun/equityrun/internal/worker"
)

func workerCmd() *cobra.Command {
	var scoringFile string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the discovery job consumer",
		Long: `Consumes discovery jobs from the shared queue, runs the pipeline, and
keeps the liveness heartbeat fresh. SIGTERM drains the in-flight job before
exiting.`,
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
			w := worker.New(st, queue, coord, cfg, reg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := w.Run(ctx); err != nil {
				return err
			}
			log.Info().Msg("Worker exited cleanly")
			return nil
		},
	}

	cmd.Flags().StringVar(&scoringFile, "config", "", "Optional scoring threshold YAML")
	return cmd
}
