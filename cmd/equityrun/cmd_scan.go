package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/equityrun/equityrun/internal/metrics"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/pipeline"
	"github.com/equityrun/equityrun/internal/provider/polygon"
	"github.com/equityrun/equityrun/internal/store"
)

func scanCmd() *cobra.Command {
	var (
		strategy    string
		limit       int
		format      string
		scoringFile string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery pass and print the candidates",
		Long: `Runs the full pipeline once against the in-memory store (or STORE_URL
when set) and prints the ranked candidates. Useful for development and for
cron-style one-shot scans.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "table" {
				return fmt.Errorf("unknown format %q (want json or table)", format)
			}

			cfg, err := loadConfig(scoringFile, false)
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

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.JobTimeout)
			defer cancel()

			result, err := coord.Run(ctx, strategy, limit, nil)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}

			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printTable(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "hybrid_v1", "Strategy tag for cache keying")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum candidates to emit")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (json|table)")
	cmd.Flags().StringVar(&scoringFile, "config", "", "Optional scoring threshold YAML")
	return cmd
}

func printTable(result *models.DiscoveryResult) {
	fmt.Printf("Run %s  strategy=%s  universe=%d  scored=%d  skipped=%d  elapsed=%s\n\n",
		result.RunID[:8], result.StrategyTag, result.UniverseCount, result.ScoredCount,
		result.SkippedCount, result.FinishedAt.Sub(result.StartedAt).Round(100*time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSYMBOL\tPRICE\tCHG%\tRVOL\tSCORE\tCLASS\tENTRY")
	for i, c := range result.Candidates {
		entry := ""
		if c.EntrySignal {
			entry = "YES"
		}
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%+.1f\t%.1fx\t%d\t%s\t%s\n",
			i+1, c.Symbol, c.Price, c.ChangePct, c.RelVolCurrent,
			c.TotalScore, c.Classification, entry)
	}
	w.Flush()
}
