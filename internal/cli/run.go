package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
	"github.com/gyaneshwarpardhi/eventshift/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	DryRun      bool
	MetricsAddr string
}

// NewRunCommand creates the run command: one full migration run.
func NewRunCommand(root *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a migration run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "migration.yaml", "path to the migration config")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "transform and count without sending")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")

	return cmd
}

func runMigration(ctx context.Context, opts *RunOptions) error {
	loader, err := config.NewLoader(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if opts.DryRun {
		cfg.DryRun = true
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadTimeout: 10 * time.Second}
		go func() {
			slog.Info("metrics listening", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	iterate, err := pipeline.SourceIterator(ctx, cfg)
	if err != nil {
		return err
	}
	runner, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	report, runErr := runner.Run(ctx, iterate)

	// The report is written even for aborted runs; a partial summary is how
	// an operator sees where the run stopped.
	if path, err := report.WriteFile(cfg.Report.Dir); err != nil {
		slog.Error("report write failed", "err", err)
	} else {
		slog.Info("report written", "path", path)
	}

	fmt.Printf("Done. read=%v kept=%v sent=%v mtu=%d estimated_cost=$%v (strategy=%s)\n",
		report.Counters["events_read"], report.Counters["events_kept"], report.Counters["events_sent"],
		report.MTU.Estimate, report.MTU.EstimatedCostUSD, report.MTU.Strategy)

	return runErr
}
