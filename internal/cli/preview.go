package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
	"github.com/gyaneshwarpardhi/eventshift/internal/pipeline"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	ConfigPath string
	Watch      bool
	Limit      int
}

// NewPreviewCommand creates the preview command: a dry run that prints sample
// transformed events, optionally re-running whenever the config file changes.
func NewPreviewCommand(root *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Transform events without sending and print samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "migration.yaml", "path to the migration config")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "re-run the preview on config changes")
	cmd.Flags().IntVar(&opts.Limit, "limit", 5, "number of sample events to print")

	return cmd
}

func runPreview(ctx context.Context, opts *PreviewOptions) error {
	loader, err := config.NewLoader(opts.ConfigPath)
	if err != nil {
		return err
	}

	if err := previewOnce(ctx, loader.Config(), opts.Limit); err != nil {
		return err
	}
	if !opts.Watch {
		return nil
	}

	loader.OnChange(func(cfg *config.Config) {
		if err := previewOnce(ctx, cfg, opts.Limit); err != nil {
			slog.Warn("preview failed", "err", err)
		}
	})
	stop, err := loader.Watch()
	if err != nil {
		return err
	}
	defer stop()

	slog.Info("watching for config changes", "path", loader.Path())
	sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-sigCtx.Done()
	return nil
}

// previewOnce transforms the source in dry-run mode and prints up to limit
// sample events as indented JSON.
func previewOnce(ctx context.Context, cfg *config.Config, limit int) error {
	// The loader owns cfg; preview runs on a private dry-run copy.
	preview := *cfg
	preview.DryRun = true
	if limit > 0 {
		preview.Report.SampleLimit = limit
	}

	if err := config.Validate(&preview); err != nil {
		return err
	}
	iterate, err := pipeline.SourceIterator(ctx, &preview)
	if err != nil {
		return err
	}
	runner, err := pipeline.New(&preview)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx, iterate)
	if err != nil {
		return err
	}

	for _, evt := range report.Samples.Events {
		data, err := json.MarshalIndent(evt, "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintln(os.Stdout, string(data))
	}
	fmt.Printf("preview: read=%v kept=%v mtu=%d\n",
		report.Counters["events_read"], report.Counters["events_kept"], report.MTU.Estimate)
	return nil
}
