package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCaptureCmd creates the one-shot 'capture' subcommand.
func newCaptureCmd() *cobra.Command {
	var (
		concurrency int
		output      string
	)
	cmd := &cobra.Command{
		Use:   "capture <sitemap-url>",
		Short: "Captures every page in a sitemap and writes a zip",
		Long: `Resolves the sitemap (or CSV URL list), captures each page, and writes the
archive to --output. Failed pages are listed in the archive's CSV.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := appBuilder(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
					zap.L().Warn("shutdown failed", zap.Error(cerr))
				}
			}()

			p, err := app.CaptureSitemap(ctx, args[0], concurrency, output)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("capture interrupted: %w", err)
				}
				return fmt.Errorf("capture sitemap: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d captured, %d failed, archive written to %s\n",
				p.Completed, p.Failed, output)
			return err
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "parallel captures (default jobs.default_concurrency)")
	cmd.Flags().StringVarP(&output, "output", "o", "screenshots.zip", "archive destination path")
	return cmd
}
