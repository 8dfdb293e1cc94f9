// Package cmd defines and implements the CLI commands for the screenshotter
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-screenshotter/internal/config"
	"github.com/JakeFAU/sitemap-screenshotter/internal/server"
)

// appBuilder constructs the application. It's a variable so tests can swap in
// a builder with fake collaborators.
var appBuilder = server.Build

type cfgKeyType struct{}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "screenshotter",
		Short: "Captures a screenshot of every page listed in a sitemap.",
		Long: `screenshotter resolves a sitemap (or sitemap index, or CSV URL list),
captures each page with headless Chrome under a concurrency cap, and packages
the images with a results CSV into a downloadable zip.`,
		SilenceUsage: true,

		// Load configuration once for every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the SCREENSHOTTER_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCaptureCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "screenshotter: %v\n", err)
		os.Exit(1)
	}
}
