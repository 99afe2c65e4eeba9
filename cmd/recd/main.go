// Recd serves product recommendation batches over HTTP.
//
// It accepts a CSV of products and a set of models, asks each model for a
// recommendation per product and iteration, streams progress over SSE and
// returns an Excel workbook.
//
// Configuration is read from ~/.config/recd/config.yaml (or --config), then
// the environment and a .env file in the working directory. Providers without
// an API key run in demo mode.
//
// Usage:
//
//	# Start with defaults (embedded NATS, port 8000)
//	recd
//
//	# Live OpenAI calls on another port
//	OPENAI_API_KEY=sk-... SERVER_PORT=9000 recd
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "recd",
		Short: "Product recommendation batch server",
		Long: `recd turns a CSV of products into AI-generated recommendations.

Each product is sent to every selected model for every iteration. Progress is
streamed at /api/v1/progress and the results are returned as an .xlsx file.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := run(cmd.Context(), cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/recd/config.yaml)")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	})
	return root
}

// printVersion prints version information
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recd by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
