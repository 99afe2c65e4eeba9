// Package main implements recctl, the command-line client for a recd server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	var serverURL string

	root := &cobra.Command{
		Use:   "recctl",
		Short: "CLI for recd batch operations",
		Long: `recctl submits product CSVs to a recd server, follows batch progress
and downloads the resulting workbook.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "recd server URL")

	client := func() *apiClient { return newAPIClient(serverURL) }

	root.AddCommand(
		newHealthCmd(client),
		newModelsCmd(client),
		newSubmitCmd(client),
		newWatchCmd(client),
		newRunCmd(client),
	)
	return root
}
