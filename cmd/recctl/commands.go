package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recd/internal/catalog"
	"github.com/fyrsmithlabs/recd/internal/monitor"
	"github.com/fyrsmithlabs/recd/internal/progress"
	"github.com/fyrsmithlabs/recd/internal/report"
)

// watcherGrace bounds how long run waits for the terminal event after the
// server has already answered.
const watcherGrace = 5 * time.Second

func newHealthCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check recd server health",
		Long: `Check the health status of the recd HTTP server.

Examples:
  recctl health
  recctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client()
			h, err := c.health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", h.Status)
			fmt.Fprintf(out, "Server URL: %s\n", c.baseURL)
			for _, d := range h.Degraded {
				fmt.Fprintf(out, "Degraded: %s\n", d)
			}
			return nil
		},
	}
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	liveStyle        = tableCellStyle.Foreground(lipgloss.Color("46"))
	demoStyle        = tableCellStyle.Foreground(lipgloss.Color("226"))
)

func newModelsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable models and whether they run live or in demo mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := client().models(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderModels(models))
			return nil
		},
	}
}

func renderModels(models []catalog.Availability) string {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		rows = append(rows, []string{m.Key, string(m.Provider), m.Label, string(m.Mode), m.CredentialEnv})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KEY", "PROVIDER", "LABEL", "MODE", "CREDENTIAL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == 3 && row >= 0 && row < len(rows) && rows[row][3] == string(catalog.ModeLive):
				return liveStyle
			case col == 3:
				return demoStyle
			}
			return tableCellStyle
		}).
		String()
}

type batchFlags struct {
	models     []string
	iterations int
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.models, "models", "m", nil, "model keys to query (repeat or comma-separate)")
	cmd.Flags().IntVarP(&f.iterations, "iterations", "n", 1, "recommendations per product and model")
	_ = cmd.MarkFlagRequired("models")
}

func newSubmitCmd(client func() *apiClient) *cobra.Command {
	var (
		flags   batchFlags
		batchID string
	)
	cmd := &cobra.Command{
		Use:   "submit <file.csv>",
		Short: "Submit a product CSV and wait for the workbook to be generated",
		Long: `Submit a product CSV. The command returns once the server has generated
the workbook and prints its download URL.

Examples:
  recctl submit products.csv --models gpt-4o-mini,claude-3-5-haiku -n 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			resp, err := c.submit(cmd.Context(), submission{
				File:       args[0],
				Models:     flags.models,
				Iterations: flags.iterations,
				BatchID:    batchID,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Message)
			fmt.Fprintf(out, "Batch: %s\n", resp.BatchID)
			fmt.Fprintf(out, "Download: %s%s\n", c.baseURL, resp.DownloadURL)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch UUID (generated by the server when empty)")
	return cmd
}

func newWatchCmd(client func() *apiClient) *cobra.Command {
	var (
		batchID string
		plain   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live batch progress",
		Long: `Follow progress events. With --batch only that batch is shown and the
command exits when it completes or fails; without it every batch is shown
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			stream, err := client().stream().Open(ctx, batchID)
			if err != nil {
				return err
			}
			defer stream.Close()

			last, err := follow(ctx, batchID, stream, plain, cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			if err != nil {
				return err
			}
			return terminalError(last)
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "batch UUID to follow")
	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per event instead of the dashboard")
	return cmd
}

func newRunCmd(client func() *apiClient) *cobra.Command {
	var (
		flags batchFlags
		dir   string
		plain bool
	)
	cmd := &cobra.Command{
		Use:   "run <file.csv>",
		Short: "Submit a CSV, follow its progress and save the workbook",
		Long: `Submit a product CSV, show its progress live and save the workbook to
the output directory.

Examples:
  recctl run products.csv -m gpt-4o -m gemini-1.5-flash --out reports/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, client(), submission{
				File:       args[0],
				Models:     flags.models,
				Iterations: flags.iterations,
				BatchID:    uuid.NewString(),
			}, dir, plain)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&dir, "out", "o", ".", "directory to save the workbook in")
	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per event instead of the dashboard")
	return cmd
}

// runBatch subscribes before submitting so no event of the batch is missed.
func runBatch(cmd *cobra.Command, c *apiClient, s submission, dir string, plain bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	stream, err := c.stream().Open(watchCtx, s.BatchID)
	if err != nil {
		return err
	}
	defer stream.Close()

	type watchResult struct {
		last progress.Event
		err  error
	}
	watched := make(chan watchResult, 1)
	go func() {
		last, err := follow(watchCtx, s.BatchID, stream, plain, out)
		watched <- watchResult{last: last, err: err}
	}()

	resp, err := c.submit(ctx, s)
	if err != nil {
		cancelWatch()
		<-watched
		return err
	}

	select {
	case <-watched:
	case <-time.After(watcherGrace):
		cancelWatch()
		<-watched
	}

	data, err := c.download(ctx, resp.DownloadURL)
	if err != nil {
		return err
	}
	rows, err := report.Read(data)
	if err != nil {
		return fmt.Errorf("downloaded workbook is unreadable: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, resp.Filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	sum := report.Summarize(rows)
	fmt.Fprintf(out, "%s\n", resp.Message)
	fmt.Fprintf(out, "Rows: %d  Demo: %d  Errors: %d\n", sum.Rows, sum.Demo, resp.Failed)
	fmt.Fprintf(out, "Saved: %s\n", path)
	return nil
}

// follow renders the stream as a dashboard or as plain lines.
func follow(ctx context.Context, batchID string, src monitor.EventSource, plain bool, w io.Writer) (progress.Event, error) {
	if plain {
		return monitor.RunPlain(ctx, batchID, src, w)
	}
	return monitor.Run(ctx, batchID, src)
}

func terminalError(last progress.Event) error {
	if last.Status == progress.StatusFailed {
		return fmt.Errorf("batch %s failed: %s", last.BatchID, last.Message)
	}
	return nil
}
