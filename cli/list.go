package cli

// This file contains the list command for displaying previous test runs.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/perfgo/castest/history"
	"github.com/urfave/cli/v2"
)

func (a *App) list(ctx *cli.Context) error {
	logDir := ctx.String("log-path")

	entries, err := history.LoadRuns(a.logger, logDir)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	printRuns(os.Stdout, history.Filter(entries, ctx.String("test")), ctx.Int("limit"))
	return nil
}

func printRuns(w io.Writer, entries []history.Entry, limit int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No test runs found")
		return
	}

	displayRuns := entries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Fprintf(w, "\n=== History (%d total) ===\n\n", len(entries))

	for _, entry := range displayRuns {
		r := entry.Run
		timestamp := r.Timestamp.Format("2006-01-02 15:04:05")
		duration := r.Duration.Round(time.Millisecond)

		status := "✓"
		if r.Failed() {
			status = "✗"
		}

		shortID := r.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(w, "%s  %s  [%s]  %s  id=%s\n", status, timestamp, duration, r.Test, shortID)
		if r.Param != "" {
			fmt.Fprintf(w, "   Param: %s\n", r.Param)
		}
		if r.DUT != "" {
			fmt.Fprintf(w, "   %s\n", r.DUT)
		}
		if len(r.Warnings) > 0 || len(r.Exceptions) > 0 {
			fmt.Fprintf(w, "   Warnings: %d  Exceptions: %d\n", len(r.Warnings), len(r.Exceptions))
		}
		fmt.Fprintf(w, "   %s\n", entry.FullPath)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "View a run: %s view <ID>\n", AppName)
}
