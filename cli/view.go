package cli

// This file contains the view command for displaying a test run from the
// log directory.

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/perfgo/castest/history"
	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/steplog"
	"github.com/urfave/cli/v2"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, pprofArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are pprof args
	if in[0] == "--" {
		return "0", in[1:]
	}

	// A negative index is "-" followed by only digits (e.g. "-1"), a pprof
	// flag is anything else starting with "-" (e.g. "-top")
	if len(in[0]) > 1 && in[0][0] == '-' {
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			return "0", in
		}
	}

	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	arg, pprofArgs := parseViewArgs(ctx.Args().Slice())

	entries, err := history.LoadRuns(a.logger, ctx.String("log-path"))
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	entry, err := history.Resolve(entries, arg)
	if err != nil {
		return err
	}

	if len(pprofArgs) > 0 {
		return a.displayProfile(entry, pprofArgs)
	}
	return displayRun(os.Stdout, entry)
}

func displayRun(w io.Writer, entry *history.Entry) error {
	r := entry.Run

	fmt.Fprintf(w, "=== Test Run: %s ===\n", r.ID)
	fmt.Fprintf(w, "Test: %s\n", r.Test)
	if r.Param != "" {
		fmt.Fprintf(w, "Param: %s\n", r.Param)
	}
	fmt.Fprintf(w, "Time: %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", r.Duration)
	if r.DUT != "" {
		fmt.Fprintf(w, "%s\n", r.DUT)
	}
	if len(r.BuildInfo) > 0 {
		fmt.Fprintf(w, "Build: %s\n", strings.Join(r.BuildInfo, " "))
	}
	fmt.Fprintln(w)

	for _, msg := range r.Warnings {
		fmt.Fprintf(w, "WARN  %s\n", msg)
	}
	for _, e := range r.Exceptions {
		fmt.Fprintf(w, "ERROR %s\n", e.Message)
	}
	for _, o := range r.Cleanup {
		status := "ok"
		if !o.OK {
			status = "failed: " + o.Warning
		}
		fmt.Fprintf(w, "Cleanup %s: %s\n", o.Step, status)
	}

	if err := displayStepTimings(w, entry); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, artifact := range r.Artifacts {
		fmt.Fprintf(w, "%-12s %s (%.1f KB)\n", artifact.Type, filepath.Join(entry.FullPath, artifact.File), float64(artifact.Size)/1024)
	}
	return nil
}

func displayStepTimings(w io.Writer, entry *history.Entry) error {
	artifact := findArtifact(entry.Run, model.ArtifactTypeStepProfile)
	if artifact == nil {
		fmt.Fprintln(w, "\nNo step profile recorded")
		return nil
	}

	f, err := os.Open(filepath.Join(entry.FullPath, artifact.File))
	if err != nil {
		return fmt.Errorf("failed to open step profile: %w", err)
	}
	defer f.Close()

	timings, err := steplog.ReadStepProfile(f)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%12s %12s  %s\n", "self", "cum", "step")
	for _, t := range timings {
		fmt.Fprintf(w, "%12s %12s  %s\n", t.Self, t.Cum, t.Path)
	}
	return nil
}

func findArtifact(r model.Run, t model.ArtifactType) *model.Artifact {
	for i := range r.Artifacts {
		if r.Artifacts[i].Type == t {
			return &r.Artifacts[i]
		}
	}
	return nil
}

func (a *App) displayProfile(entry *history.Entry, pprofArgs []string) error {
	artifact := findArtifact(entry.Run, model.ArtifactTypeStepProfile)
	if artifact == nil {
		return fmt.Errorf("run %s has no step profile", entry.Run.ID)
	}
	profilePath := filepath.Join(entry.FullPath, artifact.File)
	fmt.Printf("Profile: %s (%.1f KB)\n", profilePath, float64(artifact.Size)/1024)

	args := []string{"tool", "pprof"}
	args = append(args, pprofArgs...)
	args = append(args, profilePath)

	cmd := exec.Command("go", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = entry.FullPath

	return cmd.Run()
}
