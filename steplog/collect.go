package steplog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/natefinch/atomic"
	"github.com/perfgo/castest/model"
)

// Runner executes a shell command on the DUT.
type Runner interface {
	Run(ctx context.Context, command string) (model.CommandOutput, error)
}

// DefaultDUTLogs are collected from every DUT after a test.
var DefaultDUTLogs = []string{"dmesg"}

// GetAdditionalLogs copies the kernel log and the given DUT files into the
// dut/ directory of the test. DefaultDUTLogs are always collected first and
// must not be repeated in files. Collection is best effort: each failure is
// logged as a warning and the first one is returned after all files were
// tried.
func (l *Log) GetAdditionalLogs(ctx context.Context, r Runner, files []string) error {
	if r == nil {
		return nil
	}

	dir := filepath.Join(l.dir, DUTLogDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create DUT log directory: %w", err)
	}

	var firstErr error
	fail := func(err error) {
		l.Warning(err.Error())
		if firstErr == nil {
			firstErr = err
		}
	}

	sources := append([]string(nil), DefaultDUTLogs...)
	sources = append(sources, files...)
	for _, src := range sources {
		command := "dmesg"
		if src != "dmesg" {
			command = "cat " + shellescape.Quote(src)
		}

		out, err := r.Run(ctx, command)
		if err != nil {
			fail(fmt.Errorf("failed to collect %s: %w", src, err))
			continue
		}
		if !out.Succeeded() {
			fail(fmt.Errorf("failed to collect %s: exit code %d (stderr: %s)", src, out.ExitCode, strings.TrimSpace(out.Stderr)))
			continue
		}

		name := logFileName(src)
		if err := atomic.WriteFile(filepath.Join(dir, name), strings.NewReader(out.Stdout)); err != nil {
			fail(fmt.Errorf("failed to write %s: %w", name, err))
			continue
		}
		l.AddArtifact(model.ArtifactTypeDUTLog, filepath.Join(DUTLogDir, name), uint64(len(out.Stdout)))
		l.Debug(fmt.Sprintf("Collected %s from DUT", src))
	}

	if err := l.writeRecord(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// logFileName flattens a DUT path into a file name.
func logFileName(src string) string {
	if src == "dmesg" {
		return "dmesg.log"
	}
	name := strings.Trim(strings.ReplaceAll(src, "/", "_"), "_")
	if filepath.Ext(name) == "" {
		name += ".log"
	}
	return name
}
