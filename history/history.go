package history

// This file contains shared history utilities for loading and resolving
// the run records left in the log directory.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/steplog"
	"github.com/rs/zerolog"
)

type Entry struct {
	Run      model.Run
	FullPath string
}

// LoadRuns loads all run records below logDir, newest first.
func LoadRuns(logger zerolog.Logger, logDir string) ([]Entry, error) {
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("no test runs found in %s", logDir)
	}

	var entries []Entry

	err := filepath.WalkDir(logDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			recordPath := filepath.Join(path, steplog.RunRecordFile)
			if _, err := os.Stat(recordPath); err == nil {
				run, err := parseRunJSON(recordPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", recordPath).Msg("Failed to parse run.json")
					return nil
				}

				entries = append(entries, Entry{
					Run:      run,
					FullPath: path,
				})
				// run directories do not nest
				return filepath.SkipDir
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk log directory: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Run.Timestamp.After(entries[j].Run.Timestamp)
	})

	return entries, nil
}

// Resolve finds an entry by reference: "0" is the newest run, "-N" the
// N-th run before it, anything else is matched as an ID prefix. Entries
// must be sorted newest first.
func Resolve(entries []Entry, ref string) (*Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no history entries found")
	}

	if parsed, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", ref)
		}
		if parsed <= -int64(len(entries)) {
			return nil, fmt.Errorf("index %s out of range (only %d history entries)", ref, len(entries))
		}
		return &entries[-parsed], nil
	}

	prefix := strings.ToLower(ref)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].Run.ID), prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no history entry found matching ID: %s", ref)
}

// Filter returns the entries whose test name contains substr.
func Filter(entries []Entry, substr string) []Entry {
	if substr == "" {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if strings.Contains(e.Run.Test, substr) {
			out = append(out, e)
		}
	}
	return out
}

// parseRunJSON parses a run.json file.
func parseRunJSON(recordPath string) (model.Run, error) {
	data, err := os.ReadFile(recordPath)
	if err != nil {
		return model.Run{}, err
	}

	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, err
	}

	return run, nil
}
