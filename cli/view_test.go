package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/perfgo/castest/history"
	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/steplog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveFirstDashDash(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "empty slice",
			in:   []string{},
			want: []string{},
		},
		{
			name: "starts with --",
			in:   []string{"--", "-http=:8080", "-top"},
			want: []string{"-http=:8080", "-top"},
		},
		{
			name: "no --",
			in:   []string{"-http=:8080", "-top"},
			want: []string{"-http=:8080", "-top"},
		},
		{
			name: "only --",
			in:   []string{"--"},
			want: []string{},
		},
		{
			name: "-- in middle",
			in:   []string{"-top", "--", "-http=:8080"},
			want: []string{"-top", "--", "-http=:8080"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, removeFirstDashDash(tt.in))
		})
	}
}

func TestParseViewArgs(t *testing.T) {
	tests := []struct {
		name          string
		in            []string
		wantID        string
		wantPprofArgs []string
	}{
		{
			name:          "empty args - default to 0",
			in:            []string{},
			wantID:        "0",
			wantPprofArgs: nil,
		},
		{
			name:          "only ID - index 0",
			in:            []string{"0"},
			wantID:        "0",
			wantPprofArgs: []string{},
		},
		{
			name:          "only ID - negative index",
			in:            []string{"-1"},
			wantID:        "-1",
			wantPprofArgs: []string{},
		},
		{
			name:          "only ID - hex string",
			in:            []string{"3f2a9c"},
			wantID:        "3f2a9c",
			wantPprofArgs: []string{},
		},
		{
			name:          "only pprof args",
			in:            []string{"-http=:8080"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080"},
		},
		{
			name:          "ID with pprof args",
			in:            []string{"0", "-http=:8080"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080"},
		},
		{
			name:          "ID with -- separator and pprof args",
			in:            []string{"0", "--", "-http=:8080", "-top"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080", "-top"},
		},
		{
			name:          "negative index with -- and pprof args",
			in:            []string{"-1", "--", "-top"},
			wantID:        "-1",
			wantPprofArgs: []string{"-top"},
		},
		{
			name:          "hex ID with pprof args no separator",
			in:            []string{"3f2a9c", "-list=Cleanup"},
			wantID:        "3f2a9c",
			wantPprofArgs: []string{"-list=Cleanup"},
		},
		{
			name:          "only -- uses default 0",
			in:            []string{"--", "-http=:8080"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080"},
		},
		{
			name:          "negative index with multiple pprof args",
			in:            []string{"-2", "-http=:8080", "-nodefraction=0.1"},
			wantID:        "-2",
			wantPprofArgs: []string{"-http=:8080", "-nodefraction=0.1"},
		},
		{
			name:          "ID 0 with -- and multiple pprof args",
			in:            []string{"0", "--", "-http=:8080", "-top", "-cum"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080", "-top", "-cum"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotPprofArgs := parseViewArgs(tt.in)
			assert.Equal(t, tt.wantID, gotID)
			assert.Equal(t, tt.wantPprofArgs, gotPprofArgs)
		})
	}
}

func TestDisplayRun(t *testing.T) {
	logDir := t.TempDir()
	log, err := steplog.Create(logDir, "test_cache_stop", steplog.WithConsole(nil))
	require.NoError(t, err)
	require.NoError(t, log.Step("Cleanup before test", func() error {
		time.Sleep(time.Millisecond)
		return nil
	}))
	log.Warning("Exception occured during platform cleanup.")
	log.AddCleanupOutcome(model.CleanupOutcome{Step: "platform", Warning: "cache 1 is busy"})
	log.SetDUT("DUT(address=10.0.0.2, already_updated=true)")
	require.NoError(t, log.Close())

	entries, err := history.LoadRuns(zerolog.Nop(), logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var buf bytes.Buffer
	require.NoError(t, displayRun(&buf, &entries[0]))
	out := buf.String()
	assert.Contains(t, out, "Test: test_cache_stop")
	assert.Contains(t, out, "DUT(address=10.0.0.2, already_updated=true)")
	assert.Contains(t, out, "WARN  Exception occured during platform cleanup.")
	assert.Contains(t, out, "Cleanup platform: failed: cache 1 is busy")
	assert.Contains(t, out, "Cleanup before test")
	assert.Contains(t, out, filepath.Join(entries[0].FullPath, steplog.StepProfileFile))
}

func TestDisplayRun_NoProfile(t *testing.T) {
	var buf bytes.Buffer
	entry := &history.Entry{Run: model.Run{ID: "3f2a9c00", Test: "test_load"}, FullPath: os.TempDir()}
	require.NoError(t, displayRun(&buf, entry))
	assert.Contains(t, buf.String(), "No step profile recorded")
}

func TestPrintRuns(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []history.Entry{
		{Run: model.Run{ID: "3f2a9c0011", Test: "test_load", Param: "wt", Timestamp: ts, Duration: 2 * time.Second}, FullPath: "results/a"},
		{Run: model.Run{ID: "77aa", Test: "test_stop", Timestamp: ts, Exceptions: []model.Exception{{Message: "boom"}}}, FullPath: "results/b"},
	}

	var buf bytes.Buffer
	printRuns(&buf, entries, 1)
	out := buf.String()
	assert.Contains(t, out, "=== History (2 total) ===")
	assert.Contains(t, out, "✓  2024-03-01 12:00:00  [2s]  test_load  id=3f2a9c00")
	assert.Contains(t, out, "Param: wt")
	assert.NotContains(t, out, "test_stop")

	buf.Reset()
	printRuns(&buf, entries[1:], 0)
	assert.Contains(t, buf.String(), "✗")
	assert.Contains(t, buf.String(), "Warnings: 0  Exceptions: 1")

	buf.Reset()
	printRuns(&buf, nil, 0)
	assert.Equal(t, "No test runs found\n", buf.String())
}
