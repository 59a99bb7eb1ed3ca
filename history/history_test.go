package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/steplog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRun(t *testing.T, logDir, name string, run model.Run) {
	t.Helper()
	dir := filepath.Join(logDir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(run)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, steplog.RunRecordFile), data, 0644))
}

func TestLoadRuns(t *testing.T) {
	logDir := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	writeRun(t, logDir, "a", model.Run{ID: "aaaa1111", Test: "test_load", Timestamp: base})
	writeRun(t, logDir, "b", model.Run{ID: "bbbb2222", Test: "test_stop", Timestamp: base.Add(time.Hour)})
	writeRun(t, logDir, "c", model.Run{ID: "cccc3333", Test: "test_load_wb", Timestamp: base.Add(2 * time.Hour)})
	require.NoError(t, os.MkdirAll(filepath.Join(logDir, "broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "broken", steplog.RunRecordFile), []byte("{"), 0644))

	entries, err := LoadRuns(zerolog.Nop(), logDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "cccc3333", entries[0].Run.ID)
	assert.Equal(t, "aaaa1111", entries[2].Run.ID)
	assert.Equal(t, filepath.Join(logDir, "c"), entries[0].FullPath)

	assert.Len(t, Filter(entries, "test_load"), 2)
	assert.Len(t, Filter(entries, ""), 3)
}

func TestLoadRuns_MissingDir(t *testing.T) {
	_, err := LoadRuns(zerolog.Nop(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	entries := []Entry{
		{Run: model.Run{ID: "cccc3333"}},
		{Run: model.Run{ID: "bbbb2222"}},
		{Run: model.Run{ID: "aaaa1111"}},
	}

	tests := []struct {
		ref     string
		wantID  string
		wantErr bool
	}{
		{ref: "0", wantID: "cccc3333"},
		{ref: "-1", wantID: "bbbb2222"},
		{ref: "-2", wantID: "aaaa1111"},
		{ref: "-3", wantErr: true},
		{ref: "-9223372036854775808", wantErr: true},
		{ref: "1", wantErr: true},
		{ref: "BBBB", wantID: "bbbb2222"},
		{ref: "dddd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := Resolve(entries, tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.Run.ID)
		})
	}

	_, err := Resolve(nil, "0")
	assert.Error(t, err)
}
