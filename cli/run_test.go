package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/perfgo/castest/config"
	"github.com/perfgo/castest/fixture"
	"github.com/perfgo/castest/history"
	"github.com/perfgo/castest/internal/fakedut"
	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/vcs"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestParam(t *testing.T) {
	assert.Equal(t, "wt", testParam("test_load[wt]"))
	assert.Equal(t, "wb-4k", testParam("test_load[wb-4k]"))
	assert.Equal(t, "", testParam("test_load"))
}

func TestBodyCommand(t *testing.T) {
	assert.Equal(t, "fio --name=load | tee out", bodyCommand([]string{"fio --name=load | tee out"}))
	assert.Equal(t, "dd if=/dev/zero 'of=/mnt/cas 1/f'", bodyCommand([]string{"dd", "if=/dev/zero", "of=/mnt/cas 1/f"}))
}

const (
	mountsCommand    = "cat /proc/mounts | grep cas"
	uninstallCommand = "if [ -d /root/open-cas-linux ]; then cd /root/open-cas-linux && make uninstall; fi"
)

type runHarness struct {
	exec *fakedut.Executor
	app  *App
	s    *session
}

// newRunHarness builds a session whose platform is a fake local DUT with
// Open CAS installed and nothing mounted.
func newRunHarness(t *testing.T, opts model.SessionOptions) *runHarness {
	t.Helper()
	h := &runHarness{
		exec: fakedut.New(),
		app:  &App{logger: zerolog.Nop()},
	}
	h.exec.SetResponse(mountsCommand, model.CommandOutput{ExitCode: 1})

	opts.LogPath = t.TempDir()
	connector := fixture.ConnectorFunc(func(_ context.Context, cfg model.DUTConfig) (*fixture.Platform, error) {
		return newPlatform(zerolog.Nop(), h.exec, opts, cfg), nil
	})
	loader := &config.Loader{Fs: afero.NewMemMapFs()}
	h.s = &session{
		Session:    fixture.NewSession(opts, nil, vcs.Unknown{}),
		controller: fixture.NewController(zerolog.Nop(), loader, connector),
	}
	t.Cleanup(h.s.Close)
	return h
}

func (h *runHarness) runs(t *testing.T) []model.Run {
	t.Helper()
	entries, err := history.LoadRuns(zerolog.Nop(), h.s.Options.LogPath)
	require.NoError(t, err)
	runs := make([]model.Run, 0, len(entries))
	for _, e := range entries {
		runs = append(runs, e.Run)
	}
	return runs
}

func (h *runHarness) onlyRun(t *testing.T) (model.Run, string) {
	t.Helper()
	entries, err := history.LoadRuns(zerolog.Nop(), h.s.Options.LogPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0].Run, entries[0].FullPath
}

func artifactsOf(run model.Run, typ model.ArtifactType) []string {
	var files []string
	for _, a := range run.Artifacts {
		if a.Type == typ {
			files = append(files, a.File)
		}
	}
	return files
}

func TestRunTest_Passes(t *testing.T) {
	h := newRunHarness(t, model.DefaultSessionOptions())
	h.exec.SetResponse("fio --name=load", model.CommandOutput{Stdout: "load done\n"})

	err := h.app.runAll(context.Background(), h.s, []plannedTest{{Test: "test_load[wt]", Command: "fio --name=load"}})
	require.NoError(t, err)

	run, dir := h.onlyRun(t)
	assert.Equal(t, "test_load", run.Test)
	assert.Equal(t, "wt", run.Param)
	assert.Equal(t, []string{testOutputFile}, artifactsOf(run, model.ArtifactTypeTestOutput))
	data, err := os.ReadFile(filepath.Join(dir, testOutputFile))
	require.NoError(t, err)
	assert.Equal(t, "load done\n", string(data))

	assert.Equal(t, []model.CleanupOutcome{{Step: "platform", OK: true}}, run.Cleanup)
	assert.Len(t, h.exec.Matching("dmesg"), 1)
	assert.Len(t, artifactsOf(run, model.ArtifactTypeDUTLog), 1)
}

func TestRunTest_PrepareFailureSkipsBody(t *testing.T) {
	h := newRunHarness(t, model.DefaultSessionOptions())
	h.exec.SetResponse("udevadm control --start-exec-queue", model.CommandOutput{ExitCode: 1, Stderr: "Failed to send control message"})

	err := h.app.runAll(context.Background(), h.s, []plannedTest{{Test: "test_load", Command: "fio --name=load"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to enable udev")

	assert.Empty(t, h.exec.Matching("fio"))

	run, _ := h.onlyRun(t)
	assert.Empty(t, artifactsOf(run, model.ArtifactTypeTestOutput))
	require.Len(t, run.Cleanup, 1)
	assert.Equal(t, "platform", run.Cleanup[0].Step)
	assert.False(t, run.Cleanup[0].OK)
	assert.Len(t, h.exec.Matching("dmesg"), 1)
}

func TestRunTest_BodyExitCodeIsReturned(t *testing.T) {
	h := newRunHarness(t, model.DefaultSessionOptions())
	h.exec.SetResponse("./flush.sh", model.CommandOutput{ExitCode: 3, Stdout: "flushing\n", Stderr: "flush timed out\n"})

	err := h.app.runAll(context.Background(), h.s, []plannedTest{{Test: "test_flush", Command: "./flush.sh"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "test_flush: test body failed with exit code 3")

	run, dir := h.onlyRun(t)
	assert.True(t, run.Failed())
	assert.Equal(t, []string{testOutputFile}, artifactsOf(run, model.ArtifactTypeTestOutput))
	data, err := os.ReadFile(filepath.Join(dir, testOutputFile))
	require.NoError(t, err)
	assert.Equal(t, "flushing\n\n--- stderr ---\nflush timed out\n", string(data))
	assert.Equal(t, []model.CleanupOutcome{{Step: "platform", OK: true}}, run.Cleanup)
}

func TestRunTest_PlatformCleanupFailureKeepsResult(t *testing.T) {
	h := newRunHarness(t, model.DefaultSessionOptions())
	// suppressed in preparation since Open CAS is installed, a warning in
	// teardown
	h.exec.SetResponse(mountsCommand, model.CommandOutput{ExitCode: 2, Stderr: "grep: /proc/mounts: Permission denied"})

	err := h.app.runAll(context.Background(), h.s, []plannedTest{{Test: "test_load", Command: "fio --name=load"}})
	require.NoError(t, err)

	run, _ := h.onlyRun(t)
	require.Len(t, run.Cleanup, 1)
	assert.False(t, run.Cleanup[0].OK)
	assert.Contains(t, run.Cleanup[0].Warning, "failed to list mounted cas devices")

	h.exec.SetResponse("fio --name=load", model.CommandOutput{ExitCode: 1})
	err = h.app.runAll(context.Background(), h.s, []plannedTest{{Test: "test_load", Command: "fio --name=load"}})
	require.Error(t, err)
	assert.EqualError(t, err, "test_load: test body failed with exit code 1")
}

func TestRunTest_NotConnected(t *testing.T) {
	h := newRunHarness(t, model.DefaultSessionOptions())
	h.s.controller = fixture.NewController(zerolog.Nop(), &config.Loader{Fs: afero.NewMemMapFs()},
		fixture.ConnectorFunc(func(context.Context, model.DUTConfig) (*fixture.Platform, error) {
			return nil, assert.AnError
		}))

	err := h.app.runAll(context.Background(), h.s, []plannedTest{{Test: "test_load", Command: "fio --name=load"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, fixture.ErrNotConnected)
	assert.Empty(t, h.exec.Commands)
}

func TestRunAll_ForceReinstallOncePerSession(t *testing.T) {
	opts := model.DefaultSessionOptions()
	opts.ForceReinstall = true
	h := newRunHarness(t, opts)

	err := h.app.runAll(context.Background(), h.s, []plannedTest{
		{Test: "test_load[wt]", Command: "fio --name=load"},
		{Test: "test_flush", Command: "./flush.sh"},
	})
	require.NoError(t, err)

	assert.Len(t, h.exec.Matching(uninstallCommand), 1)
	assert.Len(t, h.exec.Matching("cd /root/open-cas-linux && make install"), 1)
	assert.Len(t, h.runs(t), 2)
	assert.True(t, h.s.DUT.AlreadyUpdated())
}

func TestRunAll_ContinuesAfterFailedTest(t *testing.T) {
	h := newRunHarness(t, model.DefaultSessionOptions())
	h.exec.SetResponse("fio --name=load", model.CommandOutput{ExitCode: 1})

	err := h.app.runAll(context.Background(), h.s, []plannedTest{
		{Test: "test_load", Command: "fio --name=load"},
		{Test: "test_flush", Command: "./flush.sh"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "test_load: test body failed with exit code 1")
	assert.NotContains(t, err.Error(), "test_flush")
	assert.Len(t, h.exec.Matching("./flush.sh"), 1)
	assert.Len(t, h.runs(t), 2)
}
