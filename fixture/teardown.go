package fixture

import (
	"context"
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/perfgo/castest/model"
)

const (
	listMountsCommand = "cat /proc/mounts | grep cas"

	platformCleanupWarning = "Exception occured during platform cleanup."
	wrapperCleanupWarning  = "Exception occured during test wrapper cleanup."
)

var killIOCommands = []string{
	"pkill --signal SIGKILL dd",
	"kill -9 `ps aux | grep -i vdbench.* | awk '{ print $1 }'`",
	"pkill --signal SIGKILL fio*",
}

// Teardown restores a clean DUT after the test, ends the test log and
// collects the DUT logs. It runs after every test and never fails; problems
// are logged as warnings and reported in the returned outcomes.
func (c *Controller) Teardown(ctx context.Context, s *Session, t *Test) []model.CleanupOutcome {
	t.Log.EndAllGroups()

	var outcomes []model.CleanupOutcome
	_ = t.Log.Step("Cleanup after test", func() error {
		outcome := model.CleanupOutcome{Step: "platform", OK: true}
		if err := c.platformCleanup(ctx, s, t.Log); err != nil {
			t.Log.Warning(platformCleanupWarning)
			t.Log.Debug(err.Error())
			outcome.OK = false
			outcome.Warning = err.Error()
		}
		outcomes = append(outcomes, outcome)

		if s.Wrapper != nil {
			outcome := model.CleanupOutcome{Step: "wrapper", OK: true}
			if err := s.Wrapper.Cleanup(ctx); err != nil {
				t.Log.Warning(fmt.Sprintf("%s\n%v", wrapperCleanupWarning, err))
				outcome.OK = false
				outcome.Warning = err.Error()
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})

	for _, o := range outcomes {
		t.Log.AddCleanupOutcome(o)
	}

	if err := t.Log.End(); err != nil {
		c.logger.Warn().Err(err).Str("test", t.Name).Msg("Failed to finalize test log")
	}
	if s.Platform != nil {
		if err := t.Log.GetAdditionalLogs(ctx, s.Platform.Exec, s.Platform.LogFiles); err != nil {
			c.logger.Warn().Err(err).Str("test", t.Name).Msg("Failed to collect DUT logs")
		}
	}
	return outcomes
}

func (c *Controller) platformCleanup(ctx context.Context, s *Session, log Log) error {
	if s.Platform == nil {
		return ErrNotConnected
	}
	p := s.Platform

	if p.Exec.IsRemote() && !p.Exec.IsActive(ctx) {
		log.Info("Waiting for DUT connection")
		if err := p.Exec.WaitForConnection(ctx); err != nil {
			return fmt.Errorf("failed to reconnect to DUT: %w", err)
		}
	}
	if err := p.Events.Enable(ctx); err != nil {
		return err
	}
	return c.cleanupDevices(ctx, p, log)
}

// cleanupDevices unmounts the CAS devices and stops all caches.
func (c *Controller) cleanupDevices(ctx context.Context, p *Platform, log Log) error {
	if err := c.UnmountCASDevices(ctx, p.Exec, log); err != nil {
		return err
	}
	if err := p.Caches.StopAllCaches(ctx); err != nil {
		return fmt.Errorf("failed to stop caches: %w", err)
	}
	return nil
}

// UnmountCASDevices unmounts every mounted CAS device in mount table order.
// grep exiting with 1 means nothing is mounted.
func (c *Controller) UnmountCASDevices(ctx context.Context, exec Executor, log Log) error {
	out, err := exec.Run(ctx, listMountsCommand)
	if err != nil {
		return fmt.Errorf("failed to list mounted cas devices: %w", err)
	}
	switch out.ExitCode {
	case 0:
	case 1:
		return nil
	default:
		return fmt.Errorf("failed to list mounted cas devices (stdout: %s, stderr: %s)",
			strings.TrimSpace(out.Stdout), strings.TrimSpace(out.Stderr))
	}

	for _, line := range out.Lines() {
		path := strings.Fields(line)[0]
		log.Info(fmt.Sprintf("Unmounting %s", path))

		umount, err := exec.Run(ctx, "umount "+shellescape.Quote(path))
		if err != nil {
			return fmt.Errorf("failed to unmount %s: %w", path, err)
		}
		if !umount.Succeeded() {
			return fmt.Errorf("failed to unmount %s (stdout: %s, stderr: %s)",
				path, strings.TrimSpace(umount.Stdout), strings.TrimSpace(umount.Stderr))
		}
	}
	return nil
}

// KillAllIO kills the I/O generators tests may have left running. Missing
// processes are not an error.
func (c *Controller) KillAllIO(ctx context.Context, exec Executor) {
	for _, cmd := range killIOCommands {
		if _, err := exec.Run(ctx, cmd); err != nil {
			c.logger.Debug().Err(err).Str("command", cmd).Msg("Failed to kill I/O processes")
		}
	}
}
