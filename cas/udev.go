package cas

import (
	"context"
	"fmt"
)

// Udev controls the udev event queue on the DUT. Some tests stop event
// processing to keep device naming deterministic.
type Udev struct {
	Exec Runner
}

// Enable restarts udev event processing.
func (u *Udev) Enable(ctx context.Context) error {
	if _, err := run(ctx, u.Exec, "udevadm control --start-exec-queue"); err != nil {
		return fmt.Errorf("failed to enable udev: %w", err)
	}
	return nil
}

// Disable stops udev event processing.
func (u *Udev) Disable(ctx context.Context) error {
	if _, err := run(ctx, u.Exec, "udevadm control --stop-exec-queue"); err != nil {
		return fmt.Errorf("failed to disable udev: %w", err)
	}
	return nil
}
