package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"github.com/perfgo/castest/model"
)

// lockTimeout bounds how long a session waits for another session driving
// the same DUT.
const lockTimeout = 30 * time.Minute

var unsafeLockName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// dutLockPath returns the advisory lock file of the DUT under logDir.
func dutLockPath(logDir string, cfg model.DUTConfig) string {
	key := "local"
	if cfg.IsRemote() {
		key = cfg.IP
		if cfg.Port != 0 {
			key = fmt.Sprintf("%s_%d", key, cfg.Port)
		}
	}
	return filepath.Join(logDir, fmt.Sprintf(".dut-%s.lock", unsafeLockName.ReplaceAllString(key, "_")))
}

// lockDUT takes the advisory lock of the DUT, so two sessions never drive
// the same machine. The returned function releases the lock.
func lockDUT(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire DUT lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("timed out acquiring DUT lock %s", path)
	}
	return func() { _ = fl.Unlock() }, nil
}
