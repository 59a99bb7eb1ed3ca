// Package executor provides the local and remote command executors used to
// drive a DUT. The remote executor is chosen when the DUT config carries an
// address.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/perfgo/castest/cli/ssh"
	"github.com/perfgo/castest/model"
	"github.com/rs/zerolog"
)

// DefaultReconnectTimeout bounds WaitForConnection on a remote DUT.
const DefaultReconnectTimeout = 5 * time.Minute

var errConnectionCheck = errors.New("connection check failed")

// Local runs commands on the local machine through sh.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a local executor.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger}
}

// Run executes command with sh -c. A non-zero exit status is reported in the
// output; an error means the shell could not be started.
func (l *Local) Run(ctx context.Context, command string) (model.CommandOutput, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debug().Str("command", command).Msg("Running local command")

	err := cmd.Run()
	out := model.CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, fmt.Errorf("failed to run local command: %w", err)
		}
		out.ExitCode = exitErr.ExitCode()
	}
	return out, nil
}

// IsActive always reports true for the local machine.
func (l *Local) IsActive(context.Context) bool { return true }

// WaitForConnection returns immediately for the local machine.
func (l *Local) WaitForConnection(context.Context) error { return nil }

// IsRemote reports false.
func (l *Local) IsRemote() bool { return false }

// Close is a no-op.
func (l *Local) Close() {}

func (l *Local) String() string { return "local" }

// conn is the part of ssh.Client used by Remote.
type conn interface {
	Run(ctx context.Context, command string) (model.CommandOutput, error)
	Check(ctx context.Context) bool
	Connect(ctx context.Context) error
	Close()
	Host() string
}

// Remote runs commands on a DUT over a multiplexed ssh connection.
type Remote struct {
	logger  zerolog.Logger
	conn    conn
	timeout time.Duration
	// backoff bounds between reconnect attempts
	minDelay time.Duration
	maxDelay time.Duration
}

// RemoteOption configures a remote executor.
type RemoteOption func(*Remote)

// WithReconnectTimeout sets the upper bound for WaitForConnection.
func WithReconnectTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		r.timeout = d
	}
}

// WithBackoff sets the delay bounds between reconnect attempts.
func WithBackoff(min, max time.Duration) RemoteOption {
	return func(r *Remote) {
		r.minDelay = min
		r.maxDelay = max
	}
}

func newRemote(logger zerolog.Logger, c conn, opts ...RemoteOption) *Remote {
	r := &Remote{
		logger:   logger,
		conn:     c,
		timeout:  DefaultReconnectTimeout,
		minDelay: time.Second,
		maxDelay: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRemote wraps an ssh client.
func NewRemote(logger zerolog.Logger, client *ssh.Client, opts ...RemoteOption) *Remote {
	return newRemote(logger, client, opts...)
}

// Run executes command on the DUT.
func (r *Remote) Run(ctx context.Context, command string) (model.CommandOutput, error) {
	return r.conn.Run(ctx, command)
}

// IsActive reports whether the master connection to the DUT is alive.
func (r *Remote) IsActive(ctx context.Context) bool {
	return r.conn.Check(ctx)
}

// WaitForConnection re-dials the DUT until the connection is back, the
// context is done or the reconnect timeout passes.
func (r *Remote) WaitForConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.minDelay
	b.MaxInterval = r.maxDelay

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := r.conn.Connect(ctx); err != nil {
			return struct{}{}, err
		}
		if !r.conn.Check(ctx) {
			return struct{}{}, errConnectionCheck
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(r.timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug().Err(err).Str("host", r.conn.Host()).Int("attempt", attempts).
				Dur("retry_in", next).Msg("DUT not reachable yet")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to reconnect to %s after %d attempts: %w", r.conn.Host(), attempts, err)
	}

	r.logger.Info().Str("host", r.conn.Host()).Int("attempt", attempts).Msg("Connection to DUT restored")
	return nil
}

// IsRemote reports true.
func (r *Remote) IsRemote() bool { return true }

// Close tears down the ssh master connection.
func (r *Remote) Close() {
	r.conn.Close()
}

func (r *Remote) String() string { return "ssh://" + r.conn.Host() }

// Executor is the common surface of Local and Remote.
type Executor interface {
	Run(ctx context.Context, command string) (model.CommandOutput, error)
	IsActive(ctx context.Context) bool
	WaitForConnection(ctx context.Context) error
	IsRemote() bool
	Close()
}

// New returns a Remote executor connected to cfg.IP, or a Local executor
// when the config has no address.
func New(ctx context.Context, logger zerolog.Logger, cfg model.DUTConfig, opts ...RemoteOption) (Executor, error) {
	if !cfg.IsRemote() {
		logger.Info().Msg("No DUT address configured, executing locally")
		return NewLocal(logger), nil
	}

	var sshOpts []ssh.SSHOption
	if cfg.Port != 0 {
		sshOpts = append(sshOpts, ssh.WithPort(cfg.Port))
	}
	if cfg.IdentityFile != "" {
		sshOpts = append(sshOpts, ssh.WithIdentityFile(cfg.IdentityFile))
	}
	if cfg.KnownHostsFile != "" {
		sshOpts = append(sshOpts, ssh.WithKnownHostsFile(cfg.KnownHostsFile))
	}
	if len(cfg.SSHOptions) > 0 {
		sshOpts = append(sshOpts, ssh.WithExtraOptions(cfg.SSHOptions...))
	}

	logger.Info().Str("host", cfg.Host()).Msg("Connecting to DUT")

	client, err := ssh.Dial(ctx, logger, cfg.Host(), sshOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DUT %s: %w", cfg.Host(), err)
	}

	if osName, arch, err := client.DetectSystem(ctx); err != nil {
		logger.Debug().Err(err).Str("host", cfg.Host()).Msg("Failed to detect DUT system")
	} else {
		logger.Info().Str("host", cfg.Host()).Str("os", osName).Str("arch", arch).Msg("Detected DUT system")
	}
	return NewRemote(logger, client, opts...), nil
}
