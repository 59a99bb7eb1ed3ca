// Package ssh provides SSH multiplexing and remote command execution
// against a DUT. It manages a persistent master connection and runs
// commands over its control socket.
package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/perfgo/castest/model"
	"github.com/rs/zerolog"
)

// exitTransport is the exit status ssh uses for its own failures.
const exitTransport = 255

// ErrTransport is returned when ssh itself failed rather than the remote
// command.
var ErrTransport = errors.New("ssh transport failure")

// Client manages an SSH connection to a specific remote host.
type Client struct {
	logger         zerolog.Logger
	host           string
	port           int
	controlPath    string
	identityFile   string
	knownHostsFile string
	proxyCommand   string
	extraOptions   []string

	// command builds the ssh process, replaced in tests
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// SSHOption is a function that configures an SSH client.
type SSHOption func(*Client)

// WithIdentityFile sets the identity file (private key) to use for authentication.
func WithIdentityFile(path string) SSHOption {
	return func(c *Client) {
		c.identityFile = path
	}
}

// WithKnownHostsFile sets the known hosts file to use for host verification.
func WithKnownHostsFile(path string) SSHOption {
	return func(c *Client) {
		c.knownHostsFile = path
	}
}

// WithPort sets the remote ssh port.
func WithPort(port int) SSHOption {
	return func(c *Client) {
		c.port = port
	}
}

// WithProxyCommand sets a proxy command for the SSH connection.
func WithProxyCommand(command string) SSHOption {
	return func(c *Client) {
		c.proxyCommand = command
	}
}

// WithExtraOptions adds extra SSH options to the connection.
func WithExtraOptions(options ...string) SSHOption {
	return func(c *Client) {
		c.extraOptions = append(c.extraOptions, options...)
	}
}

// New creates a new SSH client. The master connection is not established
// until Connect is called.
func New(logger zerolog.Logger, host string, opts ...SSHOption) *Client {
	c := &Client{
		logger:  logger,
		host:    host,
		command: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.controlPath = c.controlSocketPath()
	return c
}

// Dial creates a client and establishes the master connection.
func Dial(ctx context.Context, logger zerolog.Logger, host string, opts ...SSHOption) (*Client, error) {
	c := New(logger, host, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes (or re-establishes) the multiplexed master connection.
func (c *Client) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.controlPath), 0700); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	c.logger.Debug().
		Str("host", c.host).
		Str("controlPath", c.controlPath).
		Int("pathLength", len(c.controlPath)).
		Msg("Setting up SSH multiplexing")

	args := c.masterArgs()
	cmd := c.command(ctx, "ssh", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to establish SSH master connection: %w (stderr: %s)", err, stderr.String())
	}

	c.logger.Debug().Str("host", c.host).Msg("SSH master connection established")
	return nil
}

// Close closes the SSH connection and cleans up the control socket.
func (c *Client) Close() {
	c.logger.Debug().Str("controlPath", c.controlPath).Msg("Cleaning up SSH multiplexing")

	args := []string{
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-O", "exit",
		c.host,
	}
	cmd := c.command(context.Background(), "ssh", args...)
	_ = cmd.Run() // Ignore errors on cleanup

	_ = os.Remove(c.controlPath)
}

// Check reports whether the master connection is alive.
func (c *Client) Check(ctx context.Context) bool {
	args := []string{
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-O", "check",
		c.host,
	}
	cmd := c.command(ctx, "ssh", args...)
	return cmd.Run() == nil
}

// Run executes a command on the remote host. A non-zero exit status of the
// remote command is reported in the output, not as an error. ErrTransport
// is returned when ssh could not reach the host.
func (c *Client) Run(ctx context.Context, command string) (model.CommandOutput, error) {
	args := c.buildSSHArgs()
	args = append(args, c.host, command)

	cmd := c.command(ctx, "ssh", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("host", c.host).
		Str("command", command).
		Msg("Running remote command")

	err := cmd.Run()
	out := model.CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, fmt.Errorf("failed to run remote command: %w", err)
		}
		out.ExitCode = exitErr.ExitCode()
		if out.ExitCode == exitTransport {
			return out, fmt.Errorf("%w: %s (stderr: %s)", ErrTransport, c.host, strings.TrimSpace(out.Stderr))
		}
	}
	return out, nil
}

// DetectSystem detects the OS and architecture of the remote system.
func (c *Client) DetectSystem(ctx context.Context) (string, string, error) {
	out, err := c.Run(ctx, "uname -s -m")
	if err != nil {
		return "", "", fmt.Errorf("failed to detect system: %w", err)
	}
	if !out.Succeeded() {
		return "", "", fmt.Errorf("failed to detect system: exit code %d (stderr: %s)", out.ExitCode, out.Stderr)
	}
	return parseUname(out.Stdout)
}

func parseUname(output string) (string, string, error) {
	fields := strings.Fields(output)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("unexpected uname output %q", output)
	}
	osName := strings.ToLower(fields[0])

	arch := fields[1]
	switch arch {
	case "x86_64", "amd64":
		arch = "amd64"
	case "aarch64", "arm64":
		arch = "arm64"
	case "i386", "i686":
		arch = "386"
	case "armv7l":
		arch = "arm"
	}
	return osName, arch, nil
}

// Host returns the remote host this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// ControlPath returns the SSH control socket path.
func (c *Client) ControlPath() string {
	return c.controlPath
}

// buildSSHArgs constructs the SSH arguments with all configured options.
func (c *Client) buildSSHArgs() []string {
	args := []string{
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-o", "ControlMaster=no",
	}
	return append(args, c.commonArgs()...)
}

// masterArgs constructs the arguments that start the background master.
func (c *Client) masterArgs() []string {
	args := []string{
		"-o", "ControlMaster=auto",
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-o", "ControlPersist=10m",
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=15",
		"-o", "ServerAliveCountMax=3",
		"-o", "BatchMode=yes",
	}
	args = append(args, c.commonArgs()...)
	return append(args,
		"-f", // Run in background
		"-N", // Don't execute a remote command
		c.host,
	)
}

func (c *Client) commonArgs() []string {
	var args []string
	if c.port != 0 {
		args = append(args, "-p", strconv.Itoa(c.port))
	}
	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}
	if c.knownHostsFile != "" {
		args = append(args, "-o", fmt.Sprintf("UserKnownHostsFile=%s", c.knownHostsFile))
	}
	if c.proxyCommand != "" {
		args = append(args, "-o", fmt.Sprintf("ProxyCommand=%s", c.proxyCommand))
	}
	for _, opt := range c.extraOptions {
		args = append(args, "-o", opt)
	}
	return args
}

// controlSocketPath returns a short per-host control socket path.
// Unix domain sockets have a path length limit (typically 104-108 chars).
func (c *Client) controlSocketPath() string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", c.host, c.port)))
	hostHash := hex.EncodeToString(hash[:])[:12]
	return filepath.Join(controlSocketDir(), fmt.Sprintf("ssh-%s", hostHash))
}

// controlSocketDir returns the directory to use for SSH control sockets.
func controlSocketDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "castest")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := os.Getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		return filepath.Join(configHome, "castest")
	}

	return filepath.Join(os.TempDir(), "castest")
}
