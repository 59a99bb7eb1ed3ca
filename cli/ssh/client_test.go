package ssh

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShell makes the client run script through sh instead of ssh and
// records the ssh arguments it was called with.
func fakeShell(c *Client, script string, calls *[][]string) {
	c.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*calls = append(*calls, append([]string{name}, args...))
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

func TestBuildSSHArgs(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/0")

	c := New(zerolog.Nop(), "root@10.0.0.2",
		WithPort(2222),
		WithIdentityFile("/keys/dut"),
		WithKnownHostsFile("/dev/null"),
		WithExtraOptions("StrictHostKeyChecking=no"),
	)

	require.True(t, strings.HasPrefix(c.ControlPath(), "/run/user/0/castest/ssh-"))
	assert.Equal(t, []string{
		"-o", "ControlPath=" + c.ControlPath(),
		"-o", "ControlMaster=no",
		"-p", "2222",
		"-i", "/keys/dut",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "StrictHostKeyChecking=no",
	}, c.buildSSHArgs())

	master := c.masterArgs()
	assert.Equal(t, []string{"-f", "-N", "root@10.0.0.2"}, master[len(master)-3:])
	assert.Contains(t, master, "ControlMaster=auto")
}

func TestControlPathDependsOnPort(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/0")

	a := New(zerolog.Nop(), "10.0.0.2")
	b := New(zerolog.Nop(), "10.0.0.2", WithPort(2222))
	assert.NotEqual(t, a.ControlPath(), b.ControlPath())
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name         string
		script       string
		wantExit     int
		wantStdout   string
		wantStderr   string
		wantErr      bool
		wantTransErr bool
	}{
		{
			name:       "success",
			script:     "echo hello",
			wantStdout: "hello\n",
		},
		{
			name:       "remote command failure is an output",
			script:     "echo nope >&2; exit 1",
			wantExit:   1,
			wantStderr: "nope\n",
		},
		{
			name:         "transport failure",
			script:       "echo 'Connection refused' >&2; exit 255",
			wantExit:     255,
			wantErr:      true,
			wantTransErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls [][]string
			c := New(zerolog.Nop(), "10.0.0.2")
			fakeShell(c, tt.script, &calls)

			out, err := c.Run(context.Background(), "true")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantTransErr, errors.Is(err, ErrTransport))
			assert.Equal(t, tt.wantExit, out.ExitCode)
			if tt.wantStdout != "" {
				assert.Equal(t, tt.wantStdout, out.Stdout)
			}
			if tt.wantStderr != "" {
				assert.Equal(t, tt.wantStderr, out.Stderr)
			}

			require.Len(t, calls, 1)
			assert.Equal(t, "ssh", calls[0][0])
			assert.Equal(t, []string{"10.0.0.2", "true"}, calls[0][len(calls[0])-2:])
		})
	}
}

func TestCheck(t *testing.T) {
	var calls [][]string
	c := New(zerolog.Nop(), "10.0.0.2")

	fakeShell(c, "exit 0", &calls)
	assert.True(t, c.Check(context.Background()))

	fakeShell(c, "exit 255", &calls)
	assert.False(t, c.Check(context.Background()))

	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "check")
}

func TestParseUname(t *testing.T) {
	tests := []struct {
		in       string
		wantOS   string
		wantArch string
		wantErr  bool
	}{
		{in: "Linux x86_64\n", wantOS: "linux", wantArch: "amd64"},
		{in: "Linux aarch64", wantOS: "linux", wantArch: "arm64"},
		{in: "Linux armv7l", wantOS: "linux", wantArch: "arm"},
		{in: "Linux riscv64", wantOS: "linux", wantArch: "riscv64"},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			osName, arch, err := parseUname(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOS, osName)
			assert.Equal(t, tt.wantArch, arch)
		})
	}
}
