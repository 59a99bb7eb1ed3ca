// Package cas provides the Open CAS adapters used by the DUT fixture: the
// source installer, the udev event queue and cache administration through
// casadm. Every adapter drives the DUT through a Runner.
package cas

import (
	"context"
	"fmt"
	"strings"

	"github.com/perfgo/castest/model"
)

// Runner executes a shell command on the DUT.
type Runner interface {
	Run(ctx context.Context, command string) (model.CommandOutput, error)
}

// CommandError is returned when a DUT command exits non-zero.
type CommandError struct {
	Command string
	Output  model.CommandOutput
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d (stdout: %s, stderr: %s)",
		e.Command, e.Output.ExitCode, strings.TrimSpace(e.Output.Stdout), strings.TrimSpace(e.Output.Stderr))
}

// run executes command and turns a non-zero exit into a CommandError.
func run(ctx context.Context, r Runner, command string) (model.CommandOutput, error) {
	out, err := r.Run(ctx, command)
	if err != nil {
		return out, err
	}
	if !out.Succeeded() {
		return out, &CommandError{Command: command, Output: out}
	}
	return out, nil
}
