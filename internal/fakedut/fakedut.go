// Package fakedut provides a scripted command executor for tests. It records
// every command and answers with configured outputs.
package fakedut

import (
	"context"
	"strings"
	"sync"

	"github.com/perfgo/castest/model"
)

// Executor is a fake DUT. Commands without a configured response succeed
// with empty output.
type Executor struct {
	mu sync.Mutex

	Commands  []string
	Responses map[string]model.CommandOutput
	Errors    map[string]error
	// Prefix responses match any command starting with the key
	PrefixResponses map[string]model.CommandOutput

	Remote          bool
	Active          bool
	WaitCalls       int
	WaitErr         error
	ActiveAfterWait bool
}

// New creates a local, active fake executor.
func New() *Executor {
	return &Executor{
		Responses:       make(map[string]model.CommandOutput),
		Errors:          make(map[string]error),
		PrefixResponses: make(map[string]model.CommandOutput),
		Active:          true,
	}
}

// Run records command and returns the configured response.
func (e *Executor) Run(_ context.Context, command string) (model.CommandOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, command)
	if err, ok := e.Errors[command]; ok {
		return model.CommandOutput{ExitCode: -1}, err
	}
	if out, ok := e.Responses[command]; ok {
		return out, nil
	}
	for prefix, out := range e.PrefixResponses {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return model.CommandOutput{}, nil
}

// IsActive reports the configured connection state.
func (e *Executor) IsActive(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Active
}

// WaitForConnection counts calls and optionally restores the connection.
func (e *Executor) WaitForConnection(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.WaitCalls++
	if e.WaitErr != nil {
		return e.WaitErr
	}
	if e.ActiveAfterWait {
		e.Active = true
	}
	return nil
}

// IsRemote reports the configured executor kind.
func (e *Executor) IsRemote() bool { return e.Remote }

// Close is a no-op.
func (e *Executor) Close() {}

// SetResponse configures the output of an exact command.
func (e *Executor) SetResponse(command string, out model.CommandOutput) {
	e.Responses[command] = out
}

// SetError configures a transport error for an exact command.
func (e *Executor) SetError(command string, err error) {
	e.Errors[command] = err
}

// SetPrefixResponse configures the output of commands starting with prefix.
func (e *Executor) SetPrefixResponse(prefix string, out model.CommandOutput) {
	e.PrefixResponses[prefix] = out
}

// Matching returns the recorded commands that start with prefix.
func (e *Executor) Matching(prefix string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var cmds []string
	for _, cmd := range e.Commands {
		if strings.HasPrefix(cmd, prefix) {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Reset clears recorded commands.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}
