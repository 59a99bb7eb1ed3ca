// Package wrapper runs an external test wrapper: a site specific program
// that prepares DUTs (power, provisioning, serial logging) around each
// test. The wrapper is invoked as
//
//	<command> prepare <param>
//	<command> serial-log
//	<command> cleanup
//
// and exchanges the DUT config as a JSON object on stdin and stdout.
package wrapper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/perfgo/castest/model"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCommand is returned by New for a blank command line.
var ErrEmptyCommand = errors.New("empty wrapper command")

// Command is a wrapper backed by an external program.
type Command struct {
	logger zerolog.Logger
	argv   []string

	// command builds the wrapper process, replaced in tests
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New parses commandLine with shell quoting rules.
func New(logger zerolog.Logger, commandLine string) (*Command, error) {
	argv, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wrapper command %q: %w", commandLine, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return &Command{
		logger:  logger,
		argv:    argv,
		command: exec.CommandContext,
	}, nil
}

// Argv returns the parsed command line.
func (c *Command) Argv() []string {
	return append([]string(nil), c.argv...)
}

// Prepare lets the wrapper augment cfg for a test run with param. An empty
// answer keeps cfg unchanged.
func (c *Command) Prepare(ctx context.Context, param string, cfg model.DUTConfig) (model.DUTConfig, error) {
	in, err := encodeConfig(cfg)
	if err != nil {
		return cfg, err
	}
	out, err := c.run(ctx, in, "prepare", param)
	if err != nil {
		return cfg, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return cfg, nil
	}
	updated, err := decodeConfig(out)
	if err != nil {
		return cfg, fmt.Errorf("failed to decode wrapper config: %w", err)
	}
	return updated, nil
}

// TrySetupSerialLog asks the wrapper to start capturing the DUT serial console.
func (c *Command) TrySetupSerialLog(ctx context.Context, cfg model.DUTConfig) error {
	in, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, in, "serial-log")
	return err
}

// Cleanup runs the wrapper cleanup hook.
func (c *Command) Cleanup(ctx context.Context) error {
	_, err := c.run(ctx, nil, "cleanup")
	return err
}

func (c *Command) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	argv := append(c.argv[1:len(c.argv):len(c.argv)], args...)
	cmd := c.command(ctx, c.argv[0], argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	c.logger.Debug().Strs("args", append([]string{c.argv[0]}, argv...)).Msg("Running test wrapper")

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to run wrapper %s %s: %w (stderr: %s)",
			c.argv[0], args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// encodeConfig renders cfg as a flat JSON object with the extra fields next
// to the known ones, the way they appear in the config file.
func encodeConfig(cfg model.DUTConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wrapper config: %w", err)
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode wrapper config: %w", err)
	}
	data, err = json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wrapper config: %w", err)
	}
	return data, nil
}

// decodeConfig parses the wrapper answer. JSON is valid YAML, which lets the
// inline extra fields be collected.
func decodeConfig(data []byte) (model.DUTConfig, error) {
	var cfg model.DUTConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.DUTConfig{}, err
	}
	return cfg, nil
}
