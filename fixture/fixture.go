// Package fixture implements the DUT lifecycle around a single test: it
// connects to the DUT, cleans it up and installs Open CAS before the test
// body, and restores a clean state and collects logs afterwards.
//
// A Session carries the state shared by all tests run against one DUT. The
// Controller drives each Test through Prepare and Teardown. Failures during
// cleanup are logged and never abort the run.
package fixture

import (
	"context"
	"errors"
	"strings"

	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/steplog"
	"github.com/rs/zerolog"
)

// ErrNotConnected is reported when no platform could be established for the
// DUT, so no command can be executed on it.
var ErrNotConnected = errors.New("DUT is not connected")

// Executor runs commands on the DUT.
type Executor interface {
	Run(ctx context.Context, command string) (model.CommandOutput, error)
	IsActive(ctx context.Context) bool
	WaitForConnection(ctx context.Context) error
	IsRemote() bool
}

type Installer interface {
	CheckIfInstalled(ctx context.Context) (bool, error)
	Install(ctx context.Context) error
	Reinstall(ctx context.Context) error
}

// DeviceEvents is the device event service of the DUT (udev).
type DeviceEvents interface {
	Enable(ctx context.Context) error
}

type CacheAdmin interface {
	StopAllCaches(ctx context.Context) error
}

// VersionInfo describes the source tree the tests were built from.
type VersionInfo interface {
	CurrentCommitHash() (string, error)
	CurrentCommitMessage() (string, error)
}

// Wrapper is the optional site specific test wrapper.
type Wrapper interface {
	Prepare(ctx context.Context, param string, cfg model.DUTConfig) (model.DUTConfig, error)
	TrySetupSerialLog(ctx context.Context, cfg model.DUTConfig) error
	Cleanup(ctx context.Context) error
}

// ConfigSource loads the DUT config.
type ConfigSource interface {
	Load(path string) (model.DUTConfig, error)
}

// Log is the hierarchical log of a single test.
type Log interface {
	Step(name string, fn func() error) error
	StartGroup(name string)
	EndAllGroups()
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Exception(err error)
	SetDUT(info string)
	AddBuildInfo(line string)
	AddCleanupOutcome(o model.CleanupOutcome)
	WriteToCommandLog(line string)
	End() error
	GetAdditionalLogs(ctx context.Context, r steplog.Runner, files []string) error
}

// Platform bundles the executor and the adapters working through it.
type Platform struct {
	Exec      Executor
	Installer Installer
	Events    DeviceEvents
	Caches    CacheAdmin
	// Files on the DUT collected after each test
	LogFiles []string
}

// Close releases the executor if it holds a connection.
func (p *Platform) Close() {
	if c, ok := p.Exec.(interface{ Close() }); ok {
		c.Close()
	}
}

// Connector establishes the platform for a DUT config.
type Connector interface {
	Connect(ctx context.Context, cfg model.DUTConfig) (*Platform, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg model.DUTConfig) (*Platform, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg model.DUTConfig) (*Platform, error) {
	return f(ctx, cfg)
}

// Session is the state shared by the tests of one run.
type Session struct {
	Options  model.SessionOptions
	DUT      model.DUT
	Platform *Platform
	// Wrapper is nil when no test wrapper is configured
	Wrapper Wrapper
	Version VersionInfo
}

// NewSession creates a session. wrapper may be nil.
func NewSession(opts model.SessionOptions, wrapper Wrapper, version VersionInfo) *Session {
	return &Session{
		Options: opts,
		Wrapper: wrapper,
		Version: version,
	}
}

// Close releases the platform of the session.
func (s *Session) Close() {
	if s.Platform != nil {
		s.Platform.Close()
		s.Platform = nil
	}
}

// Test is a single test run within a session.
type Test struct {
	Name  string
	Param string
	Log   Log
}

// TestName strips the parameter suffix from a test node ID, so
// "test_load[wt-4k]" becomes "test_load".
func TestName(nodeID string) string {
	name, _, _ := strings.Cut(nodeID, "[")
	return name
}

// Controller drives tests through preparation and teardown.
type Controller struct {
	logger    zerolog.Logger
	config    ConfigSource
	connector Connector
}

// NewController creates a controller reading the DUT config from config and
// connecting with connector.
func NewController(logger zerolog.Logger, config ConfigSource, connector Connector) *Controller {
	return &Controller{
		logger:    logger,
		config:    config,
		connector: connector,
	}
}
