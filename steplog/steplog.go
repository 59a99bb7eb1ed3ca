// Package steplog provides the hierarchical per-test log of the harness.
//
// Every test gets its own directory under the log path holding main.log
// (zerolog JSON lines tagged with the current step path), run.json (the run
// record) and steps.pb.gz (a pprof profile of the time spent per step).
// Lines written with WriteToCommandLog go to the session-wide command.log
// next to the test directories, which is rotated by lumberjack.
package steplog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/perfgo/castest/model"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	MainLogFile     = "main.log"
	RunRecordFile   = "run.json"
	StepProfileFile = "steps.pb.gz"
	CommandLogFile  = "command.log"
	DUTLogDir       = "dut"
)

// PathSeparator joins group and step names in log fields and records.
const PathSeparator = " / "

// Log is the log of a single test.
type Log struct {
	logger  zerolog.Logger
	command zerolog.Logger

	mainFile   *os.File
	commandLog *lumberjack.Logger

	dir   string
	run   model.Run
	stack []*openStep
	now   func() time.Time
	ended bool
}

type openStep struct {
	index int // into run.Steps
	name  string
	group bool
}

type options struct {
	console    io.Writer
	level      zerolog.Level
	now        func() time.Time
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

// Option configures a Log.
type Option func(*options)

// WithConsole sets the human readable console output (stderr by default).
// Passing nil disables console output.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

// WithLevel sets the minimum level written to the console.
func WithLevel(level zerolog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithCommandLogRotation configures rotation of the session command log.
func WithCommandLogRotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Create starts the log of testName in a new directory under logDir.
func Create(logDir, testName string, opts ...Option) (*Log, error) {
	o := options{
		console:    os.Stderr,
		level:      zerolog.InfoLevel,
		now:        time.Now,
		maxSizeMB:  50,
		maxBackups: 3,
		maxAgeDays: 7,
	}
	for _, opt := range opts {
		opt(&o)
	}

	start := o.now()
	id := uuid.NewString()

	dirName := fmt.Sprintf("%s-%s-%s", start.Format("20060102-150405"), unsafeName.ReplaceAllString(testName, "_"), id[:8])
	dir := filepath.Join(logDir, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	mainFile, err := os.OpenFile(filepath.Join(dir, MainLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create main log: %w", err)
	}

	commandLog := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, CommandLogFile),
		MaxSize:    o.maxSizeMB,
		MaxAge:     o.maxAgeDays,
		MaxBackups: o.maxBackups,
		LocalTime:  true,
	}

	var out io.Writer = mainFile
	if o.console != nil {
		console := &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{
				Out:        o.console,
				TimeFormat: time.RFC3339Nano,
			}},
			Level: o.level,
		}
		out = zerolog.MultiLevelWriter(mainFile, console)
	}

	l := &Log{
		logger: zerolog.New(out).With().
			Timestamp().
			Str("test", testName).
			Str("run", id).
			Logger(),
		command: zerolog.New(commandLog).With().
			Timestamp().
			Str("test", testName).
			Logger(),
		mainFile:   mainFile,
		commandLog: commandLog,
		dir:        dir,
		now:        o.now,
		run: model.Run{
			ID:        id,
			Test:      testName,
			Timestamp: start,
		},
	}

	l.run.Artifacts = append(l.run.Artifacts, model.Artifact{Type: model.ArtifactTypeMainLog, File: MainLogFile})
	l.WriteToCommandLog(fmt.Sprintf("Test %s started, log directory %s", testName, dir))
	return l, nil
}

// Dir returns the directory of this test's log.
func (l *Log) Dir() string {
	return l.dir
}

// ID returns the run ID.
func (l *Log) ID() string {
	return l.run.ID
}

// SetParam records the test parameter.
func (l *Log) SetParam(param string) {
	l.run.Param = param
}

// Path returns the current group/step path.
func (l *Log) Path() string {
	names := make([]string, len(l.stack))
	for i, s := range l.stack {
		names[i] = s.name
	}
	return strings.Join(names, PathSeparator)
}

func (l *Log) event(e *zerolog.Event) *zerolog.Event {
	if path := l.Path(); path != "" {
		e = e.Str("step", path)
	}
	return e
}

func (l *Log) push(name string, group bool) {
	path := name
	if p := l.Path(); p != "" {
		path = p + PathSeparator + name
	}
	l.run.Steps = append(l.run.Steps, model.Step{
		Path:  path,
		Start: l.now(),
		Group: group,
	})
	l.stack = append(l.stack, &openStep{index: len(l.run.Steps) - 1, name: name, group: group})
}

func (l *Log) pop() {
	top := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	step := &l.run.Steps[top.index]
	step.Duration = l.now().Sub(step.Start)
}

// Step runs fn inside a named step and returns its error. The step is
// closed even if fn fails.
func (l *Log) Step(name string, fn func() error) error {
	l.push(name, false)
	l.event(l.logger.Info()).Msg(name)
	depth := len(l.stack)
	defer func() {
		// close groups fn left open, then the step itself
		for len(l.stack) >= depth {
			l.pop()
		}
	}()
	return fn()
}

// StartGroup opens a group; log lines and steps until EndGroup nest under it.
func (l *Log) StartGroup(name string) {
	l.push(name, true)
	l.event(l.logger.Info()).Str("group", name).Msg("Group started")
}

// EndGroup closes the innermost open group. Steps are not groups and are
// left alone.
func (l *Log) EndGroup() {
	if len(l.stack) == 0 || !l.stack[len(l.stack)-1].group {
		return
	}
	name := l.stack[len(l.stack)-1].name
	l.pop()
	l.event(l.logger.Info()).Str("group", name).Msg("Group ended")
}

// EndAllGroups closes every open group and step.
func (l *Log) EndAllGroups() {
	for len(l.stack) > 0 {
		l.pop()
	}
}

// Debug logs a debug message.
func (l *Log) Debug(msg string) {
	l.event(l.logger.Debug()).Msg(msg)
}

// Info logs an info message.
func (l *Log) Info(msg string) {
	l.event(l.logger.Info()).Msg(msg)
}

// Warning logs a warning and records it in the run record.
func (l *Log) Warning(msg string) {
	l.run.Warnings = append(l.run.Warnings, msg)
	l.event(l.logger.Warn()).Msg(msg)
}

// Exception logs err with the stack of the caller and records it.
func (l *Log) Exception(err error) {
	stack := string(debug.Stack())
	l.run.Exceptions = append(l.run.Exceptions, model.Exception{
		Message: err.Error(),
		Stack:   stack,
	})
	l.event(l.logger.Error()).Err(err).Str("stack", stack).Msg("Exception")
}

// SetDUT records the DUT description of this run.
func (l *Log) SetDUT(info string) {
	l.run.DUT = info
}

// AddBuildInfo appends a line of build provenance.
func (l *Log) AddBuildInfo(line string) {
	l.run.BuildInfo = append(l.run.BuildInfo, line)
	l.event(l.logger.Debug()).Str("build_info", line).Msg("Build info")
}

// AddCleanupOutcome records the outcome of a cleanup step.
func (l *Log) AddCleanupOutcome(o model.CleanupOutcome) {
	l.run.Cleanup = append(l.run.Cleanup, o)
}

// WriteToCommandLog appends a line to the session command log.
func (l *Log) WriteToCommandLog(line string) {
	l.command.Info().Str("run", l.run.ID).Msg(line)
}

// AddArtifact registers a file below the test directory.
func (l *Log) AddArtifact(t model.ArtifactType, rel string, size uint64) {
	l.run.Artifacts = append(l.run.Artifacts, model.Artifact{Type: t, File: rel, Size: size})
}

// Run returns a copy of the run record collected so far.
func (l *Log) Run() model.Run {
	r := l.run
	r.Steps = append([]model.Step(nil), l.run.Steps...)
	return r
}

// End closes all groups and writes the step profile and the run record.
// Calling End again only rewrites the record. The log files stay open until
// Close so artifacts collected afterwards are still logged.
func (l *Log) End() error {
	if l.ended {
		return l.writeRecord()
	}
	l.EndAllGroups()
	l.ended = true
	l.run.Duration = l.now().Sub(l.run.Timestamp)

	var errs []error
	if err := l.writeStepProfile(); err != nil {
		errs = append(errs, err)
	}
	if err := l.writeRecord(); err != nil {
		errs = append(errs, err)
	}

	outcome := "passed"
	if l.run.Failed() {
		outcome = "failed"
	}
	l.logger.Info().Dur("duration", l.run.Duration).Int("warnings", len(l.run.Warnings)).Str("outcome", outcome).Msg("Test log finished")
	l.WriteToCommandLog(fmt.Sprintf("Test %s finished (%s)", l.run.Test, outcome))

	return errors.Join(errs...)
}

// Close releases the log files. It ends the log first if needed.
func (l *Log) Close() error {
	var errs []error
	if !l.ended {
		errs = append(errs, l.End())
	}
	if err := l.mainFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close main log: %w", err))
	}
	if err := l.commandLog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close command log: %w", err))
	}
	return errors.Join(errs...)
}

func (l *Log) writeStepProfile() error {
	var buf bytes.Buffer
	if err := BuildStepProfile(l.run.Steps, l.run.Timestamp, l.run.Duration).Write(&buf); err != nil {
		return fmt.Errorf("failed to encode step profile: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(l.dir, StepProfileFile), &buf); err != nil {
		return fmt.Errorf("failed to write step profile: %w", err)
	}
	l.AddArtifact(model.ArtifactTypeStepProfile, StepProfileFile, uint64(buf.Len()))
	return nil
}

func (l *Log) writeRecord() error {
	data, err := json.MarshalIndent(l.run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(l.dir, RunRecordFile), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}
