package cli

// This file contains the lifecycle commands driving the DUT fixture.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/natefinch/atomic"
	"github.com/perfgo/castest/fixture"
	"github.com/perfgo/castest/model"
	"github.com/perfgo/castest/steplog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// testOutputFile holds the output of the test body in the test log directory.
const testOutputFile = "output.txt"

func (a *App) run(ctx *cli.Context) error {
	tests, err := runTests(ctx)
	if err != nil {
		return err
	}

	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return a.runAll(ctx.Context, s, tests)
}

// runTests returns the tests of the run command: the tests of --plan, or a
// single test running the command after --.
func runTests(ctx *cli.Context) ([]plannedTest, error) {
	args := removeFirstDashDash(ctx.Args().Slice())

	if path := ctx.String("plan"); path != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--plan and a test command after -- are mutually exclusive")
		}
		return loadPlan(afero.NewOsFs(), path)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("no test command specified: pass the command to run on the DUT after -- or use --plan")
	}
	return []plannedTest{{
		Test:    ctx.String("test"),
		Param:   ctx.String("param"),
		Command: bodyCommand(args),
	}}, nil
}

// runAll runs the tests in order within one session, so Open CAS is
// installed at most once for all of them. A failing test does not stop the
// following ones.
func (a *App) runAll(ctx context.Context, s *session, tests []plannedTest) error {
	var errs []error
	for _, pt := range tests {
		if err := a.runTest(ctx, s, pt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pt.Test, err))
		}
	}
	return errors.Join(errs...)
}

// runTest prepares the DUT, runs the test body and tears down. The error
// of the test is the preparation or body error; cleanup problems are only
// reported.
func (a *App) runTest(ctx context.Context, s *session, pt plannedTest) error {
	t, log, err := a.newTest(s, pt.Test, pt.Param)
	if err != nil {
		return err
	}
	defer a.closeLog(log)

	bodyErr := s.controller.Prepare(ctx, s.Session, t)
	if bodyErr == nil {
		bodyErr = a.runBody(ctx, s.Session, log, pt.Command)
	}

	outcomes := s.controller.Teardown(ctx, s.Session, t)
	a.reportOutcomes(log, outcomes)

	return bodyErr
}

func (a *App) prepare(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, log, err := a.newTest(s, ctx.String("test"), ctx.String("param"))
	if err != nil {
		return err
	}
	defer a.closeLog(log)

	return s.controller.Prepare(ctx.Context, s.Session, t)
}

func (a *App) teardown(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, log, err := a.newTest(s, ctx.String("test"), ctx.String("param"))
	if err != nil {
		return err
	}
	defer a.closeLog(log)

	if err := s.controller.Connect(ctx.Context, s.Session, t); err != nil {
		log.Exception(err)
	}
	outcomes := s.controller.Teardown(ctx.Context, s.Session, t)
	a.reportOutcomes(log, outcomes)
	return nil
}

func (a *App) cleanup(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, log, err := a.newTest(s, ctx.String("test"), "")
	if err != nil {
		return err
	}
	defer a.closeLog(log)

	if err := s.controller.Connect(ctx.Context, s.Session, t); err != nil {
		log.Exception(err)
		return err
	}
	if err := s.controller.BasePrepare(ctx.Context, s.Session, t); err != nil {
		log.Exception(err)
		return err
	}
	return nil
}

// runBody runs the test command on the DUT and stores its output.
func (a *App) runBody(ctx context.Context, s *fixture.Session, log *steplog.Log, command string) error {
	if s.Platform == nil {
		return fixture.ErrNotConnected
	}

	log.Info(fmt.Sprintf("Running %s", command))
	out, runErr := s.Platform.Exec.Run(ctx, command)

	output := out.Stdout
	if out.Stderr != "" {
		output += "\n--- stderr ---\n" + out.Stderr
	}
	if err := atomic.WriteFile(filepath.Join(log.Dir(), testOutputFile), strings.NewReader(output)); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save test output")
	} else {
		log.AddArtifact(model.ArtifactTypeTestOutput, testOutputFile, uint64(len(output)))
	}

	if runErr != nil {
		log.Exception(runErr)
		return fmt.Errorf("failed to run test body: %w", runErr)
	}
	if !out.Succeeded() {
		err := fmt.Errorf("test body failed with exit code %d", out.ExitCode)
		log.Exception(err)
		return err
	}
	return nil
}

// bodyCommand turns the arguments after -- into a shell command. A single
// argument is taken as a shell snippet.
func bodyCommand(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shellescape.QuoteCommand(args)
}

func (a *App) reportOutcomes(log *steplog.Log, outcomes []model.CleanupOutcome) {
	for _, o := range outcomes {
		if !o.OK {
			a.logger.Warn().Str("step", o.Step).Str("warning", o.Warning).Str("log", log.Dir()).Msg("Cleanup step failed")
		}
	}
}

func (a *App) closeLog(log *steplog.Log) {
	if err := log.Close(); err != nil {
		a.logger.Warn().Err(err).Str("log", log.Dir()).Msg("Failed to close test log")
	}
	fmt.Fprintf(os.Stderr, "Test log: %s\n", log.Dir())
}
