package cli

// This file sets up the fixture session of a command from the global flags.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/perfgo/castest/config"
	"github.com/perfgo/castest/fixture"
	"github.com/perfgo/castest/steplog"
	"github.com/perfgo/castest/vcs"
	"github.com/perfgo/castest/wrapper"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// session is a fixture session with the controller driving it.
type session struct {
	*fixture.Session
	controller *fixture.Controller
	release    func()
}

func (s *session) Close() {
	s.Session.Close()
	if s.release != nil {
		s.release()
	}
}

func (a *App) openSession(ctx *cli.Context) (*session, error) {
	opts := sessionOptions(ctx)
	loader := config.NewLoader()

	// the address may still be changed by the wrapper, the lock follows
	// the DUT named in the config file
	lockCfg, err := loader.Load(opts.DUTConfigPath)
	if err != nil && !errors.Is(err, config.ErrNoConfig) {
		a.logger.Debug().Err(err).Str("path", opts.DUTConfigPath).Msg("Failed to load DUT config for locking")
	}
	release, err := lockDUT(ctx.Context, dutLockPath(opts.LogPath, lockCfg), lockTimeout)
	if err != nil {
		return nil, err
	}

	var w fixture.Wrapper
	if opts.WrapperCommand != "" {
		cmd, err := wrapper.New(a.logger, opts.WrapperCommand)
		if err != nil {
			release()
			return nil, err
		}
		a.logger.Info().Strs("command", cmd.Argv()).Msg("Using test wrapper")
		w = cmd
	}

	var version fixture.VersionInfo
	repo, err := vcs.Open(opts.RepoPath)
	if err != nil {
		a.logger.Warn().Err(err).Str("path", opts.RepoPath).Msg("Build provenance unavailable")
		version = vcs.Unknown{Err: err}
	} else {
		version = repo
	}

	return &session{
		Session:    fixture.NewSession(opts, w, version),
		controller: fixture.NewController(a.logger, loader, &connector{logger: a.logger, opts: opts}),
		release:    release,
	}, nil
}

// newTest creates the test of nodeID with its log. An explicit param wins
// over the [param] suffix of the node ID.
func (a *App) newTest(s *session, nodeID, param string) (*fixture.Test, *steplog.Log, error) {
	if param == "" {
		param = testParam(nodeID)
	}
	name := fixture.TestName(nodeID)

	log, err := steplog.Create(s.Options.LogPath, name, steplog.WithLevel(zerolog.GlobalLevel()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create test log: %w", err)
	}
	log.SetParam(param)

	a.logger.Info().Str("test", name).Str("param", param).Str("log", log.Dir()).Msg("Starting test")
	return &fixture.Test{Name: name, Param: param, Log: log}, log, nil
}

// testParam returns the parameter suffix of a node ID ("wt" for
// "test_load[wt]").
func testParam(nodeID string) string {
	_, rest, ok := strings.Cut(nodeID, "[")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "]")
}
