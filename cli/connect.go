package cli

// This file wires the concrete executors and Open CAS adapters into the
// platform the fixture drives.

import (
	"context"

	"github.com/perfgo/castest/cas"
	"github.com/perfgo/castest/cli/executor"
	"github.com/perfgo/castest/fixture"
	"github.com/perfgo/castest/model"
	"github.com/rs/zerolog"
)

// connector establishes platforms for a session.
type connector struct {
	logger zerolog.Logger
	opts   model.SessionOptions
}

func (c *connector) Connect(ctx context.Context, cfg model.DUTConfig) (*fixture.Platform, error) {
	exec, err := executor.New(ctx, c.logger, cfg)
	if err != nil {
		return nil, err
	}
	return newPlatform(c.logger, exec, c.opts, cfg), nil
}

func newPlatform(logger zerolog.Logger, exec executor.Executor, opts model.SessionOptions, cfg model.DUTConfig) *fixture.Platform {
	return &fixture.Platform{
		Exec: exec,
		Installer: &cas.Installer{
			Exec:    exec,
			Logger:  logger,
			Remote:  opts.Remote,
			Branch:  opts.Branch,
			RepoURL: cfg.RepoURL,
			RepoDir: cfg.RepoDir,
		},
		Events:   &cas.Udev{Exec: exec},
		Caches:   &cas.Casadm{Exec: exec, Logger: logger},
		LogFiles: cfg.LogFiles,
	}
}
