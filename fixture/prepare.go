package fixture

import (
	"context"
	"fmt"

	"github.com/perfgo/castest/config"
	"github.com/perfgo/castest/model"
)

// Prepare readies the DUT for the test body. Problems while loading the
// config or connecting are logged as exceptions and do not fail Prepare;
// errors from base preparation are returned. On success the "Test body"
// group is open.
func (c *Controller) Prepare(ctx context.Context, s *Session, t *Test) error {
	_ = t.Log.Step("DUT prepare", func() error {
		if err := c.SetupDUT(ctx, s, t); err != nil {
			t.Log.Exception(err)
		}
		info := s.DUT.String()
		t.Log.SetDUT(info)
		t.Log.Info(fmt.Sprintf("DUT info: %s", info))
		return nil
	})

	if s.Platform == nil {
		t.Log.Exception(fmt.Errorf("skipping base preparation: %w", ErrNotConnected))
	} else if err := c.BasePrepare(ctx, s, t); err != nil {
		t.Log.Exception(err)
		return err
	}

	t.Log.WriteToCommandLog("Test body")
	t.Log.StartGroup("Test body")
	return nil
}

// SetupDUT loads the DUT config, lets the wrapper adjust it and establishes
// the platform of the session.
func (c *Controller) SetupDUT(ctx context.Context, s *Session, t *Test) error {
	cfg := c.loadConfig(s, t)

	if s.Wrapper != nil {
		if cfg.IP != "" {
			if err := config.ValidateIP(cfg.IP); err != nil {
				return err
			}
		}
		var err error
		if cfg, err = s.Wrapper.Prepare(ctx, t.Param, cfg); err != nil {
			return fmt.Errorf("failed to prepare test wrapper: %w", err)
		}
	}

	if err := c.attach(ctx, s, cfg); err != nil {
		return err
	}

	if s.Wrapper != nil {
		if err := s.Wrapper.TrySetupSerialLog(ctx, cfg); err != nil {
			return fmt.Errorf("failed to set up serial log: %w", err)
		}
	}

	s.DUT.InitUpdated()
	return nil
}

// Connect establishes the platform of the session from the DUT config as
// is. The wrapper hooks are not run, so the DUT is reached without being
// provisioned again.
func (c *Controller) Connect(ctx context.Context, s *Session, t *Test) error {
	if err := c.attach(ctx, s, c.loadConfig(s, t)); err != nil {
		return err
	}
	s.DUT.InitUpdated()
	return nil
}

func (c *Controller) loadConfig(s *Session, t *Test) model.DUTConfig {
	cfg, err := c.config.Load(s.Options.DUTConfigPath)
	if err != nil {
		t.Log.Debug(fmt.Sprintf("Using default DUT config: %v", err))
		return model.DUTConfig{}
	}
	return cfg
}

func (c *Controller) attach(ctx context.Context, s *Session, cfg model.DUTConfig) error {
	s.Close()
	p, err := c.connector.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to DUT: %w", err)
	}
	s.Platform = p
	s.DUT.Address = cfg.IP
	return nil
}

// BasePrepare cleans up after previous tests and makes sure Open CAS is
// installed. It is safe to call repeatedly. Open CAS is installed at most
// once per session.
func (c *Controller) BasePrepare(ctx context.Context, s *Session, t *Test) error {
	if s.Platform == nil {
		return ErrNotConnected
	}
	p := s.Platform

	return t.Log.Step("Cleanup before test", func() error {
		if err := p.Events.Enable(ctx); err != nil {
			return err
		}
		c.KillAllIO(ctx, p.Exec)

		installed, err := p.Installer.CheckIfInstalled(ctx)
		if err != nil {
			return fmt.Errorf("failed to check Open CAS installation: %w", err)
		}

		if installed {
			if err := c.cleanupDevices(ctx, p, t.Log); err != nil {
				// TODO: reboot the DUT when it is remote and retry the cleanup
				t.Log.Debug(fmt.Sprintf("Ignoring pre-test cleanup failure: %v", err))
			}
		}

		var installErr error
		switch {
		case s.Options.ForceReinstall && !s.DUT.AlreadyUpdated():
			t.Log.Info("Reinstalling Open CAS")
			installErr = p.Installer.Reinstall(ctx)
		case !installed && !s.DUT.AlreadyUpdated():
			t.Log.Info("Installing Open CAS")
			installErr = p.Installer.Install(ctx)
		case !installed:
			t.Log.Warning("Open CAS is not installed and was already installed once in this session")
		}
		s.DUT.MarkUpdated()
		if installErr != nil {
			return fmt.Errorf("failed to install Open CAS: %w", installErr)
		}

		c.addBuildInfo(s, t.Log)
		return nil
	})
}

func (c *Controller) addBuildInfo(s *Session, log Log) {
	hash, message := "unknown", "unknown"
	if s.Version != nil {
		if h, err := s.Version.CurrentCommitHash(); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to read commit hash")
		} else {
			hash = h
		}
		if m, err := s.Version.CurrentCommitMessage(); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to read commit message")
		} else {
			message = m
		}
	}
	log.AddBuildInfo("Commit hash:")
	log.AddBuildInfo(hash)
	log.AddBuildInfo("Commit message:")
	log.AddBuildInfo(message)
}
