package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/perfgo/castest/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "castest"

// envPrefix prefixes the environment variables read for each global flag.
const envPrefix = "CASTEST_"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Prepare, clean up and run tests against an Open CAS DUT",
			Flags: globalFlags(),
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run a test body on the DUT between preparation and teardown",
		ArgsUsage: "[--plan FILE | -- <command...>]",
		Action:    app.run,
		Flags: []cli.Flag{
			testFlag("run"),
			paramFlag(),
			&cli.StringFlag{
				Name:    "plan",
				Aliases: []string{"p"},
				Usage:   "YAML test plan; its tests share one session",
			},
		},
		Description: `Prepares the DUT, runs the command on it and always tears down.

The test name may carry a parameter suffix, e.g. test_load[wt], which is
stripped from the log directory name and passed to the test wrapper unless
--param is given.

With --plan, every test of the plan is run in turn within one session, so
--force-reinstall rebuilds Open CAS only before the first test:

  tests:
    - test: test_load[wt]
      command: fio --name=load --filename=/dev/cas1-1
    - test: test_flush
      command: ./tests/flush.sh

Examples:
  castest run --test 'test_stop[wb]' -- fio --name=load --filename=/dev/cas1-1
  castest --dut-config dut.yml run -- ./tests/cache_load.sh
  castest --force-reinstall run --plan nightly.yml`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "prepare",
		Usage:  "Prepare the DUT without running a test body",
		Action: app.prepare,
		Flags: []cli.Flag{
			testFlag("prepare"),
			paramFlag(),
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "teardown",
		Usage:  "Clean up the DUT after a test and collect its logs",
		Action: app.teardown,
		Flags: []cli.Flag{
			testFlag("teardown"),
			paramFlag(),
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "cleanup",
		Usage:  "Run the pre-test cleanup and make sure Open CAS is installed",
		Action: app.cleanup,
		Flags: []cli.Flag{
			testFlag("cleanup"),
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous test runs",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "test",
				Aliases: []string{"t"},
				Usage:   "Filter by test name (substring match)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View a test run from the log directory",
		ArgsUsage:       "[ID|INDEX] [-- pprof args...]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View a test run from the log directory.

Arguments:
  0           View last test run (default)
  -1          View 2nd last test run
  -2          View 3rd last test run
  <id>        View test run matching the ID prefix

Any further arguments are passed to 'go tool pprof' together with the step
timing profile of the run.

Examples:
  castest view              # Summary and step timings of the last run
  castest view -1           # Summary of the 2nd last run
  castest view 3f2a -- -top # pprof top of the steps of run 3f2a...`,
	})
	return app
}

func globalFlags() []cli.Flag {
	defaults := model.DefaultSessionOptions()
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable verbose (debug) logging",
		},
		&cli.StringFlag{
			Name:    "dut-config",
			Usage:   "DUT config file (YAML, or JSON with comments); executes locally when unset",
			EnvVars: []string{envPrefix + "DUT_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-path",
			Usage:   "Directory for test logs",
			Value:   defaults.LogPath,
			EnvVars: []string{envPrefix + "LOG_PATH"},
		},
		&cli.StringFlag{
			Name:    "remote",
			Usage:   "Git remote the Open CAS sources are fetched from",
			Value:   defaults.Remote,
			EnvVars: []string{envPrefix + "REMOTE"},
		},
		&cli.StringFlag{
			Name:    "repo-tag",
			Usage:   "Branch or tag of the Open CAS sources to install",
			Value:   defaults.Branch,
			EnvVars: []string{envPrefix + "REPO_TAG"},
		},
		&cli.BoolFlag{
			Name:    "force-reinstall",
			Usage:   "Reinstall Open CAS once per session even if it is installed",
			EnvVars: []string{envPrefix + "FORCE_REINSTALL"},
		},
		&cli.StringFlag{
			Name:    "repo-path",
			Usage:   "Local source tree recorded as build provenance",
			Value:   defaults.RepoPath,
			EnvVars: []string{envPrefix + "REPO_PATH"},
		},
		&cli.StringFlag{
			Name:    "wrapper",
			Usage:   "External test wrapper command",
			EnvVars: []string{envPrefix + "WRAPPER"},
		},
	}
}

func testFlag(defaultName string) cli.Flag {
	return &cli.StringFlag{
		Name:  "test",
		Usage: "Test name, optionally with a [param] suffix",
		Value: defaultName,
	}
}

func paramFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "param",
		Usage: "Test parameter passed to the test wrapper",
	}
}

// sessionOptions reads the global flags.
func sessionOptions(ctx *cli.Context) model.SessionOptions {
	return model.SessionOptions{
		DUTConfigPath:  ctx.String("dut-config"),
		LogPath:        ctx.String("log-path"),
		Remote:         ctx.String("remote"),
		Branch:         ctx.String("repo-tag"),
		ForceReinstall: ctx.Bool("force-reinstall"),
		RepoPath:       ctx.String("repo-path"),
		WrapperCommand: ctx.String("wrapper"),
	}
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
