package cas

import (
	"context"
	"fmt"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

const (
	DefaultRepoURL = "https://github.com/Open-CAS/open-cas-linux.git"
	DefaultRepoDir = "/root/open-cas-linux"
)

// Installer builds and installs Open CAS from source on the DUT.
type Installer struct {
	Exec   Runner
	Logger zerolog.Logger
	// Git remote name used for the clone, e.g. "origin"
	Remote string
	// Branch or tag to check out
	Branch string
	// Repository cloned when RepoDir does not exist yet
	RepoURL string
	// Source directory on the DUT
	RepoDir string
}

func (i *Installer) repoURL() string {
	if i.RepoURL == "" {
		return DefaultRepoURL
	}
	return i.RepoURL
}

func (i *Installer) repoDir() string {
	if i.RepoDir == "" {
		return DefaultRepoDir
	}
	return i.RepoDir
}

func (i *Installer) remote() string {
	if i.Remote == "" {
		return "origin"
	}
	return i.Remote
}

func (i *Installer) branch() string {
	if i.Branch == "" {
		return "master"
	}
	return i.Branch
}

// CheckIfInstalled reports whether casadm is present and working.
func (i *Installer) CheckIfInstalled(ctx context.Context) (bool, error) {
	out, err := i.Exec.Run(ctx, "casadm -V")
	if err != nil {
		return false, fmt.Errorf("failed to check Open CAS installation: %w", err)
	}
	return out.Succeeded(), nil
}

// Install fetches the configured branch or tag, builds it and installs it.
func (i *Installer) Install(ctx context.Context) error {
	i.Logger.Info().
		Str("remote", i.remote()).
		Str("branch", i.branch()).
		Str("dir", i.repoDir()).
		Msg("Installing Open CAS")

	for _, step := range i.installCommands() {
		if _, err := run(ctx, i.Exec, step); err != nil {
			return fmt.Errorf("failed to install Open CAS: %w", err)
		}
	}
	return nil
}

// Uninstall removes an installation built from RepoDir. It is a no-op
// when the source directory does not exist.
func (i *Installer) Uninstall(ctx context.Context) error {
	dir := shellescape.Quote(i.repoDir())
	cmd := fmt.Sprintf("if [ -d %s ]; then cd %s && make uninstall; fi", dir, dir)
	if _, err := run(ctx, i.Exec, cmd); err != nil {
		return fmt.Errorf("failed to uninstall Open CAS: %w", err)
	}
	return nil
}

// Reinstall uninstalls and installs again.
func (i *Installer) Reinstall(ctx context.Context) error {
	i.Logger.Info().Msg("Reinstalling Open CAS")
	if err := i.Uninstall(ctx); err != nil {
		return err
	}
	return i.Install(ctx)
}

func (i *Installer) installCommands() []string {
	dir := shellescape.Quote(i.repoDir())
	remote := shellescape.Quote(i.remote())
	branch := shellescape.Quote(i.branch())
	inRepo := func(cmd string) string {
		return fmt.Sprintf("cd %s && %s", dir, cmd)
	}

	return []string{
		fmt.Sprintf("[ -d %s ] || git clone --origin %s %s %s", dir, remote, shellescape.Quote(i.repoURL()), dir),
		inRepo(fmt.Sprintf("git fetch --tags %s", remote)),
		// branches are checked out from the remote, tags directly
		inRepo(fmt.Sprintf("git checkout -B %s %s/%s || git checkout %s", branch, remote, branch, branch)),
		inRepo("git submodule update --init --recursive"),
		inRepo("./configure"),
		inRepo("make -j$(nproc)"),
		inRepo("make install"),
	}
}
