package model

import (
	"fmt"
	"strings"
)

// SessionOptions holds the options of a test session. They are parsed once
// from the command line and never change while the session runs.
type SessionOptions struct {
	// Path to the DUT config file (empty means none)
	DUTConfigPath string
	// Directory where per-test logs are written
	LogPath string
	// Git remote name the subsystem sources are fetched from
	Remote string
	// Branch or tag of the subsystem sources to install
	Branch string
	// Reinstall the subsystem once per session regardless of install state
	ForceReinstall bool
	// Local source tree used for build provenance
	RepoPath string
	// External test wrapper command line (empty means no wrapper)
	WrapperCommand string
}

const (
	DefaultLogPath  = "results"
	DefaultRemote   = "origin"
	DefaultBranch   = "master"
	DefaultRepoPath = "."
)

// DefaultSessionOptions returns the options used when no flag overrides them.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		LogPath:  DefaultLogPath,
		Remote:   DefaultRemote,
		Branch:   DefaultBranch,
		RepoPath: DefaultRepoPath,
	}
}

// DUTConfig describes how to reach a DUT and where the subsystem sources
// live on it. An empty IP means commands run on the local machine.
type DUTConfig struct {
	IP             string   `yaml:"ip,omitempty" json:"ip,omitempty"`
	User           string   `yaml:"user,omitempty" json:"user,omitempty"`
	Port           int      `yaml:"port,omitempty" json:"port,omitempty"`
	IdentityFile   string   `yaml:"identity_file,omitempty" json:"identity_file,omitempty"`
	KnownHostsFile string   `yaml:"known_hosts_file,omitempty" json:"known_hosts_file,omitempty"`
	SSHOptions     []string `yaml:"ssh_options,omitempty" json:"ssh_options,omitempty"`
	RepoURL        string   `yaml:"repo_url,omitempty" json:"repo_url,omitempty"`
	RepoDir        string   `yaml:"repo_dir,omitempty" json:"repo_dir,omitempty"`
	// Additional files on the DUT collected after each test
	LogFiles []string `yaml:"log_files,omitempty" json:"log_files,omitempty"`
	// Fields not known to the harness, passed through to the test wrapper
	Extra map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// IsRemote reports whether the config points at a remote DUT.
func (c DUTConfig) IsRemote() bool {
	return c.IP != ""
}

// Host returns the ssh destination for the DUT ("user@ip" or "ip").
func (c DUTConfig) Host() string {
	if c.User != "" {
		return c.User + "@" + c.IP
	}
	return c.IP
}

// DUT is the session-scoped descriptor of the device under test.
type DUT struct {
	// Network address, empty for local execution
	Address string `json:"address,omitempty"`
	// alreadyUpdated is nil until the first preparation of the session
	alreadyUpdated *bool
}

// AlreadyUpdated reports whether the subsystem was (re)installed during this
// session. An unset flag reads as false.
func (d *DUT) AlreadyUpdated() bool {
	return d.alreadyUpdated != nil && *d.alreadyUpdated
}

// InitUpdated marks the DUT as not yet updated unless the flag was already
// set earlier in the session.
func (d *DUT) InitUpdated() {
	if d.alreadyUpdated == nil {
		v := false
		d.alreadyUpdated = &v
	}
}

// MarkUpdated records that the install decision point was passed.
func (d *DUT) MarkUpdated() {
	v := true
	d.alreadyUpdated = &v
}

func (d *DUT) String() string {
	addr := d.Address
	if addr == "" {
		addr = "local"
	}
	return fmt.Sprintf("DUT(address=%s, already_updated=%t)", addr, d.AlreadyUpdated())
}

// CommandOutput is the result of a command executed on the DUT.
type CommandOutput struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Succeeded reports whether the command exited with code 0.
func (o CommandOutput) Succeeded() bool {
	return o.ExitCode == 0
}

// Lines returns the non-empty lines of stdout.
func (o CommandOutput) Lines() []string {
	var lines []string
	for _, line := range strings.Split(o.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// CleanupOutcome is the result of a single cleanup step. A failed outcome is
// reported as a warning and never fails the run.
type CleanupOutcome struct {
	Step    string `json:"step"`
	OK      bool   `json:"ok"`
	Warning string `json:"warning,omitempty"`
}
