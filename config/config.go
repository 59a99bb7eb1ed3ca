// Package config loads DUT configuration files. YAML files are decoded with
// yaml.v3; .json and .hujson files may carry comments and trailing commas.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"

	"github.com/perfgo/castest/model"
	"github.com/spf13/afero"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoConfig is returned when no config file was given.
	ErrNoConfig = errors.New("no DUT config file given")

	// ErrInvalidIP is returned when the configured address is not an IP literal.
	ErrInvalidIP = errors.New("IP address from configuration file is in invalid format")
)

// Loader reads DUT config files from a filesystem.
type Loader struct {
	Fs afero.Fs
}

// NewLoader returns a loader reading from the OS filesystem.
func NewLoader() *Loader {
	return &Loader{Fs: afero.NewOsFs()}
}

// Load reads and decodes the DUT config at path. An empty path, or the
// literal "None" used by older job definitions, yields ErrNoConfig.
func (l *Loader) Load(path string) (model.DUTConfig, error) {
	if path == "" || path == "None" {
		return model.DUTConfig{}, ErrNoConfig
	}

	data, err := afero.ReadFile(l.Fs, path)
	if err != nil {
		return model.DUTConfig{}, fmt.Errorf("failed to read DUT config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".hujson":
		data, err = hujson.Standardize(data)
		if err != nil {
			return model.DUTConfig{}, fmt.Errorf("failed to parse DUT config %s: %w", path, err)
		}
	}

	// standard JSON is valid YAML, so one decoder serves both
	var cfg model.DUTConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.DUTConfig{}, fmt.Errorf("failed to parse DUT config %s: %w", path, err)
	}
	return cfg, nil
}

// ValidateIP checks that s is a syntactically valid IPv4 or IPv6 literal.
func ValidateIP(s string) error {
	if _, err := netip.ParseAddr(s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}
	return nil
}
