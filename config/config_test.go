package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/perfgo/castest/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoader(t *testing.T, files map[string]string) *Loader {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return &Loader{Fs: fs}
}

func TestLoad_YAML(t *testing.T) {
	l := newLoader(t, map[string]string{
		"/cfg/dut.yml": `
ip: 10.10.0.5
user: root
port: 2222
ssh_options:
  - StrictHostKeyChecking=no
repo_dir: /root/cas
log_files:
  - /var/log/opencas.log
ipmi:
  host: 10.10.1.5
disks:
  - /dev/nvme0n1
`,
	})

	cfg, err := l.Load("/cfg/dut.yml")
	require.NoError(t, err)

	want := model.DUTConfig{
		IP:         "10.10.0.5",
		User:       "root",
		Port:       2222,
		SSHOptions: []string{"StrictHostKeyChecking=no"},
		RepoDir:    "/root/cas",
		LogFiles:   []string{"/var/log/opencas.log"},
		Extra: map[string]any{
			"ipmi":  map[string]any{"host": "10.10.1.5"},
			"disks": []any{"/dev/nvme0n1"},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_JSONWithComments(t *testing.T) {
	l := newLoader(t, map[string]string{
		"/cfg/dut.json": `{
	// lab machine
	"ip": "fd00::5",
	"user": "root",
}`,
	})

	cfg, err := l.Load("/cfg/dut.json")
	require.NoError(t, err)
	assert.Equal(t, "fd00::5", cfg.IP)
	assert.Equal(t, "root", cfg.User)
	assert.Empty(t, cfg.Extra)
}

func TestLoad_Errors(t *testing.T) {
	l := newLoader(t, map[string]string{
		"/cfg/broken.yml":  "ip: [unterminated",
		"/cfg/broken.json": `{"ip": }`,
	})

	for _, path := range []string{"", "None"} {
		_, err := l.Load(path)
		assert.ErrorIs(t, err, ErrNoConfig, "path %q", path)
	}

	_, err := l.Load("/cfg/missing.yml")
	assert.Error(t, err)

	_, err = l.Load("/cfg/broken.yml")
	assert.Error(t, err)

	_, err = l.Load("/cfg/broken.json")
	assert.Error(t, err)
}

func TestValidateIP(t *testing.T) {
	for _, ok := range []string{"10.0.0.1", "::1", "fd00::5"} {
		assert.NoError(t, ValidateIP(ok), ok)
	}
	for _, bad := range []string{"", "10.0.0", "dut-01.lab", "10.0.0.256", "10.0.0.1:22"} {
		assert.ErrorIs(t, ValidateIP(bad), ErrInvalidIP, bad)
	}
}
