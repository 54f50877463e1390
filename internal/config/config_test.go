package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := write(t, "procman.toml", `
procfile = "Procfile.dev"
env = [".env", ".env.local"]
color = "never"

[concurrency]
web = 2

[watch]
patterns = ["src/**/*.go", "templates"]
mode = "poll"
debounce = "100ms"
poll_interval = "2s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Procfile.dev", cfg.Procfile)
	assert.Equal(t, []string{".env", ".env.local"}, cfg.Env)
	assert.Equal(t, "never", cfg.Color)
	assert.Equal(t, "info", cfg.LogLevel, "unset keys keep defaults")
	assert.Equal(t, map[string]int{"web": 2}, cfg.Concurrency)
	assert.Equal(t, []string{"src/**/*.go", "templates"}, cfg.Watch.Patterns)
	assert.Equal(t, "poll", cfg.Watch.Mode)
	assert.Equal(t, "*.go", cfg.Watch.Match)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce.D())
	assert.Equal(t, 2*time.Second, cfg.Watch.PollInterval.D())
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "procman.yml", `
procfile: Procfile
root: /srv/app
log_level: debug
watch:
  patterns: [lib]
  match: "*.py"
  ignore: [".git", "__pycache__"]
  debounce: 0s
  poll_interval: 10ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/app", cfg.Root)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "*.py", cfg.Watch.Match)
	assert.Equal(t, []string{".git", "__pycache__"}, cfg.Watch.Ignore)
	assert.Equal(t, time.Duration(0), cfg.Watch.Debounce.D())
	assert.Equal(t, time.Second, cfg.Watch.PollInterval.D(), "poll interval is clamped")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad.toml":    `color = "sometimes"`,
		"mode.toml":   "[watch]\nmode = \"inotify\"",
		"dur.yaml":    "watch:\n  debounce: soon\n",
		"syntax.toml": `procfile = `,
		"conc.yaml":   "concurrency:\n  web: -1\n",
	}
	for name, content := range cases {
		_, err := Load(write(t, name, content))
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.True(t, os.IsNotExist(err))
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", Find(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "procman.yml"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "procman.yml"), Find(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "procman.toml"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "procman.toml"), Find(dir))
}
