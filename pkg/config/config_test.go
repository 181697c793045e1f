package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OSTRICH_STATE_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, BackendFile, cfg.State.Backend)
	assert.Equal(t, filepath.Join(dir, "state.json"), cfg.State.Path)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.Logs.Dir)
	assert.Equal(t, filepath.Join(dir, "journal.db"), cfg.Journal.Path)
	assert.Equal(t, filepath.Join(dir, "patches"), cfg.Patches.Dir)
	assert.Equal(t, DisplayInteractive, cfg.Display.Mode)
	assert.Equal(t, time.Second, cfg.Display.PollInterval)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 5, cfg.Defaults["max_attempts"])
	assert.Equal(t, "ostrich", cfg.Telemetry.ServiceName)
	assert.Equal(t, filepath.Join(dir, "ostrich.log"), cfg.LogFile())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OSTRICH_STATE_DIR", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, BackendFile, cfg.State.Backend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OSTRICH_STATE_DIR", "")
	stateDir := t.TempDir()
	doc := `
state_dir: ` + stateDir + `
state:
  backend: redis
  redis:
    address: redis.example.com:6379
    db: 2
    key: deploy:state
logs:
  dir: /var/log/ostrich
display:
  mode: stream
  poll_interval: 250ms
defaults:
  max_attempts: 3
  cwd: /srv
telemetry:
  service_name: ostrich
  logging:
    level: debug
    format: json
`
	path := filepath.Join(t.TempDir(), "ostrich.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.State.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.State.Redis.Address)
	assert.Equal(t, 2, cfg.State.Redis.DB)
	assert.Equal(t, "deploy:state", cfg.State.Redis.Key)
	assert.Equal(t, "/var/log/ostrich", cfg.Logs.Dir)
	assert.Equal(t, filepath.Join(stateDir, "journal.db"), cfg.Journal.Path)
	assert.Equal(t, DisplayStream, cfg.Display.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Display.PollInterval)
	assert.Equal(t, 3, cfg.Defaults["max_attempts"])
	assert.Equal(t, "/srv", cfg.Defaults["cwd"])
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, "json", cfg.Telemetry.Logging.Format)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	t.Setenv("OSTRICH_STATE_DIR", t.TempDir())

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "stat_dir: /tmp\n"},
		{"bad backend", "state:\n  backend: etcd\n"},
		{"redis without address", "state:\n  backend: redis\n  redis:\n    address: ''\n"},
		{"bad display", "display:\n  mode: fancy\n"},
		{"zero poll interval", "display:\n  poll_interval: 0s\n"},
		{"journal without path", "journal:\n  enabled: true\n  path: ''\n"},
		{"bad defaults", "defaults:\n  max_attempts: lots\n"},
		{"bad log level", "telemetry:\n  service_name: x\n  logging:\n    level: loud\n    format: console\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	t.Setenv("OSTRICH_STATE_DIR", t.TempDir())

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DisplayInteractive, cfg.Display.Mode)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ostrich"), expandHome("~/.ostrich"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Setenv("OSTRICH_STATE_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.State, again.State)
	assert.Equal(t, cfg.Display, again.Display)
}
