package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shakenfist/ostrich/pkg/kwargs"
	"github.com/shakenfist/ostrich/pkg/telemetry"
)

// State backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Display modes.
const (
	DisplayInteractive = "interactive"
	DisplayStream      = "stream"
	DisplaySilent      = "silent"
)

// Config is the application configuration.
type Config struct {
	// StateDir anchors every relative path below.
	StateDir string `yaml:"state_dir" validate:"required"`

	State     StateConfig       `yaml:"state"`
	Logs      LogsConfig        `yaml:"logs"`
	Journal   JournalConfig     `yaml:"journal"`
	Display   DisplayConfig     `yaml:"display"`
	Patches   PatchesConfig     `yaml:"patches"`
	Defaults  map[string]any    `yaml:"defaults"`
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// StateConfig selects where runner state is persisted.
type StateConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=file redis"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig locates the Redis state backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Key      string `yaml:"key"`
}

// LogsConfig locates the per-execution step logs.
type LogsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// JournalConfig controls the SQLite execution history.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// DisplayConfig controls operator output.
type DisplayConfig struct {
	Mode string `yaml:"mode" validate:"oneof=interactive stream silent"`
	// PollInterval bounds how long subprocess output may sit unread.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// PatchesConfig locates patch files and the archive of patched files.
type PatchesConfig struct {
	Dir        string `yaml:"dir"`
	ArchiveDir string `yaml:"archive_dir"`
}

var validate = validator.New()

// DefaultStateDir is used when the configuration does not set state_dir.
const DefaultStateDir = "~/.ostrich"

// Default returns the built-in configuration, before path resolution.
func Default() *Config {
	return &Config{
		StateDir: DefaultStateDir,
		State: StateConfig{
			Backend: BackendFile,
			Path:    "state.json",
			Redis: RedisConfig{
				Address: "127.0.0.1:6379",
			},
		},
		Logs:    LogsConfig{Dir: "logs"},
		Journal: JournalConfig{Enabled: true, Path: "journal.db"},
		Display: DisplayConfig{
			Mode:         DisplayInteractive,
			PollInterval: time.Second,
		},
		Patches: PatchesConfig{
			Dir:        "patches",
			ArchiveDir: "archive",
		},
		Defaults: map[string]any{
			kwargs.KeyMaxAttempts:      kwargs.DefaultMaxAttempts,
			kwargs.KeyFailingStepDelay: int(kwargs.DefaultFailingStepDelay / time.Second),
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the configuration at path over the defaults. A missing file
// is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := cfg.decode(data); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		}
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document over the defaults, resolves paths
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// resolve expands ~ and anchors relative paths at the state directory.
func (c *Config) resolve() error {
	if dir := os.Getenv("OSTRICH_STATE_DIR"); dir != "" {
		c.StateDir = dir
	}
	c.StateDir = expandHome(c.StateDir)
	abs, err := filepath.Abs(c.StateDir)
	if err != nil {
		return fmt.Errorf("failed to resolve state directory: %w", err)
	}
	c.StateDir = abs

	for _, p := range []*string{
		&c.State.Path,
		&c.Logs.Dir,
		&c.Journal.Path,
		&c.Patches.Dir,
		&c.Patches.ArchiveDir,
	} {
		*p = c.anchor(*p)
	}

	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
	return nil
}

func (c *Config) anchor(path string) string {
	if path == "" {
		return ""
	}
	path = expandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.StateDir, path)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.State.Backend == BackendFile && c.State.Path == "" {
		return fmt.Errorf("invalid config: state.path is required for the file backend")
	}
	if c.State.Backend == BackendRedis && c.State.Redis.Address == "" {
		return fmt.Errorf("invalid config: state.redis.address is required for the redis backend")
	}
	if _, err := kwargs.New(c.Defaults).Options(); err != nil {
		return fmt.Errorf("invalid config: defaults: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: telemetry: %w", err)
	}
	return nil
}

// LogFile is where diagnostic logging goes while the interactive display
// owns the terminal.
func (c *Config) LogFile() string {
	return filepath.Join(c.StateDir, "ostrich.log")
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
