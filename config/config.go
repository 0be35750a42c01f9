// Package config defines the application configuration structures and
// loads them from defaults, the config file, .env, the environment and
// command-line flags.
//
// Separated from cmd to allow other packages (db, ssh, tui) to
// depend on config without importing Cobra.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides: SQLPILOT_BACKEND_URL
// sets backend.url.
const EnvPrefix = "SQLPILOT_"

// Executor names.
const (
	ExecutorBackend = "backend"
	ExecutorDirect  = "direct"
)

// Config holds all application settings.
type Config struct {
	Backend   BackendConfig `koanf:"backend"`
	Stream    StreamConfig  `koanf:"stream"`
	Logs      LogsConfig    `koanf:"logs"`
	Suggest   SuggestConfig `koanf:"suggest"`
	Export    ExportConfig  `koanf:"export"`
	Executor  string        `koanf:"executor"`
	Direct    DirectConfig  `koanf:"direct"`
	Questions []string      `koanf:"questions"`
	Debug     bool          `koanf:"debug"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// BackendConfig locates the assistant backend.
type BackendConfig struct {
	URL     string        `koanf:"url"`
	User    string        `koanf:"user"`
	Timeout time.Duration `koanf:"timeout"`
}

// StreamConfig configures the Socket.IO log stream.
type StreamConfig struct {
	Path           string        `koanf:"path"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
}

// LogsConfig configures the log panel timers.
type LogsConfig struct {
	QuietPeriod time.Duration `koanf:"quiet_period"`
	CheckDelay  time.Duration `koanf:"check_delay"`
}

// SuggestConfig configures the metadata search box.
type SuggestConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// ExportConfig configures result export.
type ExportConfig struct {
	Dir string `koanf:"dir"`
}

// DirectConfig holds the PostgreSQL settings of the direct executor.
type DirectConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	SSLMode  string `koanf:"sslmode"`

	SSH SSHConfig `koanf:"ssh"`
}

// SSHConfig holds SSH tunnel settings.
type SSHConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Host          string `koanf:"host"`
	Port          int    `koanf:"port"`
	User          string `koanf:"user"`
	KeyPath       string `koanf:"key_path"`
	KeyPassphrase string `koanf:"key_passphrase"`
	KnownHosts    string `koanf:"known_hosts"`
}

// DSN builds a pgx-compatible connection string.
// When SSH tunnel is active, the caller should override Host/Port
// with the local tunnel endpoint.
func (c DirectConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Dir returns ~/.sqlpilot, the home of the config file and the logs.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".sqlpilot"), nil
}

// DefaultQuestions are offered in an empty chat.
var DefaultQuestions = []string{
	"How many plays per day last week?",
	"What is the revenue by order status?",
	"Which artists have the most followers?",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"backend.url":            "http://localhost:5000",
		"backend.user":           "",
		"backend.timeout":        120 * time.Second,
		"stream.path":            "/socket.io/",
		"stream.reconnect_delay": 5 * time.Second,
		"logs.quiet_period":      5 * time.Second,
		"logs.check_delay":       3 * time.Second,
		"suggest.debounce":       time.Second,
		"export.dir":             ".",
		"executor":               ExecutorBackend,
		"direct.host":            "localhost",
		"direct.port":            5432,
		"direct.user":            "postgres",
		"direct.sslmode":         "disable",
		"direct.ssh.port":        22,
		"questions":              DefaultQuestions,
		"debug":                  false,
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"backend":    "backend.url",
	"user":       "backend.user",
	"executor":   "executor",
	"export-dir": "export.dir",
	"debug":      "debug",
}

// envKey maps SQLPILOT_DIRECT_SSH_KEY_PATH to direct.ssh.key_path: the
// first segment is the section, the rest is the field.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(s, "direct_ssh_"); ok {
		return "direct.ssh." + rest
	}
	if section, field, ok := strings.Cut(s, "_"); ok {
		return section + "." + field
	}
	return s
}

// Load reads the configuration. Precedence (highest to lowest): flags >
// env vars > .env > config file > defaults. An empty cfgFile means
// ~/.sqlpilot/config.yaml when it exists.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		if dir, err := Dir(); err == nil {
			candidate := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
			}
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. .env in the working directory; existing variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 4. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Flags, only when set explicitly.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = cfgFile
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that have no usable fallback.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("backend.url must not be empty")
	}
	switch c.Executor {
	case ExecutorBackend, ExecutorDirect:
	default:
		return fmt.Errorf("executor must be %q or %q, got %q", ExecutorBackend, ExecutorDirect, c.Executor)
	}
	if c.Executor == ExecutorDirect && c.Direct.Database == "" {
		return errors.New("direct.database is required with the direct executor")
	}
	return nil
}
