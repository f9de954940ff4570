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
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath     = "VIASACRA_CONFIG"
	EnvAPIURL         = "VIASACRA_API_URL"
	EnvDBPath         = "VIASACRA_DB"
	EnvPollInterval   = "VIASACRA_POLL_INTERVAL"
	EnvRequestTimeout = "VIASACRA_REQUEST_TIMEOUT"
	EnvLeaveTimeout   = "VIASACRA_LEAVE_TIMEOUT"
	EnvLogLevel       = "LOG_LEVEL"
)

type Config struct {
	APIBaseURL     string
	DBPath         string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	LeaveTimeout   time.Duration
	LogLevel       string
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:     "http://localhost:8000/api",
		DBPath:         defaultDBPath(),
		PollInterval:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
		LeaveTimeout:   3 * time.Second,
		LogLevel:       "warn",
	}
}

// fileConfig mirrors Config for YAML decoding; durations are kept as
// strings so "5s" style values work.
type fileConfig struct {
	APIBaseURL     string `yaml:"api_url"`
	DBPath         string `yaml:"db"`
	PollInterval   string `yaml:"poll_interval"`
	RequestTimeout string `yaml:"request_timeout"`
	LeaveTimeout   string `yaml:"leave_timeout"`
	LogLevel       string `yaml:"log_level"`
}

// Load layers defaults, an optional YAML file, a .env file and the process
// environment, in that order. An empty path falls back to $VIASACRA_CONFIG;
// a missing .env is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path = strings.TrimSpace(path); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.LeaveTimeout <= 0 {
		return fmt.Errorf("leave timeout must be positive, got %s", c.LeaveTimeout)
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	setString(&c.APIBaseURL, fc.APIBaseURL)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.LogLevel, fc.LogLevel)
	if err := setDuration(&c.PollInterval, "poll_interval", fc.PollInterval); err != nil {
		return err
	}
	if err := setDuration(&c.RequestTimeout, "request_timeout", fc.RequestTimeout); err != nil {
		return err
	}
	return setDuration(&c.LeaveTimeout, "leave_timeout", fc.LeaveTimeout)
}

func (c *Config) applyEnv() error {
	setString(&c.APIBaseURL, os.Getenv(EnvAPIURL))
	setString(&c.DBPath, os.Getenv(EnvDBPath))
	setString(&c.LogLevel, os.Getenv(EnvLogLevel))
	if err := setDuration(&c.PollInterval, EnvPollInterval, os.Getenv(EnvPollInterval)); err != nil {
		return err
	}
	if err := setDuration(&c.RequestTimeout, EnvRequestTimeout, os.Getenv(EnvRequestTimeout)); err != nil {
		return err
	}
	return setDuration(&c.LeaveTimeout, EnvLeaveTimeout, os.Getenv(EnvLeaveTimeout))
}

func setString(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func defaultDBPath() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir != "" {
		return filepath.Join(stateDir, "viasacra", "session.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "viasacra.db"
	}
	return filepath.Join(home, ".local", "state", "viasacra", "session.db")
}
