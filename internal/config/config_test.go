package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfigPath, EnvAPIURL, EnvDBPath, EnvPollInterval, EnvRequestTimeout, EnvLeaveTimeout, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfigPollsEveryFiveSeconds(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", cfg.PollInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "viasacra.yaml")
	body := "api_url: http://rooms.example/api\npoll_interval: 2s\nleave_timeout: 1s\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvPollInterval, "7s")
	t.Setenv(EnvDBPath, filepath.Join(dir, "s.db"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://rooms.example/api" {
		t.Fatalf("expected api url from file, got %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 7*time.Second {
		t.Fatalf("expected env to override poll interval, got %s", cfg.PollInterval)
	}
	if cfg.LeaveTimeout != time.Second {
		t.Fatalf("expected leave timeout from file, got %s", cfg.LeaveTimeout)
	}
	if cfg.RequestTimeout != DefaultConfig().RequestTimeout {
		t.Fatalf("expected default request timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "debug" || cfg.DBPath != filepath.Join(dir, "s.db") {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadUsesConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("api_url: http://env-file/api\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://env-file/api" {
		t.Fatalf("expected api url via %s, got %q", EnvConfigPath, cfg.APIBaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "unparseable duration", key: EnvPollInterval, val: "soon", want: "invalid " + EnvPollInterval},
		{name: "non-positive interval", key: EnvPollInterval, val: "0s", want: "poll interval must be positive"},
		{name: "negative leave timeout", key: EnvLeaveTimeout, val: "-1s", want: "leave timeout must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing config file error")
	}
}
