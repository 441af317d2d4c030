package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REJOIN_STORE_DIR", "/tmp/rejoin-test")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model != "gpt-4o-mini" {
		t.Fatalf("Model = %q, want default", cfg.Model)
	}
	if cfg.ClientMode != "auto" {
		t.Fatalf("ClientMode = %q, want %q", cfg.ClientMode, "auto")
	}
	if cfg.HistoryLimit != 50 || cfg.GlobalHistoryLimit != 250 {
		t.Fatalf("history limits = %d/%d, want 50/250", cfg.HistoryLimit, cfg.GlobalHistoryLimit)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Fatalf("RequestTimeout = %v, want 120s", cfg.RequestTimeout)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBase != 500*time.Millisecond || cfg.RetryCap != 8*time.Second {
		t.Fatalf("retry settings = %d/%v/%v, want 3/500ms/8s", cfg.RetryAttempts, cfg.RetryBase, cfg.RetryCap)
	}
	if cfg.MetricsNamespace != "rejoin" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "rejoin")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.ContinueOnStart {
		t.Fatalf("ContinueOnStart = true, want false by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REJOIN_STORE_DIR", "/tmp/rejoin-test")
	t.Setenv("REJOIN_MODEL", "gpt-4o")
	t.Setenv("REJOIN_HISTORY_LIMIT", "10")
	t.Setenv("REJOIN_REQUEST_TIMEOUT", "30s")
	t.Setenv("REJOIN_LOG_LEVEL", "debug")
	t.Setenv("REJOIN_PLAIN", "true")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Fatalf("Model = %q, want env override", cfg.Model)
	}
	if cfg.HistoryLimit != 10 {
		t.Fatalf("HistoryLimit = %d, want 10", cfg.HistoryLimit)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if !cfg.Plain {
		t.Fatalf("Plain = false, want true")
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REJOIN_STORE_DIR", "/tmp/from-env")
	t.Setenv("REJOIN_CLIENT_MODE", "http")
	t.Setenv("REJOIN_API_BASE_URL", "http://localhost:1234")

	cfg, err := Load([]string{"-store-dir", "/tmp/from-flag", "-client", "mock", "-continue", "2"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreDir != "/tmp/from-flag" {
		t.Fatalf("StoreDir = %q, want flag value", cfg.StoreDir)
	}
	if cfg.ClientMode != "mock" {
		t.Fatalf("ClientMode = %q, want flag value", cfg.ClientMode)
	}
	if !cfg.ContinueOnStart || cfg.ContinueIndex != 2 {
		t.Fatalf("continue = %v/%d, want true/2", cfg.ContinueOnStart, cfg.ContinueIndex)
	}
}

func TestLoadContinueLatest(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REJOIN_STORE_DIR", "/tmp/rejoin-test")

	cfg, err := Load([]string{"-continue", "latest"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.ContinueOnStart || cfg.ContinueIndex != 0 {
		t.Fatalf("continue = %v/%d, want true/0", cfg.ContinueOnStart, cfg.ContinueIndex)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad history limit", env: map[string]string{"REJOIN_HISTORY_LIMIT": "0"}},
		{name: "bad timeout", env: map[string]string{"REJOIN_REQUEST_TIMEOUT": "10ms"}},
		{name: "bad retry cap", env: map[string]string{"REJOIN_RETRY_CAP": "1ms"}},
		{name: "bad client mode", env: map[string]string{"REJOIN_CLIENT_MODE": "carrier-pigeon"}},
		{name: "bad log level", env: map[string]string{"REJOIN_LOG_LEVEL": "chatty"}},
		{name: "bad continue value", args: []string{"-continue", "zero"}},
		{name: "negative continue index", args: []string{"-continue", "-1"}},
		{name: "stray positional arg", args: []string{"extra"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("REJOIN_STORE_DIR", "/tmp/rejoin-test")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tc.args); err == nil {
				t.Fatalf("Load() succeeded, want error")
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"REJOIN_STORE_DIR",
		"REJOIN_DATABASE_URL",
		"REJOIN_MODEL",
		"REJOIN_CLIENT_MODE",
		"REJOIN_API_BASE_URL",
		"REJOIN_API_KEY",
		"REJOIN_GATEWAY_URL",
		"REJOIN_GATEWAY_TOKEN",
		"REJOIN_HISTORY_LIMIT",
		"REJOIN_GLOBAL_HISTORY_LIMIT",
		"REJOIN_REQUEST_TIMEOUT",
		"REJOIN_RETRY_ATTEMPTS",
		"REJOIN_RETRY_BASE",
		"REJOIN_RETRY_CAP",
		"REJOIN_DEBUG_ADDR",
		"REJOIN_METRICS_NAMESPACE",
		"REJOIN_LOG_LEVEL",
		"REJOIN_PLAIN",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
