package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat client.
type Config struct {
	StoreDir    string
	DatabaseURL string

	Model        string
	ClientMode   string
	APIBaseURL   string
	APIKey       string
	GatewayURL   string
	GatewayToken string

	HistoryLimit       int
	GlobalHistoryLimit int

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBase      time.Duration
	RetryCap       time.Duration

	DebugAddr        string
	MetricsNamespace string
	LogLevel         slog.Level
	Plain            bool

	// ContinueOnStart resumes before the first prompt; ContinueIndex picks a
	// 1-based history entry, 0 meaning "latest".
	ContinueOnStart bool
	ContinueIndex   int
}

// Load reads environment variables, applies safe defaults, then lets
// command-line flags override.
func Load(args []string) (Config, error) {
	cfg := Config{
		StoreDir:         envOrDefault("REJOIN_STORE_DIR", defaultStoreDir()),
		DatabaseURL:      envTrimmed("REJOIN_DATABASE_URL"),
		Model:            envOrDefault("REJOIN_MODEL", "gpt-4o-mini"),
		ClientMode:       envOrDefault("REJOIN_CLIENT_MODE", "auto"),
		APIBaseURL:       envTrimmed("REJOIN_API_BASE_URL"),
		APIKey:           envTrimmed("REJOIN_API_KEY"),
		GatewayURL:       envTrimmed("REJOIN_GATEWAY_URL"),
		GatewayToken:     envTrimmed("REJOIN_GATEWAY_TOKEN"),
		DebugAddr:        envTrimmed("REJOIN_DEBUG_ADDR"),
		MetricsNamespace: envOrDefault("REJOIN_METRICS_NAMESPACE", "rejoin"),

		HistoryLimit:       50,
		GlobalHistoryLimit: 250,
		RequestTimeout:     120 * time.Second,
		RetryAttempts:      3,
		RetryBase:          500 * time.Millisecond,
		RetryCap:           8 * time.Second,
	}

	var err error
	cfg.HistoryLimit, err = intFromEnv("REJOIN_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.GlobalHistoryLimit, err = intFromEnv("REJOIN_GLOBAL_HISTORY_LIMIT", cfg.GlobalHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("REJOIN_REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryAttempts, err = intFromEnv("REJOIN_RETRY_ATTEMPTS", cfg.RetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBase, err = durationFromEnv("REJOIN_RETRY_BASE", cfg.RetryBase)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryCap, err = durationFromEnv("REJOIN_RETRY_CAP", cfg.RetryCap)
	if err != nil {
		return Config{}, err
	}
	cfg.Plain, err = boolFromEnv("REJOIN_PLAIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = levelFromEnv("REJOIN_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.applyFlags(args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyFlags(args []string) error {
	fs := flag.NewFlagSet("rejoin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.StoreDir, "store-dir", cfg.StoreDir, "directory for persisted conversations")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "model name sent with every request")
	fs.StringVar(&cfg.ClientMode, "client", cfg.ClientMode, "client mode: auto|http|gateway|mock")
	fs.StringVar(&cfg.DebugAddr, "debug-addr", cfg.DebugAddr, "bind address for the read-only debug server (empty: off)")
	fs.BoolVar(&cfg.Plain, "plain", cfg.Plain, "disable styled and markdown output")
	resume := fs.String("continue", "", "resume before the first prompt: 'latest' or a 1-based history index")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	switch v := strings.TrimSpace(*resume); v {
	case "":
	case "latest":
		cfg.ContinueOnStart = true
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("-continue expects 'latest' or a positive index, got %q", v)
		}
		cfg.ContinueOnStart = true
		cfg.ContinueIndex = n
	}
	return nil
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.StoreDir) == "" && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("REJOIN_STORE_DIR must not be empty")
	}
	if cfg.HistoryLimit <= 0 {
		return fmt.Errorf("REJOIN_HISTORY_LIMIT must be positive")
	}
	if cfg.GlobalHistoryLimit <= 0 {
		return fmt.Errorf("REJOIN_GLOBAL_HISTORY_LIMIT must be positive")
	}
	if cfg.RequestTimeout < time.Second {
		return fmt.Errorf("REJOIN_REQUEST_TIMEOUT must be at least 1s")
	}
	if cfg.RetryAttempts <= 0 {
		return fmt.Errorf("REJOIN_RETRY_ATTEMPTS must be positive")
	}
	if cfg.RetryBase <= 0 {
		return fmt.Errorf("REJOIN_RETRY_BASE must be positive")
	}
	if cfg.RetryCap < cfg.RetryBase {
		return fmt.Errorf("REJOIN_RETRY_CAP must be at least REJOIN_RETRY_BASE")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.ClientMode)) {
	case "auto", "http", "gateway", "mock":
	default:
		return fmt.Errorf("invalid REJOIN_CLIENT_MODE: %q (expected auto|http|gateway|mock)", cfg.ClientMode)
	}
	return nil
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rejoin"
	}
	return filepath.Join(home, ".rejoin")
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	switch strings.ToLower(envTrimmed(key)) {
	case "":
		return fallback, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%s parse error: expected debug|info|warn|error", key)
	}
}
