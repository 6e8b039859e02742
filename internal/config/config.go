// Package config loads console configuration from the environment, with an
// optional YAML file underneath. Environment values always win; the file
// supports ${VAR} substitution so secrets can stay out of it.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config holds every tunable the core consumes.
type Config struct {
	ListenAddr string

	// EncryptionKey protects vault records at rest. Nil means a random
	// per-process key: sessions will not survive a restart.
	EncryptionKey []byte
	TokenSecret   []byte
	TokenTTL      time.Duration

	SandboxRoots []string
	SessionTTL   time.Duration
	MaxSessions  int

	LoginLimit        int
	LoginWindow       time.Duration
	APILimit          int
	APIWindow         time.Duration
	DestructiveLimit  int
	DestructiveWindow time.Duration
	LockoutThreshold  int
	LockoutDuration   time.Duration

	HostKeyFingerprint string
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration

	AuditLogPath  string
	SweepInterval time.Duration
}

// fileConfig mirrors Config for the optional YAML file.
type fileConfig struct {
	ListenAddr         string   `yaml:"listen_addr"`
	EncryptionKey      string   `yaml:"encryption_key"`
	TokenSecret        string   `yaml:"token_secret"`
	TokenTTL           string   `yaml:"token_ttl"`
	SandboxRoots       []string `yaml:"sandbox_roots"`
	SessionTTL         string   `yaml:"session_ttl"`
	MaxSessions        int      `yaml:"max_sessions"`
	LoginLimit         int      `yaml:"login_limit"`
	LoginWindow        string   `yaml:"login_window"`
	APILimit           int      `yaml:"api_limit"`
	APIWindow          string   `yaml:"api_window"`
	DestructiveLimit   int      `yaml:"destructive_limit"`
	DestructiveWindow  string   `yaml:"destructive_window"`
	LockoutThreshold   int      `yaml:"lockout_threshold"`
	LockoutDuration    string   `yaml:"lockout_duration"`
	HostKeyFingerprint string   `yaml:"host_key_fingerprint"`
	ConnectTimeout     string   `yaml:"connect_timeout"`
	CommandTimeout     string   `yaml:"command_timeout"`
	AuditLogPath       string   `yaml:"audit_log_path"`
	SweepInterval      string   `yaml:"sweep_interval"`
}

// Load reads configuration: .env (if present), then the YAML file named by
// SAMBADECK_CONFIG (if any), then SAMBADECK_* environment overrides.
func Load() (*Config, error) {
	// Missing .env is fine; explicit files are the deployer's problem.
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("SAMBADECK_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr:        ":8445",
		TokenTTL:          15 * time.Minute,
		SessionTTL:        30 * time.Minute,
		MaxSessions:       50,
		LoginLimit:        5,
		LoginWindow:       time.Minute,
		APILimit:          120,
		APIWindow:         time.Minute,
		DestructiveLimit:  20,
		DestructiveWindow: time.Minute,
		LockoutThreshold:  5,
		LockoutDuration:   15 * time.Minute,
		ConnectTimeout:    10 * time.Second,
		CommandTimeout:    30 * time.Second,
		AuditLogPath:      "sambadeck_audit.log",
		SweepInterval:     time.Minute,
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Substitute ${VAR} references before parsing.
	content := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		name := match[2 : len(match)-1]
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(content), &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.HostKeyFingerprint, fc.HostKeyFingerprint)
	setString(&cfg.AuditLogPath, fc.AuditLogPath)
	if len(fc.SandboxRoots) > 0 {
		cfg.SandboxRoots = fc.SandboxRoots
	}
	if fc.MaxSessions > 0 {
		cfg.MaxSessions = fc.MaxSessions
	}
	setInt(&cfg.LoginLimit, fc.LoginLimit)
	setInt(&cfg.APILimit, fc.APILimit)
	setInt(&cfg.DestructiveLimit, fc.DestructiveLimit)
	setInt(&cfg.LockoutThreshold, fc.LockoutThreshold)

	durations := []struct {
		dst *time.Duration
		src string
	}{
		{&cfg.TokenTTL, fc.TokenTTL},
		{&cfg.SessionTTL, fc.SessionTTL},
		{&cfg.LoginWindow, fc.LoginWindow},
		{&cfg.APIWindow, fc.APIWindow},
		{&cfg.DestructiveWindow, fc.DestructiveWindow},
		{&cfg.LockoutDuration, fc.LockoutDuration},
		{&cfg.ConnectTimeout, fc.ConnectTimeout},
		{&cfg.CommandTimeout, fc.CommandTimeout},
		{&cfg.SweepInterval, fc.SweepInterval},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", d.src, err)
		}
		*d.dst = parsed
	}

	if fc.EncryptionKey != "" {
		key, err := decodeKey(fc.EncryptionKey)
		if err != nil {
			return err
		}
		cfg.EncryptionKey = key
	}
	if fc.TokenSecret != "" {
		cfg.TokenSecret = []byte(fc.TokenSecret)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ListenAddr, os.Getenv("SAMBADECK_LISTEN_ADDR"))
	setString(&cfg.HostKeyFingerprint, os.Getenv("SAMBADECK_HOST_KEY_FINGERPRINT"))
	setString(&cfg.AuditLogPath, os.Getenv("SAMBADECK_AUDIT_LOG"))

	if v := os.Getenv("SAMBADECK_SANDBOX_ROOTS"); v != "" {
		roots := strings.Split(v, ",")
		cfg.SandboxRoots = cfg.SandboxRoots[:0]
		for _, r := range roots {
			if r = strings.TrimSpace(r); r != "" {
				cfg.SandboxRoots = append(cfg.SandboxRoots, r)
			}
		}
	}

	if v := os.Getenv("SAMBADECK_ENCRYPTION_KEY"); v != "" {
		key, err := decodeKey(v)
		if err != nil {
			return err
		}
		cfg.EncryptionKey = key
	}
	if v := os.Getenv("SAMBADECK_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = []byte(v)
	}

	ints := []struct {
		dst *int
		env string
	}{
		{&cfg.MaxSessions, "SAMBADECK_MAX_SESSIONS"},
		{&cfg.LoginLimit, "SAMBADECK_LOGIN_LIMIT"},
		{&cfg.APILimit, "SAMBADECK_API_LIMIT"},
		{&cfg.DestructiveLimit, "SAMBADECK_DESTRUCTIVE_LIMIT"},
		{&cfg.LockoutThreshold, "SAMBADECK_LOCKOUT_THRESHOLD"},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", i.env, err)
		}
		*i.dst = parsed
	}

	durations := []struct {
		dst *time.Duration
		env string
	}{
		{&cfg.TokenTTL, "SAMBADECK_TOKEN_TTL"},
		{&cfg.SessionTTL, "SAMBADECK_SESSION_TTL"},
		{&cfg.LoginWindow, "SAMBADECK_LOGIN_WINDOW"},
		{&cfg.APIWindow, "SAMBADECK_API_WINDOW"},
		{&cfg.DestructiveWindow, "SAMBADECK_DESTRUCTIVE_WINDOW"},
		{&cfg.LockoutDuration, "SAMBADECK_LOCKOUT_DURATION"},
		{&cfg.ConnectTimeout, "SAMBADECK_CONNECT_TIMEOUT"},
		{&cfg.CommandTimeout, "SAMBADECK_COMMAND_TIMEOUT"},
		{&cfg.SweepInterval, "SAMBADECK_SWEEP_INTERVAL"},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

func validate(cfg *Config) error {
	if len(cfg.TokenSecret) == 0 {
		return errors.New("SAMBADECK_TOKEN_SECRET is required")
	}
	if len(cfg.TokenSecret) < 32 {
		return errors.New("SAMBADECK_TOKEN_SECRET must be at least 32 bytes")
	}
	if len(cfg.SandboxRoots) == 0 {
		return errors.New("SAMBADECK_SANDBOX_ROOTS is required")
	}
	if cfg.EncryptionKey != nil && len(cfg.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(cfg.EncryptionKey))
	}
	return nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	return key, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
