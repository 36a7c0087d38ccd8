// Package config loads ledgerd settings: built-in defaults, then an optional
// YAML file, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the complete ledgerd configuration.
type Config struct {
	DBPath     string `yaml:"db_path" validate:"required"`
	ListenAddr string `yaml:"listen_addr" validate:"required"`
	LogLevel   string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// UserID owns the ledger that scheduled syncs run for.
	UserID   string `yaml:"user_id"`
	DeviceID string `yaml:"device_id"`

	Auth   AuthConfig   `yaml:"auth"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Ledger LedgerConfig `yaml:"ledger"`
}

// AuthConfig controls tokens for the local API.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
}

// RemoteConfig points at the sync server. An empty URL disables sync.
type RemoteConfig struct {
	URL         string        `yaml:"url" validate:"omitempty,url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// Schedule is a cron expression; empty disables scheduled syncs.
	Schedule     string        `yaml:"schedule"`
	PullLimit    int           `yaml:"pull_limit" validate:"gt=0"`
	MaxPages     int           `yaml:"max_pages" validate:"gt=0"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"gt=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gt=0"`
}

// LedgerConfig tunes the read model.
type LedgerConfig struct {
	OverdueAfter time.Duration `yaml:"overdue_after" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:     "./data/ledger.db",
		ListenAddr: ":8080",
		LogLevel:   "info",
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Schedule:     "*/15 * * * *",
			PullLimit:    500,
			MaxPages:     20,
			MaxAttempts:  3,
			RetryBackoff: 500 * time.Millisecond,
		},
		Ledger: LedgerConfig{
			OverdueAfter: 30 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if cfg.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceID = host
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	return value, ok && value != ""
}

func applyEnv(cfg *Config) {
	if v, ok := getEnv("LEDGER_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := getEnv("LEDGER_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := getEnv("LEDGER_REMOTE_URL"); ok {
		cfg.Remote.URL = v
	}
	if v, ok := getEnv("LEDGER_ACCESS_TOKEN"); ok {
		cfg.Remote.AccessToken = v
	}
	if v, ok := getEnv("LEDGER_JWT_SECRET"); ok {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := getEnv("LEDGER_DEVICE_ID"); ok {
		cfg.DeviceID = v
	}
	if v, ok := getEnv("LEDGER_USER_ID"); ok {
		cfg.UserID = v
	}
	// "off" disables the schedule, since an empty variable is ignored.
	if v, ok := getEnv("LEDGER_SYNC_SCHEDULE"); ok {
		if strings.EqualFold(v, "off") {
			v = ""
		}
		cfg.Sync.Schedule = v
	}
	if v, ok := getEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
}

// Validate checks field constraints and the rules that span fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sync.schedule: %w", err))
		}
	}
	if c.SyncEnabled() && c.UserID == "" {
		errs = append(errs, errors.New("user_id is required when remote.url is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SyncEnabled reports whether a remote is configured.
func (c Config) SyncEnabled() bool {
	return c.Remote.URL != ""
}

// WriteDefault writes the default configuration as YAML, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
