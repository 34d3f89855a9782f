package rewardd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// AuthConfig controls bearer token verification. Tokens are HMAC signed JWTs
// whose subject is the caller's hex address.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds mutating requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AuditConfig selects the database holding the operation audit log.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig routes service logs.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config represents the rewardd configuration file.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	LedgerConfig  string          `yaml:"ledger_config"`
	Persist       bool            `yaml:"persist"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Audit         AuditConfig     `yaml:"audit"`
	Log           LogConfig       `yaml:"log"`
	EventBuffer   int             `yaml:"event_buffer"`
	WriteTimeout  Duration        `yaml:"write_timeout"`
}

// LoadConfig reads the YAML configuration from disk.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	file, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7750"
	}
	if strings.TrimSpace(cfg.LedgerConfig) == "" {
		cfg.LedgerConfig = "rewards.toml"
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	cfg.Audit.Driver = strings.ToLower(strings.TrimSpace(cfg.Audit.Driver))
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = "rewardd-audit.db"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.WriteTimeout.Duration <= 0 {
		cfg.WriteTimeout.Duration = 5 * time.Second
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return errors.New("auth.hmac_secret is required")
	}
	if len(strings.TrimSpace(cfg.Auth.HMACSecret)) < 32 {
		return errors.New("auth.hmac_secret must be at least 32 bytes")
	}
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit.driver %q not supported", cfg.Audit.Driver)
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return errors.New("audit.dsn is required")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	return nil
}
