// Package config loads the YAML configuration shared by the client and the local backend.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Sondeo/internal/utils"
)

const (
	// DevJWTSecret signs local tokens when no secret is configured.
	DevJWTSecret = "sondeo-dev-secret"
	// DevAnonKey is the apikey of a local backend without a configured key.
	DevAnonKey = "sondeo-local-anon-key"
)

// Duration is a time.Duration written as "1.5s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Server  ServerConfig  `yaml:"server"`
	App     AppConfig     `yaml:"app"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig points the client at a hosted or local backend.
type BackendConfig struct {
	URL         string   `yaml:"url"`
	AnonKey     string   `yaml:"anon_key"`
	Timeout     Duration `yaml:"timeout"`
	SessionFile string   `yaml:"session_file"`
}

// ServerConfig configures the local backend.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	DBPath          string   `yaml:"db_path"`
	MigrationsDir   string   `yaml:"migrations_dir"`
	JWTSecret       string   `yaml:"jwt_secret"`
	SessionTTL      Duration `yaml:"session_ttl"`
	ProvisionDelay  Duration `yaml:"provision_delay"`
	OpenAdminSignup bool     `yaml:"open_admin_signup"`
	PurgeInterval   Duration `yaml:"purge_interval"`
}

type AppConfig struct {
	Locale            string      `yaml:"locale"`
	ResetRedirect     string      `yaml:"reset_redirect"`
	MinPasswordLength int         `yaml:"min_password_length"`
	ProfileRetry      RetryConfig `yaml:"profile_retry"`
}

// RetryConfig bounds the wait for a profile created by the backend after sign-up.
type RetryConfig struct {
	Attempts     int      `yaml:"attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	// Multiplier grows the delay between polls.
	Multiplier float64 `yaml:"multiplier"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// File receives the terminal client's log; the server logs to stderr.
	File string `yaml:"file"`
}

// DefaultDir is the per-user directory for config, session and local data.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sondeo")
	}
	return ".sondeo"
}

func DefaultPath() string { return filepath.Join(DefaultDir(), "config.yaml") }

func DefaultConfig() *Config {
	dir := DefaultDir()
	return &Config{
		Backend: BackendConfig{
			URL:         "http://127.0.0.1:8787",
			AnonKey:     DevAnonKey,
			Timeout:     Duration(15 * time.Second),
			SessionFile: filepath.Join(dir, "session.json"),
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			DBPath:          filepath.Join(dir, "sondeo.db"),
			JWTSecret:       DevJWTSecret,
			SessionTTL:      Duration(time.Hour),
			ProvisionDelay:  Duration(time.Second),
			OpenAdminSignup: true,
			PurgeInterval:   Duration(10 * time.Minute),
		},
		App: AppConfig{
			// empty picks the locale from LANG
			Locale:            "",
			MinPasswordLength: 6,
			ProfileRetry: RetryConfig{
				Attempts:     4,
				InitialDelay: Duration(500 * time.Millisecond),
				MaxDelay:     Duration(4 * time.Second),
				Multiplier:   2,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dir, "sondeo.log"),
		},
	}
}

// Load reads path over the defaults and applies SONDEO_* environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if cfg.App.Locale == "" {
		cfg.App.Locale = utils.ResolveLocale("", os.Getenv("LANG"))
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// holds the anon key and jwt secret
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Backend.URL = utils.SafeEnv("SONDEO_URL", c.Backend.URL)
	c.Backend.AnonKey = utils.SafeEnv("SONDEO_ANON_KEY", c.Backend.AnonKey)
	c.Backend.SessionFile = utils.SafeEnv("SONDEO_SESSION_FILE", c.Backend.SessionFile)
	c.Backend.Timeout = Duration(utils.EnvDuration("SONDEO_TIMEOUT", c.Backend.Timeout.D()))

	c.Server.Addr = utils.SafeEnv("SONDEO_ADDR", c.Server.Addr)
	c.Server.DBPath = utils.SafeEnv("SONDEO_DB_PATH", c.Server.DBPath)
	c.Server.MigrationsDir = utils.SafeEnv("SONDEO_MIGRATIONS_DIR", c.Server.MigrationsDir)
	c.Server.JWTSecret = utils.SafeEnv("SONDEO_JWT_SECRET", c.Server.JWTSecret)
	c.Server.SessionTTL = Duration(utils.EnvDuration("SONDEO_SESSION_TTL", c.Server.SessionTTL.D()))
	c.Server.ProvisionDelay = Duration(utils.EnvDuration("SONDEO_PROVISION_DELAY", c.Server.ProvisionDelay.D()))
	switch strings.ToLower(os.Getenv("SONDEO_OPEN_ADMIN_SIGNUP")) {
	case "1", "true", "yes":
		c.Server.OpenAdminSignup = true
	case "0", "false", "no":
		c.Server.OpenAdminSignup = false
	}

	c.App.Locale = utils.SafeEnv("SONDEO_LOCALE", c.App.Locale)
	c.App.ResetRedirect = utils.SafeEnv("SONDEO_RESET_REDIRECT", c.App.ResetRedirect)
	c.App.MinPasswordLength = utils.EnvInt("SONDEO_MIN_PASSWORD_LENGTH", c.App.MinPasswordLength)

	c.Logging.Level = utils.SafeEnv("SONDEO_LOG_LEVEL", c.Logging.Level)
	c.Logging.File = utils.SafeEnv("SONDEO_LOG_FILE", c.Logging.File)
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the settings the terminal client needs.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend url %q (set backend.url or SONDEO_URL)", c.Backend.URL)
	}
	if strings.TrimSpace(c.Backend.AnonKey) == "" {
		return fmt.Errorf("backend anon key not configured (set backend.anon_key or SONDEO_ANON_KEY)")
	}
	if !slices.Contains(utils.SupportedLocales, c.App.Locale) {
		return fmt.Errorf("unsupported locale: %s (valid: %v)", c.App.Locale, utils.SupportedLocales)
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, validLevels)
	}
	if c.App.MinPasswordLength < 1 {
		return fmt.Errorf("min_password_length must be positive")
	}
	if c.App.ProfileRetry.Attempts < 0 {
		return fmt.Errorf("profile_retry.attempts must not be negative")
	}
	if c.App.ProfileRetry.Multiplier < 1 {
		return fmt.Errorf("profile_retry.multiplier must be at least 1")
	}
	return nil
}

// ValidateServer checks the settings the local backend needs.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server addr not configured")
	}
	if strings.TrimSpace(c.Server.DBPath) == "" {
		return fmt.Errorf("server db_path not configured")
	}
	if len(c.Server.JWTSecret) < 16 {
		return fmt.Errorf("server jwt_secret must be at least 16 characters")
	}
	if strings.TrimSpace(c.Backend.AnonKey) == "" {
		return fmt.Errorf("backend anon key not configured")
	}
	if c.Server.SessionTTL.D() <= 0 {
		return fmt.Errorf("server session_ttl must be positive")
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, validLevels)
	}
	return nil
}
