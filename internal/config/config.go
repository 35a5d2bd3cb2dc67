// Package config loads server settings from environment variables.
//
// Struct tags drive github.com/caarlos0/env: `env` names the variable and
// `envDefault` supplies the value used when it is unset. Load parses, fills
// the sandbox fallbacks, then validates the result as a whole.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// SandboxJWTSecret signs tokens in sandbox deployments that set no
// JWT_SECRET. Tokens signed with it must never be trusted in production.
const SandboxJWTSecret = "test-only-jwt-secret-please-change-32bytes-min"

// MinSecretBytes is the shortest JWT_SECRET accepted outside sandbox.
const MinSecretBytes = 32

// Config holds every runtime setting of the server.
type Config struct {
	Port     int    `env:"PORT"      envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret    string        `env:"JWT_SECRET"`
	JWTAccessTTL time.Duration `env:"JWT_ACCESS_TTL" envDefault:"2h"`
	JWTIssuer    string        `env:"JWT_ISSUER"     envDefault:"collar-auth"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	SMSCodeTTL      time.Duration `env:"SMS_CODE_TTL"      envDefault:"5m"`
	SMSSendInterval time.Duration `env:"SMS_SEND_INTERVAL" envDefault:"60s"`
	SMSMaxAttempts  int           `env:"SMS_MAX_ATTEMPTS"  envDefault:"5"`
	// SMSFixedCode replaces random codes when non-empty. Only the sandbox
	// ever sends codes, so this is what end-to-end tests type in.
	SMSFixedCode string `env:"SMS_FIXED_CODE" envDefault:"000000"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	StoreBackend  string        `env:"STORE_BACKEND"  envDefault:"memory"`

	// Sandbox enables the SMS channel stub and the set-password endpoint.
	// It is refused unless SandboxAllowed is also set.
	Sandbox        bool `env:"AUTH_SANDBOX"`
	SandboxAllowed bool `env:"AUTH_SANDBOX_ALLOWED"`
}

// Load reads the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads settings from the given map instead of the process
// environment. Variables missing from the map take their defaults.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if cfg.Sandbox && cfg.JWTSecret == "" {
		cfg.JWTSecret = SandboxJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT must be between 1 and 65535, got %d", c.Port))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Sandbox && !c.SandboxAllowed {
		errs = append(errs, errors.New("config: AUTH_SANDBOX requires AUTH_SANDBOX_ALLOWED=true"))
	}
	if !c.Sandbox && len(c.JWTSecret) < MinSecretBytes {
		errs = append(errs, fmt.Errorf("config: JWT_SECRET must be at least %d bytes outside sandbox", MinSecretBytes))
	}
	if c.JWTAccessTTL <= 0 {
		errs = append(errs, errors.New("config: JWT_ACCESS_TTL must be positive"))
	}
	if strings.TrimSpace(c.JWTIssuer) == "" {
		errs = append(errs, errors.New("config: JWT_ISSUER must be set"))
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("config: BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	if c.SMSCodeTTL <= 0 {
		errs = append(errs, errors.New("config: SMS_CODE_TTL must be positive"))
	}
	if c.SMSSendInterval <= 0 {
		errs = append(errs, errors.New("config: SMS_SEND_INTERVAL must be positive"))
	}
	if c.SMSMaxAttempts <= 0 {
		errs = append(errs, errors.New("config: SMS_MAX_ATTEMPTS must be positive"))
	}
	if c.SMSFixedCode != "" && !isDigits(c.SMSFixedCode) {
		errs = append(errs, errors.New("config: SMS_FIXED_CODE must contain only digits"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("config: SWEEP_INTERVAL must be positive"))
	}

	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("config: STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendSQLite, c.StoreBackend))
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return level, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
