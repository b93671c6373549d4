// ABOUTME: Configuration loading and parsing for coven-approve
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-approve/internal/decision"
)

// Config represents the complete coven-approve configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Approvals ApprovalsConfig `yaml:"approvals"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener address the hook clients call.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	RoomID       string   `yaml:"room_id"`
	AllowedUsers []string `yaml:"allowed_users"`
}

// ApprovalsConfig holds approval timing and auto-allow configuration.
type ApprovalsConfig struct {
	DefaultTimeout time.Duration `yaml:"-"`
	MaxTimeout     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DefaultTimeoutRaw string `yaml:"default_timeout"`
	MaxTimeoutRaw     string `yaml:"max_timeout"`

	// AutoAllow lists category names that resolve to allow without a
	// notification. Parsed into AutoAllowCategories during validation.
	AutoAllow           []string            `yaml:"auto_allow"`
	AutoAllowCategories []decision.Category `yaml:"-"`
}

// SessionsConfig holds session display configuration.
type SessionsConfig struct {
	// PaletteSize limits how many of the built-in colors are used.
	// Zero means the full palette.
	PaletteSize int `yaml:"palette_size"`
}

// DatabaseConfig holds the optional audit database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid, applying defaults where the field is optional. Returns an error
// describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:19280"
	}

	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Matrix.RoomID == "" {
		return fmt.Errorf("matrix.room_id is required")
	}

	if c.Approvals.DefaultTimeout == 0 {
		c.Approvals.DefaultTimeout = 5 * time.Minute
	}
	if c.Approvals.MaxTimeout == 0 {
		c.Approvals.MaxTimeout = 10 * time.Minute
	}
	if c.Approvals.MaxTimeout < c.Approvals.DefaultTimeout {
		return fmt.Errorf("approvals.max_timeout must be >= default_timeout")
	}

	c.Approvals.AutoAllowCategories = c.Approvals.AutoAllowCategories[:0]
	for _, name := range c.Approvals.AutoAllow {
		cat, err := decision.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("approvals.auto_allow: %w", err)
		}
		if cat == decision.CategoryQuestion {
			return fmt.Errorf("approvals.auto_allow: questions cannot be auto-allowed")
		}
		c.Approvals.AutoAllowCategories = append(c.Approvals.AutoAllowCategories, cat)
	}

	if c.Sessions.PaletteSize < 0 {
		return fmt.Errorf("sessions.palette_size must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Approvals.DefaultTimeoutRaw != "" {
		cfg.Approvals.DefaultTimeout, err = time.ParseDuration(cfg.Approvals.DefaultTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing default_timeout %q: %w", cfg.Approvals.DefaultTimeoutRaw, err)
		}
	}

	if cfg.Approvals.MaxTimeoutRaw != "" {
		cfg.Approvals.MaxTimeout, err = time.ParseDuration(cfg.Approvals.MaxTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing max_timeout %q: %w", cfg.Approvals.MaxTimeoutRaw, err)
		}
	}

	return nil
}
