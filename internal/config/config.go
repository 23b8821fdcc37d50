package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/request"
)

// Config represents the complete mapperctl configuration
type Config struct {
	// Client configuration for talking to the backend API
	Client ClientConfig `yaml:"client" json:"client"`

	// Scanner invocation settings
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Status polling configuration
	Poller PollerConfig `yaml:"poller" json:"poller"`

	// Backend server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Recurring scan schedule
	Schedule []ScheduleEntry `yaml:"schedule" json:"schedule" validate:"dive"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ClientConfig holds API client settings
type ClientConfig struct {
	// Base URL of the backend, e.g. http://127.0.0.1:8080
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	// API key sent as X-API-Key (optional)
	APIKey string `yaml:"api_key" json:"api_key"`

	// Per-request timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// User agent reported to the backend
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// ScannerConfig holds settings for building mapper commands
type ScannerConfig struct {
	// Program prefix of every command, e.g. "python3 network_mapper.py"
	Program string `yaml:"program" json:"program" validate:"required"`
}

// PollerConfig holds status polling settings
type PollerConfig struct {
	// Time between status queries
	Interval time.Duration `yaml:"interval" json:"interval" validate:"gt=0"`

	// Delay between completion and the result refresh
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay" validate:"gte=0"`

	// Simulated progress added per in-progress tick, in percent
	ProgressIncrement int `yaml:"progress_increment" json:"progress_increment" validate:"gt=0,lte=100"`

	// Highest simulated progress shown before completion, in percent
	ProgressCap int `yaml:"progress_cap" json:"progress_cap" validate:"gt=0,lt=100"`

	// Retry configuration for failed status queries
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// RetryConfig holds retry settings for failed status queries
type RetryConfig struct {
	// Maximum number of retries before the scan is marked failed
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0"`

	// Delay before the first retry
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" validate:"gte=0"`

	// Exponential backoff multiplier
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" validate:"gte=1"`
}

// ServerConfig holds backend server settings
type ServerConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"gt=0,lte=65535"`

	// Directory holding network_scan_* result directories
	OutputDir string `yaml:"output_dir" json:"output_dir" validate:"required"`

	// Working directory the mapper is started in
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// bcrypt hashes of accepted API keys; empty disables authentication
	APIKeyHashes []string `yaml:"api_key_hashes" json:"api_key_hashes"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Request timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"gt=0"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	// Enable CORS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// ScheduleEntry is one recurring scan
type ScheduleEntry struct {
	// Human readable name used in logs
	Name string `yaml:"name" json:"name" validate:"required"`

	// Standard five-field cron expression
	Cron string `yaml:"cron" json:"cron" validate:"required"`

	// Scan to submit on every firing
	Scan request.ScanConfig `yaml:"scan" json:"scan" validate:"-"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:   "http://127.0.0.1:8080",
			Timeout:   30 * time.Second,
			UserAgent: "mapperctl/1.0",
		},
		Scanner: ScannerConfig{
			Program: request.DefaultProgram,
		},
		Poller: PollerConfig{
			Interval:          2 * time.Second,
			SettleDelay:       2 * time.Second,
			ProgressIncrement: 5,
			ProgressCap:       95,
			Retry: RetryConfig{
				MaxRetries:        3,
				RetryDelay:        1 * time.Second,
				BackoffMultiplier: 2.0,
			},
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1",
			Port:       8080,
			OutputDir:  ".",
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	if path == "" {
		return config, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "Failed to read config file", err)
	}

	// YAML is a superset of JSON, so one decoder covers both extensions
	if err := yaml.Unmarshal(data, config); err != nil {
		switch filepath.Ext(path) {
		case ".json":
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "Failed to parse JSON config", err)
		default:
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "Failed to parse YAML config", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. Failures are *errors.ConfigError
// values: CONFIGURATION for a missing field, VALIDATION for a bad value.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return errors.ErrConfigMissing(fe.Namespace())
			}
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("Value %v failed %q validation", fe.Value(), fe.Tag()), fe.Namespace(), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "Configuration validation failed", err)
	}

	u, err := url.Parse(c.Client.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.ErrConfigInvalid("client.base_url", c.Client.BaseURL)
	}

	if c.Poller.ProgressIncrement > c.Poller.ProgressCap {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("Progress increment exceeds progress cap %d", c.Poller.ProgressCap),
			"poller.progress_increment", c.Poller.ProgressIncrement)
	}

	builder := request.NewBuilder(c.Scanner.Program)
	for i := range c.Schedule {
		if err := builder.Validate(c.Schedule[i].Scan); err != nil {
			cfgErr := errors.WrapConfigError(errors.CodeValidation,
				fmt.Sprintf("Schedule entry %q has an invalid scan", c.Schedule[i].Name), err)
			cfgErr.Field = fmt.Sprintf("schedule[%d].scan", i)
			return cfgErr
		}
	}

	return nil
}

// AuthEnabled returns true if the backend requires an API key
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeyHashes) > 0
}
