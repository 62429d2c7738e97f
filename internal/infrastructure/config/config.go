package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Process   ProcessConfig
	Runtime   RuntimeConfig
	Boot      BootConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// ProcessConfig holds process table and manager settings.
type ProcessConfig struct {
	MaxPID         int    `envconfig:"MAX_PID" default:"128"`
	PipeSize       int    `envconfig:"PIPE_SIZE" default:"1024"`
	SignalSize     int    `envconfig:"SIGNAL_SIZE" default:"32768"`
	RequireTTY     bool   `envconfig:"REQUIRE_TTY" default:"false"`
	ProgramRoot    string `envconfig:"PROGRAM_ROOT" default:"./programs"`
	DefaultProgram string `envconfig:"DEFAULT_PROGRAM" default:"/sys/shell.js"`
}

// RuntimeConfig holds JavaScript runtime settings.
type RuntimeConfig struct {
	StackSize     int  `envconfig:"RUNTIME_STACK_SIZE" default:"1024"`
	EnableConsole bool `envconfig:"RUNTIME_CONSOLE" default:"true"`
}

// BootConfig names the manifest launched at startup. Empty means none.
type BootConfig struct {
	Manifest string `envconfig:"BOOT_MANIFEST" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects limits the process table cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Process.MaxPID < 2:
		return fmt.Errorf("invalid config: MAX_PID must be at least 2, got %d", c.Process.MaxPID)
	case c.Process.PipeSize < 1:
		return fmt.Errorf("invalid config: PIPE_SIZE must be positive, got %d", c.Process.PipeSize)
	case c.Process.SignalSize < 16:
		return fmt.Errorf("invalid config: SIGNAL_SIZE must be at least 16, got %d", c.Process.SignalSize)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",

			CORSOrigins: []string{"*"},
		},
		Process: ProcessConfig{
			MaxPID:         128,
			PipeSize:       1024,
			SignalSize:     32768,
			ProgramRoot:    "./programs",
			DefaultProgram: "/sys/shell.js",
		},
		Runtime: RuntimeConfig{
			StackSize:     1024,
			EnableConsole: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
