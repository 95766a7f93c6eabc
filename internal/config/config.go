package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Agent    AgentConfig    `yaml:"agent"`
	Tools    ToolsConfig    `yaml:"tools"`
	Memory   MemoryConfig   `yaml:"memory"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RedisConfig configures the ephemeral memory backend. When Addr is empty the
// in-process memory driver is used instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures JWT verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`

	// DevMode relaxes the authentication requirement for local development.
	// Tenant scoping rules still apply to authenticated callers.
	DevMode bool `yaml:"dev_mode"`
}

// AgentConfig configures the orchestration loop and default model selection.
type AgentConfig struct {
	DefaultProvider    string        `yaml:"default_provider"`
	DefaultModel       string        `yaml:"default_model"`
	DefaultTemperature float64       `yaml:"default_temperature"`
	MaxIterations      int           `yaml:"max_iterations"`
	MaxTokens          int           `yaml:"max_tokens"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	RunDeadline        time.Duration `yaml:"run_deadline"`
	QueueSize          int           `yaml:"queue_size"`
	Workers            int           `yaml:"workers"`
}

// ToolsConfig configures tool execution limits.
type ToolsConfig struct {
	MaxResultChars  int `yaml:"max_result_chars"`
	SnapshotDefault int `yaml:"snapshot_default"`
	SnapshotMax     int `yaml:"snapshot_max"`
}

// MemoryConfig configures ephemeral conversation memory retrieval.
type MemoryConfig struct {
	TopK int           `yaml:"top_k"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns a configuration with production defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Auth: AuthConfig{
			JWTExpiry: 24 * time.Hour,
		},
		Agent: AgentConfig{
			DefaultProvider:    "openai",
			DefaultModel:       "gpt-4o",
			DefaultTemperature: 0.7,
			MaxIterations:      3,
			MaxTokens:          4096,
			CallTimeout:        60 * time.Second,
			RunDeadline:        5 * time.Minute,
			QueueSize:          256,
			Workers:            8,
		},
		Tools: ToolsConfig{
			MaxResultChars:  400,
			SnapshotDefault: 5,
			SnapshotMax:     25,
		},
		Memory: MemoryConfig{
			TopK: 5,
			TTL:  72 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file, expands ${ENV} references, merges it over
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants and clamps knobs into supported ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 3
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.DefaultTemperature < 0 {
		c.Agent.DefaultTemperature = 0
	}
	if c.Agent.DefaultTemperature > 2 {
		c.Agent.DefaultTemperature = 2
	}
	if c.Agent.QueueSize <= 0 {
		c.Agent.QueueSize = 256
	}
	if c.Agent.Workers <= 0 {
		c.Agent.Workers = 8
	}
	if c.Tools.MaxResultChars <= 0 {
		c.Tools.MaxResultChars = 400
	}
	if c.Tools.SnapshotMax <= 0 {
		c.Tools.SnapshotMax = 25
	}
	if c.Tools.SnapshotDefault <= 0 || c.Tools.SnapshotDefault > c.Tools.SnapshotMax {
		c.Tools.SnapshotDefault = 5
	}
	if c.Memory.TopK <= 0 {
		c.Memory.TopK = 5
	}
	if !c.Auth.DevMode && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required outside dev mode")
	}
	return nil
}
