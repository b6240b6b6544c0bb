package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/dom"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/loader"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/page"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	Markup    MarkupConfig    `yaml:"markup" toml:"markup"`
	Loader    LoaderConfig    `yaml:"loader" toml:"loader"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// EngineConfig holds script engine configuration.
type EngineConfig struct {
	MaxCallStackSize int  `envconfig:"ENGINE_MAX_CALL_STACK" yaml:"max_call_stack_size" toml:"max_call_stack_size"`
	EnableConsole    bool `envconfig:"ENGINE_CONSOLE" yaml:"enable_console" toml:"enable_console"`
	ProgramCacheSize int  `envconfig:"ENGINE_PROGRAM_CACHE" yaml:"program_cache_size" toml:"program_cache_size"`
	TaskQueueSize    int  `envconfig:"ENGINE_TASK_QUEUE" yaml:"task_queue_size" toml:"task_queue_size"`
}

// MarkupConfig holds markup parsing configuration.
type MarkupConfig struct {
	MaxHTMLSize    int  `envconfig:"MARKUP_MAX_SIZE" yaml:"max_html_size" toml:"max_html_size"`
	Sanitize       bool `envconfig:"MARKUP_SANITIZE" yaml:"sanitize" toml:"sanitize"`
	ExecuteScripts bool `envconfig:"MARKUP_EXECUTE_SCRIPTS" yaml:"execute_scripts" toml:"execute_scripts"`
}

// LoaderConfig holds bundle loading configuration.
type LoaderConfig struct {
	TimeoutSeconds    int      `envconfig:"LOADER_TIMEOUT" yaml:"timeout_seconds" toml:"timeout_seconds"`
	RetryMax          int      `envconfig:"LOADER_RETRY_MAX" yaml:"retry_max" toml:"retry_max"`
	AllowedExtensions []string `envconfig:"LOADER_EXTENSIONS" yaml:"allowed_extensions" toml:"allowed_extensions"`
}

// Timeout returns the remote fetch timeout
func (l LoaderConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Load loads configuration from environment variables on top of the
// defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML or TOML file and then applies environment
// overrides. Keys missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
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
		Engine: EngineConfig{
			MaxCallStackSize: 1024,
			EnableConsole:    true,
			ProgramCacheSize: 256,
			TaskQueueSize:    1024,
		},
		Markup: MarkupConfig{
			MaxHTMLSize:    10 * 1024 * 1024,
			Sanitize:       false,
			ExecuteScripts: true,
		},
		Loader: LoaderConfig{
			TimeoutSeconds:    30,
			RetryMax:          3,
			AllowedExtensions: []string{".js", ".mjs", ".cjs", ".html", ".htm", ".gjbc"},
		},
	}
}

// Bridge builds the bridge configuration these settings describe
func (c *Config) Bridge(logger *logging.Logger) bridge.Config {
	return bridge.Config{
		Page: page.Config{
			Engine: engine.Config{
				MaxCallStackSize: c.Engine.MaxCallStackSize,
				EnableConsole:    c.Engine.EnableConsole,
				Logger:           logger,
			},
			Document: dom.Config{
				MaxHTMLSize: c.Markup.MaxHTMLSize,
				Sanitize:    c.Markup.Sanitize,
			},
			ExecuteScripts: c.Markup.ExecuteScripts,
			QueueSize:      c.Engine.TaskQueueSize,
		},
		ProgramCacheSize: c.Engine.ProgramCacheSize,
	}
}

// Logger builds the logging configuration these settings describe
func (c *Config) Logger() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Development {
		cfg = logging.DevelopmentConfig()
	}
	cfg.Level = c.Logging.Level
	return cfg
}

// Bundles builds the bundle loader configuration these settings describe
func (c *Config) Bundles() loader.Config {
	cfg := loader.DefaultConfig()
	cfg.Timeout = c.Loader.Timeout()
	cfg.RetryMax = c.Loader.RetryMax
	cfg.AllowedExtensions = c.Loader.AllowedExtensions
	return cfg
}
