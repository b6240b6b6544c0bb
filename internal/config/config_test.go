package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Engine config
	assert.Equal(t, 1024, cfg.Engine.MaxCallStackSize)
	assert.True(t, cfg.Engine.EnableConsole)
	assert.Equal(t, 256, cfg.Engine.ProgramCacheSize)

	// Markup config
	assert.Equal(t, 10*1024*1024, cfg.Markup.MaxHTMLSize)
	assert.True(t, cfg.Markup.ExecuteScripts)

	// Loader config
	assert.Equal(t, 30*time.Second, cfg.Loader.Timeout())
	assert.Contains(t, cfg.Loader.AllowedExtensions, ".js")
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	// Setup environment variables
	envVars := map[string]string{
		"PORT":               "9000",
		"HOST":               "127.0.0.1",
		"LOG_LEVEL":          "debug",
		"LOG_DEV":            "true",
		"RATE_LIMIT_RPS":     "500",
		"RATE_LIMIT_BURST":   "1000",
		"RATE_LIMIT_ENABLED": "false",
		"ENGINE_CONSOLE":     "false",
		"ENGINE_TASK_QUEUE":  "16",
		"MARKUP_SANITIZE":    "true",
		"LOADER_EXTENSIONS":  ".js,.gjbc",
	}

	// Set environment variables
	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	// Verify server config
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// Verify logging config
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	// Verify rate limit config
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)

	// Verify engine, markup and loader config
	assert.False(t, cfg.Engine.EnableConsole)
	assert.Equal(t, 16, cfg.Engine.TaskQueueSize)
	assert.True(t, cfg.Markup.Sanitize)
	assert.Equal(t, []string{".js", ".gjbc"}, cfg.Loader.AllowedExtensions)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	// Only set some environment variables
	err := os.Setenv("PORT", "3000")
	require.NoError(t, err)
	defer os.Unsetenv("PORT")

	err = os.Setenv("LOG_LEVEL", "warn")
	require.NoError(t, err)
	defer os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)

	// Verify overridden values
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Verify default values still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.Engine.EnableConsole)
}

func TestServerConfig(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		host     string
		wantPort string
		wantHost string
	}{
		{
			name:     "default values",
			port:     "",
			host:     "",
			wantPort: "8000",
			wantHost: "0.0.0.0",
		},
		{
			name:     "custom port",
			port:     "9000",
			host:     "",
			wantPort: "9000",
			wantHost: "0.0.0.0",
		},
		{
			name:     "custom host",
			port:     "",
			host:     "localhost",
			wantPort: "8000",
			wantHost: "localhost",
		},
		{
			name:     "custom port and host",
			port:     "3000",
			host:     "127.0.0.1",
			wantPort: "3000",
			wantHost: "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clean environment
			os.Unsetenv("PORT")
			os.Unsetenv("HOST")

			// Set test values
			if tt.port != "" {
				err := os.Setenv("PORT", tt.port)
				require.NoError(t, err)
				defer os.Unsetenv("PORT")
			}
			if tt.host != "" {
				err := os.Setenv("HOST", tt.host)
				require.NoError(t, err)
				defer os.Unsetenv("HOST")
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantPort, cfg.Server.Port)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		dev       string
		wantLevel string
		wantDev   bool
	}{
		{
			name:      "default values",
			level:     "",
			dev:       "",
			wantLevel: "info",
			wantDev:   false,
		},
		{
			name:      "debug level",
			level:     "debug",
			dev:       "",
			wantLevel: "debug",
			wantDev:   false,
		},
		{
			name:      "development mode",
			level:     "",
			dev:       "true",
			wantLevel: "info",
			wantDev:   true,
		},
		{
			name:      "error level production",
			level:     "error",
			dev:       "false",
			wantLevel: "error",
			wantDev:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clean environment
			os.Unsetenv("LOG_LEVEL")
			os.Unsetenv("LOG_DEV")

			// Set test values
			if tt.level != "" {
				err := os.Setenv("LOG_LEVEL", tt.level)
				require.NoError(t, err)
				defer os.Unsetenv("LOG_LEVEL")
			}
			if tt.dev != "" {
				err := os.Setenv("LOG_DEV", tt.dev)
				require.NoError(t, err)
				defer os.Unsetenv("LOG_DEV")
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantLevel, cfg.Logging.Level)
			assert.Equal(t, tt.wantDev, cfg.Logging.Development)
		})
	}
}

func TestRateLimitConfig(t *testing.T) {
	tests := []struct {
		name        string
		rps         string
		burst       string
		enabled     string
		wantRPS     int
		wantBurst   int
		wantEnabled bool
	}{
		{
			name:        "default values",
			rps:         "",
			burst:       "",
			enabled:     "",
			wantRPS:     100,
			wantBurst:   200,
			wantEnabled: true,
		},
		{
			name:        "high limits",
			rps:         "1000",
			burst:       "2000",
			enabled:     "",
			wantRPS:     1000,
			wantBurst:   2000,
			wantEnabled: true,
		},
		{
			name:        "disabled",
			rps:         "",
			burst:       "",
			enabled:     "false",
			wantRPS:     100,
			wantBurst:   200,
			wantEnabled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clean environment
			os.Unsetenv("RATE_LIMIT_RPS")
			os.Unsetenv("RATE_LIMIT_BURST")
			os.Unsetenv("RATE_LIMIT_ENABLED")

			// Set test values
			if tt.rps != "" {
				err := os.Setenv("RATE_LIMIT_RPS", tt.rps)
				require.NoError(t, err)
				defer os.Unsetenv("RATE_LIMIT_RPS")
			}
			if tt.burst != "" {
				err := os.Setenv("RATE_LIMIT_BURST", tt.burst)
				require.NoError(t, err)
				defer os.Unsetenv("RATE_LIMIT_BURST")
			}
			if tt.enabled != "" {
				err := os.Setenv("RATE_LIMIT_ENABLED", tt.enabled)
				require.NoError(t, err)
				defer os.Unsetenv("RATE_LIMIT_ENABLED")
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantRPS, cfg.RateLimit.RequestsPerSecond)
			assert.Equal(t, tt.wantBurst, cfg.RateLimit.Burst)
			assert.Equal(t, tt.wantEnabled, cfg.RateLimit.Enabled)
		})
	}
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "bridge.yaml",
			content: `server:
  port: "9100"
engine:
  max_call_stack_size: 64
  enable_console: false
markup:
  sanitize: true
loader:
  allowed_extensions: [".js"]
`,
		},
		{
			name: "toml",
			file: "bridge.toml",
			content: `[server]
port = "9100"

[engine]
max_call_stack_size = 64
enable_console = false

[markup]
sanitize = true

[loader]
allowed_extensions = [".js"]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg, err := LoadFile(path)
			require.NoError(t, err)

			assert.Equal(t, "9100", cfg.Server.Port)
			assert.Equal(t, 64, cfg.Engine.MaxCallStackSize)
			assert.False(t, cfg.Engine.EnableConsole)
			assert.True(t, cfg.Markup.Sanitize)
			assert.Equal(t, []string{".js"}, cfg.Loader.AllowedExtensions)

			// Keys absent from the file keep their defaults
			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 256, cfg.Engine.ProgramCacheSize)
			assert.True(t, cfg.Markup.ExecuteScripts)
		})
	}
}

func TestLoadFileEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9100\"\n"), 0o644))
	t.Setenv("PORT", "9200")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9200", cfg.Server.Port)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	unsupported := filepath.Join(dir, "bridge.ini")
	require.NoError(t, os.WriteFile(unsupported, []byte("port=1"), 0o644))
	unknownKey := filepath.Join(dir, "bridge.toml")
	require.NoError(t, os.WriteFile(unknownKey, []byte("[server]\nbogus = 1\n"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "absent.yaml")},
		{"unsupported format", unsupported},
		{"unknown toml key", unknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestBridgeConfig(t *testing.T) {
	cfg := Default()
	cfg.Engine.TaskQueueSize = 8
	cfg.Markup.Sanitize = true

	bc := cfg.Bridge(nil)

	assert.Equal(t, 8, bc.Page.QueueSize)
	assert.True(t, bc.Page.Document.Sanitize)
	assert.Equal(t, 1024, bc.Page.Engine.MaxCallStackSize)
	assert.Equal(t, 256, bc.ProgramCacheSize)
}

func TestLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.Development = true
	cfg.Logging.Level = "warn"

	lc := cfg.Logger()

	assert.True(t, lc.Development)
	assert.Equal(t, "warn", lc.Level)
}

func TestBundlesConfig(t *testing.T) {
	cfg := Default()
	cfg.Loader.TimeoutSeconds = 5
	cfg.Loader.AllowedExtensions = []string{".js"}

	lc := cfg.Bundles()

	assert.Equal(t, 5*time.Second, lc.Timeout)
	assert.Equal(t, 3, lc.RetryMax)
	assert.Equal(t, []string{".js"}, lc.AllowedExtensions)
	assert.NotEmpty(t, lc.UserAgent)
}
