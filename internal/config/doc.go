// Package config provides 12-factor configuration management for the bridge
// host and CLI.
//
// Configuration starts from Default, optionally merges a YAML or TOML file
// (LoadFile), and is then overridden by environment variables.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Engine: Call stack limit, console, program cache, task queue
//   - Markup: Size limit, sanitizing, inline script execution
//   - Loader: Remote fetch timeout and retries, accepted bundle extensions
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	b := bridge.New(bridge.WithConfig(cfg.Bridge(logger)))
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - ENGINE_MAX_CALL_STACK, ENGINE_CONSOLE, ENGINE_PROGRAM_CACHE, ENGINE_TASK_QUEUE
//   - MARKUP_MAX_SIZE, MARKUP_SANITIZE, MARKUP_EXECUTE_SCRIPTS
//   - LOADER_TIMEOUT, LOADER_RETRY_MAX, LOADER_EXTENSIONS
package config
