// Package main is the entry point for the script bridge HTTP host.
//
// The host opens script pages on request and drives them through the
// bridge: script and bytecode evaluation, markup parsing, module events and
// a websocket stream of each page's exceptions.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML or TOML file via -config
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev -config bridge.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, pages drain before exit
package main
