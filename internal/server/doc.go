// Package server exposes the bridge over HTTP for hosts that drive pages
// out of process.
//
// Endpoints:
//   - Health: /health
//   - Pages: GET/POST /pages, DELETE /pages/:id
//   - Evaluation: /pages/:id/scripts, /pages/:id/bytecode, /pages/:id/html,
//     /pages/:id/bundles, /pages/:id/modules/:name/events
//   - Document: /pages/:id/document, /pages/:id/changes
//   - Exceptions: /pages/:id/exceptions (websocket)
//   - Metrics: /metrics (Prometheus), /metrics/json
//
// Asynchronous bridge operations are awaited inside the handler, so every
// response carries the outcome the completion callback reported.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv := server.New(cfg, logger)
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
