// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/search to start an analysis.
//   - GET /v1/sessions/{session_id}/status and /analysis for polling and results.
//   - DELETE /v1/sessions/{session_id} to clean up, POST .../export to archive.
//   - GET / for the embedded dashboard.
package api
