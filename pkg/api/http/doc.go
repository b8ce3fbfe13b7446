// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run submission and cancellation
//   - Run and task execution queries
//   - Health checks
//   - Prometheus metrics
package http
