// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/runs/:id/ws to receive the lifecycle
// events of a run. The connection is closed once the run is resolved.
package websocket
