// Package storage provides implementations of the orchestrator's storage ports.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL on runs and execution records
//   - sqlite: SQLite tables, for single-node deployments
//   - memory: In-memory for testing
package storage
