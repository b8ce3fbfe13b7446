// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, fan-out readers or consumer groups
//   - memory: In-memory for testing and single-process deployments
package events
