// Package rabbitmq provides the broker side of the CEL bridge.
//
// This package includes:
//   - ConnectionManager: manages one broker connection with automatic reconnection
//   - Registry: resolves named connection profiles to shared managers
//   - EventPublisher: fire-and-forget persistent publishing over a single channel
//
// The event path never dials or retries; connection lifecycle belongs to the
// managers held by the registry.
package rabbitmq
