// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection lifecycle (connects, disconnects, reconnect attempts)
//   - Resync waits after a reconnection
//   - Diff batches merged into the client tree
//   - Sim orders by terminal status and fills
//
// A nil *Collectors is valid and records nothing, so components take one
// optionally.
package metrics
