// Package channel provides the update channel used between pipeline stages
// and as fan-out listener for snapshot nodes.
//
// A Chan is unbounded and never blocks the sender. Ordered channels carry
// request and event streams that must not drop items; LatestOnly channels
// carry "something changed, check again" wakeups where only the newest
// payload matters.
package channel
