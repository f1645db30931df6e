// Package diff implements the snapshot tree and the diff merge protocol.
//
// A snapshot is a tree of Nodes addressed by key paths ("quotes",
// "SHFE.cu2401", "last_price"). Servers send partial updates (diffs) that
// are applied with Merge against a Prototype describing default values and
// wildcard key resolution:
//
//	exact key  > "*" (shared template, no defaults)
//	           > "@" (clone the template defaults)
//	           > "#" (clone the template defaults, subtree is persistent)
//
// Inside a persistent subtree a null never deletes; the field (or node) is
// reset to its template default instead. Listeners registered on a node are
// called synchronously once per merge that changed the node.
package diff
