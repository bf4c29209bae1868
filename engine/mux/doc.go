// Package mux implements the central dispatch engine: it routes every
// command to the correct connection, enforces per-connection pipeline depth,
// correlates replies strictly FIFO per connection, follows MOVED/ASK
// redirections, and recovers from connection loss.
//
// Key Components:
//
//   - Multiplexer: the application-facing dispatch core. Do routes one
//     command by its routing policy (any node, key-derived cluster slot, or
//     explicit server), sends it, and awaits its completion handle.
//   - connSlot: one logical connection slot per server with its in-flight
//     queue (which outlives physical connections), a pipeline-depth
//     semaphore, and the reconnect state machine
//     Connected -> Disconnected -> Reconnecting -> Connected | Failed.
//   - Reconciliation: entries drained on a disconnect are either re-issued
//     (requests explicitly marked retryable) or failed with a connection
//     lost error; every entry resolves exactly once.
//
// Redirections and retries happen engine-side on the in-flight entry itself:
// the caller's completion handle stays pending across a MOVED/ASK re-route
// or a retryable re-submission and only ever observes the final outcome.
//
// Thread Safety:
//
//	The Multiplexer is safe for concurrent use. Callers may block on the
//	pipeline-depth semaphore (backpressure) or on their completion handle;
//	abandoning a waiter never desynchronizes the FIFO correlation.
package mux
