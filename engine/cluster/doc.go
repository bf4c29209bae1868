// Package cluster implements the topology side of cluster mode: CRC16 hash
// slots, the slot-to-server map and its discovery.
//
// Key Components:
//
//   - KeySlot: hash slot computation with hash-tag support
//   - SlotMap: an immutable snapshot of the full 16384-slot partition,
//     published by atomic pointer swap so the routing hot path never locks
//   - Topology: the manager that (re)discovers the partition via the
//     CLUSTER SLOTS command and coalesces concurrent refreshes into one
//     discovery query
//   - ParseRedirect: MOVED/ASK reply parsing
//
// Thread Safety:
//
//	SlotMap snapshots are immutable. Topology is safe for concurrent use;
//	only one refresh is in flight at a time, late callers wait for its
//	result.
package cluster
