// Package cmd implements the command-line interface for respKV. It provides
// a hierarchical command structure for interacting with a RESP key-value
// server or cluster from the shell.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value store operations (get, set, delete, etc.)
//   - lock: Commands for simple lease-based locking built on conditional set
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See respkv -help for a list of all commands.
package cmd
