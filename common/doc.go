// Package common holds the shared surface of the respKV client: the Server
// identity type, the client configuration, the command request structure and
// the error taxonomy used across the engine packages.
//
// The package focuses on:
//   - Immutable value types passed between the facade and the engine
//   - A typed error taxonomy (protocol, connection, routing, cluster state,
//     timeout, retries) with errors.Is/errors.As support
//   - Logger setup for all respKV packages
//
// Key Components:
//
//   - Server: host/port identity of one store node, compared by address
//   - ClientConfig: the immutable configuration snapshot taken at client
//     build time
//   - CommandRequest: a wire-encodable command plus routing hint and retry
//     policy, owned by the multiplexer until resolved
//   - Error / ErrorKind: the typed error taxonomy
//
// Thread Safety:
//
//	All types in this package are either immutable after construction or
//	plain value types; they can be shared between goroutines without
//	additional synchronization.
package common
