package common

// --------------------------------------------------------------------------
// Command Request
// --------------------------------------------------------------------------

// RoutingPolicy selects how the multiplexer picks the target connection for
// a command.
type RoutingPolicy uint8

const (
	// RouteAny targets an arbitrary healthy connection (administrative and
	// key-less commands).
	RouteAny RoutingPolicy = iota
	// RouteKey derives the hash slot from Key and targets the slot owner
	// (cluster mode). In single-node mode it behaves like RouteAny.
	RouteKey
	// RouteServer targets the explicitly given server.
	RouteServer
)

// String returns the string representation of a RoutingPolicy.
func (p RoutingPolicy) String() string {
	switch p {
	case RouteKey:
		return "key"
	case RouteServer:
		return "server"
	default:
		return "any"
	}
}

// CommandRequest is one wire-encodable command plus its routing hint and
// retry policy. It is created by the facade, owned by the multiplexer until
// resolved or failed, and not reused afterwards.
type CommandRequest struct {
	// Name is the command name ("GET", "CLUSTER", ...).
	Name string

	// Args are the already wire-encodable arguments, excluding the name.
	Args [][]byte

	// Policy selects the routing mode; Key and Target qualify it.
	Policy RoutingPolicy
	Key    []byte
	Target Server

	// Retryable marks the command as safe to re-issue after a lost
	// connection. Reads default to true via the facade; writes must opt in
	// explicitly since a write that applied before the drop would be
	// applied twice.
	Retryable bool

	// MaxAttempts bounds routing/redirect/retry attempts for this command.
	// 0 falls back to the client's RetryCount.
	MaxAttempts int

	// NoReply marks commands whose acknowledgement arrives as a push frame
	// (SUBSCRIBE and friends) or not at all (CLIENT REPLY OFF). They are
	// written to the wire but never enter the in-flight queue.
	NoReply bool
}

// NewCommand creates a RouteAny command request.
func NewCommand(name string, args ...[]byte) *CommandRequest {
	return &CommandRequest{Name: name, Args: args}
}

// NewKeyCommand creates a command routed by the hash slot of key. The key
// itself must already be part of args.
func NewKeyCommand(name string, key []byte, args ...[]byte) *CommandRequest {
	return &CommandRequest{Name: name, Args: args, Policy: RouteKey, Key: key}
}

// NewServerCommand creates a command pinned to one server.
func NewServerCommand(name string, target Server, args ...[]byte) *CommandRequest {
	return &CommandRequest{Name: name, Args: args, Policy: RouteServer, Target: target}
}

// Wire returns the full argument vector including the command name, ready
// for RESP encoding.
func (r *CommandRequest) Wire() [][]byte {
	out := make([][]byte, 0, len(r.Args)+1)
	out = append(out, []byte(r.Name))
	out = append(out, r.Args...)
	return out
}
