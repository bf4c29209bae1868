package common

import (
	"fmt"
	"net"
	"strconv"
)

// --------------------------------------------------------------------------
// Server identity
// --------------------------------------------------------------------------

// Server identifies one store node. It is immutable once resolved and
// compared by host and port only; the optional ID carries the logical node
// identity reported by the cluster (used for invalidation attribution and
// log messages, never for equality).
type Server struct {
	Host string
	Port uint16

	// ID is the node ID as reported by cluster discovery, empty for
	// single-node deployments.
	ID string
}

// NewServer creates a Server from a host and port.
func NewServer(host string, port uint16) Server {
	return Server{Host: host, Port: port}
}

// ParseServer parses a "host:port" address into a Server.
func ParseServer(addr string) (Server, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Server{}, fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Server{}, fmt.Errorf("invalid port in server address %q: %w", addr, err)
	}
	return Server{Host: host, Port: uint16(port)}, nil
}

// Addr returns the "host:port" dial address of the server.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

// Equal reports whether two servers refer to the same endpoint.
// The logical ID is intentionally not part of the comparison.
func (s Server) Equal(other Server) bool {
	return s.Host == other.Host && s.Port == other.Port
}

// IsZero reports whether the server is the zero value.
func (s Server) IsZero() bool {
	return s.Host == "" && s.Port == 0
}

// String returns the dial address.
func (s Server) String() string {
	return s.Addr()
}
