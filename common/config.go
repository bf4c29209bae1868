package common

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// BackoffConfig controls the reconnect delay policy. Delays grow
// exponentially with jitter from InitialMillisecond up to MaxMillisecond.
type BackoffConfig struct {
	// InitialMillisecond is the first reconnect delay.
	InitialMillisecond int
	// MaxMillisecond caps the delay between attempts.
	MaxMillisecond int
	// MaxAttempts limits reconnect attempts per outage; 0 means unlimited.
	MaxAttempts int
}

// ClientConfig holds all configuration parameters for a respKV client.
// The engine treats it as an immutable snapshot at build time;
// reconfiguration requires building a new client.
type ClientConfig struct {
	// Endpoints are the initial server addresses ("host:port"). In cluster
	// mode these are only seeds; the live topology is discovered.
	Endpoints []string

	// Clustered selects slot-based routing with topology discovery.
	Clustered bool

	// Authentication credentials, both optional.
	Username string
	Password string

	// Database is the logical database selected after connecting
	// (single-node mode only).
	Database int

	// Protocol is the preferred RESP major version (2 or 3).
	Protocol int

	// TLS, when non-nil, wraps every transport in TLS.
	TLS *tls.Config

	// PipelineDepth is the maximum number of outstanding requests per
	// connection. Senders beyond it block (backpressure).
	PipelineDepth int

	// TimeoutSecond bounds each command round trip. 0 disables the bound.
	TimeoutSecond int

	// RetryCount is the default number of attempts per command.
	RetryCount int

	// KeepAliveSecond is the idle interval after which a PING is sent to
	// probe connection liveness. 0 disables the probe.
	KeepAliveSecond int

	// Backoff is the reconnect delay policy.
	Backoff BackoffConfig

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// WithDefaults returns a copy of the configuration with unset fields
// replaced by their defaults.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.Protocol == 0 {
		c.Protocol = 3
	}
	if c.PipelineDepth <= 0 {
		c.PipelineDepth = 256
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.Backoff.InitialMillisecond <= 0 {
		c.Backoff.InitialMillisecond = 50
	}
	if c.Backoff.MaxMillisecond <= 0 {
		c.Backoff.MaxMillisecond = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Validate checks the configuration for values the engine cannot work with.
func (c *ClientConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	for _, ep := range c.Endpoints {
		if _, err := ParseServer(ep); err != nil {
			return err
		}
	}
	if c.Protocol != 0 && c.Protocol != 2 && c.Protocol != 3 {
		return fmt.Errorf("unsupported protocol version %d (must be 2 or 3)", c.Protocol)
	}
	if c.Clustered && c.Database != 0 {
		return fmt.Errorf("logical databases are not available in cluster mode")
	}
	return nil
}

// String returns a formatted string representation of the configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Mode", map[bool]string{true: "cluster", false: "single node"}[c.Clustered])
	addField("Protocol", fmt.Sprintf("RESP%d", c.Protocol))
	addField("Database", strconv.Itoa(c.Database))
	addField("TLS", fmt.Sprintf("%t", c.TLS != nil))
	addField("Pipeline Depth", strconv.Itoa(c.PipelineDepth))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Keepalive", fmt.Sprintf("%d sec", c.KeepAliveSecond))

	addSection("Reconnect Backoff")
	addField("Initial Delay", fmt.Sprintf("%d ms", c.Backoff.InitialMillisecond))
	addField("Max Delay", fmt.Sprintf("%d ms", c.Backoff.MaxMillisecond))
	if c.Backoff.MaxAttempts > 0 {
		addField("Max Attempts", strconv.Itoa(c.Backoff.MaxAttempts))
	} else {
		addField("Max Attempts", "unlimited")
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
