// Package conn implements the ownership of one network transport to one
// server: dialing (optionally through TLS), the protocol handshake, the
// write path with backpressure, the continuous read loop and idle keepalive
// probing.
//
// A Connection never retries anything internally. On any transport or
// protocol error it marks itself closed exactly once and reports the error
// upwards; recovery is the reconnection manager's responsibility. That keeps
// this component simple and testable in isolation.
package conn

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/engine/queue"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/benbjohnson/clock"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("engine/conn")

const dialTimeout = 5 * time.Second

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

// Callbacks wires a connection to its owner. OnValue is invoked from the
// read loop for every decoded value in arrival order; OnClosed is invoked at
// most once when the connection fails (never on a caller-initiated Close).
type Callbacks struct {
	OnValue  func(c *Connection, v resp.Value)
	OnClosed func(c *Connection, err error)
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Connection owns one transport to one server. The in-flight queue is owned
// by the connection slot and outlives the physical connection; the
// connection records the queue generation it was created under so replies it
// decodes are only ever matched against entries of its own generation.
type Connection struct {
	server   common.Server
	cfg      common.ClientConfig
	protocol int

	conn   net.Conn
	reader *resp.Reader
	q      *queue.Queue
	gen    uint64

	writeMu   sync.Mutex
	lastWrite atomic.Int64 // unix nano of the last flushed write

	// subMode marks a connection carrying pub/sub subscriptions. On RESP2
	// this changes how incoming arrays are classified, so it is tracked per
	// connection, not per client.
	subMode atomic.Bool

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
	clk    clock.Clock
	cb     Callbacks
}

// Dial connects to the server, performs the protocol handshake
// (version negotiation, authentication, database selection) and starts the
// read loop and keepalive prober. The returned connection is live.
func Dial(server common.Server, cfg common.ClientConfig, q *queue.Queue, clk clock.Clock, cb Callbacks) (*Connection, error) {
	netConn, err := net.DialTimeout("tcp", server.Addr(), dialTimeout)
	if err != nil {
		return nil, common.WrapError(common.KindConnectionLost, err)
	}
	if cfg.TLS != nil {
		tlsConn := tls.Client(netConn, cfg.TLS)
		if err := tlsConn.Handshake(); err != nil {
			netConn.Close()
			return nil, common.WrapError(common.KindConnectionLost, err)
		}
		netConn = tlsConn
	}

	c := &Connection{
		server:   server,
		cfg:      cfg,
		protocol: cfg.Protocol,
		conn:     netConn,
		reader:   resp.NewReader(netConn),
		q:        q,
		gen:      q.Generation(),
		stopCh:   make(chan struct{}),
		clk:      clk,
		cb:       cb,
	}
	c.lastWrite.Store(clk.Now().UnixNano())

	if err := c.handshake(); err != nil {
		netConn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()
	if cfg.KeepAliveSecond > 0 {
		c.wg.Add(1)
		go c.keepalive()
	}

	Logger.Infof("connected to %s (gen %d, RESP%d)", server, c.gen, c.protocol)
	return c, nil
}

// Server returns the server this connection is attached to.
func (c *Connection) Server() common.Server { return c.server }

// Generation returns the queue generation this connection was created under.
func (c *Connection) Generation() uint64 { return c.gen }

// Protocol returns the negotiated RESP major version.
func (c *Connection) Protocol() int { return c.protocol }

// Queue returns the in-flight ledger shared with the connection slot.
func (c *Connection) Queue() *queue.Queue { return c.q }

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool { return c.closed.Load() }

// SetSubscribed marks or unmarks the connection as being in pub/sub
// subscribed mode.
func (c *Connection) SetSubscribed(on bool) { c.subMode.Store(on) }

// Subscribed reports whether the connection is in pub/sub subscribed mode.
func (c *Connection) Subscribed() bool { return c.subMode.Load() }

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

// Send enqueues the entry and writes the encoded command. Enqueue and write
// happen under the same lock, so the queue order always matches the wire
// order. An error is returned only when the entry was NOT enqueued; once
// enqueued, a failing write tears the connection down and the entry is
// resolved by the drain/reconcile path, keeping resolution single-sourced.
func (c *Connection) Send(e *queue.Entry, args [][]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return common.NewError(common.KindConnectionLost, "connection to %s is closed", c.server)
	}
	if err := c.q.Push(e); err != nil {
		return err
	}
	if err := c.write(args); err != nil {
		c.fail(err)
	}
	return nil
}

// SendRaw writes a command that expects no correlated reply (SUBSCRIBE and
// friends, ASKING markers): it reaches the wire but never enters the queue.
func (c *Connection) SendRaw(args [][]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return common.NewError(common.KindConnectionLost, "connection to %s is closed", c.server)
	}
	if err := c.write(args); err != nil {
		c.fail(err)
		return common.WrapError(common.KindConnectionLost, err)
	}
	return nil
}

// write encodes and writes one command; caller must hold writeMu.
func (c *Connection) write(args [][]byte) error {
	if c.cfg.TimeoutSecond > 0 {
		timeout := time.Duration(c.cfg.TimeoutSecond) * time.Second
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := resp.WriteCommand(c.conn, args); err != nil {
		return err
	}
	c.lastWrite.Store(c.clk.Now().UnixNano())
	return nil
}

// --------------------------------------------------------------------------
// Read loop / keepalive
// --------------------------------------------------------------------------

// readLoop decodes incoming frames and hands them to the owner in arrival
// order. Any decode or transport error tears the connection down.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		v, err := c.reader.ReadValue()
		if err != nil {
			c.fail(err)
			return
		}
		c.cb.OnValue(c, v)
	}
}

// keepalive sends a PING whenever the connection has been idle for the
// configured interval. The PING goes through the regular queue, so a missing
// reply surfaces as a read error like any other.
func (c *Connection) keepalive() {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.KeepAliveSecond) * time.Second
	ticker := c.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			idle := c.clk.Now().UnixNano() - c.lastWrite.Load()
			if time.Duration(idle) < interval {
				continue
			}
			e := queue.NewEntry(common.NewCommand("PING"))
			if err := c.Send(e, [][]byte{[]byte("PING")}); err != nil {
				return
			}
			// result intentionally discarded; only liveness matters
		}
	}
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// fail marks the connection closed exactly once and notifies the owner.
func (c *Connection) fail(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	c.conn.Close()
	Logger.Warningf("connection to %s (gen %d) failed: %v", c.server, c.gen, err)
	if c.cb.OnClosed != nil {
		c.cb.OnClosed(c, err)
	}
}

// Abort tears the connection down as failed, invoking OnClosed. Used by the
// owner when the reply stream desynchronizes (a reply with no matching
// in-flight request cannot be recovered from).
func (c *Connection) Abort(err error) {
	c.fail(err)
}

// Close tears the connection down without invoking OnClosed. Used for
// caller-initiated shutdown.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	c.conn.Close()
}

// Join blocks until the read loop and keepalive prober have exited.
func (c *Connection) Join() {
	c.wg.Wait()
}

// --------------------------------------------------------------------------
// Handshake
// --------------------------------------------------------------------------

// handshake negotiates the protocol version, authenticates and selects the
// logical database. It runs synchronously before the read loop starts, so it
// may use the reader directly.
func (c *Connection) handshake() error {
	if c.protocol == 3 {
		args := [][]byte{[]byte("HELLO"), []byte("3")}
		if c.cfg.Password != "" {
			user := c.cfg.Username
			if user == "" {
				user = "default"
			}
			args = append(args, []byte("AUTH"), []byte(user), []byte(c.cfg.Password))
		}
		v, err := c.roundTrip(args)
		if err != nil {
			return err
		}
		if v.Kind == resp.KindError {
			// pre-RESP3 servers reject HELLO; fall back to RESP2
			if strings.Contains(v.Str, "unknown command") {
				Logger.Warningf("server %s does not support HELLO, falling back to RESP2", c.server)
				c.protocol = 2
			} else {
				return common.NewError(common.KindConnectionLost, "handshake rejected by %s: %s", c.server, v.Str)
			}
		}
	}

	if c.protocol == 2 && c.cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if c.cfg.Username != "" {
			args = append(args, []byte(c.cfg.Username))
		}
		args = append(args, []byte(c.cfg.Password))
		v, err := c.roundTrip(args)
		if err != nil {
			return err
		}
		if v.Kind == resp.KindError {
			return common.NewError(common.KindConnectionLost, "authentication rejected by %s: %s", c.server, v.Str)
		}
	}

	if c.cfg.Database > 0 && !c.cfg.Clustered {
		v, err := c.roundTrip([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(c.cfg.Database))})
		if err != nil {
			return err
		}
		if v.Kind == resp.KindError {
			return common.NewError(common.KindConnectionLost, "SELECT %d rejected by %s: %s", c.cfg.Database, c.server, v.Str)
		}
	}

	return nil
}

// roundTrip writes one command and reads one reply; handshake only.
func (c *Connection) roundTrip(args [][]byte) (resp.Value, error) {
	if err := c.write(args); err != nil {
		return resp.Value{}, common.WrapError(common.KindConnectionLost, err)
	}
	v, err := c.reader.ReadValue()
	if err != nil {
		if common.IsKind(err, common.KindProtocol) {
			return resp.Value{}, err
		}
		return resp.Value{}, common.WrapError(common.KindConnectionLost, err)
	}
	return v, nil
}
