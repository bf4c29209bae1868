package mux

import (
	"sync"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/engine/conn"
	"github.com/ValentinKolb/respKV/engine/queue"
)

// --------------------------------------------------------------------------
// Slot State Machine
// --------------------------------------------------------------------------

// SlotState is the lifecycle state of one connection slot.
type SlotState uint8

const (
	StateDisconnected SlotState = iota
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the string representation of a SlotState.
func (s SlotState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// --------------------------------------------------------------------------
// Connection Slot
// --------------------------------------------------------------------------

// connSlot is the logical client slot for one server. The in-flight queue
// and its generation counter belong to the slot, not to the physical
// connection: a reconnect creates a fresh connection under a new queue
// generation, so late replies from the dying connection can never be matched
// against the new generation's entries.
type connSlot struct {
	server common.Server
	m      *Multiplexer
	q      *queue.Queue

	// tokens is the pipeline-depth semaphore; senders beyond the depth
	// block here rather than queueing unboundedly.
	tokens chan struct{}

	mu    sync.Mutex
	state SlotState
	conn  *conn.Connection
}

func newConnSlot(server common.Server, m *Multiplexer) *connSlot {
	return &connSlot{
		server: server,
		m:      m,
		q:      queue.New(),
		tokens: make(chan struct{}, m.cfg.PipelineDepth),
	}
}

// currentState returns the slot state.
func (s *connSlot) currentState() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ensure returns a live connection, dialing on first use. It never dials
// while a reconnect loop owns the slot: senders observe the outage as a
// connection lost error and fall back on their retry policy.
func (s *connSlot) ensure() (*conn.Connection, error) {
	if s.m.closed.Load() {
		return nil, common.NewError(common.KindCanceled, "client is shut down")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if !s.conn.Closed() {
			return s.conn, nil
		}
		// died before it ever carried traffic
		s.conn = nil
	}
	switch s.state {
	case StateReconnecting:
		return nil, common.NewError(common.KindConnectionLost, "server %s is reconnecting", s.server)
	case StateFailed:
		return nil, common.NewError(common.KindConnectionLost, "server %s is marked failed", s.server)
	}

	c, err := s.m.dial(s)
	if err != nil {
		return nil, err
	}
	s.conn = c
	s.state = StateConnected
	return c, nil
}

// send pushes the entry into the slot's queue and writes it, holding the
// slot lock so multi-command sequences (ASKING + command) stay adjacent on
// the wire.
func (s *connSlot) send(e *queue.Entry, prelude ...*queue.Entry) error {
	c, err := s.ensure()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return common.NewError(common.KindConnectionLost, "connection to %s was replaced", s.server)
	}
	for _, p := range prelude {
		if err := c.Send(p, p.Request.Wire()); err != nil {
			return err
		}
	}
	return c.Send(e, e.Request.Wire())
}

// sendRaw writes a command that never enters the queue (SUBSCRIBE class).
func (s *connSlot) sendRaw(args [][]byte) error {
	c, err := s.ensure()
	if err != nil {
		return err
	}
	return c.SendRaw(args)
}

// --------------------------------------------------------------------------
// Reconnection Manager
// --------------------------------------------------------------------------

// handleDisconnect is the slot's transition out of Connected. It runs on its
// own goroutine (never inside a connection's read loop or write path),
// drains the queue atomically with the state transition, reconciles the
// drained entries and starts the reconnect loop.
func (m *Multiplexer) handleDisconnect(c *conn.Connection, cause error) {
	defer m.wg.Done()

	s := m.slot(c.Server())

	s.mu.Lock()
	if s.conn != c {
		// a stale generation failing after its replacement; nothing to do
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	entries := s.q.Drain(c.Generation())
	m.reconcile(entries, cause)

	if m.closed.Load() {
		return
	}

	s.mu.Lock()
	s.state = StateReconnecting
	s.mu.Unlock()

	if !m.spawn(s.reconnectLoop) {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
	}
}

// reconcile resolves or re-issues every entry drained on a disconnect.
// Requests explicitly marked retryable are resubmitted through the regular
// routing path (the topology may have changed); all others fail with a
// connection lost error. Entries that already resolved (e.g. a reply raced
// the disconnect) are skipped, preserving exactly-once resolution.
func (m *Multiplexer) reconcile(entries []*queue.Entry, cause error) {
	for _, e := range entries {
		if e.Resolved() {
			continue
		}
		if e.Request.NoReply {
			continue
		}
		if e.Request.Retryable && e.Attempts+1 < m.maxAttempts(e.Request) {
			e.Attempts++
			retriesTotal.Inc()
			if m.spawn(func() { m.resubmit(e) }) {
				continue
			}
		}
		e.Resolve(zeroValue, common.WrapError(common.KindConnectionLost, cause))
	}
}

// reconnectLoop drives the slot from Reconnecting back to Connected, backing
// off exponentially with jitter between attempts. Exhausting the attempt
// budget marks the slot Failed; in cluster mode that additionally triggers a
// topology refresh, since the node may have been replaced.
func (s *connSlot) reconnectLoop() {
	m := s.m
	defer m.wg.Done()

	reconnectsTotal.Inc()

	bo := m.newBackOff()
	for attempt := 1; ; attempt++ {
		select {
		case <-m.quitCh:
			return
		case <-m.clk.After(bo.NextBackOff()):
		}

		c, err := m.dial(s)
		if err == nil {
			s.mu.Lock()
			s.conn = c
			s.state = StateConnected
			s.mu.Unlock()
			m.replayState(c)
			Logger.Infof("reconnected to %s after %d attempt(s)", s.server, attempt)
			return
		}

		Logger.Warningf("reconnect to %s failed (attempt %d): %v", s.server, attempt, err)

		if m.cfg.Backoff.MaxAttempts > 0 && attempt >= m.cfg.Backoff.MaxAttempts {
			s.mu.Lock()
			s.state = StateFailed
			s.mu.Unlock()
			Logger.Errorf("giving up on %s after %d attempts", s.server, attempt)
			if m.cfg.Clustered {
				m.topology.RefreshAsync()
			}
			return
		}
	}
}

// replayState restores the process-wide subscription and tracking state on
// a fresh connection. Subscriptions live on the designated subscriber
// server only (subscribing everywhere would duplicate deliveries); tracking
// applies per connection, since each connection tracks its own reads.
func (m *Multiplexer) replayState(c *conn.Connection) {
	channels, patterns, tracking := m.subs.Snapshot()

	if c.Server().Equal(m.subServer) {
		if len(channels) > 0 || len(patterns) > 0 {
			c.SetSubscribed(true)
		}
		if len(channels) > 0 {
			args := [][]byte{[]byte("SUBSCRIBE")}
			for _, ch := range channels {
				args = append(args, []byte(ch))
			}
			if err := c.SendRaw(args); err != nil {
				Logger.Errorf("resubscribing %d channel(s) on %s failed: %v", len(channels), c.Server(), err)
				return
			}
		}
		if len(patterns) > 0 {
			args := [][]byte{[]byte("PSUBSCRIBE")}
			for _, p := range patterns {
				args = append(args, []byte(p))
			}
			if err := c.SendRaw(args); err != nil {
				Logger.Errorf("resubscribing %d pattern(s) on %s failed: %v", len(patterns), c.Server(), err)
				return
			}
		}
	}

	if tracking {
		e := queue.NewEntry(common.NewCommand("CLIENT", []byte("TRACKING"), []byte("ON")))
		if err := c.Send(e, e.Request.Wire()); err != nil {
			Logger.Errorf("re-enabling tracking on %s failed: %v", c.Server(), err)
		}
		// reply discarded; a rejection surfaces in the server log only
	}
}
