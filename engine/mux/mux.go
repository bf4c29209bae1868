package mux

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/engine/cluster"
	"github.com/ValentinKolb/respKV/engine/conn"
	"github.com/ValentinKolb/respKV/engine/dispatch"
	"github.com/ValentinKolb/respKV/engine/queue"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/VictoriaMetrics/metrics"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("engine/mux")

var (
	commandsTotal   = metrics.GetOrCreateCounter("respkv_commands_total")
	retriesTotal    = metrics.GetOrCreateCounter("respkv_retries_total")
	redirectsTotal  = metrics.GetOrCreateCounter("respkv_redirects_total")
	reconnectsTotal = metrics.GetOrCreateCounter("respkv_reconnects_total")
)

var zeroValue resp.Value

// --------------------------------------------------------------------------
// Multiplexer
// --------------------------------------------------------------------------

// Multiplexer is the dispatch core described in the package documentation.
type Multiplexer struct {
	cfg   common.ClientConfig
	clk   clock.Clock
	seeds []common.Server

	dispatcher *dispatch.Dispatcher
	subs       *dispatch.State
	topology   *cluster.Topology

	// subServer is the designated pub/sub endpoint; subscriptions are
	// replayed only onto its connection slot.
	subServer common.Server

	slots  *xsync.MapOf[string, *connSlot]
	closed atomic.Bool
	quitCh chan struct{}

	// spawnMu serializes goroutine starts against Quit's final join, so an
	// Add can never race the Wait once shutdown has begun.
	spawnMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a multiplexer. The configuration must already be validated
// and defaulted.
func New(cfg common.ClientConfig, clk clock.Clock) (*Multiplexer, error) {
	seeds := make([]common.Server, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		s, err := common.ParseServer(ep)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, s)
	}

	m := &Multiplexer{
		cfg:        cfg,
		clk:        clk,
		seeds:      seeds,
		dispatcher: dispatch.NewDispatcher(),
		subs:       dispatch.NewState(),
		slots:      xsync.NewMapOf[string, *connSlot](),
		quitCh:     make(chan struct{}),
	}
	m.topology = cluster.NewTopology(m.fetchSlots)
	return m, nil
}

// Start opens the initial connections. At least one seed must be reachable;
// in cluster mode the initial topology discovery runs here (a failed
// discovery is logged, commands then surface routing errors until a refresh
// succeeds).
func (m *Multiplexer) Start() error {
	connected := 0
	for _, seed := range m.seeds {
		if _, err := m.slot(seed).ensure(); err != nil {
			Logger.Warningf("failed to connect to seed %s: %v", seed, err)
			continue
		}
		if connected == 0 {
			m.subServer = seed
		}
		connected++
	}
	if connected == 0 {
		return common.NewError(common.KindConnectionLost, "failed to connect to any of %d endpoint(s)", len(m.seeds))
	}
	Logger.Infof("connected to %d out of %d endpoint(s)", connected, len(m.seeds))

	if m.cfg.Clustered {
		if err := m.topology.Refresh(); err != nil {
			Logger.Warningf("initial topology discovery failed: %v", err)
		}
	}
	return nil
}

// Dispatcher exposes the push dispatcher for listener registration.
func (m *Multiplexer) Dispatcher() *dispatch.Dispatcher { return m.dispatcher }

// Topology exposes the topology manager.
func (m *Multiplexer) Topology() *cluster.Topology { return m.topology }

// --------------------------------------------------------------------------
// Command Dispatch
// --------------------------------------------------------------------------

// Do routes, sends and awaits one command. Redirections and engine-side
// retries stay invisible to the caller; the returned error is either the
// server's own error reply or a typed engine error.
func (m *Multiplexer) Do(ctx context.Context, req *common.CommandRequest) (resp.Value, error) {
	if m.closed.Load() {
		return zeroValue, common.NewError(common.KindCanceled, "client is shut down")
	}
	commandsTotal.Inc()

	e := queue.NewEntry(req)

	// bounded retry around the initial send; everything after a successful
	// enqueue is handled engine-side on the entry itself
	var lastErr error
	bo := m.newBackOff()
	for attempt := 0; attempt < m.maxAttempts(req); attempt++ {
		server, err := m.route(req)
		if err != nil {
			if common.IsKind(err, common.KindRouting) {
				m.topology.RefreshAsync()
			}
			lastErr = err
		} else if err := m.dispatchTo(ctx, server, e); err != nil {
			lastErr = err
		} else {
			return m.await(ctx, e)
		}

		if common.IsKind(lastErr, common.KindCanceled) {
			return zeroValue, lastErr
		}
		Logger.Debugf("send attempt %d/%d for %s failed: %v", attempt+1, m.maxAttempts(req), req.Name, lastErr)

		select {
		case <-m.quitCh:
			return zeroValue, common.NewError(common.KindCanceled, "client is shutting down")
		case <-ctx.Done():
			return zeroValue, common.WrapError(common.KindCanceled, ctx.Err())
		case <-m.clk.After(bo.NextBackOff()):
		}
	}

	return zeroValue, common.WrapError(common.KindRetriesExhausted, lastErr)
}

// Send writes a command that expects no correlated reply (the SUBSCRIBE
// family and ASKING-free control writes).
func (m *Multiplexer) Send(req *common.CommandRequest) error {
	if m.closed.Load() {
		return common.NewError(common.KindCanceled, "client is shut down")
	}
	server, err := m.route(req)
	if err != nil {
		return err
	}
	return m.slot(server).sendRaw(req.Wire())
}

// dispatchTo acquires a pipeline-depth token and sends the entry to the
// server's slot. The token is returned when the entry resolves, whatever
// the outcome; a send failure returns it immediately since the entry never
// entered the queue.
func (m *Multiplexer) dispatchTo(ctx context.Context, server common.Server, e *queue.Entry) error {
	s := m.slot(server)

	select {
	case s.tokens <- struct{}{}:
	case <-ctx.Done():
		return common.WrapError(common.KindCanceled, ctx.Err())
	case <-m.quitCh:
		return common.NewError(common.KindCanceled, "client is shutting down")
	}
	e.OnResolve(func() { <-s.tokens })

	if err := s.send(e); err != nil {
		<-s.tokens
		e.OnResolve(nil)
		return err
	}
	return nil
}

// await blocks on the entry's completion handle. On timeout or context
// cancellation the entry deliberately stays in its queue: removing it would
// desynchronize the FIFO correlation for sibling requests, so its eventual
// result is discarded instead.
func (m *Multiplexer) await(ctx context.Context, e *queue.Entry) (resp.Value, error) {
	var timeoutCh <-chan time.Time
	if m.cfg.TimeoutSecond > 0 {
		timer := m.clk.Timer(time.Duration(m.cfg.TimeoutSecond) * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-e.Done():
		return res.Value, res.Err
	case <-ctx.Done():
		return zeroValue, common.WrapError(common.KindCanceled, ctx.Err())
	case <-timeoutCh:
		return zeroValue, common.NewError(common.KindTimeout, "command %s exceeded its %d second deadline", e.Request.Name, m.cfg.TimeoutSecond)
	}
}

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// route resolves the destination server for a request.
func (m *Multiplexer) route(req *common.CommandRequest) (common.Server, error) {
	switch req.Policy {
	case common.RouteServer:
		return req.Target, nil
	case common.RouteKey:
		if !m.cfg.Clustered {
			return m.anyServer()
		}
		return m.topology.Lookup(cluster.KeySlot(req.Key))
	default:
		return m.anyServer()
	}
}

// anyServer picks an arbitrary connected server, preferring live slots over
// seeds that were never dialed.
func (m *Multiplexer) anyServer() (common.Server, error) {
	var picked common.Server
	found := false
	m.slots.Range(func(_ string, s *connSlot) bool {
		if s.currentState() == StateConnected {
			picked = s.server
			found = true
			return false
		}
		return true
	})
	if found {
		return picked, nil
	}
	for _, seed := range m.seeds {
		if m.slot(seed).currentState() != StateFailed {
			return seed, nil
		}
	}
	return common.Server{}, common.NewError(common.KindConnectionLost, "no active connections available")
}

// slot returns the connection slot for a server, creating it on first use.
func (m *Multiplexer) slot(server common.Server) *connSlot {
	s, _ := m.slots.LoadOrCompute(server.Addr(), func() *connSlot {
		return newConnSlot(server, m)
	})
	return s
}

// dial opens one physical connection for a slot and wires its callbacks.
func (m *Multiplexer) dial(s *connSlot) (*conn.Connection, error) {
	return conn.Dial(s.server, m.cfg, s.q, m.clk, conn.Callbacks{
		OnValue: m.onValue,
		OnClosed: func(c *conn.Connection, err error) {
			// during shutdown Quit itself drains and resolves the queues
			m.spawn(func() { m.handleDisconnect(c, err) })
		},
	})
}

// maxAttempts returns the attempt budget for a request.
func (m *Multiplexer) maxAttempts(req *common.CommandRequest) int {
	if req.MaxAttempts > 0 {
		return req.MaxAttempts
	}
	return m.cfg.RetryCount
}

// newBackOff builds the exponential backoff policy shared by the send
// retry, resubmission and reconnect paths.
func (m *Multiplexer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(m.cfg.Backoff.InitialMillisecond) * time.Millisecond
	bo.MaxInterval = time.Duration(m.cfg.Backoff.MaxMillisecond) * time.Millisecond
	bo.MaxElapsedTime = 0
	return bo
}

// spawn starts fn on the engine's waitgroup. It reports false once shutdown
// has begun; the caller then owns whatever cleanup fn would have done.
func (m *Multiplexer) spawn(fn func()) bool {
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()
	if m.closed.Load() {
		return false
	}
	m.wg.Add(1)
	go fn()
	return true
}

// --------------------------------------------------------------------------
// Reply Path
// --------------------------------------------------------------------------

// onValue is invoked from every connection's read loop, in arrival order.
// Pushes go to the dispatcher; everything else resolves the oldest entry of
// the connection's generation. A reply with no matching entry means the
// stream is desynchronized and the connection is torn down.
func (m *Multiplexer) onValue(c *conn.Connection, v resp.Value) {
	if dispatch.IsPush(v, c.Protocol(), c.Subscribed()) {
		m.dispatcher.Dispatch(v, c.Server())
		// leaving subscribed mode: with the state empty, the final
		// unsubscribe acknowledgement is the last push on this connection
		if c.Subscribed() && !m.subs.Subscribed() {
			c.SetSubscribed(false)
		}
		return
	}

	e, ok := c.Queue().PopFront(c.Generation())
	if !ok {
		c.Abort(common.NewError(common.KindProtocol, "reply from %s with no in-flight request", c.Server()))
		return
	}

	if v.Kind == resp.KindError && m.cfg.Clustered {
		if redir, isRedirect := cluster.ParseRedirect(v.Str); isRedirect {
			redirectsTotal.Inc()
			if !redir.Ask {
				m.topology.RefreshAsync()
			}
			if e.Attempts+1 < m.maxAttempts(e.Request) {
				e.Attempts++
				if !m.spawn(func() { m.redirect(e, redir) }) {
					e.Resolve(zeroValue, common.NewError(common.KindCanceled, "client is shutting down"))
				}
				return
			}
			e.Resolve(zeroValue, common.WrapError(common.KindRetriesExhausted, v.Err()))
			return
		}
	}

	e.Resolve(v, v.Err())
}

// redirect re-routes an entry after a MOVED/ASK reply. For ASK the command
// is preceded by a one-shot ASKING marker on the target connection; the
// marker's +OK reply goes through the queue like any reply, keeping the
// FIFO correlation intact.
func (m *Multiplexer) redirect(e *queue.Entry, redir cluster.Redirect) {
	defer m.wg.Done()

	s := m.slot(redir.Server)
	var err error
	if redir.Ask {
		asking := queue.NewEntry(common.NewServerCommand("ASKING", redir.Server))
		err = s.send(e, asking)
	} else {
		err = s.send(e)
	}
	if err != nil {
		e.Resolve(zeroValue, common.WrapError(common.KindConnectionLost, err))
	}
}

// resubmit re-issues a retryable entry after its connection was lost. The
// route is resolved afresh, since the disconnect may have come with a
// topology change; while the reconnect loop still owns the slot, sends fail
// and resubmit backs off within the entry's remaining attempt budget.
func (m *Multiplexer) resubmit(e *queue.Entry) {
	defer m.wg.Done()

	bo := m.newBackOff()
	for {
		server, err := m.route(e.Request)
		if err == nil {
			if err = m.slot(server).send(e); err == nil {
				return
			}
		}

		if e.Attempts+1 >= m.maxAttempts(e.Request) {
			e.Resolve(zeroValue, common.WrapError(common.KindRetriesExhausted, err))
			return
		}
		e.Attempts++
		retriesTotal.Inc()

		select {
		case <-m.quitCh:
			e.Resolve(zeroValue, common.NewError(common.KindCanceled, "client is shutting down"))
			return
		case <-m.clk.After(bo.NextBackOff()):
		}
	}
}

// fetchSlots issues the discovery query for the topology manager.
func (m *Multiplexer) fetchSlots() (resp.Value, error) {
	req := common.NewCommand("CLUSTER", []byte("SLOTS"))
	req.Retryable = true
	return m.Do(context.Background(), req)
}

// --------------------------------------------------------------------------
// Subscriptions & Tracking
// --------------------------------------------------------------------------

// Subscribe records the channels in the subscription state and subscribes
// them on the designated pub/sub connection. The state is mutated first so
// the acknowledgement frames are already classified as pushes when they
// arrive (RESP2 has no push frame type).
func (m *Multiplexer) Subscribe(channels ...string) error {
	m.subs.AddChannels(channels...)
	return m.sendSubscribe("SUBSCRIBE", channels)
}

// Unsubscribe removes the channels from the state and the server.
func (m *Multiplexer) Unsubscribe(channels ...string) error {
	err := m.sendSubscribe("UNSUBSCRIBE", channels)
	m.subs.RemoveChannels(channels...)
	return err
}

// PSubscribe records and subscribes patterns.
func (m *Multiplexer) PSubscribe(patterns ...string) error {
	m.subs.AddPatterns(patterns...)
	return m.sendSubscribe("PSUBSCRIBE", patterns)
}

// PUnsubscribe removes patterns from the state and the server.
func (m *Multiplexer) PUnsubscribe(patterns ...string) error {
	err := m.sendSubscribe("PUNSUBSCRIBE", patterns)
	m.subs.RemovePatterns(patterns...)
	return err
}

func (m *Multiplexer) sendSubscribe(name string, topics []string) error {
	if m.closed.Load() {
		return common.NewError(common.KindCanceled, "client is shut down")
	}
	args := make([][]byte, 0, len(topics)+1)
	args = append(args, []byte(name))
	for _, t := range topics {
		args = append(args, []byte(t))
	}
	c, err := m.slot(m.subServer).ensure()
	if err != nil {
		return err
	}
	// mark before the write so the acknowledgement frames already classify
	// as pushes when they arrive
	if name == "SUBSCRIBE" || name == "PSUBSCRIBE" {
		c.SetSubscribed(true)
	}
	return c.SendRaw(args)
}

// SetTracking toggles server-side invalidation tracking on every live
// connection and records the mode for replay after reconnects.
func (m *Multiplexer) SetTracking(ctx context.Context, on bool) error {
	m.subs.SetTracking(on)

	flag := "ON"
	if !on {
		flag = "OFF"
	}

	var firstErr error
	m.slots.Range(func(_ string, s *connSlot) bool {
		if s.currentState() != StateConnected {
			return true
		}
		req := common.NewServerCommand("CLIENT", s.server, []byte("TRACKING"), []byte(flag))
		req.Retryable = true
		if _, err := m.Do(ctx, req); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Quit gracefully shuts the engine down: no new commands are accepted,
// in-flight ones get a bounded drain window, then every connection is
// closed and all background goroutines are joined. Entries still unresolved
// afterwards fail with a cancellation error, so nothing is leaked or left
// pending.
func (m *Multiplexer) Quit() error {
	m.spawnMu.Lock()
	if m.closed.Load() {
		m.spawnMu.Unlock()
		return nil
	}
	m.closed.Store(true)
	m.spawnMu.Unlock()
	close(m.quitCh)

	// bounded drain: give in-flight commands a moment to complete
	deadline := m.clk.Now().Add(m.drainWindow())
	for m.clk.Now().Before(deadline) {
		if m.inflight() == 0 {
			break
		}
		m.clk.Sleep(10 * time.Millisecond)
	}

	m.slots.Range(func(_ string, s *connSlot) bool {
		s.mu.Lock()
		c := s.conn
		s.conn = nil
		s.state = StateDisconnected
		s.mu.Unlock()

		if c != nil {
			c.Close()
			c.Join()
		}
		for _, e := range s.q.Close() {
			e.Resolve(zeroValue, common.NewError(common.KindCanceled, "client shut down"))
		}
		return true
	})

	m.wg.Wait()
	m.dispatcher.CloseAll()
	m.subs.Clear()
	Logger.Infof("engine shut down")
	return nil
}

// inflight counts unresolved entries across all slots.
func (m *Multiplexer) inflight() int {
	total := 0
	m.slots.Range(func(_ string, s *connSlot) bool {
		total += s.q.Len()
		return true
	})
	return total
}

// drainWindow bounds how long Quit waits for in-flight commands.
func (m *Multiplexer) drainWindow() time.Duration {
	if m.cfg.TimeoutSecond > 0 {
		return time.Duration(m.cfg.TimeoutSecond) * time.Second
	}
	return time.Second
}
