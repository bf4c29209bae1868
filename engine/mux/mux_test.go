package mux

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/engine/cluster"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/benbjohnson/clock"
)

// closeConn makes a fake server handler drop the connection instead of
// replying.
const closeConn = "\x00close"

// fakeServer is a minimal in-process RESP server. Replies are raw wire
// strings produced by the handler; an empty reply means "stay silent" (the
// test injects replies or pushes itself via push).
type fakeServer struct {
	t  *testing.T
	ln net.Listener

	mu      sync.Mutex
	conns   []net.Conn
	history [][]string
	handler func(connID int, cmd string, args []string) string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{t: t, ln: ln}
	go s.acceptLoop()
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) acceptLoop() {
	for id := 0; ; id++ {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		go s.serve(id, c)
	}
}

func (s *fakeServer) serve(id int, c net.Conn) {
	r := resp.NewReader(c)
	for {
		v, err := r.ReadValue()
		if err != nil {
			return
		}
		args, err := v.AsStringSlice()
		if err != nil || len(args) == 0 {
			return
		}

		s.mu.Lock()
		s.history = append(s.history, args)
		handler := s.handler
		s.mu.Unlock()

		reply := ""
		if handler != nil {
			reply = handler(id, args[0], args[1:])
		}
		if reply == closeConn {
			c.Close()
			return
		}
		if reply != "" {
			if _, err := c.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

// setHandler installs the per-command reply function.
func (s *fakeServer) setHandler(h func(connID int, cmd string, args []string) string) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// push writes raw bytes to the most recent connection.
func (s *fakeServer) push(wire string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		s.t.Errorf("push with no connection")
		return
	}
	if _, err := s.conns[len(s.conns)-1].Write([]byte(wire)); err != nil {
		s.t.Logf("push write failed: %v", err)
	}
}

// dropAll abruptly closes every accepted connection.
func (s *fakeServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

// received counts commands with the given name seen so far.
func (s *fakeServer) received(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, args := range s.history {
		if args[0] == cmd {
			n++
		}
	}
	return n
}

func (s *fakeServer) close() {
	s.ln.Close()
	s.dropAll()
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig(addrs ...string) common.ClientConfig {
	return common.ClientConfig{
		Endpoints:     addrs,
		Protocol:      2,
		PipelineDepth: 8,
		TimeoutSecond: 5,
		RetryCount:    3,
		Backoff:       common.BackoffConfig{InitialMillisecond: 5, MaxMillisecond: 50},
		LogLevel:      "error",
	}
}

func startMux(t *testing.T, cfg common.ClientConfig) *Multiplexer {
	t.Helper()
	m, err := New(cfg, clock.New())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(func() { m.Quit() })
	return m
}

// bulk encodes one bulk string reply.
func bulk(s string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s)
}

// slotsReply encodes a CLUSTER SLOTS reply with one owner for all slots.
func slotsReply(addr string) string {
	host, portStr, _ := net.SplitHostPort(addr)
	return fmt.Sprintf("*1\r\n*3\r\n:0\r\n:16383\r\n*2\r\n%s:%s\r\n", bulk(host), portStr)
}

// TestDoRoundTrip tests concurrent pipelined commands resolving to their own
// replies
func TestDoRoundTrip(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(_ int, cmd string, args []string) string {
		switch cmd {
		case "GET":
			return bulk("value-" + args[0])
		case "PING":
			return "+PONG\r\n"
		}
		return "-ERR unhandled\r\n"
	})

	m := startMux(t, testConfig(srv.addr()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			v, err := m.Do(context.Background(), common.NewCommand("GET", []byte(key)))
			if err != nil {
				t.Errorf("GET %s returned error: %v", key, err)
				return
			}
			if got := string(v.Bulk); got != "value-"+key {
				t.Errorf("GET %s resolved to %q: reply correlation broken", key, got)
			}
		}(i)
	}
	wg.Wait()

	v, err := m.Do(context.Background(), common.NewCommand("PING"))
	if err != nil || v.Str != "PONG" {
		t.Errorf("PING = %+v, %v", v, err)
	}
}

// TestServerErrorReply tests that error replies surface as server errors
func TestServerErrorReply(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(_ int, _ string, _ []string) string {
		return "-WRONGTYPE Operation against a key holding the wrong kind of value\r\n"
	})

	m := startMux(t, testConfig(srv.addr()))

	_, err := m.Do(context.Background(), common.NewCommand("GET", []byte("k")))
	if !common.IsKind(err, common.KindServer) {
		t.Fatalf("Expected a server error, got %v", err)
	}
}

// TestDisconnectFailsInflight tests that a dropped connection resolves
// non-retryable in-flight commands with a connection lost error
func TestDisconnectFailsInflight(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(_ int, _ string, _ []string) string {
		return "" // never reply
	})

	m := startMux(t, testConfig(srv.addr()))

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Do(context.Background(), common.NewCommand("SET", []byte("k"), []byte("v")))
		errCh <- err
	}()

	waitFor(t, "command to reach the server", func() bool { return srv.received("SET") == 1 })
	srv.dropAll()

	select {
	case err := <-errCh:
		if !common.IsKind(err, common.KindConnectionLost) {
			t.Fatalf("Expected connection lost, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("In-flight command was never resolved after the disconnect")
	}
}

// TestRetryableSurvivesReconnect tests that a retryable command is re-issued
// on the fresh connection after an outage
func TestRetryableSurvivesReconnect(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(connID int, cmd string, _ []string) string {
		if cmd != "GET" {
			return "-ERR unhandled\r\n"
		}
		if connID == 0 {
			return closeConn // take the outage mid-command
		}
		return bulk("recovered")
	})

	m := startMux(t, testConfig(srv.addr()))

	req := common.NewCommand("GET", []byte("k"))
	req.Retryable = true
	v, err := m.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Retryable GET returned error: %v", err)
	}
	if string(v.Bulk) != "recovered" {
		t.Errorf("Retryable GET = %q, want recovered", v.Bulk)
	}
	if srv.received("GET") < 2 {
		t.Errorf("Expected the GET to be re-issued, server saw %d", srv.received("GET"))
	}
}

// TestPipelineBackpressure tests that no more than PipelineDepth commands are
// outstanding per connection
func TestPipelineBackpressure(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(_ int, _ string, _ []string) string {
		return "" // replies are injected by the test
	})

	cfg := testConfig(srv.addr())
	cfg.PipelineDepth = 2
	m := startMux(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Do(context.Background(), common.NewCommand("WORK")); err != nil {
				t.Errorf("WORK returned error: %v", err)
			}
		}()
	}

	waitFor(t, "the first window to be sent", func() bool { return srv.received("WORK") == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := srv.received("WORK"); got != 2 {
		t.Fatalf("Depth 2 should admit exactly 2 outstanding commands, server saw %d", got)
	}

	// resolving the window releases tokens for the blocked senders
	srv.push("+OK\r\n+OK\r\n")
	waitFor(t, "the second window to be sent", func() bool { return srv.received("WORK") == 4 })
	srv.push("+OK\r\n+OK\r\n")
	wg.Wait()
}

// TestMovedRedirect tests transparent re-routing after a MOVED reply
func TestMovedRedirect(t *testing.T) {
	a := newFakeServer(t)
	b := newFakeServer(t)

	key := []byte("foo")
	slot := cluster.KeySlot(key)

	// the first discovery owns the partition to a; after the migration every
	// discovery reports b
	var discoveries atomic.Int64
	a.setHandler(func(_ int, cmd string, _ []string) string {
		switch cmd {
		case "CLUSTER":
			if discoveries.Add(1) == 1 {
				return slotsReply(a.addr())
			}
			return slotsReply(b.addr())
		case "GET":
			return fmt.Sprintf("-MOVED %d %s\r\n", slot, b.addr())
		}
		return "-ERR unhandled\r\n"
	})
	b.setHandler(func(_ int, cmd string, _ []string) string {
		switch cmd {
		case "CLUSTER":
			return slotsReply(b.addr())
		case "GET":
			return bulk("bar")
		}
		return "-ERR unhandled\r\n"
	})

	cfg := testConfig(a.addr())
	cfg.Clustered = true
	m := startMux(t, cfg)

	v, err := m.Do(context.Background(), common.NewKeyCommand("GET", key, key))
	if err != nil {
		t.Fatalf("GET after MOVED returned error: %v", err)
	}
	if string(v.Bulk) != "bar" {
		t.Errorf("GET after MOVED = %q, want bar", v.Bulk)
	}
	if b.received("GET") != 1 {
		t.Errorf("Redirect target should have served the GET, saw %d", b.received("GET"))
	}

	// the MOVED must also have triggered a topology refresh
	waitFor(t, "topology refresh after MOVED", func() bool {
		owner, err := m.Topology().Lookup(slot)
		return err == nil && owner.Addr() == b.addr()
	})
}

// TestAskRedirect tests the one-shot ASKING marker preceding an ASK-redirected
// command
func TestAskRedirect(t *testing.T) {
	a := newFakeServer(t)
	b := newFakeServer(t)

	key := []byte("foo")
	slot := cluster.KeySlot(key)

	a.setHandler(func(_ int, cmd string, _ []string) string {
		switch cmd {
		case "CLUSTER":
			return slotsReply(a.addr())
		case "GET":
			return fmt.Sprintf("-ASK %d %s\r\n", slot, b.addr())
		}
		return "-ERR unhandled\r\n"
	})
	b.setHandler(func(_ int, cmd string, _ []string) string {
		switch cmd {
		case "ASKING":
			return "+OK\r\n"
		case "GET":
			return bulk("bar")
		}
		return "-ERR unhandled\r\n"
	})

	cfg := testConfig(a.addr())
	cfg.Clustered = true
	m := startMux(t, cfg)

	v, err := m.Do(context.Background(), common.NewKeyCommand("GET", key, key))
	if err != nil {
		t.Fatalf("GET after ASK returned error: %v", err)
	}
	if string(v.Bulk) != "bar" {
		t.Errorf("GET after ASK = %q, want bar", v.Bulk)
	}

	// the marker must precede the command on the target's wire
	b.mu.Lock()
	var order []string
	for _, args := range b.history {
		order = append(order, args[0])
	}
	b.mu.Unlock()

	askingAt, getAt := -1, -1
	for i, cmd := range order {
		switch cmd {
		case "ASKING":
			askingAt = i
		case "GET":
			getAt = i
		}
	}
	if askingAt == -1 || getAt == -1 || askingAt > getAt {
		t.Errorf("Expected ASKING immediately before GET, wire order was %v", order)
	}
}

// TestSubscribeAndReplay tests pub/sub delivery and resubscription after a
// reconnect
func TestSubscribeAndReplay(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(_ int, cmd string, args []string) string {
		if cmd == "SUBSCRIBE" {
			return fmt.Sprintf("*3\r\n%s%s:1\r\n", bulk("subscribe"), bulk(args[0]))
		}
		return ""
	})

	m := startMux(t, testConfig(srv.addr()))
	sub := m.Dispatcher().SubscribeMessages([]string{"news"}, nil)
	defer sub.Close()

	if err := m.Subscribe("news"); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	waitFor(t, "SUBSCRIBE to reach the server", func() bool { return srv.received("SUBSCRIBE") == 1 })

	srv.push(fmt.Sprintf("*3\r\n%s%s%s", bulk("message"), bulk("news"), bulk("first")))
	select {
	case msg := <-sub.C():
		if msg.Channel != "news" || string(msg.Payload) != "first" {
			t.Errorf("Unexpected message: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Message was never delivered")
	}

	// outage: the engine must resubscribe on the fresh connection by itself
	srv.dropAll()
	waitFor(t, "resubscription after reconnect", func() bool { return srv.received("SUBSCRIBE") == 2 })

	srv.push(fmt.Sprintf("*3\r\n%s%s%s", bulk("message"), bulk("news"), bulk("second")))
	select {
	case msg := <-sub.C():
		if string(msg.Payload) != "second" {
			t.Errorf("Unexpected message after reconnect: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Message after reconnect was never delivered")
	}
}

// TestSentinelReplyOnNonSubscriber tests that subscribed-mode classification
// is scoped to the subscribing connection
func TestSentinelReplyOnNonSubscriber(t *testing.T) {
	a := newFakeServer(t)
	b := newFakeServer(t)

	a.setHandler(func(_ int, cmd string, args []string) string {
		if cmd == "SUBSCRIBE" {
			return fmt.Sprintf("*3\r\n%s%s:1\r\n", bulk("subscribe"), bulk(args[0]))
		}
		return ""
	})
	b.setHandler(func(_ int, cmd string, _ []string) string {
		if cmd == "SMEMBERS" {
			return fmt.Sprintf("*3\r\n%s%s%s", bulk("message"), bulk("news"), bulk("x"))
		}
		return "-ERR unhandled\r\n"
	})

	m := startMux(t, testConfig(a.addr(), b.addr()))
	sub := m.Dispatcher().SubscribeMessages([]string{"news"}, nil)
	defer sub.Close()

	if err := m.Subscribe("news"); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	waitFor(t, "SUBSCRIBE to reach the server", func() bool { return a.received("SUBSCRIBE") == 1 })

	// an array reply that merely looks like a pub/sub push must resolve the
	// command on the other connection instead of being swallowed
	target, _ := common.ParseServer(b.addr())
	v, err := m.Do(context.Background(), common.NewServerCommand("SMEMBERS", target, []byte("set")))
	if err != nil {
		t.Fatalf("SMEMBERS on the non-subscriber returned error: %v", err)
	}
	if v.Kind != resp.KindArray || len(v.Elems) != 3 {
		t.Fatalf("SMEMBERS reply was misclassified, got %+v", v)
	}
	select {
	case msg := <-sub.C():
		t.Fatalf("Reply was delivered as a pub/sub message: %+v", msg)
	default:
	}

	// real pushes on the subscriber connection still flow
	a.push(fmt.Sprintf("*3\r\n%s%s%s", bulk("message"), bulk("news"), bulk("hi")))
	select {
	case msg := <-sub.C():
		if msg.Channel != "news" || string(msg.Payload) != "hi" {
			t.Errorf("Unexpected message: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Push on the subscriber connection was never delivered")
	}
}

// TestQuitDuringDisconnect tests shutdown racing concurrent connection
// failures
func TestQuitDuringDisconnect(t *testing.T) {
	for i := 0; i < 10; i++ {
		srv := newFakeServer(t)
		srv.setHandler(func(_ int, _ string, _ []string) string {
			return "" // never reply
		})

		cfg := testConfig(srv.addr())
		cfg.TimeoutSecond = 1
		m := startMux(t, cfg)

		go m.Do(context.Background(), common.NewCommand("HANG"))
		waitFor(t, "command to reach the server", func() bool { return srv.received("HANG") == 1 })

		done := make(chan struct{})
		go func() {
			srv.dropAll()
			close(done)
		}()
		if err := m.Quit(); err != nil {
			t.Fatalf("Quit returned error: %v", err)
		}
		<-done
	}
}

// TestQuit tests that shutdown resolves hung commands and rejects new ones
func TestQuit(t *testing.T) {
	srv := newFakeServer(t)
	srv.setHandler(func(_ int, _ string, _ []string) string {
		return "" // hang everything
	})

	cfg := testConfig(srv.addr())
	cfg.TimeoutSecond = 0 // drain window falls back to one second
	m := startMux(t, cfg)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Do(context.Background(), common.NewCommand("HANG"))
		errCh <- err
	}()
	waitFor(t, "command to reach the server", func() bool { return srv.received("HANG") == 1 })

	if err := m.Quit(); err != nil {
		t.Fatalf("Quit returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if !common.IsKind(err, common.KindCanceled) {
			t.Errorf("Hung command should resolve with cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Hung command was never resolved by Quit")
	}

	if _, err := m.Do(context.Background(), common.NewCommand("PING")); !common.IsKind(err, common.KindCanceled) {
		t.Errorf("Do after Quit should be rejected, got %v", err)
	}

	if m.Quit() != nil {
		t.Error("Second Quit should be a no-op")
	}
}
