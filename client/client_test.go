package client

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/resp"
)

// storeServer is an in-process RESP server backing the facade tests with a
// real in-memory keyspace.
type storeServer struct {
	t  *testing.T
	ln net.Listener

	mu   sync.Mutex
	data map[string]string
}

func newStoreServer(t *testing.T) *storeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &storeServer{t: t, ln: ln, data: map[string]string{}}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *storeServer) addr() string { return s.ln.Addr().String() }

func (s *storeServer) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(c)
	}
}

func (s *storeServer) serve(c net.Conn) {
	defer c.Close()
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
		if _, err := c.Write([]byte(s.handle(args))); err != nil {
			return
		}
	}
}

// handle implements just enough of the command surface for the facade.
func (s *storeServer) handle(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch args[0] {
	case "SET":
		key, value := args[1], args[2]
		for _, opt := range args[3:] {
			if opt == "NX" {
				if _, exists := s.data[key]; exists {
					return "$-1\r\n"
				}
			}
		}
		s.data[key] = value
		return "+OK\r\n"
	case "GET":
		value, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
	case "EXISTS":
		if _, ok := s.data[args[1]]; ok {
			return ":1\r\n"
		}
		return ":0\r\n"
	case "DEL":
		if _, ok := s.data[args[1]]; ok {
			delete(s.data, args[1])
			return ":1\r\n"
		}
		return ":0\r\n"
	case "INCR":
		n, _ := strconv.ParseInt(s.data[args[1]], 10, 64)
		n++
		s.data[args[1]] = strconv.FormatInt(n, 10)
		return fmt.Sprintf(":%d\r\n", n)
	case "PING":
		return "+PONG\r\n"
	}
	return "-ERR unknown command '" + args[0] + "'\r\n"
}

func connectClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Connect(common.ClientConfig{
		Endpoints:     []string{addr},
		Protocol:      2,
		TimeoutSecond: 5,
		LogLevel:      "error",
	})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { c.Quit() })
	return c
}

// TestSetIfUnsetLease tests that only the first conditional set wins
func TestSetIfUnsetLease(t *testing.T) {
	srv := newStoreServer(t)
	c := connectClient(t, srv.addr())
	ctx := context.Background()

	won, err := c.SetIfUnset(ctx, "lease", []byte("owner-a"), 1)
	if err != nil || !won {
		t.Fatalf("First SetIfUnset = %v, %v, want true", won, err)
	}
	won, err = c.SetIfUnset(ctx, "lease", []byte("owner-b"), 1)
	if err != nil {
		t.Fatalf("Second SetIfUnset returned error: %v", err)
	}
	if won {
		t.Error("Second SetIfUnset should lose: the null reply means the key was held")
	}

	v, loaded, err := c.Get(ctx, "lease")
	if err != nil || !loaded || !bytes.Equal(v, []byte("owner-a")) {
		t.Errorf("Get after the race = %q, %v, %v", v, loaded, err)
	}
}

// TestGetMissing tests that a missing key is not an error
func TestGetMissing(t *testing.T) {
	srv := newStoreServer(t)
	c := connectClient(t, srv.addr())

	v, loaded, err := c.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get of a missing key must not error: %v", err)
	}
	if loaded || v != nil {
		t.Errorf("Get of a missing key = %q, %v, want nil, false", v, loaded)
	}
}

// TestTypedRoundTrip tests the typed facade against a live keyspace
func TestTypedRoundTrip(t *testing.T) {
	srv := newStoreServer(t)
	c := connectClient(t, srv.addr())
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	v, loaded, err := c.Get(ctx, "k")
	if err != nil || !loaded || string(v) != "v" {
		t.Fatalf("Get = %q, %v, %v", v, loaded, err)
	}

	ok, err := c.Has(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Has = %v, %v, want true", ok, err)
	}

	for want := int64(1); want <= 2; want++ {
		n, err := c.Incr(ctx, "counter")
		if err != nil || n != want {
			t.Errorf("Incr = %d, %v, want %d", n, err, want)
		}
	}

	existed, err := c.Delete(ctx, "k")
	if err != nil || !existed {
		t.Errorf("Delete = %v, %v, want true", existed, err)
	}
	if ok, _ := c.Has(ctx, "k"); ok {
		t.Error("Has after Delete should be false")
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping returned error: %v", err)
	}
}
