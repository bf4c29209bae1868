package cluster

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/resp"
)

// TestCRC16 tests the checksum against the reference vector
func TestCRC16(t *testing.T) {
	if got := crc16([]byte("123456789")); got != 0x31C3 {
		t.Errorf("crc16(123456789) = %#x, want 0x31c3", got)
	}
	if got := crc16(nil); got != 0 {
		t.Errorf("crc16(empty) = %#x, want 0", got)
	}
}

// TestKeySlot tests slot derivation including hash tags
func TestKeySlot(t *testing.T) {
	tests := []struct {
		key  string
		want uint16
	}{
		// reference values
		{"123456789", 0x31C3 % SlotCount},
		// hash tag: only the tag content counts
		{"{user1000}.following", crc16([]byte("user1000")) % SlotCount},
		{"{user1000}.followers", crc16([]byte("user1000")) % SlotCount},
		// empty tag means the whole key is hashed
		{"foo{}{bar}", crc16([]byte("foo{}{bar}")) % SlotCount},
		// only the first tag counts
		{"foo{{bar}}zap", crc16([]byte("{bar")) % SlotCount},
		{"foo{bar}{zap}", crc16([]byte("bar")) % SlotCount},
		// unterminated brace is not a tag
		{"foo{bar", crc16([]byte("foo{bar")) % SlotCount},
	}
	for _, tt := range tests {
		if got := KeySlot([]byte(tt.key)); got != tt.want {
			t.Errorf("KeySlot(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}

	// keys sharing a tag must land on the same slot
	if KeySlot([]byte("{order:7}:items")) != KeySlot([]byte("{order:7}:total")) {
		t.Error("Keys with the same hash tag should map to the same slot")
	}
}

// TestSlotMapLookup tests range lookup over a complete partition
func TestSlotMapLookup(t *testing.T) {
	a := common.Server{Host: "10.0.0.1", Port: 7000}
	b := common.Server{Host: "10.0.0.2", Port: 7000}
	c := common.Server{Host: "10.0.0.3", Port: 7000}

	m := NewSlotMap([]SlotRange{
		{Start: 5461, End: 10922, Owner: b},
		{Start: 0, End: 5460, Owner: a, Replicas: []common.Server{c}},
		{Start: 10923, End: 16383, Owner: c},
	})

	if !m.Complete() {
		t.Fatal("Partition covering all slots should be complete")
	}

	tests := []struct {
		slot uint16
		want common.Server
	}{
		{0, a}, {5460, a}, {5461, b}, {10922, b}, {10923, c}, {16383, c},
	}
	for _, tt := range tests {
		owner, ok := m.Lookup(tt.slot)
		if !ok || !owner.Equal(tt.want) {
			t.Errorf("Lookup(%d) = %v, want %v", tt.slot, owner, tt.want)
		}
	}

	if replicas := m.Replicas(42); len(replicas) != 1 || !replicas[0].Equal(c) {
		t.Errorf("Replicas(42) = %v, want [%v]", replicas, c)
	}

	if servers := m.Servers(); len(servers) != 3 {
		t.Errorf("Servers() should return 3 owners, got %d", len(servers))
	}
}

// TestSlotMapIncomplete tests gap and overlap detection
func TestSlotMapIncomplete(t *testing.T) {
	a := common.Server{Host: "a", Port: 1}

	cases := map[string][]SlotRange{
		"empty": nil,
		"gap": {
			{Start: 0, End: 100, Owner: a},
			{Start: 200, End: 16383, Owner: a},
		},
		"missing tail": {
			{Start: 0, End: 16000, Owner: a},
		},
		"missing head": {
			{Start: 100, End: 16383, Owner: a},
		},
		"overlap": {
			{Start: 0, End: 8000, Owner: a},
			{Start: 7000, End: 16383, Owner: a},
		},
	}
	for name, ranges := range cases {
		m := NewSlotMap(ranges)
		if m.Complete() {
			t.Errorf("%s: partition should be incomplete", name)
		}
		if name == "gap" {
			if _, ok := m.Lookup(150); ok {
				t.Error("gap: Lookup inside the gap should fail")
			}
			if _, ok := m.Lookup(50); !ok {
				t.Error("gap: Lookup inside a covered range should still work")
			}
		}
	}
}

// TestParseClusterSlots tests conversion of a discovery reply
func TestParseClusterSlots(t *testing.T) {
	node := func(host string, port int64, id string) resp.Value {
		elems := []resp.Value{resp.BulkString([]byte(host)), resp.Integer(port)}
		if id != "" {
			elems = append(elems, resp.BulkString([]byte(id)))
		}
		return resp.Array(elems...)
	}

	reply := resp.Array(
		resp.Array(resp.Integer(0), resp.Integer(8191),
			node("10.0.0.1", 7000, "abc"), node("10.0.0.2", 7000, "def")),
		resp.Array(resp.Integer(8192), resp.Integer(16383),
			node("10.0.0.3", 7000, "")),
	)

	ranges, err := ParseClusterSlots(reply)
	if err != nil {
		t.Fatalf("ParseClusterSlots returned error: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("Expected 2 ranges, got %d", len(ranges))
	}
	if ranges[0].Owner.Host != "10.0.0.1" || ranges[0].Owner.ID != "abc" {
		t.Errorf("Unexpected owner: %+v", ranges[0].Owner)
	}
	if len(ranges[0].Replicas) != 1 || ranges[0].Replicas[0].Host != "10.0.0.2" {
		t.Errorf("Unexpected replicas: %+v", ranges[0].Replicas)
	}
	if !NewSlotMap(ranges).Complete() {
		t.Error("Parsed partition should be complete")
	}

	// malformed replies
	bad := []resp.Value{
		resp.Integer(1),
		resp.Array(resp.Array(resp.Integer(0))),
		resp.Array(resp.Array(resp.Integer(0), resp.Integer(99999), node("h", 1, ""))),
		resp.Array(resp.Array(resp.Integer(0), resp.Integer(10), node("h", 0, ""))),
	}
	for i, v := range bad {
		if _, err := ParseClusterSlots(v); !common.IsKind(err, common.KindClusterState) {
			t.Errorf("case %d: expected cluster state error, got %v", i, err)
		}
	}
}

// TestParseRedirect tests MOVED and ASK parsing
func TestParseRedirect(t *testing.T) {
	r, ok := ParseRedirect("MOVED 3999 127.0.0.1:6381")
	if !ok || r.Ask || r.Slot != 3999 || r.Server.Host != "127.0.0.1" || r.Server.Port != 6381 {
		t.Errorf("MOVED parse failed: %+v ok=%t", r, ok)
	}

	r, ok = ParseRedirect("ASK 12182 10.1.2.3:7005")
	if !ok || !r.Ask || r.Slot != 12182 || r.Server.Port != 7005 {
		t.Errorf("ASK parse failed: %+v ok=%t", r, ok)
	}

	for _, s := range []string{
		"ERR unknown command",
		"MOVED",
		"MOVED abc 1.2.3.4:1",
		"MOVED 1 not-an-addr",
		"CLUSTERDOWN The cluster is down",
	} {
		if _, ok := ParseRedirect(s); ok {
			t.Errorf("ParseRedirect(%q) should fail", s)
		}
	}
}

// TestTopologyRefresh tests snapshot swap and routing errors
func TestTopologyRefresh(t *testing.T) {
	a := common.Server{Host: "a", Port: 1}
	reply := resp.Array(
		resp.Array(resp.Integer(0), resp.Integer(16383),
			resp.Array(resp.BulkString([]byte(a.Host)), resp.Integer(int64(a.Port)))),
	)

	topo := NewTopology(func() (resp.Value, error) { return reply, nil })

	// before the first refresh every lookup is a routing error
	if _, err := topo.Lookup(1); !common.IsKind(err, common.KindRouting) {
		t.Errorf("Lookup before refresh should be a routing error, got %v", err)
	}

	if err := topo.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	owner, err := topo.Lookup(12345)
	if err != nil || !owner.Equal(a) {
		t.Errorf("Lookup after refresh = %v, %v; want %v", owner, err, a)
	}
}

// TestTopologyIncompleteKeepsOldMap tests that a failed discovery does not
// clobber the last good snapshot
func TestTopologyIncompleteKeepsOldMap(t *testing.T) {
	a := common.Server{Host: "a", Port: 1}
	good := resp.Array(
		resp.Array(resp.Integer(0), resp.Integer(16383),
			resp.Array(resp.BulkString([]byte(a.Host)), resp.Integer(int64(a.Port)))),
	)
	partial := resp.Array(
		resp.Array(resp.Integer(0), resp.Integer(100),
			resp.Array(resp.BulkString([]byte(a.Host)), resp.Integer(int64(a.Port)))),
	)

	var useGood atomic.Bool
	useGood.Store(true)
	topo := NewTopology(func() (resp.Value, error) {
		if useGood.Load() {
			return good, nil
		}
		return partial, nil
	})

	if err := topo.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	useGood.Store(false)
	if err := topo.Refresh(); !common.IsKind(err, common.KindClusterState) {
		t.Fatalf("Refresh with partial partition should fail, got %v", err)
	}

	// the old complete map must still route
	if _, err := topo.Lookup(9000); err != nil {
		t.Errorf("Lookup should still use the last good map, got %v", err)
	}
}

// TestTopologyCoalescing tests that concurrent refreshes share one discovery
func TestTopologyCoalescing(t *testing.T) {
	a := common.Server{Host: "a", Port: 1}
	reply := resp.Array(
		resp.Array(resp.Integer(0), resp.Integer(16383),
			resp.Array(resp.BulkString([]byte(a.Host)), resp.Integer(int64(a.Port)))),
	)

	var fetches atomic.Int64
	gate := make(chan struct{})
	topo := NewTopology(func() (resp.Value, error) {
		fetches.Add(1)
		<-gate
		return reply, nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = topo.Refresh()
	}()

	// wait until the first refresh holds the active flag
	for {
		topo.mu.Lock()
		active := topo.active
		topo.mu.Unlock()
		if active {
			break
		}
		time.Sleep(time.Millisecond)
	}

	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = topo.Refresh()
		}(i)
	}

	// let the joiners queue up, then release the discovery
	for {
		topo.mu.Lock()
		n := len(topo.waiters)
		topo.mu.Unlock()
		if n == 4 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Errorf("Expected exactly 1 discovery query, got %d", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("Refresh %d returned error: %v", i, err)
		}
	}
}
