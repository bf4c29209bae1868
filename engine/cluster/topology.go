package cluster

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("engine/cluster")

// SlotsFetcher issues the discovery query (CLUSTER SLOTS) against any known
// connection and returns the raw reply. Injected by the multiplexer so this
// package stays free of connection handling.
type SlotsFetcher func() (resp.Value, error)

// --------------------------------------------------------------------------
// Topology Manager
// --------------------------------------------------------------------------

// Topology maintains the slot map. Reads take a cheap atomic snapshot;
// writes build a new map and publish it wholesale. Concurrent refreshes are
// coalesced: only one discovery query is in flight at a time, late callers
// wait for its result.
type Topology struct {
	fetch   SlotsFetcher
	current atomic.Pointer[SlotMap]

	mu      sync.Mutex
	waiters []chan error
	active  bool
}

// NewTopology creates a topology manager with an empty (incomplete) map.
func NewTopology(fetch SlotsFetcher) *Topology {
	t := &Topology{fetch: fetch}
	t.current.Store(NewSlotMap(nil))
	return t
}

// Snapshot returns the current slot map. Never nil.
func (t *Topology) Snapshot() *SlotMap {
	return t.current.Load()
}

// Lookup resolves the owner of a slot through the current snapshot. It
// fails with a routing error when the snapshot has no owner for the slot.
func (t *Topology) Lookup(slot uint16) (common.Server, error) {
	m := t.Snapshot()
	if owner, ok := m.Lookup(slot); ok {
		return owner, nil
	}
	return common.Server{}, common.NewError(common.KindRouting, "no known owner for slot %d", slot)
}

// Refresh rediscovers the partition and swaps in the new map. When a
// refresh is already running the call joins it instead of issuing a second
// discovery query.
func (t *Topology) Refresh() error {
	t.mu.Lock()
	if t.active {
		ch := make(chan error, 1)
		t.waiters = append(t.waiters, ch)
		t.mu.Unlock()
		return <-ch
	}
	t.active = true
	t.mu.Unlock()

	err := t.refresh()

	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.active = false
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
	return err
}

// RefreshAsync triggers a refresh without waiting for its result (used on
// MOVED redirects and node failures).
func (t *Topology) RefreshAsync() {
	go func() {
		if err := t.Refresh(); err != nil {
			Logger.Warningf("background topology refresh failed: %v", err)
		}
	}()
}

// refresh performs one discovery run.
func (t *Topology) refresh() error {
	v, err := t.fetch()
	if err != nil {
		return common.WrapError(common.KindClusterState, err)
	}
	if serr := v.Err(); serr != nil {
		return common.WrapError(common.KindClusterState, serr)
	}

	ranges, err := ParseClusterSlots(v)
	if err != nil {
		return err
	}

	m := NewSlotMap(ranges)
	if !m.Complete() {
		return common.NewError(common.KindClusterState, "discovery produced an incomplete partition (%s)", m)
	}

	t.current.Store(m)
	Logger.Infof("topology refreshed: %s, %d servers", m, len(m.Servers()))
	return nil
}
