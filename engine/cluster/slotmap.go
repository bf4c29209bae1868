package cluster

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/resp"
)

// --------------------------------------------------------------------------
// Slot Map
// --------------------------------------------------------------------------

// SlotRange assigns one contiguous slot range to its owning server and its
// replicas.
type SlotRange struct {
	Start    uint16
	End      uint16
	Owner    common.Server
	Replicas []common.Server
}

// SlotMap is one immutable snapshot of the slot partition. It is rebuilt
// wholesale on every discovery and published by atomic swap; readers never
// observe a mixed old/new partition.
type SlotMap struct {
	ranges   []SlotRange // sorted by Start
	complete bool
}

// NewSlotMap builds a snapshot from discovery output. The map is marked
// complete only when the ranges cover all slots without gap or overlap;
// routing through an incomplete map yields routing errors until the next
// successful refresh.
func NewSlotMap(ranges []SlotRange) *SlotMap {
	sorted := make([]SlotRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	complete := len(sorted) > 0
	next := uint16(0)
	for _, r := range sorted {
		if r.Start != next || r.End < r.Start {
			complete = false
			break
		}
		if r.End == SlotCount-1 {
			next = SlotCount - 1
			break
		}
		next = r.End + 1
	}
	if next != SlotCount-1 {
		complete = false
	}

	return &SlotMap{ranges: sorted, complete: complete}
}

// Complete reports whether the map covers the full partition.
func (m *SlotMap) Complete() bool {
	return m.complete
}

// Lookup returns the owner of the given slot.
func (m *SlotMap) Lookup(slot uint16) (common.Server, bool) {
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].End >= slot })
	if i == len(m.ranges) || m.ranges[i].Start > slot {
		return common.Server{}, false
	}
	return m.ranges[i].Owner, true
}

// Replicas returns the replicas of the given slot's owner.
func (m *SlotMap) Replicas(slot uint16) []common.Server {
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].End >= slot })
	if i == len(m.ranges) || m.ranges[i].Start > slot {
		return nil
	}
	return m.ranges[i].Replicas
}

// Servers returns the deduplicated set of owning servers.
func (m *SlotMap) Servers() []common.Server {
	seen := make(map[string]struct{}, len(m.ranges))
	out := make([]common.Server, 0, len(m.ranges))
	for _, r := range m.ranges {
		if _, ok := seen[r.Owner.Addr()]; ok {
			continue
		}
		seen[r.Owner.Addr()] = struct{}{}
		out = append(out, r.Owner)
	}
	return out
}

// String returns a short human-readable summary, used in log messages.
func (m *SlotMap) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d ranges (complete=%t)", len(m.ranges), m.complete)
	return sb.String()
}

// --------------------------------------------------------------------------
// CLUSTER SLOTS parsing
// --------------------------------------------------------------------------

// ParseClusterSlots converts a CLUSTER SLOTS reply into slot ranges. Each
// entry is [start, end, [host, port, id?], replica...].
func ParseClusterSlots(v resp.Value) ([]SlotRange, error) {
	if v.Kind != resp.KindArray {
		return nil, common.NewError(common.KindClusterState, "unexpected discovery reply of kind %s", v.Kind)
	}
	ranges := make([]SlotRange, 0, len(v.Elems))
	for _, entry := range v.Elems {
		if entry.Kind != resp.KindArray || len(entry.Elems) < 3 {
			return nil, common.NewError(common.KindClusterState, "malformed slot range entry")
		}
		start, err := entry.Elems[0].AsInt64()
		if err != nil {
			return nil, common.WrapError(common.KindClusterState, err)
		}
		end, err := entry.Elems[1].AsInt64()
		if err != nil {
			return nil, common.WrapError(common.KindClusterState, err)
		}
		if start < 0 || end >= SlotCount || end < start {
			return nil, common.NewError(common.KindClusterState, "slot range %d-%d out of bounds", start, end)
		}
		owner, err := parseSlotServer(entry.Elems[2])
		if err != nil {
			return nil, err
		}
		r := SlotRange{Start: uint16(start), End: uint16(end), Owner: owner}
		for _, replica := range entry.Elems[3:] {
			s, err := parseSlotServer(replica)
			if err != nil {
				return nil, err
			}
			r.Replicas = append(r.Replicas, s)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// parseSlotServer parses one [host, port, id?] node entry.
func parseSlotServer(v resp.Value) (common.Server, error) {
	if v.Kind != resp.KindArray || len(v.Elems) < 2 {
		return common.Server{}, common.NewError(common.KindClusterState, "malformed node entry")
	}
	host, err := v.Elems[0].AsString()
	if err != nil {
		return common.Server{}, common.WrapError(common.KindClusterState, err)
	}
	port, err := v.Elems[1].AsInt64()
	if err != nil {
		return common.Server{}, common.WrapError(common.KindClusterState, err)
	}
	if port <= 0 || port > 65535 {
		return common.Server{}, common.NewError(common.KindClusterState, "invalid node port %d", port)
	}
	s := common.Server{Host: host, Port: uint16(port)}
	if len(v.Elems) > 2 {
		s.ID, _ = v.Elems[2].AsString()
	}
	return s, nil
}
