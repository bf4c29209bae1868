package dispatch

import (
	"sync/atomic"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("engine/dispatch")

var (
	pushesDelivered = metrics.GetOrCreateCounter("respkv_pushes_delivered_total")
	pushesDropped   = metrics.GetOrCreateCounter("respkv_pushes_dropped_total")
)

// invalidationChannel is the well-known channel invalidation notices arrive
// on when the server runs RESP2 and cannot use a dedicated push frame.
const invalidationChannel = "__redis__:invalidate"

// defaultListenerBuffer is the per-listener channel capacity; a listener
// falling further behind loses messages rather than blocking the read loop.
const defaultListenerBuffer = 128

// --------------------------------------------------------------------------
// Push payloads
// --------------------------------------------------------------------------

// Message is one pub/sub delivery. Pattern is set only for pattern-matched
// deliveries.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// Invalidation notifies tracking listeners that the given keys may have
// changed on the originating server.
type Invalidation struct {
	Keys   []string
	Server common.Server
}

// --------------------------------------------------------------------------
// Listener handles
// --------------------------------------------------------------------------

// MessageSub is one registered pub/sub listener. An empty filter receives
// every message.
type MessageSub struct {
	id       uint64
	d        *Dispatcher
	channels map[string]struct{}
	patterns []string
	ch       chan Message
}

// C returns the delivery channel.
func (s *MessageSub) C() <-chan Message { return s.ch }

// Close deregisters the listener and closes its channel.
func (s *MessageSub) Close() {
	if _, loaded := s.d.msgSubs.LoadAndDelete(s.id); loaded {
		close(s.ch)
	}
}

// wants reports whether the listener's filter covers the message.
func (s *MessageSub) wants(m Message) bool {
	if len(s.channels) == 0 && len(s.patterns) == 0 {
		return true
	}
	if _, ok := s.channels[m.Channel]; ok {
		return true
	}
	for _, p := range s.patterns {
		if matchPattern(p, m.Channel) {
			return true
		}
	}
	return false
}

// InvalidationSub is one registered tracking listener.
type InvalidationSub struct {
	id uint64
	d  *Dispatcher
	ch chan Invalidation
}

// C returns the delivery channel.
func (s *InvalidationSub) C() <-chan Invalidation { return s.ch }

// Close deregisters the listener and closes its channel.
func (s *InvalidationSub) Close() {
	if _, loaded := s.d.invSubs.LoadAndDelete(s.id); loaded {
		close(s.ch)
	}
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// Dispatcher classifies decoded values into replies and pushes and fans the
// pushes out to the registered listeners.
type Dispatcher struct {
	nextID  atomic.Uint64
	msgSubs *xsync.MapOf[uint64, *MessageSub]
	invSubs *xsync.MapOf[uint64, *InvalidationSub]
}

// NewDispatcher creates a dispatcher with no listeners.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		msgSubs: xsync.NewMapOf[uint64, *MessageSub](),
		invSubs: xsync.NewMapOf[uint64, *InvalidationSub](),
	}
}

// SubscribeMessages registers a pub/sub listener filtered by the given
// channels and patterns (both may be empty to receive everything).
func (d *Dispatcher) SubscribeMessages(channels, patterns []string) *MessageSub {
	chSet := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		chSet[c] = struct{}{}
	}
	sub := &MessageSub{
		id:       d.nextID.Add(1),
		d:        d,
		channels: chSet,
		patterns: patterns,
		ch:       make(chan Message, defaultListenerBuffer),
	}
	d.msgSubs.Store(sub.id, sub)
	return sub
}

// SubscribeInvalidations registers a tracking listener.
func (d *Dispatcher) SubscribeInvalidations() *InvalidationSub {
	sub := &InvalidationSub{
		id: d.nextID.Add(1),
		d:  d,
		ch: make(chan Invalidation, defaultListenerBuffer),
	}
	d.invSubs.Store(sub.id, sub)
	return sub
}

// CloseAll deregisters every listener (used on quit).
func (d *Dispatcher) CloseAll() {
	d.msgSubs.Range(func(_ uint64, sub *MessageSub) bool {
		sub.Close()
		return true
	})
	d.invSubs.Range(func(_ uint64, sub *InvalidationSub) bool {
		sub.Close()
		return true
	})
}

// --------------------------------------------------------------------------
// Classification
// --------------------------------------------------------------------------

// resp2Sentinels are the first-element words that mark a RESP2 array as a
// push on a subscribed connection. "pong" is deliberately absent: a PING
// issued while subscribed gets its array-shaped reply matched FIFO like any
// other command.
var resp2Sentinels = map[string]struct{}{
	"subscribe":    {},
	"unsubscribe":  {},
	"psubscribe":   {},
	"punsubscribe": {},
	"message":      {},
	"pmessage":     {},
}

// IsPush classifies one decoded value. RESP3 pushes carry an explicit frame
// type; RESP2 pushes are ordinary arrays with a sentinel first element and
// only occur on subscribed connections.
func IsPush(v resp.Value, protocol int, subscribed bool) bool {
	if v.Kind == resp.KindPush {
		return true
	}
	if protocol != 2 || !subscribed {
		return false
	}
	if v.Kind != resp.KindArray || len(v.Elems) == 0 {
		return false
	}
	word, err := v.Elems[0].AsString()
	if err != nil {
		return false
	}
	_, ok := resp2Sentinels[word]
	return ok
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

// Dispatch parses one push frame and fans it out to the listeners of its
// class. from attributes invalidation notices to their originating server.
func (d *Dispatcher) Dispatch(v resp.Value, from common.Server) {
	if len(v.Elems) == 0 {
		Logger.Warningf("empty push frame from %s", from)
		return
	}
	word, err := v.Elems[0].AsString()
	if err != nil {
		Logger.Warningf("push frame from %s with non-string head: %v", from, err)
		return
	}

	switch word {
	case "message":
		if len(v.Elems) < 3 {
			Logger.Warningf("short message push from %s", from)
			return
		}
		channel, _ := v.Elems[1].AsString()
		if channel == invalidationChannel {
			d.deliverInvalidation(v.Elems[2], from)
			return
		}
		payload, _ := v.Elems[2].AsBytes()
		d.deliverMessage(Message{Channel: channel, Payload: payload})

	case "pmessage":
		if len(v.Elems) < 4 {
			Logger.Warningf("short pmessage push from %s", from)
			return
		}
		pattern, _ := v.Elems[1].AsString()
		channel, _ := v.Elems[2].AsString()
		payload, _ := v.Elems[3].AsBytes()
		d.deliverMessage(Message{Channel: channel, Pattern: pattern, Payload: payload})

	case "invalidate":
		if len(v.Elems) < 2 {
			Logger.Warningf("short invalidate push from %s", from)
			return
		}
		d.deliverInvalidation(v.Elems[1], from)

	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		count := int64(-1)
		if len(v.Elems) >= 3 {
			count, _ = v.Elems[2].AsInt64()
		}
		Logger.Debugf("%s acknowledged by %s (active subscriptions: %d)", word, from, count)

	default:
		Logger.Debugf("ignoring out-of-band push %q from %s", word, from)
	}
}

// deliverMessage broadcasts a pub/sub message to every listener whose
// filter covers it.
func (d *Dispatcher) deliverMessage(m Message) {
	d.msgSubs.Range(func(_ uint64, sub *MessageSub) bool {
		if !sub.wants(m) {
			return true
		}
		select {
		case sub.ch <- m:
			pushesDelivered.Inc()
		default:
			pushesDropped.Inc()
			Logger.Warningf("dropping message on channel %q: listener too slow", m.Channel)
		}
		return true
	})
}

// deliverInvalidation broadcasts an invalidation notice. A null key set
// (flushall with broadcasting) is delivered as an empty key slice.
func (d *Dispatcher) deliverInvalidation(keys resp.Value, from common.Server) {
	inv := Invalidation{Server: from}
	if !keys.IsNull() {
		ks, err := keys.AsStringSlice()
		if err != nil {
			// single-key variant: the payload is one bulk string
			if k, serr := keys.AsString(); serr == nil {
				ks = []string{k}
			} else {
				Logger.Warningf("malformed invalidation payload from %s: %v", from, err)
				return
			}
		}
		inv.Keys = ks
	}

	d.invSubs.Range(func(_ uint64, sub *InvalidationSub) bool {
		select {
		case sub.ch <- inv:
			pushesDelivered.Inc()
		default:
			pushesDropped.Inc()
			Logger.Warningf("dropping invalidation from %s: listener too slow", from)
		}
		return true
	})
}
