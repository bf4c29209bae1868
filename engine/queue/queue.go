// Package queue implements the per-connection ordered ledger of in-flight
// requests. RESP connections carry no request IDs, so reply-to-request
// correlation depends entirely on send order matching receive order per
// connection; this package is where that invariant lives.
//
// Every entry is tagged with the generation of the connection that sent it.
// A drain bumps the generation atomically, so a late reply read from a dying
// connection can never be matched against entries of the freshly reconnected
// generation.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/edwingeng/deque/v2"
)

// --------------------------------------------------------------------------
// In-Flight Entry
// --------------------------------------------------------------------------

// Result is the final outcome of one command.
type Result struct {
	Value resp.Value
	Err   error
}

// Entry is one in-flight command: the request plus its single-fulfillment
// completion slot. An abandoned waiter is safe: the entry stays in the queue
// and is still resolved (result discarded) when its reply arrives.
type Entry struct {
	Request *common.CommandRequest

	// Generation of the connection the entry was last sent on; set by Push.
	Generation uint64

	// Attempts counts engine-side re-submissions (redirects, retries).
	Attempts int

	done     chan Result
	resolved atomic.Bool

	// onResolve runs exactly once when the entry resolves, regardless of
	// outcome. The multiplexer uses it to return the pipeline-depth token.
	onResolve func()
}

// NewEntry creates an entry for the given request.
func NewEntry(req *common.CommandRequest) *Entry {
	return &Entry{
		Request: req,
		done:    make(chan Result, 1),
	}
}

// OnResolve registers the single resolution hook. Must be called before the
// entry is pushed.
func (e *Entry) OnResolve(f func()) {
	e.onResolve = f
}

// Resolve fulfills the entry exactly once. Later calls are ignored, which
// makes the reconcile-after-drain path safe against replies that raced the
// disconnect.
func (e *Entry) Resolve(v resp.Value, err error) {
	if !e.resolved.CompareAndSwap(false, true) {
		return
	}
	e.done <- Result{Value: v, Err: err}
	if e.onResolve != nil {
		e.onResolve()
	}
}

// Resolved reports whether the entry has been fulfilled.
func (e *Entry) Resolved() bool {
	return e.resolved.Load()
}

// Done returns the completion channel. It receives exactly one Result.
func (e *Entry) Done() <-chan Result {
	return e.done
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

// Queue is the strictly FIFO in-flight ledger of one connection slot.
type Queue struct {
	mu         sync.Mutex
	dq         *deque.Deque[*Entry]
	generation uint64
	closed     bool
}

// New creates an empty queue at generation 1.
func New() *Queue {
	return &Queue{
		dq:         deque.NewDeque[*Entry](),
		generation: 1,
	}
}

// Generation returns the current generation.
func (q *Queue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generation
}

// Len returns the number of in-flight entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dq.Len()
}

// Push appends an entry, tagging it with the current generation. It fails
// when the queue is closed.
func (q *Queue) Push(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return common.NewError(common.KindConnectionLost, "queue closed")
	}
	e.Generation = q.generation
	q.dq.PushBack(e)
	return nil
}

// PopFront removes and returns the oldest entry, provided gen still matches
// the queue's generation. A reply read from a connection of a drained
// generation finds a mismatch and is discarded by the caller.
func (q *Queue) PopFront(gen uint64) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.generation != gen || q.dq.Len() == 0 {
		return nil, false
	}
	return q.dq.PopFront(), true
}

// Drain atomically removes every entry of generation gen and advances the
// queue to the next generation. It returns nil when gen was already drained,
// so the disconnect path and a concurrent close cannot reconcile the same
// entries twice.
func (q *Queue) Drain(gen uint64) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != gen {
		return nil
	}
	q.generation++
	return q.takeAll()
}

// Close marks the queue unusable and returns whatever was still in flight.
func (q *Queue) Close() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.generation++
	return q.takeAll()
}

// takeAll removes all entries; caller must hold q.mu.
func (q *Queue) takeAll() []*Entry {
	out := make([]*Entry, 0, q.dq.Len())
	for q.dq.Len() > 0 {
		out = append(out, q.dq.PopFront())
	}
	return out
}
