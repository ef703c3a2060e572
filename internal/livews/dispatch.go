package livews

import (
	"sync"

	"github.com/park285/cheese-live/pkg/liveproto"
)

type delivery struct {
	msg   liveproto.Message
	event *Event
}

// dispatchQueue is an unbounded FIFO drained by a single goroutine, so handlers
// run one at a time and may call back into the Manager.
type dispatchQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []delivery
	closed bool
	done   chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *dispatchQueue) push(d delivery) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, d)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// close stops accepting items; already queued items are still delivered.
func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *dispatchQueue) run(fn func(delivery)) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		d := q.items[0]
		q.items[0] = delivery{}
		q.items = q.items[1:]
		q.mu.Unlock()
		fn(d)
	}
}
