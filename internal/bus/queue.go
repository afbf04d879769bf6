package bus

import (
	"context"
	"sync"
)

type delivery struct {
	sub *Subscription
	ctx context.Context
	msg Message
}

// deliveryQueue is an unbounded FIFO guarded by a mutex. signal has a buffer
// of one so bursts of enqueues coalesce into a single wake-up.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []delivery
	closed bool
	signal chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  make([]delivery, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// push appends all deliveries at once so a single publish is never
// interleaved with another. Returns false once the queue is closed.
func (q *deliveryQueue) push(ds ...delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, ds...)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *deliveryQueue) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return delivery{}, false
	}
	d := q.items[0]
	q.items[0] = delivery{} // release payload for GC
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return d, true
}

// drained reports whether the queue is closed and empty.
func (q *deliveryQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

func (q *deliveryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *deliveryQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
