// Package bus is an in-process publish/subscribe channel. Nothing is
// persisted: a delivery lost to a crash is recovered by replaying the outbox.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/logger"
	"github.com/jmehdipour/order-gateway/internal/metrics"
)

var ErrClosed = errors.New("bus: closed")

type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes one message. Returned errors are logged and counted by the
// bus; they are never reported back to the publisher.
type Handler func(ctx context.Context, msg Message) error

// DeliveryError describes a handler that failed or panicked.
type DeliveryError struct {
	Topic string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("bus: delivery on %q failed: %v", e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Subscription is a cancellable handler registration.
type Subscription struct {
	bus      *Bus
	topic    string
	handler  Handler
	canceled atomic.Bool
}

// Cancel unregisters the handler. Deliveries already queued for it are
// dropped. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.canceled.Swap(true) {
		return
	}
	s.bus.remove(s)
}

func (s *Subscription) Topic() string { return s.topic }

// Bus delivers published payloads to topic subscribers on a single
// dispatcher goroutine. Publish never blocks on handlers.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string][]*Subscription

	queue *deliveryQueue
	done  chan struct{}
}

func New(log *zap.Logger) *Bus {
	b := &Bus{
		log:   logger.OrNop(log).With(zap.String("component", "bus")),
		subs:  make(map[string][]*Subscription),
		queue: newDeliveryQueue(),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe registers h for topic. Handlers of one topic run in subscription order.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	s := &Subscription{bus: b, topic: topic, handler: h}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.topic]
	for i, cur := range list {
		if cur == s {
			// copy so snapshots taken by Publish stay intact
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, s.topic)
			} else {
				b.subs[s.topic] = next
			}
			return
		}
	}
}

// Publish queues payload for every current subscriber of topic and returns
// without waiting for delivery. Each subscriber receives its own copy of
// payload. Cancellation of ctx does not affect queued deliveries.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.queue.isClosed() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	hctx := context.WithoutCancel(ctx)
	ds := make([]delivery, len(subs))
	for i, s := range subs {
		ds[i] = delivery{
			sub: s,
			ctx: hctx,
			msg: Message{Topic: topic, Payload: append([]byte(nil), payload...)},
		}
	}

	if !b.queue.push(ds...) {
		return ErrClosed
	}
	return nil
}

// Pending returns the number of queued, not yet dispatched deliveries.
func (b *Bus) Pending() int { return b.queue.len() }

// Close stops accepting publishes and waits for queued deliveries to finish.
func (b *Bus) Close() error {
	return b.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. The dispatcher keeps draining in the
// background if ctx expires first.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.queue.close()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer close(b.done)

	for {
		for {
			d, ok := b.queue.pop()
			if !ok {
				break
			}
			b.deliver(d)
		}
		if b.queue.drained() {
			return
		}
		<-b.queue.signal
	}
}

func (b *Bus) deliver(d delivery) {
	if d.sub.canceled.Load() {
		return
	}

	err := b.invoke(d)
	if err == nil {
		metrics.BusDeliveriesTotal.WithLabelValues(d.msg.Topic, "ok").Inc()
		return
	}

	metrics.BusDeliveriesTotal.WithLabelValues(d.msg.Topic, "failed").Inc()
	b.log.Warn("delivery failed",
		zap.String("topic", d.msg.Topic),
		zap.Error(err),
	)
}

func (b *Bus) invoke(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DeliveryError{Topic: d.msg.Topic, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if herr := d.sub.handler(ctx, d.msg); herr != nil {
		return &DeliveryError{Topic: d.msg.Topic, Err: herr}
	}
	return nil
}
