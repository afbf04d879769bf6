package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmehdipour/order-gateway/internal/model"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy endpoints")
	ErrNoAcquire = fmt.Errorf("endpoint not acquired")
)

// Dispatcher spreads notifications round-robin over the endpoints whose
// breakers are closed, retrying up to maxAttempts times.
type Dispatcher struct {
	endpoints         []Endpoint
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(endpoints []Endpoint, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}

	return &Dispatcher{endpoints: endpoints, maxAttempts: maxAttempts}
}

// FromConfig builds a dispatcher over the enabled webhooks. It returns nil
// when none are enabled.
func FromConfig(cfg config.NotifierConfig) *Dispatcher {
	var eps []Endpoint
	for _, w := range cfg.Webhooks {
		if !w.Enabled {
			continue
		}
		eps = append(eps, NewWebhook(w.Name, w.URL, w.TimeoutMs, w.Breaker.FailThreshold, w.Breaker.OpenForMs))
	}

	if len(eps) == 0 {
		return nil
	}

	return NewDispatcher(eps, cfg.MaxAttempts)
}

func (d *Dispatcher) selectEndpoint() (Endpoint, error) {
	healthy := make([]Endpoint, 0, len(d.endpoints))
	for _, e := range d.endpoints {
		if e.Ready() {
			healthy = append(healthy, e)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, n model.Notification) error {
	e, err := d.selectEndpoint()
	if err != nil {
		return err
	}

	if !e.Acquire() {
		return ErrNoAcquire
	}

	return e.Notify(ctx, n)
}

func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) error {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.tryOnce(ctx, n); err == nil {
			return nil
		} else {
			last = err
		}
	}

	if last == nil {
		last = fmt.Errorf("notify failed")
	}

	return last
}
