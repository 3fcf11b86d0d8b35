package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Dispatcher fans sends out over a pool of providers, round-robin across the
// ones whose breakers are closed, retrying up to maxAttempts. It implements
// Gateway so the worker never sees individual providers.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}

	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, req Request) Result {
	p, err := d.selectProvider()
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	if !p.Acquire() {
		return Result{Success: false, Error: ErrNoAcquire.Error()}
	}

	return p.Send(ctx, req)
}

func (d *Dispatcher) Send(ctx context.Context, req Request) Result {
	var last Result
	for i := 0; i < d.maxAttempts; i++ {
		last = d.tryOnce(ctx, req)
		if last.Success {
			return last
		}
	}

	if last.Error == "" {
		last.Error = "send failed"
	}

	return last
}
