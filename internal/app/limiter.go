package app

import (
	"context"
)

// PermitPool is a bounded-admission gate in front of notification processing.
// Each admitted task may perform several downstream network calls; the pool
// caps how many run at once so a gateway retry storm cannot exhaust the
// connection pool or saturate the ledger store.
type PermitPool struct {
	permits chan struct{}
}

// NewPermitPool creates a pool admitting at most size concurrent tasks.
func NewPermitPool(size int) *PermitPool {
	if size <= 0 {
		size = 1
	}
	return &PermitPool{permits: make(chan struct{}, size)}
}

// Run blocks until a permit is available or the context is done, executes the
// task while holding the permit, and releases it regardless of the task's
// outcome. Fairness across waiters is best-effort; only the concurrency bound
// is guaranteed.
func (p *PermitPool) Run(ctx context.Context, task func() error) error {
	select {
	case p.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.permits }()

	return task()
}

// Size returns the maximum number of concurrently admitted tasks.
func (p *PermitPool) Size() int {
	return cap(p.permits)
}
