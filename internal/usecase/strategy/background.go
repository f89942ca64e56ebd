package strategy

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"stashworker/internal/errs"
)

// Refresher runs background revalidations. Concurrent refreshes of the same
// key share one run. Work is detached from the request that scheduled it and
// is only waited for by Wait.
type Refresher struct {
	base  context.Context
	group singleflight.Group

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRefresher(base context.Context) *Refresher {
	if base == nil {
		base = context.Background()
	}
	return &Refresher{base: context.WithoutCancel(base)}
}

// Go schedules fn under key. It is a no-op after Wait has been called.
func (r *Refresher) Go(key string, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		_, _, _ = r.group.Do(key, func() (any, error) {
			fn(r.base)
			return nil, nil
		})
	}()
}

// Wait stops accepting work and blocks until scheduled refreshes finish or
// ctx ends.
func (r *Refresher) Wait(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.Wrap(ctx.Err(), "wait background refreshes")
	}
}

// Idle blocks until every refresh scheduled so far has finished, without
// closing the Refresher.
func (r *Refresher) Idle() {
	r.wg.Wait()
}
