package backends

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Limiter bounds concurrent and per-second requests to each vendor and
// coalesces identical in-flight requests.
type Limiter struct {
	policy *Policy

	mu         sync.Mutex
	semaphores map[VendorID]*semaphore
	rates      map[VendorID]*rate.Limiter

	group singleflight.Group
}

// semaphore implements a counting semaphore for rate limiting
type semaphore struct {
	permits chan struct{}
}

// newSemaphore creates a semaphore with the given number of permits
func newSemaphore(permits int) *semaphore {
	s := &semaphore{
		permits: make(chan struct{}, permits),
	}
	for i := 0; i < permits; i++ {
		s.permits <- struct{}{}
	}
	return s
}

// Acquire acquires a permit, blocking if none available
func (s *semaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a permit back to the semaphore
func (s *semaphore) Release() {
	select {
	case s.permits <- struct{}{}:
	default:
		// Should never happen unless Release called more than Acquire
	}
}

// NewLimiter creates a new limiter
func NewLimiter(policy *Policy) *Limiter {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Limiter{
		policy:     policy,
		semaphores: make(map[VendorID]*semaphore),
		rates:      make(map[VendorID]*rate.Limiter),
	}
}

func (l *Limiter) vendorLimits(id VendorID) (*semaphore, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.semaphores[id]
	if !ok {
		vp := l.policy.For(id)
		if vp.MaxInFlight > 0 {
			sem = newSemaphore(vp.MaxInFlight)
		}
		l.semaphores[id] = sem

		lim := rate.NewLimiter(rate.Inf, 0)
		if vp.RatePerSec > 0 {
			burst := vp.Burst
			if burst <= 0 {
				burst = int(math.Max(1, math.Ceil(vp.RatePerSec)))
			}
			lim = rate.NewLimiter(rate.Limit(vp.RatePerSec), burst)
		}
		l.rates[id] = lim
	}
	return sem, l.rates[id]
}

// Acquire waits for a request slot of vendor id. The returned function
// releases the slot.
func (l *Limiter) Acquire(ctx context.Context, id VendorID) (func(), error) {
	sem, lim := l.vendorLimits(id)
	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	if sem == nil {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(sem.Release) }, nil
}

// Coalesce runs fn once for all concurrent callers sharing key. A caller
// whose ctx ends stops waiting; the shared call keeps running for the rest.
func (l *Limiter) Coalesce(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, bool, error) {
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return fn()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
