package action

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/czcorpus/wag-sub001/internal/errors"
)

// ErrSubscriptionClosed is returned by Next after Close or bus shutdown.
var ErrSubscriptionClosed = stderrors.New("subscription closed")

// Subscription buffers the actions matching its predicate. Delivery never
// blocks the bus.
type Subscription struct {
	bus  *Bus
	id   uint64
	pred Predicate

	mu     sync.Mutex
	queue  []Action
	closed bool
	notify chan struct{}
}

func (s *Subscription) matches(a Action) bool {
	return s.pred == nil || s.pred(a)
}

func (s *Subscription) push(a Action) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, a)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close stops buffering. Buffered actions are dropped.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	s.markClosed()
}

// Next returns the next matching action, waiting until one arrives, ctx is
// done or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Action, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			a := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return a, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Action{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return Action{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Await is the one-shot form of a subscription: it waits for the first
// matching action and closes the subscription. A non-positive timeout waits
// until ctx is done. Expiry yields a DependencyTimeout error.
func (s *Subscription) Await(ctx context.Context, timeout time.Duration) (Action, error) {
	defer s.Close()
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	a, err := s.Next(waitCtx)
	if err != nil && ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
		return Action{}, errors.Newf(errors.DependencyTimeout, "no matching action within %s", timeout)
	}
	return a, err
}

// Suspend subscribes to pred and returns a function waiting for the first
// match. The subscription is registered before Suspend returns, so calling
// it from an effect cannot miss actions caused by the current one.
func Suspend(d Dispatcher, pred Predicate) func(ctx context.Context, timeout time.Duration) (Action, error) {
	sub := d.Subscribe(pred)
	return sub.Await
}

// ForTiles matches TileDataLoaded actions of round sent by any of tileIDs.
func ForTiles(round uint64, tileIDs ...int) Predicate {
	return func(a Action) bool {
		if a.Name != TileDataLoaded || a.Round() != round {
			return false
		}
		id, ok := a.TileID()
		if !ok {
			return false
		}
		for _, t := range tileIDs {
			if t == id {
				return true
			}
		}
		return false
	}
}
