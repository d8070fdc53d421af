package action

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/czcorpus/wag-sub001/internal/logging"
)

// Effect is a side effect returned by a reducer. Effects run on the bus
// goroutine after every handler has reduced the action; they must not
// block and start goroutines for any I/O.
type Effect func(d Dispatcher)

// Handler is a model registered on the bus.
type Handler interface {
	// HandleAction reduces a into the handler's state and returns the side
	// effect to run, or nil.
	HandleAction(a Action) Effect
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(a Action) Effect

func (f HandlerFunc) HandleAction(a Action) Effect { return f(a) }

// Predicate selects actions for a subscription.
type Predicate func(a Action) bool

// Dispatcher is the part of the bus visible to effects.
type Dispatcher interface {
	// Dispatch enqueues a. It never delivers inline and never blocks.
	Dispatch(a Action)
	// Subscribe registers a predicate-filtered buffer of future actions.
	Subscribe(pred Predicate) *Subscription
}

// Bus delivers actions one at a time to all handlers in registration order.
type Bus struct {
	logger *logging.Logger

	mu      sync.Mutex
	queue   []Action
	signal  chan struct{}
	stopped bool

	handlersMu sync.RWMutex
	handlers   []Handler

	subsMu sync.Mutex
	subs   []*Subscription
	nextID uint64
}

// NewBus creates an idle bus. Call Run to start delivery.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Bus{
		logger: logger,
		signal: make(chan struct{}, 1),
	}
}

// Register appends h to the delivery order.
func (b *Bus) Register(h Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch enqueues a for delivery.
func (b *Bus) Dispatch(a Action) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.logger.Debug("Dropping action on stopped bus", map[string]interface{}{
			"action": a.Name,
		})
		return
	}
	b.queue = append(b.queue, a)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Subscribe registers pred. Only actions processed after this call are
// offered to the subscription; when called from an effect, that includes
// everything dispatched as a consequence of the current action.
func (b *Bus) Subscribe(pred Predicate) *Subscription {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.nextID++
	s := &Subscription{
		bus:    b,
		id:     b.nextID,
		pred:   pred,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		s.closed = true
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for i, item := range b.subs {
		if item.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Run delivers queued actions until ctx is cancelled. Actions still queued
// at that point are discarded.
func (b *Bus) Run(ctx context.Context) error {
	defer func() {
		b.mu.Lock()
		b.stopped = true
		b.queue = nil
		b.mu.Unlock()

		b.subsMu.Lock()
		subs := b.subs
		b.subs = nil
		b.subsMu.Unlock()
		for _, s := range subs {
			s.markClosed()
		}
	}()

	for {
		for {
			a, ok := b.pop()
			if !ok {
				break
			}
			b.process(a)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.signal:
		}
	}
}

func (b *Bus) pop() (Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Action{}, false
	}
	a := b.queue[0]
	b.queue[0] = Action{}
	b.queue = b.queue[1:]
	return a, true
}

// process runs the three delivery phases for a single action: reducers,
// subscriptions registered before a, effects.
func (b *Bus) process(a Action) {
	b.handlersMu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	effects := make([]Effect, 0, len(handlers))
	for _, h := range handlers {
		if e := b.reduce(h, a); e != nil {
			effects = append(effects, e)
		}
	}

	b.subsMu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.subsMu.Unlock()
	for _, s := range subs {
		if s.matches(a) {
			s.push(a)
		}
	}

	for _, e := range effects {
		b.runEffect(a, e)
	}
}

func (b *Bus) reduce(h Handler, a Action) (e Effect) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Reducer panic", map[string]interface{}{
				"action": a.Name,
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			})
			e = nil
		}
	}()
	return h.HandleAction(a)
}

func (b *Bus) runEffect(a Action, e Effect) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Side effect panic", map[string]interface{}{
				"action": a.Name,
				"panic":  fmt.Sprintf("%v", r),
			})
		}
	}()
	e(b)
}
