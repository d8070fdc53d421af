package watcher

import (
	"sync"
	"time"
)

// BatchDebouncer holds the events of a burst of writes and hands them over
// once the files stayed untouched for the delay. Only the last event of each
// file is kept, files are listed in the order they first changed.
type BatchDebouncer struct {
	delay time.Duration
	emit  func([]Event)

	mu     sync.Mutex
	timer  *time.Timer
	order  []string
	latest map[string]Event
}

// NewBatchDebouncer creates a debouncer calling emit after each quiet period
func NewBatchDebouncer(delay time.Duration, emit func([]Event)) *BatchDebouncer {
	return &BatchDebouncer{
		delay:  delay,
		emit:   emit,
		latest: make(map[string]Event),
	}
}

// Add records an event and restarts the quiet period
func (b *BatchDebouncer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.latest[event.Path]; !seen {
		b.order = append(b.order, event.Path)
	}
	b.latest[event.Path] = event
	b.restart(b.delay)
}

// restart must be called with mu held
func (b *BatchDebouncer) restart(d time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d, b.flush)
}

// take returns the pending events and resets the batch, mu must be held
func (b *BatchDebouncer) take() []Event {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	events := make([]Event, 0, len(b.order))
	for _, p := range b.order {
		events = append(events, b.latest[p])
	}
	b.order = nil
	b.latest = make(map[string]Event)
	return events
}

func (b *BatchDebouncer) flush() {
	b.mu.Lock()
	events := b.take()
	b.mu.Unlock()

	if len(events) > 0 && b.emit != nil {
		b.emit(events)
	}
}

// Cancel drops the pending events
func (b *BatchDebouncer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.take()
}

// Flush emits the pending events right away
func (b *BatchDebouncer) Flush() {
	b.flush()
}

// EventCount returns the number of files with a pending change
func (b *BatchDebouncer) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
