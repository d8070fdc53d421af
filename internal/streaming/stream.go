// Package streaming delivers the progress of a search as server-sent
// events, so clients can render tiles as soon as their data arrives.
package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of streaming event.
type EventType string

const (
	// EventMeta opens the stream with the search parameters.
	EventMeta EventType = "meta"
	// EventRound announces the round and the resolved lemma variants.
	EventRound EventType = "round"
	// EventTile delivers a tile that finished the round.
	EventTile EventType = "tile"
	// EventPartial delivers data of a tile still loading.
	EventPartial EventType = "partial"
	// EventMessage delivers a system message.
	EventMessage EventType = "message"
	// EventDone signals stream completion.
	EventDone EventType = "done"
	// EventError signals a fatal error.
	EventError EventType = "error"
	// EventHeartbeat keeps connection alive.
	EventHeartbeat EventType = "heartbeat"
)

// ErrClosed is returned when sending to a closed stream.
var ErrClosed = errors.New("stream closed")

// Event represents a single streaming event.
type Event struct {
	ID   int64       `json:"id"`
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// DoneData signals stream completion.
type DoneData struct {
	Round     uint64 `json:"round"`
	Complete  bool   `json:"complete"`
	Tiles     int    `json:"tiles"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// ErrorData contains error information.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatData keeps the connection alive.
type HeartbeatData struct {
	Sequence int `json:"seq"`
}

// Stream represents an active streaming session.
type Stream struct {
	ID        string
	StartedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	events          chan Event
	heartbeatPeriod time.Duration

	// senders hold mu for reading while they wait on events, Close takes
	// it for writing after cancelling them
	mu     sync.RWMutex
	closed bool

	sequence     atomic.Int64
	heartbeatSeq int
}

// StreamConfig configures stream behavior.
type StreamConfig struct {
	MaxBuffer       int           // Max buffered events (default: 64)
	HeartbeatPeriod time.Duration // Heartbeat interval (default: 15s)
}

// DefaultConfig returns default streaming configuration.
func DefaultConfig() StreamConfig {
	return StreamConfig{
		MaxBuffer:       64,
		HeartbeatPeriod: 15 * time.Second,
	}
}

// NewStream creates a new streaming session ending with ctx.
func NewStream(ctx context.Context, config StreamConfig) *Stream {
	if config.MaxBuffer <= 0 {
		config.MaxBuffer = 64
	}
	if config.HeartbeatPeriod <= 0 {
		config.HeartbeatPeriod = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		ID:              uuid.New().String(),
		StartedAt:       time.Now(),
		ctx:             ctx,
		cancel:          cancel,
		events:          make(chan Event, config.MaxBuffer),
		heartbeatPeriod: config.HeartbeatPeriod,
	}

	go s.heartbeatLoop()

	return s
}

// Events returns the event channel for consumers. It is closed by Close.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Context returns the stream's context.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Send sends one event, blocking while the buffer is full.
func (s *Stream) Send(typ EventType, data interface{}) error {
	return s.send(typ, data, true)
}

// SendDone sends the final event and closes the stream.
func (s *Stream) SendDone(data DoneData) error {
	if data.ElapsedMs == 0 {
		data.ElapsedMs = time.Since(s.StartedAt).Milliseconds()
	}
	err := s.Send(EventDone, data)
	s.Close()
	return err
}

// SendError signals a fatal error and closes the stream.
func (s *Stream) SendError(code, message string) error {
	err := s.Send(EventError, ErrorData{Code: code, Message: message})
	s.Close()
	return err
}

// Close closes the stream. Events already buffered stay readable.
func (s *Stream) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// IsClosed returns true if the stream is closed.
func (s *Stream) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Stream) send(typ EventType, data interface{}, block bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	// a cancelled stream must not take more events even with buffer space
	if err := s.ctx.Err(); err != nil {
		return err
	}

	ev := Event{ID: s.sequence.Add(1), Type: typ, Data: data}
	if !block {
		select {
		case s.events <- ev:
			return nil
		default:
			return nil
		}
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// heartbeatLoop sends periodic heartbeats.
func (s *Stream) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.heartbeatSeq++
			// skipped while the buffer is full
			_ = s.send(EventHeartbeat, HeartbeatData{Sequence: s.heartbeatSeq}, false)
		}
	}
}
