// Package sysmsg keeps the auto-expiring system notifications shown to
// operators next to the tiles.
package sysmsg

import (
	"sync"
	"time"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/google/uuid"
)

// DefaultTTL is how long a message stays visible.
const DefaultTTL = 10 * time.Second

// Message types
const (
	TypeError   = "error"
	TypeWarning = "warning"
	TypeInfo    = "info"
)

// Message is one notification.
type Message struct {
	Ident     string    `json:"ident"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	TileID    int       `json:"tileId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Queue collects AddSystemMessage actions. It is a bus handler with no
// side effects.
type Queue struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	messages []Message
}

// NewQueue creates a queue; ttl <= 0 means DefaultTTL.
func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{ttl: ttl, now: time.Now}
}

// SetClock replaces the time source (tests).
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// HandleAction implements action.Handler.
func (q *Queue) HandleAction(a action.Action) action.Effect {
	if a.Name != action.AddSystemMessage {
		return nil
	}
	if p, ok := a.Payload.(action.SystemMessage); ok {
		q.Add(p.Type, p.Text, p.TileID)
	}
	return nil
}

// Add stores a message and returns its ident.
func (q *Queue) Add(msgType, text string, tileID int) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	msg := Message{
		Ident:     uuid.New().String(),
		Type:      msgType,
		Text:      text,
		TileID:    tileID,
		CreatedAt: now,
		ExpiresAt: now.Add(q.ttl),
	}
	q.messages = append(q.messages, msg)
	return msg.Ident
}

// Active returns non-expired messages, oldest first, and drops expired ones.
func (q *Queue) Active() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	kept := q.messages[:0]
	for _, m := range q.messages {
		if now.Before(m.ExpiresAt) {
			kept = append(kept, m)
		}
	}
	q.messages = kept
	ans := make([]Message, len(kept))
	copy(ans, kept)
	return ans
}

// Remove drops a message before its expiry.
func (q *Queue) Remove(ident string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.messages {
		if m.Ident == ident {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return
		}
	}
}

// ErrorAction builds the action tiles dispatch next to a failed load.
func ErrorAction(tileID int, text string) action.Action {
	return action.Action{
		Name: action.AddSystemMessage,
		Payload: action.SystemMessage{
			Type:   TypeError,
			Text:   text,
			TileID: tileID,
		},
	}
}
