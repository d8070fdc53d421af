package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotSupported is returned by Serve when w cannot flush.
var ErrNotSupported = errors.New("streaming not supported")

// Serve writes the events of s to w as they come until the stream closes
// or ctx ends.
func Serve(ctx context.Context, w http.ResponseWriter, s *Stream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrNotSupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return nil
			}
			if err := WriteEvent(w, ev); err != nil {
				return err
			}
			flusher.Flush()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteEvent writes ev in the text/event-stream format.
func WriteEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}
