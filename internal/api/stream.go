package api

import (
	"net/http"
	"time"

	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/streaming"
)

// StreamMeta opens a search event stream
type StreamMeta struct {
	StreamID  string     `json:"streamId"`
	QueryType query.Type `json:"queryType"`
	Queries   []string   `json:"queries"`
}

// RoundEvent announces the round of a streamed search
type RoundEvent struct {
	Round   uint64         `json:"round"`
	Matches query.MatchSet `json:"matches"`
}

// progressEvent converts a search step to a stream event
func progressEvent(p dashboard.Progress) (streaming.EventType, interface{}) {
	switch p.Kind {
	case dashboard.ProgressRound:
		return streaming.EventRound, RoundEvent{Round: p.Round, Matches: p.Matches}
	case dashboard.ProgressTile:
		return streaming.EventTile, p.Tile
	case dashboard.ProgressPartial:
		return streaming.EventPartial, p.Tile
	default:
		return streaming.EventMessage, p.Message
	}
}

// handleSearchStream runs a search and sends every tile as soon as it
// finishes. Parameter errors are answered with a plain JSON error, errors
// of the running search with an error event.
func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		InternalError(w, "Streaming not supported", streaming.ErrNotSupported)
		return
	}

	req, err := parseSearchRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	stream := streaming.NewStream(r.Context(), streaming.DefaultConfig())
	defer stream.Close()

	go func() {
		_ = stream.Send(streaming.EventMeta, StreamMeta{
			StreamID:  stream.ID,
			QueryType: req.QueryType,
			Queries:   req.Queries,
		})
		start := time.Now()
		res, err := s.engine.SearchProgress(stream.Context(), req, func(p dashboard.Progress) {
			typ, data := progressEvent(p)
			_ = stream.Send(typ, data)
		})
		if err != nil {
			code := errors.Code(err)
			s.metrics.RecordError(string(code))
			_ = stream.SendError(string(code), errors.UserMessage(err))
			return
		}
		s.recordResult(res, time.Since(start))
		_ = stream.SendDone(streaming.DoneData{
			Round:    res.Round,
			Complete: res.Complete,
			Tiles:    len(res.Tiles),
		})
	}()

	if err := streaming.Serve(r.Context(), w, stream); err != nil {
		s.logger.Debug("Search stream ended early", map[string]interface{}{
			"streamID":  stream.ID,
			"error":     err.Error(),
			"requestID": GetRequestID(r.Context()),
		})
	}
}
