package screener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/careloop-health/screener-engine/internal/http/middleware"
	"github.com/careloop-health/screener-engine/internal/observability/metrics"
)

// StreamHandler serves the SSE variant of message processing. Event order on
// the wire is start, zero or more chunk events, then exactly one complete or
// error event.
type StreamHandler struct {
	*Handler
	metrics *metrics.ScreenerMetrics
}

func NewStreamHandler(h *Handler, m *metrics.ScreenerMetrics) *StreamHandler {
	if h == nil {
		panic("screener: handler cannot be nil")
	}
	return &StreamHandler{Handler: h, metrics: m}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("screener: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("screener: encode sse payload: %w", err)
	}
	if _, err := io.WriteString(s.w, "event: "+event+"\ndata: "+string(data)+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type streamStartPayload struct {
	ConversationID string `json:"conversationId"`
}

type streamChunkPayload struct {
	Content string `json:"content"`
}

type streamErrorPayload struct {
	Error string `json:"error"`
}

// Stream handles GET /conversations/{id}/stream?content=...
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}
	content := r.URL.Query().Get("content")

	events, err := h.service.ProcessMessageStream(r.Context(), MessageRequest{
		ConversationID: conversationID,
		UserID:         middleware.UserIDFromContext(r.Context()),
		Content:        content,
	})
	if err != nil {
		// Validation failures happen before any SSE bytes, so a plain JSON
		// error response is still possible.
		h.respondServiceError(w, err, "failed to open message stream")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		h.logger.Error("sse unsupported by response writer", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	h.metrics.StreamStarted()
	defer h.metrics.StreamEnded()

	if err := sse.send("start", streamStartPayload{ConversationID: conversationID.String()}); err != nil {
		h.logger.Warn("client disconnected before stream start", "conversation_id", conversationID)
		// Drain so the producer goroutine can finish or abort on its own
		// cancelled context.
		for range events {
		}
		return
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			if errorsIsDisconnect(ev.Err) {
				h.logger.Info("client disconnected mid-stream", "conversation_id", conversationID)
				return
			}
			h.logger.Error("message stream failed", "conversation_id", conversationID, "error", ev.Err)
			_ = sse.send("error", streamErrorPayload{Error: "Failed to process message"})
			return

		case ev.Result != nil:
			if err := sse.send("complete", toMessageResponse(ev.Result)); err != nil {
				h.logger.Warn("client disconnected before completion event", "conversation_id", conversationID)
			}
			return

		case ev.Chunk != "":
			if err := sse.send("chunk", streamChunkPayload{Content: ev.Chunk}); err != nil {
				h.logger.Info("client disconnected mid-stream", "conversation_id", conversationID)
				// Drain so the producer goroutine can finish or abort on
				// its own cancelled context.
				for range events {
				}
				return
			}
		}
	}
}

func errorsIsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, http.ErrAbortHandler) ||
		errors.Is(err, context.Canceled)
}
