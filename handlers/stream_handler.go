package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/pipeline"
	"github.com/wartamigas/news-monitor-backend/types"
)

// sseWriter emits server-sent events over a flushable response writer
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for an event stream. It returns false
// when the writer cannot flush, after answering with a plain error.
func newSSEWriter(w http.ResponseWriter, requestID string) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.RespondInternalError(w, fmt.Errorf("streaming not supported"), requestID)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, true
}

// send writes one event as a data frame and flushes it to the client
func (s *sseWriter) send(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleDecodeStream decodes pending aggregator URLs, streaming progress
// @Summary Decode pending article URLs
// @Description Streams server-sent events while aggregator redirect URLs are resolved to their publisher URLs. Each event carries running decoded and failed counts; the final event has type complete.
// @Tags pipeline
// @Produce text/event-stream
// @Param X-User-ID header string true "User identifier"
// @Success 200 {object} types.DecodeEvent
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/articles/decode-urls [post]
func (h *Handler) HandleDecodeStream(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	stream, ok := newSSEWriter(w, requestID)
	if !ok {
		return
	}

	_, err := h.Decoder.Run(r.Context(), userID, func(event types.DecodeEvent) error {
		return stream.send(event)
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	h.Logger.WithError(err).WithFields(map[string]interface{}{
		"user_id":    userID,
		"request_id": requestID,
	}).Error("Decode stream failed")
	_ = stream.send(types.DecodeEvent{Type: types.EventError, Message: err.Error()})
}

// HandleAnalyzeStream analyzes pending articles, streaming progress
// @Summary Analyze pending articles
// @Description Streams server-sent events while pending articles are crawled and run through the language model. When an analysis run is already active for the user, a single complete event is sent and no second run starts.
// @Tags pipeline
// @Produce text/event-stream
// @Param X-User-ID header string true "User identifier"
// @Param limit query int false "Maximum articles to analyze (default: all pending)"
// @Success 200 {object} types.AnalyzeEvent
// @Failure 400 {object} middleware.APIError
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/articles/analyze [post]
func (h *Handler) HandleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	// Zero means every pending article.
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			middleware.RespondBadRequest(w, fmt.Errorf("invalid limit parameter %q", l), requestID)
			return
		}
		limit = parsed
	}

	stream, ok := newSSEWriter(w, requestID)
	if !ok {
		return
	}

	_, err := h.Analyzer.Run(r.Context(), userID, limit, func(event types.AnalyzeEvent) error {
		return stream.send(event)
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return
	case errors.Is(err, pipeline.ErrAnalysisRunning):
		// Another run is already working the queue for this user. Close the
		// stream with an empty complete event instead of starting a second one.
		_ = stream.send(types.AnalyzeEvent{Type: types.EventComplete})
		return
	}

	h.Logger.WithError(err).WithFields(map[string]interface{}{
		"user_id":    userID,
		"request_id": requestID,
	}).Error("Analyze stream failed")
	_ = stream.send(types.AnalyzeEvent{Type: types.EventError, Message: err.Error()})
}
