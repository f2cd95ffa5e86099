package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/parleyhq/parley/internal/store"
)

// SSE event payload types, discriminated by the type field.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

type chunkEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneEvent struct {
	Type    string         `json:"type"`
	Message *store.Message `json:"message"`
}

// errorEvent carries the chat id when the failure happened after the
// user message was persisted, so the client can reload the chat and
// offer a retry.
type errorEvent struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	ChatID string `json:"chatId,omitempty"`
}

// setStreamHeaders prepares the response for SSE: no caching, no proxy
// buffering, so each fragment flushes to the client immediately.
func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent writes one data-only SSE event and flushes it.
func writeEvent[T any](w io.Writer, flusher http.Flusher, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}
