package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ephemeral"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/store"
)

// Error codes used in the error envelope.
const (
	codeBadRequest    = "BAD_REQUEST"
	codeUnauthorized  = "UNAUTHORIZED"
	codeNotFound      = "NOT_FOUND"
	codeInvalidModel  = "INVALID_MODEL"
	codeUpstream      = "UPSTREAM_ERROR"
	codeRateLimited   = "RATE_LIMITED"
	codeInternalError = "INTERNAL_ERROR"
)

// errorTypeLLM marks upstream model failures so clients can show a
// dedicated retry UI.
const errorTypeLLM = "LLM_UNAVAILABLE"

// upstreamRetryAfter is the retry hint, in seconds, for 503 responses.
const upstreamRetryAfter = 30

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	ErrorType  string `json:"errorType,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
}

// writeJSON writes a JSON response. Buffer-first so headers go out only
// after successful encoding.
func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// writeData writes the success envelope.
func writeData(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data}, logger)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	writeJSON(w, status, errorEnvelope{Success: false, Error: code, Message: message}, logger)
}

// writeServiceError maps orchestrator errors onto the wire taxonomy.
// A *chat.SendError contributes the surviving chat id so clients can
// retry against the same chat.
func writeServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var chatID string
	var sendErr *chat.SendError
	if errors.As(err, &sendErr) {
		chatID = sendErr.ChatID.String()
	}

	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, codeBadRequest, "message content is required", logger)

	case errors.Is(err, config.ErrInvalidModel):
		writeError(w, http.StatusBadRequest, codeInvalidModel, err.Error(), logger)

	case errors.Is(err, store.ErrChatNotFound), errors.Is(err, ephemeral.ErrExpired):
		writeError(w, http.StatusNotFound, codeNotFound, "chat not found", logger)

	case errors.Is(err, llm.ErrUpstream):
		w.Header().Set("Retry-After", strconv.Itoa(upstreamRetryAfter))
		writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{
			Success:    false,
			Error:      codeUpstream,
			Message:    "the model is temporarily unavailable, please retry",
			ErrorType:  errorTypeLLM,
			RetryAfter: upstreamRetryAfter,
			ChatID:     chatID,
		}, logger)

	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			Success: false,
			Error:   codeInternalError,
			Message: "internal server error",
			ChatID:  chatID,
		}, logger)
	}
}
