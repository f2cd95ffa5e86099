package llm

import "errors"

// Sentinel errors. Check with errors.Is().
var (
	// ErrUpstream indicates the model provider failed after exhausting
	// retries (or immediately, for fatal errors). Callers translate this
	// to a 503 with a retry hint.
	ErrUpstream = errors.New("model provider unavailable")

	// ErrInvalidHistory indicates the conversation cannot be sent to the
	// model, e.g. the final turn is not a user message.
	ErrInvalidHistory = errors.New("invalid conversation history")

	// ErrEmptyResponse indicates the model returned no usable text.
	ErrEmptyResponse = errors.New("empty model response")
)
