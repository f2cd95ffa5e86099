package store

import "errors"

// Sentinel errors for store operations, part of the Store's public API.
// Check with errors.Is().
var (
	// ErrChatNotFound indicates the chat does not exist or is not owned
	// by the requesting user. The two cases are deliberately not
	// distinguished to avoid leaking chat existence across owners.
	ErrChatNotFound = errors.New("chat not found")

	// ErrInvalidRole indicates a message role outside user/assistant/system.
	ErrInvalidRole = errors.New("invalid message role")
)
