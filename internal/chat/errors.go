package chat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyContent indicates an empty or whitespace-only message.
var ErrEmptyContent = errors.New("message content is empty")

// SendError wraps a failure that happened after the user message was
// persisted. ChatID lets the caller reference the surviving chat so a
// retry does not create a duplicate.
type SendError struct {
	ChatID uuid.UUID
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed for chat %s: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
