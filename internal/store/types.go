// Package store provides durable persistence of chats and messages for
// identified users, backed by PostgreSQL.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. These are the only values accepted by the messages
// table check constraint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TitleMaxLength bounds chat titles, generated or user-supplied.
const TitleMaxLength = 120

// Chat represents a conversation. Durable chats are owned by exactly
// one identified user; ephemeral chats reuse this shape with an empty
// OwnerID and never touch the database.
type Chat struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   string     `json:"-"`
	Title     string     `json:"title,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []*Message `json:"messages,omitempty"`
}

// Message is a single conversation turn. Immutable once persisted;
// ordering by sequence (and creation time) is the history contract fed
// to the model.
type Message struct {
	ID        uuid.UUID         `json:"id"`
	ChatID    uuid.UUID         `json:"chatId"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
