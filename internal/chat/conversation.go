package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/ephemeral"
	"github.com/parleyhq/parley/internal/store"
)

// Store is the durable persistence surface the orchestrator and the
// HTTP layer need. *store.Store satisfies it; tests substitute an
// in-memory implementation.
type Store interface {
	CreateChat(ctx context.Context, ownerID, title string) (*store.Chat, error)
	ChatForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*store.Chat, error)
	ListChats(ctx context.Context, ownerID string) ([]*store.Chat, error)
	RenameChat(ctx context.Context, id uuid.UUID, ownerID, title string) error
	DeleteChat(ctx context.Context, id uuid.UUID, ownerID string) error
	AppendMessage(ctx context.Context, chatID uuid.UUID, role, content string, metadata map[string]string) (*store.Message, error)
	Messages(ctx context.Context, chatID uuid.UUID, limit int32) ([]*store.Message, error)
	ImportChat(ctx context.Context, ownerID, title string, createdAt time.Time, messages []*store.Message) (*store.Chat, error)
}

// Conversation is one resolved chat the orchestrator can work with.
// Resolution (ownership, expiry) happens before a Conversation exists,
// so the orchestrator never sees a chat the caller may not touch.
type Conversation interface {
	ID() uuid.UUID
	Append(ctx context.Context, role, content string) (*store.Message, error)
	History(ctx context.Context, limit int32) ([]*store.Message, error)
	Rename(ctx context.Context, title string) error
	Title() string
}

// Durable adapts a persisted chat to Conversation.
type Durable struct {
	Store Store
	Chat  *store.Chat
}

func (d *Durable) ID() uuid.UUID { return d.Chat.ID }

func (d *Durable) Title() string { return d.Chat.Title }

func (d *Durable) Append(ctx context.Context, role, content string) (*store.Message, error) {
	return d.Store.AppendMessage(ctx, d.Chat.ID, role, content, nil)
}

func (d *Durable) History(ctx context.Context, limit int32) ([]*store.Message, error) {
	return d.Store.Messages(ctx, d.Chat.ID, limit)
}

func (d *Durable) Rename(ctx context.Context, title string) error {
	if err := d.Store.RenameChat(ctx, d.Chat.ID, d.Chat.OwnerID, title); err != nil {
		return err
	}
	d.Chat.Title = title
	return nil
}

// Ephemeral adapts an in-memory anonymous chat to Conversation.
type Ephemeral struct {
	Registry *ephemeral.Registry
	Chat     *store.Chat
}

func (e *Ephemeral) ID() uuid.UUID { return e.Chat.ID }

func (e *Ephemeral) Title() string { return e.Chat.Title }

func (e *Ephemeral) Append(_ context.Context, role, content string) (*store.Message, error) {
	return e.Registry.Append(e.Chat.ID, role, content, nil)
}

func (e *Ephemeral) History(_ context.Context, limit int32) ([]*store.Message, error) {
	chat, err := e.Registry.Get(e.Chat.ID)
	if err != nil {
		return nil, err
	}
	msgs := chat.Messages
	if limit > 0 && int32(len(msgs)) > limit {
		msgs = msgs[int32(len(msgs))-limit:]
	}
	return msgs, nil
}

func (e *Ephemeral) Rename(_ context.Context, title string) error {
	if err := e.Registry.Rename(e.Chat.ID, title); err != nil {
		return err
	}
	e.Chat.Title = title
	return nil
}
