// Package testutil provides test doubles shared across packages: an
// in-memory chat store, a scripted model, and SSE parsing helpers.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/store"
)

// MemStore is an in-memory chat store for handler and service tests.
// Safe for concurrent use.
type MemStore struct {
	mu    sync.Mutex
	chats map[uuid.UUID]*store.Chat
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{chats: make(map[uuid.UUID]*store.Chat)}
}

func (m *MemStore) CreateChat(_ context.Context, ownerID, title string) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c := &store.Chat{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.chats[c.ID] = c
	return snapshotChat(c), nil
}

func (m *MemStore) ChatForOwner(_ context.Context, id uuid.UUID, ownerID string) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[id]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrChatNotFound
	}
	out := snapshotChat(c)
	out.Messages = nil
	return out, nil
}

func (m *MemStore) ListChats(_ context.Context, ownerID string) ([]*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Chat
	for _, c := range m.chats {
		if c.OwnerID == ownerID {
			item := snapshotChat(c)
			item.Messages = nil
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemStore) RenameChat(_ context.Context, id uuid.UUID, ownerID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[id]
	if !ok || c.OwnerID != ownerID {
		return store.ErrChatNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) DeleteChat(_ context.Context, id uuid.UUID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[id]
	if !ok || c.OwnerID != ownerID {
		return store.ErrChatNotFound
	}
	delete(m.chats, id)
	return nil
}

func (m *MemStore) AppendMessage(_ context.Context, chatID uuid.UUID, role, content string, metadata map[string]string) (*store.Message, error) {
	if role != store.RoleUser && role != store.RoleAssistant && role != store.RoleSystem {
		return nil, store.ErrInvalidRole
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return nil, store.ErrChatNotFound
	}

	msg := &store.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return msg, nil
}

func (m *MemStore) Messages(_ context.Context, chatID uuid.UUID, limit int32) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	msgs := c.Messages
	if limit > 0 && int32(len(msgs)) > limit {
		msgs = msgs[int32(len(msgs))-limit:]
	}
	out := make([]*store.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemStore) ImportChat(_ context.Context, ownerID, title string, createdAt time.Time, messages []*store.Message) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &store.Chat{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
	}
	for _, msg := range messages {
		copied := *msg
		copied.ChatID = c.ID
		c.Messages = append(c.Messages, &copied)
	}
	m.chats[c.ID] = c
	return snapshotChat(c), nil
}

func snapshotChat(c *store.Chat) *store.Chat {
	out := *c
	out.Messages = make([]*store.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
