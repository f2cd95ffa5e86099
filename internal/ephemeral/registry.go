// Package ephemeral keeps anonymous chats in memory with a fixed
// lifetime. Nothing here touches the database; expired chats are gone
// for good unless migrated to durable storage first.
package ephemeral

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/store"
)

// DefaultTTL is how long an anonymous chat lives, measured from
// creation. Activity does not extend it.
const DefaultTTL = time.Hour

// DefaultSweepInterval is how often the background sweeper removes
// expired chats.
const DefaultSweepInterval = 30 * time.Minute

type entry struct {
	mu      sync.Mutex // serializes appends to this chat
	chat    *store.Chat
	expires time.Time
}

// Registry holds anonymous chats keyed by id. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	chats  map[uuid.UUID]*entry
	ttl    time.Duration
	sweep  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the chat lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithSweepInterval overrides how often the sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweep = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry. logger may be nil.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		chats:  make(map[uuid.UUID]*entry),
		ttl:    DefaultTTL,
		sweep:  DefaultSweepInterval,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new anonymous chat and returns it.
func (r *Registry) Create(title string) *store.Chat {
	now := r.now()
	chat := &store.Chat{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.chats[chat.ID] = &entry{chat: chat, expires: now.Add(r.ttl)}
	r.mu.Unlock()

	r.logger.Debug("created ephemeral chat", "id", chat.ID)
	return chat
}

// Get returns a snapshot of the chat, or ErrExpired if it is unknown
// or past its lifetime. The returned chat's message slice is a copy;
// mutating it does not affect the registry.
func (r *Registry) Get(id uuid.UUID) (*store.Chat, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.chat), nil
}

// Append adds a message to the chat. Appends to the same chat are
// serialized; interleaved concurrent appends never corrupt ordering.
func (r *Registry) Append(id uuid.UUID, role, content string, metadata map[string]string) (*store.Message, error) {
	if role != store.RoleUser && role != store.RoleAssistant && role != store.RoleSystem {
		return nil, store.ErrInvalidRole
	}

	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msg := &store.Message{
		ID:        uuid.New(),
		ChatID:    id,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: r.now(),
	}
	e.chat.Messages = append(e.chat.Messages, msg)
	e.chat.UpdatedAt = msg.CreatedAt
	return msg, nil
}

// Rename updates the chat's title.
func (r *Registry) Rename(id uuid.UUID, title string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.chat.Title = title
	e.chat.UpdatedAt = r.now()
	e.mu.Unlock()
	return nil
}

// Remove deletes the chat. Removing an unknown chat is not an error.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.chats, id)
	r.mu.Unlock()
}

// Drain removes and returns all live chats. Used by migration: the
// caller persists the returned chats, and they stop being served from
// memory immediately so no appends race the import.
func (r *Registry) Drain(ids []uuid.UUID) []*store.Chat {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var drained []*store.Chat
	for _, id := range ids {
		e, ok := r.chats[id]
		if !ok || !now.Before(e.expires) {
			continue
		}
		delete(r.chats, id)

		e.mu.Lock()
		drained = append(drained, snapshot(e.chat))
		e.mu.Unlock()
	}
	return drained
}

// Len reports the number of live (unexpired) chats.
func (r *Registry) Len() int {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.chats {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// Run sweeps expired chats until ctx is cancelled. Call in its own
// goroutine.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	r.logger.Info("ephemeral sweeper started", "interval", r.sweep, "ttl", r.ttl)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ephemeral sweeper stopped")
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.Info("swept expired chats", "removed", removed)
			}
		}
	}
}

// Sweep removes expired chats now and reports how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.chats {
		if !now.Before(e.expires) {
			delete(r.chats, id)
			removed++
		}
	}
	return removed
}

// lookup returns the live entry for id. Expired entries are treated as
// absent even before the sweeper removes them.
func (r *Registry) lookup(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.chats[id]
	r.mu.RUnlock()

	// A chat is dead at the exact expiry instant, not one tick later.
	if !ok || !r.now().Before(e.expires) {
		return nil, ErrExpired
	}
	return e, nil
}

func snapshot(c *store.Chat) *store.Chat {
	out := *c
	out.Messages = make([]*store.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
