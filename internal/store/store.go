package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store depends on. Defined by
// the consumer so tests can substitute a single connection or a
// transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages chat and message persistence.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store. logger may be nil.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateChat creates a chat owned by ownerID. title may be empty.
func (s *Store) CreateChat(ctx context.Context, ownerID, title string) (*Chat, error) {
	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}

	chat := &Chat{OwnerID: ownerID}
	err := s.db.QueryRow(ctx,
		`INSERT INTO chats (owner_id, title) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		ownerID, titlePtr,
	).Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	chat.Title = title

	s.logger.Debug("created chat", "id", chat.ID, "owner", ownerID)
	return chat, nil
}

// ChatForOwner fetches a chat by id scoped to its owner.
// Returns ErrChatNotFound when the chat is absent or owned by someone
// else.
func (s *Store) ChatForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*Chat, error) {
	chat := &Chat{ID: id, OwnerID: ownerID}
	var title *string
	err := s.db.QueryRow(ctx,
		`SELECT title, created_at, updated_at FROM chats
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching chat %s: %w", id, err)
	}
	if title != nil {
		chat.Title = *title
	}
	return chat, nil
}

// ListChats returns all chats owned by ownerID, most recently updated
// first. Messages are not populated.
func (s *Store) ListChats(ctx context.Context, ownerID string) ([]*Chat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM chats
		 WHERE owner_id = $1 ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat := &Chat{OwnerID: ownerID}
		var title *string
		if err := rows.Scan(&chat.ID, &title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		if title != nil {
			chat.Title = *title
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return chats, nil
}

// RenameChat updates a chat's title, scoped to its owner.
func (s *Store) RenameChat(ctx context.Context, id uuid.UUID, ownerID, title string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET title = $1, updated_at = now()
		 WHERE id = $2 AND owner_id = $3`,
		title, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("renaming chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat deletes a chat and all its messages (cascade), scoped to
// its owner.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM chats WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	s.logger.Debug("deleted chat", "id", id, "owner", ownerID)
	return nil
}

// AppendMessage appends one message to a chat and bumps the chat's
// updated_at, all in one transaction. The chat row is locked first so
// concurrent appends to the same chat serialize on the sequence number.
func (s *Store) AppendMessage(ctx context.Context, chatID uuid.UUID, role, content string, metadata map[string]string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant && role != RoleSystem {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking chat %s: %w", chatID, err)
	}

	msg, err := appendInTx(ctx, tx, chatID, role, content, metadata)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("bumping chat updated_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended message", "chat_id", chatID, "role", role, "message_id", msg.ID)
	return msg, nil
}

// Messages returns a chat's messages in creation order. limit > 0
// returns only the most recent limit messages (still oldest first);
// limit <= 0 returns all.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID, limit int32) ([]*Message, error) {
	query := `SELECT id, role, content, metadata, created_at FROM messages
	          WHERE chat_id = $1 ORDER BY sequence ASC`
	args := []any{chatID}
	if limit > 0 {
		query = `SELECT id, role, content, metadata, created_at FROM (
		             SELECT id, role, content, metadata, created_at, sequence
		             FROM messages WHERE chat_id = $1
		             ORDER BY sequence DESC LIMIT $2
		         ) recent ORDER BY sequence ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching messages for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{ChatID: chatID}
		var metaRaw []byte
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &metaRaw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &msg.Metadata); err != nil {
				s.logger.Warn("skipping malformed message metadata", "message_id", msg.ID, "error", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// ImportChat adopts a migrated ephemeral chat: creates a durable chat
// for ownerID and inserts all messages, preserving their relative order
// and original timestamps, in one transaction.
func (s *Store) ImportChat(ctx context.Context, ownerID, title string, createdAt time.Time, messages []*Message) (*Chat, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}

	chat := &Chat{OwnerID: ownerID, Title: title}
	err = tx.QueryRow(ctx,
		`INSERT INTO chats (owner_id, title, created_at) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		ownerID, titlePtr, createdAt,
	).Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating imported chat: %w", err)
	}

	for i, msg := range messages {
		var metaRaw []byte
		if len(msg.Metadata) > 0 {
			metaRaw, err = json.Marshal(msg.Metadata)
			if err != nil {
				return nil, fmt.Errorf("marshaling metadata for message %d: %w", i, err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (chat_id, role, content, metadata, sequence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			chat.ID, msg.Role, msg.Content, metaRaw, i+1, msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("inserting imported message %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info("imported chat", "id", chat.ID, "owner", ownerID, "messages", len(messages))
	return chat, nil
}

// appendInTx inserts a message with the next sequence number. Caller
// holds the chat row lock.
func appendInTx(ctx context.Context, tx pgx.Tx, chatID uuid.UUID, role, content string, metadata map[string]string) (*Message, error) {
	var metaRaw []byte
	if len(metadata) > 0 {
		var err error
		metaRaw, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	msg := &Message{
		ChatID:   chatID,
		Role:     role,
		Content:  content,
		Metadata: metadata,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO messages (chat_id, role, content, metadata, sequence)
		 VALUES ($1, $2, $3, $4,
		         (SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE chat_id = $1))
		 RETURNING id, created_at`,
		chatID, role, content, metaRaw,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}
