package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ephemeral"
	"github.com/parleyhq/parley/internal/store"
)

// defaultMessageLimit is the message page size when the client does not
// ask for one.
const defaultMessageLimit = 50

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// chatHandler serves the durable (authenticated) chat endpoints.
type chatHandler struct {
	store    chat.Store
	registry *ephemeral.Registry
	svc      *chat.Service
	cfg      *config.Config
	logger   *slog.Logger
}

type createChatRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Model   string `json:"model"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

type renameChatRequest struct {
	Title string `json:"title"`
}

// decode reads a bounded JSON body.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return nil
}

// chatID parses the {id} path value.
func chatID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

// parseLimit reads the pagination limit: absent means the default,
// "0" or "all" means unlimited.
func parseLimit(r *http.Request) (int32, error) {
	raw := r.URL.Query().Get("limit")
	switch raw {
	case "":
		return defaultMessageLimit, nil
	case "0", "all":
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer or 'all'")
	}
	return int32(n), nil
}

// resolve fetches a chat scoped to the caller and wraps it for the
// orchestrator.
func (h *chatHandler) resolve(r *http.Request, id uuid.UUID, identity auth.Identity) (*chat.Durable, error) {
	c, err := h.store.ChatForOwner(r.Context(), id, identity.UserID)
	if err != nil {
		return nil, err
	}
	return &chat.Durable{Store: h.store, Chat: c}, nil
}

// createChat handles POST /chats. An initial message runs the full
// generation cycle synchronously before responding.
func (h *chatHandler) createChat(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	var req createChatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", h.logger)
		return
	}
	if len(req.Title) > store.TitleMaxLength {
		writeError(w, http.StatusBadRequest, codeBadRequest, "title too long", h.logger)
		return
	}

	// An invalid model must fail before the chat row exists.
	if req.Model != "" {
		if err := h.cfg.ValidateModel(req.Model); err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
	}
	if req.Message != "" && strings.TrimSpace(req.Message) == "" {
		writeServiceError(w, chat.ErrEmptyContent, h.logger)
		return
	}

	c, err := h.store.CreateChat(r.Context(), identity.UserID, req.Title)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if req.Message != "" {
		conv := &chat.Durable{Store: h.store, Chat: c}
		if _, err := h.svc.Send(r.Context(), conv, chat.SendRequest{
			Content:  req.Message,
			Model:    req.Model,
			Identity: identity,
		}); err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
		c.Messages, err = h.store.Messages(r.Context(), c.ID, 0)
		if err != nil {
			writeServiceError(w, &chat.SendError{ChatID: c.ID, Err: err}, h.logger)
			return
		}
	}

	writeData(w, http.StatusCreated, c, h.logger)
}

// listChats handles GET /chats.
func (h *chatHandler) listChats(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	chats, err := h.store.ListChats(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if chats == nil {
		chats = []*store.Chat{}
	}
	writeData(w, http.StatusOK, chats, h.logger)
}

// getChat handles GET /chats/{id} with optional message pagination.
func (h *chatHandler) getChat(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid chat id", h.logger)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error(), h.logger)
		return
	}

	conv, err := h.resolve(r, id, identity)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	conv.Chat.Messages, err = h.store.Messages(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if conv.Chat.Messages == nil {
		conv.Chat.Messages = []*store.Message{}
	}
	writeData(w, http.StatusOK, conv.Chat, h.logger)
}

// renameChat handles PUT /chats/{id}.
func (h *chatHandler) renameChat(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid chat id", h.logger)
		return
	}

	var req renameChatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", h.logger)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > store.TitleMaxLength {
		writeError(w, http.StatusBadRequest, codeBadRequest, "title must be 1..120 characters", h.logger)
		return
	}

	if err := h.store.RenameChat(r.Context(), id, identity.UserID, title); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id.String(), "title": title}, h.logger)
}

// deleteChat handles DELETE /chats/{id}.
func (h *chatHandler) deleteChat(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid chat id", h.logger)
		return
	}

	if err := h.store.DeleteChat(r.Context(), id, identity.UserID); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// migrateChats handles POST /chats/migrate: bulk-adopt the caller's
// ephemeral chats into durable storage. Unknown or expired ids are
// skipped, not errors; the response lists what was adopted.
func (h *chatHandler) migrateChats(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	var req struct {
		ChatIDs []string `json:"chatIds"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", h.logger)
		return
	}
	if len(req.ChatIDs) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "chatIds is required", h.logger)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.ChatIDs))
	for _, raw := range req.ChatIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid chat id: "+raw, h.logger)
			return
		}
		ids = append(ids, id)
	}

	drained := h.registry.Drain(ids)
	migrated := make([]*store.Chat, 0, len(drained))
	for _, eph := range drained {
		c, err := h.store.ImportChat(r.Context(), identity.UserID, eph.Title, eph.CreatedAt, eph.Messages)
		if err != nil {
			h.logger.Error("importing ephemeral chat", "chat_id", eph.ID, "error", err)
			writeServiceError(w, err, h.logger)
			return
		}
		migrated = append(migrated, c)
	}

	writeData(w, http.StatusOK, map[string]any{
		"migrated": migrated,
		"skipped":  len(ids) - len(drained),
	}, h.logger)
}

// sendMessage handles POST /chats/{id}/messages.
func (h *chatHandler) sendMessage(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid chat id", h.logger)
		return
	}

	var req sendMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", h.logger)
		return
	}

	conv, err := h.resolve(r, id, identity)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	msg, err := h.svc.Send(r.Context(), conv, chat.SendRequest{
		Content:  req.Content,
		Model:    req.Model,
		Identity: identity,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, msg, h.logger)
}

// streamMessage handles POST /chats/{id}/messages/stream.
func (h *chatHandler) streamMessage(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid chat id", h.logger)
		return
	}

	var req sendMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", h.logger)
		return
	}

	conv, err := h.resolve(r, id, identity)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	streamSend(w, r, h.svc, conv, chat.SendRequest{
		Content:  req.Content,
		Model:    req.Model,
		Identity: identity,
	}, h.logger)
}

// streamSend runs a streaming send over SSE. Pre-stream failures are
// plain HTTP errors; once streaming starts, failures become error
// events and the channel ends without a done event.
func streamSend(w http.ResponseWriter, r *http.Request, svc *chat.Service, conv chat.Conversation, req chat.SendRequest, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming not supported", logger)
		return
	}

	events, err := svc.SendStream(r.Context(), conv, req)
	if err != nil {
		writeServiceError(w, err, logger)
		return
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		switch {
		case ev.Err != nil:
			logger.Error("stream failed", "chat_id", conv.ID(), "error", ev.Err)
			out := errorEvent{Type: eventError, Error: publicError(ev.Err)}
			var sendErr *chat.SendError
			if errors.As(ev.Err, &sendErr) {
				// The user message is already persisted; tell the client
				// which chat to reload.
				out.ChatID = sendErr.ChatID.String()
			}
			_ = writeEvent(w, flusher, out)
			return
		case ev.Message != nil:
			_ = writeEvent(w, flusher, doneEvent{Type: eventDone, Message: ev.Message})
		default:
			if err := writeEvent(w, flusher, chunkEvent{Type: eventChunk, Content: ev.Fragment}); err != nil {
				// Client went away; the service persists the partial
				// reply when the range loop is abandoned.
				logger.Debug("client disconnected mid-stream", "chat_id", conv.ID(), "error", err)
				return
			}
		}
	}
}

// publicError reduces an internal error to a client-safe message.
func publicError(err error) string {
	switch {
	case errors.Is(err, ephemeral.ErrExpired), errors.Is(err, store.ErrChatNotFound):
		return "chat not found"
	case errors.Is(err, chat.ErrEmptyContent):
		return "message content is required"
	default:
		return "generation failed, please retry"
	}
}
