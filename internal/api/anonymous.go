package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ephemeral"
	"github.com/parleyhq/parley/internal/store"
)

// anonymousHandler serves the unauthenticated ephemeral chat endpoints.
// Chats live in memory only and expire an hour after creation.
type anonymousHandler struct {
	registry *ephemeral.Registry
	svc      *chat.Service
	cfg      *config.Config
	logger   *slog.Logger
}

// createChat handles POST /anonymous/chats. As on the authenticated
// endpoint, an initial message runs the full generation cycle
// synchronously before responding.
func (h *anonymousHandler) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", h.logger)
			return
		}
	}
	if len(req.Title) > store.TitleMaxLength {
		writeError(w, http.StatusBadRequest, codeBadRequest, "title too long", h.logger)
		return
	}

	// An invalid model must fail before the chat exists.
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

	c := h.registry.Create(req.Title)

	if req.Message != "" {
		conv := &chat.Ephemeral{Registry: h.registry, Chat: c}
		if _, err := h.svc.Send(r.Context(), conv, chat.SendRequest{
			Content: req.Message,
			Model:   req.Model,
		}); err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
		var err error
		c, err = h.registry.Get(c.ID)
		if err != nil {
			writeServiceError(w, &chat.SendError{ChatID: conv.ID(), Err: err}, h.logger)
			return
		}
	}

	writeData(w, http.StatusCreated, c, h.logger)
}

// resolve looks up a live ephemeral chat.
func (h *anonymousHandler) resolve(id uuid.UUID) (*chat.Ephemeral, error) {
	c, err := h.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return &chat.Ephemeral{Registry: h.registry, Chat: c}, nil
}

// sendMessage handles POST /anonymous/chats/{id}/messages.
func (h *anonymousHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.resolve(id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	msg, err := h.svc.Send(r.Context(), conv, chat.SendRequest{
		Content:  req.Content,
		Model:    req.Model,
		Identity: auth.Identity{},
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, msg, h.logger)
}

// streamMessage handles POST /anonymous/chats/{id}/messages/stream.
func (h *anonymousHandler) streamMessage(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.resolve(id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	streamSend(w, r, h.svc, conv, chat.SendRequest{
		Content: req.Content,
		Model:   req.Model,
	}, h.logger)
}
