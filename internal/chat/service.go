// Package chat sequences a send-message request: validate, persist the
// user turn, generate a reply (plain, tool-augmented, or streaming),
// persist the assistant turn. The four HTTP entry points (REST and
// SSE, authenticated and anonymous) all funnel through here.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

// systemInstruction frames every conversation sent to the model.
const systemInstruction = "You are a helpful assistant. Answer concisely and directly."

// titleTimeout bounds the post-send title generation call.
const titleTimeout = 15 * time.Second

// Generator is the slice of the LLM gateway the orchestrator needs.
type Generator interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	StreamComplete(ctx context.Context, req llm.Request) (iter.Seq2[string, error], error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// ToolRunner drives tool-augmented completions. Nil disables tools.
type ToolRunner interface {
	Run(ctx context.Context, req llm.Request) (string, error)
}

// SendRequest is one incoming message.
type SendRequest struct {
	Content  string
	Model    string // empty selects the default
	Identity auth.Identity
}

// Event is one element of a streaming send. Exactly one field is set:
// Fragment for incremental text, Message for the terminal done event,
// Err for the terminal error event.
type Event struct {
	Fragment string
	Message  *store.Message
	Err      error
}

// Service is the send-message orchestrator. Safe for concurrent use.
type Service struct {
	gen    Generator
	tools  ToolRunner
	cfg    *config.Config
	logger *slog.Logger
}

// NewService creates a Service. tools may be nil when no tool provider
// is configured; logger may be nil.
func NewService(gen Generator, toolRunner ToolRunner, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, tools: toolRunner, cfg: cfg, logger: logger}
}

// validate rejects bad input before anything is persisted. An invalid
// model must fail here, not after the user message exists.
func (s *Service) validate(req SendRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return ErrEmptyContent
	}
	if req.Model != "" {
		if err := s.cfg.ValidateModel(req.Model); err != nil {
			return err
		}
	}
	return nil
}

// Send handles a blocking (REST) message send. On failure after the
// user message was persisted, the returned error is a *SendError
// carrying the chat id.
func (s *Service) Send(ctx context.Context, conv Conversation, req SendRequest) (*store.Message, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if _, err := conv.Append(ctx, store.RoleUser, req.Content); err != nil {
		return nil, err
	}

	history, err := conv.History(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return nil, &SendError{ChatID: conv.ID(), Err: err}
	}

	llmReq := llm.Request{
		Model:    req.Model,
		System:   systemInstruction,
		Messages: history,
	}

	text, err := s.generate(ctx, llmReq, req.Identity)
	if err != nil {
		return nil, &SendError{ChatID: conv.ID(), Err: err}
	}

	msg, err := conv.Append(ctx, store.RoleAssistant, text)
	if err != nil {
		return nil, &SendError{ChatID: conv.ID(), Err: err}
	}

	s.maybeTitle(ctx, conv, req.Content)
	return msg, nil
}

// generate picks between the tool loop and a plain completion. Tool
// failures never surface: the loop's give-up is followed by a plain
// completion fallback.
func (s *Service) generate(ctx context.Context, req llm.Request, id auth.Identity) (string, error) {
	if !s.toolsAllowed(id) {
		return s.gen.Complete(ctx, req)
	}

	text, err := s.tools.Run(ctx, req)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, tools.ErrToolExecution) {
		return "", err
	}

	s.logger.Warn("tool loop failed, falling back to plain completion", "error", err)
	return s.gen.Complete(ctx, req)
}

// toolsAllowed reports whether this request may use tools: a runner is
// configured and the caller brought a delegated credential (unless the
// deployment does not require one).
func (s *Service) toolsAllowed(id auth.Identity) bool {
	if s.tools == nil {
		return false
	}
	if s.cfg.RequireToolToken && id.ToolToken == "" {
		return false
	}
	return true
}

// SendStream handles a streaming (SSE) message send. Validation and
// user-message persistence failures return an error before any event;
// later failures arrive as a terminal Err event with no done event
// after it. Tools are bypassed entirely when streaming.
func (s *Service) SendStream(ctx context.Context, conv Conversation, req SendRequest) (iter.Seq[Event], error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if _, err := conv.Append(ctx, store.RoleUser, req.Content); err != nil {
		return nil, err
	}

	history, err := conv.History(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return nil, &SendError{ChatID: conv.ID(), Err: err}
	}

	fragments, err := s.gen.StreamComplete(ctx, llm.Request{
		Model:    req.Model,
		System:   systemInstruction,
		Messages: history,
	})
	if err != nil {
		return nil, &SendError{ChatID: conv.ID(), Err: err}
	}

	return func(yield func(Event) bool) {
		var buf strings.Builder
		for fragment, err := range fragments {
			if err != nil {
				yield(Event{Err: &SendError{ChatID: conv.ID(), Err: err}})
				return
			}
			buf.WriteString(fragment)
			if !yield(Event{Fragment: fragment}) {
				// Caller gone mid-stream. The partial reply still cost
				// real tokens; keep it.
				s.persistPartial(ctx, conv, buf.String())
				return
			}
		}

		msg, err := conv.Append(ctx, store.RoleAssistant, buf.String())
		if err != nil {
			yield(Event{Err: &SendError{ChatID: conv.ID(), Err: err}})
			return
		}

		s.maybeTitle(ctx, conv, req.Content)
		yield(Event{Message: msg})
	}, nil
}

// persistPartial writes accumulated text after a client disconnect,
// detached from the dead request context.
func (s *Service) persistPartial(ctx context.Context, conv Conversation, text string) {
	if text == "" {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := conv.Append(bg, store.RoleAssistant, text); err != nil {
		s.logger.Error("persisting partial assistant message", "chat_id", conv.ID(), "error", err)
		return
	}
	s.logger.Info("persisted partial reply after disconnect", "chat_id", conv.ID(), "bytes", len(text))
}

// maybeTitle generates a title for a still-untitled chat. Best effort;
// a send never fails over a missing title.
func (s *Service) maybeTitle(ctx context.Context, conv Conversation, firstMessage string) {
	if conv.Title() != "" {
		return
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
	defer cancel()

	title, err := s.gen.GenerateTitle(tctx, firstMessage)
	if err != nil || title == "" {
		s.logger.Debug("title generation skipped", "chat_id", conv.ID(), "error", err)
		return
	}
	if err := conv.Rename(tctx, title); err != nil {
		s.logger.Debug("saving generated title", "chat_id", conv.ID(), "error", err)
	}
}
