package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ephemeral"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

// fakeGen scripts the generator surface.
type fakeGen struct {
	completeText string
	completeErr  error
	chunks       []string
	streamErrAt  int // 1-based chunk index to fail at, 0 = never
	title        string
	completes    int
}

func (f *fakeGen) Complete(context.Context, llm.Request) (string, error) {
	f.completes++
	return f.completeText, f.completeErr
}

func (f *fakeGen) StreamComplete(context.Context, llm.Request) (iter.Seq2[string, error], error) {
	return func(yield func(string, error) bool) {
		for i, c := range f.chunks {
			if f.streamErrAt == i+1 {
				yield("", llm.ErrUpstream)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}, nil
}

func (f *fakeGen) GenerateTitle(context.Context, string) (string, error) {
	return f.title, nil
}

type fakeRunner struct {
	text string
	err  error
	runs int
}

func (f *fakeRunner) Run(context.Context, llm.Request) (string, error) {
	f.runs++
	return f.text, f.err
}

func serviceConfig() *config.Config {
	return &config.Config{
		Models:           []string{"gemini-2.5-flash"},
		Model:            "gemini-2.5-flash",
		HistoryLimit:     50,
		RequireToolToken: true,
	}
}

func newConv(t *testing.T) *Ephemeral {
	t.Helper()
	reg := ephemeral.NewRegistry(log.NewNop())
	return &Ephemeral{Registry: reg, Chat: reg.Create("titled")}
}

func TestSendPersistsBothTurns(t *testing.T) {
	gen := &fakeGen{completeText: "4"}
	svc := NewService(gen, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	msg, err := svc.Send(context.Background(), conv, SendRequest{Content: "2+2?"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Role != store.RoleAssistant || msg.Content != "4" {
		t.Errorf("assistant message = %+v", msg)
	}

	history, err := conv.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != store.RoleUser || history[0].Content != "2+2?" {
		t.Errorf("user turn = %+v", history[0])
	}
	if !history[1].CreatedAt.Before(time.Now().Add(time.Second)) {
		t.Error("assistant turn timestamp out of range")
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	svc := NewService(&fakeGen{}, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	_, err := svc.Send(context.Background(), conv, SendRequest{Content: "   \n\t"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("got %v, want ErrEmptyContent", err)
	}

	history, _ := conv.History(context.Background(), 0)
	if len(history) != 0 {
		t.Errorf("history = %v, want nothing persisted", history)
	}
}

func TestSendRejectsInvalidModelBeforePersisting(t *testing.T) {
	svc := NewService(&fakeGen{}, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	_, err := svc.Send(context.Background(), conv, SendRequest{Content: "hi", Model: "bogus"})
	if !errors.Is(err, config.ErrInvalidModel) {
		t.Fatalf("got %v, want ErrInvalidModel", err)
	}

	history, _ := conv.History(context.Background(), 0)
	if len(history) != 0 {
		t.Error("invalid model must not leave a persisted user message")
	}
}

func TestSendUpstreamFailureKeepsUserMessage(t *testing.T) {
	gen := &fakeGen{completeErr: llm.ErrUpstream}
	svc := NewService(gen, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	_, err := svc.Send(context.Background(), conv, SendRequest{Content: "hi"})

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("got %T, want *SendError", err)
	}
	if sendErr.ChatID != conv.ID() {
		t.Errorf("ChatID = %s, want %s", sendErr.ChatID, conv.ID())
	}
	if !errors.Is(err, llm.ErrUpstream) {
		t.Errorf("cause = %v, want ErrUpstream", err)
	}

	history, _ := conv.History(context.Background(), 0)
	if len(history) != 1 || history[0].Role != store.RoleUser {
		t.Errorf("history = %v, want the user message retained", history)
	}
}

func TestSendToolFallback(t *testing.T) {
	gen := &fakeGen{completeText: "plain answer"}
	runner := &fakeRunner{err: tools.ErrToolExecution}
	svc := NewService(gen, runner, serviceConfig(), log.NewNop())
	conv := newConv(t)

	msg, err := svc.Send(context.Background(), conv, SendRequest{
		Content:  "hi",
		Identity: auth.Identity{UserID: "u1", ToolToken: "tok"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Content != "plain answer" {
		t.Errorf("content = %q, want fallback answer", msg.Content)
	}
	if runner.runs != 1 {
		t.Errorf("runner runs = %d, want 1", runner.runs)
	}
	if gen.completes == 0 {
		t.Error("plain completion fallback never invoked")
	}
}

func TestSendToolGatingWithoutToken(t *testing.T) {
	gen := &fakeGen{completeText: "answer"}
	runner := &fakeRunner{text: "tool answer"}
	svc := NewService(gen, runner, serviceConfig(), log.NewNop())
	conv := newConv(t)

	msg, err := svc.Send(context.Background(), conv, SendRequest{
		Content:  "hi",
		Identity: auth.Identity{UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if runner.runs != 0 {
		t.Error("tool loop must not run without a delegated credential")
	}
	if msg.Content != "answer" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestSendToolsOptionalWithoutToken(t *testing.T) {
	cfg := serviceConfig()
	cfg.RequireToolToken = false
	runner := &fakeRunner{text: "tool answer"}
	svc := NewService(&fakeGen{}, runner, cfg, log.NewNop())
	conv := newConv(t)

	msg, err := svc.Send(context.Background(), conv, SendRequest{Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if runner.runs != 1 {
		t.Error("tool loop should run when no credential is required")
	}
	if msg.Content != "tool answer" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestSendStreamConcatenatesFragments(t *testing.T) {
	gen := &fakeGen{chunks: []string{"Hel", "lo", " world"}}
	svc := NewService(gen, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	events, err := svc.SendStream(context.Background(), conv, SendRequest{Content: "hi"})
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	var sb strings.Builder
	var final *store.Message
	for ev := range events {
		switch {
		case ev.Err != nil:
			t.Fatalf("unexpected error event: %v", ev.Err)
		case ev.Message != nil:
			final = ev.Message
		default:
			sb.WriteString(ev.Fragment)
		}
	}

	if final == nil {
		t.Fatal("no done event")
	}
	if final.Content != "Hello world" || sb.String() != final.Content {
		t.Errorf("fragments %q vs persisted %q", sb.String(), final.Content)
	}

	history, _ := conv.History(context.Background(), 0)
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestSendStreamErrorEndsWithoutDone(t *testing.T) {
	gen := &fakeGen{chunks: []string{"part", "never"}, streamErrAt: 2}
	svc := NewService(gen, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	events, err := svc.SendStream(context.Background(), conv, SendRequest{Content: "hi"})
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	var sawErr, sawDoneAfterErr bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
			if !errors.Is(ev.Err, llm.ErrUpstream) {
				t.Errorf("error event = %v, want ErrUpstream", ev.Err)
			}
			var sendErr *SendError
			if !errors.As(ev.Err, &sendErr) || sendErr.ChatID != conv.ID() {
				t.Errorf("error event missing chat id: %v", ev.Err)
			}
			continue
		}
		if sawErr && ev.Message != nil {
			sawDoneAfterErr = true
		}
	}
	if !sawErr {
		t.Fatal("no error event")
	}
	if sawDoneAfterErr {
		t.Fatal("done event emitted after error")
	}

	// The failed generation must not persist an assistant turn.
	history, _ := conv.History(context.Background(), 0)
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 (user only)", len(history))
	}
}

func TestSendGeneratesTitleForUntitledChat(t *testing.T) {
	gen := &fakeGen{completeText: "hi there", title: "Greetings"}
	svc := NewService(gen, nil, serviceConfig(), log.NewNop())

	reg := ephemeral.NewRegistry(log.NewNop())
	conv := &Ephemeral{Registry: reg, Chat: reg.Create("")}

	if _, err := svc.Send(context.Background(), conv, SendRequest{Content: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if conv.Title() != "Greetings" {
		t.Errorf("title = %q, want generated title", conv.Title())
	}
}

func TestSendKeepsExistingTitle(t *testing.T) {
	gen := &fakeGen{completeText: "hi", title: "Clobber"}
	svc := NewService(gen, nil, serviceConfig(), log.NewNop())
	conv := newConv(t)

	if _, err := svc.Send(context.Background(), conv, SendRequest{Content: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if conv.Title() != "titled" {
		t.Errorf("title = %q, want original preserved", conv.Title())
	}
}
