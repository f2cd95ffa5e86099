package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/store"
)

// maxCorrections bounds the repair cycle for a failing tool call.
const maxCorrections = 2

// completer is the slice of the LLM gateway the loop needs.
type completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Loop drives tool-augmented completions. The model decides whether to
// call tools; the loop executes them and feeds results back for a final
// answer.
type Loop struct {
	provider Provider
	llm      completer
	logger   *slog.Logger
}

// NewLoop creates a Loop. logger may be nil.
func NewLoop(provider Provider, llm completer, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{provider: provider, llm: llm, logger: logger}
}

type toolResult struct {
	name   string
	output string
}

// Run produces a completion, letting the model call tools. Returns
// ErrToolExecution when a tool kept failing or the model gave up; the
// caller is expected to fall back to a plain completion.
func (l *Loop) Run(ctx context.Context, req llm.Request) (string, error) {
	available, err := l.provider.Tools(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: listing tools: %w", ErrToolExecution, err)
	}
	if len(available) == 0 {
		return l.llm.Complete(ctx, req)
	}

	augmented := req
	augmented.System = req.System + toolPrompt(available)

	response, err := l.llm.Complete(ctx, augmented)
	if err != nil {
		return "", err
	}

	calls, malformed := ParseCalls(response)
	for _, m := range malformed {
		l.logger.Warn("skipping malformed tool directive", "error", m)
	}
	if len(calls) == 0 {
		return response, nil
	}

	results := make([]toolResult, 0, len(calls))
	for _, call := range calls {
		output, err := l.execute(ctx, available, call)
		if err != nil {
			// Only the first failing call drives correction; with one
			// repair budget, later failures would starve it anyway. The
			// correction may land on a different tool, so the result is
			// labeled with the call that actually succeeded.
			call, output, err = l.correct(ctx, augmented, call, err)
			if err != nil {
				return "", err
			}
		}
		results = append(results, toolResult{name: call.Name, output: output})
	}

	final := augmented
	final.Messages = append(append([]*store.Message{}, req.Messages...),
		&store.Message{Role: store.RoleAssistant, Content: response},
		&store.Message{Role: store.RoleUser, Content: resultsPrompt(results)},
	)
	return l.llm.Complete(ctx, final)
}

// execute validates arguments against the tool's schema and runs it.
func (l *Loop) execute(ctx context.Context, available []Tool, call Call) (string, error) {
	var tool *Tool
	for i := range available {
		if available[i].Name == call.Name {
			tool = &available[i]
			break
		}
	}
	if tool == nil {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	if tool.InputSchema != nil {
		resolved, err := tool.InputSchema.Resolve(nil)
		if err != nil {
			return "", fmt.Errorf("resolving schema for %q: %w", call.Name, err)
		}
		if err := resolved.Validate(call.Args); err != nil {
			return "", fmt.Errorf("invalid arguments for %q: %w", call.Name, err)
		}
	}

	l.logger.Debug("executing tool", "tool", call.Name)
	output, err := l.provider.Call(ctx, call.Name, call.Args)
	if err != nil {
		return "", err
	}
	return output, nil
}

// correct runs the bounded repair cycle for one failing call. On
// success it returns the call that worked, which may name a different
// tool than the original.
func (l *Loop) correct(ctx context.Context, base llm.Request, call Call, callErr error) (Call, string, error) {
	for attempt := 1; attempt <= maxCorrections; attempt++ {
		l.logger.Info("asking model to correct tool call",
			"tool", call.Name,
			"attempt", attempt,
			"error", callErr,
		)

		req := base
		req.Messages = append(append([]*store.Message{}, base.Messages...),
			&store.Message{Role: store.RoleUser, Content: correctionPrompt(call, callErr)},
		)
		response, err := l.llm.Complete(ctx, req)
		if err != nil {
			return Call{}, "", err
		}

		if strings.Contains(response, GiveUpMarker) {
			return Call{}, "", fmt.Errorf("%w: model gave up on %q: %w", ErrToolExecution, call.Name, callErr)
		}

		corrected, malformed := ParseCalls(response)
		for _, m := range malformed {
			l.logger.Warn("skipping malformed corrected directive", "error", m)
		}
		if len(corrected) == 0 {
			return Call{}, "", fmt.Errorf("%w: no parseable correction for %q: %w", ErrToolExecution, call.Name, callErr)
		}

		call = corrected[0]
		output, err := l.executeKnown(ctx, call)
		if err == nil {
			return call, output, nil
		}
		callErr = err
	}
	return Call{}, "", fmt.Errorf("%w: correction budget exhausted for %q: %w", ErrToolExecution, call.Name, callErr)
}

// executeKnown re-lists tools before executing a corrected call, since
// the correction may name a different tool than the original.
func (l *Loop) executeKnown(ctx context.Context, call Call) (string, error) {
	available, err := l.provider.Tools(ctx)
	if err != nil {
		return "", fmt.Errorf("listing tools: %w", err)
	}
	return l.execute(ctx, available, call)
}
