package testutil

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/parleyhq/parley/internal/llm"
)

// ScriptedModel satisfies the chat orchestrator's generator surface
// with canned responses.
type ScriptedModel struct {
	mu        sync.Mutex
	Responses []string // consumed in order by Complete
	Chunks    []string // returned by every StreamComplete call
	StreamErr error    // yielded after Chunks when set
	Err       error    // returned by Complete when set
	Title     string   // returned by GenerateTitle

	Completes int
	Streams   int
}

func (s *ScriptedModel) Complete(context.Context, llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Completes++
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "", errors.New("unscripted completion")
	}
	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

func (s *ScriptedModel) StreamComplete(context.Context, llm.Request) (iter.Seq2[string, error], error) {
	s.mu.Lock()
	s.Streams++
	chunks := append([]string{}, s.Chunks...)
	streamErr := s.StreamErr
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if streamErr != nil {
			yield("", streamErr)
		}
	}, nil
}

func (s *ScriptedModel) GenerateTitle(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Title == "" {
		return "", errors.New("no title scripted")
	}
	return s.Title, nil
}
