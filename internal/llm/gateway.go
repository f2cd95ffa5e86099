// Package llm wraps the Gemini API behind a gateway that owns model
// validation, history conversion, retry, and streaming. Callers never
// touch the provider SDK directly.
package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/store"
)

// generator is the minimal provider surface the gateway needs.
// Production uses the genai client; tests substitute a scripted fake.
type generator interface {
	generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error)
	stream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[string, error]
}

// Request is one completion request. Model must be on the allow-list;
// an empty Model selects the configured default.
type Request struct {
	Model    string
	System   string
	Messages []*store.Message
}

// Gateway mediates all model access. Safe for concurrent use.
type Gateway struct {
	gen      generator
	cfg      *config.Config
	retry    RetryConfig
	classify Classifier
	limiter  *rate.Limiter
	logger   *slog.Logger
	sleep    func(time.Duration) <-chan time.Time
}

// New creates a Gateway backed by the Gemini API. The client reads
// GEMINI_API_KEY from the environment.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newGateway(&genaiGenerator{client: client, logger: logger}, cfg, logger), nil
}

func newGateway(gen generator, cfg *config.Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		gen: gen,
		cfg: cfg,
		retry: RetryConfig{
			MaxAttempts: cfg.RetryMaxAttempts,
			Base:        cfg.RetryBase,
			Cap:         cfg.RetryCap,
		},
		classify: classify,
		// One steady request per second with config-sized bursts covers
		// interactive chat; sustained overload surfaces as 429s upstream
		// anyway.
		limiter: rate.NewLimiter(rate.Limit(1), max(cfg.RateBurst, 1)),
		logger:  logger,
		sleep:   time.After,
	}
}

// resolveModel applies the default and checks the allow-list.
func (g *Gateway) resolveModel(model string) (string, error) {
	if model == "" {
		model = g.cfg.Model
	}
	if err := g.cfg.ValidateModel(model); err != nil {
		return "", err
	}
	return model, nil
}

func (g *Gateway) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.cfg.Temperature),
		TopP:            genai.Ptr(g.cfg.TopP),
		TopK:            genai.Ptr(float32(g.cfg.TopK)),
		MaxOutputTokens: int32(g.cfg.MaxOutputTokens),
	}
}

// Complete runs a non-streaming completion with retry.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	model, err := g.resolveModel(req.Model)
	if err != nil {
		return "", err
	}
	contents, err := toContents(req.System, req.Messages)
	if err != nil {
		return "", err
	}

	var text string
	err = g.withRetry(ctx, "complete", func(ctx context.Context) error {
		var genErr error
		text, genErr = g.gen.generate(ctx, model, contents, g.generateConfig())
		return genErr
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// StreamComplete starts a streaming completion and returns the fragment
// sequence. Validation failures surface before any fragment is
// produced; upstream failures mid-stream arrive as the sequence's final
// element. Streaming calls are not retried, a partial answer cannot be
// replayed.
func (g *Gateway) StreamComplete(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	model, err := g.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	contents, err := toContents(req.System, req.Messages)
	if err != nil {
		return nil, err
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	inner := g.gen.stream(ctx, model, contents, g.generateConfig())
	return func(yield func(string, error) bool) {
		for fragment, err := range inner {
			if err != nil {
				yield("", fmt.Errorf("%w: %w", ErrUpstream, err))
				return
			}
			if fragment == "" {
				continue
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}, nil
}

// TestConnectivity probes the upstream with a minimal completion.
// Best-effort: false means generation will likely fail, not that the
// service cannot run.
func (g *Gateway) TestConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := g.gen.generate(ctx, g.cfg.Model, []*genai.Content{
		genai.NewContentFromText("ping", genai.RoleUser),
	}, &genai.GenerateContentConfig{MaxOutputTokens: 8})
	if err != nil {
		g.logger.Warn("connectivity probe failed", "error", err)
		return false
	}
	return true
}

// titlePrompt asks for a title without conversational framing so the
// raw response is usable directly.
const titlePrompt = "Write a title of at most five words for a conversation " +
	"that starts with the following message. Reply with the title only, " +
	"no quotes, no punctuation at the end.\n\nMessage: %s"

// GenerateTitle produces a short chat title from the first user
// message. Failures are not fatal to the caller; an empty title is a
// valid outcome.
func (g *Gateway) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	title, err := g.Complete(ctx, Request{
		Messages: []*store.Message{{
			Role:    store.RoleUser,
			Content: fmt.Sprintf(titlePrompt, firstMessage),
		}},
	})
	if err != nil {
		return "", err
	}

	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"'`))
	if len(title) > store.TitleMaxLength {
		title = title[:store.TitleMaxLength]
	}
	return title, nil
}

// genaiGenerator is the production generator backed by the Gemini SDK.
type genaiGenerator struct {
	client *genai.Client
	logger *slog.Logger
}

func (p *genaiGenerator) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", err
	}
	if p.logger != nil && resp.UsageMetadata != nil {
		p.logger.Debug("token usage",
			"model", model,
			"prompt_tokens", resp.UsageMetadata.PromptTokenCount,
			"completion_tokens", resp.UsageMetadata.CandidatesTokenCount,
			"total_tokens", resp.UsageMetadata.TotalTokenCount,
		)
	}
	return resp.Text(), nil
}

func (p *genaiGenerator) stream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}
