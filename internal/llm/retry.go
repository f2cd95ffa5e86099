package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Classification buckets upstream errors for the retry driver.
type Classification int

const (
	// Fatal errors fail immediately: bad requests, auth failures,
	// anything a retry cannot fix.
	Fatal Classification = iota
	// Transient errors are worth retrying: rate limits, server errors,
	// network blips.
	Transient
)

// Classifier decides whether an upstream error is worth retrying.
type Classifier func(error) Classification

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxAttempts int           // total attempts, including the first
	Base        time.Duration // initial backoff interval
	Cap         time.Duration // maximum backoff interval
}

// transientPatterns groups error substrings matched case-insensitively
// against err.Error(). Fallback for errors the provider SDK does not
// type; typed genai.APIError codes are checked first.
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "resource exhausted"},
	{"unavailable", "overloaded", "internal error"},
	{"connection reset", "timeout", "temporary"},
}

// classify is the default Classifier.
func classify(err error) Classification {
	if err == nil {
		return Fatal
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return Transient
		default:
			return Fatal
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, pattern := range group {
			if strings.Contains(errStr, pattern) {
				return Transient
			}
		}
	}
	return Fatal
}

// backoff computes the delay before retry number attempt (0-based):
// base doubled per attempt, plus up to one second of jitter, capped.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	delay := rc.Base << attempt
	if delay > rc.Cap || delay <= 0 {
		delay = rc.Cap
	}
	jitter := time.Duration(rand.Int64N(int64(time.Second)))
	return min(delay+jitter, rc.Cap)
}

// withRetry runs fn with exponential backoff. Each attempt passes
// through the gateway rate limiter so retries cannot stampede the
// provider. Fatal errors abort immediately.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	start := time.Now()

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		err := fn(ctx)
		if err == nil {
			g.logger.Debug("model call succeeded",
				"op", op,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return nil
		}

		lastErr = err

		if g.classify(err) == Fatal {
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}

		// Last attempt, no point sleeping.
		if attempt == g.retry.MaxAttempts-1 {
			break
		}

		delay := g.retry.backoff(attempt)
		g.logger.Debug("retrying model call",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-g.sleep(delay):
		}
	}

	return fmt.Errorf("%w: %d attempts over %v: %w",
		ErrUpstream, g.retry.MaxAttempts, time.Since(start).Round(time.Millisecond), lastErr)
}
