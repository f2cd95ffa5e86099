// Package tools lets the model call external tools mid-conversation.
// It parses tool directives out of model output, executes them against
// a provider, and drives a bounded self-correction cycle when calls
// fail.
package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool describes one callable operation a provider exposes.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Provider executes named tools. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Tools lists the available tools.
	Tools(ctx context.Context) ([]Tool, error)

	// Call executes a tool and returns its textual result.
	Call(ctx context.Context, name string, args map[string]any) (string, error)

	// Close releases the provider's transport.
	Close() error
}
