package llm

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/store"
)

// systemAck is the synthetic model turn that closes the system
// instruction pair. The Gemini content API only accepts user and model
// roles in history, so the instruction rides in as a leading user turn
// with a fixed acknowledgment.
const systemAck = "Understood."

// toContents converts stored messages into Gemini content turns.
//
// Rules:
//   - A non-empty system instruction becomes a synthetic leading
//     user/model pair.
//   - Stored system-role messages are dropped; they are provider
//     artifacts, not conversation turns.
//   - The final turn must be a user message, otherwise the model has
//     nothing to respond to.
func toContents(system string, messages []*store.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages)+2)

	if system != "" {
		contents = append(contents,
			genai.NewContentFromText(system, genai.RoleUser),
			genai.NewContentFromText(systemAck, genai.RoleModel),
		)
	}

	for _, msg := range messages {
		switch msg.Role {
		case store.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case store.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case store.RoleSystem:
			// dropped
		default:
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidHistory, msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidHistory)
	}
	last := contents[len(contents)-1]
	if last.Role != string(genai.RoleUser) {
		return nil, fmt.Errorf("%w: final turn must be from the user", ErrInvalidHistory)
	}

	return contents, nil
}
