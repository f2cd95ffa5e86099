package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SSEEvent is one decoded data-only SSE event.
type SSEEvent struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Error   string          `json:"error"`
	ChatID  string          `json:"chatId"`
	Message json.RawMessage `json:"message"`
}

// ParseSSEEvents decodes a data-only SSE stream body.
func ParseSSEEvents(body string) ([]SSEEvent, error) {
	var events []SSEEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload, ok := strings.CutPrefix(block, "data: ")
		if !ok {
			return nil, fmt.Errorf("malformed SSE block %q", block)
		}
		var ev SSEEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decoding SSE payload %q: %w", payload, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
