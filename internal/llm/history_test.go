package llm

import (
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/store"
)

func textOf(c *genai.Content) string {
	if len(c.Parts) == 0 {
		return ""
	}
	return c.Parts[0].Text
}

func TestToContentsSystemPair(t *testing.T) {
	contents, err := toContents("You are terse.", []*store.Message{
		{Role: store.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("toContents: %v", err)
	}

	if len(contents) != 3 {
		t.Fatalf("got %d turns, want 3", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || textOf(contents[0]) != "You are terse." {
		t.Errorf("first turn = %s %q, want user instruction", contents[0].Role, textOf(contents[0]))
	}
	if contents[1].Role != string(genai.RoleModel) || textOf(contents[1]) != systemAck {
		t.Errorf("second turn = %s %q, want model acknowledgment", contents[1].Role, textOf(contents[1]))
	}
}

func TestToContentsDropsSystemMessages(t *testing.T) {
	contents, err := toContents("", []*store.Message{
		{Role: store.RoleUser, Content: "one"},
		{Role: store.RoleSystem, Content: "internal note"},
		{Role: store.RoleAssistant, Content: "two"},
		{Role: store.RoleUser, Content: "three"},
	})
	if err != nil {
		t.Fatalf("toContents: %v", err)
	}

	if len(contents) != 3 {
		t.Fatalf("got %d turns, want 3 (system dropped)", len(contents))
	}
	for _, c := range contents {
		if textOf(c) == "internal note" {
			t.Error("system message leaked into history")
		}
	}
}

func TestToContentsRoleMapping(t *testing.T) {
	contents, err := toContents("", []*store.Message{
		{Role: store.RoleUser, Content: "q"},
		{Role: store.RoleAssistant, Content: "a"},
		{Role: store.RoleUser, Content: "q2"},
	})
	if err != nil {
		t.Fatalf("toContents: %v", err)
	}
	want := []string{string(genai.RoleUser), string(genai.RoleModel), string(genai.RoleUser)}
	for i, c := range contents {
		if c.Role != want[i] {
			t.Errorf("turn %d role = %s, want %s", i, c.Role, want[i])
		}
	}
}

func TestToContentsRejectsTrailingAssistant(t *testing.T) {
	_, err := toContents("", []*store.Message{
		{Role: store.RoleUser, Content: "q"},
		{Role: store.RoleAssistant, Content: "a"},
	})
	if !errors.Is(err, ErrInvalidHistory) {
		t.Errorf("got %v, want ErrInvalidHistory", err)
	}
}

func TestToContentsRejectsEmpty(t *testing.T) {
	_, err := toContents("", nil)
	if !errors.Is(err, ErrInvalidHistory) {
		t.Errorf("got %v, want ErrInvalidHistory", err)
	}

	// Only system messages is effectively empty too.
	_, err = toContents("", []*store.Message{{Role: store.RoleSystem, Content: "x"}})
	if !errors.Is(err, ErrInvalidHistory) {
		t.Errorf("system-only history: got %v, want ErrInvalidHistory", err)
	}
}
