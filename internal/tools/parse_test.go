package tools

import (
	"testing"
)

func TestParseSingleCall(t *testing.T) {
	calls, malformed := ParseCalls(`Let me check. TOOL_CALL:search:{"q":"go iterators"}`)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed directives: %v", malformed)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "search" {
		t.Errorf("name = %q, want search", calls[0].Name)
	}
	if calls[0].Args["q"] != "go iterators" {
		t.Errorf("args = %v", calls[0].Args)
	}
}

func TestParseNestedBracesInStrings(t *testing.T) {
	calls, malformed := ParseCalls(`TOOL_CALL:search:{"q":"{\"nested\":1}"}`)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed directives: %v", malformed)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Args["q"] != `{"nested":1}` {
		t.Errorf("q = %q, want nested object preserved as string", calls[0].Args["q"])
	}
}

func TestParseNestedObjects(t *testing.T) {
	calls, _ := ParseCalls(`TOOL_CALL:put:{"item":{"id":7,"tags":{"a":1}},"dry":false}`)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	item, ok := calls[0].Args["item"].(map[string]any)
	if !ok {
		t.Fatalf("item = %T, want object", calls[0].Args["item"])
	}
	if item["id"] != float64(7) {
		t.Errorf("item.id = %v", item["id"])
	}
}

func TestParseUnbalancedYieldsNothing(t *testing.T) {
	calls, malformed := ParseCalls(`TOOL_CALL:foo:{unbalanced`)
	if len(calls) != 0 {
		t.Errorf("got %d calls, want 0", len(calls))
	}
	if len(malformed) != 1 {
		t.Errorf("got %d malformed, want 1", len(malformed))
	}
}

func TestParseInvalidJSONSkipped(t *testing.T) {
	text := `TOOL_CALL:bad:{not json} and then TOOL_CALL:good:{"ok":true}`
	calls, malformed := ParseCalls(text)
	if len(calls) != 1 || calls[0].Name != "good" {
		t.Fatalf("calls = %v, want only the good directive", calls)
	}
	if len(malformed) != 1 {
		t.Errorf("got %d malformed, want 1", len(malformed))
	}
}

func TestParseMultipleCallsInOrder(t *testing.T) {
	text := `TOOL_CALL:first:{"n":1} some prose TOOL_CALL:second:{"n":2}`
	calls, _ := ParseCalls(text)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("order = %s, %s", calls[0].Name, calls[1].Name)
	}
}

func TestParsePlainTextNoCalls(t *testing.T) {
	calls, malformed := ParseCalls("The answer is 4.")
	if len(calls) != 0 || len(malformed) != 0 {
		t.Errorf("plain text produced calls=%v malformed=%v", calls, malformed)
	}
}

func TestParseRawPreserved(t *testing.T) {
	calls, _ := ParseCalls(`TOOL_CALL:echo:{"a": 1, "b": "two"}`)
	if len(calls) != 1 {
		t.Fatal("expected one call")
	}
	if calls[0].Raw != `{"a": 1, "b": "two"}` {
		t.Errorf("raw = %q", calls[0].Raw)
	}
}
