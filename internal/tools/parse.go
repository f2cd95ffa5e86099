package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Marker introduces a tool directive in model output:
// TOOL_CALL:<name>:<json-object>.
const Marker = "TOOL_CALL:"

// GiveUpMarker is the model's explicit surrender during correction.
const GiveUpMarker = "GIVE_UP"

// Call is one parsed tool directive. Raw preserves the argument JSON
// exactly as the model wrote it, for correction prompts.
type Call struct {
	Name string
	Args map[string]any
	Raw  string
}

// ParseCalls extracts tool directives from model output. The argument
// object is delimited by brace matching, so nested objects and braces
// inside JSON strings survive. Malformed directives (unbalanced braces,
// invalid JSON, missing name) are returned as errors for logging and
// otherwise skipped; they never abort the whole response.
func ParseCalls(text string) ([]Call, []error) {
	var calls []Call
	var malformed []error

	rest := text
	for {
		idx := strings.Index(rest, Marker)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(Marker):]

		sep := strings.Index(rest, ":")
		if sep < 0 {
			malformed = append(malformed, fmt.Errorf("directive missing argument separator"))
			break
		}
		name := strings.TrimSpace(rest[:sep])
		rest = rest[sep+1:]

		if name == "" {
			malformed = append(malformed, fmt.Errorf("directive missing tool name"))
			continue
		}

		raw, length, ok := matchBraces(rest)
		if !ok {
			malformed = append(malformed, fmt.Errorf("tool %q: unbalanced argument braces", name))
			continue
		}
		rest = rest[length:]

		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			malformed = append(malformed, fmt.Errorf("tool %q: invalid argument JSON: %w", name, err))
			continue
		}

		calls = append(calls, Call{Name: name, Args: args, Raw: raw})
	}

	return calls, malformed
}

// matchBraces returns the balanced JSON object at the start of s
// (ignoring leading whitespace), its consumed length, and whether a
// complete object was found. Braces inside JSON strings, including
// escaped quotes, do not count toward balance.
func matchBraces(s string) (string, int, bool) {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	if start >= len(s) || s[start] != '{' {
		return "", 0, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// braces inside strings are data
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}
