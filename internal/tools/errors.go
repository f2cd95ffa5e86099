package tools

import "errors"

// ErrToolExecution indicates the tool loop could not produce an answer:
// a tool kept failing and the correction budget ran out, or the model
// gave up. Never surfaced to end users; callers fall back to a plain
// completion.
var ErrToolExecution = errors.New("tool execution failed")
