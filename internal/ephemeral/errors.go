package ephemeral

import "errors"

// ErrExpired indicates the chat is unknown or past its lifetime. The
// two cases are indistinguishable on purpose: an expired chat is gone.
var ErrExpired = errors.New("chat expired or not found")
