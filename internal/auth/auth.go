// Package auth verifies bearer tokens. Token issuance lives in the
// identity service; this side only needs the shared HMAC secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for token verification.
var (
	// ErrTokenMalformed is returned when the token format cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenInvalid is returned when the token signature does not match.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned when the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the authenticated caller. ToolToken is the delegated
// credential for the tool provider, carried separately from the
// primary token; empty when the caller did not supply one.
type Identity struct {
	UserID    string
	ToolToken string
}

// Verifier checks HMAC-signed bearer tokens.
// Format: "userID.expiryUnix.base64url(HMAC-SHA256(secret, userID.expiryUnix))".
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier with the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Sign issues a token for userID valid for ttl. Used by tests and the
// local token mint command.
func (v *Verifier) Sign(userID string, ttl time.Duration) string {
	expiry := v.now().Add(ttl).Unix()
	message := fmt.Sprintf("%s.%d", userID, expiry)

	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(message))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))

	return message + "." + sig
}

// Verify checks a token and returns the caller's user ID.
// SECURITY: the HMAC is verified before the expiry check so response
// timing does not distinguish expired tokens from forged ones.
func (v *Verifier) Verify(token string) (string, error) {
	idx := strings.LastIndex(token, ".")
	if idx < 1 {
		return "", ErrTokenMalformed
	}
	message := token[:idx]

	sig, err := base64.RawURLEncoding.DecodeString(token[idx+1:])
	if err != nil {
		return "", ErrTokenMalformed
	}

	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(message))
	expected := h.Sum(nil)

	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return "", ErrTokenInvalid
	}

	sep := strings.LastIndex(message, ".")
	if sep < 1 {
		return "", ErrTokenMalformed
	}
	expiry, err := strconv.ParseInt(message[sep+1:], 10, 64)
	if err != nil {
		return "", ErrTokenMalformed
	}
	if v.now().After(time.Unix(expiry, 0)) {
		return "", ErrTokenExpired
	}

	userID := message[:sep]
	if userID == "" {
		return "", ErrTokenMalformed
	}
	return userID, nil
}
