package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSignVerifyRoundTrip(t *testing.T) {
	v := NewVerifier(testSecret)
	token := v.Sign("user-42", time.Hour)

	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want user-42", userID)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	v := NewVerifier(testSecret)
	token := v.Sign("user-42", time.Hour)

	tampered := strings.Replace(token, "user-42", "user-43", 1)
	if _, err := v.Verify(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("tampered token: got %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token := NewVerifier(testSecret).Sign("user-42", time.Hour)

	other := NewVerifier("another-secret-another-secret-32")
	if _, err := other.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("wrong secret: got %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier(testSecret)
	token := v.Sign("user-42", time.Hour)

	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: got %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewVerifier(testSecret)
	for _, token := range []string{"", "nodots", "a.b", ".sig", "a.b.!!!"} {
		if _, err := v.Verify(token); err == nil {
			t.Errorf("token %q verified, want error", token)
		}
	}
}

func TestUserIDMayContainDots(t *testing.T) {
	v := NewVerifier(testSecret)
	token := v.Sign("user@example.com", time.Hour)

	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user@example.com" {
		t.Errorf("userID = %q", userID)
	}
}
