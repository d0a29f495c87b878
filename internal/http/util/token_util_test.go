package util

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenSigner_RoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("secret"), time.Minute)

	token, err := signer.Issue("U1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := signer.Validate("U1", token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := signer.Validate("U2", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token must be bound to its subject, got %v", err)
	}
}

func TestTokenSigner_Rejects(t *testing.T) {
	signer := NewTokenSigner([]byte("secret"), time.Minute)
	token, err := signer.Issue("U1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewTokenSigner([]byte("other"), time.Minute)

	tests := []struct {
		name   string
		signer *TokenSigner
		token  string
	}{
		{name: "no_separator", signer: signer, token: "abc"},
		{name: "bad_base64", signer: signer, token: "!!!.???"},
		{name: "truncated_signature", signer: signer, token: token[:len(token)-2]},
		{name: "other_secret", signer: other, token: token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.signer.Validate("U1", tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenSigner_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewTokenSigner([]byte("secret"), time.Minute)
	signer.now = func() time.Time { return now }

	token, err := signer.Issue("U1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := signer.Validate("U1", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestTokenSigner_MissingSecret(t *testing.T) {
	signer := NewTokenSigner(nil, time.Minute)
	if _, err := signer.Issue("U1"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestPageLinks(t *testing.T) {
	signer := NewTokenSigner([]byte("secret"), time.Minute)

	disabled := NewPageLinks("", signer)
	if url, err := disabled.InstructionsURL("U1"); err != nil || url != "" {
		t.Fatalf("expected no url without base, got %q, %v", url, err)
	}

	links := NewPageLinks("https://bot.example/", signer)
	url, err := links.InstructionsURL("U 1")
	if err != nil {
		t.Fatalf("InstructionsURL: %v", err)
	}
	prefix := "https://bot.example/verify/U%201/"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("unexpected url %q", url)
	}
	if err := signer.Validate("U 1", strings.TrimPrefix(url, prefix)); err != nil {
		t.Fatalf("signature in url must validate: %v", err)
	}
}
