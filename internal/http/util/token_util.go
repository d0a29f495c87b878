package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("page secret is not configured")
)

const (
	payloadSize   = 12 // 4 bytes expiry + 8 random bytes
	signatureSize = 16
)

// TokenSigner issues short HMAC tokens bound to a subject, such as a chat identity.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer whose tokens expire after ttl.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a token for subject.
func (s *TokenSigner) Issue(subject string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	payload := make([]byte, payloadSize)
	binary.BigEndian.PutUint32(payload[:4], uint32(s.now().Add(s.ttl).Unix()))
	if _, err := rand.Read(payload[4:]); err != nil {
		return "", err
	}

	sig := s.sign(subject, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sig[:signatureSize]), nil
}

// Validate checks that token was issued for subject and has not expired.
func (s *TokenSigner) Validate(subject, token string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	payloadEnc, sigEnc, found := strings.Cut(token, ".")
	if !found {
		return ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != payloadSize {
		return ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sig) != signatureSize {
		return ErrInvalidToken
	}

	expected := s.sign(subject, payload)
	if !hmac.Equal(sig, expected[:signatureSize]) {
		return ErrInvalidToken
	}
	if s.now().Unix() > int64(binary.BigEndian.Uint32(payload[:4])) {
		return ErrInvalidToken
	}
	return nil
}

func (s *TokenSigner) sign(subject string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(subject))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}

// PageLinks builds signed URLs of the verification instructions page.
type PageLinks struct {
	baseURL string
	signer  *TokenSigner
}

// NewPageLinks returns a link builder. An empty baseURL disables links.
func NewPageLinks(baseURL string, signer *TokenSigner) *PageLinks {
	return &PageLinks{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		signer:  signer,
	}
}

// InstructionsURL returns /verify/:identity/:sig under the base URL, or "" when disabled.
func (p *PageLinks) InstructionsURL(identity string) (string, error) {
	if p == nil || p.baseURL == "" {
		return "", nil
	}
	sig, err := p.signer.Issue(identity)
	if err != nil {
		return "", fmt.Errorf("sign instructions url: %w", err)
	}
	return fmt.Sprintf("%s/verify/%s/%s", p.baseURL, url.PathEscape(identity), sig), nil
}
