// Package auth issues and verifies PASETO v2.local tokens for two
// audiences: short-lived merchant widget sessions handed to the storefront
// JS, and longer-lived operator sessions for the admin surface.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/o1egl/paseto"
)

// ErrTokenExpired is returned when a token's claims are valid but its
// expiry has passed.
var ErrTokenExpired = errors.New("auth: token expired")

// ErrTokenInvalid covers malformed tokens, bad signatures, and claims that
// fail validation.
var ErrTokenInvalid = errors.New("auth: token invalid")

// Audience distinguishes a merchant widget session token from an internal
// operator session token, so a widget token can never be replayed against
// the admin surface.
type Audience string

const (
	AudienceWidget   Audience = "widget"
	AudienceOperator Audience = "operator"
)

// Claims is the PASETO footer-free payload carried by every token this
// package issues.
type Claims struct {
	Subject  string    `json:"sub"`
	StoreID  string    `json:"store_id,omitempty"`
	Audience Audience  `json:"aud"`
	IssuedAt time.Time `json:"iat"`
	Expires  time.Time `json:"exp"`
}

func tokenKey() []byte {
	if hexKey := os.Getenv("PASETO_SYMMETRIC_KEY"); hexKey != "" {
		if key, err := hex.DecodeString(hexKey); err == nil && len(key) == 32 {
			return key
		}
	}
	// 32 zero bytes: a deliberately-unsafe fallback for local development
	// only. Production deployments must set PASETO_SYMMETRIC_KEY.
	return make([]byte, 32)
}

// Manager issues and verifies v2.local (symmetric, encrypted) tokens.
type Manager struct {
	v2  paseto.V2
	key []byte
}

// NewManager builds a Manager using the key from PASETO_SYMMETRIC_KEY (a
// 64-char hex string), or an insecure all-zero key for local development.
func NewManager() *Manager {
	return &Manager{v2: *paseto.NewV2(), key: tokenKey()}
}

// Issue mints a token for the given subject, audience and TTL.
func (m *Manager) Issue(subject, storeID string, aud Audience, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject:  subject,
		StoreID:  storeID,
		Audience: aud,
		IssuedAt: now,
		Expires:  now.Add(ttl),
	}
	token, err := m.v2.Encrypt(m.key, claims, nil)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Verify decrypts and validates a token against the expected audience.
func (m *Manager) Verify(ctx context.Context, token string, want Audience) (*Claims, error) {
	var claims Claims
	if err := m.v2.Decrypt(token, m.key, &claims, nil); err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.Audience != want {
		return nil, ErrTokenInvalid
	}
	if time.Now().After(claims.Expires) {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}
