package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMetadata is informational detail recovered from JWT-shaped bearer tokens. The session
// layer treats tokens as opaque; nothing here is verified and nothing here affects whether a
// request is considered authorized.
type TokenMetadata struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no expiry claim
}

// ParseTokenMetadata extracts unverified claims from a JWT-shaped token. Returns an error for
// tokens that are not JWTs, which is not a session fault.
func ParseTokenMetadata(token string) (*TokenMetadata, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("token is not a JWT: %w", err)
	}
	meta := &TokenMetadata{}
	if subject, err := claims.GetSubject(); err == nil {
		meta.Subject = subject
	}
	if expiry, err := claims.GetExpirationTime(); err == nil && expiry != nil {
		meta.ExpiresAt = expiry.Time
	}
	return meta, nil
}
