// Package credstore persists the workbench's credential triplet across
// process restarts. Implementations behave as a write-through mirror of the
// in-memory session: a snapshot read back from any store is always a
// consistent {access token, refresh token, expiry} set.
package credstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("credentials not found")

type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Identity metadata persisted alongside the token triplet. Opaque to
	// the session manager.
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Group    string `json:"group,omitempty"`
}

type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
	Clear(ctx context.Context) error
}

// NormalizeToken is the single place where absent-as-text token values are
// folded into structural absence. Upstream identity providers have been seen
// serializing a missing refresh token as the literal string "null"; such a
// value must never be persisted or sent back to the server.
func NormalizeToken(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "null") {
		return ""
	}
	return v
}

// Normalized returns a copy with token fields passed through NormalizeToken.
func (c Credentials) Normalized() Credentials {
	c.AccessToken = NormalizeToken(c.AccessToken)
	c.RefreshToken = NormalizeToken(c.RefreshToken)
	return c
}
