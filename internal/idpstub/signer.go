// Package idpstub is a development identity provider plus a small protected
// specification API. It exists so the workbench can be exercised end to end
// without a real registry: it signs short-lived HS256 tokens, honors the
// bespoke {refreshToken} exchange, and can be told to fail refreshes or
// revoke issued tokens to drive every session transition.
package idpstub

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type StubClaims struct {
	TokenType  string `json:"token_type"`
	Role       string `json:"role,omitempty"`
	Group      string `json:"group,omitempty"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

type Signer struct {
	issuer     string
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	// generation invalidates all previously issued tokens when bumped.
	generation atomic.Int64
}

func NewSigner(issuer, secret string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{issuer: issuer, secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (s *Signer) IssueAccess(subject, role, group string) (string, error) {
	return s.sign("access", subject, role, group, s.accessTTL)
}

func (s *Signer) IssueRefresh(subject, role, group string) (string, error) {
	return s.sign("refresh", subject, role, group, s.refreshTTL)
}

func (s *Signer) AccessTTL() time.Duration { return s.accessTTL }

// RevokeIssued invalidates every access token signed so far. Refresh tokens
// stay valid, mimicking a server-side access revocation: the case the
// workbench's 401 refresh-and-retry path exists for.
func (s *Signer) RevokeIssued() {
	s.generation.Add(1)
}

func (s *Signer) sign(tokenType, subject, role, group string, ttl time.Duration) (string, error) {
	claims := StubClaims{
		TokenType:  tokenType,
		Role:       role,
		Group:      group,
		Generation: s.generation.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) ParseAccess(raw string) (*StubClaims, error) {
	return s.parse(raw, "access")
}

func (s *Signer) ParseRefresh(raw string) (*StubClaims, error) {
	return s.parse(raw, "refresh")
}

func (s *Signer) parse(raw, tokenType string) (*StubClaims, error) {
	claims := &StubClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if tokenType == "access" && claims.Generation != s.generation.Load() {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}
