package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("token carries no expiry claim")

// TokenExpiry extracts the exp claim from a bearer token without verifying
// the signature. The workbench never validates tokens itself; the registry
// does that server-side. The claim is only used as a lifetime fallback when
// the identity endpoint omits expiresIn.
func TokenExpiry(raw string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// HashToken produces a stable fingerprint used to key credential records in
// shared stores without putting raw token material into key names.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
