package internal

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// HashRefreshToken returns the hex SHA-256 digest of a raw refresh token. Only
// this digest is ever persisted.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewFamilyID returns an identifier for a new token family.
func NewFamilyID() string {
	return uuid.NewString()
}
