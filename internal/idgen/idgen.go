// Package idgen provides random ID generation for entities.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New generates a random UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random short ID with a prefix (e.g. "txn_", "wd_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
