// Package idgen mints the random identifiers potionwatch hands out for
// audit reports, drain events, and alert deliveries.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// mustRandom fills n bytes from crypto/rand. The entropy source going
// away is not a condition worth surviving.
func mustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// New returns a UUID-shaped random identifier
// (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx).
func New() string {
	b := mustRandom(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns a typed identifier: the prefix (e.g. "rep_",
// "evt_", "alr_") followed by 24 hex characters.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(mustRandom(12))
}

// Hex returns numBytes of randomness as a hex string.
func Hex(numBytes int) string {
	return hex.EncodeToString(mustRandom(numBytes))
}
