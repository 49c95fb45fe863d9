/*
Package utils provides helper functions for the news monitor backend.
*/
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return uuid.NewString()
}

// KeyHash returns the SHA-256 hex digest of s. Article links and feed URLs are
// hashed into datastore key names so arbitrarily long URLs stay under the key
// name length limit.
func KeyHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Truncate cuts s to at most max runes
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// TruncateWithSuffix cuts s to at most max runes and appends suffix when
// anything was cut
func TruncateWithSuffix(s string, max int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + suffix
}

// NormalizeWhitespace collapses runs of whitespace into single spaces and
// trims the result
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
