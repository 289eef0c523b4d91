// Package cache provides the content-addressed result cache and its
// backends. Keys bind the normalized query to the ranking configuration and
// session scope so config changes and scope boundaries can never serve a
// stale or foreign entry.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeQuery canonicalizes query text for cache keying and retrieval:
// lowercase, trimmed, inner whitespace collapsed to single spaces.
// "What is X?" and "what is  x?" share one cache entry.
func NormalizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	var b strings.Builder
	b.Grow(len(q))
	space := false
	for _, r := range q {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// QueryKey derives the result cache key from the normalized query, the
// ranking config fingerprint, and the session scope. An empty scope means
// the entry is shared across sessions.
func QueryKey(normalizedQuery, configFingerprint, sessionScope string) string {
	h := sha256.New()
	h.Write([]byte(normalizedQuery))
	h.Write([]byte{0})
	h.Write([]byte(configFingerprint))
	h.Write([]byte{0})
	h.Write([]byte(sessionScope))
	return "q:" + hex.EncodeToString(h.Sum(nil))
}

// EmbeddingKey derives the embedding cache key from text and model.
func EmbeddingKey(text, model string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return "e:" + hex.EncodeToString(h.Sum(nil))
}
