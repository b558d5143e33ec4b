// Package identity normalizes the two opaque identifiers the system handles:
// user ids and device tokens.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// TokenLength is the exact device token length the relay accepts
// (hexadecimal alphabet, case-insensitive).
const TokenLength = 64

// CanonicalUserID canonicalizes a raw user identifier: trim, lowercase, and
// if the id parses as a UUID render it as lowercase hex without separators.
// Returns ("", false) for blank input.
func CanonicalUserID(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if u, err := uuid.Parse(s); err == nil {
		return strings.ReplaceAll(u.String(), "-", ""), true
	}
	return s, true
}

// CanonicalUserIDs canonicalizes and de-duplicates a candidate list,
// preserving first-occurrence order. Blank/malformed entries are dropped.
func CanonicalUserIDs(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		id, ok := CanonicalUserID(r)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CanonicalToken lowercases and validates a device token.
// Returns ("", false) unless the token is exactly TokenLength hex characters.
func CanonicalToken(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !ValidToken(s) {
		return "", false
	}
	return s, true
}

// ValidToken reports whether tok is exactly TokenLength characters drawn from
// the hexadecimal alphabet (either case).
func ValidToken(tok string) bool {
	if len(tok) != TokenLength {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
