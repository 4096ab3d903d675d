// Package token issues and validates opaque ticket tokens.
//
// A token looks like TKT-1717430400000X7KQ2M9PBD: a fixed prefix, the
// issuing timestamp in unix milliseconds, and a random alphanumeric
// suffix. The combination is unique in practice without a database
// round-trip.
package token

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix identifies ticket tokens on the wire.
	Prefix = "TKT-"

	// timestampDigits is the width of the unix-millisecond component.
	timestampDigits = 13

	// SuffixLength is the width of the random component.
	SuffixLength = 10

	charset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// Generate returns a fresh ticket token. It never fails: if the system
// randomness source is unavailable the process has bigger problems, and
// we fall back to a timestamp-derived suffix rather than returning an
// error nobody can act on.
func Generate() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	b.WriteString(randomSuffix(SuffixLength))
	return b.String()
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// extremely unlikely; derive from the clock instead
		ns := time.Now().UnixNano()
		for i := range buf {
			buf[i] = charset[int(ns>>uint(i*5))%len(charset)]
		}
		return string(buf)
	}
	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf)
}

// ValidateSyntax reports whether s has the structural shape of a ticket
// token: prefix, timestamp digits, fixed-length alphanumeric suffix.
// A true result does not imply the token exists.
func ValidateSyntax(s string) bool {
	if !strings.HasPrefix(s, Prefix) {
		return false
	}
	rest := s[len(Prefix):]
	if len(rest) != timestampDigits+SuffixLength {
		return false
	}
	for _, c := range rest[:timestampDigits] {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range rest[timestampDigits:] {
		if !isAlphanumeric(byte(c)) {
			return false
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
