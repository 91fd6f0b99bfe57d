package activity

import (
	"strings"
)

// Sanitize drops control characters below 0x20 other than tab, newline and
// carriage return, then trims surrounding whitespace. Tracker payloads
// carry stray NULs from window titles that PostgreSQL rejects in text
// columns.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	cleaned := strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

// SanitizePtr applies Sanitize to an optional field
func SanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := Sanitize(*s)
	return &v
}
