package util

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText removes NUL bytes and control characters that break JSON
// consumers and terminals (pipeline stderr often carries them from progress
// bars and PDF extractors).
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")

	// Drop other non-printing controls except common whitespace.
	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 || ch == 0x7f {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

// TailText sanitizes s and keeps at most maxBytes from its end, prefixed with
// "..." when something was cut. Tracebacks put the useful line last.
func TailText(s string, maxBytes int) string {
	s = SanitizeText(s)
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := len(s) - maxBytes
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
