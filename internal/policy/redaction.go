// Package policy keeps relayed chat content out of logs in raw form. The
// broker never interprets content, but operators still read the logs.
package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\b(bearer|token|api[_-]?key|secret)[=: ]+[A-Za-z0-9._\-]{8,}`)
)

// Redact masks common high-risk patterns in relayed content.
func Redact(input string) (redacted string, changed bool) {
	out := input

	next := bearerPattern.ReplaceAllString(out, "[REDACTED_CREDENTIAL]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Preview produces a redacted, rune-safe truncation of content suitable for
// structured logs.
func Preview(content string, maxRunes int) string {
	out, _ := Redact(strings.TrimSpace(content))
	runes := []rune(out)
	if maxRunes > 0 && len(runes) > maxRunes {
		return string(runes[:maxRunes]) + "..."
	}
	return out
}
