package policy

import (
	"strings"
	"testing"
)

func TestRedactMasksHighRiskPatterns(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"email", "reach me at dev@example.com today", "reach me at [REDACTED_EMAIL] today"},
		{"phone", "call +1 (555) 123-4567 now", "call [REDACTED_PHONE] now"},
		{"card", "pay with 4111 1111 1111 1111 please", "pay with [REDACTED_CARD] please"},
		{"credential", "use api_key=sk-abcdef123456 for this", "use [REDACTED_CREDENTIAL] for this"},
		{"clean", "nothing sensitive here", "nothing sensitive here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := Redact(tc.input)
			if got != tc.want {
				t.Fatalf("Redact(%q) = %q, want %q", tc.input, got, tc.want)
			}
			if wantChanged := tc.input != tc.want; changed != wantChanged {
				t.Fatalf("changed = %v, want %v", changed, wantChanged)
			}
		})
	}
}

func TestPreviewTruncatesRuneSafe(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := Preview(long, 10)
	if got != strings.Repeat("é", 10)+"..." {
		t.Fatalf("Preview() = %q", got)
	}

	if got := Preview("  short  ", 80); got != "short" {
		t.Fatalf("Preview() = %q, want trimmed input", got)
	}
}

func TestPreviewRedactsBeforeTruncating(t *testing.T) {
	got := Preview("mail dev@example.com", 80)
	if strings.Contains(got, "dev@example.com") {
		t.Fatalf("Preview() leaked address: %q", got)
	}
}
