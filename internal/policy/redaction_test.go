package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "sam@example.com") {
		t.Fatalf("email leaked: %q", out)
	}
}

func TestRedactPIIDateOfBirth(t *testing.T) {
	out, changed := RedactPII("my birthday is 1985-03-12")
	if !changed || out != "my birthday is [REDACTED_DATE]" {
		t.Fatalf("RedactPII() = (%q, %v)", out, changed)
	}
}

func TestRedactPIIUnchanged(t *testing.T) {
	out, changed := RedactPII("where is order ORD12345")
	if changed || out != "where is order ORD12345" {
		t.Fatalf("RedactPII() = (%q, %v), want unchanged", out, changed)
	}
}

func TestLogSafeTruncates(t *testing.T) {
	if got := LogSafe("hello world", 5); got != "hello…" {
		t.Fatalf("LogSafe() = %q, want %q", got, "hello…")
	}
	if got := LogSafe("mail a@b.io", 0); got != "mail [REDACTED_EMAIL]" {
		t.Fatalf("LogSafe() = %q", got)
	}
}
