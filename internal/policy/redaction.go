package policy

import (
	"regexp"
	"unicode/utf8"
)

type redactionRule struct {
	marker  string
	pattern *regexp.Regexp
}

// Dates and card numbers run before phone numbers so dashed or long digit
// runs are not classified as phones.
var redactionRules = []redactionRule{
	{"[REDACTED_EMAIL]", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"[REDACTED_DATE]", regexp.MustCompile(`\b(?:19|20)\d{2}-\d{2}-\d{2}\b`)},
	{"[REDACTED_CARD]", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{"[REDACTED_PHONE]", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// RedactPII masks common high-risk PII patterns in caller speech.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogSafe redacts text and truncates it to at most max runes for log lines.
func LogSafe(text string, max int) string {
	out, _ := RedactPII(text)
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "…"
}
