package readback

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	spokenAtPattern  = regexp.MustCompile(`(?i)\s+(?:at|@)\s+`)
	spokenDotPattern = regexp.MustCompile(`(?i)\s+(?:dot|\.)\s+`)
	emailCuePattern  = regexp.MustCompile(`(?i)\b(?:e-?mail|address)\b`)
)

// spokenStopWords never start a spoken local part: "look at example dot org"
// is a request, not an address.
var spokenStopWords = map[string]bool{
	"it": true, "look": true, "the": true, "that": true, "this": true, "me": true,
	"him": true, "her": true, "them": true, "us": true, "here": true, "there": true,
	"is": true, "was": true, "be": true, "one": true, "arrive": true, "arrived": true,
	"order": true, "ordered": true, "bought": true, "shop": true, "shopped": true,
}

// PauseBetweenTokens is the break inserted between spoken characters.
const PauseBetweenTokens = "150ms"

var letterAliases = map[rune]string{
	'a': "ay", 'b': "bee", 'c': "see", 'd': "dee", 'e': "ee", 'f': "eff",
	'g': "jee", 'h': "aitch", 'i': "eye", 'j': "jay", 'k': "kay", 'l': "ell",
	'm': "em", 'n': "en", 'o': "oh", 'p': "pee", 'q': "cue", 'r': "ar",
	's': "ess", 't': "tee", 'u': "you", 'v': "vee", 'w': "double you",
	'x': "ex", 'y': "why", 'z': "zee",
}

var digitWords = [...]string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

var punctuationWords = map[rune]string{
	'@': "at",
	'.': "dot",
	'-': "dash",
	'_': "underscore",
	'+': "plus",
	'%': "percent",
}

// Readback is a captured email token plus the two spoken renderings used to
// confirm it with the caller.
type Readback struct {
	Original string
	Markup   string
	Fallback string
}

// DetectEmail returns the first email-like token in a user transcript.
// Transcripts that spell the address out ("my email is jane dot doe at
// example dot com") are normalized before a second match attempt, but only
// when the sentence mentions an email or address.
func DetectEmail(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if m := emailPattern.FindString(text); m != "" {
		return m, true
	}

	if !emailCuePattern.MatchString(text) {
		return "", false
	}
	normalized := spokenAtPattern.ReplaceAllString(text, "@")
	normalized = spokenDotPattern.ReplaceAllString(normalized, ".")
	m := emailPattern.FindString(normalized)
	if m == "" {
		return "", false
	}
	local, _, _ := strings.Cut(m, "@")
	if spokenStopWords[strings.ToLower(local)] {
		return "", false
	}
	return m, true
}

// SameToken reports whether two detected tokens refer to the same address.
func SameToken(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Build renders an email token for character-by-character readback.
func Build(email string) Readback {
	email = strings.TrimSpace(email)
	return Readback{
		Original: email,
		Markup:   Markup(email),
		Fallback: Spelled(email),
	}
}

// Markup returns SSML that pronounces every character of token separately:
// letters through explicit aliases, digits and punctuation as words, with a
// short pause between characters.
func Markup(token string) string {
	var b strings.Builder
	b.WriteString("<speak>")
	first := true
	for _, r := range token {
		if unicode.IsSpace(r) {
			continue
		}
		if !first {
			b.WriteString(`<break time="` + PauseBetweenTokens + `"/>`)
		}
		first = false

		b.WriteString(`<sub alias="`)
		b.WriteString(escapeXML(spokenForm(r)))
		b.WriteString(`">`)
		b.WriteString(escapeXML(string(r)))
		b.WriteString(`</sub>`)
	}
	b.WriteString("</speak>")
	return b.String()
}

// Spelled returns the plain spoken form used when markup playback is rejected,
// e.g. "J, A, N, E, at, X, dot, I, O".
func Spelled(token string) string {
	parts := make([]string, 0, len(token))
	for _, r := range token {
		if unicode.IsSpace(r) {
			continue
		}
		if word, ok := punctuationWords[r]; ok {
			parts = append(parts, word)
			continue
		}
		parts = append(parts, strings.ToUpper(string(r)))
	}
	return strings.Join(parts, ", ")
}

// Instructions is the response instruction carrying the markup verbatim.
func (r Readback) Instructions() string {
	return "Read the caller's email address back exactly as written in the following SSML, " +
		"one character at a time, then ask them to confirm it is correct. " +
		"Do not add or change any characters. " + r.Markup
}

// FallbackInstructions asks for plain spelling when markup playback failed.
func (r Readback) FallbackInstructions() string {
	return "Spell the caller's email address back slowly, one character at a time, " +
		"exactly as follows, then ask them to confirm it is correct: " + r.Fallback + "."
}

func spokenForm(r rune) string {
	lower := unicode.ToLower(r)
	if alias, ok := letterAliases[lower]; ok {
		return alias
	}
	if r >= '0' && r <= '9' {
		return digitWords[r-'0']
	}
	if word, ok := punctuationWords[r]; ok {
		return word
	}
	return string(r)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
