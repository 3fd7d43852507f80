package sanitize

import (
	"errors"
	"html"
	"regexp"
	"strings"
)

// Message sanitization errors.
var (
	// ErrEmptyMessage indicates the message was empty after sanitization.
	ErrEmptyMessage = errors.New("message is empty after sanitization")

	// ErrMessageTooLong indicates the message exceeded the length cap
	// after sanitization.
	ErrMessageTooLong = errors.New("message too long after sanitization")
)

// MaxMessageLength caps sanitized messages before they reach the
// generator. Kept below the transport-level limit for safety margin.
const MaxMessageLength = 8000

// Filtered replaces matched prompt-injection phrasings.
const Filtered = "[FILTERED]"

// injectionPatterns match known prompt-injection phrasings. This is a
// security control, not cosmetics: matched spans are replaced before
// the message ever reaches the generator.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+everything`),
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)human\s*:`),
	regexp.MustCompile(`(?i)user\s*:`),
	regexp.MustCompile(`(?i)<\s*/?system\s*>`),
	regexp.MustCompile(`(?i)<\s*/?assistant\s*>`),
	regexp.MustCompile(`(?i)act\s+as\s+if`),
	regexp.MustCompile(`(?i)pretend\s+to\s+be`),
	regexp.MustCompile(`(?i)roleplay\s+as`),
}

// excessiveNewlines collapses runs of three or more newlines.
var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// Message sanitizes an untrusted user message before it reaches the
// generator: trims whitespace, collapses newline runs, HTML-escapes,
// and neutralizes known prompt-injection phrasings.
//
// Returns ErrEmptyMessage if nothing remains after sanitization and
// ErrMessageTooLong if the result exceeds MaxMessageLength.
func Message(message string) (string, error) {
	message = strings.TrimSpace(message)
	message = excessiveNewlines.ReplaceAllString(message, "\n\n")

	// Filter before escaping so tag patterns see the raw markup.
	for _, pattern := range injectionPatterns {
		message = pattern.ReplaceAllString(message, Filtered)
	}
	message = html.EscapeString(message)

	if len(message) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	return message, nil
}
