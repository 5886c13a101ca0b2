// Package prompt assembles token-budgeted prompts from conversation state:
// placeholder substitution, story/example/history fragments, anchor
// injection, stop-string computation and context fitting.
package prompt

import (
	"regexp"
	"strings"

	"github.com/codefionn/personachat/internal/chat"
)

var (
	userPlaceholder    = regexp.MustCompile(`(?i){{user}}`)
	charPlaceholder    = regexp.MustCompile(`(?i){{char}}`)
	userTagPlaceholder = regexp.MustCompile(`(?i)<USER>`)
	charTagPlaceholder = regexp.MustCompile(`(?i)<BOT>`)

	biasMarkup      = regexp.MustCompile(`{{(\*?.*?\*?)}}`)
	biasCapture     = regexp.MustCompile(`{{(\*?.+?\*?)}}`)
	multiNewlines   = regexp.MustCompile(`\n+`)
	trailingPerLine = regexp.MustCompile(`(?m)[^\S\r\n]+$`)
)

// Substitute replaces persona placeholders, case-insensitively.
func Substitute(content string, p chat.Persona) string {
	if content == "" {
		return ""
	}
	content = userPlaceholder.ReplaceAllString(content, p.UserName)
	content = charPlaceholder.ReplaceAllString(content, p.CharName)
	content = userTagPlaceholder.ReplaceAllString(content, p.UserName)
	content = charTagPlaceholder.ReplaceAllString(content, p.CharName)
	return content
}

// CollapseNewlines squashes newline runs into single newlines.
func CollapseNewlines(s string) string {
	return multiNewlines.ReplaceAllString(s, "\n")
}

// TrimPerLineTrailing removes invisible trailing whitespace on every line.
func TrimPerLineTrailing(s string) string {
	return trailingPerLine.ReplaceAllString(s, "")
}

// StripBiasMarkup removes {{...}} bias markup from a stored history line.
func StripBiasMarkup(s string) string {
	return biasMarkup.ReplaceAllString(s, "")
}

// ExtractBias pulls bias directives out of a user message.
//
// Returns the combined bias text padded with single spaces, or an empty
// string when the message contains bare braces (which cancels an inherited
// bias). The second result reports whether any bias-relevant markup was seen.
func ExtractBias(message string) (string, bool) {
	if message == "" {
		return "", false
	}

	matches := biasCapture.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		if strings.Contains(message, "{{") && strings.Contains(message, "}}") {
			return "", true
		}
		return "", false
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, strings.TrimSpace(m[1]))
	}
	return " " + strings.Join(parts, " ") + " ", true
}

// baseReplace applies persona substitution and optional newline collapsing to
// character card fields before they enter the prompt.
func baseReplace(value string, p chat.Persona, collapse bool) string {
	if value == "" {
		return value
	}
	value = Substitute(value, p)
	if collapse {
		value = CollapseNewlines(value)
	}
	return value
}
