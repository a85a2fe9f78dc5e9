package utils

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// StringHelper provides string utility functions.
type StringHelper struct{}

// NewStringHelper creates a new string helper.
func NewStringHelper() *StringHelper {
	return &StringHelper{}
}

// TrimWhitespace removes leading and trailing whitespace.
func (s *StringHelper) TrimWhitespace(str string) string {
	return strings.TrimSpace(str)
}

// NormalizeWhitespace replaces multiple whitespace with single space.
func (s *StringHelper) NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// TruncateString truncates str to maxWidth display columns, appending "..." when cut.
func (s *StringHelper) TruncateString(str string, maxWidth int) string {
	return TruncateWidth(str, maxWidth)
}

// TruncateWidth cuts str to at most maxWidth display columns.
func TruncateWidth(str string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}

	if runewidth.StringWidth(str) <= maxWidth {
		return str
	}

	return runewidth.Truncate(str, maxWidth, "...")
}

// TruncateRunes keeps the first maxRunes characters of str without splitting a rune.
func TruncateRunes(str string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}

	count := 0
	for i := range str {
		if count == maxRunes {
			return str[:i]
		}
		count++
	}

	return str
}
