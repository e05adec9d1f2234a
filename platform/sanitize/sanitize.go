// Package sanitize cleans user-provided text before it is stored.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup, decodes entities and strips again so encoded
// tags do not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = html.UnescapeString(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Line is for single-line fields such as titles: markup is stripped and runs
// of whitespace, newlines included, collapse to one space.
func Line(s string) string {
	return strings.Join(strings.Fields(StripHTML(s)), " ")
}

// Text is for multi-line fields such as notes. Line breaks are kept.
func Text(s string) string {
	return StripHTML(s)
}

// TextPtr applies Text to an optional value. Blank results become nil.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	result := Text(*s)
	if result == "" {
		return nil
	}
	return &result
}
