// Package render turns a Report into presentation formats. Every renderer is
// a pure function of the report.
package render

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strict = bluemonday.StrictPolicy()

// Clean reduces upstream text to a single normalized plain-text line:
// markup is stripped, entities decoded, whitespace collapsed.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// ShortSHA returns the first 8 characters of a commit id.
func ShortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// Format names a renderer.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatXLSX     Format = "xlsx"
)

func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown", "":
		return FormatMarkdown, true
	case "html":
		return FormatHTML, true
	case "json":
		return FormatJSON, true
	case "xlsx", "excel":
		return FormatXLSX, true
	}
	return "", false
}
