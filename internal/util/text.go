package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reSpaces    = regexp.MustCompile(`\s+`)
	reLineBreak = regexp.MustCompile(`\r\n?`)
)

// NormalizeSpaces collapses every whitespace run (including NBSP) to a single
// space and trims the result.
func NormalizeSpaces(input string) string {
	s := strings.ReplaceAll(input, "\u00a0", " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeHeader is the lookup form of a table header cell.
func NormalizeHeader(input string) string {
	return strings.ToLower(NormalizeSpaces(input))
}

// SplitLines splits on any line-break convention and keeps blank lines, so
// callers can reason about line adjacency.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(reLineBreak.ReplaceAllString(text, "\n"), "\n")
}

func NonBlankLines(text string) []string {
	parts := SplitLines(text)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TrimSeparators drops whitespace and dangling list punctuation from both ends.
func TrimSeparators(input string) string {
	return strings.Trim(input, " \t-–—|:,;")
}

// IsText reports whether blob looks like human text rather than binary data.
func IsText(blob []byte) bool {
	if !utf8.Valid(blob) {
		return false
	}
	for _, b := range blob {
		if b == 0 {
			return false
		}
	}
	return true
}

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
