package pipeline

import (
	"regexp"
	"strings"

	"shiftdoc/internal"
	"shiftdoc/internal/ident"
	"shiftdoc/internal/util"
)

var reCravingLabel = regexp.MustCompile(`(?i)cravings/triggers[^:]*:`)

// ParseCravingReport splits a pasted morning report into one record per
// identifier line. The record's name is the text in front of the identifier,
// or the nearest non-blank line above it when the identifier stands alone.
func ParseCravingReport(text string) []internal.CravingRecord {
	lines := util.SplitLines(text)
	out := make([]internal.CravingRecord, 0)

	var current *internal.CravingRecord
	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if tok, start, _, ok := ident.Default.Find(line); ok {
			if current != nil {
				out = append(out, *current)
			}
			current = &internal.CravingRecord{
				Name:            recordName(lines, i, line[:start]),
				IdentifierToken: tok.Canonical,
				IdentifierKey:   tok.Key,
				Observations:    []internal.CravingObservation{},
			}
			continue
		}

		if current == nil {
			continue
		}
		if body, ok := cravingText(line); ok {
			current.Observations = ExtractLevels(body)
		}
	}

	if current != nil {
		out = append(out, *current)
	}
	return out
}

func recordName(lines []string, idx int, before string) string {
	if name := util.TrimSeparators(before); name != "" {
		return name
	}
	for j := idx - 1; j >= 0; j-- {
		if prev := strings.TrimSpace(lines[j]); prev != "" {
			return prev
		}
	}
	return ""
}

// cravingText returns what follows the first colon of a line carrying the
// cravings/triggers label.
func cravingText(line string) (string, bool) {
	if !reCravingLabel.MatchString(line) {
		return "", false
	}
	colon := strings.Index(line, ":")
	return strings.TrimSpace(line[colon+1:]), true
}
