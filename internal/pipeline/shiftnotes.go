package pipeline

import (
	"regexp"
	"strings"

	"shiftdoc/internal"
	"shiftdoc/internal/ident"
	"shiftdoc/internal/util"
)

type shiftField int

const (
	collectNone shiftField = iota
	collectDay
	collectSwing
)

var (
	reDayLabel   = regexp.MustCompile(`^Day\s*:\s*`)
	reSwingLabel = regexp.MustCompile(`^Swing\s*:\s*`)
)

type noteBuffer struct {
	day   strings.Builder
	swing strings.Builder
}

func (b *noteBuffer) field(f shiftField) *strings.Builder {
	if f == collectDay {
		return &b.day
	}
	return &b.swing
}

// ParseShiftNotes collects Day: and Swing: narrative per identifier key. A
// new identifier line resets collection; text outside a labeled block is
// dropped. Identifiers seen twice keep accumulating into the same entry.
func ParseShiftNotes(text string) map[string]internal.ShiftNote {
	buffers := map[string]*noteBuffer{}
	current := ""
	state := collectNone

	for _, raw := range util.SplitLines(text) {
		line := strings.TrimSpace(raw)

		if tok, ok := ident.Default.FindLenient(line); ok {
			current = tok.Key
			if _, exists := buffers[current]; !exists {
				buffers[current] = &noteBuffer{}
			}
			state = collectNone
			continue
		}

		if label := labelState(line); label != collectNone {
			state = label
			after := strings.TrimSpace(labelRe(label).ReplaceAllString(line, ""))
			if current != "" && after != "" {
				buf := buffers[current].field(state)
				buf.WriteString(after)
				buf.WriteString("\n")
			}
			continue
		}

		if state != collectNone && current != "" {
			buf := buffers[current].field(state)
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	out := make(map[string]internal.ShiftNote, len(buffers))
	for key, buf := range buffers {
		out[key] = internal.ShiftNote{
			Day:   strings.TrimSpace(buf.day.String()),
			Swing: strings.TrimSpace(buf.swing.String()),
		}
	}
	return out
}

func labelState(line string) shiftField {
	switch {
	case reDayLabel.MatchString(line):
		return collectDay
	case reSwingLabel.MatchString(line):
		return collectSwing
	}
	return collectNone
}

func labelRe(f shiftField) *regexp.Regexp {
	if f == collectDay {
		return reDayLabel
	}
	return reSwingLabel
}
