package pipeline

import (
	"regexp"
	"strings"

	"shiftdoc/internal"
	"shiftdoc/internal/ident"
	"shiftdoc/internal/util"
)

type DetectResult struct {
	Kind           internal.ReportKind
	CravingScore   float64
	ShiftNoteScore float64
	Reason         string
}

var (
	cravingSubjectKeywords   = []string{"morning opener", "craving", "trigger"}
	shiftNoteSubjectKeywords = []string{"shift note", "shift notes", "day/swing", "swing"}

	reShiftLabel = regexp.MustCompile(`^(Day|Swing)\s*:`)
)

// DetectReportKind decides which parser a report needs. Label lines carry
// most of the weight; the subject only breaks near ties. Text without any
// identifier token is never a report.
func DetectReportKind(subject, text string) DetectResult {
	identifiers, cravingLines, shiftLines := 0, 0, 0
	for _, line := range util.NonBlankLines(text) {
		if _, ok := ident.Default.FindLenient(line); ok {
			identifiers++
			continue
		}
		if reCravingLabel.MatchString(line) {
			cravingLines++
		}
		if reShiftLabel.MatchString(line) {
			shiftLines++
		}
	}

	if identifiers == 0 {
		return DetectResult{Kind: internal.ReportUnknown, Reason: "no_identifiers"}
	}

	res := DetectResult{
		CravingScore:   float64(cravingLines),
		ShiftNoteScore: float64(shiftLines),
	}
	subject = strings.ToLower(subject)
	for _, kw := range cravingSubjectKeywords {
		if strings.Contains(subject, kw) {
			res.CravingScore += 0.5
			break
		}
	}
	for _, kw := range shiftNoteSubjectKeywords {
		if strings.Contains(subject, kw) {
			res.ShiftNoteScore += 0.5
			break
		}
	}

	switch {
	case res.CravingScore > res.ShiftNoteScore:
		res.Kind, res.Reason = internal.ReportCravings, "craving_labels"
	case res.ShiftNoteScore > res.CravingScore:
		res.Kind, res.Reason = internal.ReportShiftNotes, "shift_labels"
	default:
		res.Kind, res.Reason = internal.ReportUnknown, "ambiguous"
	}
	return res
}
