package pipeline

import (
	"sort"

	"shiftdoc/internal"
	"shiftdoc/internal/util"
)

type OneShotResult struct {
	Kind       internal.ReportKind
	Cravings   []internal.ExportCravingRow
	ShiftNotes []internal.ExportShiftNoteRow
	Review     []internal.ExportReviewRow
}

// RunOneShot parses text against an in-memory roster without touching the
// database. ReportUnknown runs detection first.
func RunOneShot(kind internal.ReportKind, text string, roster []internal.RosterEntry) OneShotResult {
	if kind == internal.ReportUnknown || kind == "" {
		kind = DetectReportKind("", text).Kind
	}
	out := OneShotResult{
		Kind:       kind,
		Cravings:   []internal.ExportCravingRow{},
		ShiftNotes: []internal.ExportShiftNoteRow{},
		Review:     []internal.ExportReviewRow{},
	}
	matcher := NewMatcher(roster)

	switch kind {
	case internal.ReportCravings:
		records := ParseCravingReport(text)
		matched := map[string]bool{}
		for _, m := range matcher.Match(records) {
			matched[m.Patient.PatientID] = true
			out.Cravings = append(out.Cravings, internal.ExportCravingRow{
				PatientID:       m.Patient.PatientID,
				PatientName:     m.Patient.Name,
				IdentifierToken: m.Record.IdentifierToken,
				Substance:       m.Resolved.Substance,
				Level:           m.Resolved.Level,
			})
		}
		for _, rec := range records {
			row := internal.ExportReviewRow{Name: rec.Name, IdentifierToken: rec.IdentifierToken}
			p, ok := matcher.Lookup(rec.IdentifierKey)
			switch {
			case !ok:
				row.Reason = internal.ReviewNotOnRoster
			case !matched[p.PatientID]:
				row.Reason = internal.ReviewNoData
			default:
				continue
			}
			out.Review = append(out.Review, row)
		}
	case internal.ReportShiftNotes:
		notes := ParseShiftNotes(text)
		keys := make([]string, 0, len(notes))
		for k := range notes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			row := internal.ExportShiftNoteRow{IdentifierKey: k, Day: notes[k].Day, Swing: notes[k].Swing}
			if p, ok := matcher.Lookup(k); ok {
				row.PatientName = util.StringPtr(p.Name)
			}
			out.ShiftNotes = append(out.ShiftNotes, row)
		}
	}
	return out
}
