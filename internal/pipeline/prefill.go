package pipeline

import (
	"shiftdoc/internal"
	"shiftdoc/internal/ident"
	"shiftdoc/internal/util"
)

// FormMinLevel is the lowest value the evaluation form's craving scale offers.
const FormMinLevel = 1

// Prefill derives the evaluation form defaults for one patient from the
// latest imported craving and shift notes. Either source may be nil.
func Prefill(patient internal.RosterEntry, craving *internal.ImportedCraving, note *internal.StoredShiftNote) internal.Prefill {
	out := internal.Prefill{PatientID: patient.PatientID}

	if craving != nil {
		level := craving.Level
		if level < FormMinLevel {
			level = FormMinLevel
		}
		if level > MaxLevel {
			level = MaxLevel
		}
		out.CravingLevel = util.IntPtr(level)
		if craving.Substance != internal.SubstanceUnknown {
			out.CravingSubstance = craving.Substance
		}
	}

	if note != nil && note.IdentifierKey == ident.Key(patient.IdentifierField) {
		out.DayNotes = note.Day
		out.SwingNotes = note.Swing
	}
	return out
}
