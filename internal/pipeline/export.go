package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"shiftdoc/internal"
	"shiftdoc/internal/util"
)

const (
	SheetCravings   = "Cravings"
	SheetShiftNotes = "ShiftNotes"
	SheetReview     = "Review"
)

// ExportToXLSX writes one sheet per row set. The review sheet lists craving
// records that produced no imported craving.
func ExportToXLSX(cravings []internal.ExportCravingRow, notes []internal.ExportShiftNoteRow, review []internal.ExportReviewRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetCravings); err != nil {
		return err
	}
	for _, sheet := range []string{SheetShiftNotes, SheetReview} {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}

	writeRow(f, SheetCravings, 1, "patient_id", "patient_name", "identifier", "substance", "level")
	for i, row := range cravings {
		writeRow(f, SheetCravings, i+2, row.PatientID, row.PatientName, row.IdentifierToken, row.Substance, row.Level)
	}

	writeRow(f, SheetShiftNotes, 1, "identifier_key", "patient_name", "day", "swing")
	for i, row := range notes {
		writeRow(f, SheetShiftNotes, i+2, row.IdentifierKey, util.Deref(row.PatientName), row.Day, row.Swing)
	}

	writeRow(f, SheetReview, 1, "name", "identifier", "reason")
	for i, row := range review {
		writeRow(f, SheetReview, i+2, row.Name, row.IdentifierToken, row.Reason)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeRow(f *excelize.File, sheet string, r int, values ...any) {
	for c, v := range values {
		cell, _ := excelize.CoordinatesToCellName(c+1, r)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
