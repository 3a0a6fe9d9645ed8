package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
	"shiftdoc/internal/storage"
)

func newTestService(t *testing.T) (*ProcessingService, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ReplaceRoster([]internal.RosterEntry{
		{PatientID: "7", Name: "Doe, Jane", IdentifierField: "FFR 2024-007"},
		{PatientID: "8", Name: "Smith, John", IdentifierField: "FFR-2024-008"},
		{PatientID: "9", Name: "Lee, Sam", IdentifierField: "FFR-2024-009"},
	})
	require.NoError(t, err)
	return NewProcessingService(db, config.Config{}, zap.NewNop()), db
}

func TestImportCravingsReplacesPreviousImport(t *testing.T) {
	svc, db := newTestService(t)

	res, err := svc.ImportCravings("Lee FFR-2024-009\nCravings/Triggers: 6", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)

	res, err = svc.ImportCravings("Jane Doe\nFFR 2024-007\nCravings/Triggers: alc 3\n\nJohn Smith FFR2024008\nCravings/Triggers: nic-9\nGhost FFR-2024-555\nCravings/Triggers: 2\nSam FFR-2024-009", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Parsed)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, []string{"FFR-2024-555"}, res.Unmatched)
	assert.NotEmpty(t, res.TraceID)

	items, err := db.ListImportedCravings()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "7", items[0].PatientID)
	assert.Equal(t, "alcohol", items[0].Substance)
	assert.Equal(t, 3, items[0].Level)
	assert.Equal(t, "8", items[1].PatientID)
	assert.Equal(t, 9, items[1].Level)

	review, err := db.ListCravingReview()
	require.NoError(t, err)
	assert.Equal(t, []internal.ExportReviewRow{
		{Name: "Ghost", IdentifierToken: "FFR-2024-555", Reason: internal.ReviewNotOnRoster},
		{Name: "Sam", IdentifierToken: "FFR-2024-009", Reason: internal.ReviewNoData},
	}, review)

	runs, err := db.CountRuns()
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}

func TestProcessPendingMarksFailedAndContinues(t *testing.T) {
	svc, db := newTestService(t)
	core, logs := observer.New(zap.InfoLevel)
	svc.logger = zap.New(core)

	tmp := t.TempDir()
	good := filepath.Join(tmp, "notes.txt")
	require.NoError(t, os.WriteFile(good, []byte("FFR-2024-007\nDay: settled"), 0o644))

	missing, err := db.UpsertReport(internal.ReportRow{Source: internal.SourceFile, Provider: "drop", MessageID: "gone.txt",
		ReceivedAt: "2026-02-08T06:00:00Z", Hash: "a", RawRef: filepath.Join(tmp, "gone.txt")})
	require.NoError(t, err)
	_, err = db.UpsertReport(internal.ReportRow{Source: internal.SourceFile, Provider: "drop", MessageID: "notes.txt",
		ReceivedAt: "2026-02-08T07:00:00Z", Hash: "b", RawRef: good})
	require.NoError(t, err)

	reports, records, err := svc.ProcessPending(10)
	require.NoError(t, err)
	assert.Equal(t, 1, reports)
	assert.Equal(t, 1, records)

	failed, err := db.GetReportByID(missing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 1, logs.FilterMessage("report processing failed").Len())
	assert.Zero(t, logs.FilterMessage("report status update failed").Len())

	note, err := db.GetShiftNote("FFR2024007")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "settled", note.Day)
}

func TestImportShiftNotesMerges(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.ImportShiftNotes("FFR-2024-007\nDay: first\nFFR-2024-008\nSwing: evening", nil)
	require.NoError(t, err)
	res, err := svc.ImportShiftNotes("FFR-2024-007\nDay: replaced\nFFR-2024-321\nDay: unknown patient", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Parsed)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, []string{"FFR2024321"}, res.Unmatched)

	jane, err := db.GetShiftNote("FFR2024007")
	require.NoError(t, err)
	require.NotNil(t, jane)
	assert.Equal(t, "replaced", jane.Day)

	john, err := db.GetShiftNote("FFR2024008")
	require.NoError(t, err)
	require.NotNil(t, john)
	assert.Equal(t, "evening", john.Swing)
}

func TestImportRejectsBinary(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Import(internal.ReportCravings, []byte{0x00, 0x01, 0xff})
	assert.True(t, errors.Is(err, ErrNotText))

	res, err := svc.Import(internal.ReportUnknown, []byte("FFR-2024-007\nDay: fine"))
	require.NoError(t, err)
	assert.Equal(t, internal.ReportShiftNotes, res.Kind)
}

func TestSmokeEmailToXLSX(t *testing.T) {
	svc, db := newTestService(t)
	tmp := t.TempDir()

	opener := filepath.Join(tmp, "opener.eml")
	require.NoError(t, os.WriteFile(opener, morningOpenerEmail(mkXLSX([][]any{{"John Smith", "FFR2024008"}, {"Cravings/Triggers: nic-9"}})), 0o644))
	rawShift, err := os.ReadFile(filepath.Join("testdata", "shift_notes.eml"))
	require.NoError(t, err)
	shift := filepath.Join(tmp, "shift.eml")
	require.NoError(t, os.WriteFile(shift, rawShift, 0o644))
	junk := filepath.Join(tmp, "junk.txt")
	require.NoError(t, os.WriteFile(junk, []byte("lunch order for the unit"), 0o644))

	for i, r := range []internal.ReportRow{
		{Source: internal.SourceEmail, Provider: "imap", MessageID: "<opener-1@example.com>", Subject: "Morning opener", ReceivedAt: "2026-02-08T06:00:00Z", Hash: "a", RawRef: opener},
		{Source: internal.SourceEmail, Provider: "imap", MessageID: "<shift-1@example.com>", Subject: "Shift notes", ReceivedAt: "2026-02-08T07:00:00Z", Hash: "b", RawRef: shift},
		{Source: internal.SourceFile, Provider: "drop", MessageID: "junk.txt", ReceivedAt: "2026-02-08T08:00:00Z", Hash: "c", RawRef: junk},
	} {
		_, err := db.UpsertReport(r)
		require.NoError(t, err, "report %d", i)
	}

	reports, records, err := svc.ProcessPending(10)
	require.NoError(t, err)
	assert.Equal(t, 3, reports)
	assert.Equal(t, 3, records)

	skipped, err := db.ListReportsByStatus(StatusSkipped, 10)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "junk.txt", skipped[0].MessageID)

	opened, err := db.MustReportByProviderMessageID("imap", "<opener-1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, internal.ReportCravings, opened.Kind)
	review, err := db.ListCravingReview()
	require.NoError(t, err)
	assert.Empty(t, review)

	cravings, err := db.GetCravingExportRows()
	require.NoError(t, err)
	require.Len(t, cravings, 2)
	notes, err := db.GetShiftNoteExportRows()
	require.NoError(t, err)
	require.Len(t, notes, 1)

	out := filepath.Join(tmp, "out", "result.xlsx")
	require.NoError(t, ExportToXLSX(cravings, notes, review, out))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetCravings, SheetShiftNotes, SheetReview}, f.GetSheetList())

	rows, err := f.GetRows(SheetCravings)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"7", "Doe, Jane", "FFR-2024-007", "alcohol", "3"}, rows[1])
	assert.Equal(t, []string{"8", "Smith, John", "FFR-2024-008", "nicotine", "9"}, rows[2])

	noteRows, err := f.GetRows(SheetShiftNotes)
	require.NoError(t, err)
	require.Len(t, noteRows, 2)
	assert.Equal(t, []string{"FFR2024007", "Doe, Jane", "stable", "restless"}, noteRows[1])

	reviewRows, err := f.GetRows(SheetReview)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"name", "identifier", "reason"}}, reviewRows)
}
