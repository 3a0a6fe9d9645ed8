package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftdoc/internal"
	"shiftdoc/internal/util"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRosterReplace(t *testing.T) {
	db := openTestDB(t)

	n, err := db.ReplaceRoster([]internal.RosterEntry{
		{PatientID: "2", Name: "Smith, John", IdentifierField: "FFR 2024-8"},
		{PatientID: "1", Name: "Doe, Jane", IdentifierField: "FFR-2024-007"},
		{PatientID: "2", Name: "Smith again", IdentifierField: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	roster, err := db.ListRoster()
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "2", roster[0].PatientID)
	assert.Equal(t, "Smith, John", roster[0].Name)

	_, err = db.ReplaceRoster([]internal.RosterEntry{{PatientID: "3", Name: "New"}})
	require.NoError(t, err)
	_, err = db.GetPatient("1")
	assert.ErrorIs(t, err, ErrNotFound)
	p, err := db.GetPatient("3")
	require.NoError(t, err)
	assert.Equal(t, "New", p.Name)
}

func TestImportedCravingsReplacedWholesale(t *testing.T) {
	db := openTestDB(t)

	reportID := 4
	require.NoError(t, db.SaveCravingImport(&reportID, nil, nil, []internal.ImportedCraving{
		{PatientID: "1", PatientName: "Jane", IdentifierToken: "FFR-2024-007", Substance: "alcohol", Level: 3, ReportID: &reportID},
		{PatientID: "2", PatientName: "John", IdentifierToken: "FFR-2024-008", Substance: "nicotine", Level: 9},
	}))
	require.NoError(t, db.SaveCravingImport(nil, nil, nil, []internal.ImportedCraving{
		{PatientID: "2", PatientName: "John", IdentifierToken: "FFR-2024-008", Substance: "unknown", Level: 4},
	}))

	items, err := db.ListImportedCravings()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "2", items[0].PatientID)
	assert.Equal(t, 4, items[0].Level)
	assert.Nil(t, items[0].ReportID)

	gone, err := db.GetImportedCraving("1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCravingImportReview(t *testing.T) {
	db := openTestDB(t)

	records := []internal.CravingRecord{
		{Name: "Jane", IdentifierToken: "FFR-2024-007", IdentifierKey: "FFR2024007",
			Observations: []internal.CravingObservation{{Substance: "alcohol", Level: 3}}},
		{Name: "Ghost", IdentifierToken: "FFR-2024-555", IdentifierKey: "FFR2024555",
			Observations: []internal.CravingObservation{{Substance: "unknown", Level: 2}}},
		{Name: "Sam", IdentifierToken: "FFR-2024-009", IdentifierKey: "FFR2024009"},
	}
	patientIDs := []*string{util.StringPtr("1"), nil, util.StringPtr("3")}
	imported := []internal.ImportedCraving{
		{PatientID: "1", PatientName: "Jane", IdentifierToken: "FFR-2024-007", Substance: "alcohol", Level: 3},
	}

	// Pasted imports carry no report id; each one replaces the last.
	require.NoError(t, db.SaveCravingImport(nil, records[:1], patientIDs[:1], nil))
	require.NoError(t, db.SaveCravingImport(nil, records, patientIDs, imported))

	review, err := db.ListCravingReview()
	require.NoError(t, err)
	assert.Equal(t, []internal.ExportReviewRow{
		{Name: "Ghost", IdentifierToken: "FFR-2024-555", Reason: internal.ReviewNotOnRoster},
		{Name: "Sam", IdentifierToken: "FFR-2024-009", Reason: internal.ReviewNoData},
	}, review)

	var stored int
	require.NoError(t, db.conn.QueryRow(`SELECT COUNT(*) FROM craving_records`).Scan(&stored))
	assert.Equal(t, 3, stored)
}

func TestCravingImportRollsBack(t *testing.T) {
	db := openTestDB(t)

	first := []internal.CravingRecord{{Name: "Jane", IdentifierToken: "FFR-2024-007", IdentifierKey: "FFR2024007"}}
	require.NoError(t, db.SaveCravingImport(nil, first, []*string{nil}, []internal.ImportedCraving{
		{PatientID: "1", PatientName: "Jane", IdentifierToken: "FFR-2024-007", Substance: "alcohol", Level: 3},
	}))

	_, err := db.conn.Exec(`
CREATE TRIGGER reject_patient_two BEFORE INSERT ON imported_cravings
WHEN NEW.patientId = '2'
BEGIN SELECT RAISE(ABORT, 'rejected'); END
`)
	require.NoError(t, err)

	second := []internal.CravingRecord{{Name: "John", IdentifierToken: "FFR-2024-008", IdentifierKey: "FFR2024008"}}
	err = db.SaveCravingImport(nil, second, []*string{util.StringPtr("2")}, []internal.ImportedCraving{
		{PatientID: "2", PatientName: "John", IdentifierToken: "FFR-2024-008", Substance: "nicotine", Level: 9},
	})
	require.Error(t, err)

	review, err := db.ListCravingReview()
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "Jane", review[0].Name)
	items, err := db.ListImportedCravings()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].PatientID)

	assert.Error(t, db.SaveCravingImport(nil, first, nil, nil))
}

func TestShiftNotesMerge(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.MergeShiftNotes(map[string]internal.ShiftNote{
		"FFR2024001": {Day: "a", Swing: "b"},
		"FFR2024002": {Day: "c"},
	}))
	require.NoError(t, db.MergeShiftNotes(map[string]internal.ShiftNote{
		"FFR2024002": {Day: "new", Swing: "d"},
	}))

	notes, err := db.ListShiftNotes()
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "a", notes[0].Day)
	assert.Equal(t, "new", notes[1].Day)
	assert.Equal(t, "d", notes[1].Swing)

	missing, err := db.GetShiftNote("FFR2024999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEvaluationsLatestWins(t *testing.T) {
	db := openTestDB(t)

	_, err := db.LatestEvaluation("1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.SaveEvaluation("1", map[string]any{"craving_level": "3"})
	require.NoError(t, err)
	second, err := db.SaveEvaluation("1", map[string]any{"craving_level": "5", "milieu_engagement": "quiet"})
	require.NoError(t, err)

	latest, err := db.LatestEvaluation("1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "5", latest.Data["craving_level"])

	latest.Data["milieu_engagement"] = "rewritten"
	require.NoError(t, db.UpdateEvaluationData(latest.ID, latest.Data))
	again, err := db.LatestEvaluation("1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", again.Data["milieu_engagement"])

	assert.ErrorIs(t, db.UpdateEvaluationData(999, map[string]any{}), ErrNotFound)
}

func TestFlags(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SetCompleted("2", true))
	require.NoError(t, db.SetCompleted("1", true))
	require.NoError(t, db.SetCompleted("1", true))
	done, err := db.ListCompleted()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, done)

	require.NoError(t, db.SetCompleted("2", false))
	done, err = db.ListCompleted()
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, done)

	require.NoError(t, db.SetAIEnhanced("1", true))
	on, err := db.IsAIEnhanced("1")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = db.IsAIEnhanced("2")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestReportsLifecycle(t *testing.T) {
	db := openTestDB(t)

	row, err := db.UpsertReport(internal.ReportRow{
		Source: internal.SourceEmail, Provider: "imap", MessageID: "<1@x>", Subject: "Morning opener",
		Sender: "nurse@example.com", ReceivedAt: "2026-02-08T00:00:00Z", Hash: "h", RawRef: "/tmp/x.eml",
	})
	require.NoError(t, err)
	assert.Equal(t, "fetched", row.Status)
	assert.Equal(t, internal.ReportUnknown, row.Kind)

	again, err := db.UpsertReport(internal.ReportRow{Source: internal.SourceEmail, Provider: "imap", MessageID: "<1@x>", Hash: "h2", RawRef: "/tmp/x.eml"})
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)

	pending, err := db.ListReportsByStatus("fetched", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.UpdateReportStatus(row.ID, "processed", internal.ReportCravings))
	got, err := db.GetReportByID(row.ID)
	require.NoError(t, err)
	assert.Equal(t, "processed", got.Status)
	assert.Equal(t, internal.ReportCravings, got.Kind)

	_, err = db.MustReportByProviderMessageID("imap", "<missing>")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.InsertRun("trace", &row.ID, internal.ReportCravings, map[string]float64{"totalMs": 1}, map[string]int{"records": 1}))
	runs, err := db.CountRuns()
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestWipeClientDataKeepsMetadata(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ReplaceRoster([]internal.RosterEntry{{PatientID: "1", Name: "Jane", IdentifierField: "FFR-2024-007"}})
	require.NoError(t, err)
	require.NoError(t, db.MergeShiftNotes(map[string]internal.ShiftNote{"FFR2024007": {Day: "x"}}))
	_, err = db.SaveEvaluation("1", map[string]any{"a": "b"})
	require.NoError(t, err)
	require.NoError(t, db.SetCompleted("1", true))
	require.NoError(t, db.SetMetadata("settings.model", "gpt-4o-mini"))

	require.NoError(t, db.WipeClientData())

	roster, err := db.ListRoster()
	require.NoError(t, err)
	assert.Empty(t, roster)
	notes, err := db.ListShiftNotes()
	require.NoError(t, err)
	assert.Empty(t, notes)
	done, err := db.ListCompleted()
	require.NoError(t, err)
	assert.Empty(t, done)
	_, err = db.LatestEvaluation("1")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := db.GetMetadata("settings.model")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "gpt-4o-mini", *v)
}

func TestExportRows(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ReplaceRoster([]internal.RosterEntry{
		{PatientID: "1", Name: "Doe, Jane", IdentifierField: "FFR-2024-007"},
	})
	require.NoError(t, err)
	require.NoError(t, db.SaveCravingImport(nil, nil, nil, []internal.ImportedCraving{
		{PatientID: "1", PatientName: "Doe, Jane", IdentifierToken: "FFR-2024-007", Substance: "alcohol", Level: 3},
	}))
	require.NoError(t, db.MergeShiftNotes(map[string]internal.ShiftNote{
		"FFR2024007": {Day: "stable"},
		"FFR2024099": {Swing: "no roster entry"},
	}))

	cravings, err := db.GetCravingExportRows()
	require.NoError(t, err)
	require.Len(t, cravings, 1)
	assert.Equal(t, 3, cravings[0].Level)

	notes, err := db.GetShiftNoteExportRows()
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.NotNil(t, notes[0].PatientName)
	assert.Equal(t, "Doe, Jane", *notes[0].PatientName)
	assert.Nil(t, notes[1].PatientName)
}
