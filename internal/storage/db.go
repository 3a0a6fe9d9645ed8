package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"shiftdoc/internal"
	"shiftdoc/internal/ident"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS patients (
  patientId TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  identifierField TEXT NOT NULL DEFAULT '',
  identifierKey TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL,
  lastSeenAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_patients_identifierKey ON patients(identifierKey);

CREATE TABLE IF NOT EXISTS reports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT 'unknown',
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS craving_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  reportId INTEGER,
  position INTEGER NOT NULL,
  name TEXT NOT NULL,
  identifierToken TEXT NOT NULL,
  identifierKey TEXT NOT NULL,
  observationsJson TEXT NOT NULL,
  patientId TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(reportId) REFERENCES reports(id)
);

CREATE TABLE IF NOT EXISTS imported_cravings (
  patientId TEXT PRIMARY KEY,
  patientName TEXT NOT NULL,
  identifierToken TEXT NOT NULL,
  substance TEXT NOT NULL,
  level INTEGER NOT NULL,
  reportId INTEGER,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS shift_notes (
  identifierKey TEXT PRIMARY KEY,
  day TEXT NOT NULL DEFAULT '',
  swing TEXT NOT NULL DEFAULT '',
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS evaluations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  patientId TEXT NOT NULL,
  dataJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_evaluations_patientId ON evaluations(patientId);

CREATE TABLE IF NOT EXISTS completion (
  patientId TEXT PRIMARY KEY,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ai_enhanced (
  patientId TEXT PRIMARY KEY,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  reportId INTEGER,
  kind TEXT NOT NULL,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(reportId) REFERENCES reports(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// ReplaceRoster swaps the stored roster for entries, keeping their order.
// Entries repeating a patient id after the first are ignored.
func (d *DB) ReplaceRoster(entries []internal.RosterEntry) (int, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM patients`); err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
INSERT INTO patients (patientId, name, identifierField, identifierKey, position)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(patientId) DO NOTHING
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for i, e := range entries {
		res, err := stmt.Exec(e.PatientID, e.Name, e.IdentifierField, ident.Key(e.IdentifierField), i)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stored++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

func (d *DB) ListRoster() ([]internal.RosterEntry, error) {
	rows, err := d.conn.Query(`SELECT patientId, name, identifierField FROM patients ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.RosterEntry{}
	for rows.Next() {
		var e internal.RosterEntry
		if err := rows.Scan(&e.PatientID, &e.Name, &e.IdentifierField); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) GetPatient(patientID string) (internal.RosterEntry, error) {
	var e internal.RosterEntry
	err := d.conn.QueryRow(`SELECT patientId, name, identifierField FROM patients WHERE patientId = ?`, patientID).
		Scan(&e.PatientID, &e.Name, &e.IdentifierField)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.RosterEntry{}, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	if err != nil {
		return internal.RosterEntry{}, err
	}
	return e, nil
}

func (d *DB) UpsertReport(r internal.ReportRow) (internal.ReportRow, error) {
	if r.Status == "" {
		r.Status = "fetched"
	}
	if r.Kind == "" {
		r.Kind = internal.ReportUnknown
	}
	_, err := d.conn.Exec(`
INSERT INTO reports (source, provider, messageId, subject, sender, receivedAt, hash, kind, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, string(r.Source), r.Provider, r.MessageID, r.Subject, r.Sender, r.ReceivedAt, r.Hash, string(r.Kind), r.Status, r.RawRef)
	if err != nil {
		return internal.ReportRow{}, err
	}
	return d.MustReportByProviderMessageID(r.Provider, r.MessageID)
}

const reportColumns = `id, source, provider, messageId, subject, sender, receivedAt, hash, kind, status, rawRef`

func scanReport(scan func(dest ...any) error) (internal.ReportRow, error) {
	var row internal.ReportRow
	var source, kind string
	var subject, sender, receivedAt sql.NullString
	err := scan(&row.ID, &source, &row.Provider, &row.MessageID, &subject, &sender, &receivedAt, &row.Hash, &kind, &row.Status, &row.RawRef)
	row.Source = internal.ReportSource(source)
	row.Kind = internal.ReportKind(kind)
	row.Subject = subject.String
	row.Sender = sender.String
	row.ReceivedAt = receivedAt.String
	return row, err
}

func (d *DB) GetReportByProviderMessageID(provider, messageID string) (*internal.ReportRow, error) {
	row, err := scanReport(d.conn.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE provider = ? AND messageId = ?`, provider, messageID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) MustReportByProviderMessageID(provider, messageID string) (internal.ReportRow, error) {
	row, err := d.GetReportByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.ReportRow{}, err
	}
	if row == nil {
		return internal.ReportRow{}, fmt.Errorf("report provider=%s messageId=%s: %w", provider, messageID, ErrNotFound)
	}
	return *row, nil
}

func (d *DB) GetReportByID(id int) (internal.ReportRow, error) {
	row, err := scanReport(d.conn.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.ReportRow{}, fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	return row, err
}

func (d *DB) ListReportsByStatus(status string, limit int) ([]internal.ReportRow, error) {
	rows, err := d.conn.Query(`SELECT `+reportColumns+` FROM reports WHERE status = ? ORDER BY receivedAt ASC, id ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ReportRow
	for rows.Next() {
		row, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateReportStatus(reportID int, status string, kind internal.ReportKind) error {
	_, err := d.conn.Exec(`UPDATE reports SET status = ?, kind = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, string(kind), reportID)
	return err
}

// SaveCravingImport makes records the parsed rows of the latest craving import
// and items the complete set of imported cravings, in one transaction.
// patientIDs runs parallel to records; nil marks an identifier that is not on
// the roster. Patients missing from items lose any earlier import.
func (d *DB) SaveCravingImport(reportID *int, records []internal.CravingRecord, patientIDs []*string, items []internal.ImportedCraving) error {
	if len(patientIDs) != len(records) {
		return fmt.Errorf("craving import: %d records but %d patient ids", len(records), len(patientIDs))
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM craving_records`); err != nil {
		return err
	}
	recStmt, err := tx.Prepare(`
INSERT INTO craving_records (reportId, position, name, identifierToken, identifierKey, observationsJson, patientId)
VALUES (?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer recStmt.Close()
	for i, rec := range records {
		obsJSON, _ := json.Marshal(rec.Observations)
		if _, err := recStmt.Exec(reportID, i, rec.Name, rec.IdentifierToken, rec.IdentifierKey, string(obsJSON), patientIDs[i]); err != nil {
			return fmt.Errorf("insert craving record %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM imported_cravings`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
INSERT INTO imported_cravings (patientId, patientName, identifierToken, substance, level, reportId)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(patientId) DO UPDATE SET
  patientName=excluded.patientName,
  identifierToken=excluded.identifierToken,
  substance=excluded.substance,
  level=excluded.level,
  reportId=excluded.reportId,
  updatedAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range items {
		if _, err := stmt.Exec(c.PatientID, c.PatientName, c.IdentifierToken, c.Substance, c.Level, c.ReportID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCravingReview returns the records of the latest craving import that did
// not become an imported craving, in report order.
func (d *DB) ListCravingReview() ([]internal.ExportReviewRow, error) {
	rows, err := d.conn.Query(`
SELECT r.name, r.identifierToken, r.patientId
FROM craving_records r
WHERE r.patientId IS NULL
   OR r.patientId NOT IN (SELECT patientId FROM imported_cravings)
ORDER BY r.position ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.ExportReviewRow{}
	for rows.Next() {
		var row internal.ExportReviewRow
		var patientID *string
		if err := rows.Scan(&row.Name, &row.IdentifierToken, &patientID); err != nil {
			return nil, err
		}
		row.Reason = internal.ReviewNoData
		if patientID == nil {
			row.Reason = internal.ReviewNotOnRoster
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const cravingColumns = `patientId, patientName, identifierToken, substance, level, reportId, updatedAt`

func (d *DB) ListImportedCravings() ([]internal.ImportedCraving, error) {
	rows, err := d.conn.Query(`
SELECT ` + cravingColumns + `
FROM imported_cravings c
LEFT JOIN patients p USING (patientId)
ORDER BY COALESCE(p.position, 1e9) ASC, patientName ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.ImportedCraving{}
	for rows.Next() {
		var c internal.ImportedCraving
		if err := rows.Scan(&c.PatientID, &c.PatientName, &c.IdentifierToken, &c.Substance, &c.Level, &c.ReportID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) GetImportedCraving(patientID string) (*internal.ImportedCraving, error) {
	var c internal.ImportedCraving
	err := d.conn.QueryRow(`SELECT `+cravingColumns+` FROM imported_cravings WHERE patientId = ?`, patientID).
		Scan(&c.PatientID, &c.PatientName, &c.IdentifierToken, &c.Substance, &c.Level, &c.ReportID, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MergeShiftNotes writes notes over any stored entry with the same key and
// leaves other keys untouched.
func (d *DB) MergeShiftNotes(notes map[string]internal.ShiftNote) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO shift_notes (identifierKey, day, swing) VALUES (?, ?, ?)
ON CONFLICT(identifierKey) DO UPDATE SET
  day=excluded.day,
  swing=excluded.swing,
  updatedAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	keys := make([]string, 0, len(notes))
	for k := range notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n := notes[k]
		if _, err := stmt.Exec(k, n.Day, n.Swing); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) GetShiftNote(identifierKey string) (*internal.StoredShiftNote, error) {
	var n internal.StoredShiftNote
	err := d.conn.QueryRow(`SELECT identifierKey, day, swing, updatedAt FROM shift_notes WHERE identifierKey = ?`, identifierKey).
		Scan(&n.IdentifierKey, &n.Day, &n.Swing, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (d *DB) ListShiftNotes() ([]internal.StoredShiftNote, error) {
	rows, err := d.conn.Query(`SELECT identifierKey, day, swing, updatedAt FROM shift_notes ORDER BY identifierKey ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.StoredShiftNote{}
	for rows.Next() {
		var n internal.StoredShiftNote
		if err := rows.Scan(&n.IdentifierKey, &n.Day, &n.Swing, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (d *DB) SaveEvaluation(patientID string, data map[string]any) (internal.Evaluation, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return internal.Evaluation{}, err
	}
	result, err := d.conn.Exec(`INSERT INTO evaluations (patientId, dataJson) VALUES (?, ?)`, patientID, string(blob))
	if err != nil {
		return internal.Evaluation{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return internal.Evaluation{}, err
	}
	return d.getEvaluation(`WHERE id = ?`, id)
}

// LatestEvaluation returns the most recently saved evaluation for a patient.
func (d *DB) LatestEvaluation(patientID string) (internal.Evaluation, error) {
	ev, err := d.getEvaluation(`WHERE patientId = ? ORDER BY createdAt DESC, id DESC LIMIT 1`, patientID)
	if errors.Is(err, ErrNotFound) {
		return internal.Evaluation{}, fmt.Errorf("evaluation for patient %s: %w", patientID, ErrNotFound)
	}
	return ev, err
}

func (d *DB) getEvaluation(where string, args ...any) (internal.Evaluation, error) {
	var ev internal.Evaluation
	var blob string
	err := d.conn.QueryRow(`SELECT id, patientId, dataJson, createdAt FROM evaluations `+where, args...).
		Scan(&ev.ID, &ev.PatientID, &blob, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Evaluation{}, ErrNotFound
	}
	if err != nil {
		return internal.Evaluation{}, err
	}
	if err := json.Unmarshal([]byte(blob), &ev.Data); err != nil {
		return internal.Evaluation{}, fmt.Errorf("decode evaluation %d: %w", ev.ID, err)
	}
	return ev, nil
}

func (d *DB) UpdateEvaluationData(id int, data map[string]any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	res, err := d.conn.Exec(`UPDATE evaluations SET dataJson = ? WHERE id = ?`, string(blob), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("evaluation %d: %w", id, ErrNotFound)
	}
	return nil
}

func (d *DB) SetCompleted(patientID string, done bool) error {
	return d.setFlag("completion", patientID, done)
}

func (d *DB) ListCompleted() ([]string, error) {
	return d.listFlag("completion")
}

func (d *DB) SetAIEnhanced(patientID string, done bool) error {
	return d.setFlag("ai_enhanced", patientID, done)
}

func (d *DB) IsAIEnhanced(patientID string) (bool, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM ai_enhanced WHERE patientId = ?`, patientID).Scan(&n)
	return n > 0, err
}

// table is one of the fixed flag tables, never caller input.
func (d *DB) setFlag(table, patientID string, on bool) error {
	if !on {
		_, err := d.conn.Exec(`DELETE FROM `+table+` WHERE patientId = ?`, patientID)
		return err
	}
	_, err := d.conn.Exec(`
INSERT INTO `+table+` (patientId) VALUES (?)
ON CONFLICT(patientId) DO UPDATE SET updatedAt = CURRENT_TIMESTAMP
`, patientID)
	return err
}

func (d *DB) listFlag(table string) ([]string, error) {
	rows, err := d.conn.Query(`SELECT patientId FROM ` + table + ` ORDER BY patientId ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) InsertRun(traceID string, reportID *int, kind internal.ReportKind, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, reportId, kind, timingsJson, countsJson) VALUES (?, ?, ?, ?, ?)`,
		traceID, reportID, string(kind), string(timingsJSON), string(countsJSON))
	return err
}

func (d *DB) CountRuns() (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// WipeClientData removes every patient-bearing table. Metadata (settings and
// sync timestamps) and the report/run audit trail survive.
func (d *DB) WipeClientData() error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"patients", "craving_records", "imported_cravings", "shift_notes", "evaluations", "completion", "ai_enhanced"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (d *DB) GetCravingExportRows() ([]internal.ExportCravingRow, error) {
	items, err := d.ListImportedCravings()
	if err != nil {
		return nil, err
	}
	out := make([]internal.ExportCravingRow, 0, len(items))
	for _, c := range items {
		out = append(out, internal.ExportCravingRow{
			PatientID:       c.PatientID,
			PatientName:     c.PatientName,
			IdentifierToken: c.IdentifierToken,
			Substance:       c.Substance,
			Level:           c.Level,
		})
	}
	return out, nil
}

func (d *DB) GetShiftNoteExportRows() ([]internal.ExportShiftNoteRow, error) {
	rows, err := d.conn.Query(`
SELECT s.identifierKey,
       (SELECT p.name FROM patients p WHERE p.identifierKey = s.identifierKey ORDER BY p.position LIMIT 1),
       s.day, s.swing
FROM shift_notes s
ORDER BY s.identifierKey ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.ExportShiftNoteRow{}
	for rows.Next() {
		var row internal.ExportShiftNoteRow
		if err := rows.Scan(&row.IdentifierKey, &row.PatientName, &row.Day, &row.Swing); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
