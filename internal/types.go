package internal

type ReportKind string

const (
	ReportCravings   ReportKind = "cravings"
	ReportShiftNotes ReportKind = "shift_notes"
	ReportUnknown    ReportKind = "unknown"
)

type ReportSource string

const (
	SourcePaste ReportSource = "paste"
	SourceEmail ReportSource = "email"
	SourceFile  ReportSource = "file"
)

const SubstanceUnknown = "unknown"

// RosterEntry is one occupied bed on the occupancy board. IdentifierField is
// the free-text "P" column and may or may not carry an identifier token.
type RosterEntry struct {
	PatientID       string `json:"patientId"`
	Name            string `json:"name"`
	IdentifierField string `json:"identifierField"`
}

type CravingObservation struct {
	Substance string `json:"substance"`
	Level     int    `json:"level"`
}

type CravingRecord struct {
	Name            string               `json:"name"`
	IdentifierToken string               `json:"identifierToken"`
	IdentifierKey   string               `json:"identifierKey"`
	Observations    []CravingObservation `json:"observations"`
}

type ShiftNote struct {
	Day   string `json:"day"`
	Swing string `json:"swing"`
}

type CravingMatch struct {
	Patient  RosterEntry
	Record   CravingRecord
	Resolved CravingObservation
}

type ImportedCraving struct {
	PatientID       string
	PatientName     string
	IdentifierToken string
	Substance       string
	Level           int
	ReportID        *int
	UpdatedAt       string
}

type StoredShiftNote struct {
	IdentifierKey string
	ShiftNote
	UpdatedAt string
}

type Evaluation struct {
	ID        int
	PatientID string
	CreatedAt string
	Data      map[string]any
}

type ReportRow struct {
	ID         int
	Source     ReportSource
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Kind       ReportKind
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type Prefill struct {
	PatientID        string `json:"patientId"`
	CravingLevel     *int   `json:"cravingLevel,omitempty"`
	CravingSubstance string `json:"cravingSubstance,omitempty"`
	DayNotes         string `json:"dayNotes,omitempty"`
	SwingNotes       string `json:"swingNotes,omitempty"`
}

type ExportCravingRow struct {
	PatientID       string
	PatientName     string
	IdentifierToken string
	Substance       string
	Level           int
}

const (
	ReviewNotOnRoster = "not on roster"
	ReviewNoData      = "no craving data"
)

// ExportReviewRow is a parsed craving record that needs a human look.
type ExportReviewRow struct {
	Name            string
	IdentifierToken string
	Reason          string
}

type ExportShiftNoteRow struct {
	IdentifierKey string
	PatientName   *string
	Day           string
	Swing         string
}
