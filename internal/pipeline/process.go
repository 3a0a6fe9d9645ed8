package pipeline

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
	"shiftdoc/internal/storage"
	"shiftdoc/internal/util"
)

const (
	StatusFetched   = "fetched"
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

type ProcessingService struct {
	db     *storage.DB
	cfg    config.Config
	logger *zap.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, logger *zap.Logger) *ProcessingService {
	return &ProcessingService{db: db, cfg: cfg, logger: logger}
}

type ImportResult struct {
	TraceID  string
	ReportID *int
	Kind     internal.ReportKind
	// Parsed is the number of craving records or shift-note entries read.
	Parsed  int
	Matched int
	// Unmatched lists identifiers that are not on the stored roster.
	Unmatched []string
}

// Import decodes blob and runs the import for kind. ReportUnknown runs
// detection first.
func (s *ProcessingService) Import(kind internal.ReportKind, blob []byte) (ImportResult, error) {
	text, err := DecodeReportText(blob)
	if err != nil {
		return ImportResult{}, err
	}
	if kind == internal.ReportUnknown || kind == "" {
		kind = DetectReportKind("", text).Kind
	}
	switch kind {
	case internal.ReportCravings:
		return s.ImportCravings(text, nil)
	case internal.ReportShiftNotes:
		return s.ImportShiftNotes(text, nil)
	default:
		return ImportResult{Kind: internal.ReportUnknown, TraceID: uuid.NewString()}, nil
	}
}

// ImportCravings parses a craving report, joins it to the stored roster and
// makes the matches the current set of imported cravings.
func (s *ProcessingService) ImportCravings(text string, reportID *int) (ImportResult, error) {
	start := time.Now()
	res := ImportResult{TraceID: uuid.NewString(), ReportID: reportID, Kind: internal.ReportCravings}

	roster, err := s.db.ListRoster()
	if err != nil {
		return res, err
	}
	records := ParseCravingReport(text)
	matcher := NewMatcher(roster)
	parseMs := time.Since(start).Milliseconds()

	patientIDs := make([]*string, len(records))
	for i, rec := range records {
		if p, ok := matcher.Lookup(rec.IdentifierKey); ok {
			patientIDs[i] = util.StringPtr(p.PatientID)
		}
	}

	matches := matcher.Match(records)
	imported := make([]internal.ImportedCraving, 0, len(matches))
	for _, m := range matches {
		imported = append(imported, internal.ImportedCraving{
			PatientID:       m.Patient.PatientID,
			PatientName:     m.Patient.Name,
			IdentifierToken: m.Record.IdentifierToken,
			Substance:       m.Resolved.Substance,
			Level:           m.Resolved.Level,
			ReportID:        reportID,
		})
	}
	if err := s.db.SaveCravingImport(reportID, records, patientIDs, imported); err != nil {
		return res, err
	}

	for _, rec := range matcher.Unmatched(records) {
		res.Unmatched = append(res.Unmatched, rec.IdentifierToken)
	}
	res.Parsed = len(records)
	res.Matched = len(matches)

	s.recordRun(res, map[string]float64{"parseMs": float64(parseMs), "totalMs": float64(time.Since(start).Milliseconds())}, map[string]int{
		"records":   res.Parsed,
		"matched":   res.Matched,
		"unmatched": len(res.Unmatched),
		"noData":    res.Parsed - res.Matched - len(res.Unmatched),
	})
	return res, nil
}

// ImportShiftNotes parses a shift-note report and merges it into the stored
// notes; identifiers absent from the report keep their earlier notes.
func (s *ProcessingService) ImportShiftNotes(text string, reportID *int) (ImportResult, error) {
	start := time.Now()
	res := ImportResult{TraceID: uuid.NewString(), ReportID: reportID, Kind: internal.ReportShiftNotes}

	notes := ParseShiftNotes(text)
	if err := s.db.MergeShiftNotes(notes); err != nil {
		return res, err
	}

	roster, err := s.db.ListRoster()
	if err != nil {
		return res, err
	}
	matcher := NewMatcher(roster)
	keys := make([]string, 0, len(notes))
	for key := range notes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, ok := matcher.Lookup(key); ok {
			res.Matched++
		} else {
			res.Unmatched = append(res.Unmatched, key)
		}
	}
	res.Parsed = len(notes)

	s.recordRun(res, map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}, map[string]int{
		"notes":     res.Parsed,
		"matched":   res.Matched,
		"unmatched": len(res.Unmatched),
	})
	return res, nil
}

func (s *ProcessingService) ProcessByProviderMessageID(provider, messageID string) (ImportResult, error) {
	report, err := s.db.MustReportByProviderMessageID(provider, messageID)
	if err != nil {
		return ImportResult{}, err
	}
	return s.ProcessReport(report)
}

// ProcessPending handles up to limit fetched reports, oldest first. A report
// that fails is marked failed and the batch continues.
func (s *ProcessingService) ProcessPending(limit int) (int, int, error) {
	pending, err := s.db.ListReportsByStatus(StatusFetched, limit)
	if err != nil {
		return 0, 0, err
	}
	processedReports := 0
	processedRecords := 0
	for _, report := range pending {
		res, err := s.ProcessReport(report)
		if err != nil {
			s.logger.Error("report processing failed",
				zap.Int("report_id", report.ID),
				zap.String("provider", report.Provider),
				zap.Error(err),
			)
			if err := s.db.UpdateReportStatus(report.ID, StatusFailed, report.Kind); err != nil {
				s.logger.Error("report status update failed",
					zap.Int("report_id", report.ID),
					zap.String("status", StatusFailed),
					zap.Error(err),
				)
			}
			continue
		}
		processedReports++
		processedRecords += res.Parsed
	}
	return processedReports, processedRecords, nil
}

func (s *ProcessingService) ProcessReport(report internal.ReportRow) (ImportResult, error) {
	text, subject, err := s.reportText(report)
	if err != nil {
		return ImportResult{}, err
	}

	kind := report.Kind
	if kind == internal.ReportUnknown || kind == "" {
		detect := DetectReportKind(util.FirstNonEmpty(subject, report.Subject), text)
		kind = detect.Kind
		s.logger.Debug("report kind detected",
			zap.Int("report_id", report.ID),
			zap.String("kind", string(kind)),
			zap.String("reason", detect.Reason),
		)
	}

	reportID := report.ID
	var res ImportResult
	switch kind {
	case internal.ReportCravings:
		res, err = s.ImportCravings(text, &reportID)
	case internal.ReportShiftNotes:
		res, err = s.ImportShiftNotes(text, &reportID)
	default:
		if err := s.db.UpdateReportStatus(report.ID, StatusSkipped, internal.ReportUnknown); err != nil {
			return ImportResult{}, fmt.Errorf("mark report %d skipped: %w", report.ID, err)
		}
		s.logger.Info("report skipped", zap.Int("report_id", report.ID), zap.String("subject", report.Subject))
		return ImportResult{ReportID: &reportID, Kind: internal.ReportUnknown}, nil
	}
	if err != nil {
		return res, err
	}

	if err := s.db.UpdateReportStatus(report.ID, StatusProcessed, kind); err != nil {
		return res, err
	}
	return res, nil
}

func (s *ProcessingService) reportText(report internal.ReportRow) (string, string, error) {
	if report.Source == internal.SourceEmail {
		raw, err := os.ReadFile(report.RawRef)
		if err != nil {
			return "", "", err
		}
		email, err := ExtractReportFromEmail(raw)
		if err != nil {
			return "", "", fmt.Errorf("report %d: %w", report.ID, err)
		}
		return email.Text, email.Subject, nil
	}
	text, err := ExtractReportFromFile(report.RawRef)
	if err != nil {
		return "", "", fmt.Errorf("report %d: %w", report.ID, err)
	}
	return text, "", nil
}

func (s *ProcessingService) recordRun(res ImportResult, timings map[string]float64, counts map[string]int) {
	if err := s.db.InsertRun(res.TraceID, res.ReportID, res.Kind, timings, counts); err != nil {
		s.logger.Warn("run not recorded", zap.String("trace_id", res.TraceID), zap.Error(err))
	}
	s.logger.Info("report imported",
		zap.String("trace_id", res.TraceID),
		zap.String("kind", string(res.Kind)),
		zap.Int("parsed", res.Parsed),
		zap.Int("matched", res.Matched),
		zap.Strings("unmatched", res.Unmatched),
	)
}
