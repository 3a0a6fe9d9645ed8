package narrative

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"shiftdoc/internal/storage"
)

// Generator turns an evaluation summary into a shift-note paragraph.
type Generator interface {
	GenerateShiftNote(ctx context.Context, summary string) (string, error)
}

type Service struct {
	db     *storage.DB
	gen    Generator
	logger *zap.Logger
}

func NewService(db *storage.DB, gen Generator, logger *zap.Logger) *Service {
	return &Service{db: db, gen: gen, logger: logger}
}

type EnhanceResult struct {
	Enhanced []string
	Skipped  []string
	Failed   []string
}

// EnhanceCompleted rewrites milieu_engagement in the latest evaluation of
// every completed patient. Patients without an evaluation are skipped; a
// patient whose generation fails is logged and left unchanged.
func (s *Service) EnhanceCompleted(ctx context.Context) (EnhanceResult, error) {
	var res EnhanceResult
	completed, err := s.db.ListCompleted()
	if err != nil {
		return res, err
	}

	for _, patientID := range completed {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ev, err := s.db.LatestEvaluation(patientID)
		if errors.Is(err, storage.ErrNotFound) {
			res.Skipped = append(res.Skipped, patientID)
			continue
		}
		if err != nil {
			return res, err
		}

		note, err := s.gen.GenerateShiftNote(ctx, FormatSummary(ev.Data))
		if errors.Is(err, ErrMissingAPIKey) {
			return res, err
		}
		if err != nil {
			s.logger.Warn("shift note generation failed", zap.String("patient_id", patientID), zap.Error(err))
			res.Failed = append(res.Failed, patientID)
			continue
		}

		if ev.Data == nil {
			ev.Data = map[string]any{}
		}
		ev.Data["milieu_engagement"] = note
		if err := s.db.UpdateEvaluationData(ev.ID, ev.Data); err != nil {
			return res, err
		}
		if err := s.db.SetAIEnhanced(patientID, true); err != nil {
			return res, err
		}
		s.logger.Info("evaluation enhanced", zap.String("patient_id", patientID), zap.Int("evaluation_id", ev.ID))
		res.Enhanced = append(res.Enhanced, patientID)
	}
	return res, nil
}
