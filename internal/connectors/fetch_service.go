package connectors

import (
	"context"

	"go.uber.org/zap"

	"shiftdoc/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *ReportStore
	logger    *zap.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(db *storage.DB, rawDir string, connector MailConnector, logger *zap.Logger) *FetchService {
	return &FetchService{
		connector: connector,
		store:     NewReportStore(db, rawDir),
		logger:    logger,
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	stored := 0
	for _, msg := range messages {
		row, err := s.store.StoreMail(msg)
		if err != nil {
			return FetchResult{Fetched: len(messages), Stored: stored}, err
		}
		s.logger.Debug("report mail stored",
			zap.String("provider", row.Provider),
			zap.String("message_id", row.MessageID),
			zap.String("status", row.Status),
		)
		stored++
	}

	s.logger.Info("mail fetched", zap.String("label", label), zap.Int("fetched", len(messages)), zap.Int("stored", stored))
	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}
