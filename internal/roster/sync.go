package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
	"shiftdoc/internal/storage"
)

// ErrEmptyBoard means the page parsed but no patient rows were found; the
// stored roster is left as it was.
var ErrEmptyBoard = errors.New("occupancy board has no patient rows")

const (
	metaLastSync   = "roster.last_sync"
	metaLastImport = "roster.last_import"
)

type SyncService struct {
	db     *storage.DB
	client *Client
	logger *zap.Logger
}

func NewSyncService(db *storage.DB, cfg config.Config, logger *zap.Logger) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg, logger), logger: logger}
}

// Sync crawls the live occupancy board and replaces the stored roster.
func (s *SyncService) Sync(ctx context.Context) (int, error) {
	entries, err := s.client.FetchRoster(ctx)
	if err != nil {
		return 0, err
	}
	return s.replace(entries, metaLastSync)
}

// ImportHTML replaces the stored roster from a saved occupancy page.
func (s *SyncService) ImportHTML(r io.Reader) (int, error) {
	entries, err := ParseOccupancyBoard(r)
	if err != nil {
		return 0, fmt.Errorf("parse occupancy html: %w", err)
	}
	return s.replace(entries, metaLastImport)
}

func (s *SyncService) replace(entries []internal.RosterEntry, metaKey string) (int, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyBoard
	}
	stored, err := s.db.ReplaceRoster(entries)
	if err != nil {
		return 0, err
	}
	_ = s.db.SetMetadata(metaKey, time.Now().UTC().Format(time.RFC3339))

	idx := BuildIndex(entries)
	s.logger.Info("roster replaced",
		zap.Int("patients", stored),
		zap.Int("with_identifier", len(idx.ByKey)),
		zap.Strings("duplicate_identifiers", idx.Duplicates),
	)
	return stored, nil
}
