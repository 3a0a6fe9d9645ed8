package listener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"shiftdoc/internal/config"
	"shiftdoc/internal/connectors"
	"shiftdoc/internal/pipeline"
	"shiftdoc/internal/storage"
)

const ingestedDir = "ingested"

// DropExtensions are the report files picked up from the drop directory.
var DropExtensions = map[string]bool{".txt": true, ".eml": true, ".pdf": true, ".xlsx": true}

type Service struct {
	db        *storage.DB
	cfg       config.Config
	connector connectors.MailConnector
	store     *connectors.ReportStore
	processor *pipeline.ProcessingService
	logger    *zap.Logger

	// settle is how long a dropped file must sit unchanged before ingest.
	settle time.Duration
	now    func() time.Time
}

type CycleResult struct {
	Fetched   int
	Stored    int
	Ingested  int
	Processed int
	Records   int
	Exported  string
}

// NewService wires one listener. connector may be nil, in which case cycles
// only look at the drop directory.
func NewService(db *storage.DB, cfg config.Config, connector connectors.MailConnector, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		cfg:       cfg,
		connector: connector,
		store:     connectors.NewReportStore(db, cfg.RawMailDir),
		processor: pipeline.NewProcessingService(db, cfg, logger),
		logger:    logger,
		settle:    2 * time.Second,
		now:       time.Now,
	}
}

// Run executes a cycle immediately, then on every interval tick and shortly
// after a report file lands in the drop directory. It returns nil when ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if s.cfg.DropDir != "" {
		if err := os.MkdirAll(s.cfg.DropDir, 0o755); err != nil {
			return err
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		if err := watcher.Add(s.cfg.DropDir); err != nil {
			return fmt.Errorf("watch %s: %w", s.cfg.DropDir, err)
		}
		events, watchErrs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		case <-debounce.C:
			s.cycle(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if isDropCandidate(ev) {
				debounce.Reset(s.settle + 50*time.Millisecond)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("drop directory watch error", zap.Error(err))
		}
	}
}

func (s *Service) cycle(ctx context.Context) {
	res, err := s.RunCycle(ctx)
	if err != nil {
		s.logger.Error("listener cycle failed", zap.Error(err))
		return
	}
	s.logger.Info("listener cycle done",
		zap.Int("fetched", res.Fetched),
		zap.Int("stored", res.Stored),
		zap.Int("ingested", res.Ingested),
		zap.Int("processed", res.Processed),
		zap.Int("records", res.Records),
		zap.String("exported", res.Exported),
	)
}

// RunCycle fetches mail, ingests dropped files, processes pending reports and
// optionally exports. A mail fetch failure is logged and the rest of the
// cycle still runs.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	if s.connector != nil {
		fetch := connectors.NewFetchService(s.db, s.cfg.RawMailDir, s.connector, s.logger)
		fr, err := fetch.FetchAndStore(ctx, s.cfg.ListenerLabel, s.cfg.ListenerFetchMax)
		if err != nil {
			s.logger.Warn("mail fetch failed", zap.String("provider", s.cfg.ListenerProvider), zap.Error(err))
		}
		res.Fetched, res.Stored = fr.Fetched, fr.Stored
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	ingested, err := s.IngestDropDir()
	if err != nil {
		return res, err
	}
	res.Ingested = ingested

	batch := s.cfg.ListenerProcessBatch
	if batch <= 0 {
		batch = 20
	}
	res.Processed, res.Records, err = s.processor.ProcessPending(batch)
	if err != nil {
		return res, err
	}

	if s.cfg.ListenerAutoExport && res.Processed > 0 {
		path, err := s.export()
		if err != nil {
			return res, err
		}
		res.Exported = path
	}
	return res, nil
}

// IngestDropDir registers every settled report file in the drop directory
// and moves it under ingested/.
func (s *Service) IngestDropDir() (int, error) {
	if s.cfg.DropDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(s.cfg.DropDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !DropExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 || s.now().Sub(info.ModTime()) < s.settle {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	done := filepath.Join(s.cfg.DropDir, ingestedDir)
	count := 0
	for _, name := range names {
		src := filepath.Join(s.cfg.DropDir, name)
		row, err := s.store.StoreFile(src)
		if err != nil {
			return count, fmt.Errorf("ingest %s: %w", name, err)
		}
		if err := os.MkdirAll(done, 0o755); err != nil {
			return count, err
		}
		if err := os.Rename(src, filepath.Join(done, name)); err != nil {
			return count, err
		}
		s.logger.Debug("dropped report ingested", zap.String("file", name), zap.Int("report_id", row.ID), zap.String("status", row.Status))
		count++
	}
	return count, nil
}

func (s *Service) export() (string, error) {
	cravings, err := s.db.GetCravingExportRows()
	if err != nil {
		return "", err
	}
	notes, err := s.db.GetShiftNoteExportRows()
	if err != nil {
		return "", err
	}
	review, err := s.db.ListCravingReview()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("shiftdoc_%s.xlsx", s.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.cfg.OutputDir, "listener", name)
	if err := pipeline.ExportToXLSX(cravings, notes, review, path); err != nil {
		return "", err
	}
	return path, nil
}

func isDropCandidate(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	return DropExtensions[strings.ToLower(filepath.Ext(ev.Name))]
}
