package listener

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
	"shiftdoc/internal/connectors"
	"shiftdoc/internal/storage"
)

type failingConnector struct{}

func (failingConnector) FetchInbox(context.Context, string, int) ([]internal.FetchedMailMessage, error) {
	return nil, errors.New("mailbox unavailable")
}

func newListener(t *testing.T, connector connectors.MailConnector) (*Service, *storage.DB, config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		DBPath:               filepath.Join(root, "app.db"),
		RawMailDir:           filepath.Join(root, "raw"),
		OutputDir:            filepath.Join(root, "out"),
		DropDir:              filepath.Join(root, "inbox"),
		ListenerIntervalSec:  3600,
		ListenerFetchMax:     5,
		ListenerProcessBatch: 10,
		ListenerAutoExport:   true,
	}
	db, err := storage.Open(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.ReplaceRoster([]internal.RosterEntry{{PatientID: "7", Name: "Doe, Jane", IdentifierField: "FFR-2024-007"}})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.DropDir, 0o755))

	svc := NewService(db, cfg, connector, zap.NewNop())
	svc.settle = 0
	return svc, db, cfg
}

func TestRunCycleIngestsDropDir(t *testing.T) {
	svc, db, cfg := newListener(t, failingConnector{})

	require.NoError(t, os.WriteFile(filepath.Join(cfg.DropDir, "opener.txt"), []byte("Jane FFR-2024-007\nCravings/Triggers: alc 4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DropDir, "photo.jpg"), []byte{0xff, 0xd8}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DropDir, "empty.txt"), nil, 0o644))

	res, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingested)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Records)
	require.NotEmpty(t, res.Exported)
	assert.FileExists(t, res.Exported)

	assert.FileExists(t, filepath.Join(cfg.DropDir, ingestedDir, "opener.txt"))
	assert.NoFileExists(t, filepath.Join(cfg.DropDir, "opener.txt"))
	assert.FileExists(t, filepath.Join(cfg.DropDir, "photo.jpg"))

	c, err := db.GetImportedCraving("7")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 4, c.Level)

	res, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{}, res)
}

func TestIngestSkipsUnsettledFiles(t *testing.T) {
	svc, _, cfg := newListener(t, nil)
	svc.settle = time.Minute

	require.NoError(t, os.WriteFile(filepath.Join(cfg.DropDir, "fresh.txt"), []byte("FFR-2024-007\nDay: ok"), 0o644))
	n, err := svc.IngestDropDir()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = svc.IngestDropDir()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunPicksUpDroppedFile(t *testing.T) {
	svc, db, cfg := newListener(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(cfg.DropDir, "notes.txt"), []byte("FFR-2024-007\nDay: calm\nSwing: groups"), 0o644))

	require.Eventually(t, func() bool {
		n, err := db.GetShiftNote("FFR2024007")
		return err == nil && n != nil && n.Swing == "groups"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestIsDropCandidate(t *testing.T) {
	assert.True(t, isDropCandidate(fsnotify.Event{Name: "/in/a.PDF", Op: fsnotify.Create}))
	assert.True(t, isDropCandidate(fsnotify.Event{Name: "/in/a.eml", Op: fsnotify.Write}))
	assert.False(t, isDropCandidate(fsnotify.Event{Name: "/in/a.eml", Op: fsnotify.Remove}))
	assert.False(t, isDropCandidate(fsnotify.Event{Name: "/in/a.docx", Op: fsnotify.Create}))
}
