package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shiftdoc/internal"
	"shiftdoc/internal/storage"
)

const DropProvider = "drop"

// ReportStore keeps the raw bytes of every incoming report under rawDir,
// named by content hash, and registers it as a fetched report.
type ReportStore struct {
	db     *storage.DB
	rawDir string
}

func NewReportStore(db *storage.DB, rawDir string) *ReportStore {
	return &ReportStore{db: db, rawDir: rawDir}
}

func (s *ReportStore) StoreMail(msg internal.FetchedMailMessage) (internal.ReportRow, error) {
	hash, rawPath, err := s.writeRaw(msg.Raw, ".eml")
	if err != nil {
		return internal.ReportRow{}, err
	}
	return s.db.UpsertReport(internal.ReportRow{
		Source:     internal.SourceEmail,
		Provider:   msg.Provider,
		MessageID:  msg.MessageID,
		Subject:    msg.Subject,
		Sender:     msg.From,
		ReceivedAt: msg.ReceivedAt,
		Hash:       hash,
		RawRef:     rawPath,
	})
}

// StoreFile registers a dropped report file. The content hash is the message
// id, so dropping the same file twice yields one report.
func (s *ReportStore) StoreFile(path string) (internal.ReportRow, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return internal.ReportRow{}, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	hash, rawPath, err := s.writeRaw(blob, ext)
	if err != nil {
		return internal.ReportRow{}, err
	}

	received := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		received = info.ModTime().UTC()
	}
	source := internal.SourceFile
	if ext == ".eml" {
		source = internal.SourceEmail
	}
	return s.db.UpsertReport(internal.ReportRow{
		Source:     source,
		Provider:   DropProvider,
		MessageID:  hash,
		Subject:    filepath.Base(path),
		ReceivedAt: received.Format(time.RFC3339),
		Hash:       hash,
		RawRef:     rawPath,
	})
}

func (s *ReportStore) writeRaw(blob []byte, ext string) (string, string, error) {
	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(s.rawDir, 0o755); err != nil {
		return "", "", err
	}
	rawPath := filepath.Join(s.rawDir, hash+ext)
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, blob, 0o644); err != nil {
			return "", "", err
		}
	}
	return hash, rawPath, nil
}
