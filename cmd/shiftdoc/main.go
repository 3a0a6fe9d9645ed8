package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
	"shiftdoc/internal/connectors"
	gmailconnector "shiftdoc/internal/connectors/gmail"
	imapconnector "shiftdoc/internal/connectors/imap"
	"shiftdoc/internal/logging"
	"shiftdoc/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command needs. The database is opened on first use
// so commands that never touch it leave no file behind.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *storage.DB
}

func (a *app) database() (*storage.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.DBPath, err)
	}
	a.db = db
	return db, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "shiftdoc",
		Short:         "Craving and shift-note report intake for evaluation prefill",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "shiftdoc")
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.AddCommand(
		rosterSyncCmd(a),
		rosterImportCmd(a),
		rosterListCmd(a),
		reportImportCmd(a, "cravings:import", "Import a craving report (morning opener)", internal.ReportCravings),
		reportImportCmd(a, "shiftnotes:import", "Import a shift-note report", internal.ReportShiftNotes),
		reportsFetchCmd(a),
		reportsProcessCmd(a),
		reportsListenCmd(a),
		evalSaveCmd(a),
		evalPrefillCmd(a),
		evalCompleteCmd(a),
		narrativeEnhanceCmd(a),
		exportCmd(a),
		wipeCmd(a),
		runCmd(a),
	)
	return root
}

// makeConnector returns nil without error for the "none" provider.
func makeConnector(ctx context.Context, cfg config.Config, provider string) (connectors.MailConnector, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	conn, err := connectors.New(provider, cfg, map[string]connectors.Factory{
		gmailconnector.Provider: func(cfg config.Config) (connectors.MailConnector, error) {
			return gmailconnector.NewConnector(ctx, cfg)
		},
		imapconnector.Provider: func(cfg config.Config) (connectors.MailConnector, error) {
			return imapconnector.NewConnector(cfg)
		},
	})
	if errors.Is(err, connectors.ErrNoProvider) {
		return nil, nil
	}
	return conn, err
}
