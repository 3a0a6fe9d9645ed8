package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"shiftdoc/internal/config"
	"shiftdoc/internal/connectors"
	gmailconnector "shiftdoc/internal/connectors/gmail"
	imapconnector "shiftdoc/internal/connectors/imap"
	"shiftdoc/internal/listener"
	"shiftdoc/internal/logging"
	"shiftdoc/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "report-listener")
	must(err)
	defer logger.Sync()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := connectors.New(strings.ToLower(strings.TrimSpace(cfg.ListenerProvider)), cfg, map[string]connectors.Factory{
		gmailconnector.Provider: func(cfg config.Config) (connectors.MailConnector, error) {
			return gmailconnector.NewConnector(ctx, cfg)
		},
		imapconnector.Provider: func(cfg config.Config) (connectors.MailConnector, error) {
			return imapconnector.NewConnector(cfg)
		},
	})
	if errors.Is(err, connectors.ErrNoProvider) {
		conn, err = nil, nil
	}
	must(err)

	logger.Info("listener starting",
		zap.String("provider", cfg.ListenerProvider),
		zap.String("drop_dir", cfg.DropDir),
		zap.Int("interval_sec", cfg.ListenerIntervalSec),
	)
	must(listener.NewService(db, cfg, conn, logger).Run(ctx))
	logger.Info("listener stopped")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
