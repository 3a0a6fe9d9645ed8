package connectors

import (
	"context"
	"errors"
	"fmt"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
)

// MailConnector pulls report e-mails from one inbox.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// Factory builds the connector for one provider name.
type Factory func(cfg config.Config) (MailConnector, error)

// ErrNoProvider is returned for the "none" provider, which disables fetching.
var ErrNoProvider = errors.New("mail provider disabled")

func New(provider string, cfg config.Config, factories map[string]Factory) (MailConnector, error) {
	if provider == "" || provider == "none" {
		return nil, ErrNoProvider
	}
	f, ok := factories[provider]
	if !ok {
		return nil, fmt.Errorf("unknown mail provider %q (want gmail, imap or none)", provider)
	}
	return f(cfg)
}
