package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
)

const Provider = "gmail"

type Connector struct {
	service *gmail.Service
}

func NewConnector(ctx context.Context, cfg config.Config) (*Connector, error) {
	for _, req := range []struct{ name, value string }{
		{"GMAIL_CLIENT_ID", cfg.GmailClientID},
		{"GMAIL_CLIENT_SECRET", cfg.GmailClientSecret},
		{"GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken},
	} {
		if err := cfg.Require(req.name, req.value); err != nil {
			return nil, err
		}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}
	return &Connector{service: svc}, nil
}

// FetchInbox lists the newest messages under label and downloads each one in
// raw RFC 822 form. Headers are read from the raw message itself.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	list := c.service.Users.Messages.List("me").MaxResults(int64(max)).Context(ctx)
	if label != "" {
		list = list.LabelIds(label)
	}
	listResp, err := list.Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list %s: %w", label, err)
	}

	out := make([]internal.FetchedMailMessage, 0, len(listResp.Messages))
	for _, ref := range listResp.Messages {
		if ref.Id == "" {
			continue
		}
		rawResp, err := c.service.Users.Messages.Get("me", ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("gmail get %s: %w", ref.Id, err)
		}
		if rawResp.Raw == "" {
			continue
		}
		raw, err := decodeBase64URL(rawResp.Raw)
		if err != nil {
			return nil, err
		}

		msg := internal.FetchedMailMessage{
			Provider:   Provider,
			MessageID:  ref.Id,
			ReceivedAt: time.UnixMilli(rawResp.InternalDate).UTC().Format(time.RFC3339),
			Raw:        raw,
		}
		if parsed, err := mail.ReadMessage(strings.NewReader(string(raw))); err == nil {
			if id := strings.TrimSpace(parsed.Header.Get("Message-ID")); id != "" {
				msg.MessageID = id
			}
			msg.Subject = decodeHeader(parsed.Header.Get("Subject"))
			msg.From = decodeHeader(parsed.Header.Get("From"))
			if rawResp.InternalDate == 0 {
				if t, err := parsed.Header.Date(); err == nil {
					msg.ReceivedAt = t.UTC().Format(time.RFC3339)
				}
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	if s, err := dec.DecodeHeader(v); err == nil {
		return s
	}
	return v
}
