package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
)

const Provider = "imap"

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	for _, req := range []struct{ name, value string }{
		{"IMAP_HOST", cfg.IMAPHost},
		{"IMAP_USER", cfg.IMAPUser},
		{"IMAP_PASSWORD", cfg.IMAPPassword},
	} {
		if err := cfg.Require(req.name, req.value); err != nil {
			return nil, err
		}
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// FetchInbox returns up to max unseen messages from the mailbox named label,
// newest last. The session is closed when ctx is cancelled.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	if label == "" {
		label = "INBOX"
	}
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	stop := context.AfterFunc(ctx, func() { _ = client.Terminate() })
	defer stop()

	if err := client.Login(c.user, c.password); err != nil {
		return nil, err
	}
	if _, err := client.Select(label, false); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if max > 0 && len(ids) > max {
		ids = ids[len(ids)-max:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, len(ids))
	seen := new(imap.SeqSet)
	var readErr error
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = err
			continue
		}
		out = append(out, toFetched(msg, raw))
		seen.AddNum(msg.SeqNum)
	}
	if err := <-fetchDone; err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}

	if c.markSeen && !seen.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := client.Store(seen, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toFetched(msg *imap.Message, raw []byte) internal.FetchedMailMessage {
	out := internal.FetchedMailMessage{Provider: Provider, Raw: raw}
	if msg.Envelope != nil {
		out.MessageID = msg.Envelope.MessageId
		out.Subject = msg.Envelope.Subject
		out.From = formatAddresses(msg.Envelope.From)
	}
	if out.MessageID == "" {
		out.MessageID = fmt.Sprintf("imap-%d", msg.Uid)
	}
	out.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
	if !msg.InternalDate.IsZero() {
		out.ReceivedAt = msg.InternalDate.UTC().Format(time.RFC3339)
	}
	return out
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
