package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"shiftdoc/internal"
	"shiftdoc/internal/config"
)

const (
	sessionCookieName = "_session_id"
	signInPath        = "/users/sign_in"
)

var (
	ErrSignInRequired = errors.New("kipu session expired: sign in again and refresh KIPU_SESSION_COOKIE")
	ErrNoBaseURL      = errors.New("missing KIPU_BASE_URL")
)

// Client crawls the occupancy board with the operator's browser session.
type Client struct {
	cfg        config.Config
	httpClient *resty.Client
	limiter    *RateLimiter
	logger     *zap.Logger
}

func NewClient(cfg config.Config, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.KipuBaseURL, "/")).
		SetTimeout(time.Duration(cfg.KipuTimeoutMs) * time.Millisecond).
		SetRetryCount(3).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && isRetryableStatus(resp.StatusCode()))
		}).
		SetHeader("Accept", "text/html")
	if cfg.KipuSessionCookie != "" {
		httpClient.SetCookie(&http.Cookie{Name: sessionCookieName, Value: cfg.KipuSessionCookie})
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    NewRateLimiter(cfg.KipuRateLimitRPS),
		logger:     logger,
	}
}

// FetchRoster walks the occupancy board from the first page along its "next"
// links, up to KipuMaxPages pages, and returns each patient once.
func (c *Client) FetchRoster(ctx context.Context) ([]internal.RosterEntry, error) {
	if strings.TrimSpace(c.cfg.KipuBaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(c.cfg.KipuBaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse KIPU_BASE_URL: %w", err)
	}
	start, err := base.Parse(strings.TrimLeft(c.cfg.KipuOccupancyPath, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse KIPU_OCCUPANCY_PATH: %w", err)
	}

	maxPages := c.cfg.KipuMaxPages
	if maxPages <= 0 {
		maxPages = 20
	}

	all := []internal.RosterEntry{}
	seenPatients := map[string]struct{}{}
	seenPages := map[string]struct{}{}
	next := start.String()

	for page := 0; next != "" && page < maxPages; page++ {
		if _, ok := seenPages[next]; ok {
			break
		}
		seenPages[next] = struct{}{}

		doc, pageURL, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}

		entries := parseBoard(doc)
		added := 0
		for _, e := range entries {
			if _, dup := seenPatients[e.PatientID]; dup {
				continue
			}
			seenPatients[e.PatientID] = struct{}{}
			all = append(all, e)
			added++
		}
		c.logger.Debug("occupancy page parsed",
			zap.Int("page", page+1),
			zap.String("url", pageURL.String()),
			zap.Int("rows", len(entries)),
			zap.Int("new", added),
		)

		next = NextPageURL(doc, pageURL)
	}

	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	if err := c.limiter.WaitTurn(ctx); err != nil {
		return nil, nil, err
	}

	resp, err := c.httpClient.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	final, _ := url.Parse(pageURL)
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL
	}
	if final != nil && strings.HasPrefix(final.Path, signInPath) {
		return nil, nil, ErrSignInRequired
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, nil, ErrSignInRequired
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("kipu status %d for %s", resp.StatusCode(), pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, final, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
