/*
Package crawler talks to the external crawl service that renders article
pages to markdown. A failed crawl is a normal control-flow outcome for the
analyzer, not an exception: the article stays pending and is retried on a
later run.
*/
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/httpclient"
	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// truncationSentinel marks content that was cut at the length ceiling
const truncationSentinel = "\n\n[truncated]"

// ErrNotConfigured is returned when no crawler endpoint is set
var ErrNotConfigured = errors.New("crawler base url not configured")

// Config holds the crawl service settings
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// MinContentLength rejects near-empty crawl results
	MinContentLength int
	// MaxContentLength caps what is stored and sent to the model
	MaxContentLength int
}

// Client calls the crawl service's markdown endpoint
type Client struct {
	cfg     Config
	http    *httpclient.Client
	retrier *httpclient.Retrier
	logger  *logrus.Logger
}

// NewClient creates a crawler client. The crawl service gets its own HTTP
// client because rendering a page takes far longer than a feed fetch.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryCfg := httpclient.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries + 1

	return &Client{
		cfg:     cfg,
		http:    httpclient.New(httpclient.Config{Timeout: timeout}, logger),
		retrier: httpclient.NewRetrier(retryCfg, logger),
		logger:  logger,
	}
}

type crawlRequest struct {
	URL string `json:"url"`
}

type crawlResponse struct {
	Success      bool   `json:"success"`
	Markdown     string `json:"markdown"`
	ErrorMessage string `json:"error_message"`
}

// Crawl fetches the page at rawURL rendered to markdown. The returned
// content is capped at the configured ceiling with a sentinel suffix.
func (c *Client) Crawl(ctx context.Context, rawURL string) (content string, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		monitoring.RecordCrawl(status, time.Since(start).Seconds())
	}()

	if c.cfg.BaseURL == "" {
		return "", ErrNotConfigured
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/md"

	var body []byte
	reqErr := c.retrier.Do(ctx, "crawl article", func() error {
		var postErr error
		body, postErr = c.http.PostJSON(ctx, endpoint, crawlRequest{URL: rawURL})
		return postErr
	})
	if reqErr != nil {
		return "", fmt.Errorf("crawl request failed: %w", reqErr)
	}

	var resp crawlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid crawl response: %w", err)
	}
	if !resp.Success {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "crawl service reported failure"
		}
		return "", errors.New(msg)
	}

	markdown := strings.TrimSpace(resp.Markdown)
	if len(markdown) < c.cfg.MinContentLength {
		return "", fmt.Errorf("content too short or empty (%d chars)", len(markdown))
	}

	if len(markdown) > c.cfg.MaxContentLength {
		markdown = utils.TruncateWithSuffix(markdown, c.cfg.MaxContentLength, truncationSentinel)
		c.logger.WithFields(logrus.Fields{
			"url":   utils.Truncate(rawURL, 120),
			"limit": c.cfg.MaxContentLength,
		}).Debug("Crawl content truncated")
	}
	return markdown, nil
}
