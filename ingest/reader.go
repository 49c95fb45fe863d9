package ingest

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/httpclient"
	"github.com/wartamigas/news-monitor-backend/types"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// feedFetchTimeout bounds a single feed download attempt. Feeds that take
// longer than this are not worth waiting for; the retrier gets another try.
const feedFetchTimeout = 15 * time.Second

// Reader fetches RSS 2.0 and Atom feeds and normalizes their items into
// articles
type Reader struct {
	parser  *gofeed.Parser
	client  *httpclient.Client
	retrier *httpclient.Retrier
	strip   *bluemonday.Policy
	logger  *logrus.Logger
}

// NewReader creates a feed reader on top of the shared HTTP client
func NewReader(client *httpclient.Client, retrier *httpclient.Retrier, logger *logrus.Logger) *Reader {
	return &Reader{
		parser:  gofeed.NewParser(),
		client:  client,
		retrier: retrier,
		strip:   bluemonday.StrictPolicy(),
		logger:  logger,
	}
}

// Fetch downloads and parses the feed at feedURL. Transport failures are
// retried; parse failures are not.
func (r *Reader) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	var body []byte
	err := r.retrier.Do(ctx, "fetch feed", func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
		defer cancel()

		var reqErr error
		body, reqErr = r.client.Get(attemptCtx, feedURL)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	feed, err := r.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feed, nil
}

// Normalize converts a parsed feed item into an article. Items missing a
// title or link are dropped (nil return).
func (r *Reader) Normalize(item *gofeed.Item, sourceType types.SourceType) *types.Article {
	if item == nil {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return nil
	}

	return &types.Article{
		Link:        link,
		SourceType:  sourceType,
		Title:       utils.Truncate(utils.NormalizeWhitespace(title), types.MaxTitleLength),
		Snippet:     r.snippet(item),
		PhotoURL:    photoURL(item),
		PublishedAt: publishedAt(item),
	}
}

// snippet builds the plain-text snippet, preferring the item description over
// its full content
func (r *Reader) snippet(item *gofeed.Item) string {
	body := item.Description
	if strings.TrimSpace(body) == "" {
		body = item.Content
	}
	text := html.UnescapeString(r.strip.Sanitize(body))
	return utils.Truncate(utils.NormalizeWhitespace(text), types.MaxSnippetLength)
}

// publishedAt normalizes the publish time to UTC. Atom feeds sometimes only
// carry an updated timestamp, which serves the same purpose. Unparseable
// dates yield nil and the article is excluded from cutoff comparisons.
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

// photoURL picks the item image: enclosure first, then the media extension
// content and thumbnail elements
func photoURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, element := range []string{"content", "thumbnail"} {
			for _, ext := range media[element] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	return ""
}
