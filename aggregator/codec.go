/*
Package aggregator integrates with the news aggregator: building keyword
search feeds and decoding the opaque article URLs its results carry.

Aggregator links do not point at the publisher. Older identifiers embed the
publisher URL in a base64 payload and decode locally; newer ones only resolve
through the aggregator's batchexecute endpoint, which needs a signature and
timestamp scraped from the article page.
*/
package aggregator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/wartamigas/news-monitor-backend/httpclient"
)

// Config holds the aggregator endpoint and edition settings
type Config struct {
	BaseURL  string
	Language string
	Country  string
	Edition  string
}

// Decode failure modes. All of them mark the article decode_failed.
var (
	ErrInvalidURLShape       = errors.New("invalid aggregator url shape")
	ErrFetchParamsFailed     = errors.New("failed to fetch decoding params")
	ErrInvalidDecodeResponse = errors.New("invalid decode response")
)

// reservedSegments never hold the article identifier
var reservedSegments = map[string]bool{
	"rss":      true,
	"articles": true,
	"read":     true,
}

// payload framing of the direct-decode format
var (
	directPrefix = []byte{0x08, 0x13, 0x22}
	directSuffix = []byte{0xd2, 0x01, 0x00}
)

// remoteMarker prefixes embedded strings that are not publisher URLs and can
// only be resolved through the batchexecute endpoint
const remoteMarker = "AU_yqL"

// Codec resolves opaque aggregator article URLs to publisher URLs
type Codec struct {
	cfg     Config
	client  *httpclient.Client
	retrier *httpclient.Retrier
	logger  *logrus.Logger
	host    string
}

// NewCodec creates a codec for the configured aggregator endpoint
func NewCodec(cfg Config, client *httpclient.Client, retrier *httpclient.Retrier, logger *logrus.Logger) *Codec {
	host := ""
	if parsed, err := url.Parse(cfg.BaseURL); err == nil {
		host = strings.ToLower(parsed.Hostname())
	}
	return &Codec{
		cfg:     cfg,
		client:  client,
		retrier: retrier,
		logger:  logger,
		host:    host,
	}
}

// IsAggregatorURL reports whether the URL points at the aggregator domain
func (c *Codec) IsAggregatorURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Hostname(), c.host)
}

// ExtractID returns the opaque article identifier: the last path segment
// that is not a reserved routing word.
func (c *Codec) ExtractID(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURLShape, err)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment := segments[i]
		if segment == "" || reservedSegments[segment] {
			continue
		}
		return segment, nil
	}
	return "", fmt.Errorf("%w: no identifier segment in %q", ErrInvalidURLShape, parsed.Path)
}

// Resolution is the outcome of a decode attempt
type Resolution struct {
	ID  string
	URL string
	// Remote is true when the resolution needed a batchexecute round trip,
	// which is what the politeness delay keys on
	Remote bool
}

// Decode resolves an aggregator article URL to its publisher URL. Direct
// decoding is attempted first; identifiers that cannot be decoded locally go
// through the signed batchexecute path.
func (c *Codec) Decode(ctx context.Context, rawURL string) (*Resolution, error) {
	id, err := c.ExtractID(rawURL)
	if err != nil {
		return nil, err
	}
	return c.DecodeID(ctx, id)
}

// DecodeID resolves an opaque identifier to its publisher URL
func (c *Codec) DecodeID(ctx context.Context, id string) (*Resolution, error) {
	if decoded, ok := decodeDirect(id); ok {
		return &Resolution{ID: id, URL: decoded, Remote: false}, nil
	}

	resolved, err := c.decodeRemote(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Resolution{ID: id, URL: resolved, Remote: true}, nil
}

// decodeDirect attempts the local base64 decode. It returns false when the
// identifier uses the newer format that embeds no URL.
func decodeDirect(id string) (string, bool) {
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(id)
	if err != nil {
		return "", false
	}

	raw = bytesTrimPrefix(raw, directPrefix)
	raw = bytesTrimSuffix(raw, directSuffix)
	if len(raw) == 0 {
		return "", false
	}

	// Single-byte length, or a two-byte varint when the high bit is set
	length := int(raw[0])
	offset := 1
	if length >= 0x80 {
		if len(raw) < 2 {
			return "", false
		}
		length = (length & 0x7f) | int(raw[1])<<7
		offset = 2
	}
	if offset+length > len(raw) {
		return "", false
	}

	embedded := string(raw[offset : offset+length])
	if strings.HasPrefix(embedded, remoteMarker) {
		return "", false
	}
	if !strings.HasPrefix(embedded, "http://") && !strings.HasPrefix(embedded, "https://") {
		return "", false
	}
	return embedded, true
}

func bytesTrimPrefix(b, prefix []byte) []byte {
	if len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix) {
		return b[len(prefix):]
	}
	return b
}

func bytesTrimSuffix(b, suffix []byte) []byte {
	if len(b) >= len(suffix) && string(b[len(b)-len(suffix):]) == string(suffix) {
		return b[:len(b)-len(suffix)]
	}
	return b
}

// decodeRemote resolves an identifier through the batchexecute endpoint
func (c *Codec) decodeRemote(ctx context.Context, id string) (string, error) {
	signature, timestamp, err := c.fetchDecodingParams(ctx, id)
	if err != nil {
		return "", err
	}
	return c.resolveURL(ctx, id, signature, timestamp)
}

// fetchDecodingParams scrapes the signature and timestamp attributes from the
// aggregator article page
func (c *Codec) fetchDecodingParams(ctx context.Context, id string) (signature string, timestamp int64, err error) {
	pageURL := fmt.Sprintf("%s/rss/articles/%s?hl=%s&gl=%s&ceid=%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), url.PathEscape(id),
		url.QueryEscape(c.cfg.Language), url.QueryEscape(c.cfg.Country), url.QueryEscape(c.cfg.Edition))

	var body []byte
	fetchErr := c.retrier.Do(ctx, "fetch decoding params", func() error {
		var reqErr error
		body, reqErr = c.client.Get(ctx, pageURL)
		return reqErr
	})
	if fetchErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrFetchParamsFailed, fetchErr)
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if parseErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrFetchParamsFailed, parseErr)
	}

	node := doc.Find("[data-n-a-sg][data-n-a-ts]").First()
	signature, sigOK := node.Attr("data-n-a-sg")
	rawTimestamp, tsOK := node.Attr("data-n-a-ts")
	if !sigOK || !tsOK || signature == "" || rawTimestamp == "" {
		return "", 0, fmt.Errorf("%w: signature attributes not found", ErrFetchParamsFailed)
	}

	timestamp, numErr := strconv.ParseInt(rawTimestamp, 10, 64)
	if numErr != nil {
		return "", 0, fmt.Errorf("%w: timestamp %q is not numeric", ErrFetchParamsFailed, rawTimestamp)
	}
	return signature, timestamp, nil
}

// resolveURL posts the signed batchexecute request and extracts the resolved
// URL from its envelope
func (c *Codec) resolveURL(ctx context.Context, id, signature string, timestamp int64) (string, error) {
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/_/DotsSplashUi/data/batchexecute"

	payload, err := c.buildResolvePayload(id, signature, timestamp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDecodeResponse, err)
	}

	var body []byte
	postErr := c.retrier.Do(ctx, "resolve aggregator url", func() error {
		var reqErr error
		body, reqErr = c.client.PostForm(ctx, endpoint, url.Values{"f.req": {payload}}, nil)
		return reqErr
	})
	if postErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDecodeResponse, postErr)
	}

	return parseResolveResponse(body)
}

// buildResolvePayload assembles the f.req form value. The inner garturlreq
// call is itself a JSON-stringified array.
func (c *Codec) buildResolvePayload(id, signature string, timestamp int64) (string, error) {
	inner := []interface{}{
		"garturlreq",
		[]interface{}{
			[]interface{}{"X", "X", []interface{}{"X", "X"}, nil, nil, 1, 1, c.cfg.Edition, nil, 1, nil, nil, nil, nil, nil, 0, 1},
			"X", "X", 1, []interface{}{1, 1, 1}, 1, 1, nil, 0, 0, nil, 0,
		},
		id, timestamp, signature,
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return "", err
	}

	outer := []interface{}{
		[]interface{}{
			[]interface{}{"Fbv4je", string(innerJSON), nil, "generic"},
		},
	}
	outerJSON, err := json.Marshal(outer)
	if err != nil {
		return "", err
	}
	return string(outerJSON), nil
}

// parseResolveResponse digs the publisher URL out of the batchexecute
// envelope: an anti-XSSI guard line, then blocks split on blank lines where
// the second block is JSON, its [0][2] element a JSON-stringified array whose
// [1] element is the URL.
func parseResolveResponse(body []byte) (string, error) {
	text := strings.TrimPrefix(string(body), ")]}'")

	parts := strings.Split(text, "\n\n")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: missing envelope separator", ErrInvalidDecodeResponse)
	}

	wrapped := gjson.Parse(parts[1]).Get("0.2")
	if !wrapped.Exists() {
		return "", fmt.Errorf("%w: missing payload element", ErrInvalidDecodeResponse)
	}

	resolved := gjson.Parse(wrapped.String()).Get("1").String()
	if resolved == "" || (!strings.HasPrefix(resolved, "http://") && !strings.HasPrefix(resolved, "https://")) {
		return "", fmt.Errorf("%w: no resolved url in payload", ErrInvalidDecodeResponse)
	}
	return resolved, nil
}
