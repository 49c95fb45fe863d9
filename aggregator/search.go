package aggregator

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildSearchURL returns the keyword search feed URL for the configured
// edition
func (c *Codec) BuildSearchURL(keyword string) string {
	return fmt.Sprintf("%s/rss/search?q=%s&hl=%s&gl=%s&ceid=%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"),
		url.QueryEscape(keyword),
		url.QueryEscape(c.cfg.Language),
		url.QueryEscape(c.cfg.Country),
		url.QueryEscape(c.cfg.Edition))
}

// SplitTitlePublisher separates the publisher name the aggregator appends to
// item titles. The separator is the last " - " so titles containing dashes
// keep their own text.
func SplitTitlePublisher(title string) (cleanTitle, publisher string) {
	idx := strings.LastIndex(title, " - ")
	if idx < 0 {
		return strings.TrimSpace(title), ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+len(" - "):])
}
