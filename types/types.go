// Package types contains shared domain types used across the news monitor backend
package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceType identifies which ingestion path produced an article
type SourceType string

const (
	SourceAggregator SourceType = "aggregator"
	SourceRSS        SourceType = "rss"
)

// Sentiment labels produced by article analysis
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Topic is a user-defined bundle of keyword phrases. Articles are tagged with
// every topic whose keywords they match.
type Topic struct {
	ID            string     `datastore:"-" json:"id"`
	Name          string     `datastore:"name" json:"name"`
	Keywords      []string   `datastore:"keywords,noindex" json:"keywords"`
	Enabled       bool       `datastore:"enabled" json:"enabled"`
	LastFetchedAt *time.Time `datastore:"last_fetched_at,noindex" json:"last_fetched_at,omitempty"`
	CreatedAt     time.Time  `datastore:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `datastore:"updated_at,noindex" json:"updated_at"`
}

// Sanitize trims the topic name and drops empty keyword phrases
func (t *Topic) Sanitize() {
	t.Name = strings.TrimSpace(t.Name)

	keywords := make([]string, 0, len(t.Keywords))
	for _, kw := range t.Keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	t.Keywords = keywords
}

// Validate validates the topic fields
func (t *Topic) Validate() error {
	var errors []string

	if strings.TrimSpace(t.Name) == "" {
		errors = append(errors, "name cannot be empty")
	} else if len(t.Name) > 200 {
		errors = append(errors, "name cannot exceed 200 characters")
	}

	if len(t.Keywords) > MaxKeywordsPerTopic {
		errors = append(errors, fmt.Sprintf("topics cannot have more than %d keywords", MaxKeywordsPerTopic))
	}
	for _, kw := range t.Keywords {
		if strings.TrimSpace(kw) == "" {
			errors = append(errors, "keywords cannot be empty")
			break
		}
		if len(kw) > MaxKeywordLength {
			errors = append(errors, fmt.Sprintf("keywords cannot exceed %d characters", MaxKeywordLength))
			break
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

// FetchCutoff returns the timestamp above which an article's publish date must
// lie to be ingested for this topic. Topics that were never fetched look back
// over the configured window.
func (t *Topic) FetchCutoff(now time.Time, lookback time.Duration) time.Time {
	if t.LastFetchedAt != nil {
		return *t.LastFetchedAt
	}
	return now.Add(-lookback)
}

// SearchKeywords returns the first max keywords used for aggregator search
func (t *Topic) SearchKeywords(max int) []string {
	if max <= 0 || len(t.Keywords) <= max {
		return t.Keywords
	}
	return t.Keywords[:max]
}

// Feed is a user-configured RSS/Atom source
type Feed struct {
	ID        string    `datastore:"-" json:"id"`
	Name      string    `datastore:"name,noindex" json:"name"`
	URL       string    `datastore:"url,noindex" json:"url"`
	Enabled   bool      `datastore:"enabled" json:"enabled"`
	CreatedAt time.Time `datastore:"created_at" json:"created_at"`
	UpdatedAt time.Time `datastore:"updated_at,noindex" json:"updated_at"`
}

// Sanitize trims the feed fields
func (f *Feed) Sanitize() {
	f.Name = strings.TrimSpace(f.Name)
	f.URL = strings.TrimSpace(f.URL)
}

// Validate validates the feed fields. URL safety is checked separately by the
// SSRF validator at the boundary.
func (f *Feed) Validate() error {
	var errors []string

	if strings.TrimSpace(f.Name) == "" {
		errors = append(errors, "name cannot be empty")
	} else if len(f.Name) > 200 {
		errors = append(errors, "name cannot exceed 200 characters")
	}

	if strings.TrimSpace(f.URL) == "" {
		errors = append(errors, "url cannot be empty")
	} else if _, err := url.ParseRequestURI(f.URL); err != nil {
		errors = append(errors, "url must be a valid URL")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

// Article is a single ingested news item owned by a user. The key name is the
// SHA-256 of the link under the user's ancestor key, which makes (user, link)
// unique at the datastore level.
type Article struct {
	ID         string     `datastore:"-" json:"id"`
	Link       string     `datastore:"link,noindex" json:"link"`
	DecodedURL string     `datastore:"decoded_url,noindex" json:"decoded_url,omitempty"`
	SourceType SourceType `datastore:"source_type" json:"source_type"`

	Title       string     `datastore:"title,noindex" json:"title"`
	Snippet     string     `datastore:"snippet,noindex" json:"snippet,omitempty"`
	SourceName  string     `datastore:"source_name,noindex" json:"source_name,omitempty"`
	SourceURL   string     `datastore:"source_url,noindex" json:"source_url,omitempty"`
	PhotoURL    string     `datastore:"photo_url,noindex" json:"photo_url,omitempty"`
	PublishedAt *time.Time `datastore:"published_at" json:"published_at,omitempty"`

	MatchedTopicIDs []string `datastore:"matched_topic_ids" json:"matched_topic_ids"`

	URLDecoded   bool `datastore:"url_decoded" json:"url_decoded"`
	DecodeFailed bool `datastore:"decode_failed" json:"decode_failed"`

	AIProcessed   bool       `datastore:"ai_processed" json:"ai_processed"`
	AIError       string     `datastore:"ai_error,noindex" json:"ai_error,omitempty"`
	AIProcessedAt *time.Time `datastore:"ai_processed_at,noindex" json:"ai_processed_at,omitempty"`
	FullContent   string     `datastore:"full_content,noindex" json:"full_content,omitempty"`
	Summary       string     `datastore:"summary,noindex" json:"summary,omitempty"`
	Sentiment     string     `datastore:"sentiment" json:"sentiment,omitempty"`
	Categories    []string   `datastore:"categories" json:"categories,omitempty"`
	AIReason      string     `datastore:"ai_reason,noindex" json:"ai_reason,omitempty"`

	CreatedAt time.Time `datastore:"created_at" json:"created_at"`
	UpdatedAt time.Time `datastore:"updated_at,noindex" json:"updated_at"`
}

// Sanitize trims the article text fields
func (a *Article) Sanitize() {
	a.Link = strings.TrimSpace(a.Link)
	a.Title = strings.TrimSpace(a.Title)
	a.Snippet = strings.TrimSpace(a.Snippet)
	a.SourceName = strings.TrimSpace(a.SourceName)
	a.SourceURL = strings.TrimSpace(a.SourceURL)
	a.PhotoURL = strings.TrimSpace(a.PhotoURL)
}

// Validate validates the article fields
func (a *Article) Validate() error {
	var errors []string

	if strings.TrimSpace(a.Title) == "" {
		errors = append(errors, "title cannot be empty")
	} else if len(a.Title) > MaxTitleLength {
		errors = append(errors, fmt.Sprintf("title cannot exceed %d characters", MaxTitleLength))
	}

	if strings.TrimSpace(a.Link) == "" {
		errors = append(errors, "link cannot be empty")
	} else if _, err := url.ParseRequestURI(a.Link); err != nil {
		errors = append(errors, "link must be a valid URL")
	}

	if len(a.Snippet) > MaxSnippetLength {
		errors = append(errors, fmt.Sprintf("snippet cannot exceed %d characters", MaxSnippetLength))
	}

	if a.SourceType != SourceAggregator && a.SourceType != SourceRSS {
		errors = append(errors, "source_type must be aggregator or rss")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

// Searchable returns the lowercased text the keyword matcher runs against
func (a *Article) Searchable() string {
	return strings.ToLower(a.Title + " " + a.Snippet)
}

// CrawlURL returns the URL the crawler should fetch: the decoded publisher URL
// when available, otherwise the original link.
func (a *Article) CrawlURL() string {
	if a.DecodedURL != "" {
		return a.DecodedURL
	}
	return a.Link
}

// PendingDecode reports whether the article still needs URL decoding
func (a *Article) PendingDecode() bool {
	return !a.URLDecoded
}

// PendingAnalysis reports whether the article is waiting for analysis.
// Articles that failed decoding are permanently excluded.
func (a *Article) PendingAnalysis() bool {
	return !a.AIProcessed && a.URLDecoded && !a.DecodeFailed
}

// AnalyzedOK reports whether analysis completed without an error
func (a *Article) AnalyzedOK() bool {
	return a.AIProcessed && a.AIError == ""
}

// AnalysisFailed reports whether analysis completed with a terminal error
func (a *Article) AnalysisFailed() bool {
	return a.AIProcessed && a.AIError != ""
}

// MergeTopicIDs unions topic id sets preserving first-seen order
func MergeTopicIDs(existing []string, incoming ...[]string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing))

	add := func(ids []string) {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, id)
		}
	}

	add(existing)
	for _, ids := range incoming {
		add(ids)
	}
	return merged
}

// RemoveTopicID returns the topic id set without the given id
func RemoveTopicID(ids []string, topicID string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != topicID {
			out = append(out, id)
		}
	}
	return out
}

// ContainsTopicID reports whether the topic id set contains the given id
func ContainsTopicID(ids []string, topicID string) bool {
	for _, id := range ids {
		if id == topicID {
			return true
		}
	}
	return false
}

// DecodedURLEntry maps an opaque aggregator identifier to its resolved
// publisher URL. Entries are global, not per-user; the identifier is the key
// name.
type DecodedURLEntry struct {
	ID        string    `datastore:"-" json:"id"`
	URL       string    `datastore:"url,noindex" json:"url"`
	CreatedAt time.Time `datastore:"created_at,noindex" json:"created_at"`
}

// Analysis is the enrichment produced by the LLM for one article
type Analysis struct {
	Summary    string   `json:"summary"`
	Sentiment  string   `json:"sentiment"`
	Categories []string `json:"categories"`
	Reason     string   `json:"reason"`
}
