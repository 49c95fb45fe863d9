/*
Package ingest pulls articles into the datastore from two sources: the
aggregator keyword search, queried per topic, and the user's own RSS/Atom
feeds, filtered through the topic keyword matcher.

The two paths are independent. Partial failure is normal: individual search
or feed errors become report warnings, and only a path that produces nothing
at all counts as failed.
*/
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wartamigas/news-monitor-backend/aggregator"
	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/types"
)

// Config holds the ingestion tuning knobs
type Config struct {
	// SearchDelay spaces sequential aggregator search calls
	SearchDelay time.Duration
	// RSSConcurrency caps parallel feed fetches
	RSSConcurrency int
	// KeywordsPerTopic caps how many keywords of a topic are searched per run
	KeywordsPerTopic int
	// TopicLookback is the publish-date window for topics never fetched before
	TopicLookback time.Duration
}

// IngestStore is the slice of the datastore the orchestrator needs
type IngestStore interface {
	ListTopics(ctx context.Context, userID string, enabledOnly bool) ([]*types.Topic, error)
	ListFeeds(ctx context.Context, userID string, enabledOnly bool) ([]*types.Feed, error)
	UpsertArticles(ctx context.Context, userID string, articles []*types.Article) (inserted, skipped int, err error)
	BumpTopicsFetchedAt(ctx context.Context, userID string, topicIDs []string, fetchedAt time.Time) error
}

// SearchURLBuilder builds aggregator keyword search URLs
type SearchURLBuilder interface {
	BuildSearchURL(keyword string) string
}

// Orchestrator runs the ingestion paths for one invocation
type Orchestrator struct {
	cfg    Config
	store  IngestStore
	codec  SearchURLBuilder
	reader *Reader
	logger *logrus.Logger
}

// NewOrchestrator creates an ingestion orchestrator
func NewOrchestrator(cfg Config, st IngestStore, codec SearchURLBuilder, reader *Reader, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		codec:  codec,
		reader: reader,
		logger: logger,
	}
}

// FetchAll runs the aggregator path then the RSS path. The returned error is
// non-nil only when both paths failed outright; anything less surfaces as
// report warnings.
func (o *Orchestrator) FetchAll(ctx context.Context, userID string) (*types.FetchReport, error) {
	report := &types.FetchReport{}

	aggReport, aggErr := o.FetchAggregator(ctx, userID)
	report.Merge(aggReport)
	if aggErr != nil {
		report.AddError(fmt.Sprintf("aggregator fetch: %v", aggErr))
	}

	rssReport, rssErr := o.FetchFeeds(ctx, userID)
	report.Merge(rssReport)
	if rssErr != nil {
		report.AddError(fmt.Sprintf("rss fetch: %v", rssErr))
	}

	if aggErr != nil && rssErr != nil {
		return report, fmt.Errorf("all ingestion sources failed: %v; %v", aggErr, rssErr)
	}
	return report, nil
}

// FetchAggregator searches the aggregator for every enabled topic's keywords
// sequentially and upserts the results tagged with their topic.
func (o *Orchestrator) FetchAggregator(ctx context.Context, userID string) (*types.FetchReport, error) {
	report := &types.FetchReport{}
	start := time.Now()
	now := start.UTC()

	topics, err := o.store.ListTopics(ctx, userID, true)
	if err != nil {
		monitoring.TrackSourceResult(false)
		return report, fmt.Errorf("listing topics: %w", err)
	}

	// Topics without keywords have nothing to search for
	var searchable []*types.Topic
	for _, topic := range topics {
		if len(topic.Keywords) > 0 {
			searchable = append(searchable, topic)
		}
	}
	if len(searchable) == 0 {
		monitoring.TrackSourceResult(true)
		return report, nil
	}

	limiter := rate.NewLimiter(rate.Every(o.cfg.SearchDelay), 1)

	var collected []*types.Article
	probed := make([]string, 0, len(searchable))
	for _, topic := range searchable {
		cutoff := topic.FetchCutoff(now, o.cfg.TopicLookback)
		probed = append(probed, topic.ID)

		for _, keyword := range topic.SearchKeywords(o.cfg.KeywordsPerTopic) {
			if err := limiter.Wait(ctx); err != nil {
				return report, err
			}

			articles, err := o.searchKeyword(ctx, keyword, cutoff, topic.ID)
			if err != nil {
				monitoring.RecordSearchRequest("error")
				report.AddError(fmt.Sprintf("search %q: %v", keyword, err))
				o.logger.WithFields(logrus.Fields{
					"keyword":  keyword,
					"topic_id": topic.ID,
					"error":    err.Error(),
				}).Warn("Aggregator search failed")
				continue
			}
			monitoring.RecordSearchRequest("success")
			collected = append(collected, articles...)
		}
	}

	if err := o.persist(ctx, userID, types.SourceAggregator, collected, probed, now, report); err != nil {
		monitoring.TrackSourceResult(false)
		monitoring.RecordFeedFetch("aggregator", "error", time.Since(start).Seconds(), len(collected))
		return report, err
	}

	monitoring.TrackSourceResult(true)
	monitoring.RecordFeedFetch("aggregator", "success", time.Since(start).Seconds(), len(collected))
	o.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"topics":   len(searchable),
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"warnings": len(report.Errors),
	}).Info("Aggregator fetch completed")
	return report, nil
}

// searchKeyword fetches one keyword search feed and returns the topic-tagged
// articles published after the cutoff
func (o *Orchestrator) searchKeyword(ctx context.Context, keyword string, cutoff time.Time, topicID string) ([]*types.Article, error) {
	feed, err := o.reader.Fetch(ctx, o.codec.BuildSearchURL(keyword))
	if err != nil {
		return nil, err
	}

	var articles []*types.Article
	for _, item := range feed.Items {
		article := o.reader.Normalize(item, types.SourceAggregator)
		if article == nil {
			continue
		}
		if article.PublishedAt == nil || !article.PublishedAt.After(cutoff) {
			continue
		}

		// The aggregator appends the publisher to the item title
		title, publisher := aggregator.SplitTitlePublisher(article.Title)
		article.Title = title
		article.SourceName = publisher
		article.MatchedTopicIDs = []string{topicID}
		articles = append(articles, article)
	}
	return articles, nil
}

// FetchFeeds pulls every enabled feed in parallel, keeps items matching at
// least one enabled topic, and upserts them.
func (o *Orchestrator) FetchFeeds(ctx context.Context, userID string) (*types.FetchReport, error) {
	report := &types.FetchReport{}
	now := time.Now().UTC()

	feeds, err := o.store.ListFeeds(ctx, userID, true)
	if err != nil {
		monitoring.TrackSourceResult(false)
		return report, fmt.Errorf("listing feeds: %w", err)
	}
	topics, err := o.store.ListTopics(ctx, userID, true)
	if err != nil {
		monitoring.TrackSourceResult(false)
		return report, fmt.Errorf("listing topics: %w", err)
	}
	if len(feeds) == 0 {
		monitoring.TrackSourceResult(true)
		return report, nil
	}

	// Feeds are shared across topics, so filtering uses the most permissive
	// cutoff of any enabled topic. Per-topic incrementality comes from the
	// matcher tagging.
	cutoff := earliestCutoff(topics, now, o.cfg.TopicLookback)

	var (
		mu        sync.Mutex
		collected []*types.Article
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.RSSConcurrency)

	for _, feed := range feeds {
		feed := feed
		group.Go(func() error {
			articles, err := o.fetchFeed(groupCtx, feed, topics, cutoff)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.AddError(fmt.Sprintf("feed %q: %v", feed.Name, err))
				o.logger.WithFields(logrus.Fields{
					"feed_id": feed.ID,
					"url":     feed.URL,
					"error":   err.Error(),
				}).Warn("Feed fetch failed")
				return nil
			}
			collected = append(collected, articles...)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if err := o.persist(ctx, userID, types.SourceRSS, collected, nil, now, report); err != nil {
		monitoring.TrackSourceResult(false)
		return report, err
	}

	monitoring.TrackSourceResult(true)
	o.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"feeds":    len(feeds),
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"warnings": len(report.Errors),
	}).Info("RSS fetch completed")
	return report, nil
}

// fetchFeed fetches one feed and returns the matched articles
func (o *Orchestrator) fetchFeed(ctx context.Context, feed *types.Feed, topics []*types.Topic, cutoff time.Time) ([]*types.Article, error) {
	start := time.Now()

	parsed, err := o.reader.Fetch(ctx, feed.URL)
	if err != nil {
		monitoring.RecordFeedFetch("rss", "error", time.Since(start).Seconds(), 0)
		return nil, err
	}

	sourceName := strings.TrimSpace(parsed.Title)
	if sourceName == "" {
		sourceName = feed.Name
	}

	var articles []*types.Article
	for _, item := range parsed.Items {
		article := o.reader.Normalize(item, types.SourceRSS)
		if article == nil {
			continue
		}
		if article.PublishedAt == nil || !article.PublishedAt.After(cutoff) {
			continue
		}

		matched := MatchTopics(article, topics)
		if len(matched) == 0 {
			continue
		}

		article.SourceName = sourceName
		article.SourceURL = feed.URL
		article.MatchedTopicIDs = matched
		articles = append(articles, article)
	}

	monitoring.RecordFeedFetch("rss", "success", time.Since(start).Seconds(), len(parsed.Items))
	return articles, nil
}

// persist upserts the batch and bumps last_fetched_at for every probed topic
// plus every topic that appears on a written article
func (o *Orchestrator) persist(ctx context.Context, userID string, source types.SourceType, articles []*types.Article, probedTopicIDs []string, now time.Time, report *types.FetchReport) error {
	inserted, skipped, err := o.store.UpsertArticles(ctx, userID, articles)
	report.Inserted += inserted
	report.Skipped += skipped
	if err != nil {
		monitoring.RecordArticlesIngested(string(source), "error", len(articles))
		return fmt.Errorf("upserting articles: %w", err)
	}
	monitoring.RecordArticlesIngested(string(source), "inserted", inserted)
	monitoring.RecordArticlesIngested(string(source), "skipped", skipped)

	bump := types.MergeTopicIDs(probedTopicIDs, topicIDUnion(articles))
	if len(bump) > 0 {
		if err := o.store.BumpTopicsFetchedAt(ctx, userID, bump, now); err != nil {
			report.AddError(fmt.Sprintf("updating topic fetch marks: %v", err))
		}
	}
	return nil
}

// earliestCutoff returns the oldest cutoff across the enabled topics, or the
// lookback window when there are no topics
func earliestCutoff(topics []*types.Topic, now time.Time, lookback time.Duration) time.Time {
	if len(topics) == 0 {
		return now.Add(-lookback)
	}
	earliest := topics[0].FetchCutoff(now, lookback)
	for _, topic := range topics[1:] {
		if cutoff := topic.FetchCutoff(now, lookback); cutoff.Before(earliest) {
			earliest = cutoff
		}
	}
	return earliest
}

// topicIDUnion unions matched topic ids across a batch
func topicIDUnion(articles []*types.Article) []string {
	var union []string
	for _, article := range articles {
		union = types.MergeTopicIDs(union, article.MatchedTopicIDs)
	}
	return union
}
