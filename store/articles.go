package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/types"
)

// Listing page bounds
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ArticleQuery filters article listings
type ArticleQuery struct {
	TopicID     string
	Sentiment   string
	Category    string
	AIProcessed *bool
	Since       time.Time
	Limit       int
	Cursor      string
}

// recordOp reports a datastore operation to the metrics and health trackers
func (s *Store) recordOp(operation string, start time.Time, err error) {
	opStatus := "success"
	if err != nil {
		opStatus = "error"
		monitoring.TrackDatastoreError()
	}
	monitoring.RecordDatastoreOperation(operation, opStatus, time.Since(start).Seconds())
}

// UpsertArticles writes a batch of articles for one user. Rows that already
// exist are counted as skipped and only their matched_topic_ids may change;
// enrichment columns are never touched. New rows are inserted in chunks with
// insert mutations so a concurrent writer on the same link loses cleanly.
func (s *Store) UpsertArticles(ctx context.Context, userID string, articles []*types.Article) (inserted, skipped int, err error) {
	start := time.Now()
	defer func() { s.recordOp("upsert_articles", start, err) }()

	if len(articles) == 0 {
		return 0, 0, nil
	}

	// Dedupe incoming articles by link, merging their topic sets
	byLink := make(map[string]*types.Article, len(articles))
	deduped := make([]*types.Article, 0, len(articles))
	for _, article := range articles {
		if prior, ok := byLink[article.Link]; ok {
			prior.MatchedTopicIDs = types.MergeTopicIDs(prior.MatchedTopicIDs, article.MatchedTopicIDs)
			continue
		}
		byLink[article.Link] = article
		deduped = append(deduped, article)
	}

	keys := make([]*datastore.Key, len(deduped))
	for i, article := range deduped {
		keys[i] = ArticleKey(userID, article.Link)
	}

	// Load existing rows for all incoming links in one lookup
	existing := make([]*types.Article, len(deduped))
	found := make([]bool, len(deduped))
	if getErr := s.client.GetMulti(ctx, keys, existing); getErr != nil {
		var multi datastore.MultiError
		if !errors.As(getErr, &multi) {
			return 0, 0, fmt.Errorf("failed to load existing articles: %w", getErr)
		}
		for i, elemErr := range multi {
			switch {
			case elemErr == nil:
				found[i] = true
			case errors.Is(elemErr, datastore.ErrNoSuchEntity):
				// New link
			default:
				return 0, 0, fmt.Errorf("failed to load existing articles: %w", elemErr)
			}
		}
	} else {
		for i := range found {
			found[i] = true
		}
	}

	now := time.Now().UTC()
	var newArticles []*types.Article
	var newKeys []*datastore.Key
	var mergeKeys []*datastore.Key
	var mergeIncoming [][]string

	for i, article := range deduped {
		if found[i] {
			skipped++
			merged := types.MergeTopicIDs(existing[i].MatchedTopicIDs, article.MatchedTopicIDs)
			if len(merged) != len(existing[i].MatchedTopicIDs) {
				mergeKeys = append(mergeKeys, keys[i])
				mergeIncoming = append(mergeIncoming, article.MatchedTopicIDs)
			}
			continue
		}
		article.ID = keys[i].Name
		article.AIProcessed = false
		article.DecodeFailed = false
		article.URLDecoded = article.SourceType == types.SourceRSS
		article.CreatedAt = now
		article.UpdatedAt = now
		newArticles = append(newArticles, article)
		newKeys = append(newKeys, keys[i])
	}

	// Insert new rows in chunks
	for chunkStart := 0; chunkStart < len(newArticles); chunkStart += insertChunkSize {
		chunkEnd := chunkStart + insertChunkSize
		if chunkEnd > len(newArticles) {
			chunkEnd = len(newArticles)
		}

		mutations := make([]*datastore.Mutation, 0, chunkEnd-chunkStart)
		for i := chunkStart; i < chunkEnd; i++ {
			mutations = append(mutations, datastore.NewInsert(newKeys[i], newArticles[i]))
		}

		if _, mutErr := s.client.Mutate(ctx, mutations...); mutErr != nil {
			if status.Code(mutErr) != codes.AlreadyExists {
				return inserted, skipped, fmt.Errorf("failed to insert articles: %w", mutErr)
			}
			// The commit is atomic, so one link lost to a concurrent upsert
			// fails the whole chunk. Redo it one insert at a time so only
			// the racing links are skipped.
			for i := chunkStart; i < chunkEnd; i++ {
				if _, oneErr := s.client.Mutate(ctx, datastore.NewInsert(newKeys[i], newArticles[i])); oneErr != nil {
					if status.Code(oneErr) == codes.AlreadyExists {
						skipped++
						continue
					}
					return inserted, skipped, fmt.Errorf("failed to insert articles: %w", oneErr)
				}
				inserted++
			}
			continue
		}
		inserted += chunkEnd - chunkStart
	}

	// Merge topic ids into existing rows, re-reading inside the transaction
	// so enrichment columns written in between are preserved
	for chunkStart := 0; chunkStart < len(mergeKeys); chunkStart += insertChunkSize {
		chunkEnd := chunkStart + insertChunkSize
		if chunkEnd > len(mergeKeys) {
			chunkEnd = len(mergeKeys)
		}
		chunkKeys := mergeKeys[chunkStart:chunkEnd]
		chunkIncoming := mergeIncoming[chunkStart:chunkEnd]

		if _, txErr := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
			current := make([]*types.Article, len(chunkKeys))
			if getErr := tx.GetMulti(chunkKeys, current); getErr != nil {
				var multi datastore.MultiError
				if !errors.As(getErr, &multi) {
					return getErr
				}
				for _, elemErr := range multi {
					if elemErr != nil && !errors.Is(elemErr, datastore.ErrNoSuchEntity) {
						return elemErr
					}
				}
			}

			putKeys := make([]*datastore.Key, 0, len(chunkKeys))
			putArticles := make([]*types.Article, 0, len(chunkKeys))
			for i, article := range current {
				if article == nil {
					// Row deleted since the lookup
					continue
				}
				merged := types.MergeTopicIDs(article.MatchedTopicIDs, chunkIncoming[i])
				if len(merged) == len(article.MatchedTopicIDs) {
					continue
				}
				article.MatchedTopicIDs = merged
				article.UpdatedAt = now
				putKeys = append(putKeys, chunkKeys[i])
				putArticles = append(putArticles, article)
			}
			if len(putKeys) == 0 {
				return nil
			}
			_, putErr := tx.PutMulti(putKeys, putArticles)
			return putErr
		}); txErr != nil {
			return inserted, skipped, fmt.Errorf("failed to merge topic ids: %w", txErr)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"inserted": inserted,
		"skipped":  skipped,
	}).Info("Upserted article batch")

	return inserted, skipped, nil
}

// PendingDecode returns up to limit articles awaiting URL decode, oldest first
func (s *Store) PendingDecode(ctx context.Context, userID string, limit int) (articles []*types.Article, err error) {
	start := time.Now()
	defer func() { s.recordOp("pending_decode", start, err) }()

	q := datastore.NewQuery(KindArticle).
		Ancestor(UserKey(userID)).
		FilterField("url_decoded", "=", false).
		Order("created_at").
		Limit(limit)

	keys, err := s.client.GetAll(ctx, q, &articles)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending decode articles: %w", err)
	}
	for i, key := range keys {
		articles[i].ID = key.Name
	}
	return articles, nil
}

// PendingAnalysis returns up to limit articles eligible for analysis, oldest
// first. Eligible means decoded, not decode-failed and not yet analyzed.
func (s *Store) PendingAnalysis(ctx context.Context, userID string, limit int) (articles []*types.Article, err error) {
	start := time.Now()
	defer func() { s.recordOp("pending_analysis", start, err) }()

	q := s.pendingAnalysisQuery(userID).Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}

	keys, err := s.client.GetAll(ctx, q, &articles)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending analysis articles: %w", err)
	}
	for i, key := range keys {
		articles[i].ID = key.Name
	}
	return articles, nil
}

// CountPendingAnalysis returns how many articles are eligible for analysis
func (s *Store) CountPendingAnalysis(ctx context.Context, userID string) (count int, err error) {
	start := time.Now()
	defer func() { s.recordOp("count_pending_analysis", start, err) }()

	keys, err := s.client.GetAll(ctx, s.pendingAnalysisQuery(userID).KeysOnly(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending analysis articles: %w", err)
	}
	return len(keys), nil
}

// CountPendingDecode returns how many articles are awaiting URL decode
func (s *Store) CountPendingDecode(ctx context.Context, userID string) (count int, err error) {
	start := time.Now()
	defer func() { s.recordOp("count_pending_decode", start, err) }()

	q := datastore.NewQuery(KindArticle).
		Ancestor(UserKey(userID)).
		FilterField("url_decoded", "=", false).
		KeysOnly()

	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending decode articles: %w", err)
	}
	return len(keys), nil
}

func (s *Store) pendingAnalysisQuery(userID string) *datastore.Query {
	return datastore.NewQuery(KindArticle).
		Ancestor(UserKey(userID)).
		FilterField("ai_processed", "=", false).
		FilterField("url_decoded", "=", true).
		FilterField("decode_failed", "=", false)
}

// GetArticle loads a single article by id
func (s *Store) GetArticle(ctx context.Context, userID, articleID string) (*types.Article, error) {
	var article types.Article
	if err := s.client.Get(ctx, ArticleKeyByID(userID, articleID), &article); err != nil {
		return nil, translateErr(err)
	}
	article.ID = articleID
	return &article, nil
}

// updateArticle loads one article in a transaction, applies mutate and saves it
func (s *Store) updateArticle(ctx context.Context, operation, userID, articleID string, mutate func(*types.Article) error) (err error) {
	start := time.Now()
	defer func() { s.recordOp(operation, start, err) }()

	key := ArticleKeyByID(userID, articleID)
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var article types.Article
		if getErr := tx.Get(key, &article); getErr != nil {
			return getErr
		}
		if mutErr := mutate(&article); mutErr != nil {
			return mutErr
		}
		article.UpdatedAt = time.Now().UTC()
		_, putErr := tx.Put(key, &article)
		return putErr
	})
	if err != nil {
		return translateErr(err)
	}
	return nil
}

// MarkDecoded records a successful decode. An empty decodedURL marks a
// pass-through article that needs no resolution.
func (s *Store) MarkDecoded(ctx context.Context, userID, articleID, decodedURL string) error {
	return s.updateArticle(ctx, "mark_decoded", userID, articleID, func(article *types.Article) error {
		article.DecodedURL = decodedURL
		article.URLDecoded = true
		return nil
	})
}

// MarkDecodeFailed records a terminal decode failure. The article stays out
// of both the decode queue and the analysis queue.
func (s *Store) MarkDecodeFailed(ctx context.Context, userID, articleID string) error {
	return s.updateArticle(ctx, "mark_decode_failed", userID, articleID, func(article *types.Article) error {
		article.URLDecoded = true
		article.DecodeFailed = true
		return nil
	})
}

// SaveAnalysis persists a successful LLM analysis
func (s *Store) SaveAnalysis(ctx context.Context, userID, articleID string, analysis *types.Analysis, fullContent string) error {
	return s.updateArticle(ctx, "save_analysis", userID, articleID, func(article *types.Article) error {
		now := time.Now().UTC()
		article.Summary = analysis.Summary
		article.Sentiment = analysis.Sentiment
		article.Categories = analysis.Categories
		article.AIReason = analysis.Reason
		article.FullContent = fullContent
		article.AIProcessed = true
		article.AIError = ""
		article.AIProcessedAt = &now
		return nil
	})
}

// MarkAnalysisFailed records a terminal LLM failure
func (s *Store) MarkAnalysisFailed(ctx context.Context, userID, articleID, message, fullContent string) error {
	return s.updateArticle(ctx, "mark_analysis_failed", userID, articleID, func(article *types.Article) error {
		now := time.Now().UTC()
		article.AIProcessed = true
		article.AIError = message
		article.AIProcessedAt = &now
		article.FullContent = fullContent
		return nil
	})
}

// MarkCrawlFailed records a crawl failure. ai_processed stays false so the
// article is retried on the next analysis run.
func (s *Store) MarkCrawlFailed(ctx context.Context, userID, articleID, message string) error {
	return s.updateArticle(ctx, "mark_crawl_failed", userID, articleID, func(article *types.Article) error {
		article.AIError = message
		return nil
	})
}

// ResetAnalysis clears enrichment state so the article is analyzed again.
// Articles whose last run succeeded have no ai_error and stay untouched,
// analysis state never moves backwards for them.
func (s *Store) ResetAnalysis(ctx context.Context, userID, articleID string) error {
	return s.updateArticle(ctx, "reset_analysis", userID, articleID, func(article *types.Article) error {
		if article.AIError == "" {
			return ErrNoFailedAnalysis
		}
		article.AIProcessed = false
		article.AIError = ""
		article.AIProcessedAt = nil
		article.Summary = ""
		article.Sentiment = ""
		article.Categories = nil
		article.AIReason = ""
		return nil
	})
}

// ListArticles returns one page of articles plus a cursor for the next page
func (s *Store) ListArticles(ctx context.Context, userID string, query ArticleQuery) (articles []*types.Article, nextCursor string, err error) {
	start := time.Now()
	defer func() { s.recordOp("list_articles", start, err) }()

	q := datastore.NewQuery(KindArticle).Ancestor(UserKey(userID))
	if query.TopicID != "" {
		q = q.FilterField("matched_topic_ids", "=", query.TopicID)
	}
	if query.Sentiment != "" {
		q = q.FilterField("sentiment", "=", query.Sentiment)
	}
	if query.Category != "" {
		q = q.FilterField("categories", "=", query.Category)
	}
	if query.AIProcessed != nil {
		q = q.FilterField("ai_processed", "=", *query.AIProcessed)
	}
	if !query.Since.IsZero() {
		q = q.FilterField("created_at", ">=", query.Since)
	}
	q = q.Order("-created_at")

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	q = q.Limit(limit)

	if query.Cursor != "" {
		cursor, decodeErr := datastore.DecodeCursor(query.Cursor)
		if decodeErr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", decodeErr)
		}
		q = q.Start(cursor)
	}

	it := s.client.Run(ctx, q)
	for {
		var article types.Article
		key, nextErr := it.Next(&article)
		if nextErr == iterator.Done {
			break
		}
		if nextErr != nil {
			return nil, "", fmt.Errorf("failed to list articles: %w", nextErr)
		}
		article.ID = key.Name
		articles = append(articles, &article)
	}

	if len(articles) == limit {
		if cursor, cursorErr := it.Cursor(); cursorErr == nil {
			nextCursor = cursor.String()
		}
	}
	return articles, nextCursor, nil
}

// ArticleStats aggregates KPI counters over the trailing period
func (s *Store) ArticleStats(ctx context.Context, userID string, days int) (stats *types.ArticleStats, err error) {
	start := time.Now()
	defer func() { s.recordOp("article_stats", start, err) }()

	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	q := datastore.NewQuery(KindArticle).
		Ancestor(UserKey(userID)).
		FilterField("created_at", ">=", cutoff)

	stats = &types.ArticleStats{PeriodDays: days}
	it := s.client.Run(ctx, q)
	for {
		var article types.Article
		if _, nextErr := it.Next(&article); nextErr == iterator.Done {
			break
		} else if nextErr != nil {
			return nil, fmt.Errorf("failed to aggregate article stats: %w", nextErr)
		}
		stats.Total++
		switch {
		case article.AnalyzedOK():
			stats.Analyzed++
		case article.AnalysisFailed():
			stats.Failed++
		}
		if article.PendingAnalysis() {
			stats.PendingAnalysis++
		}
		if article.PendingDecode() {
			stats.PendingDecode++
		}
	}
	return stats, nil
}
