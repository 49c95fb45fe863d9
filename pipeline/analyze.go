package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/types"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// ErrAnalysisRunning is returned when an analyzer stream is already active
// for the user
var ErrAnalysisRunning = errors.New("analysis already running for this user")

// aiErrorLimit keeps persisted error messages bounded
const aiErrorLimit = 500

// AnalyzeStore is the slice of the datastore the analyzer needs
type AnalyzeStore interface {
	PendingAnalysis(ctx context.Context, userID string, limit int) ([]*types.Article, error)
	CountPendingAnalysis(ctx context.Context, userID string) (int, error)
	MarkCrawlFailed(ctx context.Context, userID, articleID, message string) error
	MarkAnalysisFailed(ctx context.Context, userID, articleID, message, fullContent string) error
	SaveAnalysis(ctx context.Context, userID, articleID string, analysis *types.Analysis, fullContent string) error
}

// ArticleCrawler fetches article bodies rendered to markdown
type ArticleCrawler interface {
	Crawl(ctx context.Context, rawURL string) (string, error)
}

// ArticleAnalyzer produces the LLM enrichment for one article
type ArticleAnalyzer interface {
	Analyze(ctx context.Context, title, snippet, content string) (*types.Analysis, error)
}

// Analyzer is the article analysis stream engine. At most one run per user
// is active at a time.
type Analyzer struct {
	cfg     Config
	store   AnalyzeStore
	crawler ArticleCrawler
	llm     ArticleAnalyzer
	logger  *logrus.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewAnalyzer creates an analyzer stream engine
func NewAnalyzer(cfg Config, st AnalyzeStore, crawlerClient ArticleCrawler, llmClient ArticleAnalyzer, logger *logrus.Logger) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		store:   st,
		crawler: crawlerClient,
		llm:     llmClient,
		logger:  logger,
		running: make(map[string]bool),
	}
}

// Running reports whether an analyzer run is active for the user
func (a *Analyzer) Running(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running[userID]
}

func (a *Analyzer) tryAcquire(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running[userID] {
		return false
	}
	a.running[userID] = true
	return true
}

func (a *Analyzer) release(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.running, userID)
}

// Run analyzes up to limit pending articles for the user, emitting a
// progress event after each one. A second run for the same user returns
// ErrAnalysisRunning without starting a stream.
func (a *Analyzer) Run(ctx context.Context, userID string, limit int, sink AnalyzeSink) (*types.AnalyzeEvent, error) {
	if !a.tryAcquire(userID) {
		return nil, ErrAnalysisRunning
	}
	defer a.release(userID)

	monitoring.StreamStarted("analyze")
	defer monitoring.StreamFinished("analyze")

	ctx, span := monitoring.CreateSpan(ctx, "pipeline.analyze_batch")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{"user_id": userID})

	articles, err := a.store.PendingAnalysis(ctx, userID, limit)
	if err != nil {
		monitoring.SetSpanError(span, err)
		return nil, err
	}

	event := types.AnalyzeEvent{Type: types.EventProgress, Total: len(articles)}
	if len(articles) == 0 {
		event.Type = types.EventComplete
		if err := sink(event); err != nil {
			return nil, err
		}
		monitoring.RecordStreamEvent("analyze", string(types.EventComplete))
		return &event, nil
	}

	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a.analyzeOne(ctx, userID, article, &event)

		if err := sink(event); err != nil {
			return nil, err
		}
		monitoring.RecordStreamEvent("analyze", string(types.EventProgress))

		if i < len(articles)-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.cfg.AnalyzeDelay):
			}
		}
	}

	event.Type = types.EventComplete
	if err := sink(event); err != nil {
		return nil, err
	}
	monitoring.RecordStreamEvent("analyze", string(types.EventComplete))

	if pending, err := a.store.CountPendingAnalysis(ctx, userID); err == nil {
		monitoring.TrackAnalysisBacklog(pending)
	}

	a.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"analyzed": event.Analyzed,
		"failed":   event.Failed,
		"total":    event.Total,
	}).Info("Analyzer run completed")
	return &event, nil
}

// analyzeOne crawls and analyzes a single article. A crawl failure keeps the
// article pending for a later run; an analysis failure is terminal until an
// explicit retry resets it.
func (a *Analyzer) analyzeOne(ctx context.Context, userID string, article *types.Article, event *types.AnalyzeEvent) {
	content, err := a.crawler.Crawl(ctx, article.CrawlURL())
	if err != nil {
		event.Failed++
		message := "crawl failed: " + utils.Truncate(err.Error(), aiErrorLimit)
		if markErr := a.store.MarkCrawlFailed(ctx, userID, article.ID, message); markErr != nil {
			a.logger.WithFields(logrus.Fields{
				"article_id": article.ID,
				"error":      markErr.Error(),
			}).Error("Failed to record crawl failure")
		}
		a.logger.WithFields(logrus.Fields{
			"article_id": article.ID,
			"url":        utils.Truncate(article.CrawlURL(), 120),
			"error":      err.Error(),
		}).Warn("Article crawl failed")
		return
	}

	analysis, err := a.llm.Analyze(ctx, article.Title, article.Snippet, content)
	if err != nil {
		event.Failed++
		message := utils.Truncate(err.Error(), aiErrorLimit)
		if markErr := a.store.MarkAnalysisFailed(ctx, userID, article.ID, message, content); markErr != nil {
			a.logger.WithFields(logrus.Fields{
				"article_id": article.ID,
				"error":      markErr.Error(),
			}).Error("Failed to record analysis failure")
		}
		a.logger.WithFields(logrus.Fields{
			"article_id": article.ID,
			"error":      err.Error(),
		}).Warn("Article analysis failed")
		return
	}

	if err := a.store.SaveAnalysis(ctx, userID, article.ID, analysis, content); err != nil {
		event.Failed++
		a.logger.WithFields(logrus.Fields{
			"article_id": article.ID,
			"error":      err.Error(),
		}).Error("Failed to persist analysis")
		return
	}
	event.Analyzed++
}
