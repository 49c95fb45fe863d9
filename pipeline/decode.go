package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/aggregator"
	"github.com/wartamigas/news-monitor-backend/cache"
	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/types"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// DecodeStore is the slice of the datastore the decode engine needs
type DecodeStore interface {
	PendingDecode(ctx context.Context, userID string, limit int) ([]*types.Article, error)
	CountPendingDecode(ctx context.Context, userID string) (int, error)
	LookupDecodedURLs(ctx context.Context, ids []string) (map[string]string, error)
	SaveDecodedURL(ctx context.Context, id, decodedURL string) error
	MarkDecoded(ctx context.Context, userID, articleID, decodedURL string) error
	MarkDecodeFailed(ctx context.Context, userID, articleID string) error
}

// URLCodec resolves aggregator article URLs
type URLCodec interface {
	IsAggregatorURL(rawURL string) bool
	ExtractID(rawURL string) (string, error)
	DecodeID(ctx context.Context, id string) (*aggregator.Resolution, error)
}

// Decoder is the URL-decode stream engine
type Decoder struct {
	cfg    Config
	store  DecodeStore
	codec  URLCodec
	cache  *cache.DecodedURLCache
	logger *logrus.Logger
}

// NewDecoder creates a decode stream engine
func NewDecoder(cfg Config, st DecodeStore, codec URLCodec, urlCache *cache.DecodedURLCache, logger *logrus.Logger) *Decoder {
	return &Decoder{
		cfg:    cfg,
		store:  st,
		codec:  codec,
		cache:  urlCache,
		logger: logger,
	}
}

// decodeOutcome is the resolution of a single article
type decodeOutcome struct {
	id         string
	decodedURL string
	failed     bool
	// remote reports whether this iteration hit the aggregator, which is
	// what the politeness sleep keys on
	remote bool
	path   string
}

// Run drives one decode batch. It emits a progress event after every article
// and a complete event when the batch drained; on cancellation it returns
// without a final event.
func (d *Decoder) Run(ctx context.Context, userID string, sink DecodeSink) (*types.DecodeEvent, error) {
	monitoring.StreamStarted("decode")
	defer monitoring.StreamFinished("decode")

	ctx, span := monitoring.CreateSpan(ctx, "pipeline.decode_batch")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{"user_id": userID})

	articles, err := d.store.PendingDecode(ctx, userID, d.cfg.DecodeBatchSize)
	if err != nil {
		monitoring.SetSpanError(span, err)
		return nil, err
	}

	event := types.DecodeEvent{Type: types.EventProgress, Total: len(articles)}
	if len(articles) == 0 {
		event.Type = types.EventComplete
		if err := sink(event); err != nil {
			return nil, err
		}
		monitoring.RecordStreamEvent("decode", string(types.EventComplete))
		return &event, nil
	}

	warmed := d.warmCache(ctx, articles)

	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		outcome := d.resolveArticle(ctx, article, warmed)
		d.persistOutcome(ctx, userID, article, outcome, &event)
		monitoring.RecordDecode(outcome.path, time.Since(start).Seconds())

		if err := sink(event); err != nil {
			return nil, err
		}
		monitoring.RecordStreamEvent("decode", string(types.EventProgress))

		if outcome.remote && i < len(articles)-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.cfg.DecodeDelay):
			}
		}
	}

	event.Type = types.EventComplete
	if err := sink(event); err != nil {
		return nil, err
	}
	monitoring.RecordStreamEvent("decode", string(types.EventComplete))

	d.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"decoded": event.Decoded,
		"failed":  event.Failed,
		"total":   event.Total,
	}).Info("Decode run completed")
	return &event, nil
}

// warmCache bulk-loads known resolutions for the batch: first the process
// cache, then the datastore for whatever it missed. A lookup failure only
// means more remote calls, so it is not fatal.
func (d *Decoder) warmCache(ctx context.Context, articles []*types.Article) map[string]string {
	warmed := make(map[string]string)

	var missing []string
	for _, article := range articles {
		if !d.codec.IsAggregatorURL(article.Link) {
			continue
		}
		id, err := d.codec.ExtractID(article.Link)
		if err != nil {
			continue
		}
		if resolved, ok := d.cache.Get(id); ok {
			warmed[id] = resolved
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fromStore, err := d.store.LookupDecodedURLs(ctx, missing)
		if err != nil {
			d.logger.WithField("error", err.Error()).Warn("Decoded URL bulk lookup failed")
			return warmed
		}
		d.cache.SetMany(fromStore)
		for id, resolved := range fromStore {
			warmed[id] = resolved
		}
	}
	return warmed
}

// resolveArticle works out what the article's publisher URL is without
// touching the datastore
func (d *Decoder) resolveArticle(ctx context.Context, article *types.Article, warmed map[string]string) decodeOutcome {
	if !d.codec.IsAggregatorURL(article.Link) {
		return decodeOutcome{path: "passthrough"}
	}

	id, err := d.codec.ExtractID(article.Link)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"article_id": article.ID,
			"link":       utils.Truncate(article.Link, 120),
		}).Warn("Aggregator link has no decodable identifier")
		return decodeOutcome{failed: true, path: "failed"}
	}

	if resolved, ok := warmed[id]; ok {
		monitoring.RecordCacheHit("decode")
		return decodeOutcome{id: id, decodedURL: resolved, path: "cache"}
	}
	monitoring.RecordCacheMiss("decode")

	res, err := d.codec.DecodeID(ctx, id)
	if err != nil {
		// Params and batch failures mean the aggregator was hit, so the
		// politeness sleep still applies
		remote := errors.Is(err, aggregator.ErrFetchParamsFailed) || errors.Is(err, aggregator.ErrInvalidDecodeResponse)
		d.logger.WithFields(logrus.Fields{
			"article_id": article.ID,
			"id":         utils.Truncate(id, 32),
			"error":      err.Error(),
		}).Warn("URL decode failed")
		return decodeOutcome{id: id, failed: true, remote: remote, path: "failed"}
	}

	path := "direct"
	if res.Remote {
		path = "batch"
	}
	return decodeOutcome{id: id, decodedURL: res.URL, remote: res.Remote, path: path}
}

// persistOutcome writes the resolution to the article row and, for fresh
// decodes, to the shared resolution cache
func (d *Decoder) persistOutcome(ctx context.Context, userID string, article *types.Article, outcome decodeOutcome, event *types.DecodeEvent) {
	if outcome.failed {
		if err := d.store.MarkDecodeFailed(ctx, userID, article.ID); err != nil {
			d.logger.WithFields(logrus.Fields{
				"article_id": article.ID,
				"error":      err.Error(),
			}).Error("Failed to persist decode failure")
		}
		event.Failed++
		return
	}

	if err := d.store.MarkDecoded(ctx, userID, article.ID, outcome.decodedURL); err != nil {
		d.logger.WithFields(logrus.Fields{
			"article_id": article.ID,
			"error":      err.Error(),
		}).Error("Failed to persist decoded URL")
		event.Failed++
		return
	}
	event.Decoded++

	if outcome.path == "direct" || outcome.path == "batch" {
		d.cache.Set(outcome.id, outcome.decodedURL)
		if err := d.store.SaveDecodedURL(ctx, outcome.id, outcome.decodedURL); err != nil {
			d.logger.WithFields(logrus.Fields{
				"id":    utils.Truncate(outcome.id, 32),
				"error": err.Error(),
			}).Warn("Failed to persist decoded URL mapping")
		}
	}
}

// Drain runs decode batches until the queue is empty. The scheduler uses it
// for its decode phase. A run that leaves the queue as large as it found it
// stops the loop, so persistence outages cannot spin it.
func (d *Decoder) Drain(ctx context.Context, userID string, sink DecodeSink) (decoded, failed int, err error) {
	remaining, err := d.store.CountPendingDecode(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	for remaining > 0 {
		result, runErr := d.Run(ctx, userID, sink)
		if runErr != nil {
			return decoded, failed, runErr
		}
		decoded += result.Decoded
		failed += result.Failed

		before := remaining
		remaining, err = d.store.CountPendingDecode(ctx, userID)
		if err != nil {
			return decoded, failed, err
		}
		if remaining >= before {
			d.logger.WithFields(logrus.Fields{
				"user_id":   userID,
				"remaining": remaining,
			}).Warn("Decode queue is not shrinking, stopping drain")
			return decoded, failed, nil
		}
	}
	return decoded, failed, nil
}
