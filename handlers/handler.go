/*
Package handlers provides HTTP handlers with dependency injection support.

Every handler hangs off a single Handler struct that receives its
dependencies through narrow interfaces. The concrete implementations live
in store, pipeline and scheduler; tests swap in fakes without touching
Datastore or the network.
*/
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/pipeline"
	"github.com/wartamigas/news-monitor-backend/store"
	"github.com/wartamigas/news-monitor-backend/types"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// maxRequestBody caps request bodies so a misbehaving client cannot make
// the JSON decoder buffer arbitrary amounts of data.
const maxRequestBody = 1 << 20

// TopicStoreInterface defines the topic operations handlers depend on
type TopicStoreInterface interface {
	ListTopics(ctx context.Context, userID string, enabledOnly bool) ([]*types.Topic, error)
	GetTopic(ctx context.Context, userID, topicID string) (*types.Topic, error)
	CreateTopic(ctx context.Context, userID string, topic *types.Topic) error
	UpdateTopic(ctx context.Context, userID string, topic *types.Topic) error
	DeleteTopic(ctx context.Context, userID, topicID string) error
}

// FeedStoreInterface defines the feed operations handlers depend on
type FeedStoreInterface interface {
	ListFeeds(ctx context.Context, userID string, enabledOnly bool) ([]*types.Feed, error)
	GetFeed(ctx context.Context, userID, feedID string) (*types.Feed, error)
	CreateFeed(ctx context.Context, userID string, feed *types.Feed) error
	UpdateFeed(ctx context.Context, userID string, feed *types.Feed) error
	DeleteFeed(ctx context.Context, userID, feedID string) error
}

// ArticleStoreInterface defines the article read and maintenance operations
type ArticleStoreInterface interface {
	ListArticles(ctx context.Context, userID string, query store.ArticleQuery) ([]*types.Article, string, error)
	GetArticle(ctx context.Context, userID, articleID string) (*types.Article, error)
	ArticleStats(ctx context.Context, userID string, days int) (*types.ArticleStats, error)
	ResetAnalysis(ctx context.Context, userID, articleID string) error
}

// SchedulerStoreInterface exposes the persisted per-user scheduler state
type SchedulerStoreInterface interface {
	GetSchedulerState(ctx context.Context, userID string) (*types.SchedulerState, error)
}

// StoreInterface is the full datastore surface the handlers use.
// *store.Store satisfies it.
type StoreInterface interface {
	TopicStoreInterface
	FeedStoreInterface
	ArticleStoreInterface
	SchedulerStoreInterface
}

// DecodeStreamInterface runs the URL decode engine and reports progress
// through the sink
type DecodeStreamInterface interface {
	Run(ctx context.Context, userID string, sink pipeline.DecodeSink) (*types.DecodeEvent, error)
}

// AnalyzeStreamInterface runs the article analysis engine
type AnalyzeStreamInterface interface {
	Running(userID string) bool
	Run(ctx context.Context, userID string, limit int, sink pipeline.AnalyzeSink) (*types.AnalyzeEvent, error)
}

// SchedulerInterface starts fetch pipeline runs and reports scheduler status
type SchedulerInterface interface {
	TriggerFetch(ctx context.Context, userID, trigger string, skipGapCheck bool) error
	Fetching(userID string) bool
	Interval() time.Duration
	Enabled() bool
}

// Handler contains all service dependencies for HTTP handlers
type Handler struct {
	Store     StoreInterface
	Decoder   DecodeStreamInterface
	Analyzer  AnalyzeStreamInterface
	Scheduler SchedulerInterface
	Logger    *logrus.Logger
}

// NewHandler creates a new handler instance with injected dependencies
func NewHandler(
	st StoreInterface,
	decoder DecodeStreamInterface,
	analyzer AnalyzeStreamInterface,
	scheduler SchedulerInterface,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		Store:     st,
		Decoder:   decoder,
		Analyzer:  analyzer,
		Scheduler: scheduler,
		Logger:    logger,
	}
}

// ensureRequestID returns the inbound request ID, generating one and echoing
// it back when the client did not send any
func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}
	return requestID
}

// userID pulls the authenticated user from the request context. The auth
// middleware guarantees it on /api routes, but handlers reached outside
// that chain answer 401 instead of panicking.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request, requestID string) (string, bool) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.RespondUnauthorized(w, fmt.Errorf("missing X-User-ID header"), requestID)
	}
	return userID, ok
}

// decodeBody decodes a JSON request body into dst
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst)
}

// respondJSON writes payload as a JSON response with the given status code
func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.WithError(err).Error("Failed to encode response")
	}
}

// respondStoreError maps store sentinel errors onto the right API error
func (h *Handler) respondStoreError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.RespondNotFound(w, err, requestID)
	case errors.Is(err, store.ErrTopicNameExists),
		errors.Is(err, store.ErrFeedExists),
		errors.Is(err, store.ErrNoFailedAnalysis):
		middleware.RespondConflict(w, err, requestID)
	default:
		middleware.RespondDatastoreError(w, err, requestID)
	}
}
