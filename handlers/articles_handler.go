package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/store"
	"github.com/wartamigas/news-monitor-backend/types"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 200
	defaultStatsDays    = 7
	maxStatsDays        = 365
)

// articleListResponse is one page of articles plus the cursor for the next page
type articleListResponse struct {
	Articles   []*types.Article `json:"articles"`
	Count      int              `json:"count"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// resetResponse acknowledges an analysis reset
type resetResponse struct {
	ID    string `json:"id"`
	Reset bool   `json:"reset"`
}

// parseArticleQuery builds a store query from the request's query string
func parseArticleQuery(r *http.Request) (store.ArticleQuery, error) {
	q := r.URL.Query()
	query := store.ArticleQuery{
		TopicID:  q.Get("topic_id"),
		Category: q.Get("category"),
		Cursor:   q.Get("cursor"),
		Limit:    defaultArticleLimit,
	}

	if s := q.Get("sentiment"); s != "" {
		switch s {
		case types.SentimentPositive, types.SentimentNegative, types.SentimentNeutral:
			query.Sentiment = s
		default:
			return query, fmt.Errorf("invalid sentiment %q, expected positive, negative or neutral", s)
		}
	}

	if a := q.Get("analyzed"); a != "" {
		analyzed, err := strconv.ParseBool(a)
		if err != nil {
			return query, fmt.Errorf("invalid analyzed parameter %q", a)
		}
		query.AIProcessed = &analyzed
	}

	if d := q.Get("days"); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil || days < 1 || days > maxStatsDays {
			return query, fmt.Errorf("invalid days parameter %q", d)
		}
		query.Since = time.Now().UTC().AddDate(0, 0, -days)
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			return query, fmt.Errorf("invalid limit parameter %q", l)
		}
		if limit > maxArticleLimit {
			limit = maxArticleLimit
		}
		query.Limit = limit
	}

	return query, nil
}

// HandleListArticles lists stored articles with filters and cursor pagination
// @Summary List articles
// @Description Lists the user's articles, newest first. Supports filtering by topic, sentiment, category, analysis state and age. The next_cursor field (also sent as the X-Next-Cursor header) fetches the following page.
// @Tags articles
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param topic_id query string false "Only articles matched to this topic"
// @Param sentiment query string false "Filter by sentiment (positive, negative, neutral)"
// @Param category query string false "Filter by assigned category"
// @Param analyzed query bool false "Filter by analysis state"
// @Param days query int false "Only articles published in the last N days"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param cursor query string false "Cursor from a previous page"
// @Success 200 {object} articleListResponse
// @Failure 400 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/articles [get]
func (h *Handler) HandleListArticles(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	query, err := parseArticleQuery(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	articles, nextCursor, err := h.Store.ListArticles(r.Context(), userID, query)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to list articles")
		h.respondStoreError(w, err, requestID)
		return
	}
	if articles == nil {
		articles = []*types.Article{}
	}

	if nextCursor != "" {
		w.Header().Set("X-Next-Cursor", nextCursor)
	}
	h.respondJSON(w, http.StatusOK, articleListResponse{
		Articles:   articles,
		Count:      len(articles),
		NextCursor: nextCursor,
	})
}

// HandleGetArticle returns a single article by ID
// @Summary Get article
// @Description Returns one stored article including its analysis fields
// @Tags articles
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Article ID"
// @Success 200 {object} types.Article
// @Failure 404 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/articles/{id} [get]
func (h *Handler) HandleGetArticle(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	article, err := h.Store.GetArticle(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, article)
}

// HandleRetryAnalysis clears an article's analysis so the next run redoes it
// @Summary Retry article analysis
// @Description Clears the stored analysis result and error for an article, putting it back in the analysis queue. Only articles with a recorded analysis error can be retried.
// @Tags articles
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Article ID"
// @Success 200 {object} resetResponse
// @Failure 404 {object} middleware.APIError
// @Failure 409 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/articles/{id}/retry-analysis [post]
func (h *Handler) HandleRetryAnalysis(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	articleID := mux.Vars(r)["id"]
	if err := h.Store.ResetAnalysis(r.Context(), userID, articleID); err != nil {
		h.Logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    userID,
			"article_id": articleID,
		}).Error("Failed to reset analysis")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, resetResponse{ID: articleID, Reset: true})
}

// HandleArticleStats reports aggregate counts over a recent window
// @Summary Article statistics
// @Description Returns totals, analysis outcomes and queue depths for articles published in the last N days
// @Tags articles
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param days query int false "Window in days (default 7, max 365)"
// @Success 200 {object} types.ArticleStats
// @Failure 400 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/stats [get]
func (h *Handler) HandleArticleStats(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	days := defaultStatsDays
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 || parsed > maxStatsDays {
			middleware.RespondBadRequest(w, fmt.Errorf("invalid days parameter %q", d), requestID)
			return
		}
		days = parsed
	}

	stats, err := h.Store.ArticleStats(r.Context(), userID, days)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to compute article stats")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}
