package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wartamigas/news-monitor-backend/httpclient"
	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/types"
)

// feedRequest is the JSON payload for creating or updating a feed
type feedRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// feedListResponse wraps a feed listing
type feedListResponse struct {
	Feeds []*types.Feed `json:"feeds"`
	Count int           `json:"count"`
}

// HandleListFeeds lists the user's registered RSS feeds
// @Summary List feeds
// @Description Lists all registered RSS/Atom feeds for the authenticated user
// @Tags feeds
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param enabled query bool false "Return only enabled feeds"
// @Success 200 {object} feedListResponse
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/feeds [get]
func (h *Handler) HandleListFeeds(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	enabledOnly := r.URL.Query().Get("enabled") == "true"
	feeds, err := h.Store.ListFeeds(r.Context(), userID, enabledOnly)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to list feeds")
		h.respondStoreError(w, err, requestID)
		return
	}
	if feeds == nil {
		feeds = []*types.Feed{}
	}

	h.respondJSON(w, http.StatusOK, feedListResponse{Feeds: feeds, Count: len(feeds)})
}

// HandleCreateFeed registers a new RSS feed
// @Summary Register feed
// @Description Registers an RSS/Atom feed URL. The URL is validated against private and internal hosts before it is accepted.
// @Tags feeds
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param feed body feedRequest true "Feed to register"
// @Success 201 {object} types.Feed
// @Failure 400 {object} middleware.APIError
// @Failure 409 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/feeds [post]
func (h *Handler) HandleCreateFeed(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	var req feedRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	cleanURL, err := httpclient.ValidateURL(req.URL, httpclient.DefaultMaxURLLength)
	if err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	feed := &types.Feed{
		Name:    req.Name,
		URL:     cleanURL,
		Enabled: req.Enabled == nil || *req.Enabled,
	}
	feed.Sanitize()
	if err := feed.Validate(); err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	if err := h.Store.CreateFeed(r.Context(), userID, feed); err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to create feed")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusCreated, feed)
}

// HandleGetFeed returns a single feed by ID
// @Summary Get feed
// @Description Returns one registered feed
// @Tags feeds
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Feed ID"
// @Success 200 {object} types.Feed
// @Failure 404 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/feeds/{id} [get]
func (h *Handler) HandleGetFeed(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	feed, err := h.Store.GetFeed(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, feed)
}

// HandleUpdateFeed updates a feed's name or enabled flag
// @Summary Update feed
// @Description Updates a feed's name or enabled flag. The URL identifies the feed and cannot change; register a new feed instead.
// @Tags feeds
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Feed ID"
// @Param feed body feedRequest true "Fields to update"
// @Success 200 {object} types.Feed
// @Failure 400 {object} middleware.APIError
// @Failure 404 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/feeds/{id} [put]
func (h *Handler) HandleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	var req feedRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	feed, err := h.Store.GetFeed(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, err, requestID)
		return
	}

	if req.URL != "" && req.URL != feed.URL {
		middleware.RespondBadRequest(w, fmt.Errorf("feed URL cannot be changed"), requestID)
		return
	}
	if req.Name != "" {
		feed.Name = req.Name
	}
	if req.Enabled != nil {
		feed.Enabled = *req.Enabled
	}
	feed.Sanitize()
	if err := feed.Validate(); err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	if err := h.Store.UpdateFeed(r.Context(), userID, feed); err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to update feed")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, feed)
}

// HandleDeleteFeed removes a feed registration
// @Summary Delete feed
// @Description Deletes a feed registration. Articles already ingested from it are kept.
// @Tags feeds
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Feed ID"
// @Success 204 "No Content"
// @Failure 404 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/feeds/{id} [delete]
func (h *Handler) HandleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	if err := h.Store.DeleteFeed(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to delete feed")
		h.respondStoreError(w, err, requestID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
