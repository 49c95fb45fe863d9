package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/types"
)

// topicRequest is the JSON payload for creating or updating a topic
type topicRequest struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

// topicListResponse wraps a topic listing
type topicListResponse struct {
	Topics []*types.Topic `json:"topics"`
	Count  int            `json:"count"`
}

// HandleListTopics lists the user's monitoring topics
// @Summary List topics
// @Description Lists all monitoring topics for the authenticated user
// @Tags topics
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param enabled query bool false "Return only enabled topics"
// @Success 200 {object} topicListResponse
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/topics [get]
func (h *Handler) HandleListTopics(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	enabledOnly := r.URL.Query().Get("enabled") == "true"
	topics, err := h.Store.ListTopics(r.Context(), userID, enabledOnly)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to list topics")
		h.respondStoreError(w, err, requestID)
		return
	}
	if topics == nil {
		topics = []*types.Topic{}
	}

	h.respondJSON(w, http.StatusOK, topicListResponse{Topics: topics, Count: len(topics)})
}

// HandleCreateTopic registers a new monitoring topic
// @Summary Create topic
// @Description Creates a monitoring topic with a unique name and keyword list
// @Tags topics
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param topic body topicRequest true "Topic to create"
// @Success 201 {object} types.Topic
// @Failure 400 {object} middleware.APIError
// @Failure 409 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/topics [post]
func (h *Handler) HandleCreateTopic(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	var req topicRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	topic := &types.Topic{
		Name:     req.Name,
		Keywords: req.Keywords,
		Enabled:  req.Enabled == nil || *req.Enabled,
	}
	topic.Sanitize()
	if err := topic.Validate(); err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	if err := h.Store.CreateTopic(r.Context(), userID, topic); err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to create topic")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusCreated, topic)
}

// HandleGetTopic returns a single topic by ID
// @Summary Get topic
// @Description Returns one monitoring topic
// @Tags topics
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Topic ID"
// @Success 200 {object} types.Topic
// @Failure 404 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/topics/{id} [get]
func (h *Handler) HandleGetTopic(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	topic, err := h.Store.GetTopic(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, topic)
}

// HandleUpdateTopic updates a topic's name, keywords or enabled flag
// @Summary Update topic
// @Description Updates an existing monitoring topic. Omitted fields keep their value.
// @Tags topics
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Topic ID"
// @Param topic body topicRequest true "Fields to update"
// @Success 200 {object} types.Topic
// @Failure 400 {object} middleware.APIError
// @Failure 404 {object} middleware.APIError
// @Failure 409 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/topics/{id} [put]
func (h *Handler) HandleUpdateTopic(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	var req topicRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	topic, err := h.Store.GetTopic(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, err, requestID)
		return
	}

	if req.Name != "" {
		topic.Name = req.Name
	}
	if req.Keywords != nil {
		topic.Keywords = req.Keywords
	}
	if req.Enabled != nil {
		topic.Enabled = *req.Enabled
	}
	topic.Sanitize()
	if err := topic.Validate(); err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	if err := h.Store.UpdateTopic(r.Context(), userID, topic); err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to update topic")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, topic)
}

// HandleDeleteTopic removes a topic and detaches it from matched articles
// @Summary Delete topic
// @Description Deletes a topic. Articles matched to it lose the topic reference but are kept.
// @Tags topics
// @Param X-User-ID header string true "User identifier"
// @Param id path string true "Topic ID"
// @Success 204 "No Content"
// @Failure 404 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/topics/{id} [delete]
func (h *Handler) HandleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	if err := h.Store.DeleteTopic(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to delete topic")
		h.respondStoreError(w, err, requestID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
