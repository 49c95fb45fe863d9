package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/scheduler"
)

// fetchRequest is the optional body for a manual fetch trigger
type fetchRequest struct {
	SkipGapCheck *bool `json:"skip_gap_check,omitempty"`
}

// fetchResponse reports whether a fetch pipeline run was started
type fetchResponse struct {
	Started bool   `json:"started"`
	Trigger string `json:"trigger"`
	Reason  string `json:"reason,omitempty"`
}

// schedulerStatusResponse is the scheduler view for one user
type schedulerStatusResponse struct {
	Enabled         bool       `json:"enabled"`
	Fetching        bool       `json:"fetching"`
	Status          string     `json:"status"`
	LastFetchAt     *time.Time `json:"last_fetch_at,omitempty"`
	NextFetchAt     *time.Time `json:"next_fetch_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastInserted    int        `json:"last_inserted"`
	LastSkipped     int        `json:"last_skipped"`
	IntervalSeconds int64      `json:"interval_seconds"`
}

// startFetch triggers a pipeline run and translates the guard errors into a
// started/skipped response instead of HTTP errors
func (h *Handler) startFetch(w http.ResponseWriter, r *http.Request, trigger string, skipGapCheck bool) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	err := h.Scheduler.TriggerFetch(r.Context(), userID, trigger, skipGapCheck)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusAccepted, fetchResponse{Started: true, Trigger: trigger})
	case errors.Is(err, scheduler.ErrFetchRunning):
		h.respondJSON(w, http.StatusOK, fetchResponse{
			Trigger: trigger,
			Reason:  "a fetch pipeline run is already in progress",
		})
	case errors.Is(err, scheduler.ErrFetchTooSoon):
		h.respondJSON(w, http.StatusOK, fetchResponse{
			Trigger: trigger,
			Reason:  "minimum gap since the last fetch has not passed",
		})
	default:
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to trigger fetch")
		middleware.RespondDatastoreError(w, err, requestID)
	}
}

// HandleTriggerFetch starts the fetch pipeline for the user
// @Summary Trigger fetch pipeline
// @Description Starts a fetch, decode and analyze pipeline run in the background. Manual triggers skip the minimum gap check unless skip_gap_check is false. Answers started=false when a run is already active or the gap has not passed.
// @Tags pipeline
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Param options body fetchRequest false "Trigger options"
// @Success 202 {object} fetchResponse
// @Success 200 {object} fetchResponse
// @Failure 400 {object} middleware.APIError
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/fetch [post]
func (h *Handler) HandleTriggerFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		requestID := ensureRequestID(w, r)
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	skipGapCheck := req.SkipGapCheck == nil || *req.SkipGapCheck
	h.startFetch(w, r, "manual", skipGapCheck)
}

// HandlePokeScheduler runs a scheduled-style fetch on demand
// @Summary Poke the scheduler
// @Description Runs the same fetch the hourly scheduler would, including the minimum gap check. Useful for external cron services.
// @Tags pipeline
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Success 202 {object} fetchResponse
// @Success 200 {object} fetchResponse
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/scheduler/poke [post]
func (h *Handler) HandlePokeScheduler(w http.ResponseWriter, r *http.Request) {
	h.startFetch(w, r, "poke", false)
}

// HandleSchedulerStatus reports the persisted scheduler state for the user
// @Summary Scheduler status
// @Description Returns the last pipeline outcome, whether a run is active right now and when the next automatic fetch is due
// @Tags pipeline
// @Produce json
// @Param X-User-ID header string true "User identifier"
// @Success 200 {object} schedulerStatusResponse
// @Failure 401 {object} middleware.APIError
// @Failure 500 {object} middleware.APIError
// @Router /api/scheduler [get]
func (h *Handler) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	userID, ok := h.userID(w, r, requestID)
	if !ok {
		return
	}

	state, err := h.Store.GetSchedulerState(r.Context(), userID)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to load scheduler state")
		h.respondStoreError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, schedulerStatusResponse{
		Enabled:         h.Scheduler.Enabled(),
		Fetching:        h.Scheduler.Fetching(userID),
		Status:          state.Status,
		LastFetchAt:     state.LastFetchAt,
		NextFetchAt:     state.NextFetchAt(h.Scheduler.Interval()),
		LastError:       state.LastError,
		LastInserted:    state.LastInserted,
		LastSkipped:     state.LastSkipped,
		IntervalSeconds: int64(h.Scheduler.Interval() / time.Second),
	})
}
