/*
Package scheduler drives the periodic fetch pipeline: ingestion, URL
decoding and analysis chained per user, with a persisted per-user state row
tracking where the pipeline is.

Manual and automatic triggers share the one PerformFetch entry point. A
per-user in-memory latch keeps runs mutually exclusive inside the process;
the minimum-gap check is the coarser guard across restarts.
*/
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/pipeline"
	"github.com/wartamigas/news-monitor-backend/types"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// ErrFetchRunning is returned when a fetch pipeline is already active for
// the user
var ErrFetchRunning = errors.New("fetch already running for this user")

// ErrFetchTooSoon is returned when the last run is newer than the minimum
// gap and the caller did not ask to skip the check
var ErrFetchTooSoon = errors.New("minimum gap since last fetch not reached")

// Config holds the scheduler tuning knobs
type Config struct {
	// Enabled turns the automatic trigger on
	Enabled bool
	// Interval is the cadence of automatic runs
	Interval time.Duration
	// MinGap is the minimum spacing between runs for one user
	MinGap time.Duration
	// InitialDelay postpones the first automatic run after startup
	InitialDelay time.Duration
	// Users are the user ids swept by the automatic trigger
	Users []string
}

// StateStore is the slice of the datastore the scheduler needs
type StateStore interface {
	GetSchedulerState(ctx context.Context, userID string) (*types.SchedulerState, error)
	SaveSchedulerState(ctx context.Context, userID string, state *types.SchedulerState) error
	ListSchedulerUsers(ctx context.Context) ([]string, error)
	CountPendingAnalysis(ctx context.Context, userID string) (int, error)
}

// Fetcher runs the ingestion phase
type Fetcher interface {
	FetchAll(ctx context.Context, userID string) (*types.FetchReport, error)
}

// URLDecoder runs the decode phase to completion
type URLDecoder interface {
	Drain(ctx context.Context, userID string, sink pipeline.DecodeSink) (decoded, failed int, err error)
}

// AnalysisRunner runs the analysis phase
type AnalysisRunner interface {
	Running(userID string) bool
	Run(ctx context.Context, userID string, limit int, sink pipeline.AnalyzeSink) (*types.AnalyzeEvent, error)
}

// Scheduler owns the fetch pipeline and its automatic trigger
type Scheduler struct {
	cfg      Config
	store    StateStore
	fetcher  Fetcher
	decoder  URLDecoder
	analyzer AnalysisRunner
	logger   *logrus.Logger

	mu       sync.Mutex
	fetching map[string]bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler
func NewScheduler(cfg Config, st StateStore, fetcher Fetcher, decoder URLDecoder, analyzer AnalysisRunner, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		fetcher:  fetcher,
		decoder:  decoder,
		analyzer: analyzer,
		logger:   logger,
		fetching: make(map[string]bool),
		quit:     make(chan struct{}),
	}
}

// Interval returns the automatic run cadence
func (s *Scheduler) Interval() time.Duration {
	return s.cfg.Interval
}

// Enabled reports whether the automatic trigger is on
func (s *Scheduler) Enabled() bool {
	return s.cfg.Enabled
}

// Fetching reports whether a fetch pipeline is active for the user
func (s *Scheduler) Fetching(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetching[userID]
}

func (s *Scheduler) tryAcquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching[userID] {
		return false
	}
	s.fetching[userID] = true
	return true
}

func (s *Scheduler) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fetching, userID)
}

// Start launches the automatic trigger goroutine. A disabled scheduler
// still serves manual PerformFetch calls.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info("Auto-fetch scheduler disabled")
		return
	}
	if len(s.cfg.Users) == 0 {
		s.logger.Info("Auto-fetch scheduler has no configured users, sweeping discovered users only")
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.WithFields(logrus.Fields{
		"interval":         s.cfg.Interval.String(),
		"min_gap":          s.cfg.MinGap.String(),
		"initial_delay":    s.cfg.InitialDelay.String(),
		"configured_users": len(s.cfg.Users),
	}).Info("Auto-fetch scheduler started")
}

// Stop stops the automatic trigger and waits for an in-flight sweep to
// finish. Running pipelines are not interrupted.
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
	s.logger.Info("Auto-fetch scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	initial := time.NewTimer(s.cfg.InitialDelay)
	defer initial.Stop()

	select {
	case <-initial.C:
		s.sweep("startup")
	case <-s.quit:
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep("interval")
		case <-s.quit:
			return
		}
	}
}

// sweep runs the pipeline for every known user. Latched and too-recent
// users are skipped quietly; those are the normal overlap cases.
func (s *Scheduler) sweep(trigger string) {
	for _, userID := range s.sweepUsers() {
		_, err := s.PerformFetch(context.Background(), userID, trigger, false)
		switch {
		case errors.Is(err, ErrFetchRunning), errors.Is(err, ErrFetchTooSoon):
			s.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"trigger": trigger,
				"reason":  err.Error(),
			}).Debug("Skipped scheduled fetch")
		case err != nil:
			s.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"trigger": trigger,
				"error":   err.Error(),
			}).Error("Scheduled fetch failed")
		}
	}
}

// sweepUsers merges the configured user list with every user that has
// persisted scheduler state, so users who fetched once keep getting swept
// without a config change. Configured users come first, duplicates drop.
func (s *Scheduler) sweepUsers() []string {
	users := make([]string, 0, len(s.cfg.Users))
	seen := make(map[string]bool, len(s.cfg.Users))
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		users = append(users, id)
	}

	for _, id := range s.cfg.Users {
		add(id)
	}

	discovered, err := s.store.ListSchedulerUsers(context.Background())
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("User discovery failed, sweeping configured users only")
		return users
	}
	for _, id := range discovered {
		add(id)
	}
	return users
}

// PerformFetch runs the full pipeline for one user: fetch, decode, analyze.
// It returns ErrFetchRunning when a run is already active and ErrFetchTooSoon
// when the last run is newer than the minimum gap, unless skipGapCheck.
func (s *Scheduler) PerformFetch(ctx context.Context, userID, trigger string, skipGapCheck bool) (*types.SchedulerState, error) {
	if !s.tryAcquire(userID) {
		return nil, ErrFetchRunning
	}
	defer s.release(userID)

	state, err := s.store.GetSchedulerState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkGap(userID, trigger, state, skipGapCheck); err != nil {
		return state, err
	}
	return s.run(ctx, userID, trigger, state)
}

// TriggerFetch checks the guards synchronously and, when they pass, runs the
// pipeline in the background. HTTP triggers use it so the caller learns
// immediately whether a run started without waiting for it.
func (s *Scheduler) TriggerFetch(ctx context.Context, userID, trigger string, skipGapCheck bool) error {
	if !s.tryAcquire(userID) {
		return ErrFetchRunning
	}

	state, err := s.store.GetSchedulerState(ctx, userID)
	if err != nil {
		s.release(userID)
		return err
	}
	if err := s.checkGap(userID, trigger, state, skipGapCheck); err != nil {
		s.release(userID)
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(userID)
		// Detached from the request, the pipeline runs to completion
		if _, err := s.run(context.Background(), userID, trigger, state); err != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"trigger": trigger,
				"error":   err.Error(),
			}).Error("Triggered fetch failed")
		}
	}()
	return nil
}

// checkGap enforces the minimum spacing between runs
func (s *Scheduler) checkGap(userID, trigger string, state *types.SchedulerState, skipGapCheck bool) error {
	if skipGapCheck || state.LastFetchAt == nil {
		return nil
	}
	gap := time.Since(*state.LastFetchAt)
	if gap >= s.cfg.MinGap {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"gap":     gap.Round(time.Second).String(),
		"min_gap": s.cfg.MinGap.String(),
	}).Debug("Skipping fetch, minimum gap not reached")
	monitoring.RecordSchedulerRun(trigger, "skipped", 0)
	return ErrFetchTooSoon
}

// run executes the three pipeline phases with the latch already held
func (s *Scheduler) run(ctx context.Context, userID, trigger string, state *types.SchedulerState) (*types.SchedulerState, error) {
	start := time.Now()

	ctx, span := monitoring.CreateSpan(ctx, "scheduler.fetch_pipeline")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"user_id": userID,
		"trigger": trigger,
	})

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"trigger": trigger,
	}).Info("Fetch pipeline started")

	s.setStatus(ctx, userID, state, types.ScheduleFetching)

	report, fetchErr := s.fetcher.FetchAll(ctx, userID)
	if report != nil {
		state.LastInserted = report.Inserted
		state.LastSkipped = report.Skipped
	}
	if fetchErr != nil {
		state.LastError = utils.Truncate(fetchErr.Error(), 500)
		s.setStatus(ctx, userID, state, types.ScheduleError)
		monitoring.RecordSchedulerRun(trigger, "error", time.Since(start).Seconds())
		monitoring.SetSpanError(span, fetchErr)
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"trigger": trigger,
			"error":   fetchErr.Error(),
		}).Error("Fetch pipeline failed, no source produced anything")
		return state, fetchErr
	}

	now := time.Now().UTC()
	state.LastFetchAt = &now
	state.LastError = ""

	s.setStatus(ctx, userID, state, types.ScheduleDecoding)
	if decoded, failed, err := s.decoder.Drain(ctx, userID, pipeline.NopDecodeSink); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Decode phase failed")
	} else if decoded+failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"decoded": decoded,
			"failed":  failed,
		}).Debug("Decode phase finished")
	}

	s.setStatus(ctx, userID, state, types.ScheduleAnalyzing)
	s.runAnalysis(ctx, userID)

	s.setStatus(ctx, userID, state, types.ScheduleSuccess)
	monitoring.RecordSchedulerRun(trigger, "success", time.Since(start).Seconds())

	s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"trigger":     trigger,
		"inserted":    state.LastInserted,
		"skipped":     state.LastSkipped,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Fetch pipeline completed")
	return state, nil
}

// runAnalysis drives the analyzer over the current backlog unless a stream
// already owns it
func (s *Scheduler) runAnalysis(ctx context.Context, userID string) {
	if s.analyzer.Running(userID) {
		s.logger.WithField("user_id", userID).Debug("Analysis already running, skipping phase")
		return
	}

	pending, err := s.store.CountPendingAnalysis(ctx, userID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Failed to count analysis backlog")
		return
	}
	if pending == 0 {
		return
	}

	if _, err := s.analyzer.Run(ctx, userID, pending, pipeline.NopAnalyzeSink); err != nil && !errors.Is(err, pipeline.ErrAnalysisRunning) {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Analysis phase failed")
	}
}

// setStatus persists a state transition. Persistence failures downgrade to a
// warning, the pipeline itself carries on.
func (s *Scheduler) setStatus(ctx context.Context, userID string, state *types.SchedulerState, status string) {
	state.Status = status
	if err := s.store.SaveSchedulerState(ctx, userID, state); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"status":  status,
			"error":   err.Error(),
		}).Warn("Failed to persist scheduler state")
	}
}
