package types

import "time"

// EventType classifies server-sent stream events
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// DecodeEvent is emitted by the URL-decode stream engine after every article
type DecodeEvent struct {
	Type    EventType `json:"type"`
	Decoded int       `json:"decoded"`
	Failed  int       `json:"failed"`
	Total   int       `json:"total"`
	Message string    `json:"message,omitempty"`
}

// AnalyzeEvent is emitted by the analyzer stream engine after every article
type AnalyzeEvent struct {
	Type     EventType `json:"type"`
	Analyzed int       `json:"analyzed"`
	Failed   int       `json:"failed"`
	Total    int       `json:"total"`
	Message  string    `json:"message,omitempty"`
}

// FetchReport accumulates the outcome of an ingestion run. Partial failure is
// normal: a run succeeded when it wrote anything or produced no errors at all.
type FetchReport struct {
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Merge folds another report into this one
func (r *FetchReport) Merge(other *FetchReport) {
	if other == nil {
		return
	}
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// AddError appends a warning to the report
func (r *FetchReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Succeeded reports whether the run counts as a success
func (r *FetchReport) Succeeded() bool {
	return r.Inserted+r.Skipped > 0 || len(r.Errors) == 0
}

// Scheduler pipeline states
const (
	ScheduleIdle      = "idle"
	ScheduleFetching  = "fetching"
	ScheduleDecoding  = "decoding"
	ScheduleAnalyzing = "analyzing"
	ScheduleSuccess   = "success"
	ScheduleError     = "error"
)

// SchedulerState is the persisted per-user auto-fetch state
type SchedulerState struct {
	Status       string     `datastore:"status,noindex" json:"status"`
	LastFetchAt  *time.Time `datastore:"last_fetch_at,noindex" json:"last_fetch_at,omitempty"`
	LastError    string     `datastore:"last_error,noindex" json:"last_error,omitempty"`
	LastInserted int        `datastore:"last_inserted,noindex" json:"last_inserted"`
	LastSkipped  int        `datastore:"last_skipped,noindex" json:"last_skipped"`
	UpdatedAt    time.Time  `datastore:"updated_at,noindex" json:"updated_at"`
}

// NextFetchAt derives the next scheduled run from the last one
func (s *SchedulerState) NextFetchAt(interval time.Duration) *time.Time {
	if s.LastFetchAt == nil {
		return nil
	}
	next := s.LastFetchAt.Add(interval)
	return &next
}

// ArticleStats carries the per-period KPI counters
type ArticleStats struct {
	PeriodDays      int `json:"period_days"`
	Total           int `json:"total"`
	Analyzed        int `json:"analyzed"`
	Failed          int `json:"failed"`
	PendingAnalysis int `json:"pending_analysis"`
	PendingDecode   int `json:"pending_decode"`
}
