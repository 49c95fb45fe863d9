/*
Package pipeline drives the two post-ingest enrichment stages as stream
engines: URL decoding and article analysis. Each engine processes its queue
strictly serially, emits a progress event after every article, observes
cancellation at article boundaries, and converts per-article errors into
accounting rather than failing the stream.
*/
package pipeline

import (
	"time"

	"github.com/wartamigas/news-monitor-backend/types"
)

// Config holds the stream engine pacing knobs
type Config struct {
	// DecodeDelay spaces remote aggregator decode calls. Cache hits,
	// pass-throughs and direct decodes do not sleep.
	DecodeDelay time.Duration
	// AnalyzeDelay spaces consecutive article analyses
	AnalyzeDelay time.Duration
	// DecodeBatchSize caps how many articles one decode run loads
	DecodeBatchSize int
}

// DecodeSink consumes decode stream events
type DecodeSink func(types.DecodeEvent) error

// AnalyzeSink consumes analyzer stream events
type AnalyzeSink func(types.AnalyzeEvent) error

// NopDecodeSink discards decode events. The scheduler uses it when driving
// the engine without a connected client.
func NopDecodeSink(types.DecodeEvent) error { return nil }

// NopAnalyzeSink discards analyzer events
func NopAnalyzeSink(types.AnalyzeEvent) error { return nil }
