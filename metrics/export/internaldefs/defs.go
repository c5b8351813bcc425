package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram series. Defs sharing a Name are one
// histogram split by the [OutcomeLabel] value.
type HistogramDef struct {
	ID      goSession.MetricID
	Name    string
	Help    string
	Outcome string
}

// OutcomeLabel is the label distinguishing successful from failed saves.
const OutcomeLabel = "outcome"

// Name and help text of the dispatcher counters.
const (
	EventsDroppedName     = "gosession_events_dropped_total"
	EventsDroppedHelp     = "Session events dropped due to dispatcher backpressure."
	EventSinkFailuresName = "gosession_event_sink_failures_total"
	EventSinkFailuresHelp = "Session events lost because the event sink panicked."
)

var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionSaved, Name: "gosession_saved_total", Help: "Saves written to the backing store."},
	{ID: goSession.MetricSessionSaveSkipped, Name: "gosession_save_skipped_total", Help: "Saves skipped because the session was unchanged."},
	{ID: goSession.MetricSessionSaveFailed, Name: "gosession_save_failed_total", Help: "Saves that failed."},
	{ID: goSession.MetricSessionFound, Name: "gosession_found_total", Help: "Lookups that returned a live session."},
	{ID: goSession.MetricSessionNotFound, Name: "gosession_not_found_total", Help: "Lookups of missing or expired sessions."},
	{ID: goSession.MetricSessionFindFailed, Name: "gosession_find_failed_total", Help: "Lookups that failed to read the backing store."},
	{ID: goSession.MetricSessionDeleted, Name: "gosession_deleted_total", Help: "Explicit session deletions."},
	{ID: goSession.MetricSessionCreatedPublished, Name: "gosession_created_published_total", Help: "Session-created notifications published."},
	{ID: goSession.MetricBestEffortFailure, Name: "gosession_best_effort_failure_total", Help: "Best-effort commands that failed and were ignored."},
	{ID: goSession.MetricEventCreated, Name: "gosession_event_created_total", Help: "Session-created events emitted."},
	{ID: goSession.MetricEventExpired, Name: "gosession_event_expired_total", Help: "Session-expired events emitted."},
	{ID: goSession.MetricEventDeleted, Name: "gosession_event_deleted_total", Help: "Session-deleted events emitted."},
	{ID: goSession.MetricSweepRun, Name: "gosession_sweep_run_total", Help: "Expiry sweeper passes."},
	{ID: goSession.MetricSweepTouched, Name: "gosession_sweep_touched_total", Help: "Expiry markers read by the sweeper."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricSaveLatency, Name: "gosession_save_latency_seconds", Help: "Save latency by outcome.", Outcome: "ok"},
	{ID: goSession.MetricSaveFailureLatency, Name: "gosession_save_latency_seconds", Help: "Save latency by outcome.", Outcome: "error"},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
var HistogramBounds = []string{
	"0.001",
	"0.002",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix are the bounds as metric-name-safe suffixes.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
