// Package model holds the data types shared between the concurrency manager
// core and the inference-client transports: timestamps, per-context
// counters, server-reported status, and the measurement records produced by
// a sweep.
package model

import "time"

// Timestamp is a monotonic clock reading with nanosecond resolution.
// It must never be derived from a wall clock that can step backwards.
type Timestamp int64

// Now returns the current monotonic timestamp.
func Now() Timestamp {
	return Timestamp(monotonicNow())
}

// Sub returns t-u as a time.Duration.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(int64(t) - int64(u))
}

// TimestampPair is one worker's (start, end) reading for a completed
// request. If Start > End (clock regression), the pair's latency
// contributes zero but the pair is still counted.
type TimestampPair struct {
	Start Timestamp
	End   Timestamp
}

// Latency returns End-Start clamped to zero.
func (p TimestampPair) Latency() time.Duration {
	if p.End < p.Start {
		return 0
	}
	return p.End.Sub(p.Start)
}

// ContextStat holds cumulative counters for one RPC context. Fields are
// updated only by the owning worker and read by the summarizer as a
// snapshot summed across all workers.
type ContextStat struct {
	CompletedRequestCount    int64
	CumulativeTotalRequestNs int64
	CumulativeSendNs         int64
	CumulativeReceiveNs      int64
}

// Add returns the element-wise sum of two ContextStat snapshots.
func (c ContextStat) Add(o ContextStat) ContextStat {
	return ContextStat{
		CompletedRequestCount:    c.CompletedRequestCount + o.CompletedRequestCount,
		CumulativeTotalRequestNs: c.CumulativeTotalRequestNs + o.CumulativeTotalRequestNs,
		CumulativeSendNs:         c.CumulativeSendNs + o.CumulativeSendNs,
		CumulativeReceiveNs:      c.CumulativeReceiveNs + o.CumulativeReceiveNs,
	}
}

// Sub returns the element-wise difference c-o, used for computing a delta
// between two snapshots taken at different points in time.
func (c ContextStat) Sub(o ContextStat) ContextStat {
	return ContextStat{
		CompletedRequestCount:    c.CompletedRequestCount - o.CompletedRequestCount,
		CumulativeTotalRequestNs: c.CumulativeTotalRequestNs - o.CumulativeTotalRequestNs,
		CumulativeSendNs:         c.CumulativeSendNs - o.CumulativeSendNs,
		CumulativeReceiveNs:      c.CumulativeReceiveNs - o.CumulativeReceiveNs,
	}
}

// TimeCount pairs a completed-request count with a cumulative time in
// nanoseconds, mirroring the server's success/queue/compute tuples.
type TimeCount struct {
	Count       int64
	TotalTimeNs int64
}

// Sub returns the element-wise difference t-o, clamped to zero on either
// field so a version rollover mid-sweep never produces a negative delta.
func (t TimeCount) Sub(o TimeCount) TimeCount {
	d := TimeCount{Count: t.Count - o.Count, TotalTimeNs: t.TotalTimeNs - o.TotalTimeNs}
	if d.Count < 0 {
		d.Count = 0
	}
	if d.TotalTimeNs < 0 {
		d.TotalTimeNs = 0
	}
	return d
}

// BatchStats holds the success/queue/compute counters for one batch size.
type BatchStats struct {
	Success TimeCount
	Queue   TimeCount
	Compute TimeCount
}

// VersionStatus holds per-batch-size inference statistics for one model
// version.
type VersionStatus struct {
	VersionID  int64
	InferStats map[int]BatchStats // keyed by batch size
}

// ModelStatus is the server-reported per-model-version status, as returned
// by GetServerStatus.
type ModelStatus struct {
	ModelName      string
	VersionStatus  map[int64]VersionStatus
}

// LatestVersion returns the numerically largest version id present, or
// (0, false) if there are none.
func (m ModelStatus) LatestVersion() (int64, bool) {
	var max int64
	found := false
	for v := range m.VersionStatus {
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

// PerfStatus is one measurement sample: everything the report and CSV
// sinks need to render a row for a single concurrency level.
type PerfStatus struct {
	RunID       string
	StepIndex   int
	WindowStart time.Time
	WindowEnd   time.Time

	Concurrency int
	BatchSize   int
	ModelName   string
	ModelVersion int64

	// Server-side deltas over the measurement window.
	ServerRequestCount  int64
	ServerCummTimeNs    int64
	ServerQueueTimeNs   int64
	ServerComputeTimeNs int64

	// Client-side statistics over the trimmed window.
	ClientRequestCount int64
	ClientDurationNs   int64
	MinLatencyNs       int64
	MaxLatencyNs       int64
	AvgLatencyNs       float64
	StdDevUs           float64

	// Per-context averages (ns/request), derived from ContextStat deltas.
	AvgSendNs    float64
	AvgReceiveNs float64
	AvgRequestNs float64

	InferencesPerSecond float64
}
