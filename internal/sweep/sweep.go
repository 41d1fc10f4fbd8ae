// Package sweep implements spec §4.7: the fixed-concurrency and dynamic
// concurrency-search drivers built on top of one measureloop.Loop.
package sweep

import (
	"context"

	"github.com/cloud-gpu-shopper/inferload/internal/measureloop"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Mode selects fixed vs dynamic concurrency search.
type Mode int

const (
	ModeFixed Mode = iota
	ModeDynamic
)

// Config parameterizes a sweep.
type Config struct {
	Mode               Mode
	StartConcurrency   int
	LatencyThresholdMs float64 // dynamic mode stop condition
	MaxConcurrency     int     // 0 = unbounded
}

// Result is the accumulated outcome of a sweep: every step's PerfStatus in
// order, and the error (if any) that ended the sweep early. Even on error,
// Samples holds everything measured before the failure so it can still be
// reported.
type Result struct {
	Samples []model.PerfStatus
	Err     error
}

// Run drives loop according to cfg and returns every sample taken. A
// per-step error terminates the sweep but does not discard prior samples.
func Run(ctx context.Context, loop *measureloop.Loop, cfg Config) Result {
	if cfg.Mode == ModeFixed {
		sample, err := loop.Step(ctx, cfg.StartConcurrency)
		res := Result{Err: err}
		if err == nil || sample.ClientRequestCount > 0 {
			res.Samples = append(res.Samples, sample)
		}
		return res
	}

	var res Result
	for k := cfg.StartConcurrency; ; k++ {
		sample, err := loop.Step(ctx, k)
		if sample.ClientRequestCount > 0 || err == nil {
			res.Samples = append(res.Samples, sample)
		}
		if err != nil {
			res.Err = err
			return res
		}

		avgLatencyMs := sample.AvgLatencyNs / 1e6
		if avgLatencyMs >= cfg.LatencyThresholdMs {
			return res
		}
		if cfg.MaxConcurrency > 0 && k > cfg.MaxConcurrency {
			return res
		}
	}
}
