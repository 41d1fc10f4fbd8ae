// Package measureloop implements spec §4.5: repeated fixed-duration
// measurement windows at a target concurrency level, with a trailing-window
// stability test deciding when to stop sampling.
package measureloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gpu-shopper/inferload/internal/earlyexit"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/metrics"
	"github.com/cloud-gpu-shopper/inferload/internal/summarizer"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/internal/workerpool"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// recentK is the hard-coded trailing-window size spec §9 says is safe to
// leave unexposed; the stability criterion only rejects monotone drift
// correctly when this is >= 3.
const recentK = 3

// windowOvershoot is the 1.2x sleep-beyond-the-window factor spec §4.5/§9
// requires: it is coupled to Summarize's centering logic, which needs
// ramp-up and drain-down slack at both edges of the drained span to have
// somewhere to trim from.
const windowOvershoot = 1.2

// Config parameterizes one Step's sampling behavior.
type Config struct {
	MeasurementWindow   time.Duration
	StableOffset        float64 // e.g. 0.10 for +/-10%
	MaxMeasurementCount int
	ModelName           string
	ModelVersion        int64
	BatchSize           int
	EnableProfiling     bool
	// Transport labels the metrics.RecordWorkerError counter, identifying
	// which inferclient implementation a worker failure came from.
	Transport string
}

// Loop drives one concurrency level's repeated measurement windows.
type Loop struct {
	Pool         workerpool.Pool
	StatusClient inferclient.Client
	Buffer       *tsbuffer.Buffer
	EarlyExit    *earlyexit.Flag
	Logger       *slog.Logger
	Config       Config
}

// Measure takes one sample: query server status, optionally profile,
// snapshot ContextStat, sleep the overshot window, snapshot again, drain
// the timestamp buffer, and summarize.
func (l *Loop) Measure(ctx context.Context) (model.PerfStatus, error) {
	startStatus, err := l.StatusClient.GetServerStatus(ctx, l.Config.ModelName)
	if err != nil {
		return model.PerfStatus{}, fmt.Errorf("query start server status: %w", err)
	}

	if l.Config.EnableProfiling {
		if err := l.StatusClient.StartProfile(ctx); err != nil {
			return model.PerfStatus{}, fmt.Errorf("start profile: %w", err)
		}
	}

	startStat := l.Pool.Stats()

	sleepFor := time.Duration(float64(l.Config.MeasurementWindow) * windowOvershoot)
	select {
	case <-time.After(sleepFor):
	case <-ctx.Done():
		return model.PerfStatus{}, ctx.Err()
	}

	endStat := l.Pool.Stats()

	if l.Config.EnableProfiling {
		// Per spec §9's open question, a faithful reimplementation may want
		// to propagate this error; we preserve the original's behavior of
		// not checking it on the stop-after-successful-start path.
		_ = l.StatusClient.StopProfile(ctx)
	}

	endStatus, err := l.StatusClient.GetServerStatus(ctx, l.Config.ModelName)
	if err != nil {
		return model.PerfStatus{}, fmt.Errorf("query end server status: %w", err)
	}

	pairs := l.Buffer.Drain()

	return summarizer.Summarize(summarizer.Input{
		Pairs:             pairs,
		MeasurementWindow: l.Config.MeasurementWindow,
		BatchSize:         l.Config.BatchSize,
		ModelName:         l.Config.ModelName,
		RequestedVersion:  l.Config.ModelVersion,
		StartStatus:       startStatus,
		EndStatus:         endStatus,
		StartStat:         startStat,
		EndStat:           endStat,
	})
}

// Step raises concurrency to targetConcurrency and repeatedly measures
// until the trailing-k samples are stable on both throughput and latency,
// early-exit is signalled, or MaxMeasurementCount samples have been taken.
func (l *Loop) Step(ctx context.Context, targetConcurrency int) (model.PerfStatus, error) {
	if err := l.Pool.EnsureConcurrency(ctx, targetConcurrency); err != nil {
		return model.PerfStatus{}, fmt.Errorf("ensure concurrency %d: %w", targetConcurrency, err)
	}

	stepStart := time.Now()
	defer func() { metrics.RecordStepDuration(time.Since(stepStart)) }()

	var (
		samples    []model.PerfStatus
		throughput []float64
		latency    []float64
	)

	for {
		if err := l.Pool.StatusErr(); err != nil {
			metrics.RecordWorkerError(l.Config.Transport)
			return model.PerfStatus{}, inferclient.New(inferclient.KindInternal, "Step", "failed to maintain concurrency", err)
		}
		if l.EarlyExit.IsSet() {
			return lastOrZero(samples), inferclient.New(inferclient.KindInternal, "Step", "early exit received", nil)
		}

		sample, err := l.Measure(ctx)
		if err != nil {
			return model.PerfStatus{}, fmt.Errorf("measure at concurrency %d: %w", targetConcurrency, err)
		}
		sample.Concurrency = targetConcurrency
		samples = append(samples, sample)
		throughput = append(throughput, sample.InferencesPerSecond)
		latency = append(latency, sample.AvgLatencyNs)

		stable := len(samples) >= recentK && isStable(throughput, latency, l.Config.StableOffset)
		metrics.RecordSample(targetConcurrency, sample.InferencesPerSecond, sample.AvgLatencyNs/1e6, stable)

		if stable {
			return sample, nil
		}
		if l.EarlyExit.IsSet() {
			return sample, inferclient.New(inferclient.KindInternal, "Step", "early exit received", nil)
		}
		if len(samples) >= l.Config.MaxMeasurementCount {
			l.logger().Warn("measurement did not stabilize before sample limit",
				slog.Int("concurrency", targetConcurrency),
				slog.Int("samples", len(samples)))
			return sample, nil
		}
	}
}

func lastOrZero(samples []model.PerfStatus) model.PerfStatus {
	if len(samples) == 0 {
		return model.PerfStatus{}
	}
	return samples[len(samples)-1]
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// isStable reports whether the last recentK entries of both series lie
// within +/-offset of their own trailing mean.
func isStable(throughput, latency []float64, offset float64) bool {
	return withinBand(throughput, offset) && withinBand(latency, offset)
}

func withinBand(series []float64, offset float64) bool {
	n := len(series)
	if n < recentK {
		return false
	}
	window := series[n-recentK:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(recentK)
	if mean == 0 {
		return true
	}
	for _, v := range window {
		if diff := (v - mean) / mean; diff > offset || diff < -offset {
			return false
		}
	}
	return true
}
