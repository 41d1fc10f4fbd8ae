// Package summarizer implements spec §4.6: converting one measurement
// sample's drained timestamp pairs, server-status delta, and ContextStat
// delta into a PerfStatus record.
package summarizer

import (
	"fmt"
	"math"
	"time"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Input bundles everything one call to Summarize needs.
type Input struct {
	Pairs             []model.TimestampPair
	MeasurementWindow time.Duration
	Concurrency       int
	BatchSize         int
	ModelName         string
	// RequestedVersion is the CLI-configured model version, or -1 for
	// "latest".
	RequestedVersion int64

	StartStatus model.ModelStatus
	EndStatus   model.ModelStatus
	StartStat   model.ContextStat
	EndStat     model.ContextStat
}

// Summarize is idempotent on a fixed Input: calling it twice with the same
// arguments produces byte-identical PerfStatus values (no hidden clocks or
// randomness are consulted).
func Summarize(in Input) (model.PerfStatus, error) {
	if len(in.Pairs) == 0 {
		return model.PerfStatus{}, inferclient.New(inferclient.KindInternal, "Summarize", "no timestamps in drained buffer", nil)
	}

	firstStart, lastEnd := windowSpan(in.Pairs)
	windowLen := in.MeasurementWindow.Nanoseconds()

	offset := (int64(lastEnd) - int64(firstStart) - windowLen) / 2
	if offset < 0 {
		offset = 0
	}
	clientStart := model.Timestamp(int64(firstStart) + offset)
	clientEnd := model.Timestamp(int64(clientStart) + windowLen)

	var (
		count                        int64
		sumLatencyNs, sumLatencySqUs float64
		minLatencyNs, maxLatencyNs   int64
		first                        = true
	)

	for _, p := range in.Pairs {
		if p.End < clientStart || p.End > clientEnd {
			continue
		}
		latNs := p.Latency().Nanoseconds()
		count++
		sumLatencyNs += float64(latNs)
		latUs := float64(latNs) / 1000.0
		sumLatencySqUs += latUs * latUs

		if first {
			minLatencyNs, maxLatencyNs = latNs, latNs
			first = false
		} else {
			if latNs < minLatencyNs {
				minLatencyNs = latNs
			}
			if latNs > maxLatencyNs {
				maxLatencyNs = latNs
			}
		}
	}

	if count == 0 {
		return model.PerfStatus{}, inferclient.New(inferclient.KindInternal, "Summarize", "no valid requests in measurement window", nil)
	}

	durationNs := int64(clientEnd) - int64(clientStart)
	avgLatencyNs := sumLatencyNs / float64(count)

	meanUs := (sumLatencyNs / 1000.0) / float64(count)
	variance := sumLatencySqUs/float64(count) - meanUs*meanUs
	if variance < 0 {
		variance = 0
	}
	stdDevUs := math.Sqrt(variance)

	batchSize := in.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	infPerSec := float64(count) * float64(batchSize) * 1e9 / float64(durationNs)

	statDelta := in.EndStat.Sub(in.StartStat)
	var avgSend, avgRecv, avgReq float64
	if statDelta.CompletedRequestCount > 0 {
		n := float64(statDelta.CompletedRequestCount)
		avgSend = float64(statDelta.CumulativeSendNs) / n
		avgRecv = float64(statDelta.CumulativeReceiveNs) / n
		avgReq = float64(statDelta.CumulativeTotalRequestNs) / n
	}

	version, err := resolveVersion(in.EndStatus, in.RequestedVersion)
	if err != nil {
		return model.PerfStatus{}, err
	}

	endBatch, ok := batchStats(in.EndStatus, version, batchSize)
	if !ok {
		return model.PerfStatus{}, inferclient.New(inferclient.KindInternal, "Summarize",
			fmt.Sprintf("missing inference stats for model %s version %d batch size %d", in.ModelName, version, batchSize), nil)
	}
	// start_status may lack the entry entirely (e.g. version rollover
	// mid-window per spec §9's open question); default to zero deltas.
	startBatch, _ := batchStats(in.StartStatus, version, batchSize)

	successDelta := endBatch.Success.Sub(startBatch.Success)
	queueDelta := endBatch.Queue.Sub(startBatch.Queue)
	computeDelta := endBatch.Compute.Sub(startBatch.Compute)

	return model.PerfStatus{
		Concurrency:         in.Concurrency,
		BatchSize:           batchSize,
		ModelName:           in.ModelName,
		ModelVersion:        version,
		ServerRequestCount:  successDelta.Count,
		ServerCummTimeNs:    successDelta.TotalTimeNs,
		ServerQueueTimeNs:   queueDelta.TotalTimeNs,
		ServerComputeTimeNs: computeDelta.TotalTimeNs,
		ClientRequestCount:  count,
		ClientDurationNs:    durationNs,
		MinLatencyNs:        minLatencyNs,
		MaxLatencyNs:        maxLatencyNs,
		AvgLatencyNs:        avgLatencyNs,
		StdDevUs:            stdDevUs,
		AvgSendNs:           avgSend,
		AvgReceiveNs:        avgRecv,
		AvgRequestNs:        avgReq,
		InferencesPerSecond: infPerSec,
	}, nil
}

func windowSpan(pairs []model.TimestampPair) (first, last model.Timestamp) {
	first, last = pairs[0].Start, pairs[0].End
	for _, p := range pairs[1:] {
		if p.Start < first {
			first = p.Start
		}
		if p.End > last {
			last = p.End
		}
	}
	return first, last
}

func resolveVersion(status model.ModelStatus, requested int64) (int64, error) {
	if requested != -1 {
		return requested, nil
	}
	v, ok := status.LatestVersion()
	if !ok {
		return 0, inferclient.New(inferclient.KindInternal, "Summarize", "no model versions reported by server", nil)
	}
	return v, nil
}

func batchStats(status model.ModelStatus, version int64, batchSize int) (model.BatchStats, bool) {
	v, ok := status.VersionStatus[version]
	if !ok {
		return model.BatchStats{}, false
	}
	bs, ok := v.InferStats[batchSize]
	return bs, ok
}
