// Package report renders a sweep's measurement samples as a human-readable
// stdout summary and a CSV file, following the shape of the teacher's
// report-generator package (test/benchmark/reports): one write function per
// sink, WriteSummary for stdout and WriteCSV for the file.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// csvHeader is the fixed column order a sweep's CSV output always uses,
// independent of transport (http/grpc) or mode (fixed/dynamic).
var csvHeader = []string{
	"Concurrency",
	"Inferences/Second",
	"Client Send",
	"Network+Server Send/Recv",
	"Server Queue",
	"Server Compute",
	"Client Recv",
}

// WriteCSV writes samples as CSV to w, sorted ascending by
// inferences-per-second, with every time column in microseconds.
func WriteCSV(w io.Writer, samples []model.PerfStatus) error {
	sorted := make([]model.PerfStatus, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].InferencesPerSecond < sorted[j].InferencesPerSecond
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range sorted {
		overheadUs, avgQueueUs, avgComputeUs := serverAverages(s)

		row := []string{
			strconv.Itoa(s.Concurrency),
			formatFloat(s.InferencesPerSecond),
			formatFloat(s.AvgSendNs / 1000),
			formatFloat(overheadUs),
			formatFloat(avgQueueUs),
			formatFloat(avgComputeUs),
			formatFloat(s.AvgReceiveNs / 1000),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// serverAverages returns one sample's server-side overhead (network plus
// any server time not accounted for by queue/compute), queue, and compute
// averages in microseconds - the same split WriteCSV's columns render.
func serverAverages(s model.PerfStatus) (overheadUs, queueUs, computeUs float64) {
	if s.ServerRequestCount > 0 {
		queueUs = float64(s.ServerQueueTimeNs) / float64(s.ServerRequestCount) / 1000
		computeUs = float64(s.ServerComputeTimeNs) / float64(s.ServerRequestCount) / 1000
	}
	overheadUs = s.AvgLatencyNs/1000 - s.AvgSendNs/1000 - queueUs - computeUs - s.AvgReceiveNs/1000
	return overheadUs, queueUs, computeUs
}

// WriteSummary writes a per-step human-readable breakdown to w: request
// count, throughput, average latency with standard deviation, the
// transport-specific client-library send/receive/request-wait breakdown,
// and the server-side overhead/queue/compute split, one sample per block
// in sweep order.
func WriteSummary(w io.Writer, transport string, samples []model.PerfStatus) error {
	for _, s := range samples {
		_, err := fmt.Fprintf(w,
			"concurrency=%d transport=%s requests=%d inferences/sec=%.2f avg_latency=%.2fms stddev=%.2fus\n",
			s.Concurrency, transport, s.ClientRequestCount, s.InferencesPerSecond,
			s.AvgLatencyNs/1e6, s.StdDevUs)
		if err != nil {
			return err
		}

		if err := writeClientBreakdown(w, transport, s); err != nil {
			return err
		}

		overheadUs, queueUs, computeUs := serverAverages(s)
		_, err = fmt.Fprintf(w, "  server: overhead=%.2fus queue=%.2fus compute=%.2fus\n", overheadUs, queueUs, computeUs)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeClientBreakdown renders the send/receive/request-wait split, worded
// per transport since gRPC has no separate "request wait" concept the way
// a blocking HTTP round trip does - it waits on the channel instead.
func writeClientBreakdown(w io.Writer, transport string, s model.PerfStatus) error {
	waitNs := s.AvgRequestNs - s.AvgSendNs - s.AvgReceiveNs
	if waitNs < 0 {
		waitNs = 0
	}

	switch transport {
	case "grpc":
		_, err := fmt.Fprintf(w, "  grpc client: send=%.0fns channel_wait=%.0fns recv=%.0fns\n", s.AvgSendNs, waitNs, s.AvgReceiveNs)
		return err
	default:
		_, err := fmt.Fprintf(w, "  http client: send=%.0fns request_wait=%.0fns recv=%.0fns\n", s.AvgSendNs, waitNs, s.AvgReceiveNs)
		return err
	}
}
