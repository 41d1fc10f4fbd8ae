// Package mockclient implements inferclient.Client deterministically for
// unit and end-to-end tests of the concurrency manager core, following the
// teacher's mock-collaborator pattern (see internal/service/provisioner's
// mock SSH verifier): a small struct with injectable behavior functions
// instead of a full fake server.
package mockclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// LatencyFunc computes the simulated request latency given the number of
// requests currently in flight across every Client sharing one ServerState
// (including the one being started).
type LatencyFunc func(inFlight int) time.Duration

// ConstantLatency always returns d.
func ConstantLatency(d time.Duration) LatencyFunc {
	return func(int) time.Duration { return d }
}

// ProportionalLatency returns perUnit*inFlight, letting tests simulate a
// server that degrades linearly with concurrency.
func ProportionalLatency(perUnit time.Duration) LatencyFunc {
	return func(inFlight int) time.Duration { return time.Duration(inFlight) * perUnit }
}

// OscillatingLatency alternates between base*(1-amplitude) and
// base*(1+amplitude) on successive calls, used to exercise the stability
// loop's rejection of an unstable signal.
func OscillatingLatency(base time.Duration, amplitude float64) LatencyFunc {
	var n int
	var mu sync.Mutex
	return func(int) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n%2 == 0 {
			return time.Duration(float64(base) * (1 + amplitude))
		}
		return time.Duration(float64(base) * (1 - amplitude))
	}
}

// Client is a deterministic in-memory inference client. The zero value is
// not usable; construct with New.
type Client struct {
	Latency   LatencyFunc
	MaxBatch  int
	ModelName string

	mu   sync.Mutex
	stat model.ContextStat

	pending map[inferclient.RequestID]time.Time // id -> start
	ready   chan inferclient.RequestID
	results map[inferclient.RequestID]inferclient.RunResult

	server *ServerState
}

// ServerState is the mutable, sweep-lifetime server counters a Client
// reports through GetServerStatus. Tests construct one and share it across
// every worker's Client so counters accumulate the way a real server's
// would.
type ServerState struct {
	mu     sync.Mutex
	status model.ModelStatus

	inFlight atomic.Int64 // requests in flight across every sharing Client
}

// NewServerState returns a ServerState with an empty version map for
// modelName at version 1.
func NewServerState(modelName string) *ServerState {
	return &ServerState{
		status: model.ModelStatus{
			ModelName: modelName,
			VersionStatus: map[int64]model.VersionStatus{
				1: {VersionID: 1, InferStats: map[int]model.BatchStats{}},
			},
		},
	}
}

// RecordCompletion folds one completed request's latency into the server's
// per-batch-size counters for version 1, split evenly between queue and
// compute time to keep the math simple for tests.
func (s *ServerState) RecordCompletion(batchSize int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.status.VersionStatus[1]
	bs := v.InferStats[batchSize]
	half := latency.Nanoseconds() / 2
	bs.Success.Count++
	bs.Success.TotalTimeNs += latency.Nanoseconds()
	bs.Queue.Count++
	bs.Queue.TotalTimeNs += half
	bs.Compute.Count++
	bs.Compute.TotalTimeNs += latency.Nanoseconds() - half
	v.InferStats[batchSize] = bs
	s.status.VersionStatus[1] = v
}

func (s *ServerState) snapshot() model.ModelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := model.ModelStatus{ModelName: s.status.ModelName, VersionStatus: map[int64]model.VersionStatus{}}
	for id, v := range s.status.VersionStatus {
		stats := map[int]model.BatchStats{}
		for bs, st := range v.InferStats {
			stats[bs] = st
		}
		out.VersionStatus[id] = model.VersionStatus{VersionID: v.VersionID, InferStats: stats}
	}
	return out
}

// New returns a Client backed by shared server state. maxBatch is the
// value NegotiateMaxBatchSize reports.
func New(server *ServerState, latency LatencyFunc, maxBatch int) *Client {
	return &Client{
		Latency:   latency,
		MaxBatch:  maxBatch,
		ModelName: server.status.ModelName,
		pending:   map[inferclient.RequestID]time.Time{},
		ready:     make(chan inferclient.RequestID, 4096),
		results:   map[inferclient.RequestID]inferclient.RunResult{},
		server:    server,
	}
}

func (c *Client) NegotiateMaxBatchSize(ctx context.Context, modelName string, modelVersion int64) (int, error) {
	return c.MaxBatch, nil
}

func (c *Client) Run(ctx context.Context, opts inferclient.RunOptions) (inferclient.RunResult, error) {
	if opts.BatchSize <= 0 {
		return inferclient.RunResult{}, inferclient.New(inferclient.KindInvalidArgument, "Run", "batch size must be > 0", nil)
	}
	n := int(c.server.inFlight.Add(1))

	d := c.Latency(n)
	time.Sleep(d)

	c.mu.Lock()
	c.server.inFlight.Add(-1)
	c.stat.CompletedRequestCount++
	c.stat.CumulativeTotalRequestNs += d.Nanoseconds()
	c.stat.CumulativeSendNs += d.Nanoseconds() / 10
	c.stat.CumulativeReceiveNs += d.Nanoseconds() / 10
	c.mu.Unlock()

	c.server.RecordCompletion(opts.BatchSize, d)
	return inferclient.RunResult{}, nil
}

func (c *Client) AsyncRun(ctx context.Context, opts inferclient.RunOptions) (inferclient.RequestID, error) {
	if opts.BatchSize <= 0 {
		return "", inferclient.New(inferclient.KindInvalidArgument, "AsyncRun", "batch size must be > 0", nil)
	}
	id := inferclient.RequestID(uuid.New().String())

	c.mu.Lock()
	n := int(c.server.inFlight.Add(1))
	c.pending[id] = time.Now()
	c.mu.Unlock()

	d := c.Latency(n)
	go func() {
		time.Sleep(d)

		c.mu.Lock()
		c.server.inFlight.Add(-1)
		c.stat.CompletedRequestCount++
		c.stat.CumulativeTotalRequestNs += d.Nanoseconds()
		c.stat.CumulativeSendNs += d.Nanoseconds() / 10
		c.stat.CumulativeReceiveNs += d.Nanoseconds() / 10
		c.results[id] = inferclient.RunResult{}
		c.mu.Unlock()

		c.server.RecordCompletion(opts.BatchSize, d)
		c.ready <- id
	}()

	return id, nil
}

func (c *Client) GetReadyAsyncRequest(ctx context.Context, blocking bool) (inferclient.RequestID, error) {
	if blocking {
		select {
		case id := <-c.ready:
			return id, nil
		case <-ctx.Done():
			return "", inferclient.New(inferclient.KindInternal, "GetReadyAsyncRequest", "context cancelled", ctx.Err())
		}
	}
	select {
	case id := <-c.ready:
		return id, nil
	default:
		return "", inferclient.New(inferclient.KindUnavailable, "GetReadyAsyncRequest", "no completion ready", nil)
	}
}

func (c *Client) GetAsyncRunResults(ctx context.Context, id inferclient.RequestID) (inferclient.RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	r, ok := c.results[id]
	if !ok {
		return inferclient.RunResult{}, inferclient.New(inferclient.KindInternal, "GetAsyncRunResults", fmt.Sprintf("unknown request id %s", id), nil)
	}
	delete(c.results, id)
	return r, nil
}

func (c *Client) GetStat(ctx context.Context) (model.ContextStat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stat, nil
}

func (c *Client) GetServerStatus(ctx context.Context, modelName string) (model.ModelStatus, error) {
	return c.server.snapshot(), nil
}

func (c *Client) StartProfile(ctx context.Context) error { return nil }
func (c *Client) StopProfile(ctx context.Context) error  { return nil }
func (c *Client) Close() error                           { return nil }

// PendingStartTime looks up id's recorded async start time, for tests that
// want to assert on pairwise-overlapping in-flight intervals.
func (c *Client) PendingStartTime(id inferclient.RequestID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pending[id]
	return t, ok
}
