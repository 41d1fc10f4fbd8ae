// Package grpcclient implements inferclient.Client over a gRPC channel
// using a custom JSON codec (see codec.go) instead of protoc-generated
// message types, so the concurrency manager core can drive a real gRPC
// server without a build-time code generation step.
package grpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Config parameterizes one Client.
type Config struct {
	Target string // host:port
}

// Client is a gRPC implementation of inferclient.Client. Like httpclient,
// one Client is owned by exactly one synchronous worker for its lifetime.
type Client struct {
	conn *grpc.ClientConn

	mu      sync.Mutex
	stat    model.ContextStat
	pending map[inferclient.RequestID]struct{}
}

// New dials cfg.Target and returns a ready Client. The dial is non-blocking
// (grpc.NewClient does not establish the connection until first use), so
// callers still see connection failures surfaced through the first RPC's
// error rather than through New's return value.
func New(cfg Config) (*Client, error) {
	conn, err := grpc.NewClient(cfg.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, inferclient.New(inferclient.KindInternal, "New", "dial failed", err)
	}
	return &Client{conn: conn, pending: map[inferclient.RequestID]struct{}{}}, nil
}

type inferRequest struct {
	ModelName    string `json:"model_name"`
	ModelVersion int64  `json:"model_version"`
	BatchSize    int    `json:"batch_size"`
	Input        []byte `json:"input"`
}

type inferResponse struct {
	Output []byte `json:"output"`
}

type asyncSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type asyncPollRequest struct {
	Blocking bool `json:"blocking"`
}

type asyncPollResponse struct {
	RequestID string `json:"request_id"`
	Ready     bool   `json:"ready"`
}

type resultRequest struct {
	RequestID string `json:"request_id"`
}

type statusRequest struct {
	ModelName string `json:"model_name"`
}

type configRequest struct {
	ModelName    string `json:"model_name"`
	ModelVersion int64  `json:"model_version"`
}

type configResponse struct {
	MaxBatchSize int `json:"max_batch_size"`
}

type serverStatusResponse struct {
	ModelName     string                           `json:"model_name"`
	VersionStatus map[string]versionStatusResponse `json:"version_status"`
}

type versionStatusResponse struct {
	VersionID  int64                         `json:"version_id"`
	InferStats map[string]batchStatsResponse `json:"infer_stats"`
}

type batchStatsResponse struct {
	Success model.TimeCount `json:"success"`
	Queue   model.TimeCount `json:"queue"`
	Compute model.TimeCount `json:"compute"`
}

type empty struct{}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return inferclient.New(inferclient.KindServerError, method, "rpc failed", err)
	}
	return nil
}

func (c *Client) NegotiateMaxBatchSize(ctx context.Context, modelName string, modelVersion int64) (int, error) {
	var resp configResponse
	err := c.invoke(ctx, "/inferload.InferenceService/GetConfig",
		&configRequest{ModelName: modelName, ModelVersion: modelVersion}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.MaxBatchSize, nil
}

func (c *Client) Run(ctx context.Context, opts inferclient.RunOptions) (inferclient.RunResult, error) {
	if opts.BatchSize <= 0 {
		return inferclient.RunResult{}, inferclient.New(inferclient.KindInvalidArgument, "Run", "batch size must be > 0", nil)
	}

	start := time.Now()
	var resp inferResponse
	err := c.invoke(ctx, "/inferload.InferenceService/Run", &inferRequest{
		ModelName:    opts.ModelName,
		ModelVersion: opts.ModelVersion,
		BatchSize:    opts.BatchSize,
		Input:        opts.InputBytes,
	}, &resp)
	elapsed := time.Since(start)
	if err != nil {
		return inferclient.RunResult{}, err
	}

	c.recordCompletion(elapsed)
	return inferclient.RunResult{OutputBytes: resp.Output}, nil
}

func (c *Client) recordCompletion(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stat.CompletedRequestCount++
	c.stat.CumulativeTotalRequestNs += elapsed.Nanoseconds()
	c.stat.CumulativeSendNs += elapsed.Nanoseconds() / 2
	c.stat.CumulativeReceiveNs += elapsed.Nanoseconds() / 2
}

func (c *Client) AsyncRun(ctx context.Context, opts inferclient.RunOptions) (inferclient.RequestID, error) {
	if opts.BatchSize <= 0 {
		return "", inferclient.New(inferclient.KindInvalidArgument, "AsyncRun", "batch size must be > 0", nil)
	}

	var resp asyncSubmitResponse
	err := c.invoke(ctx, "/inferload.InferenceService/AsyncRun", &inferRequest{
		ModelName:    opts.ModelName,
		ModelVersion: opts.ModelVersion,
		BatchSize:    opts.BatchSize,
		Input:        opts.InputBytes,
	}, &resp)
	if err != nil {
		return "", err
	}

	id := inferclient.RequestID(resp.RequestID)
	if id == "" {
		id = inferclient.RequestID(uuid.New().String())
	}
	c.mu.Lock()
	c.pending[id] = struct{}{}
	c.mu.Unlock()
	return id, nil
}

func (c *Client) GetReadyAsyncRequest(ctx context.Context, blocking bool) (inferclient.RequestID, error) {
	const pollInterval = 50 * time.Millisecond
	for {
		var resp asyncPollResponse
		if err := c.invoke(ctx, "/inferload.InferenceService/PollAsync", &asyncPollRequest{Blocking: blocking}, &resp); err != nil {
			return "", err
		}
		if resp.Ready {
			return inferclient.RequestID(resp.RequestID), nil
		}
		if !blocking {
			return "", inferclient.New(inferclient.KindUnavailable, "GetReadyAsyncRequest", "no completion ready", nil)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return "", inferclient.New(inferclient.KindInternal, "GetReadyAsyncRequest", "context cancelled", ctx.Err())
		}
	}
}

func (c *Client) GetAsyncRunResults(ctx context.Context, id inferclient.RequestID) (inferclient.RunResult, error) {
	start := time.Now()
	var resp inferResponse
	if err := c.invoke(ctx, "/inferload.InferenceService/GetResult", &resultRequest{RequestID: string(id)}, &resp); err != nil {
		return inferclient.RunResult{}, err
	}

	c.mu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return inferclient.RunResult{}, inferclient.New(inferclient.KindInternal, "GetAsyncRunResults", fmt.Sprintf("unknown request id %s", id), nil)
	}

	c.recordCompletion(time.Since(start))
	return inferclient.RunResult{OutputBytes: resp.Output}, nil
}

func (c *Client) GetStat(ctx context.Context) (model.ContextStat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stat, nil
}

func (c *Client) GetServerStatus(ctx context.Context, modelName string) (model.ModelStatus, error) {
	var resp serverStatusResponse
	if err := c.invoke(ctx, "/inferload.InferenceService/GetStatus", &statusRequest{ModelName: modelName}, &resp); err != nil {
		return model.ModelStatus{}, err
	}

	status := model.ModelStatus{ModelName: resp.ModelName, VersionStatus: map[int64]model.VersionStatus{}}
	for vidStr, v := range resp.VersionStatus {
		var vid int64
		if _, err := fmt.Sscanf(vidStr, "%d", &vid); err != nil {
			continue
		}
		stats := map[int]model.BatchStats{}
		for bsStr, bs := range v.InferStats {
			var batchSize int
			if _, err := fmt.Sscanf(bsStr, "%d", &batchSize); err != nil {
				continue
			}
			stats[batchSize] = model.BatchStats{Success: bs.Success, Queue: bs.Queue, Compute: bs.Compute}
		}
		status.VersionStatus[vid] = model.VersionStatus{VersionID: v.VersionID, InferStats: stats}
	}
	return status, nil
}

func (c *Client) StartProfile(ctx context.Context) error {
	return c.invoke(ctx, "/inferload.InferenceService/StartProfile", &empty{}, &empty{})
}

func (c *Client) StopProfile(ctx context.Context) error {
	return c.invoke(ctx, "/inferload.InferenceService/StopProfile", &empty{}, &empty{})
}

func (c *Client) Close() error {
	return c.conn.Close()
}
