// Package httpclient implements inferclient.Client over plain JSON/HTTP,
// following the request-construction and response-draining style of the
// teacher's streaming TTFT benchmark client: a shared *http.Client with a
// fixed timeout, json.Marshal'd request bodies, and explicit status-code
// checks before decoding a response.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Config parameterizes one Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a JSON/HTTP implementation of inferclient.Client. A Client is
// not safe for use by more than one worker's Run loop concurrently because
// it tracks its own cumulative ContextStat, matching the one-client-per-
// worker lifecycle the synchronous pool assumes.
type Client struct {
	http    *http.Client
	baseURL string

	mu      sync.Mutex
	stat    model.ContextStat
	pending map[inferclient.RequestID]struct{}
}

// New returns an HTTP client pointed at cfg.BaseURL. A zero Timeout
// defaults to 60s, matching the teacher's streaming benchmark client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		pending: map[inferclient.RequestID]struct{}{},
	}
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

type asyncPollResponse struct {
	RequestID string `json:"request_id"`
	Ready     bool   `json:"ready"`
}

type configResponse struct {
	MaxBatchSize int `json:"max_batch_size"`
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// doJSON issues req, expects 200, and decodes the body into out (if out is
// non-nil). Non-200 responses are read fully and reported as a
// KindServerError so the caller can distinguish them from transport
// failures.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return inferclient.New(inferclient.KindInternal, "doJSON", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return inferclient.New(inferclient.KindServerError, "doJSON",
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return inferclient.New(inferclient.KindInternal, "doJSON", "decode response", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return inferclient.New(inferclient.KindInvalidArgument, "post", "encode request", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), reader)
	if err != nil {
		return inferclient.New(inferclient.KindInternal, "post", "build request", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return inferclient.New(inferclient.KindInternal, "get", "build request", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) NegotiateMaxBatchSize(ctx context.Context, modelName string, modelVersion int64) (int, error) {
	var out configResponse
	path := fmt.Sprintf("/v1/models/%s/versions/%d/config", modelName, modelVersion)
	if err := c.get(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.MaxBatchSize, nil
}

func (c *Client) Run(ctx context.Context, opts inferclient.RunOptions) (inferclient.RunResult, error) {
	if opts.BatchSize <= 0 {
		return inferclient.RunResult{}, inferclient.New(inferclient.KindInvalidArgument, "Run", "batch size must be > 0", nil)
	}

	start := time.Now()
	var out inferResponse
	err := c.post(ctx, "/v1/infer", inferRequest{
		ModelName:    opts.ModelName,
		ModelVersion: opts.ModelVersion,
		BatchSize:    opts.BatchSize,
		Input:        opts.InputBytes,
	}, &out)
	elapsed := time.Since(start)
	if err != nil {
		return inferclient.RunResult{}, err
	}

	c.recordCompletion(elapsed)
	return inferclient.RunResult{OutputBytes: out.Output}, nil
}

func (c *Client) recordCompletion(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stat.CompletedRequestCount++
	c.stat.CumulativeTotalRequestNs += elapsed.Nanoseconds()
	// The JSON/HTTP transport does not separately time the send and
	// receive legs of a round trip; split the elapsed time evenly between
	// them so report output has something plausible to show.
	c.stat.CumulativeSendNs += elapsed.Nanoseconds() / 2
	c.stat.CumulativeReceiveNs += elapsed.Nanoseconds() / 2
}

func (c *Client) AsyncRun(ctx context.Context, opts inferclient.RunOptions) (inferclient.RequestID, error) {
	if opts.BatchSize <= 0 {
		return "", inferclient.New(inferclient.KindInvalidArgument, "AsyncRun", "batch size must be > 0", nil)
	}

	var out asyncSubmitResponse
	err := c.post(ctx, "/v1/infer_async", inferRequest{
		ModelName:    opts.ModelName,
		ModelVersion: opts.ModelVersion,
		BatchSize:    opts.BatchSize,
		Input:        opts.InputBytes,
	}, &out)
	if err != nil {
		return "", err
	}

	id := inferclient.RequestID(out.RequestID)
	if id == "" {
		id = inferclient.RequestID(uuid.New().String())
	}
	c.mu.Lock()
	c.pending[id] = struct{}{}
	c.mu.Unlock()
	return id, nil
}

// GetReadyAsyncRequest polls the server for a completed request. In
// blocking mode it backs off with pollInterval between attempts instead of
// holding the connection open, since the server exposes no streaming
// completion channel.
func (c *Client) GetReadyAsyncRequest(ctx context.Context, blocking bool) (inferclient.RequestID, error) {
	const pollInterval = 50 * time.Millisecond
	for {
		var out asyncPollResponse
		if err := c.get(ctx, "/v1/async/next", &out); err != nil {
			return "", err
		}
		if out.Ready {
			return inferclient.RequestID(out.RequestID), nil
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
	var out inferResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/async/%s/result", id), &out); err != nil {
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
	return inferclient.RunResult{OutputBytes: out.Output}, nil
}

func (c *Client) GetStat(ctx context.Context) (model.ContextStat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stat, nil
}

type serverStatusResponse struct {
	ModelName     string                           `json:"model_name"`
	VersionStatus map[string]versionStatusResponse `json:"version_status"`
}

type versionStatusResponse struct {
	VersionID  int64                          `json:"version_id"`
	InferStats map[string]batchStatsResponse `json:"infer_stats"`
}

type batchStatsResponse struct {
	Success timeCountResponse `json:"success"`
	Queue   timeCountResponse `json:"queue"`
	Compute timeCountResponse `json:"compute"`
}

type timeCountResponse struct {
	Count       int64 `json:"count"`
	TotalTimeNs int64 `json:"total_time_ns"`
}

func (c *Client) GetServerStatus(ctx context.Context, modelName string) (model.ModelStatus, error) {
	var out serverStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/models/%s/status", modelName), &out); err != nil {
		return model.ModelStatus{}, err
	}

	status := model.ModelStatus{ModelName: out.ModelName, VersionStatus: map[int64]model.VersionStatus{}}
	for vidStr, v := range out.VersionStatus {
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
			stats[batchSize] = model.BatchStats{
				Success: model.TimeCount(bs.Success),
				Queue:   model.TimeCount(bs.Queue),
				Compute: model.TimeCount(bs.Compute),
			}
		}
		status.VersionStatus[vid] = model.VersionStatus{VersionID: v.VersionID, InferStats: stats}
	}
	return status, nil
}

func (c *Client) StartProfile(ctx context.Context) error {
	return c.post(ctx, "/v1/profile/start", nil, nil)
}

func (c *Client) StopProfile(ctx context.Context) error {
	return c.post(ctx, "/v1/profile/stop", nil, nil)
}

func (c *Client) Close() error {
	return nil
}
