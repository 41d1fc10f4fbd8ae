package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient/mockclient"
	"github.com/cloud-gpu-shopper/inferload/internal/pausegate"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

func TestSyncPoolSpawnsWorkersOnce(t *testing.T) {
	server := mockclient.NewServerState("test-model")
	gate := pausegate.New()
	buf := tsbuffer.New()

	pool := NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, mockclient.ConstantLatency(5*time.Millisecond), 8), nil
	}, RequestTemplate{ModelName: "test-model", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, nil)

	ctx := context.Background()
	require.NoError(t, pool.EnsureConcurrency(ctx, 4))
	assert.Equal(t, 4, pool.WorkerCount())

	// Lowering concurrency must not destroy workers.
	require.NoError(t, pool.EnsureConcurrency(ctx, 2))
	assert.Equal(t, 4, pool.WorkerCount())

	require.NoError(t, pool.EnsureConcurrency(ctx, 6))
	assert.Equal(t, 6, pool.WorkerCount())

	pool.Shutdown()
	assert.NoError(t, pool.StatusErr())
}

func TestSyncPoolRejectsOversizedBatch(t *testing.T) {
	server := mockclient.NewServerState("test-model")
	gate := pausegate.New()
	buf := tsbuffer.New()

	pool := NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, mockclient.ConstantLatency(time.Millisecond), 4), nil
	}, RequestTemplate{ModelName: "test-model", BatchSize: 8, InputBytes: []byte("x")}, gate, buf, nil)

	err := pool.EnsureConcurrency(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, inferclient.IsInvalidArgument(err))
}

func TestSyncPoolDrivesLoadAndAppendsTimestamps(t *testing.T) {
	server := mockclient.NewServerState("test-model")
	gate := pausegate.New()
	buf := tsbuffer.New()

	pool := NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, mockclient.ConstantLatency(5*time.Millisecond), 8), nil
	}, RequestTemplate{ModelName: "test-model", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, nil)

	require.NoError(t, pool.EnsureConcurrency(context.Background(), 4))
	time.Sleep(200 * time.Millisecond)
	pool.Shutdown()

	assert.Greater(t, buf.Len(), 0)
	stat := pool.Stats()
	assert.Greater(t, stat.CompletedRequestCount, int64(0))
}

func TestSyncPoolAbortsOnWorkerFailure(t *testing.T) {
	gate := pausegate.New()
	buf := tsbuffer.New()

	failing := &alwaysFailClient{maxBatch: 8}
	pool := NewSyncPool(func(idx int) (inferclient.Client, error) {
		return failing, nil
	}, RequestTemplate{ModelName: "test-model", BatchSize: 1}, gate, buf, nil)

	require.NoError(t, pool.EnsureConcurrency(context.Background(), 1))
	time.Sleep(50 * time.Millisecond)

	err := pool.StatusErr()
	require.Error(t, err)
	pool.Shutdown()
}

type alwaysFailClient struct{ maxBatch int }

func (c *alwaysFailClient) NegotiateMaxBatchSize(ctx context.Context, name string, ver int64) (int, error) {
	return c.maxBatch, nil
}
func (c *alwaysFailClient) Run(ctx context.Context, opts inferclient.RunOptions) (inferclient.RunResult, error) {
	return inferclient.RunResult{}, inferclient.New(inferclient.KindServerError, "Run", "boom", nil)
}
func (c *alwaysFailClient) AsyncRun(ctx context.Context, opts inferclient.RunOptions) (inferclient.RequestID, error) {
	return "", inferclient.New(inferclient.KindServerError, "AsyncRun", "boom", nil)
}
func (c *alwaysFailClient) GetReadyAsyncRequest(ctx context.Context, blocking bool) (inferclient.RequestID, error) {
	return "", inferclient.New(inferclient.KindUnavailable, "GetReadyAsyncRequest", "none", nil)
}
func (c *alwaysFailClient) GetAsyncRunResults(ctx context.Context, id inferclient.RequestID) (inferclient.RunResult, error) {
	return inferclient.RunResult{}, nil
}
func (c *alwaysFailClient) GetStat(ctx context.Context) (model.ContextStat, error) {
	return model.ContextStat{}, nil
}
func (c *alwaysFailClient) GetServerStatus(ctx context.Context, modelName string) (model.ModelStatus, error) {
	return model.ModelStatus{}, nil
}
func (c *alwaysFailClient) StartProfile(ctx context.Context) error { return nil }
func (c *alwaysFailClient) StopProfile(ctx context.Context) error  { return nil }
func (c *alwaysFailClient) Close() error                           { return nil }
