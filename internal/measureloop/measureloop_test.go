package measureloop

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gpu-shopper/inferload/internal/earlyexit"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient/mockclient"
	"github.com/cloud-gpu-shopper/inferload/internal/pausegate"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/internal/workerpool"
)

func newSyncLoop(t *testing.T, latency mockclient.LatencyFunc, window time.Duration, maxSamples int) (*Loop, *workerpool.SyncPool) {
	t.Helper()
	server := mockclient.NewServerState("m")
	gate := pausegate.New()
	buf := tsbuffer.New()

	pool := workerpool.NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, latency, 8), nil
	}, workerpool.RequestTemplate{ModelName: "m", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, slog.Default())

	statusClient := mockclient.New(server, latency, 8)

	loop := &Loop{
		Pool:         pool,
		StatusClient: statusClient,
		Buffer:       buf,
		EarlyExit:    earlyexit.New(),
		Config: Config{
			MeasurementWindow:   window,
			StableOffset:        0.10,
			MaxMeasurementCount: maxSamples,
			ModelName:           "m",
			ModelVersion:        1,
			BatchSize:           1,
		},
	}
	return loop, pool
}

func TestStepFixedConcurrencyConstantLatency(t *testing.T) {
	loop, pool := newSyncLoop(t, mockclient.ConstantLatency(10*time.Millisecond), 200*time.Millisecond, 10)
	defer pool.Shutdown()

	sample, err := loop.Step(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, sample.Concurrency)
	assert.InDelta(t, 10_000_000, sample.AvgLatencyNs, 5_000_000)
}

func TestStepAbortsWhenWorkerFails(t *testing.T) {
	server := mockclient.NewServerState("m")
	gate := pausegate.New()
	buf := tsbuffer.New()

	pool := workerpool.NewSyncPool(func(idx int) (inferclient.Client, error) {
		return &failingAfterOne{Client: mockclient.New(server, mockclient.ConstantLatency(time.Millisecond), 8)}, nil
	}, workerpool.RequestTemplate{ModelName: "m", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, nil)
	defer pool.Shutdown()

	loop := &Loop{
		Pool:         pool,
		StatusClient: mockclient.New(server, mockclient.ConstantLatency(time.Millisecond), 8),
		Buffer:       buf,
		EarlyExit:    earlyexit.New(),
		Config: Config{
			MeasurementWindow:   50 * time.Millisecond,
			StableOffset:        0.10,
			MaxMeasurementCount: 10,
			ModelName:           "m",
			ModelVersion:        1,
			BatchSize:           1,
		},
	}

	_, err := loop.Step(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, inferclient.IsInternal(err))
	assert.Contains(t, err.Error(), "failed to maintain concurrency")
}

func TestStepUnstableReturnsLastSampleWithWarning(t *testing.T) {
	loop, pool := newSyncLoop(t, mockclient.OscillatingLatency(20*time.Millisecond, 0.2), 30*time.Millisecond, 5)
	defer pool.Shutdown()

	sample, err := loop.Step(context.Background(), 2)
	require.NoError(t, err) // unstable is a warning, not an error
	assert.Greater(t, sample.ClientRequestCount, int64(0))
}

func TestStepEarlyExit(t *testing.T) {
	loop, pool := newSyncLoop(t, mockclient.ConstantLatency(5*time.Millisecond), 300*time.Millisecond, 20)
	defer pool.Shutdown()

	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.EarlyExit.Set()
	}()

	_, err := loop.Step(context.Background(), 4)
	require.Error(t, err)
	assert.True(t, inferclient.IsInternal(err))
}

// failingAfterOne wraps a client so its Run fails after the first call,
// exercising the "worker failed to maintain concurrency" abort path.
type failingAfterOne struct {
	inferclient.Client
	calls int
}

func (f *failingAfterOne) Run(ctx context.Context, opts inferclient.RunOptions) (inferclient.RunResult, error) {
	f.calls++
	if f.calls > 1 {
		return inferclient.RunResult{}, inferclient.New(inferclient.KindServerError, "Run", "simulated failure", nil)
	}
	return f.Client.Run(ctx, opts)
}
