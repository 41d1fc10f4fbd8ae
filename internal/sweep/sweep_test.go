package sweep

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloud-gpu-shopper/inferload/internal/earlyexit"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient/mockclient"
	"github.com/cloud-gpu-shopper/inferload/internal/measureloop"
	"github.com/cloud-gpu-shopper/inferload/internal/pausegate"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/internal/workerpool"
)

func TestDynamicSweepStopsAtLatencyThreshold(t *testing.T) {
	server := mockclient.NewServerState("m")
	gate := pausegate.New()
	buf := tsbuffer.New()

	latency := mockclient.ProportionalLatency(5 * time.Millisecond)
	pool := workerpool.NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, latency, 32), nil
	}, workerpool.RequestTemplate{ModelName: "m", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, slog.Default())
	defer pool.Shutdown()

	loop := &measureloop.Loop{
		Pool:         pool,
		StatusClient: mockclient.New(server, latency, 32),
		Buffer:       buf,
		EarlyExit:    earlyexit.New(),
		Config: measureloop.Config{
			MeasurementWindow:   40 * time.Millisecond,
			StableOffset:        0.5,
			MaxMeasurementCount: 3,
			ModelName:           "m",
			ModelVersion:        1,
			BatchSize:           1,
		},
	}

	res := Run(context.Background(), loop, Config{
		Mode:               ModeDynamic,
		StartConcurrency:   1,
		LatencyThresholdMs: 20,
		MaxConcurrency:     0,
	})

	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.Samples)
	last := res.Samples[len(res.Samples)-1]
	assert.GreaterOrEqual(t, last.AvgLatencyNs/1e6, 20.0)
}

func TestFixedSweepSingleStep(t *testing.T) {
	server := mockclient.NewServerState("m")
	gate := pausegate.New()
	buf := tsbuffer.New()

	latency := mockclient.ConstantLatency(5 * time.Millisecond)
	pool := workerpool.NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, latency, 8), nil
	}, workerpool.RequestTemplate{ModelName: "m", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, nil)
	defer pool.Shutdown()

	loop := &measureloop.Loop{
		Pool:         pool,
		StatusClient: mockclient.New(server, latency, 8),
		Buffer:       buf,
		EarlyExit:    earlyexit.New(),
		Config: measureloop.Config{
			MeasurementWindow:   50 * time.Millisecond,
			StableOffset:        0.2,
			MaxMeasurementCount: 5,
			ModelName:           "m",
			ModelVersion:        1,
			BatchSize:           1,
		},
	}

	res := Run(context.Background(), loop, Config{Mode: ModeFixed, StartConcurrency: 4})
	assert.NoError(t, res.Err)
	assert.Len(t, res.Samples, 1)
}

func TestDynamicSweepStopsPastMaxConcurrency(t *testing.T) {
	server := mockclient.NewServerState("m")
	gate := pausegate.New()
	buf := tsbuffer.New()
	latency := mockclient.ConstantLatency(5 * time.Millisecond)

	pool := workerpool.NewSyncPool(func(idx int) (inferclient.Client, error) {
		return mockclient.New(server, latency, 8), nil
	}, workerpool.RequestTemplate{ModelName: "m", BatchSize: 1, InputBytes: []byte("x")}, gate, buf, nil)

	loop := &measureloop.Loop{
		Pool:         pool,
		StatusClient: mockclient.New(server, latency, 8),
		Buffer:       buf,
		EarlyExit:    earlyexit.New(),
		Config: measureloop.Config{
			MeasurementWindow:   30 * time.Millisecond,
			StableOffset:        0.2,
			MaxMeasurementCount: 3,
			ModelName:           "m",
			ModelVersion:        1,
			BatchSize:           1,
		},
	}

	res := Run(context.Background(), loop, Config{
		Mode:               ModeDynamic,
		StartConcurrency:   1,
		LatencyThresholdMs: 1_000_000, // effectively unreachable
		MaxConcurrency:     2,
	})

	pool.Shutdown()
	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.Samples)
}
