// Command inferload drives a concurrency sweep against a remote inference
// server and reports the measured throughput/latency tradeoff, following
// the teacher's CLI shape (cmd/cli/cmd and test/benchmark/cmd/benchmark):
// a single cobra root command, viper/pflag-backed configuration, and
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloud-gpu-shopper/inferload/internal/config"
	"github.com/cloud-gpu-shopper/inferload/internal/earlyexit"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient/grpcclient"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient/httpclient"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient/mockclient"
	"github.com/cloud-gpu-shopper/inferload/internal/logging"
	"github.com/cloud-gpu-shopper/inferload/internal/measureloop"
	"github.com/cloud-gpu-shopper/inferload/internal/metrics"
	"github.com/cloud-gpu-shopper/inferload/internal/pausegate"
	"github.com/cloud-gpu-shopper/inferload/internal/perfstore"
	"github.com/cloud-gpu-shopper/inferload/internal/report"
	"github.com/cloud-gpu-shopper/inferload/internal/sweep"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/internal/workerpool"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

var rootCmd = &cobra.Command{
	Use:   "inferload",
	Short: "Drive a concurrency sweep against an inference server",
	Long: `inferload measures how an inference server's throughput and
latency respond to client concurrency, either at one fixed level or by
searching for the highest concurrency that still meets a latency bound.`,
	RunE: run,
}

func main() {
	config.BindFlags(rootCmd.Flags())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	runID := uuid.NewString()
	ctx := logging.WithRunID(context.Background(), runID)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting sweep", cfg.LogAttrs()...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exit := earlyexit.New()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logger.Warn("received signal, shutting down", slog.String("signal", sig.String()))
		exit.Set()
		cancel()
	}()

	metricsSrv := metrics.NewServer("127.0.0.1:9090")
	metricsErrCh := make(chan error, 1)
	metricsSrv.Start(metricsErrCh)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		if err := <-metricsErrCh; err != nil {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	pool, err := buildPool(cfg, logger)
	if err != nil {
		return fmt.Errorf("build worker pool: %w", err)
	}
	defer pool.Shutdown()

	statusClient, err := newClient(cfg, 0)
	if err != nil {
		return fmt.Errorf("build status client: %w", err)
	}
	defer statusClient.Close()

	loop := &measureloop.Loop{
		Pool:         pool,
		StatusClient: statusClient,
		Buffer:       sharedBuffer,
		EarlyExit:    exit,
		Logger:       logger,
		Config: measureloop.Config{
			MeasurementWindow:   cfg.WindowDuration(),
			StableOffset:        cfg.StabilityPct,
			MaxMeasurementCount: cfg.MaxSamples,
			ModelName:           cfg.ModelName,
			ModelVersion:        cfg.ModelVersion,
			BatchSize:           cfg.BatchSize,
			EnableProfiling:     cfg.Profile,
			Transport:           cfg.Transport,
		},
	}

	sweepMode := sweep.ModeFixed
	if cfg.Dynamic {
		sweepMode = sweep.ModeDynamic
	}

	result := sweep.Run(ctx, loop, sweep.Config{
		Mode:               sweepMode,
		StartConcurrency:   cfg.StartConcurrency,
		LatencyThresholdMs: cfg.LatencyMs,
		MaxConcurrency:     cfg.MaxConcurrency,
	})

	for i := range result.Samples {
		result.Samples[i].RunID = runID
		result.Samples[i].StepIndex = i
		result.Samples[i].WindowEnd = time.Now()
		result.Samples[i].WindowStart = result.Samples[i].WindowEnd.Add(-cfg.WindowDuration())
	}

	if err := report.WriteSummary(os.Stdout, cfg.Transport, result.Samples); err != nil {
		logger.Error("write summary", slog.String("error", err.Error()))
	}

	if cfg.CSVFile != "" {
		if err := writeCSVFile(cfg.CSVFile, result.Samples); err != nil {
			logger.Error("write csv report", slog.String("error", err.Error()))
		}
	}

	if cfg.DBFile != "" {
		if err := persistSamples(cfg.DBFile, result.Samples); err != nil {
			logger.Error("persist samples", slog.String("error", err.Error()))
		}
	}

	if result.Err != nil {
		return fmt.Errorf("sweep stopped early: %w", result.Err)
	}
	return nil
}

// sharedBuffer is the timestamp buffer every worker appends to and the
// measurement loop drains; it is process-lifetime for a single run.
var sharedBuffer = tsbuffer.New()

// buildPool constructs the synchronous or asynchronous worker pool
// cfg.Async selects. Either variant manages its own internal early-exit
// flag for worker teardown; the measurement loop's early-exit flag (set by
// the process signal handler) is wired separately, into measureloop.Loop.
func buildPool(cfg *config.Config, logger *slog.Logger) (workerpool.Pool, error) {
	gate := pausegate.New()
	template := workerpool.RequestTemplate{
		ModelName:    cfg.ModelName,
		ModelVersion: cfg.ModelVersion,
		BatchSize:    cfg.BatchSize,
		InputBytes:   make([]byte, 64),
	}

	if cfg.Async {
		client, err := newClient(cfg, 0)
		if err != nil {
			return nil, err
		}
		return workerpool.NewAsyncPool(client, template, gate, sharedBuffer, logger), nil
	}

	factory := func(index int) (inferclient.Client, error) {
		return newClient(cfg, index)
	}
	return workerpool.NewSyncPool(factory, template, gate, sharedBuffer, logger), nil
}

// mockServerState backs every mockclient.Client a run constructs, so
// worker-reported counters accumulate the way a real shared server's would.
var mockServerState *mockclient.ServerState

func newClient(cfg *config.Config, _ int) (inferclient.Client, error) {
	switch config.Transport(cfg.Transport) {
	case config.TransportHTTP:
		return httpclient.New(httpclient.Config{BaseURL: cfg.URL, Timeout: 60 * time.Second}), nil
	case config.TransportGRPC:
		return grpcclient.New(grpcclient.Config{Target: cfg.URL})
	case config.TransportMock:
		if mockServerState == nil {
			mockServerState = mockclient.NewServerState(cfg.ModelName)
		}
		latency := mockclient.ProportionalLatency(time.Millisecond)
		return mockclient.New(mockServerState, latency, cfg.BatchSize*4), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func writeCSVFile(path string, samples []model.PerfStatus) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()
	return report.WriteCSV(f, samples)
}

func persistSamples(path string, samples []model.PerfStatus) error {
	store, err := perfstore.Open(path)
	if err != nil {
		return fmt.Errorf("open perf store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, s := range samples {
		if err := store.Save(ctx, s); err != nil {
			return fmt.Errorf("save sample for step %d: %w", s.StepIndex, err)
		}
	}
	return nil
}
