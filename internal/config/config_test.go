package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	_ = fs.Parse(args)
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	fs := newFlagSet("--model", "llama", "--url", "http://localhost:8000")

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 1, cfg.StartConcurrency)
	assert.Equal(t, 1000, cfg.WindowMs)
	assert.Equal(t, 0.10, cfg.StabilityPct)
	assert.Equal(t, 10, cfg.MaxSamples)
	assert.Equal(t, string(TransportHTTP), cfg.Transport)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	fs := newFlagSet(
		"--model", "llama",
		"--url", "http://localhost:8000",
		"--batch", "4",
		"--start-concurrency", "2",
		"--dynamic",
		"--latency-ms", "50",
		"--transport", "grpc",
		"--verbose",
	)

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 2, cfg.StartConcurrency)
	assert.True(t, cfg.Dynamic)
	assert.Equal(t, 50.0, cfg.LatencyMs)
	assert.Equal(t, string(TransportGRPC), cfg.Transport)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesFlagDefault(t *testing.T) {
	os.Setenv("INFERLOAD_BATCH", "8")
	defer os.Unsetenv("INFERLOAD_BATCH")

	fs := newFlagSet("--model", "llama", "--url", "http://localhost:8000")

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.BatchSize)
}

func TestLoad_MissingModelFails(t *testing.T) {
	fs := newFlagSet("--url", "http://localhost:8000")

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestLoad_MissingURLFails(t *testing.T) {
	fs := newFlagSet("--model", "llama")

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestLoad_InvalidTransportFails(t *testing.T) {
	fs := newFlagSet("--model", "llama", "--url", "http://localhost:8000", "--transport", "carrier-pigeon")

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestValidate_DynamicModeRequiresLatencyThreshold(t *testing.T) {
	cfg := &Config{
		Dynamic:          true,
		LatencyMs:        0,
		BatchSize:        1,
		StartConcurrency: 1,
		WindowMs:         1000,
		StabilityPct:     0.1,
		MaxSamples:       10,
		ModelName:        "llama",
		URL:              "http://localhost:8000",
		Transport:        string(TransportHTTP),
		LogLevel:         "info",
		LogFormat:        "text",
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--latency-ms")
}

func TestWindowDuration(t *testing.T) {
	cfg := &Config{WindowMs: 2500}
	assert.Equal(t, 2500000000.0, float64(cfg.WindowDuration().Nanoseconds()))
}
