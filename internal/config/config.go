// Package config loads inferload's run configuration the way the teacher
// loads its service configuration: viper for layered file/env/flag
// resolution, go-playground/validator for the result, structured logging
// for non-fatal bind failures.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transport selects which inferclient implementation a run drives.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
	TransportMock Transport = "mock"
)

// Config holds every setting a sweep run needs, sourced from an optional
// config file, environment variables, and CLI flags, in that ascending
// order of precedence.
type Config struct {
	Verbose bool `mapstructure:"verbose"`
	Profile bool `mapstructure:"profile"`

	Dynamic          bool    `mapstructure:"dynamic"`
	Async            bool    `mapstructure:"async"`
	BatchSize        int     `mapstructure:"batch" validate:"gte=1"`
	StartConcurrency int     `mapstructure:"start_concurrency" validate:"gte=1"`
	WindowMs         int     `mapstructure:"window_ms" validate:"gte=1"`
	LatencyMs        float64 `mapstructure:"latency_ms" validate:"gte=0"`
	MaxConcurrency   int     `mapstructure:"max_concurrency" validate:"gte=0"`
	StabilityPct     float64 `mapstructure:"stability_pct" validate:"gt=0,lte=1"`
	MaxSamples       int     `mapstructure:"max_samples" validate:"gte=1"`

	ModelName    string `mapstructure:"model" validate:"required"`
	ModelVersion int64  `mapstructure:"version"`
	URL          string `mapstructure:"url" validate:"required"`
	Transport    string `mapstructure:"transport" validate:"oneof=http grpc mock"`

	CSVFile    string `mapstructure:"csv_file"`
	DBFile     string `mapstructure:"db_file"`
	LogLevel   string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string `mapstructure:"log_format" validate:"oneof=json text"`
}

// BindFlags registers every flag Load reads, so callers construct one
// *pflag.FlagSet, pass it here, parse os.Args, and then call Load.
func BindFlags(fs *pflag.FlagSet) {
	fs.BoolP("verbose", "v", false, "enable debug logging")
	fs.BoolP("profile", "n", false, "enable server-side profiling during each measurement window")
	fs.BoolP("dynamic", "d", false, "search for the latency-bound concurrency level instead of measuring one fixed level")
	fs.BoolP("async", "a", false, "use the pipelined asynchronous worker pool instead of the synchronous one")
	fs.IntP("batch", "b", 1, "batch size per inference request")
	fs.IntP("start-concurrency", "t", 1, "starting concurrency level")
	fs.IntP("window-ms", "p", 1000, "measurement window length in milliseconds")
	fs.Float64P("latency-ms", "l", 0, "dynamic mode: stop once average latency reaches this many milliseconds")
	fs.IntP("max-concurrency", "c", 0, "dynamic mode: stop once concurrency exceeds this value (0 = unbounded)")
	fs.Float64P("stability-pct", "s", 0.10, "fraction of the trailing mean a window may deviate by and still count as stable")
	fs.IntP("max-samples", "r", 10, "maximum number of measurement windows per concurrency level before giving up on stability")
	fs.StringP("model", "m", "", "model name to drive load against (required)")
	fs.Int64P("version", "x", -1, "model version to request (-1 = latest)")
	fs.StringP("url", "u", "", "inference server address (required)")
	fs.StringP("transport", "i", string(TransportHTTP), "client transport: http, grpc, or mock")
	fs.StringP("csv-file", "f", "", "path to write a CSV report to (empty = skip)")
	fs.String("db-file", "", "path to a SQLite file to persist samples into (empty = skip)")
	fs.String("config", "", "optional config file path")
}

// Load builds a Config from fs (already parsed) layered over file and
// environment sources, then validates it.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath, _ := fs.GetString("config"); configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("INFERLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	cfg := &Config{
		Verbose:          v.GetBool("verbose"),
		Profile:          v.GetBool("profile"),
		Dynamic:          v.GetBool("dynamic"),
		Async:            v.GetBool("async"),
		BatchSize:        v.GetInt("batch"),
		StartConcurrency: v.GetInt("start-concurrency"),
		WindowMs:         v.GetInt("window-ms"),
		LatencyMs:        v.GetFloat64("latency-ms"),
		MaxConcurrency:   v.GetInt("max-concurrency"),
		StabilityPct:     v.GetFloat64("stability-pct"),
		MaxSamples:       v.GetInt("max-samples"),
		ModelName:        v.GetString("model"),
		ModelVersion:     v.GetInt64("version"),
		URL:              v.GetString("url"),
		Transport:        v.GetString("transport"),
		CSVFile:          v.GetString("csv-file"),
		DBFile:           v.GetString("db-file"),
		LogLevel:         logLevel(v.GetBool("verbose")),
		LogFormat:        "text",
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logLevel(verbose bool) string {
	if verbose {
		return "debug"
	}
	return "info"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch", 1)
	v.SetDefault("start-concurrency", 1)
	v.SetDefault("window-ms", 1000)
	v.SetDefault("stability-pct", 0.10)
	v.SetDefault("max-samples", 10)
	v.SetDefault("transport", string(TransportHTTP))
}

// WindowDuration is WindowMs as a time.Duration.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

var validate = validator.New()

// Validate runs struct-tag validation and the few cross-field checks
// validator tags can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Dynamic && c.LatencyMs <= 0 {
		return fmt.Errorf("dynamic mode requires a positive --latency-ms stop threshold")
	}
	return nil
}

// LogAttrs returns slog attributes summarizing the resolved configuration,
// for a single startup log line.
func (c *Config) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("model", c.ModelName),
		slog.String("url", c.URL),
		slog.String("transport", c.Transport),
		slog.Bool("dynamic", c.Dynamic),
		slog.Bool("async", c.Async),
		slog.Int("start_concurrency", c.StartConcurrency),
		slog.Int("window_ms", c.WindowMs),
	}
}
