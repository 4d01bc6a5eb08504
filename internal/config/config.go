// Package config loads grid-server settings from defaults, an optional TOML
// file, a .env file and GRID_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/observability"
)

type Config struct {
	ScenarioPath   string   `toml:"scenario"`
	HTTPAddr       string   `toml:"http_addr"`
	MetricsAddr    string   `toml:"metrics_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`

	SweepInterval    Duration `toml:"sweep_interval"`
	Seed             int64    `toml:"seed"`
	InitCapacities   bool     `toml:"init_capacities"`
	EdgeCost         string   `toml:"edge_cost"`
	HydrateOnStartup bool     `toml:"hydrate_on_startup"`

	Log     LogConfig     `toml:"log"`
	Tracing TracingConfig `toml:"tracing"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	Backend   string `toml:"backend"`
	AddSource bool   `toml:"add_source"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ScenarioPath:     "configs/scenario.json",
		HTTPAddr:         ":8080",
		MetricsAddr:      ":9090",
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		SweepInterval:    Duration{10 * time.Second},
		Seed:             1,
		EdgeCost:         "length",
		HydrateOnStartup: true,
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Backend: "slog",
		},
		Tracing: TracingConfig{
			ServiceName: "grid-hierarchy",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// Load builds a Config. path may be empty; a missing .env file is ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ScenarioPath = getEnv("GRID_SCENARIO", cfg.ScenarioPath)
	cfg.HTTPAddr = getEnv("GRID_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getEnv("GRID_METRICS_ADDR", cfg.MetricsAddr)
	if raw := os.Getenv("GRID_ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}
	if raw := os.Getenv("GRID_SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.SweepInterval = Duration{d}
		}
	}
	if raw := os.Getenv("GRID_SEED"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Seed = v
		}
	}
	cfg.InitCapacities = getEnvAsBool("GRID_INIT_CAPACITIES", cfg.InitCapacities)
	cfg.HydrateOnStartup = getEnvAsBool("GRID_HYDRATE_ON_STARTUP", cfg.HydrateOnStartup)
	cfg.EdgeCost = getEnv("GRID_EDGE_COST", cfg.EdgeCost)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Backend = getEnv("LOG_BACKEND", cfg.Log.Backend)
	cfg.Log.AddSource = getEnvAsBool("LOG_ADD_SOURCE", cfg.Log.AddSource)

	cfg.Tracing.Enabled = getEnvAsBool("GRID_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = strings.ToLower(getEnv("GRID_TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Tracing.ServiceName = getEnv("GRID_TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Endpoint = getEnv("GRID_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	if raw := os.Getenv("GRID_TRACING_SAMPLE_RATIO"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			cfg.Tracing.SampleRatio = v
		}
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr must be set")
	}
	if c.SweepInterval.Duration < 0 {
		return fmt.Errorf("sweep_interval must not be negative: %s", c.SweepInterval)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]: %v", c.Tracing.SampleRatio)
	}
	switch strings.ToLower(c.EdgeCost) {
	case "", "length", "loss", "distance", "hop", "hops":
	default:
		return fmt.Errorf("unknown edge_cost %q", c.EdgeCost)
	}
	return nil
}

// Logging converts the log section into a logging.Config.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		Backend:   c.Log.Backend,
		AddSource: c.Log.AddSource,
	}
}

// Tracer converts the tracing section into an observability.TracingConfig.
func (c Config) Tracer() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,

		Scenario:      c.ScenarioPath,
		EdgeCost:      c.EdgeCost,
		Seed:          c.Seed,
		SweepInterval: c.SweepInterval.Duration,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return fallback
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
