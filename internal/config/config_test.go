package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.HTTPAddr != def.HTTPAddr || cfg.SweepInterval != def.SweepInterval || cfg.EdgeCost != "length" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeFile(t, "grid.toml", `
http_addr = ":9999"
sweep_interval = "250ms"
seed = 7
init_capacities = true
edge_cost = "hop"

[log]
level = "debug"
backend = "zap"

[tracing]
enabled = true
exporter = "otlp"
sample_ratio = 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.SweepInterval.Duration != 250*time.Millisecond || cfg.Seed != 7 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.InitCapacities || cfg.EdgeCost != "hop" {
		t.Fatalf("engine settings = %+v", cfg)
	}
	if lc := cfg.Logging(); lc.Level != "debug" || lc.Backend != "zap" || lc.Format != "json" {
		t.Fatalf("logging = %+v", lc)
	}
	if tc := cfg.Tracer(); !tc.Enabled || tc.Exporter != "otlp" || tc.SampleRatio != 0.5 || tc.ServiceName != "grid-hierarchy" {
		t.Fatalf("tracing = %+v", tc)
	}
	if tc := cfg.Tracer(); tc.EdgeCost != "hop" || tc.Seed != 7 || tc.SweepInterval != 250*time.Millisecond || tc.Scenario != cfg.ScenarioPath {
		t.Fatalf("tracing lost engine settings: %+v", tc)
	}
	if cfg.MetricsAddr != Default().MetricsAddr {
		t.Fatalf("unset key lost its default: %q", cfg.MetricsAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "grid.toml", `http_addr = ":9999"`)
	t.Setenv("GRID_HTTP_ADDR", ":7000")
	t.Setenv("GRID_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("GRID_SWEEP_INTERVAL", "2s")
	t.Setenv("GRID_INIT_CAPACITIES", "true")
	t.Setenv("GRID_SEED", "not-a-number")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" || cfg.SweepInterval.Duration != 2*time.Second || !cfg.InitCapacities {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %q", cfg.AllowedOrigins)
	}
	if cfg.Seed != 1 {
		t.Fatalf("invalid GRID_SEED should keep default, got %d", cfg.Seed)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", `http_addr = `},
		{"bad duration", `sweep_interval = "soon"`},
		{"unknown cost", `edge_cost = "voltage"`},
		{"ratio out of range", "[tracing]\nsample_ratio = 3.0"},
		{"empty addr", `http_addr = ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "grid.toml", tt.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "grid.toml"))
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if cfg.SweepInterval.Duration != 10*time.Second {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval)
	}
}
