package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "QUEUE_BACKEND", "SIMULATION_INTERVAL_SECONDS", "SIMULATION_ADVANCE_PROBABILITY", "SEED_DEMO_DATA"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.QueueBackend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.QueueBackend)
	}
	if cfg.SimulationInterval != 3*time.Second {
		t.Fatalf("expected 3s simulation interval, got %v", cfg.SimulationInterval)
	}
	if cfg.SimulationProbability != 0.3 {
		t.Fatalf("expected 0.3 advance probability, got %v", cfg.SimulationProbability)
	}
	if !cfg.SeedDemoData {
		t.Fatal("expected demo data to be seeded by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SIMULATION_INTERVAL_SECONDS", "10")
	t.Setenv("SIMULATION_ADVANCE_PROBABILITY", "0.5")
	t.Setenv("SEED_DEMO_DATA", "false")
	t.Setenv("RATE_LIMIT_PER_MIN", "not-a-number")

	cfg := Load()
	if cfg.QueueBackend != BackendRedis || cfg.RedisDB != 2 {
		t.Fatalf("unexpected redis settings %+v", cfg)
	}
	if cfg.SimulationInterval != 10*time.Second || cfg.SimulationProbability != 0.5 {
		t.Fatalf("unexpected simulation settings %+v", cfg)
	}
	if cfg.SeedDemoData {
		t.Fatal("expected seeding disabled")
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Fatalf("expected fallback rate limit, got %d", cfg.RateLimitPerMinute)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{QueueBackend: BackendMemory}},
		{name: "postgres without dsn", cfg: Config{QueueBackend: BackendPostgres}, wantErr: true},
		{name: "postgres", cfg: Config{QueueBackend: BackendPostgres, DatabaseURL: "postgres://localhost/medcare"}},
		{name: "redis without addr", cfg: Config{QueueBackend: BackendRedis}, wantErr: true},
		{name: "unknown backend", cfg: Config{QueueBackend: "etcd"}, wantErr: true},
		{name: "bad probability", cfg: Config{QueueBackend: BackendMemory, SimulationProbability: 1.5}, wantErr: true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: expected error=%v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestLoadTelemetry(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_RATIO", "0.1")

	cfg := Load()
	if cfg.OTLPEndpoint != "collector:4317" || !cfg.OTLPInsecure || cfg.TraceSampleRatio != 0.1 {
		t.Fatalf("unexpected telemetry settings %+v", cfg)
	}
}
