package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"streamcast/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatalf("expected missing config file, got exists=true for %s", resolved)
	}
	if cfg.Stream.Width != 1920 || cfg.Stream.Height != 1080 {
		t.Fatalf("unexpected default resolution: %dx%d", cfg.Stream.Width, cfg.Stream.Height)
	}
	if cfg.Pool.MinWorkers < 1 || cfg.Pool.MaxWorkers < cfg.Pool.MinWorkers {
		t.Fatalf("unexpected default pool bounds: %d..%d", cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[stream]
width = 1280
height = 720
target_fps = 24

[pool]
min_workers = 1
max_workers = 4
queue_capacity = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if cfg.Stream.Width != 1280 || cfg.Stream.TargetFPS != 24 {
		t.Fatalf("overrides not applied: %+v", cfg.Stream)
	}
	if cfg.Pool.QueueCapacity != 10 {
		t.Fatalf("pool override not applied: %+v", cfg.Pool)
	}
	// Untouched sections keep defaults.
	if cfg.Preview.PingInterval != 30 {
		t.Fatalf("expected default ping interval, got %d", cfg.Preview.PingInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"odd width", func(c *config.Config) { c.Stream.Width = 1921 }, "even"},
		{"zero fps", func(c *config.Config) { c.Stream.TargetFPS = 0 }, "target_fps"},
		{"bad codec", func(c *config.Config) { c.Stream.Codec = "theora" }, "codec"},
		{"max below min", func(c *config.Config) { c.Pool.MaxWorkers = 1; c.Pool.MinWorkers = 3 }, "max_workers"},
		{"zero queue", func(c *config.Config) { c.Pool.QueueCapacity = 0 }, "queue_capacity"},
		{"breaker threshold", func(c *config.Config) { c.Pool.FailureThreshold = 9 }, "failure_threshold"},
		{"reset timeout", func(c *config.Config) { c.Pool.ResetTimeout = 5 }, "reset_timeout"},
		{"retry cap", func(c *config.Config) { c.Pool.RetryMaxDelayMS = 500 }, "retry_max_delay_ms"},
		{"timeout below ping", func(c *config.Config) { c.Preview.ClientTimeout = 10 }, "client_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestStreamKeyFromEnvironment(t *testing.T) {
	t.Setenv("STREAMCAST_STREAM_KEY", "live_abc123")
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[stream]
ingest_url = "rtmp://live.example.com/app"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.OutputTarget(); got != "rtmp://live.example.com/app/live_abc123" {
		t.Fatalf("unexpected output target %q", got)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("sample config not detected")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
}
