package testsupport

import (
	"path/filepath"
	"testing"

	"streamcast/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The canvas is small and the pool minimal so pipeline tests stay fast; any
// field can be overridden through options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.PreviewBind = "127.0.0.1:0"
	cfgVal.Stream.Width = 128
	cfgVal.Stream.Height = 72
	cfgVal.Stream.TargetFPS = 10
	cfgVal.Stream.IngestURL = "rtmp://127.0.0.1/live"
	cfgVal.Pool.MinWorkers = 1
	cfgVal.Pool.MaxWorkers = 2
	cfgVal.Pool.QueueCapacity = 8
	cfgVal.Pool.TaskTimeout = 2
	cfgVal.Pool.ScaleInterval = 3600
	cfgVal.Health.ProbeInterval = 3600
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithCanvas overrides the output geometry and frame rate.
func WithCanvas(width, height, fps int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stream.Width = width
		b.cfg.Stream.Height = height
		b.cfg.Stream.TargetFPS = fps
	}
}

// WithNtfyTopic enables the ntfy notifier on the test config.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithCaptureDevice configures the hotplug-monitored capture device.
func WithCaptureDevice(device string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.Device = device
	}
}

// WithAPIBind overrides the HTTP status API bind address. An empty string
// disables the API server.
func WithAPIBind(bind string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIBind = bind
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
