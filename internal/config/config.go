package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LogDir      string `toml:"log_dir"`
	DataDir     string `toml:"data_dir"`
	APIBind     string `toml:"api_bind"`
	PreviewBind string `toml:"preview_bind"`
}

// Stream contains output composition and encoder settings.
type Stream struct {
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	TargetFPS   int    `toml:"target_fps"`
	BitrateKbps int    `toml:"bitrate_kbps"`
	Codec       string `toml:"codec"`
	Preset      string `toml:"preset"`
	IngestURL   string `toml:"ingest_url"`
	// StreamKey is appended to IngestURL. Usually supplied via the
	// STREAMCAST_STREAM_KEY environment variable instead of the file.
	StreamKey    string `toml:"stream_key"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
}

// Pool contains worker pool sizing, queueing, and fault-isolation settings.
type Pool struct {
	MinWorkers        int     `toml:"min_workers"`
	MaxWorkers        int     `toml:"max_workers"`
	QueueCapacity     int     `toml:"queue_capacity"`
	TaskTimeout       int     `toml:"task_timeout"`
	ScaleInterval     int     `toml:"scale_interval"`
	FailureThreshold  int     `toml:"failure_threshold"`
	ResetTimeout      int     `toml:"reset_timeout"`
	MaxRetries        int     `toml:"max_retries"`
	RetryBaseDelayMS  int     `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS   int     `toml:"retry_max_delay_ms"`
	MemoryHighPct     float64 `toml:"memory_high_pct"`
	MemoryCriticalPct float64 `toml:"memory_critical_pct"`
	CPUHighPct        float64 `toml:"cpu_high_pct"`
	// Role ratios are spawn-labeling defaults, not scheduling constraints.
	RenderRatio float64 `toml:"render_ratio"`
	EncodeRatio float64 `toml:"encode_ratio"`
}

// Health contains worker health monitor settings.
type Health struct {
	ProbeInterval      int     `toml:"probe_interval"`
	UnhealthyThreshold int     `toml:"unhealthy_threshold"`
	HealthyThreshold   int     `toml:"healthy_threshold"`
	MaxErrorRate       float64 `toml:"max_error_rate"`
	MaxMemoryMB        int     `toml:"max_memory_mb"`
}

// Assets contains media asset cache settings.
type Assets struct {
	TTLSeconds   int    `toml:"ttl_seconds"`
	FontSize     int    `toml:"font_size"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
}

// Preview contains preview websocket settings.
type Preview struct {
	PingInterval  int `toml:"ping_interval"`
	ClientTimeout int `toml:"client_timeout"`
	JPEGQuality   int `toml:"jpeg_quality"`
}

// Capture contains visual feed capture device settings.
type Capture struct {
	Device string `toml:"device"`
}

// Notifications contains operator alert settings (ntfy).
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for streamcast.
//
// Configuration sections by subsystem:
//   - Paths: directories, socket, and API/preview bind addresses
//   - Stream: canvas resolution, fps, encoder output settings
//   - Pool: worker pool sizing, queue capacity, retry/circuit thresholds
//   - Health: worker health probe intervals and hysteresis thresholds
//   - Assets: asset cache TTL and rasterization settings
//   - Preview: preview socket ping/timeout and frame quality
//   - Capture: visual feed device monitoring
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Stream        Stream        `toml:"stream"`
	Pool          Pool          `toml:"pool"`
	Health        Health        `toml:"health"`
	Assets        Assets        `toml:"assets"`
	Preview       Preview       `toml:"preview"`
	Capture       Capture       `toml:"capture"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/streamcast/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. A .env file in the working
// directory, when present, seeds environment variables before normalization so
// secrets can stay out of the TOML file.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("streamcast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.DataDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the IPC socket location inside the data directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "streamcast.sock")
}

// OutputTarget returns the full encoder destination, joining ingest URL and key.
func (c *Config) OutputTarget() string {
	url := strings.TrimRight(c.Stream.IngestURL, "/")
	key := strings.TrimSpace(c.Stream.StreamKey)
	if key == "" {
		return url
	}
	return url + "/" + key
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
