package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configured values against the ranges the pipeline supports.
func (c *Config) Validate() error {
	var problems []string

	if c.Stream.Width <= 0 || c.Stream.Height <= 0 {
		problems = append(problems, "stream.width and stream.height must be positive")
	}
	if c.Stream.Width%2 != 0 || c.Stream.Height%2 != 0 {
		problems = append(problems, "stream.width and stream.height must be even for encoder compatibility")
	}
	if c.Stream.TargetFPS < 1 || c.Stream.TargetFPS > 240 {
		problems = append(problems, "stream.target_fps must be between 1 and 240")
	}
	if c.Stream.BitrateKbps <= 0 {
		problems = append(problems, "stream.bitrate_kbps must be positive")
	}
	switch c.Stream.Codec {
	case "h264", "hevc", "av1":
	default:
		problems = append(problems, fmt.Sprintf("stream.codec %q is not supported (h264, hevc, av1)", c.Stream.Codec))
	}

	if c.Pool.MinWorkers < 1 {
		problems = append(problems, "pool.min_workers must be at least 1")
	}
	if c.Pool.MaxWorkers < c.Pool.MinWorkers {
		problems = append(problems, "pool.max_workers must be >= pool.min_workers")
	}
	if c.Pool.QueueCapacity < 1 {
		problems = append(problems, "pool.queue_capacity must be positive")
	}
	if c.Pool.TaskTimeout < 1 {
		problems = append(problems, "pool.task_timeout must be positive")
	}
	if c.Pool.FailureThreshold < 3 || c.Pool.FailureThreshold > 5 {
		problems = append(problems, "pool.failure_threshold must be between 3 and 5")
	}
	if c.Pool.ResetTimeout < 30 || c.Pool.ResetTimeout > 60 {
		problems = append(problems, "pool.reset_timeout must be between 30 and 60 seconds")
	}
	if c.Pool.MaxRetries < 0 {
		problems = append(problems, "pool.max_retries must not be negative")
	}
	if c.Pool.RetryBaseDelayMS < 1 {
		problems = append(problems, "pool.retry_base_delay_ms must be positive")
	}
	if c.Pool.RetryMaxDelayMS < 10000 || c.Pool.RetryMaxDelayMS > 30000 {
		problems = append(problems, "pool.retry_max_delay_ms must be between 10000 and 30000")
	}
	if c.Pool.MemoryHighPct <= 0 || c.Pool.MemoryHighPct > 100 {
		problems = append(problems, "pool.memory_high_pct must be within (0, 100]")
	}
	if c.Pool.MemoryCriticalPct < c.Pool.MemoryHighPct {
		problems = append(problems, "pool.memory_critical_pct must be >= pool.memory_high_pct")
	}
	if c.Pool.RenderRatio < 0 || c.Pool.EncodeRatio < 0 || c.Pool.RenderRatio+c.Pool.EncodeRatio > 1 {
		problems = append(problems, "pool.render_ratio + pool.encode_ratio must not exceed 1")
	}

	if c.Health.ProbeInterval < 1 {
		problems = append(problems, "health.probe_interval must be positive")
	}
	if c.Health.UnhealthyThreshold < 1 || c.Health.HealthyThreshold < 1 {
		problems = append(problems, "health thresholds must be positive")
	}
	if c.Health.MaxErrorRate < 0 || c.Health.MaxErrorRate > 1 {
		problems = append(problems, "health.max_error_rate must be between 0 and 1")
	}
	if c.Health.MaxMemoryMB < 0 {
		problems = append(problems, "health.max_memory_mb must not be negative")
	}

	if c.Assets.TTLSeconds < 1 {
		problems = append(problems, "assets.ttl_seconds must be positive")
	}
	if c.Preview.PingInterval < 1 || c.Preview.ClientTimeout <= c.Preview.PingInterval {
		problems = append(problems, "preview.client_timeout must exceed preview.ping_interval")
	}
	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		problems = append(problems, "preview.jpeg_quality must be within [1, 100]")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
