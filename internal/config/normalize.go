package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStream()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.PreviewBind = strings.TrimSpace(c.Paths.PreviewBind)
	if c.Paths.PreviewBind == "" {
		c.Paths.PreviewBind = defaultPreviewBind
	}
	return nil
}

func (c *Config) normalizeStream() {
	c.Stream.Codec = strings.ToLower(strings.TrimSpace(c.Stream.Codec))
	if c.Stream.Codec == "" {
		c.Stream.Codec = defaultCodec
	}
	c.Stream.Preset = strings.ToLower(strings.TrimSpace(c.Stream.Preset))
	if c.Stream.Preset == "" {
		c.Stream.Preset = defaultPreset
	}
	c.Stream.IngestURL = strings.TrimSpace(c.Stream.IngestURL)
	c.Stream.StreamKey = strings.TrimSpace(c.Stream.StreamKey)
	if c.Stream.StreamKey == "" {
		if value, ok := os.LookupEnv("STREAMCAST_STREAM_KEY"); ok {
			c.Stream.StreamKey = strings.TrimSpace(value)
		}
	}
	c.Stream.FFmpegBinary = strings.TrimSpace(c.Stream.FFmpegBinary)
	if c.Stream.FFmpegBinary == "" {
		c.Stream.FFmpegBinary = defaultFFmpegBinary
	}
	c.Assets.FFmpegBinary = strings.TrimSpace(c.Assets.FFmpegBinary)
	if c.Assets.FFmpegBinary == "" {
		c.Assets.FFmpegBinary = c.Stream.FFmpegBinary
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("STREAMCAST_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
