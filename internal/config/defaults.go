package config

const (
	defaultLogDir      = "~/.local/share/streamcast/logs"
	defaultDataDir     = "~/.local/share/streamcast"
	defaultAPIBind     = "127.0.0.1:7590"
	defaultPreviewBind = "127.0.0.1:7591"

	defaultWidth        = 1920
	defaultHeight       = 1080
	defaultTargetFPS    = 30
	defaultBitrateKbps  = 4500
	defaultCodec        = "h264"
	defaultPreset       = "veryfast"
	defaultFFmpegBinary = "ffmpeg"

	defaultMinWorkers        = 2
	defaultMaxWorkers        = 8
	defaultQueueCapacity     = 64
	defaultTaskTimeout       = 10
	defaultScaleInterval     = 5
	defaultFailureThreshold  = 4
	defaultResetTimeout      = 45
	defaultMaxRetries        = 3
	defaultRetryBaseDelayMS  = 1000
	defaultRetryMaxDelayMS   = 20000
	defaultMemoryHighPct     = 80
	defaultMemoryCriticalPct = 85
	defaultCPUHighPct        = 80
	defaultRenderRatio       = 0.5
	defaultEncodeRatio       = 0.25

	defaultProbeInterval      = 10
	defaultUnhealthyThreshold = 3
	defaultHealthyThreshold   = 2
	defaultMaxErrorRate       = 0.5
	defaultMaxMemoryMB        = 512

	defaultAssetTTLSeconds = 300
	defaultFontSize        = 16

	defaultPingInterval  = 30
	defaultClientTimeout = 60
	defaultJPEGQuality   = 80

	defaultNotifyTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:      defaultLogDir,
			DataDir:     defaultDataDir,
			APIBind:     defaultAPIBind,
			PreviewBind: defaultPreviewBind,
		},
		Stream: Stream{
			Width:        defaultWidth,
			Height:       defaultHeight,
			TargetFPS:    defaultTargetFPS,
			BitrateKbps:  defaultBitrateKbps,
			Codec:        defaultCodec,
			Preset:       defaultPreset,
			FFmpegBinary: defaultFFmpegBinary,
		},
		Pool: Pool{
			MinWorkers:        defaultMinWorkers,
			MaxWorkers:        defaultMaxWorkers,
			QueueCapacity:     defaultQueueCapacity,
			TaskTimeout:       defaultTaskTimeout,
			ScaleInterval:     defaultScaleInterval,
			FailureThreshold:  defaultFailureThreshold,
			ResetTimeout:      defaultResetTimeout,
			MaxRetries:        defaultMaxRetries,
			RetryBaseDelayMS:  defaultRetryBaseDelayMS,
			RetryMaxDelayMS:   defaultRetryMaxDelayMS,
			MemoryHighPct:     defaultMemoryHighPct,
			MemoryCriticalPct: defaultMemoryCriticalPct,
			CPUHighPct:        defaultCPUHighPct,
			RenderRatio:       defaultRenderRatio,
			EncodeRatio:       defaultEncodeRatio,
		},
		Health: Health{
			ProbeInterval:      defaultProbeInterval,
			UnhealthyThreshold: defaultUnhealthyThreshold,
			HealthyThreshold:   defaultHealthyThreshold,
			MaxErrorRate:       defaultMaxErrorRate,
			MaxMemoryMB:        defaultMaxMemoryMB,
		},
		Assets: Assets{
			TTLSeconds:   defaultAssetTTLSeconds,
			FontSize:     defaultFontSize,
			FFmpegBinary: defaultFFmpegBinary,
		},
		Preview: Preview{
			PingInterval:  defaultPingInterval,
			ClientTimeout: defaultClientTimeout,
			JPEGQuality:   defaultJPEGQuality,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
