package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"streamcast/internal/assets"
	"streamcast/internal/compositor"
	"streamcast/internal/config"
	"streamcast/internal/deps"
	"streamcast/internal/encoder"
	"streamcast/internal/events"
	"streamcast/internal/journal"
	"streamcast/internal/layers"
	"streamcast/internal/logging"
	"streamcast/internal/manager"
	"streamcast/internal/metrics"
	"streamcast/internal/notifications"
	"streamcast/internal/pool"
	"streamcast/internal/preview"
	"streamcast/internal/state"
)

// notifyTimeout bounds outbound ntfy calls so a slow push service never
// stalls stream lifecycle operations.
const notifyTimeout = 10 * time.Second

// Daemon wires the full pipeline together and enforces single-instance
// execution. It owns every long-lived component: the layer store, asset
// cache, compositor, worker pool, encoder, preview hub, state store, stream
// manager, session journal, and notification service.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *events.Bus

	scene    *layers.Store
	cache    *assets.Cache
	comp     *compositor.Compositor
	workers  *pool.Pool
	health   *pool.HealthMonitor
	enc      *encoder.Encoder
	hub      *preview.Hub
	states   *state.Store
	manager  *manager.Manager
	journal  *journal.Store
	recorder *journal.Recorder
	notifier notifications.Service
	stats    *metrics.Metrics

	api     *apiServer
	capture *captureMonitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Pipeline       manager.Status
	JournalPath    string
	LockFilePath   string
	SocketPath     string
	CaptureMonitor bool
}

// New constructs a daemon with all pipeline components initialized. The
// session journal is opened immediately; everything else starts on Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	store, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	bus := events.NewBus()
	scene := layers.NewStore(cfg.Stream.Width, cfg.Stream.Height, bus)
	fetcher := assets.NewMediaFetcher(cfg.Assets.FFmpegBinary)
	cache := assets.NewCache(time.Duration(cfg.Assets.TTLSeconds)*time.Second, fetcher, logger, bus)
	comp := compositor.New(cfg.Stream.Width, cfg.Stream.Height, cache, logger)
	workers := pool.New(poolConfig(cfg), logger, bus)
	health := pool.NewHealthMonitor(workers, healthConfig(cfg))
	enc := encoder.New(encoderConfig(cfg), logger, bus)
	hub := preview.NewHub(previewOptions(cfg), logger)
	states := state.NewStore(state.StreamState{
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		TargetFPS:   cfg.Stream.TargetFPS,
		BitrateKbps: cfg.Stream.BitrateKbps,
	}, logger, bus)
	mgr := manager.New(manager.Config{
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		FPS:         cfg.Stream.TargetFPS,
		BitrateKbps: cfg.Stream.BitrateKbps,
	}, scene, comp, workers, enc, hub, states, logger, bus)

	lockPath := filepath.Join(cfg.Paths.LogDir, "streamcastd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		bus:      bus,
		scene:    scene,
		cache:    cache,
		comp:     comp,
		workers:  workers,
		health:   health,
		enc:      enc,
		hub:      hub,
		states:   states,
		manager:  mgr,
		journal:  store,
		recorder: journal.NewRecorder(store, logger),
		notifier: notifications.NewService(cfg),
		stats:    metrics.New(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.capture = newCaptureMonitor(cfg, logger, scene)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the background loops. The
// stream itself stays offline until StartStream is called.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another streamcast daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go d.manager.Run(d.ctx)
	go d.recorder.Run(d.ctx, d.bus)
	go d.stats.Observe(d.ctx, d.bus)
	go d.health.Run(d.ctx)
	go d.watchEvents(d.ctx)

	if err := d.capture.Start(d.ctx); err != nil {
		d.logger.Warn("capture monitor not started", logging.Error(err))
	}
	if err := d.api.start(d.ctx); err != nil {
		d.releaseLock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("streamcast daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop ends any live stream, halts the background loops, and releases the
// daemon lock. Safe to call on a stopped daemon.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.StopStream(stopCtx, "daemon_stop"); err != nil {
		d.logger.Warn("stream did not stop cleanly", logging.Error(err))
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.capture.Stop()
	if err := d.workers.Shutdown(stopCtx); err != nil {
		d.logger.Warn("worker pool shutdown incomplete", logging.Error(err))
	}
	d.hub.Close()
	d.bus.Close()
	d.releaseLock()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("streamcast daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// StartStream brings the pipeline live: encoder up, frame loop ticking, a
// new journal session opened, operators notified.
func (d *Daemon) StartStream(ctx context.Context) error {
	if !d.running.Load() {
		return errors.New("daemon not running")
	}
	if d.manager.Live() {
		return nil
	}
	if err := d.manager.GoLive(ctx); err != nil {
		return err
	}

	sessionID := d.states.Snapshot().SessionID
	if err := d.recorder.Begin(ctx, sessionID); err != nil {
		d.logger.Warn("session not journaled", logging.Error(err))
	}
	d.notify(func(nctx context.Context) error {
		return d.notifier.NotifyStreamStarted(nctx, sessionID)
	})
	return nil
}

// StopStream ends the live session and closes its journal record. Stopping
// an offline stream is a no-op.
func (d *Daemon) StopStream(ctx context.Context, reason string) error {
	if !d.manager.Live() {
		return nil
	}
	before := d.states.Snapshot()
	err := d.manager.Stop(ctx)
	d.finalizeSession(ctx, before, reason, true)
	return err
}

// PauseStream freezes the live output on the current frame.
func (d *Daemon) PauseStream() { d.manager.Pause() }

// ResumeStream continues live compositing after a pause.
func (d *Daemon) ResumeStream() { d.manager.Resume() }

// finalizeSession closes the journal record for the session that was live in
// the before snapshot. Recorder.End is idempotent, so racing the fatal-error
// path is harmless.
func (d *Daemon) finalizeSession(ctx context.Context, before state.StreamState, reason string, announce bool) {
	after := d.states.Snapshot()
	elapsed := time.Since(before.StartedAt)
	var avgFPS float64
	if secs := elapsed.Seconds(); secs > 0 {
		avgFPS = float64(after.FrameCount) / secs
	}
	if err := d.recorder.End(ctx, after.FrameCount, after.DroppedFrames, avgFPS, reason); err != nil {
		d.logger.Warn("session record not closed", logging.Error(err))
	}
	if announce {
		d.notify(func(nctx context.Context) error {
			return d.notifier.NotifyStreamStopped(nctx, before.SessionID, elapsed, after.FrameCount, after.DroppedFrames)
		})
	}
}

// watchEvents reacts to pipeline events the daemon is responsible for:
// operator alerts and closing the journal when a fatal error ends the
// session from inside the pipeline.
func (d *Daemon) watchEvents(ctx context.Context) {
	ch, unsubscribe := d.bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch e := evt.(type) {
			case events.EncoderError:
				if !e.Fatal {
					continue
				}
				detail := e.Err.Error()
				d.notify(func(nctx context.Context) error {
					return d.notifier.NotifyEncoderFatal(nctx, detail)
				})
				d.finalizeSession(ctx, d.states.Snapshot(), "encoder_error: "+detail, false)
			case events.PoolDegraded:
				d.notify(func(nctx context.Context) error {
					return d.notifier.NotifyPoolDegraded(nctx, e.Workers)
				})
			}
		}
	}
}

// notify fires a notification without blocking the caller.
func (d *Daemon) notify(send func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			d.logger.Warn("notification failed", logging.Error(err))
		}
	}()
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Layers returns a paint-ordered snapshot of the scene.
func (d *Daemon) Layers() []layers.Layer {
	return d.scene.Snapshot()
}

// SetVisibility toggles every layer matching the symbolic name or kind and
// returns the ids it changed.
func (d *Daemon) SetVisibility(name string, visible bool) ([]string, error) {
	return d.scene.SetVisibilityByName(name, visible)
}

// AppendChat appends a chat message to every chat layer.
func (d *Daemon) AppendChat(author, text string) error {
	return d.scene.AppendChat(author, text)
}

// Sessions returns the most recent journal sessions, newest first.
func (d *Daemon) Sessions(ctx context.Context, limit int) ([]journal.Session, error) {
	return d.journal.RecentSessions(ctx, limit)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Pipeline:       d.manager.Status(),
		JournalPath:    d.journal.Path(),
		LockFilePath:   d.lockPath,
		SocketPath:     d.cfg.SocketPath(),
		CaptureMonitor: d.capture.Running(),
	}
}

// Dependencies checks the external binaries the configured pipeline
// shells out to.
func (d *Daemon) Dependencies() []deps.Status {
	return deps.CheckBinaries(deps.ForConfig(d.cfg))
}

// Manager exposes the stream manager for the IPC layer.
func (d *Daemon) Manager() *manager.Manager { return d.manager }

// Scene exposes the layer store for callers that mutate the scene directly.
func (d *Daemon) Scene() *layers.Store { return d.scene }

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// refreshGauges pushes the current pipeline snapshot into the metrics
// gauges. Called on every /metrics scrape.
func (d *Daemon) refreshGauges() {
	status := d.manager.Status()
	d.stats.SetStreamLive(status.State.IsLive)
	d.stats.SetCurrentFPS(status.State.CurrentFPS)
	d.stats.SetPoolWorkers(status.Pool.Workers)
	d.stats.SetPoolQueueDepth(status.Pool.QueueLength)
	d.stats.SetPreviewClients(status.PreviewClients)
	d.stats.SetRenderLatencySeconds(status.State.RenderLatency.Seconds())
}

func poolConfig(cfg *config.Config) pool.Config {
	return pool.Config{
		MinWorkers:       cfg.Pool.MinWorkers,
		MaxWorkers:       cfg.Pool.MaxWorkers,
		QueueCapacity:    cfg.Pool.QueueCapacity,
		TaskTimeout:      time.Duration(cfg.Pool.TaskTimeout) * time.Second,
		FailureThreshold: cfg.Pool.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Pool.ResetTimeout) * time.Second,
		Retry: pool.RetryPolicy{
			MaxRetries: cfg.Pool.MaxRetries,
			BaseDelay:  time.Duration(cfg.Pool.RetryBaseDelayMS) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.Pool.RetryMaxDelayMS) * time.Millisecond,
		},
		RenderRatio:      cfg.Pool.RenderRatio,
		EncodeRatio:      cfg.Pool.EncodeRatio,
		MemoryScaleLimit: cfg.Pool.MemoryHighPct,
		MemoryEmergency:  cfg.Pool.MemoryCriticalPct,
		CPUScaleLimit:    cfg.Pool.CPUHighPct,
		ScaleInterval:    time.Duration(cfg.Pool.ScaleInterval) * time.Second,
		WorkerMemoryLimit: uint64(cfg.Health.MaxMemoryMB) << 20,
	}
}

func healthConfig(cfg *config.Config) pool.HealthConfig {
	return pool.HealthConfig{
		ProbeInterval:      time.Duration(cfg.Health.ProbeInterval) * time.Second,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
		HealthyThreshold:   cfg.Health.HealthyThreshold,
		MaxErrorRate:       cfg.Health.MaxErrorRate,
		MaxMemoryMB:        cfg.Health.MaxMemoryMB,
	}
}

func encoderConfig(cfg *config.Config) encoder.Config {
	return encoder.Config{
		FFmpegPath:  cfg.Stream.FFmpegBinary,
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		FPS:         cfg.Stream.TargetFPS,
		BitrateKbps: cfg.Stream.BitrateKbps,
		Codec:       cfg.Stream.Codec,
		Preset:      cfg.Stream.Preset,
		Output:      cfg.OutputTarget(),
	}
}

func previewOptions(cfg *config.Config) preview.Options {
	return preview.Options{
		PingInterval: time.Duration(cfg.Preview.PingInterval) * time.Second,
		PongTimeout:  time.Duration(cfg.Preview.ClientTimeout) * time.Second,
		JPEGQuality:  cfg.Preview.JPEGQuality,
	}
}
