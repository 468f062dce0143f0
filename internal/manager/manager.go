// Package manager drives the streaming pipeline: a frame ticker renders the
// current scene through the worker pool, feeds the encoder, and mirrors
// frames to the preview hub. The manager owns the live/pause/stop lifecycle
// and is the only component that writes to the state store.
package manager

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamcast/internal/compositor"
	"streamcast/internal/encoder"
	"streamcast/internal/events"
	"streamcast/internal/layers"
	"streamcast/internal/logging"
	"streamcast/internal/pool"
	"streamcast/internal/preview"
	"streamcast/internal/state"
)

// offlineFill is the frame color shown when no stream is live.
var offlineFill = color.RGBA{R: 12, G: 12, B: 16, A: 255}

// Config carries the output geometry and rate the manager ticks at.
type Config struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
}

// Status aggregates the pipeline surfaces for the API and CLI.
type Status struct {
	State          state.StreamState
	Pool           pool.Metrics
	Encoder        encoder.Metrics
	LayerCount     int
	PreviewClients int
}

// Manager coordinates the render/encode/preview pipeline.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus

	scene   *layers.Store
	comp    *compositor.Compositor
	workers *pool.Pool
	enc     *encoder.Encoder
	hub     *preview.Hub
	states  *state.Store

	mu        sync.Mutex
	running   bool
	paused    bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	lastFrame *image.RGBA

	// Tick-local counters, flushed to the state store once per second.
	frameCount uint64
	dropped    uint64
	latency    time.Duration
}

func New(cfg Config, scene *layers.Store, comp *compositor.Compositor, workers *pool.Pool, enc *encoder.Encoder, hub *preview.Hub, states *state.Store, logger *slog.Logger, bus *events.Bus) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "manager"),
		bus:     bus,
		scene:   scene,
		comp:    comp,
		workers: workers,
		enc:     enc,
		hub:     hub,
		states:  states,
	}
}

// GoLive starts the encoder and the frame loop. Going live while live is a
// no-op.
func (m *Manager) GoLive(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if err := m.enc.Start(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("go live: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.running = true
	m.paused = false
	m.cancel = cancel
	m.loopDone = make(chan struct{})
	m.frameCount = 0
	m.dropped = 0
	m.latency = 0
	sessionID := uuid.NewString()
	m.mu.Unlock()

	m.states.Update(func(s *state.StreamState) {
		s.IsLive = true
		s.IsPaused = false
		s.SessionID = sessionID
		s.StartedAt = time.Now()
		s.Width = m.cfg.Width
		s.Height = m.cfg.Height
		s.TargetFPS = m.cfg.FPS
		s.BitrateKbps = m.cfg.BitrateKbps
		s.FrameCount = 0
		s.DroppedFrames = 0
		s.LastError = ""
	})
	m.hub.UpdateConfig(preview.ConfigMessage{
		Width:  m.cfg.Width,
		Height: m.cfg.Height,
		FPS:    m.cfg.FPS,
		IsLive: true,
	})
	m.logger.Info("stream live",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("fps", m.cfg.FPS))

	go m.frameLoop(loopCtx, m.loopDone)
	return nil
}

// Pause freezes the output on the last rendered frame. The encoder keeps
// receiving frames so the downstream connection stays up.
func (m *Manager) Pause() {
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = true
	m.mu.Unlock()
	m.states.Update(func(s *state.StreamState) { s.IsPaused = true })
	m.logger.Info("stream paused")
}

// Resume continues live compositing after a pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.running || !m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = false
	m.mu.Unlock()
	m.states.Update(func(s *state.StreamState) { s.IsPaused = false })
	m.logger.Info("stream resumed")
}

// Stop ends the session: the frame loop drains, then the encoder shuts
// down. Stopping a stopped manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	return m.stop(ctx, "")
}

func (m *Manager) stop(ctx context.Context, cause string) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.paused = false
	cancel := m.cancel
	loopDone := m.loopDone
	m.mu.Unlock()

	cancel()
	select {
	case <-loopDone:
	case <-ctx.Done():
	}

	err := m.enc.Stop()
	m.flushCounters()
	m.states.Update(func(s *state.StreamState) {
		s.IsLive = false
		s.IsPaused = false
		s.CurrentFPS = 0
		if cause != "" {
			s.LastError = cause
		}
	})
	m.hub.UpdateConfig(preview.ConfigMessage{
		Width:  m.cfg.Width,
		Height: m.cfg.Height,
		FPS:    m.cfg.FPS,
		IsLive: false,
	})
	if cause != "" {
		m.logger.Error("stream stopped", logging.String("cause", cause))
	} else {
		m.logger.Info("stream stopped")
	}
	return err
}

// Run subscribes to pipeline events and reacts until ctx is cancelled. A
// fatal encoder error ends the session.
func (m *Manager) Run(ctx context.Context) {
	if m.bus == nil {
		<-ctx.Done()
		return
	}
	ch, unsubscribe := m.bus.Subscribe(32)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			encErr, isEnc := evt.(events.EncoderError)
			if !isEnc || !encErr.Fatal {
				continue
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = m.stop(stopCtx, encErr.Err.Error())
			cancel()
		}
	}
}

// frameLoop ticks at the target rate and pushes one frame per tick.
func (m *Manager) frameLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(m.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			m.flushCounters()
		case <-ticker.C:
			m.tick(ctx, interval)
		}
	}
}

// tick renders (or reuses) a frame and hands it to the encoder and preview.
func (m *Manager) tick(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	paused := m.paused
	frozen := m.lastFrame
	m.mu.Unlock()

	var frame *image.RGBA
	switch {
	case paused && frozen != nil:
		frame = frozen
	default:
		rendered, err := m.renderOnce(ctx, interval)
		if err != nil {
			m.recordDrop(err)
			return
		}
		frame = rendered
	}

	m.mu.Lock()
	m.lastFrame = frame
	m.frameCount++
	m.mu.Unlock()

	if err := m.enc.SendFrame(frame.Pix); err != nil {
		m.recordDrop(err)
	}
	m.hub.BroadcastFrame(frame)
	m.publish(events.FrameRendered{Sequence: m.snapshotFrameCount(), Latency: m.snapshotLatency()})
}

// renderOnce submits a composite task at normal priority, leaving the high
// tier free for operator-forced refreshes, and waits at most one frame
// interval for it.
func (m *Manager) renderOnce(ctx context.Context, interval time.Duration) (*image.RGBA, error) {
	return m.render(ctx, interval, pool.PriorityNormal)
}

// ForceRefresh renders the current scene ahead of queued ticks and replaces
// the held frame, so an operator edit shows up without waiting out a
// saturated queue.
func (m *Manager) ForceRefresh(ctx context.Context, timeout time.Duration) (*image.RGBA, error) {
	frame, err := m.render(ctx, timeout, pool.PriorityHigh)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastFrame = frame
	m.mu.Unlock()
	return frame, nil
}

func (m *Manager) render(ctx context.Context, interval time.Duration, priority pool.Priority) (*image.RGBA, error) {
	scene := m.scene.VisibleSnapshot()
	start := time.Now()
	handle, err := m.workers.Submit(priority, func(taskCtx context.Context) (any, error) {
		return m.comp.RenderScene(taskCtx, scene), nil
	})
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	value, err := handle.Wait(waitCtx)
	if err != nil {
		m.workers.Cancel(handle.ID)
		return nil, err
	}
	frame, ok := value.(*image.RGBA)
	if !ok || frame == nil {
		return nil, errors.New("render task returned no frame")
	}

	elapsed := time.Since(start)
	m.mu.Lock()
	if m.latency == 0 {
		m.latency = elapsed
	} else {
		m.latency = time.Duration(float64(m.latency)*0.9 + float64(elapsed)*0.1)
	}
	m.mu.Unlock()
	return frame, nil
}

// recordDrop counts a missed frame. ErrEncoderBusy and queue saturation are
// expected backpressure, not failures.
func (m *Manager) recordDrop(err error) {
	m.mu.Lock()
	m.dropped++
	count := m.dropped
	m.mu.Unlock()
	if count%30 == 1 {
		m.logger.Warn("dropping frames", logging.Uint64("dropped", count), logging.Error(err))
	}
}

// flushCounters pushes tick-local counters into the state store.
func (m *Manager) flushCounters() {
	m.mu.Lock()
	frames := m.frameCount
	dropped := m.dropped
	latency := m.latency
	m.mu.Unlock()

	encMetrics := m.enc.Metrics()
	m.states.Update(func(s *state.StreamState) {
		s.FrameCount = frames
		s.DroppedFrames = dropped
		s.RenderLatency = latency
		s.CurrentFPS = encMetrics.CurrentFPS
	})
}

// CurrentFrame returns the last composed frame, or a solid offline frame
// when nothing has been rendered yet.
func (m *Manager) CurrentFrame() *image.RGBA {
	m.mu.Lock()
	frame := m.lastFrame
	running := m.running
	m.mu.Unlock()
	if frame == nil || !running {
		return m.comp.SolidFrame(offlineFill)
	}
	clone := image.NewRGBA(frame.Bounds())
	copy(clone.Pix, frame.Pix)
	return clone
}

// Status aggregates all pipeline surfaces.
func (m *Manager) Status() Status {
	return Status{
		State:          m.states.Snapshot(),
		Pool:           m.workers.Metrics(),
		Encoder:        m.enc.Metrics(),
		LayerCount:     m.scene.Count(),
		PreviewClients: m.hub.ClientCount(),
	}
}

// Live reports whether a session is running.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) snapshotFrameCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameCount
}

func (m *Manager) snapshotLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
