package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"streamcast/internal/events"
	"streamcast/internal/logging"
)

// commandContext is swapped out by tests to avoid launching a real ffmpeg.
var commandContext = exec.CommandContext

var (
	// ErrEncoderBusy reports a frame rejected because the input buffer is
	// full. Callers treat this as a dropped frame, not a failure.
	ErrEncoderBusy = errors.New("encoder input buffer full")

	// ErrNotRunning reports an operation that needs a live encoder process.
	ErrNotRunning = errors.New("encoder not running")
)

// Config describes one encoder session.
type Config struct {
	FFmpegPath  string
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	Codec       string
	Preset      string
	Output      string
	QueueSize   int
	StopTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Codec == "" {
		c.Codec = "libx264"
	}
	if c.Preset == "" {
		c.Preset = "veryfast"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}

// frameSize returns the expected byte length of one RGBA frame.
func (c Config) frameSize() int {
	return c.Width * c.Height * 4
}

// Metrics is a snapshot of encoder throughput.
type Metrics struct {
	Running       bool
	FramesSent    uint64
	BytesSent     uint64
	DroppedFrames uint64
	Restarts      uint64
	CurrentFPS    float64
}

// Encoder manages the ffmpeg subprocess lifecycle and the frame feed into
// its stdin. All methods are safe for concurrent use.
type Encoder struct {
	logger *slog.Logger
	bus    *events.Bus

	mu        sync.Mutex
	cfg       Config
	running   bool
	cancel    context.CancelFunc
	stdin     io.WriteCloser
	frames    chan []byte
	waitDone  chan struct{}
	framesIn  uint64
	bytesIn   uint64
	dropped   uint64
	restarts  uint64
	lastFrame time.Time
	fps       float64
}

func New(cfg Config, logger *slog.Logger, bus *events.Bus) *Encoder {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{
		logger: logging.NewComponentLogger(logger, "encoder"),
		bus:    bus,
		cfg:    cfg,
	}
}

// Start launches the ffmpeg process. Calling Start on a running encoder is
// a no-op.
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked(ctx)
}

func (e *Encoder) startLocked(ctx context.Context) error {
	if e.running {
		return nil
	}
	if e.cfg.Width <= 0 || e.cfg.Height <= 0 || e.cfg.FPS <= 0 {
		return fmt.Errorf("invalid encoder dimensions %dx%d@%d", e.cfg.Width, e.cfg.Height, e.cfg.FPS)
	}
	if strings.TrimSpace(e.cfg.Output) == "" {
		return errors.New("encoder output target not configured")
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := commandContext(procCtx, e.cfg.FFmpegPath, buildArgs(e.cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("encoder stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("encoder stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", e.cfg.FFmpegPath, err)
	}

	e.running = true
	e.cancel = cancel
	e.stdin = stdin
	e.frames = make(chan []byte, e.cfg.QueueSize)
	e.waitDone = make(chan struct{})
	e.lastFrame = time.Time{}
	e.fps = 0

	e.logger.Info("encoder started",
		logging.String("output", redactTarget(e.cfg.Output)),
		logging.Int("width", e.cfg.Width),
		logging.Int("height", e.cfg.Height),
		logging.Int("fps", e.cfg.FPS),
		logging.Int("bitrate_kbps", e.cfg.BitrateKbps))

	go e.feed(e.frames, stdin)
	go e.scanStderr(stderr)
	go e.wait(cmd, e.frames, e.waitDone)
	return nil
}

// buildArgs assembles the ffmpeg invocation: raw RGBA on stdin, encoded
// stream at cfg.Output.
func buildArgs(cfg Config) []string {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FPS),
		"-i", "-",
		"-c:v", cfg.Codec,
		"-preset", cfg.Preset,
		"-b:v", fmt.Sprintf("%dk", cfg.BitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", cfg.BitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", cfg.BitrateKbps*2),
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(cfg.FPS * 2),
	}
	if strings.HasPrefix(cfg.Output, "rtmp://") || strings.HasPrefix(cfg.Output, "rtmps://") {
		args = append(args, "-f", "flv")
	}
	return append(args, cfg.Output)
}

// redactTarget strips the stream key path segment from an rtmp target so it
// never reaches the logs.
func redactTarget(target string) string {
	if !strings.HasPrefix(target, "rtmp") {
		return target
	}
	idx := strings.LastIndex(target, "/")
	if idx <= len("rtmps://") {
		return target
	}
	return target[:idx] + "/<redacted>"
}

// SendFrame queues one RGBA frame for encoding. The caller hands over
// ownership of the slice. A full buffer rejects the frame immediately with
// ErrEncoderBusy.
func (e *Encoder) SendFrame(frame []byte) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	if len(frame) != e.cfg.frameSize() {
		size := e.cfg.frameSize()
		e.mu.Unlock()
		return fmt.Errorf("frame is %d bytes, want %d", len(frame), size)
	}
	frames := e.frames
	select {
	case frames <- frame:
		e.framesIn++
		e.bytesIn += uint64(len(frame))
		now := time.Now()
		if !e.lastFrame.IsZero() {
			if delta := now.Sub(e.lastFrame).Seconds(); delta > 0 {
				instant := 1 / delta
				if e.fps == 0 {
					e.fps = instant
				} else {
					e.fps = e.fps*0.9 + instant*0.1
				}
			}
		}
		e.lastFrame = now
		e.mu.Unlock()
		return nil
	default:
		e.dropped++
		e.mu.Unlock()
		return ErrEncoderBusy
	}
}

// feed drains the frame channel into the process stdin until the channel
// closes or a write fails.
func (e *Encoder) feed(frames <-chan []byte, stdin io.WriteCloser) {
	for frame := range frames {
		if _, err := stdin.Write(frame); err != nil {
			e.logger.Error("frame write failed", logging.Error(err))
			e.publish(events.EncoderError{Err: fmt.Errorf("frame write: %w", err), Fatal: true})
			e.mu.Lock()
			e.stopProcessLocked()
			e.mu.Unlock()
			return
		}
	}
	_ = stdin.Close()
}

// scanStderr classifies ffmpeg diagnostics and surfaces them as events.
func (e *Encoder) scanStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch classifyStderr(line) {
		case severityFatal:
			e.logger.Error("encoder fatal", logging.String("line", line))
			e.publish(events.EncoderError{Err: errors.New(line), Fatal: true})
		case severityRecoverable:
			e.logger.Warn("encoder warning", logging.String("line", line))
			e.publish(events.EncoderError{Err: errors.New(line), Fatal: false})
		default:
			e.logger.Debug("encoder stderr", logging.String("line", line))
		}
	}
}

// wait reaps the process. An exit while the encoder is still marked running
// was not requested by Stop and counts as fatal.
func (e *Encoder) wait(cmd *exec.Cmd, frames chan []byte, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	e.mu.Lock()
	unexpected := e.running && e.frames == frames
	if unexpected {
		e.stopProcessLocked()
	}
	e.mu.Unlock()

	if unexpected {
		if err == nil {
			err = errors.New("process exited")
		}
		e.logger.Error("encoder exited unexpectedly", logging.Error(err))
		e.publish(events.EncoderError{Err: fmt.Errorf("encoder exited: %w", err), Fatal: true})
	}
}

// stopProcessLocked tears down the running session state. Safe to call
// multiple times.
func (e *Encoder) stopProcessLocked() {
	if !e.running {
		return
	}
	e.running = false
	close(e.frames)
	if e.cancel != nil {
		e.cancel()
	}
}

// Stop closes the frame feed and waits for the process to drain and exit.
// After StopTimeout the process is killed through its context. Stopping a
// stopped encoder is a no-op.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.frames)
	waitDone := e.waitDone
	cancel := e.cancel
	timeout := e.cfg.StopTimeout
	e.mu.Unlock()

	select {
	case <-waitDone:
	case <-time.After(timeout):
		e.logger.Warn("encoder did not drain, killing process")
		cancel()
		<-waitDone
	}
	cancel()
	e.logger.Info("encoder stopped")
	return nil
}

// UpdateConfig applies a new configuration. A running encoder restarts so
// the new dimensions, rate and codec take effect; raw-frame geometry cannot
// change mid-process.
func (e *Encoder) UpdateConfig(ctx context.Context, cfg Config) error {
	cfg.applyDefaults()
	e.mu.Lock()
	wasRunning := e.running
	e.mu.Unlock()

	if wasRunning {
		if err := e.Stop(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.cfg = cfg
	if wasRunning {
		e.restarts++
		err := e.startLocked(ctx)
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()
	return nil
}

// Running reports whether the process is live.
func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Metrics returns a throughput snapshot.
func (e *Encoder) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metrics{
		Running:       e.running,
		FramesSent:    e.framesIn,
		BytesSent:     e.bytesIn,
		DroppedFrames: e.dropped,
		Restarts:      e.restarts,
		CurrentFPS:    e.fps,
	}
}

func (e *Encoder) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
