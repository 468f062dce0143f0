package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamcast/internal/events"
)

// stubEncoderProcess reroutes commandContext to the test binary running
// TestHelperProcessEncoder. The helper consumes stdin and can be steered
// through environment variables.
func stubEncoderProcess(t *testing.T, env ...string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcessEncoder")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		cmd.Env = append(cmd.Env, env...)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func testEncoderConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Width:       4,
		Height:      2,
		FPS:         30,
		BitrateKbps: 4500,
		Output:      filepath.Join(t.TempDir(), "out.mp4"),
		QueueSize:   2,
		StopTimeout: 5 * time.Second,
	}
}

func TestStartStopIdempotent(t *testing.T) {
	stubEncoderProcess(t)
	e := New(testEncoderConfig(t), nil, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !e.Running() {
		t.Fatal("encoder not running after start")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if e.Running() {
		t.Fatal("encoder still running after stop")
	}
}

func TestSendFrameValidatesAndCounts(t *testing.T) {
	stubEncoderProcess(t)
	cfg := testEncoderConfig(t)
	e := New(cfg, nil, nil)

	if err := e.SendFrame(make([]byte, cfg.frameSize())); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("send before start: err = %v, want ErrNotRunning", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	if err := e.SendFrame(make([]byte, 3)); err == nil {
		t.Fatal("undersized frame accepted")
	}
	if err := e.SendFrame(make([]byte, cfg.frameSize())); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := e.Metrics()
	if m.FramesSent != 1 || m.BytesSent != uint64(cfg.frameSize()) {
		t.Fatalf("metrics = %+v, want 1 frame / %d bytes", m, cfg.frameSize())
	}
}

func TestSendFrameBackpressure(t *testing.T) {
	// The helper never reads stdin, so frames pile up in the buffer. Frames
	// must exceed the OS pipe buffer so the feeder actually blocks.
	stubEncoderProcess(t, "ENCODER_HELPER_MODE=stall")
	cfg := testEncoderConfig(t)
	cfg.Width = 512
	cfg.Height = 128
	cfg.QueueSize = 1
	e := New(cfg, nil, nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		// The stalled process ignores EOF; kill it through the context.
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		cancel()
		_ = e.Stop()
	}()

	// Fill the buffer plus the frame the feeder may have already claimed,
	// then expect rejection.
	busy := false
	for i := 0; i < cfg.QueueSize+8; i++ {
		if err := e.SendFrame(make([]byte, cfg.frameSize())); errors.Is(err, ErrEncoderBusy) {
			busy = true
			break
		}
	}
	if !busy {
		t.Fatal("no ErrEncoderBusy with a stalled consumer")
	}
	if e.Metrics().DroppedFrames == 0 {
		t.Fatal("dropped frame not counted")
	}
}

func TestUnexpectedExitPublishesFatal(t *testing.T) {
	stubEncoderProcess(t, "ENCODER_HELPER_MODE=crash")
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	e := New(testEncoderConfig(t), nil, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			encErr, ok := evt.(events.EncoderError)
			if !ok || !encErr.Fatal {
				continue
			}
			stop := time.Now().Add(2 * time.Second)
			for e.Running() {
				if time.Now().After(stop) {
					t.Fatal("encoder still marked running after fatal exit")
				}
				time.Sleep(5 * time.Millisecond)
			}
			return
		case <-deadline:
			t.Fatal("no fatal EncoderError after process crash")
		}
	}
}

func TestStderrClassificationPublishesEvents(t *testing.T) {
	stderr := "Connection refused\n[flv] Non-monotonous DTS in output stream\nframe=  118 fps= 30\n"
	stubEncoderProcess(t, "ENCODER_HELPER_MODE=stderr", "ENCODER_HELPER_STDERR="+strings.ReplaceAll(stderr, "\n", "|"))
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	e := New(testEncoderConfig(t), nil, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	var fatal, recoverable int
	deadline := time.After(5 * time.Second)
	for fatal == 0 || recoverable == 0 {
		select {
		case evt := <-ch:
			encErr, ok := evt.(events.EncoderError)
			if !ok {
				continue
			}
			if encErr.Fatal {
				fatal++
			} else {
				recoverable++
			}
		case <-deadline:
			t.Fatalf("events fatal=%d recoverable=%d, want at least one of each", fatal, recoverable)
		}
	}
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		line string
		want severity
	}{
		{"Error initializing output stream 0:0", severityFatal},
		{"rtmp://live: Connection refused", severityFatal},
		{"av_interleaved_write_frame(): Broken pipe", severityFatal},
		{"Past duration 0.99 too large", severityRecoverable},
		{"Non-monotonous DTS in output stream", severityRecoverable},
		{"frame=  118 fps= 30 q=23.0 size=512kB", severityInfo},
	}
	for _, tc := range tests {
		if got := classifyStderr(tc.line); got != tc.want {
			t.Errorf("classifyStderr(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestUpdateConfigRestartsRunningEncoder(t *testing.T) {
	stubEncoderProcess(t)
	cfg := testEncoderConfig(t)
	e := New(cfg, nil, nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	cfg.BitrateKbps = 6000
	if err := e.UpdateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("update: %v", err)
	}
	m := e.Metrics()
	if !m.Running {
		t.Fatal("encoder not running after config update")
	}
	if m.Restarts != 1 {
		t.Fatalf("restarts = %d, want 1", m.Restarts)
	}

	// Updating a stopped encoder just stores the config.
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := e.UpdateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("update while stopped: %v", err)
	}
	if e.Running() {
		t.Fatal("update of a stopped encoder started it")
	}
	if e.Metrics().Restarts != 1 {
		t.Fatal("update of a stopped encoder counted a restart")
	}
}

func TestBuildArgsSelectsFLVForRTMP(t *testing.T) {
	cfg := Config{Width: 1920, Height: 1080, FPS: 30, BitrateKbps: 4500, Codec: "libx264", Preset: "veryfast", Output: "rtmp://live.example/app/key"}
	args := strings.Join(buildArgs(cfg), " ")
	if !strings.Contains(args, "-f flv") {
		t.Fatalf("rtmp target missing flv muxer: %s", args)
	}
	if !strings.Contains(args, "-s 1920x1080") || !strings.Contains(args, "-b:v 4500k") {
		t.Fatalf("unexpected args: %s", args)
	}

	cfg.Output = "/tmp/out.mp4"
	if strings.Contains(strings.Join(buildArgs(cfg), " "), "-f flv") {
		t.Fatal("file target should not force flv")
	}
}

func TestRedactTarget(t *testing.T) {
	got := redactTarget("rtmp://live.example/app/s3cret-key")
	if strings.Contains(got, "s3cret") {
		t.Fatalf("stream key leaked: %s", got)
	}
	if got != "rtmp://live.example/app/<redacted>" {
		t.Fatalf("redactTarget = %s", got)
	}
	if redactTarget("/tmp/out.mp4") != "/tmp/out.mp4" {
		t.Fatal("file target should pass through")
	}
}

// TestHelperProcessEncoder stands in for ffmpeg. Default mode drains stdin
// until EOF and exits cleanly.
func TestHelperProcessEncoder(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("ENCODER_HELPER_MODE") {
	case "crash":
		fmt.Fprintln(os.Stderr, "Error initializing output stream 0:0")
		os.Exit(1)
	case "stall":
		// Never read stdin; block until killed.
		select {}
	case "stderr":
		for _, line := range strings.Split(os.Getenv("ENCODER_HELPER_STDERR"), "|") {
			if line != "" {
				fmt.Fprintln(os.Stderr, line)
			}
		}
		_, _ = io.Copy(io.Discard, bufio.NewReader(os.Stdin))
		os.Exit(0)
	default:
		_, _ = io.Copy(io.Discard, bufio.NewReader(os.Stdin))
		os.Exit(0)
	}
}
