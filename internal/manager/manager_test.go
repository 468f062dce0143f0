package manager

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"streamcast/internal/assets"
	"streamcast/internal/compositor"
	"streamcast/internal/encoder"
	"streamcast/internal/events"
	"streamcast/internal/layers"
	"streamcast/internal/pool"
	"streamcast/internal/preview"
	"streamcast/internal/state"
)

const (
	testWidth  = 64
	testHeight = 36
	testFPS    = 30
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, req assets.Request) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img, nil
}

type pipeline struct {
	manager *Manager
	scene   *layers.Store
	states  *state.Store
	bus     *events.Bus
}

func newTestPipeline(t *testing.T, helperMode string) *pipeline {
	t.Helper()
	restore := encoder.SetCommandForTests(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcessPipeline")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "PIPELINE_HELPER_MODE="+helperMode)
		return cmd
	})
	t.Cleanup(restore)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	scene := layers.NewStore(testWidth, testHeight, bus)
	cache := assets.NewCache(time.Minute, stubFetcher{}, nil, bus)
	comp := compositor.New(testWidth, testHeight, cache, nil)
	workers := pool.New(pool.Config{
		MinWorkers:    2,
		MaxWorkers:    4,
		QueueCapacity: 16,
		TaskTimeout:   5 * time.Second,
		ScaleInterval: time.Hour,
	}, nil, bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = workers.Shutdown(ctx)
	})

	enc := encoder.New(encoder.Config{
		Width:       testWidth,
		Height:      testHeight,
		FPS:         testFPS,
		BitrateKbps: 1000,
		Output:      filepath.Join(t.TempDir(), "out.mp4"),
	}, nil, bus)
	hub := preview.NewHub(preview.Options{}, nil)
	t.Cleanup(hub.Close)
	states := state.NewStore(state.StreamState{}, nil, bus)

	m := New(Config{Width: testWidth, Height: testHeight, FPS: testFPS, BitrateKbps: 1000},
		scene, comp, workers, enc, hub, states, nil, bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return &pipeline{manager: m, scene: scene, states: states, bus: bus}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGoLiveProducesFrames(t *testing.T) {
	p := newTestPipeline(t, "")
	ctx := context.Background()

	if err := p.manager.GoLive(ctx); err != nil {
		t.Fatalf("go live: %v", err)
	}
	if err := p.manager.GoLive(ctx); err != nil {
		t.Fatalf("second go live: %v", err)
	}
	if !p.manager.Live() {
		t.Fatal("manager not live")
	}

	snap := p.states.Snapshot()
	if !snap.IsLive || snap.SessionID == "" || snap.TargetFPS != testFPS {
		t.Fatalf("state = %+v", snap)
	}

	waitFor(t, "encoded frames", func() bool {
		return p.manager.Status().Encoder.FramesSent > 3
	})

	if err := p.manager.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.manager.Live() {
		t.Fatal("manager still live after stop")
	}
	if p.states.Snapshot().IsLive {
		t.Fatal("state still live after stop")
	}
}

func TestPauseFreezesFrameCounterKeepsFeeding(t *testing.T) {
	p := newTestPipeline(t, "")
	ctx := context.Background()
	if err := p.manager.GoLive(ctx); err != nil {
		t.Fatalf("go live: %v", err)
	}

	waitFor(t, "first frames", func() bool {
		return p.manager.Status().Encoder.FramesSent > 0
	})

	p.manager.Pause()
	if !p.states.Snapshot().IsPaused {
		t.Fatal("state not paused")
	}
	sent := p.manager.Status().Encoder.FramesSent
	// The encoder keeps receiving the frozen frame while paused.
	waitFor(t, "frames during pause", func() bool {
		return p.manager.Status().Encoder.FramesSent > sent
	})

	p.manager.Resume()
	if p.states.Snapshot().IsPaused {
		t.Fatal("state still paused after resume")
	}
}

func TestCurrentFrameOfflineIsSolid(t *testing.T) {
	p := newTestPipeline(t, "")
	frame := p.manager.CurrentFrame()
	if frame.Bounds().Dx() != testWidth || frame.Bounds().Dy() != testHeight {
		t.Fatalf("bounds = %v", frame.Bounds())
	}
	first := frame.RGBAAt(0, 0)
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			if frame.RGBAAt(x, y) != first {
				t.Fatalf("offline frame not uniform at %d,%d", x, y)
			}
		}
	}
}

func TestForceRefreshUpdatesHeldFrame(t *testing.T) {
	p := newTestPipeline(t, "")
	ctx := context.Background()
	if err := p.manager.GoLive(ctx); err != nil {
		t.Fatalf("go live: %v", err)
	}
	waitFor(t, "first frames", func() bool {
		return p.manager.Status().Encoder.FramesSent > 0
	})

	frame, err := p.manager.ForceRefresh(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if frame.Bounds().Dx() != testWidth || frame.Bounds().Dy() != testHeight {
		t.Fatalf("bounds = %v", frame.Bounds())
	}
	// The static scene renders identically every tick, so the held frame
	// must match the one the refresh returned.
	held := p.manager.CurrentFrame()
	if !bytes.Equal(held.Pix, frame.Pix) {
		t.Fatal("refreshed frame not held as the current frame")
	}
}

func TestFatalEncoderErrorStopsSession(t *testing.T) {
	p := newTestPipeline(t, "crash")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.manager.Run(ctx)

	if err := p.manager.GoLive(ctx); err != nil {
		t.Fatalf("go live: %v", err)
	}

	waitFor(t, "session to end after fatal error", func() bool {
		return !p.manager.Live()
	})
	snap := p.states.Snapshot()
	if snap.IsLive {
		t.Fatal("state still live")
	}
	if snap.LastError == "" {
		t.Fatal("fatal cause not recorded in state")
	}
}

func TestStatusAggregatesSurfaces(t *testing.T) {
	p := newTestPipeline(t, "")
	if _, err := p.scene.Add(layers.Layer{
		Name:    "host-cam",
		Kind:    layers.KindHost,
		Content: layers.HostContent{},
		ZIndex:  10,
		Visible: true,
		Opacity: 1.0,
	}); err != nil {
		t.Fatalf("add layer: %v", err)
	}

	status := p.manager.Status()
	if status.LayerCount != 1 {
		t.Fatalf("layer count = %d, want 1", status.LayerCount)
	}
	if status.Pool.Workers < 2 {
		t.Fatalf("pool workers = %d, want at least 2", status.Pool.Workers)
	}
	if status.Encoder.Running {
		t.Fatal("encoder running before go live")
	}
}

// TestHelperProcessPipeline stands in for ffmpeg.
func TestHelperProcessPipeline(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if os.Getenv("PIPELINE_HELPER_MODE") == "crash" {
		// Consume a little input, then die like a broken connection.
		buf := make([]byte, 1024)
		_, _ = os.Stdin.Read(buf)
		os.Exit(1)
	}
	_, _ = io.Copy(io.Discard, bufio.NewReader(os.Stdin))
	os.Exit(0)
}
