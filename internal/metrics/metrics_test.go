package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"streamcast/internal/events"
)

func scrape(t *testing.T, m *Metrics, updateGauges func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler(updateGauges).ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(body)
}

func TestScrapeExposesPipelineMetrics(t *testing.T) {
	m := New()
	m.IncFramesRendered()
	m.IncFramesRendered()
	m.IncFramesDropped()
	m.IncEncoderErrors(true)

	refreshed := false
	body := scrape(t, m, func() {
		refreshed = true
		m.SetStreamLive(true)
		m.SetPoolWorkers(4)
		m.SetCurrentFPS(29.7)
	})
	if !refreshed {
		t.Fatal("gauge refresh hook not called")
	}

	for _, want := range []string{
		"streamcast_frames_rendered_total 2",
		"streamcast_frames_dropped_total 1",
		`streamcast_encoder_errors_total{severity="fatal"} 1`,
		"streamcast_stream_live 1",
		"streamcast_pool_workers 4",
		"streamcast_current_fps 29.7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestObserveCountsBusEvents(t *testing.T) {
	m := New()
	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Observe(ctx, bus)

	bus.Publish(events.FrameRendered{Sequence: 1})
	bus.Publish(events.WorkerReplaced{OldID: "a", NewID: "b", Reason: "task_timeout"})
	bus.Publish(events.EncoderError{Err: errors.New("warn"), Fatal: false})
	bus.Publish(events.SceneUpdated{LayerID: "l1"})
	bus.Publish(events.AssetLoaded{Key: "k"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		body := scrape(t, m, nil)
		done := strings.Contains(body, "streamcast_frames_rendered_total 1") &&
			strings.Contains(body, "streamcast_workers_replaced_total 1") &&
			strings.Contains(body, `streamcast_encoder_errors_total{severity="recoverable"} 1`) &&
			strings.Contains(body, "streamcast_scene_updates_total 1") &&
			strings.Contains(body, "streamcast_asset_loads_total 1")
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("counters never converged:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
