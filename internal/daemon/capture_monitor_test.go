package daemon

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"

	"streamcast/internal/layers"
	"streamcast/internal/testsupport"
)

func newCaptureScene(t *testing.T) *layers.Store {
	t.Helper()
	scene := layers.NewStore(128, 72, nil)
	if _, err := scene.Add(layers.Layer{
		Name:    "visualFeed",
		Kind:    layers.KindVisualFeed,
		Content: layers.VisualFeedContent{Source: "/dev/video0"},
		Visible: true,
		Opacity: 1,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return scene
}

func TestNewCaptureMonitor(t *testing.T) {
	t.Run("empty device returns nil", func(t *testing.T) {
		cfg := testsupport.NewConfig(t)
		if m := newCaptureMonitor(cfg, nil, nil); m != nil {
			t.Error("expected nil monitor without a configured device")
		}
	})

	t.Run("configured device creates monitor", func(t *testing.T) {
		cfg := testsupport.NewConfig(t, testsupport.WithCaptureDevice("/dev/video0"))
		m := newCaptureMonitor(cfg, nil, nil)
		if m == nil {
			t.Fatal("expected non-nil monitor")
		}
		if m.device != "/dev/video0" {
			t.Errorf("device = %s, want /dev/video0", m.device)
		}
	})
}

func TestCaptureMonitorNilSafety(t *testing.T) {
	var m *captureMonitor
	if m.Running() {
		t.Error("nil monitor should not report running")
	}
	m.Stop() // must not panic
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor: %v", err)
	}
}

func TestCaptureMonitorStopIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCaptureDevice("/dev/video0"))
	m := newCaptureMonitor(cfg, nil, newCaptureScene(t))
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("unexpected running state")
	}
}

func TestCaptureMatcher(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCaptureDevice("/dev/video0"))
	m := newCaptureMonitor(cfg, nil, newCaptureScene(t))
	matcher := m.buildMatcher()

	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{
			name: "v4l add matches",
			event: netlink.UEvent{
				Action: netlink.ADD,
				Env:    map[string]string{"SUBSYSTEM": "video4linux"},
			},
			want: true,
		},
		{
			name: "v4l remove matches",
			event: netlink.UEvent{
				Action: netlink.REMOVE,
				Env:    map[string]string{"SUBSYSTEM": "video4linux"},
			},
			want: true,
		},
		{
			name: "change action rejected",
			event: netlink.UEvent{
				Action: netlink.CHANGE,
				Env:    map[string]string{"SUBSYSTEM": "video4linux"},
			},
			want: false,
		},
		{
			name: "other subsystem rejected",
			event: netlink.UEvent{
				Action: netlink.ADD,
				Env:    map[string]string{"SUBSYSTEM": "block"},
			},
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matcher.Evaluate(tc.event); got != tc.want {
				t.Errorf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCaptureHandleEventTogglesVisualFeed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCaptureDevice("/dev/video0"))
	scene := newCaptureScene(t)
	m := newCaptureMonitor(cfg, nil, scene)

	m.handleEvent(netlink.UEvent{
		Action: netlink.REMOVE,
		Env:    map[string]string{"DEVNAME": "video0", "SUBSYSTEM": "video4linux"},
	})
	if scene.Snapshot()[0].Visible {
		t.Fatal("expected feed hidden after device removal")
	}

	m.handleEvent(netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"DEVNAME": "/dev/video0", "SUBSYSTEM": "video4linux"},
	})
	if !scene.Snapshot()[0].Visible {
		t.Fatal("expected feed visible after device return")
	}
}

func TestCaptureHandleEventIgnoresOtherDevices(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCaptureDevice("/dev/video0"))
	scene := newCaptureScene(t)
	m := newCaptureMonitor(cfg, nil, scene)

	m.handleEvent(netlink.UEvent{
		Action: netlink.REMOVE,
		Env:    map[string]string{"DEVNAME": "/dev/video7"},
	})
	if !scene.Snapshot()[0].Visible {
		t.Fatal("event for another device must not toggle the feed")
	}
}

func TestExtractDeviceName(t *testing.T) {
	cases := []struct {
		name  string
		event netlink.UEvent
		want  string
	}{
		{
			name:  "devname absolute",
			event: netlink.UEvent{Env: map[string]string{"DEVNAME": "/dev/video0"}},
			want:  "/dev/video0",
		},
		{
			name:  "devname relative",
			event: netlink.UEvent{Env: map[string]string{"DEVNAME": "video0"}},
			want:  "/dev/video0",
		},
		{
			name:  "devpath fallback",
			event: netlink.UEvent{Env: map[string]string{"DEVPATH": "/devices/pci0000:00/usb1/1-2/video4linux/video0"}},
			want:  "/dev/video0",
		},
		{
			name:  "empty env",
			event: netlink.UEvent{Env: map[string]string{}},
			want:  "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractDeviceName(tc.event); got != tc.want {
				t.Errorf("extractDeviceName = %q, want %q", got, tc.want)
			}
		})
	}
}
