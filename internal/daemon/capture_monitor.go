package daemon

import (
	"context"
	"strings"
	"sync"

	"log/slog"

	"github.com/pilebones/go-udev/netlink"

	"streamcast/internal/config"
	"streamcast/internal/layers"
	"streamcast/internal/logging"
)

// visualFeedName is the symbolic layer name the monitor toggles. It matches
// layers by Name or by the visualFeed kind fallback.
const visualFeedName = string(layers.KindVisualFeed)

// captureMonitor listens for udev netlink events on the video4linux
// subsystem and toggles visual feed layer visibility when the configured
// capture device disappears or returns. Without it a yanked capture cable
// would leave a frozen feed frame in the composite until an operator
// noticed.
type captureMonitor struct {
	logger *slog.Logger
	scene  *layers.Store
	device string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// newCaptureMonitor returns nil when no capture device is configured; the
// daemon then runs without hotplug handling.
func newCaptureMonitor(cfg *config.Config, logger *slog.Logger, scene *layers.Store) *captureMonitor {
	device := strings.TrimSpace(cfg.Capture.Device)
	if device == "" {
		return nil
	}
	return &captureMonitor{
		logger: logging.NewComponentLogger(logger, "capture-monitor"),
		scene:  scene,
		device: device,
	}
}

// Start begins listening for udev netlink events. A connect failure is
// non-fatal: the stream works without hotplug handling, feed visibility just
// has to be toggled manually.
func (m *captureMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; capture hotplug detection unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"))
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("capture monitor started", logging.String("device", m.device))
	return nil
}

// Stop shuts down the capture monitor.
func (m *captureMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("capture monitor stopped")
}

// Running reports whether the capture monitor is active.
func (m *captureMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *captureMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("capture monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"))
		}
	}
}

// buildMatcher matches add/remove events on the video4linux subsystem.
func (m *captureMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

// handleEvent toggles the visual feed when the configured device appears or
// disappears.
func (m *captureMonitor) handleEvent(uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" || devname != m.device {
		return
	}

	visible := uevent.Action != netlink.REMOVE
	ids, err := m.scene.SetVisibilityByName(visualFeedName, visible)
	if err != nil {
		m.logger.Warn("visual feed visibility not updated",
			logging.Error(err),
			logging.String("device", devname),
			logging.String("action", string(uevent.Action)))
		return
	}

	m.logger.Info("capture device hotplug",
		logging.String("device", devname),
		logging.String("action", string(uevent.Action)),
		logging.Int("layers_toggled", len(ids)),
		logging.Bool("visible", visible))
}

// extractDeviceName gets the device path from a uevent.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if strings.HasPrefix(devname, "/dev/") {
			return devname
		}
		return "/dev/" + devname
	}

	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	if len(parts) == 0 {
		return ""
	}
	return "/dev/" + parts[len(parts)-1]
}
