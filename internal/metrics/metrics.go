// Package metrics exposes pipeline counters and gauges in Prometheus
// format. Gauges are refreshed from the pipeline snapshot on each scrape;
// counters are fed by the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the streaming pipeline.
type Metrics struct {
	registry *prometheus.Registry

	framesRenderedTotal  prometheus.Counter
	framesDroppedTotal   prometheus.Counter
	encoderErrorsTotal   *prometheus.CounterVec
	workersReplacedTotal prometheus.Counter
	assetLoadsTotal      prometheus.Counter
	sceneUpdatesTotal    prometheus.Counter

	streamLive     prometheus.Gauge
	currentFPS     prometheus.Gauge
	poolWorkers    prometheus.Gauge
	poolQueueDepth prometheus.Gauge
	previewClients prometheus.Gauge
	renderLatency  prometheus.Gauge
}

// New creates and registers the pipeline metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesRenderedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_frames_rendered_total",
			Help: "Total number of frames composed and handed to the encoder",
		}),
		framesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_frames_dropped_total",
			Help: "Total number of frames dropped by backpressure or render failures",
		}),
		encoderErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcast_encoder_errors_total",
			Help: "Total encoder diagnostics by severity",
		}, []string{"severity"}),
		workersReplacedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_workers_replaced_total",
			Help: "Total number of pool workers replaced",
		}),
		assetLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_asset_loads_total",
			Help: "Total number of assets fetched into the cache",
		}),
		sceneUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_scene_updates_total",
			Help: "Total number of scene layer mutations",
		}),
		streamLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_stream_live",
			Help: "Whether a stream session is currently live (1) or not (0)",
		}),
		currentFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_current_fps",
			Help: "Measured output frame rate",
		}),
		poolWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_pool_workers",
			Help: "Current number of pool workers",
		}),
		poolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_pool_queue_depth",
			Help: "Tasks waiting in the pool queue",
		}),
		previewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_preview_clients",
			Help: "Connected preview websocket clients",
		}),
		renderLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_render_latency_seconds",
			Help: "Smoothed scene render latency",
		}),
	}

	registry.MustRegister(
		m.framesRenderedTotal,
		m.framesDroppedTotal,
		m.encoderErrorsTotal,
		m.workersReplacedTotal,
		m.assetLoadsTotal,
		m.sceneUpdatesTotal,
		m.streamLive,
		m.currentFPS,
		m.poolWorkers,
		m.poolQueueDepth,
		m.previewClients,
		m.renderLatency,
	)
	return m
}

// IncFramesRendered counts one composed frame.
func (m *Metrics) IncFramesRendered() { m.framesRenderedTotal.Inc() }

// IncFramesDropped counts one dropped frame.
func (m *Metrics) IncFramesDropped() { m.framesDroppedTotal.Inc() }

// IncEncoderErrors counts an encoder diagnostic by severity label.
func (m *Metrics) IncEncoderErrors(fatal bool) {
	severity := "recoverable"
	if fatal {
		severity = "fatal"
	}
	m.encoderErrorsTotal.WithLabelValues(severity).Inc()
}

// IncWorkersReplaced counts a worker replacement.
func (m *Metrics) IncWorkersReplaced() { m.workersReplacedTotal.Inc() }

// IncAssetLoads counts an asset fetch.
func (m *Metrics) IncAssetLoads() { m.assetLoadsTotal.Inc() }

// IncSceneUpdates counts a layer mutation.
func (m *Metrics) IncSceneUpdates() { m.sceneUpdatesTotal.Inc() }

// SetStreamLive updates the live gauge.
func (m *Metrics) SetStreamLive(live bool) {
	if live {
		m.streamLive.Set(1)
		return
	}
	m.streamLive.Set(0)
}

// SetCurrentFPS updates the measured frame rate gauge.
func (m *Metrics) SetCurrentFPS(fps float64) { m.currentFPS.Set(fps) }

// SetPoolWorkers updates the worker count gauge.
func (m *Metrics) SetPoolWorkers(n int) { m.poolWorkers.Set(float64(n)) }

// SetPoolQueueDepth updates the queue depth gauge.
func (m *Metrics) SetPoolQueueDepth(n int) { m.poolQueueDepth.Set(float64(n)) }

// SetPreviewClients updates the preview client gauge.
func (m *Metrics) SetPreviewClients(n int) { m.previewClients.Set(float64(n)) }

// SetRenderLatencySeconds updates the smoothed render latency gauge.
func (m *Metrics) SetRenderLatencySeconds(seconds float64) { m.renderLatency.Set(seconds) }

// Handler returns an http.Handler that serves the registry. updateGauges is
// called before each scrape to refresh gauge values from the pipeline.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
