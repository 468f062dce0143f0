package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	xdraw "golang.org/x/image/draw"

	"streamcast/internal/logging"
)

// Options tunes the hub. Zero values fall back to the defaults used in
// production.
type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	JPEGQuality  int
	SendBuffer   int
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = 80
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 8
	}
}

// Hub fans preview frames out to websocket clients. New clients start at
// medium quality and immediately receive the current stream config plus the
// most recent frame.
type Hub struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	clients    map[*client]struct{}
	lastFrame  *image.RGBA
	lastConfig ConfigMessage
	closed     bool
}

func NewHub(opts Options, logger *slog.Logger) *Hub {
	opts.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "preview"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			// The preview surface is operator-local; the API layer gates
			// access before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP lets the hub mount directly on a router.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	c := &client{
		id:      uuid.NewString(),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBuffer),
		quality: QualityMedium,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	cfg := h.lastConfig
	frame := h.lastFrame
	h.mu.Unlock()

	h.logger.Info("preview client connected", logging.String(logging.FieldClientID, c.id))

	if cfg.Kind == kindConfig {
		if payload, err := encodeJSON(cfg); err == nil {
			c.enqueue(payload)
		}
	}
	if frame != nil {
		if payload, err := h.renderFor(frame, c.quality); err == nil {
			c.enqueue(payload)
		}
	}

	go c.writePump()
	go c.readPump()
}

// BroadcastFrame snapshots the frame to every connected client at its
// chosen quality. Encodings are shared between clients on the same tier.
func (h *Hub) BroadcastFrame(frame *image.RGBA) {
	if frame == nil {
		return
	}
	h.mu.Lock()
	h.lastFrame = frame
	targets := make(map[Quality][]*client)
	for c := range h.clients {
		targets[c.quality] = append(targets[c.quality], c)
	}
	h.mu.Unlock()

	now := time.Now()
	for quality, list := range targets {
		payload, err := h.encodeFrame(frame, quality, now)
		if err != nil {
			h.logger.Warn("preview frame encode failed",
				logging.String("quality", string(quality)),
				logging.Error(err))
			continue
		}
		for _, c := range list {
			c.enqueue(payload)
		}
	}
}

// UpdateConfig stores and broadcasts the stream configuration.
func (h *Hub) UpdateConfig(cfg ConfigMessage) {
	cfg.Kind = kindConfig
	cfg.Timestamp = time.Now().UnixMilli()

	h.mu.Lock()
	h.lastConfig = cfg
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	h.mu.Unlock()

	payload, err := encodeJSON(cfg)
	if err != nil {
		return
	}
	for _, c := range list {
		c.enqueue(payload)
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range list {
		c.close()
	}
}

// renderFor produces a frame message for a single client, used on connect.
func (h *Hub) renderFor(frame *image.RGBA, quality Quality) ([]byte, error) {
	return h.encodeFrame(frame, quality, time.Now())
}

// encodeFrame downscales per tier and wraps the JPEG in a frame message.
func (h *Hub) encodeFrame(frame *image.RGBA, quality Quality, at time.Time) ([]byte, error) {
	img := frame
	if div := quality.scaleDivisor(); div > 1 {
		bounds := frame.Bounds()
		scaled := image.NewRGBA(image.Rect(0, 0, bounds.Dx()/div, bounds.Dy()/div))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), frame, bounds, xdraw.Src, nil)
		img = scaled
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality.jpegQuality(h.opts.JPEGQuality)}); err != nil {
		return nil, err
	}
	return encodeFrameMessage(buf.Bytes(), quality, at)
}

// drop removes a client after its pumps have finished.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, known := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if known {
		h.logger.Info("preview client disconnected", logging.String(logging.FieldClientID, c.id))
	}
}

// setQuality records a client's tier switch.
func (h *Hub) setQuality(c *client, quality Quality) {
	h.mu.Lock()
	c.quality = quality
	h.mu.Unlock()
	h.logger.Debug("preview quality changed",
		logging.String(logging.FieldClientID, c.id),
		logging.String("quality", string(quality)))
}
