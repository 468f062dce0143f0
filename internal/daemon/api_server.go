package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"streamcast/internal/config"
	"streamcast/internal/layers"
	"streamcast/internal/logging"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// layerPayload is the JSON shape of one layer. Content payloads stay
// internal; the API exposes kind and geometry.
type layerPayload struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	ZIndex    int              `json:"z_index"`
	Visible   bool             `json:"visible"`
	Opacity   float64          `json:"opacity"`
	Transform layers.Transform `json:"transform"`
}

type statusPayload struct {
	Running        bool    `json:"running"`
	PID            int     `json:"pid"`
	Live           bool    `json:"live"`
	Paused         bool    `json:"paused"`
	SessionID      string  `json:"session_id,omitempty"`
	CurrentFPS     float64 `json:"current_fps"`
	TargetFPS      int     `json:"target_fps"`
	FrameCount     uint64  `json:"frame_count"`
	DroppedFrames  uint64  `json:"dropped_frames"`
	RenderLatency  string  `json:"render_latency"`
	Workers        int     `json:"workers"`
	ActiveWorkers  int     `json:"active_workers"`
	QueueLength    int     `json:"queue_length"`
	QueueCapacity  int     `json:"queue_capacity"`
	EncoderRunning bool    `json:"encoder_running"`
	LayerCount     int     `json:"layer_count"`
	PreviewClients int     `json:"preview_clients"`
	LastError      string  `json:"last_error,omitempty"`
}

type visibilityRequest struct {
	Target  string   `json:"target,omitempty"`
	Targets []string `json:"targets,omitempty"`
	Visible bool     `json:"visible"`
}

type chatRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

type sessionPayload struct {
	ID            string  `json:"id"`
	StartedAt     string  `json:"started_at"`
	EndedAt       string  `json:"ended_at,omitempty"`
	FrameCount    uint64  `json:"frame_count"`
	DroppedFrames uint64  `json:"dropped_frames"`
	AvgFPS        float64 `json:"avg_fps"`
	EndReason     string  `json:"end_reason,omitempty"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/status", srv.handleStatus)
	r.Get("/api/layers", srv.handleLayers)
	r.Post("/api/layers/visibility", srv.handleVisibility)
	r.Post("/api/chat", srv.handleChat)
	r.Get("/api/frame", srv.handleFrame)
	r.Get("/api/sessions", srv.handleSessions)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		d.stats.Handler(d.refreshGauges).ServeHTTP(w, req)
	})
	r.Get("/ws/preview", d.hub.ServeWS)

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr reports the bound address, useful when the configured bind uses an
// ephemeral port.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status()
	st := status.Pipeline.State
	s.writeJSON(w, http.StatusOK, statusPayload{
		Running:        status.Running,
		PID:            status.PID,
		Live:           st.IsLive,
		Paused:         st.IsPaused,
		SessionID:      st.SessionID,
		CurrentFPS:     st.CurrentFPS,
		TargetFPS:      st.TargetFPS,
		FrameCount:     st.FrameCount,
		DroppedFrames:  st.DroppedFrames,
		RenderLatency:  st.RenderLatency.String(),
		Workers:        status.Pipeline.Pool.Workers,
		ActiveWorkers:  status.Pipeline.Pool.ActiveWorkers,
		QueueLength:    status.Pipeline.Pool.QueueLength,
		QueueCapacity:  status.Pipeline.Pool.QueueCapacity,
		EncoderRunning: status.Pipeline.Encoder.Running,
		LayerCount:     status.Pipeline.LayerCount,
		PreviewClients: status.Pipeline.PreviewClients,
		LastError:      st.LastError,
	})
}

func (s *apiServer) handleLayers(w http.ResponseWriter, r *http.Request) {
	scene := s.daemon.Layers()
	payload := make([]layerPayload, 0, len(scene))
	for _, layer := range scene {
		payload = append(payload, layerPayload{
			ID:        layer.ID,
			Name:      layer.Name,
			Kind:      string(layer.Kind),
			ZIndex:    layer.ZIndex,
			Visible:   layer.Visible,
			Opacity:   layer.Opacity,
			Transform: layer.Transform,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"layers": payload})
}

func (s *apiServer) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	targets := req.Targets
	if req.Target != "" {
		targets = append(targets, req.Target)
	}
	if len(targets) == 0 {
		s.writeError(w, http.StatusBadRequest, "target required")
		return
	}

	changed := make([]string, 0, len(targets))
	for _, target := range targets {
		ids, err := s.daemon.SetVisibility(target, req.Visible)
		if err != nil {
			if errors.Is(err, layers.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, fmt.Sprintf("no layer matches %q", target))
				return
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		changed = append(changed, ids...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "visible": req.Visible})
}

func (s *apiServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.daemon.AppendChat(req.Author, req.Text); err != nil {
		if errors.Is(err, layers.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no chat layer in scene")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleFrame serves the last composed frame as PNG. When no stream is live
// this is the solid offline frame, so the endpoint always renders. With
// ?refresh=1 and a live stream the scene is re-rendered ahead of queued
// ticks before serving.
func (s *apiServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	mgr := s.daemon.Manager()
	frame := mgr.CurrentFrame()
	if r.URL.Query().Get("refresh") == "1" && mgr.Live() {
		refreshed, err := mgr.ForceRefresh(r.Context(), time.Second)
		if err != nil {
			s.logger.Warn("forced refresh failed", logging.Error(err))
		} else {
			frame = refreshed
		}
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, frame); err != nil {
		s.logger.Warn("frame encode failed", logging.Error(err))
	}
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	sessions, err := s.daemon.Sessions(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]sessionPayload, 0, len(sessions))
	for _, sess := range sessions {
		item := sessionPayload{
			ID:            sess.ID,
			StartedAt:     sess.StartedAt.Format(time.RFC3339),
			FrameCount:    sess.FrameCount,
			DroppedFrames: sess.DroppedFrames,
			AvgFPS:        sess.AvgFPS,
			EndReason:     sess.EndReason,
		}
		if !sess.EndedAt.IsZero() {
			item.EndedAt = sess.EndedAt.Format(time.RFC3339)
		}
		payload = append(payload, item)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": payload})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
