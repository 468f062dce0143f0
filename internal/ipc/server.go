package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"streamcast/internal/daemon"
	"streamcast/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Streamcast", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logging.NewComponentLogger(logger, "ipc"),
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "ipc")
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	st := status.Pipeline.State

	resp.Running = status.Running
	resp.PID = status.PID
	resp.Live = st.IsLive
	resp.Paused = st.IsPaused
	resp.SessionID = st.SessionID
	if !st.StartedAt.IsZero() {
		resp.StartedAt = st.StartedAt.Format("2006-01-02 15:04:05")
	}
	resp.CurrentFPS = st.CurrentFPS
	resp.TargetFPS = st.TargetFPS
	resp.Width = st.Width
	resp.Height = st.Height
	resp.FrameCount = st.FrameCount
	resp.DroppedFrames = st.DroppedFrames
	resp.RenderLatency = st.RenderLatency.String()
	resp.Workers = status.Pipeline.Pool.Workers
	resp.ActiveWorkers = status.Pipeline.Pool.ActiveWorkers
	resp.QueueLength = status.Pipeline.Pool.QueueLength
	resp.QueueCapacity = status.Pipeline.Pool.QueueCapacity
	resp.EncoderRunning = status.Pipeline.Encoder.Running
	resp.EncoderFrames = status.Pipeline.Encoder.FramesSent
	resp.LayerCount = status.Pipeline.LayerCount
	resp.PreviewClients = status.Pipeline.PreviewClients
	resp.JournalPath = status.JournalPath
	resp.LockPath = status.LockFilePath
	resp.CaptureMonitor = status.CaptureMonitor
	resp.LastError = st.LastError
	for _, dep := range s.daemon.Dependencies() {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:      dep.Name,
			Command:   dep.Command,
			Optional:  dep.Optional,
			Available: dep.Available,
			Detail:    dep.Detail,
		})
	}
	return nil
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("stream start requested")
	if err := s.daemon.StartStream(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "stream live"
	s.log().Info("stream started via IPC",
		logging.String(logging.FieldEventType, "stream_start"))
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	s.log().Debug("stream stop requested")
	reason := req.Reason
	if reason == "" {
		reason = "operator"
	}
	if err := s.daemon.StopStream(s.ctx, reason); err != nil {
		return err
	}
	resp.Stopped = true
	s.log().Info("stream stopped via IPC",
		logging.String(logging.FieldEventType, "stream_stop"),
		logging.String("reason", reason))
	return nil
}

func (s *service) Pause(_ PauseRequest, resp *PauseResponse) error {
	s.daemon.PauseStream()
	resp.Paused = true
	return nil
}

func (s *service) Resume(_ ResumeRequest, resp *ResumeResponse) error {
	s.daemon.ResumeStream()
	resp.Resumed = true
	return nil
}

func (s *service) Layers(_ LayersRequest, resp *LayersResponse) error {
	scene := s.daemon.Layers()
	resp.Layers = make([]LayerInfo, 0, len(scene))
	for _, layer := range scene {
		resp.Layers = append(resp.Layers, LayerInfo{
			ID:      layer.ID,
			Name:    layer.Name,
			Kind:    string(layer.Kind),
			ZIndex:  layer.ZIndex,
			Visible: layer.Visible,
			Opacity: layer.Opacity,
		})
	}
	return nil
}

func (s *service) SetVisibility(req SetVisibilityRequest, resp *SetVisibilityResponse) error {
	if len(req.Targets) == 0 {
		return errors.New("set visibility requires at least one target")
	}
	for _, target := range req.Targets {
		ids, err := s.daemon.SetVisibility(target, req.Visible)
		if err != nil {
			return err
		}
		resp.Changed = append(resp.Changed, ids...)
	}
	return nil
}

func (s *service) Chat(req ChatRequest, resp *ChatResponse) error {
	if err := s.daemon.AppendChat(req.Author, req.Text); err != nil {
		return err
	}
	resp.Accepted = true
	return nil
}

func (s *service) Sessions(req SessionsRequest, resp *SessionsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	sessions, err := s.daemon.Sessions(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Sessions = make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, SessionInfo{
			ID:            sess.ID,
			StartedAt:     sess.StartedAt,
			EndedAt:       sess.EndedAt,
			Active:        sess.Active(),
			FrameCount:    sess.FrameCount,
			DroppedFrames: sess.DroppedFrames,
			AvgFPS:        sess.AvgFPS,
			EndReason:     sess.EndReason,
		})
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
