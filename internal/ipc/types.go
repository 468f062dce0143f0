package ipc

import "time"

// StatusRequest fetches combined daemon and pipeline status.
type StatusRequest struct{}

// DependencyStatus reports the availability of one external binary.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
	Detail    string `json:"detail"`
}

// StatusResponse represents daemon plus pipeline status information.
type StatusResponse struct {
	Running        bool    `json:"running"`
	PID            int     `json:"pid"`
	Live           bool    `json:"live"`
	Paused         bool    `json:"paused"`
	SessionID      string  `json:"session_id"`
	StartedAt      string  `json:"started_at"`
	CurrentFPS     float64 `json:"current_fps"`
	TargetFPS      int     `json:"target_fps"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	FrameCount     uint64  `json:"frame_count"`
	DroppedFrames  uint64  `json:"dropped_frames"`
	RenderLatency  string  `json:"render_latency"`
	Workers        int     `json:"workers"`
	ActiveWorkers  int     `json:"active_workers"`
	QueueLength    int     `json:"queue_length"`
	QueueCapacity  int     `json:"queue_capacity"`
	EncoderRunning bool    `json:"encoder_running"`
	EncoderFrames  uint64  `json:"encoder_frames"`
	LayerCount     int     `json:"layer_count"`
	PreviewClients int     `json:"preview_clients"`
	JournalPath    string  `json:"journal_path"`
	LockPath       string  `json:"lock_path"`
	CaptureMonitor bool    `json:"capture_monitor"`
	LastError      string  `json:"last_error"`

	Dependencies []DependencyStatus `json:"dependencies"`
}

// StartRequest brings the stream live.
type StartRequest struct{}

// StartResponse indicates whether the stream went live.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest ends the live stream.
type StopRequest struct {
	Reason string `json:"reason"`
}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// PauseRequest freezes the output on the current frame.
type PauseRequest struct{}

// PauseResponse indicates pause result.
type PauseResponse struct {
	Paused bool `json:"paused"`
}

// ResumeRequest continues live compositing after a pause.
type ResumeRequest struct{}

// ResumeResponse indicates resume result.
type ResumeResponse struct {
	Resumed bool `json:"resumed"`
}

// LayerInfo is the IPC view of one scene layer.
type LayerInfo struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	ZIndex  int     `json:"z_index"`
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
}

// LayersRequest lists the scene in paint order.
type LayersRequest struct{}

// LayersResponse contains the scene layers.
type LayersResponse struct {
	Layers []LayerInfo `json:"layers"`
}

// SetVisibilityRequest toggles layers by symbolic name or kind.
type SetVisibilityRequest struct {
	Targets []string `json:"targets"`
	Visible bool     `json:"visible"`
}

// SetVisibilityResponse reports the layer ids that changed.
type SetVisibilityResponse struct {
	Changed []string `json:"changed"`
}

// ChatRequest appends a message to the chat layers.
type ChatRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// ChatResponse indicates the message was accepted.
type ChatResponse struct {
	Accepted bool `json:"accepted"`
}

// SessionInfo is the IPC view of one journal session.
type SessionInfo struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Active        bool      `json:"active"`
	FrameCount    uint64    `json:"frame_count"`
	DroppedFrames uint64    `json:"dropped_frames"`
	AvgFPS        float64   `json:"avg_fps"`
	EndReason     string    `json:"end_reason"`
}

// SessionsRequest lists recent journal sessions.
type SessionsRequest struct {
	Limit int `json:"limit"`
}

// SessionsResponse contains journal sessions, newest first.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
