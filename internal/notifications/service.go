package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"streamcast/internal/config"
)

const userAgent = "Streamcast-Go/0.1.0"

// Service defines the alert surface exposed to pipeline components.
type Service interface {
	NotifyStreamStarted(ctx context.Context, sessionID string) error
	NotifyStreamStopped(ctx context.Context, sessionID string, duration time.Duration, frames, dropped uint64) error
	NotifyEncoderFatal(ctx context.Context, detail string) error
	NotifyPoolDegraded(ctx context.Context, workers int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyStreamStarted(ctx context.Context, sessionID string) error {
	data := payload{
		title:   "Streamcast - Live",
		message: fmt.Sprintf("Stream started (session %s)", strings.TrimSpace(sessionID)),
		tags:    []string{"streamcast", "stream", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStreamStopped(ctx context.Context, sessionID string, duration time.Duration, frames, dropped uint64) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}
	message := fmt.Sprintf("Stream ended after %s: %d frames sent", durationText, frames)
	if dropped > 0 {
		message = fmt.Sprintf("%s, %d dropped", message, dropped)
	}
	data := payload{
		title:   "Streamcast - Stream Ended",
		message: fmt.Sprintf("%s (session %s)", message, strings.TrimSpace(sessionID)),
		tags:    []string{"streamcast", "stream", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyEncoderFatal(ctx context.Context, detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "unknown"
	}
	data := payload{
		title:    "Streamcast - Encoder Down",
		message:  fmt.Sprintf("Encoder failed, stream ended: %s", detail),
		tags:     []string{"streamcast", "encoder", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPoolDegraded(ctx context.Context, workers int) error {
	data := payload{
		title:    "Streamcast - Pool Degraded",
		message:  fmt.Sprintf("All %d render workers tripped their breakers; frames will drop until one recovers", workers),
		tags:     []string{"streamcast", "pool", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Streamcast - Error",
		message:  builder.String(),
		tags:     []string{"streamcast", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Streamcast - Test",
		message:  "Notification system test",
		tags:     []string{"streamcast", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStreamStarted(context.Context, string) error { return nil }
func (noopService) NotifyStreamStopped(context.Context, string, time.Duration, uint64, uint64) error {
	return nil
}
func (noopService) NotifyEncoderFatal(context.Context, string) error  { return nil }
func (noopService) NotifyPoolDegraded(context.Context, int) error     { return nil }
func (noopService) NotifyError(context.Context, error, string) error  { return nil }
func (noopService) TestNotification(context.Context) error            { return nil }
