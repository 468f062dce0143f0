package testsupport

import (
	"context"
	"sync"
	"time"
)

// FakeNotifier records every notification instead of sending it. It
// satisfies notifications.Service.
type FakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

// Calls returns the recorded notification labels in order.
func (f *FakeNotifier) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeNotifier) record(label string) {
	f.mu.Lock()
	f.calls = append(f.calls, label)
	f.mu.Unlock()
}

func (f *FakeNotifier) NotifyStreamStarted(ctx context.Context, sessionID string) error {
	f.record("started:" + sessionID)
	return nil
}

func (f *FakeNotifier) NotifyStreamStopped(ctx context.Context, sessionID string, duration time.Duration, frames, dropped uint64) error {
	f.record("stopped:" + sessionID)
	return nil
}

func (f *FakeNotifier) NotifyEncoderFatal(ctx context.Context, detail string) error {
	f.record("encoder_fatal:" + detail)
	return nil
}

func (f *FakeNotifier) NotifyPoolDegraded(ctx context.Context, workers int) error {
	f.record("pool_degraded")
	return nil
}

func (f *FakeNotifier) NotifyError(ctx context.Context, err error, contextLabel string) error {
	f.record("error:" + contextLabel)
	return nil
}

func (f *FakeNotifier) TestNotification(ctx context.Context) error {
	f.record("test")
	return nil
}
