package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamcast/internal/events"
	"streamcast/internal/logging"
)

// Recorder ties the journal to the live pipeline: session boundaries come
// from explicit Begin/End calls, incidents arrive through the event bus.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{
		store:  store,
		logger: logging.NewComponentLogger(logger, "journal"),
	}
}

// Begin opens a session record and makes it the incident target.
func (r *Recorder) Begin(ctx context.Context, sessionID string) error {
	if err := r.store.BeginSession(ctx, sessionID, time.Now()); err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	r.mu.Lock()
	r.sessionID = sessionID
	r.mu.Unlock()
	return nil
}

// End closes the current session record.
func (r *Recorder) End(ctx context.Context, frames, dropped uint64, avgFPS float64, reason string) error {
	r.mu.Lock()
	sessionID := r.sessionID
	r.sessionID = ""
	r.mu.Unlock()
	if sessionID == "" {
		return nil
	}
	if err := r.store.EndSession(ctx, sessionID, time.Now(), frames, dropped, avgFPS, reason); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Run consumes bus events until ctx is cancelled, persisting the ones worth
// keeping. Events outside a session are dropped.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, evt)
		}
	}
}

func (r *Recorder) record(ctx context.Context, evt events.Event) {
	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()
	if sessionID == "" {
		return
	}

	var (
		kind   string
		detail string
		fatal  bool
	)
	switch e := evt.(type) {
	case events.EncoderError:
		kind = "encoder_error"
		detail = e.Err.Error()
		fatal = e.Fatal
	case events.WorkerReplaced:
		kind = "worker_replaced"
		detail = fmt.Sprintf("%s -> %s (%s)", e.OldID, e.NewID, e.Reason)
	case events.PoolDegraded:
		kind = "pool_degraded"
		detail = fmt.Sprintf("all %d workers tripped", e.Workers)
	default:
		return
	}

	if err := r.store.RecordIncident(ctx, sessionID, kind, detail, fatal, time.Now()); err != nil {
		r.logger.Warn("incident not recorded",
			logging.String(logging.FieldSessionID, sessionID),
			logging.String("kind", kind),
			logging.Error(err))
	}
}
