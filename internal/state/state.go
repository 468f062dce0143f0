// Package state holds the authoritative stream state. Every mutation flows
// through Store.Update so observers always see consistent snapshots and a
// StateChanged event for each transition.
package state

import (
	"log/slog"
	"sync"
	"time"

	"streamcast/internal/events"
	"streamcast/internal/logging"
)

// StreamState is the live/paused status and the counters that describe the
// output stream. Values are only meaningful as a whole snapshot.
type StreamState struct {
	IsLive        bool
	IsPaused      bool
	SessionID     string
	StartedAt     time.Time
	Width         int
	Height        int
	TargetFPS     int
	BitrateKbps   int
	CurrentFPS    float64
	FrameCount    uint64
	DroppedFrames uint64
	RenderLatency time.Duration
	LastError     string
}

// Store is the sole mutator of StreamState.
type Store struct {
	logger *slog.Logger
	bus    *events.Bus

	mu    sync.Mutex
	state StreamState
}

func NewStore(initial StreamState, logger *slog.Logger, bus *events.Bus) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		logger: logging.NewComponentLogger(logger, "state"),
		bus:    bus,
		state:  initial,
	}
}

// Update applies fn to the state under the store lock and publishes the
// resulting snapshot. fn must not retain the pointer.
func (s *Store) Update(fn func(*StreamState)) StreamState {
	s.mu.Lock()
	before := s.state
	fn(&s.state)
	after := s.state
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.StateChanged{
			IsLive:        after.IsLive,
			IsPaused:      after.IsPaused,
			FPS:           after.CurrentFPS,
			TargetFPS:     after.TargetFPS,
			FrameCount:    after.FrameCount,
			DroppedFrames: after.DroppedFrames,
			LastError:     after.LastError,
		})
	}
	if before.IsLive != after.IsLive || before.IsPaused != after.IsPaused {
		s.logger.Info("stream state transition",
			logging.Bool("is_live", after.IsLive),
			logging.Bool("is_paused", after.IsPaused),
			logging.String(logging.FieldSessionID, after.SessionID))
	}
	return after
}

// Snapshot returns the current state by value.
func (s *Store) Snapshot() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
