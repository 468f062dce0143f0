// Package events defines the closed set of internal notifications exchanged
// between streamcast components and the bus that fans them out.
//
// Components publish typed variants instead of string-keyed messages so
// consumers can switch exhaustively over the Event interface.
package events

import (
	"sync"
	"time"
)

// Event is the sealed union of internal notifications. Only types in this
// package implement it.
type Event interface {
	isEvent()
	// Kind names the variant for logging and wire serialization.
	Kind() string
}

// SceneUpdated signals a layer mutation; carries the mutated layer id.
type SceneUpdated struct {
	LayerID string
	At      time.Time
}

// AssetLoaded signals a cache fill for the given asset key.
type AssetLoaded struct {
	Key       string
	AssetKind string
	Size      int
	At        time.Time
}

// StateChanged carries a read-only snapshot of the stream state after a
// mutation has been applied by the state store.
type StateChanged struct {
	IsLive        bool
	IsPaused      bool
	FPS           float64
	TargetFPS     int
	FrameCount    uint64
	DroppedFrames uint64
	LastError     string
}

// FrameRendered signals completion of a composite pass.
type FrameRendered struct {
	Sequence uint64
	Latency  time.Duration
}

// EncoderError reports an encoder failure. Fatal errors halt the pipeline;
// recoverable ones are informational.
type EncoderError struct {
	Err   error
	Fatal bool
}

// WorkerReplaced signals that the pool retired a worker and spawned a
// replacement for it.
type WorkerReplaced struct {
	OldID  string
	NewID  string
	Reason string
}

// PoolDegraded signals that every worker in the pool is currently unhealthy.
type PoolDegraded struct {
	Workers int
}

func (SceneUpdated) isEvent()   {}
func (AssetLoaded) isEvent()    {}
func (StateChanged) isEvent()   {}
func (FrameRendered) isEvent()  {}
func (EncoderError) isEvent()   {}
func (WorkerReplaced) isEvent() {}
func (PoolDegraded) isEvent()   {}

func (SceneUpdated) Kind() string   { return "scene_updated" }
func (AssetLoaded) Kind() string    { return "asset_loaded" }
func (StateChanged) Kind() string   { return "state_changed" }
func (FrameRendered) Kind() string  { return "frame_rendered" }
func (EncoderError) Kind() string   { return "encoder_error" }
func (WorkerReplaced) Kind() string { return "worker_replaced" }
func (PoolDegraded) Kind() string   { return "pool_degraded" }

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given buffer size and returns the
// receive channel plus a cancel function that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if existing, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(existing)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close tears down all subscriptions. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
