package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"streamcast/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.BeginSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	session, err := store.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !session.Active() {
		t.Fatal("new session should be active")
	}

	if err := store.EndSession(ctx, "sess-1", time.Now(), 1800, 12, 29.7, "operator stop"); err != nil {
		t.Fatalf("end: %v", err)
	}
	session, err = store.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("fetch after end: %v", err)
	}
	if session.Active() {
		t.Fatal("ended session still active")
	}
	if session.FrameCount != 1800 || session.DroppedFrames != 12 || session.EndReason != "operator stop" {
		t.Fatalf("session = %+v", session)
	}
	if session.AvgFPS < 29.6 || session.AvgFPS > 29.8 {
		t.Fatalf("avg fps = %f", session.AvgFPS)
	}
}

func TestSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Session(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRecentSessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("sess-%d", i)
		if err := store.BeginSession(ctx, id, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}

	sessions, err := store.RecentSessions(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	if sessions[0].ID != "sess-4" || sessions[2].ID != "sess-2" {
		t.Fatalf("order = %s..%s, want sess-4..sess-2", sessions[0].ID, sessions[2].ID)
	}
}

func TestIncidentsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.BeginSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := store.RecordIncident(ctx, "sess-1", "worker_replaced", "a -> b (task_timeout)", false, time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.RecordIncident(ctx, "sess-1", "encoder_error", "broken pipe", true, time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}

	incidents, err := store.Incidents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	if len(incidents) != 2 {
		t.Fatalf("got %d incidents, want 2", len(incidents))
	}
	if incidents[0].Kind != "worker_replaced" || incidents[0].Fatal {
		t.Fatalf("first incident = %+v", incidents[0])
	}
	if incidents[1].Kind != "encoder_error" || !incidents[1].Fatal {
		t.Fatalf("second incident = %+v", incidents[1])
	}
}

func TestPruneRemovesOldFinishedSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	if err := store.BeginSession(ctx, "old", old); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.EndSession(ctx, "old", old.Add(time.Hour), 100, 0, 30, "done"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := store.RecordIncident(ctx, "old", "encoder_error", "x", false, old); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.BeginSession(ctx, "active", time.Now()); err != nil {
		t.Fatalf("begin active: %v", err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.Session(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("old session survived prune")
	}
	if _, err := store.Session(ctx, "active"); err != nil {
		t.Fatalf("active session pruned: %v", err)
	}
	incidents, err := store.Incidents(ctx, "old")
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	if len(incidents) != 0 {
		t.Fatal("incidents did not cascade on prune")
	}
}

func TestSchemaMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := OpenPath(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestRecorderPersistsBusIncidents(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, nil)
	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Run(ctx, bus)

	if err := recorder.Begin(ctx, "sess-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	bus.Publish(events.WorkerReplaced{OldID: "a", NewID: "b", Reason: "task_timeout"})
	bus.Publish(events.FrameRendered{Sequence: 1}) // not journal-worthy

	deadline := time.Now().Add(5 * time.Second)
	for {
		incidents, err := store.Incidents(ctx, "sess-1")
		if err != nil {
			t.Fatalf("incidents: %v", err)
		}
		if len(incidents) == 1 {
			if incidents[0].Kind != "worker_replaced" {
				t.Fatalf("incident = %+v", incidents[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("incident never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := recorder.End(ctx, 100, 2, 30, "operator stop"); err != nil {
		t.Fatalf("end: %v", err)
	}
	// Events after End have no session and are dropped.
	bus.Publish(events.PoolDegraded{Workers: 4})
	time.Sleep(50 * time.Millisecond)
	incidents, err := store.Incidents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("got %d incidents after end, want 1", len(incidents))
	}
}
