package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamcast/internal/events"
)

type staticSampler struct {
	usage Usage
}

func (s staticSampler) Sample() (Usage, error) { return s.usage, nil }

func testPoolConfig() Config {
	return Config{
		MinWorkers:       1,
		MaxWorkers:       4,
		QueueCapacity:    4,
		TaskTimeout:      2 * time.Second,
		FailureThreshold: 4,
		ResetTimeout:     time.Minute,
		Retry:            RetryPolicy{MaxRetries: 0},
		MemoryScaleLimit: 80,
		MemoryEmergency:  85,
		CPUScaleLimit:    85,
		ScaleInterval:    time.Hour,
	}
}

func newTestPool(t *testing.T, cfg Config, bus *events.Bus) *Pool {
	t.Helper()
	p := New(cfg, nil, bus, WithSampler(staticSampler{usage: Usage{MemoryPct: 20, CPUPct: 20}}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

// blockWorker occupies the pool's single worker until the returned release
// function is called.
func blockWorker(t *testing.T, p *Pool) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	_, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocker task never started")
	}
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func TestSubmitAndWait(t *testing.T) {
	p := newTestPool(t, testPoolConfig(), nil)
	handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if value != 42 {
		t.Fatalf("value = %v, want 42", value)
	}
	m := p.Metrics()
	if m.Processed != 1 {
		t.Fatalf("processed = %d, want 1", m.Processed)
	}
}

func TestSubmitQueueFullFailsFast(t *testing.T) {
	cfg := testPoolConfig()
	cfg.QueueCapacity = 2
	p := newTestPool(t, cfg, nil)
	release := blockWorker(t, p)
	defer release()

	for i := 0; i < cfg.QueueCapacity; i++ {
		if _, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
			return nil, nil
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	start := time.Now()
	_, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("submit over capacity: err = %v, want ErrQueueFull", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("rejection took %s, want immediate", elapsed)
	}
}

func TestDispatchOrderPriorityThenFIFO(t *testing.T) {
	p := newTestPool(t, testPoolConfig(), nil)
	release := blockWorker(t, p)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	var handles []*Handle
	for _, sub := range []struct {
		name     string
		priority Priority
	}{
		{"high-1", PriorityHigh},
		{"low-1", PriorityLow},
		{"high-2", PriorityHigh},
	} {
		h, err := p.Submit(sub.priority, record(sub.name))
		if err != nil {
			t.Fatalf("submit %s: %v", sub.name, err)
		}
		handles = append(handles, h)
	}

	release()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	want := []string{"high-1", "high-2", "low-1"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCancelQueuedTask(t *testing.T) {
	p := newTestPool(t, testPoolConfig(), nil)
	release := blockWorker(t, p)
	defer release()

	handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !p.Cancel(handle.ID) {
		t.Fatal("cancel returned false for a queued task")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := handle.Wait(ctx); !errors.Is(err, ErrTaskCancelled) {
		t.Fatalf("wait: err = %v, want ErrTaskCancelled", err)
	}
	if p.Cancel(handle.ID) {
		t.Fatal("cancel returned true for an already removed task")
	}
}

func TestRetryExhaustion(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Retry = RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	p := newTestPool(t, cfg, nil)

	var attempts atomic.Int32
	handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("boom")
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = handle.Wait(ctx)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("wait: err = %v, want ErrRetriesExhausted", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestRetryRecovers(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Retry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	p := newTestPool(t, cfg, nil)

	var attempts atomic.Int32
	handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		if attempts.Add(1) == 1 {
			return nil, fmt.Errorf("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if value != "ok" {
		t.Fatalf("value = %v, want ok", value)
	}
}

func TestTaskTimeoutReplacesWorker(t *testing.T) {
	cfg := testPoolConfig()
	cfg.TaskTimeout = 50 * time.Millisecond
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()
	p := newTestPool(t, cfg, bus)

	before := p.Metrics().WorkerRecords[0].ID
	handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := handle.Wait(ctx); !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("wait: err = %v, want ErrTaskTimeout", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			replaced, ok := evt.(events.WorkerReplaced)
			if !ok {
				continue
			}
			if replaced.OldID != before {
				t.Fatalf("replaced worker %s, want %s", replaced.OldID, before)
			}
			if replaced.Reason != "task_timeout" {
				t.Fatalf("reason = %s, want task_timeout", replaced.Reason)
			}
			return
		case <-deadline:
			t.Fatal("no WorkerReplaced event observed")
		}
	}
}

func TestBreakerOpenReplacesWorker(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MinWorkers = 1
	cfg.MaxWorkers = 1
	cfg.FailureThreshold = 2
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()
	p := newTestPool(t, cfg, bus)

	before := p.Metrics().WorkerRecords[0].ID
	boom := errors.New("boom")
	for i := 0; i < cfg.FailureThreshold; i++ {
		handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
			return nil, boom
		})
		if err != nil {
			t.Fatalf("submit failing task %d: %v", i, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := handle.Wait(ctx); err == nil {
			t.Fatalf("failing task %d succeeded", i)
		}
		cancel()
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			replaced, ok := evt.(events.WorkerReplaced)
			if !ok {
				continue
			}
			if replaced.OldID != before {
				t.Fatalf("replaced worker %s, want %s", replaced.OldID, before)
			}
			if replaced.Reason != "breaker_open" {
				t.Fatalf("reason = %s, want breaker_open", replaced.Reason)
			}
			// The successor must pick up new work immediately instead of
			// waiting out the breaker reset timeout.
			handle, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
				return "ok", nil
			})
			if err != nil {
				t.Fatalf("submit after replacement: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			value, err := handle.Wait(ctx)
			if err != nil {
				t.Fatalf("task on fresh worker: %v", err)
			}
			if value != "ok" {
				t.Fatalf("value = %v, want ok", value)
			}
			return
		case <-deadline:
			t.Fatal("no WorkerReplaced event after breaker opened")
		}
	}
}

func TestExplicitWorkerReplacement(t *testing.T) {
	p := newTestPool(t, testPoolConfig(), nil)
	before := p.Metrics().WorkerRecords[0].ID
	if !p.ReplaceWorker(before, "test") {
		t.Fatal("ReplaceWorker returned false for a live worker")
	}
	if p.ReplaceWorker("no-such-worker", "test") {
		t.Fatal("ReplaceWorker returned true for an unknown worker")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		m := p.Metrics()
		stale := false
		for _, rec := range m.WorkerRecords {
			if rec.ID == before {
				stale = true
			}
		}
		if !stale && m.Workers == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("old worker still registered: %+v", m.WorkerRecords)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownFailsQueuedTasks(t *testing.T) {
	cfg := testPoolConfig()
	p := New(cfg, nil, nil, WithSampler(staticSampler{}))
	release := blockWorker(t, p)

	queued, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownDone <- p.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := queued.Wait(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("queued wait: err = %v, want ErrPoolClosed", err)
	}

	release()
	select {
	case err := <-shutdownDone:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	if _, err := p.Submit(PriorityNormal, func(ctx context.Context) (any, error) {
		return nil, nil
	}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("submit after shutdown: err = %v, want ErrPoolClosed", err)
	}
}

func TestInitialRoleMix(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MinWorkers = 4
	cfg.MaxWorkers = 8
	cfg.RenderRatio = 0.5
	cfg.EncodeRatio = 0.25
	p := newTestPool(t, cfg, nil)

	counts := map[Role]int{}
	for _, rec := range p.Metrics().WorkerRecords {
		counts[rec.Role]++
	}
	if counts[RoleRender] != 2 || counts[RoleEncode] != 1 || counts[RoleGeneral] != 1 {
		t.Fatalf("role mix = %v, want 2 render / 1 encode / 1 general", counts)
	}
}
