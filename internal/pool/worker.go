package pool

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Role labels what a worker was spawned for. Roles are a spawn-time default
// ratio, not a scheduling constraint: any worker accepts any task.
type Role string

const (
	RoleRender  Role = "render"
	RoleEncode  Role = "encode"
	RoleGeneral Role = "general"
)

// WorkerState tracks the per-worker lifecycle.
type WorkerState string

const (
	StateIdle       WorkerState = "idle"
	StateProcessing WorkerState = "processing"
	StateErrored    WorkerState = "errored"
	StateTerminated WorkerState = "terminated"
)

// Record is a snapshot of one worker's mutable state.
type Record struct {
	ID             string
	Role           Role
	State          WorkerState
	IsProcessing   bool
	ProcessedTasks uint64
	ErrorCount     uint64
	MemoryUsage    uint64
	CurrentTask    string
	LastError      string
	SpawnedAt      time.Time
}

// worker is one isolated execution unit. The pool talks to it only through
// its task channel and stop signal; its record is guarded by the pool mutex.
type worker struct {
	id      string
	role    Role
	tasks   chan *task
	stop    chan struct{}
	breaker *CircuitBreaker

	// Guarded by Pool.mu.
	rec      Record
	replaced bool
}

func newWorker(role Role, breakerThreshold int, breakerReset time.Duration) *worker {
	id := uuid.NewString()
	return &worker{
		id:      id,
		role:    role,
		tasks:   make(chan *task, 1),
		stop:    make(chan struct{}),
		breaker: NewCircuitBreaker(breakerThreshold, breakerReset),
		rec: Record{
			ID:        id,
			Role:      role,
			State:     StateIdle,
			SpawnedAt: time.Now(),
		},
	}
}

// run is the worker goroutine: strictly sequential task execution in
// dispatch order until stopped.
func (p *Pool) runWorker(w *worker) {
	defer p.wg.Done()
	for {
		select {
		case <-w.stop:
			p.onWorkerExit(w)
			return
		case t := <-w.tasks:
			if t == nil {
				p.onWorkerExit(w)
				return
			}
			timedOut := p.execute(w, t)
			if timedOut {
				// The payload goroutine may still be running; this worker
				// can no longer guarantee dispatch order, so it exits. Its
				// replacement was spawned before the stop signal.
				p.onWorkerExit(w)
				return
			}
		}
	}
}

// execute runs one task with the pool's task timeout. It returns true when
// the task timed out and the worker must retire.
func (p *Pool) execute(w *worker, t *task) bool {
	p.mu.Lock()
	w.rec.State = StateProcessing
	w.rec.IsProcessing = true
	w.rec.CurrentTask = t.id
	p.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.TaskTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		value, err := t.run(ctx)
		resultCh <- outcome{value: value, err: err}
	}()

	select {
	case res := <-resultCh:
		p.finishTask(w, t, res.value, res.err, time.Since(start))
		return false
	case <-ctx.Done():
		p.timeoutTask(w, t, time.Since(start))
		return true
	}
}

// updateMemoryLocked refreshes the worker's coarse memory attribution:
// current heap divided across live workers. Callers hold Pool.mu.
func (p *Pool) updateMemoryLocked(w *worker) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	count := uint64(len(p.workers))
	if count == 0 {
		count = 1
	}
	w.rec.MemoryUsage = ms.HeapAlloc / count
}
