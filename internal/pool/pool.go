package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamcast/internal/events"
	"streamcast/internal/logging"
)

// Config carries the tunables for a Pool. Values are expected to be
// validated upstream; New applies conservative fallbacks for zero values.
type Config struct {
	MinWorkers       int
	MaxWorkers       int
	QueueCapacity    int
	TaskTimeout      time.Duration
	FailureThreshold int
	ResetTimeout     time.Duration
	Retry            RetryPolicy
	RenderRatio      float64
	EncodeRatio      float64
	MemoryScaleLimit float64
	MemoryEmergency  float64
	CPUScaleLimit    float64
	ScaleInterval    time.Duration
	// WorkerMemoryLimit is the per-worker memory attribution, in bytes,
	// above which an idle worker is replaced during a memory emergency.
	WorkerMemoryLimit uint64
}

// Metrics is a point-in-time snapshot of pool load and throughput.
type Metrics struct {
	Workers       int
	ActiveWorkers int
	QueueLength   int
	QueueCapacity int
	Processed     uint64
	Failed        uint64
	TimedOut      uint64
	AvgProcessing time.Duration
	WorkerRecords []Record
}

// Pool executes submitted tasks on an elastic set of isolated workers.
// Tasks are dispatched in priority order (FIFO within a priority), each
// worker runs strictly one task at a time, and failing workers are replaced
// rather than repaired.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	bus     *events.Bus
	sampler Sampler

	baseCtx    context.Context
	taskCancel context.CancelFunc
	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
	loopWG     sync.WaitGroup

	mu        sync.Mutex
	queue     *taskQueue
	seq       uint64
	workers   map[string]*worker
	closed    bool
	processed uint64
	failed    uint64
	timedOut  uint64
	durations *durationWindow
}

// Option customizes a Pool at construction time.
type Option func(*Pool)

// WithSampler overrides the host resource sampler. Tests use this to force
// deterministic memory and CPU readings.
func WithSampler(s Sampler) Option {
	return func(p *Pool) { p.sampler = s }
}

// New builds a pool and spawns the minimum worker set. The role mix of the
// initial workers follows the configured render/encode ratios; remaining
// slots spawn as general workers.
func New(cfg Config, logger *slog.Logger, bus *events.Bus, opts ...Option) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 4
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 45 * time.Second
	}
	if cfg.ScaleInterval <= 0 {
		cfg.ScaleInterval = 5 * time.Second
	}
	if cfg.WorkerMemoryLimit == 0 {
		cfg.WorkerMemoryLimit = 512 << 20
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	loopCtx, loopCancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pool"),
		bus:        bus,
		sampler:    systemSampler{},
		baseCtx:    taskCtx,
		taskCancel: taskCancel,
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		queue:      newTaskQueue(cfg.QueueCapacity),
		workers:    make(map[string]*worker),
		durations:  newDurationWindow(64),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mu.Lock()
	for _, role := range initialRoles(cfg) {
		p.spawnLocked(role)
	}
	p.mu.Unlock()

	p.loopWG.Add(1)
	go p.scaleLoop()
	return p
}

// initialRoles expands the role ratios into the minimum worker mix.
func initialRoles(cfg Config) []Role {
	renderCount := int(math.Round(float64(cfg.MinWorkers) * cfg.RenderRatio))
	encodeCount := int(math.Round(float64(cfg.MinWorkers) * cfg.EncodeRatio))
	if renderCount+encodeCount > cfg.MinWorkers {
		encodeCount = cfg.MinWorkers - renderCount
	}
	roles := make([]Role, 0, cfg.MinWorkers)
	for i := 0; i < renderCount; i++ {
		roles = append(roles, RoleRender)
	}
	for i := 0; i < encodeCount; i++ {
		roles = append(roles, RoleEncode)
	}
	for len(roles) < cfg.MinWorkers {
		roles = append(roles, RoleGeneral)
	}
	return roles
}

// Submit enqueues fn at the given priority. It fails fast with ErrQueueFull
// when the queue is at capacity and never blocks the caller.
func (p *Pool) Submit(priority Priority, fn func(ctx context.Context) (any, error)) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.queue.full() {
		return nil, ErrQueueFull
	}
	p.seq++
	t := &task{
		id:         uuid.NewString(),
		priority:   priority,
		run:        fn,
		enqueuedAt: time.Now(),
		seq:        p.seq,
		done:       make(chan Result, 1),
	}
	p.queue.push(t)
	p.dispatchLocked()
	return &Handle{ID: t.id, done: t.done}, nil
}

// Cancel removes a still-queued task. Tasks already dispatched to a worker
// cannot be cancelled; Cancel reports whether the task was removed.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	t := p.queue.remove(id)
	p.mu.Unlock()
	if t == nil {
		return false
	}
	t.resolve(Result{Err: ErrTaskCancelled})
	return true
}

// dispatchLocked hands queued tasks to idle workers whose breaker admits
// traffic. Highest priority first, FIFO within a priority.
func (p *Pool) dispatchLocked() {
	for p.queue.Len() > 0 {
		w := p.pickIdleLocked()
		if w == nil {
			return
		}
		t := p.queue.pop()
		w.rec.IsProcessing = true
		w.rec.State = StateProcessing
		w.rec.CurrentTask = t.id
		w.tasks <- t
	}
}

func (p *Pool) pickIdleLocked() *worker {
	for _, w := range p.workers {
		if w.rec.IsProcessing || w.replaced {
			continue
		}
		if !w.breaker.Allow() {
			continue
		}
		return w
	}
	return nil
}

// finishTask records a completed task outcome and applies the retry and
// breaker policies.
func (p *Pool) finishTask(w *worker, t *task, value any, err error, dur time.Duration) {
	var publish []events.Event

	p.mu.Lock()
	w.rec.IsProcessing = false
	w.rec.CurrentTask = ""
	p.updateMemoryLocked(w)

	if err != nil {
		w.rec.State = StateErrored
		w.rec.ErrorCount++
		w.rec.LastError = err.Error()
		w.breaker.RecordFailure()
		p.failed++
		if w.breaker.State() == BreakerOpen && !w.replaced {
			// An open breaker retires the worker. The successor is spawned
			// first so capacity never dips and the retried task lands on a
			// fresh worker instead of waiting out the reset timeout.
			replacement := p.replaceLocked(w)
			close(w.stop)
			if replacement != "" {
				publish = append(publish, events.WorkerReplaced{OldID: w.id, NewID: replacement, Reason: "breaker_open"})
			}
			p.logger.Warn("breaker open, replacing worker",
				logging.String(logging.FieldWorkerID, w.id),
				logging.String("replacement", replacement))
		}
		if p.availableLocked() == 0 {
			publish = append(publish, events.PoolDegraded{Workers: len(p.workers)})
		}
		if t.retries < p.cfg.Retry.MaxRetries {
			delay := p.cfg.Retry.Delay(t.retries)
			t.retries++
			p.logger.Warn("task failed, retrying",
				logging.String(logging.FieldTaskID, t.id),
				logging.Int("attempt", t.retries),
				logging.Duration("delay", delay),
				logging.Error(err))
			time.AfterFunc(delay, func() { p.requeue(t) })
		} else {
			t.resolve(Result{Err: fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, t.retries+1, err)})
		}
	} else {
		w.rec.State = StateIdle
		w.rec.ProcessedTasks++
		w.breaker.RecordSuccess()
		p.processed++
		p.durations.add(dur)
		t.resolve(Result{Value: value})
	}

	p.dispatchLocked()
	p.mu.Unlock()

	for _, ev := range publish {
		p.publish(ev)
	}
}

// timeoutTask fails the task with ErrTaskTimeout and arranges a replacement
// for the worker. The replacement is spawned before the old worker retires
// so capacity never dips.
func (p *Pool) timeoutTask(w *worker, t *task, dur time.Duration) {
	p.mu.Lock()
	w.rec.IsProcessing = false
	w.rec.CurrentTask = ""
	w.rec.State = StateErrored
	w.rec.ErrorCount++
	w.rec.LastError = ErrTaskTimeout.Error()
	w.breaker.RecordFailure()
	p.failed++
	p.timedOut++
	var replacement string
	if !w.replaced {
		replacement = p.replaceLocked(w)
	}
	p.dispatchLocked()
	p.mu.Unlock()

	t.resolve(Result{Err: fmt.Errorf("%w after %s", ErrTaskTimeout, dur.Round(time.Millisecond))})
	if replacement != "" {
		p.publish(events.WorkerReplaced{OldID: w.id, NewID: replacement, Reason: "task_timeout"})
	}
	p.logger.Warn("task timed out, replacing worker",
		logging.String(logging.FieldTaskID, t.id),
		logging.String(logging.FieldWorkerID, w.id))
}

// requeue puts a retried task back on the queue. When the pool shut down or
// the queue filled in the meantime the task fails instead of waiting forever.
func (p *Pool) requeue(t *task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.resolve(Result{Err: ErrPoolClosed})
		return
	}
	if p.queue.full() {
		p.mu.Unlock()
		t.resolve(Result{Err: ErrQueueFull})
		return
	}
	p.seq++
	t.seq = p.seq
	p.queue.push(t)
	p.dispatchLocked()
	p.mu.Unlock()
}

// ReplaceWorker retires the identified worker after spawning its
// replacement. It is the entry point for the health monitor.
func (p *Pool) ReplaceWorker(id, reason string) bool {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok || w.replaced {
		p.mu.Unlock()
		return false
	}
	replacement := p.replaceLocked(w)
	close(w.stop)
	p.mu.Unlock()

	p.publish(events.WorkerReplaced{OldID: id, NewID: replacement, Reason: reason})
	p.logger.Info("worker replaced",
		logging.String(logging.FieldWorkerID, id),
		logging.String("replacement", replacement),
		logging.String("reason", reason))
	return true
}

// replaceLocked spawns a successor with the same role and marks the old
// worker as replaced so onWorkerExit does not respawn it again. The old
// worker keeps running until it observes its stop signal or retires itself.
func (p *Pool) replaceLocked(w *worker) string {
	w.replaced = true
	if p.closed {
		return ""
	}
	nw := p.spawnLocked(w.rec.Role)
	return nw.id
}

func (p *Pool) spawnLocked(role Role) *worker {
	w := newWorker(role, p.cfg.FailureThreshold, p.cfg.ResetTimeout)
	p.workers[w.id] = w
	p.wg.Add(1)
	go p.runWorker(w)
	return w
}

// onWorkerExit deregisters a finished worker and keeps the pool at its
// minimum size when the exit was not part of a planned replacement.
func (p *Pool) onWorkerExit(w *worker) {
	p.mu.Lock()
	w.rec.State = StateTerminated
	delete(p.workers, w.id)
	if !w.replaced && !p.closed && len(p.workers) < p.cfg.MinWorkers {
		p.spawnLocked(w.rec.Role)
	}
	p.dispatchLocked()
	p.mu.Unlock()
}

// availableLocked counts workers whose breaker currently admits traffic.
func (p *Pool) availableLocked() int {
	n := 0
	for _, w := range p.workers {
		if !w.replaced && w.breaker.State() != BreakerOpen {
			n++
		}
	}
	return n
}

// Metrics returns a snapshot of queue depth, worker states and throughput.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := Metrics{
		Workers:       len(p.workers),
		QueueLength:   p.queue.Len(),
		QueueCapacity: p.cfg.QueueCapacity,
		Processed:     p.processed,
		Failed:        p.failed,
		TimedOut:      p.timedOut,
		AvgProcessing: p.durations.average(),
	}
	for _, w := range p.workers {
		if w.rec.IsProcessing {
			m.ActiveWorkers++
		}
		m.WorkerRecords = append(m.WorkerRecords, w.rec)
	}
	return m
}

// Shutdown stops accepting work, fails queued tasks with ErrPoolClosed and
// waits for in-flight tasks to finish. When ctx expires first the remaining
// tasks are cancelled through their context.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.queue.drain()
	for _, w := range p.workers {
		if !w.replaced {
			w.replaced = true
			close(w.stop)
		}
	}
	p.mu.Unlock()

	p.loopCancel()
	for _, t := range pending {
		t.resolve(Result{Err: ErrPoolClosed})
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.loopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.taskCancel()
		return nil
	case <-ctx.Done():
		p.taskCancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
