package pool

import (
	"context"
	"time"

	"streamcast/internal/logging"
)

// HealthConfig tunes the probe loop hysteresis. A worker flips to unhealthy
// only after UnhealthyThreshold consecutive failed probes and recovers only
// after HealthyThreshold consecutive passes, so a single bad sample never
// triggers a replacement.
type HealthConfig struct {
	ProbeInterval      time.Duration
	UnhealthyThreshold int
	HealthyThreshold   int
	// MaxErrorRate fails a probe when errors/(errors+processed) exceeds it.
	// Zero disables the check.
	MaxErrorRate float64
	// MaxMemoryMB fails a probe when the worker's memory attribution
	// exceeds it. Zero disables the check.
	MaxMemoryMB int
}

// healthRecord tracks one worker's consecutive probe streaks.
type healthRecord struct {
	failStreak int
	passStreak int
	unhealthy  bool
}

// HealthMonitor probes pool workers and replaces the ones that stay
// unresponsive. The probe itself is simple: a worker that has been stuck on
// the same task for longer than the task timeout fails the probe.
type HealthMonitor struct {
	pool    *Pool
	cfg     HealthConfig
	records map[string]*healthRecord
	seen    map[string]string // worker id -> current task at last probe
	since   map[string]time.Time
}

func NewHealthMonitor(p *Pool, cfg HealthConfig) *HealthMonitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = 2
	}
	return &HealthMonitor{
		pool:    p,
		cfg:     cfg,
		records: make(map[string]*healthRecord),
		seen:    make(map[string]string),
		since:   make(map[string]time.Time),
	}
}

// Run probes on the configured interval until ctx is cancelled. It runs on
// its own goroutine, single-threaded over the monitor state.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(time.Now())
		}
	}
}

// probe samples every worker once and replaces those that crossed the
// unhealthy threshold.
func (m *HealthMonitor) probe(now time.Time) {
	metrics := m.pool.Metrics()
	live := make(map[string]bool, len(metrics.WorkerRecords))
	for _, rec := range metrics.WorkerRecords {
		live[rec.ID] = true
		pass := m.sample(rec, now)
		if transitioned, unhealthy := m.Observe(rec.ID, pass); transitioned && unhealthy {
			m.pool.logger.Warn("worker unhealthy",
				logging.String(logging.FieldWorkerID, rec.ID),
				logging.Int("failed_probes", m.cfg.UnhealthyThreshold))
			m.pool.ReplaceWorker(rec.ID, "health_probe")
		}
	}
	for id := range m.records {
		if !live[id] {
			delete(m.records, id)
			delete(m.seen, id)
			delete(m.since, id)
		}
	}
}

// sample evaluates a single probe against the worker's reported error rate,
// memory attribution, and task progress: a worker stuck on the same task
// past the task timeout fails the probe.
func (m *HealthMonitor) sample(rec Record, now time.Time) bool {
	if m.cfg.MaxErrorRate > 0 {
		attempts := rec.ProcessedTasks + rec.ErrorCount
		if attempts > 0 && float64(rec.ErrorCount)/float64(attempts) > m.cfg.MaxErrorRate {
			return false
		}
	}
	if m.cfg.MaxMemoryMB > 0 && rec.MemoryUsage > uint64(m.cfg.MaxMemoryMB)<<20 {
		return false
	}
	if !rec.IsProcessing || rec.CurrentTask == "" {
		delete(m.seen, rec.ID)
		return true
	}
	if m.seen[rec.ID] != rec.CurrentTask {
		m.seen[rec.ID] = rec.CurrentTask
		m.since[rec.ID] = now
		return true
	}
	return now.Sub(m.since[rec.ID]) <= m.pool.cfg.TaskTimeout
}

// Observe feeds one probe result into the hysteresis state machine and
// reports whether the worker's health classification changed and what the
// new classification is.
func (m *HealthMonitor) Observe(workerID string, pass bool) (transitioned, unhealthy bool) {
	rec := m.records[workerID]
	if rec == nil {
		rec = &healthRecord{}
		m.records[workerID] = rec
	}
	if pass {
		rec.passStreak++
		rec.failStreak = 0
		if rec.unhealthy && rec.passStreak >= m.cfg.HealthyThreshold {
			rec.unhealthy = false
			return true, false
		}
		return false, rec.unhealthy
	}
	rec.failStreak++
	rec.passStreak = 0
	if !rec.unhealthy && rec.failStreak >= m.cfg.UnhealthyThreshold {
		rec.unhealthy = true
		return true, true
	}
	return false, rec.unhealthy
}
