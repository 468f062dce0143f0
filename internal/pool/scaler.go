package pool

import (
	"math"
	"runtime/debug"
	"sort"
	"time"

	"streamcast/internal/events"
	"streamcast/internal/logging"
)

// durationWindow keeps a bounded history of task processing times for the
// scale-up projection. Dropping the history is the cheapest memory relief
// available under pressure.
type durationWindow struct {
	samples []time.Duration
	max     int
}

func newDurationWindow(max int) *durationWindow {
	return &durationWindow{max: max}
}

func (w *durationWindow) add(d time.Duration) {
	w.samples = append(w.samples, d)
	if len(w.samples) > w.max {
		w.samples = w.samples[len(w.samples)-w.max:]
	}
}

func (w *durationWindow) average() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range w.samples {
		total += d
	}
	return total / time.Duration(len(w.samples))
}

func (w *durationWindow) reset() {
	w.samples = nil
}

// loadSnapshot is the input to the scaling decision functions.
type loadSnapshot struct {
	workers       int
	active        int
	queueLen      int
	avgProcessing time.Duration
	memoryPct     float64
	cpuPct        float64
}

// shouldScaleUp reports whether one worker should be added. The pool grows
// only when the queue outruns the active workers, the projected drain time
// exceeds current capacity, and the host has headroom for another worker.
func shouldScaleUp(s loadSnapshot, cfg Config) bool {
	if s.workers >= cfg.MaxWorkers {
		return false
	}
	if s.queueLen <= s.active {
		return false
	}
	if s.memoryPct >= cfg.MemoryScaleLimit || s.cpuPct >= cfg.CPUScaleLimit {
		return false
	}
	return projectedWorkers(s) > s.workers
}

// projectedWorkers estimates how many workers the current queue needs:
// ceil(queue length x average processing seconds). Both the grow and the
// shrink decision compare against this same projection.
func projectedWorkers(s loadSnapshot) int {
	return int(math.Ceil(float64(s.queueLen) * s.avgProcessing.Seconds()))
}

// scaleDownTarget returns how many workers the pool should keep, or the
// current count when no shrink is warranted. Shrinking requires utilization
// below half and the queue projection asking for fewer workers than are
// running, so a transient dip does not thrash the pool.
func scaleDownTarget(s loadSnapshot, cfg Config) int {
	if s.workers <= cfg.MinWorkers {
		return s.workers
	}
	utilization := float64(s.active) / float64(s.workers)
	if utilization >= 0.5 {
		return s.workers
	}
	target := projectedWorkers(s)
	if target < s.active {
		target = s.active
	}
	if target < cfg.MinWorkers {
		target = cfg.MinWorkers
	}
	if target >= s.workers {
		return s.workers
	}
	return target
}

// scaleLoop periodically samples host load and resizes the pool.
func (p *Pool) scaleLoop() {
	defer p.loopWG.Done()
	ticker := time.NewTicker(p.cfg.ScaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.loopCtx.Done():
			return
		case <-ticker.C:
			p.autoscale()
		}
	}
}

func (p *Pool) autoscale() {
	usage, err := p.sampler.Sample()
	if err != nil {
		p.logger.Warn("resource sampling failed", logging.Error(err))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	snap := loadSnapshot{
		workers:       len(p.workers),
		queueLen:      p.queue.Len(),
		avgProcessing: p.durations.average(),
		memoryPct:     usage.MemoryPct,
		cpuPct:        usage.CPUPct,
	}
	for _, w := range p.workers {
		if w.rec.IsProcessing {
			snap.active++
		}
	}

	if usage.MemoryPct >= p.cfg.MemoryEmergency {
		replaced := p.relieveMemoryLocked()
		p.mu.Unlock()
		debug.FreeOSMemory()
		for _, ev := range replaced {
			p.publish(ev)
		}
		return
	}

	if shouldScaleUp(snap, p.cfg) {
		w := p.spawnLocked(RoleGeneral)
		p.dispatchLocked()
		p.mu.Unlock()
		p.logger.Info("scaled up",
			logging.String(logging.FieldWorkerID, w.id),
			logging.Int("workers", snap.workers+1),
			logging.Int("queue", snap.queueLen))
		return
	}

	target := scaleDownTarget(snap, p.cfg)
	victims := p.pickVictimsLocked(snap.workers - target)
	for _, w := range victims {
		w.replaced = true
		close(w.stop)
	}
	p.mu.Unlock()

	if len(victims) > 0 {
		p.logger.Info("scaled down",
			logging.Int("removed", len(victims)),
			logging.Int("workers", target))
	}
}

// relieveMemoryLocked sheds what the pool can shed without touching running
// tasks: the processing-time history, plus any idle worker whose memory
// attribution exceeds the per-worker limit. Heavy workers are replaced, not
// just terminated, so capacity survives the emergency.
func (p *Pool) relieveMemoryLocked() []events.Event {
	p.durations.reset()
	var publish []events.Event
	for _, w := range p.workers {
		if w.rec.IsProcessing || w.replaced {
			continue
		}
		if w.rec.MemoryUsage <= p.cfg.WorkerMemoryLimit {
			continue
		}
		replacement := p.replaceLocked(w)
		close(w.stop)
		if replacement != "" {
			publish = append(publish, events.WorkerReplaced{OldID: w.id, NewID: replacement, Reason: "memory_emergency"})
		}
	}
	if len(publish) > 0 {
		p.logger.Warn("memory emergency, replacing heavy idle workers",
			logging.Int("replaced", len(publish)))
	}
	return publish
}

// pickVictimsLocked selects up to n idle workers for termination, preferring
// the highest memory attribution and, on ties, the fewest processed tasks.
func (p *Pool) pickVictimsLocked(n int) []*worker {
	if n <= 0 {
		return nil
	}
	var idle []*worker
	for _, w := range p.workers {
		if !w.rec.IsProcessing && !w.replaced {
			idle = append(idle, w)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		if idle[i].rec.MemoryUsage != idle[j].rec.MemoryUsage {
			return idle[i].rec.MemoryUsage > idle[j].rec.MemoryUsage
		}
		return idle[i].rec.ProcessedTasks < idle[j].rec.ProcessedTasks
	})
	if len(idle) > n {
		idle = idle[:n]
	}
	return idle
}
