package pool

import (
	"container/heap"
	"context"
	"time"
)

// Priority orders queued tasks ahead of their enqueue time.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Result carries a finished task's value or terminal error.
type Result struct {
	Value any
	Err   error
}

// Handle lets the submitter await or identify a task.
type Handle struct {
	ID   string
	done chan Result
}

// Wait blocks until the task resolves or the context ends.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case res := <-h.done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the resolution channel for select-based callers.
func (h *Handle) Done() <-chan Result {
	return h.done
}

type task struct {
	id         string
	priority   Priority
	run        func(ctx context.Context) (any, error)
	enqueuedAt time.Time
	seq        uint64
	retries    int
	done       chan Result

	// heap bookkeeping
	index int
}

func (t *task) resolve(res Result) {
	select {
	case t.done <- res:
	default:
	}
}

// taskQueue is a bounded priority heap: higher priority first, then enqueue
// order ascending within a tier.
type taskQueue struct {
	items []*task
	cap   int
}

func newTaskQueue(capacity int) *taskQueue {
	q := &taskQueue{cap: capacity}
	heap.Init(q)
	return q
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	q.items = old[:n-1]
	return t
}

// full reports whether another enqueue would exceed capacity.
func (q *taskQueue) full() bool {
	return q.cap > 0 && len(q.items) >= q.cap
}

func (q *taskQueue) push(t *task) {
	heap.Push(q, t)
}

func (q *taskQueue) pop() *task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*task)
}

// remove extracts a queued task by id, used for pre-dispatch cancellation.
func (q *taskQueue) remove(id string) *task {
	for _, t := range q.items {
		if t.id == id {
			heap.Remove(q, t.index)
			return t
		}
	}
	return nil
}

// drain empties the queue, returning every task.
func (q *taskQueue) drain() []*task {
	out := q.items
	q.items = nil
	return out
}
