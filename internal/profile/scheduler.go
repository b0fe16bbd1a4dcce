package profile

import "container/heap"

// scheduledTask is one entry in the priority queue, fired when its
// delaySeconds has elapsed relative to the scheduler's start time
// (spec.md §4.I "priority scheduler keyed by (delay_seconds, priority)").
type scheduledTask struct {
	delaySeconds float64
	priority     int
	seq          int // insertion order, breaks ties deterministically
	run          func()
	index        int // heap.Interface bookkeeping
}

type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].delaySeconds != h[j].delaySeconds {
		return h[i].delaySeconds < h[j].delaySeconds
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*scheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler is the single-threaded cooperative priority queue every
// profile run drives its actions through. It is not goroutine-safe by
// design: spec.md §5 calls this "single-threaded cooperative" — all
// Enqueue/Drain calls must come from one goroutine.
type Scheduler struct {
	h    taskHeap
	next int
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.h)
	return s
}

// Enqueue schedules run to fire at delaySeconds with priority (lower
// fires first among same-delay tasks).
func (s *Scheduler) Enqueue(delaySeconds float64, priority int, run func()) {
	t := &scheduledTask{delaySeconds: delaySeconds, priority: priority, seq: s.next, run: run}
	s.next++
	heap.Push(&s.h, t)
}

// Len reports the number of pending tasks.
func (s *Scheduler) Len() int { return s.h.Len() }

// PopReady pops and returns the run func of the earliest-due task
// whose delaySeconds is <= nowSeconds, or reports ok=false if the
// earliest task isn't due yet (or the queue is empty).
func (s *Scheduler) PopReady(nowSeconds float64) (run func(), ok bool) {
	if s.h.Len() == 0 {
		return nil, false
	}
	if s.h[0].delaySeconds > nowSeconds {
		return nil, false
	}
	t := heap.Pop(&s.h).(*scheduledTask)
	return t.run, true
}

// NextDelay reports the earliest pending task's delaySeconds, used by
// the engine to sleep until the next event.
func (s *Scheduler) NextDelay() (delaySeconds float64, ok bool) {
	if s.h.Len() == 0 {
		return 0, false
	}
	return s.h[0].delaySeconds, true
}

// Drain removes every pending task without running them, used on
// cancellation.
func (s *Scheduler) Drain() int {
	n := s.h.Len()
	s.h = s.h[:0]
	return n
}
