package cetty

import (
	"container/heap"
	"time"

	"go.uber.org/atomic"
)

// TimeoutState is the life-cycle state of a Timeout.
type TimeoutState int32

const (
	// TimeoutUninitialized means the timer has not reached its event-loop yet.
	TimeoutUninitialized TimeoutState = iota
	// TimeoutActive means the timer is scheduled.
	TimeoutActive
	// TimeoutExpired means the one-shot timer fired. It is terminal.
	TimeoutExpired
	// TimeoutCancelled means the timer was cancelled or its loop stopped. It is terminal.
	TimeoutCancelled
)

func (s TimeoutState) String() string {
	switch s {
	case TimeoutUninitialized:
		return "uninitialized"
	case TimeoutActive:
		return "active"
	case TimeoutExpired:
		return "expired"
	case TimeoutCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Timeout is the handle of a task scheduled on an EventLoop.
type Timeout struct {
	state    atomic.Int32
	deadline time.Time
	period   time.Duration
	task     func()
	seq      uint64
	index    int
}

func newTimeout(deadline time.Time, period time.Duration, task func()) *Timeout {
	return &Timeout{deadline: deadline, period: period, task: task, index: -1}
}

// State returns the current state.
func (t *Timeout) State() TimeoutState { return TimeoutState(t.state.Load()) }

// Deadline returns the time the task is due next.
func (t *Timeout) Deadline() time.Time { return t.deadline }

// IsExpired reports whether a one-shot timer has fired.
func (t *Timeout) IsExpired() bool { return t.State() == TimeoutExpired }

// IsCancelled reports whether the timer was cancelled.
func (t *Timeout) IsCancelled() bool { return t.State() == TimeoutCancelled }

// Cancel stops the timer and reports whether this call cancelled it. A timer whose task
// has already begun running cannot be cancelled for that run.
func (t *Timeout) Cancel() bool {
	for {
		s := t.state.Load()
		if s != int32(TimeoutUninitialized) && s != int32(TimeoutActive) {
			return false
		}
		if t.state.CAS(s, int32(TimeoutCancelled)) {
			return true
		}
	}
}

type timerHeap []*Timeout

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timeout)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerQueue orders timers by deadline, then by insertion. It is only touched from its
// event-loop.
type timerQueue struct {
	heap timerHeap
	seq  uint64
}

func (q *timerQueue) add(t *Timeout) {
	if !t.state.CAS(int32(TimeoutUninitialized), int32(TimeoutActive)) {
		return
	}
	q.push(t)
}

func (q *timerQueue) push(t *Timeout) {
	q.seq++
	t.seq = q.seq
	heap.Push(&q.heap, t)
}

func (q *timerQueue) len() int { return len(q.heap) }

// runExpired fires every timer due at now and returns how many ran.
func (q *timerQueue) runExpired(now time.Time, run func(func())) (fired int) {
	for len(q.heap) > 0 {
		t := q.heap[0]
		if t.deadline.After(now) {
			break
		}
		heap.Pop(&q.heap)
		if t.period > 0 {
			if t.State() != TimeoutActive {
				continue
			}
			run(t.task)
			fired++
			if t.State() == TimeoutActive {
				t.deadline = t.deadline.Add(t.period)
				if !t.deadline.After(now) {
					t.deadline = now.Add(t.period)
				}
				q.push(t)
			}
			continue
		}
		if t.state.CAS(int32(TimeoutActive), int32(TimeoutExpired)) {
			run(t.task)
			fired++
		}
	}
	return
}

// nextDelay returns the wait until the earliest live deadline, -1 when there is none.
func (q *timerQueue) nextDelay(now time.Time) time.Duration {
	for len(q.heap) > 0 {
		t := q.heap[0]
		if t.State() == TimeoutCancelled {
			heap.Pop(&q.heap)
			continue
		}
		if d := t.deadline.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return -1
}

func (q *timerQueue) cancelAll() {
	for _, t := range q.heap {
		t.Cancel()
		t.index = -1
	}
	q.heap = nil
}

// delayToMillis rounds d up so that a wait never returns before the deadline.
func delayToMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
