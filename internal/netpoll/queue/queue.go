package queue

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is a asynchronous function.
type Task func() error

// AsyncTaskQueue is a queue storing asynchronous tasks.
type AsyncTaskQueue interface {
	Enqueue(Task)
	Dequeue() Task
	Empty() bool
	Len() int
}

// taskQueue is a ring-buffer backed FIFO shared between the posting goroutines and the
// event-loop goroutine that drains it.
type taskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewTaskQueue instantiates an AsyncTaskQueue.
func NewTaskQueue() AsyncTaskQueue {
	return &taskQueue{q: queue.New()}
}

// Enqueue puts the given task at the tail of the queue.
func (tq *taskQueue) Enqueue(task Task) {
	tq.mu.Lock()
	tq.q.Add(task)
	tq.mu.Unlock()
}

// Dequeue pops the head of the queue, nil when empty.
func (tq *taskQueue) Dequeue() Task {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.q.Length() == 0 {
		return nil
	}
	return tq.q.Remove().(Task)
}

// Empty reports whether the queue holds no task.
func (tq *taskQueue) Empty() bool {
	return tq.Len() == 0
}

// Len returns the number of queued tasks.
func (tq *taskQueue) Len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length()
}
