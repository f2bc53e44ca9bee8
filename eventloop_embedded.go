package cetty

import (
	"time"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"cetty/errors"
	"cetty/internal/logging"
)

// EmbeddedEventLoop is a manually driven EventLoop for tests. Every caller counts as being on
// the loop, posted tasks wait for RunPendingTasks and timers wait for RunScheduledTasks.
// It is not safe for concurrent use.
type EmbeddedEventLoop struct {
	tasks    *queue.Queue
	timers   timerQueue
	stopped  atomic.Bool
	done     chan struct{}
	logger   Logger
	handlers *HandlerRegistry
	now      func() time.Time
}

// NewEmbeddedEventLoop creates an embedded loop.
func NewEmbeddedEventLoop() *EmbeddedEventLoop {
	return &EmbeddedEventLoop{
		tasks:    queue.New(),
		done:     make(chan struct{}),
		logger:   logging.DefaultLogger,
		handlers: NewHandlerRegistry(),
		now:      time.Now,
	}
}

// ID always returns 0.
func (el *EmbeddedEventLoop) ID() int { return 0 }

func (el *EmbeddedEventLoop) handlerRegistry() *HandlerRegistry { return el.handlers }

// InEventLoop always returns true.
func (el *EmbeddedEventLoop) InEventLoop() bool { return true }

// Execute runs task inline.
func (el *EmbeddedEventLoop) Execute(task func()) { safeRun(el.logger, task) }

// Post queues task until RunPendingTasks.
func (el *EmbeddedEventLoop) Post(task func()) error {
	if el.stopped.Load() {
		return errors.ErrLoopClosed
	}
	el.tasks.Add(task)
	return nil
}

// RunAt schedules task at t.
func (el *EmbeddedEventLoop) RunAt(t time.Time, task func()) *Timeout {
	return el.schedule(newTimeout(t, 0, task))
}

// RunAfter schedules task after d.
func (el *EmbeddedEventLoop) RunAfter(d time.Duration, task func()) *Timeout {
	return el.schedule(newTimeout(el.now().Add(d), 0, task))
}

// RunEvery schedules task every d.
func (el *EmbeddedEventLoop) RunEvery(d time.Duration, task func()) *Timeout {
	return el.schedule(newTimeout(el.now().Add(d), d, task))
}

func (el *EmbeddedEventLoop) schedule(t *Timeout) *Timeout {
	if el.stopped.Load() {
		t.Cancel()
		return t
	}
	el.timers.add(t)
	return t
}

// RunPendingTasks runs the queued tasks, including those they post, and returns how many ran.
func (el *EmbeddedEventLoop) RunPendingTasks() (n int) {
	for el.tasks.Length() > 0 {
		task := el.tasks.Remove().(func())
		safeRun(el.logger, task)
		n++
	}
	return
}

// RunScheduledTasks fires the timers due at the current time and returns the wait until the
// next one, -1 when none is left.
func (el *EmbeddedEventLoop) RunScheduledTasks() time.Duration {
	el.timers.runExpired(el.now(), func(task func()) { safeRun(el.logger, task) })
	return el.timers.nextDelay(el.now())
}

// Stop cancels the timers and runs the queued tasks.
func (el *EmbeddedEventLoop) Stop() error {
	if !el.stopped.CAS(false, true) {
		return nil
	}
	el.timers.cancelAll()
	el.RunPendingTasks()
	close(el.done)
	return nil
}

// Done is closed once the loop has stopped.
func (el *EmbeddedEventLoop) Done() <-chan struct{} { return el.done }
