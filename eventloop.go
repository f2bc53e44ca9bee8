package cetty

import (
	"fmt"
	"runtime/debug"
	"time"

	"cetty/errors"
)

// EventLoop is a single-threaded executor. Every channel is bound to one EventLoop for its
// whole life and its mutable state is only touched from that loop.
type EventLoop interface {
	// ID returns the index of the loop inside its group.
	ID() int

	// InEventLoop reports whether the caller runs on the loop's own thread.
	InEventLoop() bool

	// Execute runs task inline when called on the loop, otherwise posts it.
	Execute(task func())

	// Post enqueues task to run on the loop. Tasks posted from one goroutine run in order.
	Post(task func()) error

	// RunAt schedules task to run once at t.
	RunAt(t time.Time, task func()) *Timeout

	// RunAfter schedules task to run once after d.
	RunAfter(d time.Duration, task func()) *Timeout

	// RunEvery schedules task to run every d until the Timeout is cancelled or the loop stops.
	RunEvery(d time.Duration, task func()) *Timeout

	// Stop cancels pending timers, runs the queued tasks, closes the registered channels
	// and releases the loop. It is idempotent.
	Stop() error

	// Done is closed once the loop has stopped.
	Done() <-chan struct{}
}

// safeRun runs task, logging instead of propagating a panic so that one task cannot take
// the loop down.
func safeRun(logger Logger, task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic in event-loop task: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}

// recoverError turns a recovered panic value into an error wrapping ErrHandlerPanic.
func recoverError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", errors.ErrHandlerPanic, err)
	}
	return fmt.Errorf("%w: %v", errors.ErrHandlerPanic, r)
}
