package cetty

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"cetty/errors"
)

const (
	futurePending int32 = iota
	futureSuccess
	futureFailure
	futureCancelled
)

// Listener is notified once when a Future completes.
type Listener func(f *Future)

// ProgressListener is notified on every progress update of a Future.
type ProgressListener func(f *Future, progress, total int64)

type listenerEntry struct {
	fn       Listener
	priority int
}

// Future is the single-assignment result of an asynchronous channel operation. The first of
// SetSuccess, SetFailure and Cancel wins, later calls return false.
type Future struct {
	channel  Channel
	void     bool
	state    atomic.Int32
	cause    error
	done     chan struct{}
	mu       sync.Mutex
	entries  []listenerEntry
	progress []ProgressListener
}

// NewFuture returns a pending future for ch. ch may be nil, listeners then run on the
// completing goroutine.
func NewFuture(ch Channel) *Future {
	return &Future{channel: ch, done: make(chan struct{})}
}

// NewSucceededFuture returns a future that has already succeeded.
func NewSucceededFuture(ch Channel) *Future {
	f := NewFuture(ch)
	f.state.Store(futureSuccess)
	close(f.done)
	return f
}

// NewFailedFuture returns a future that has already failed with cause.
func NewFailedFuture(ch Channel, cause error) *Future {
	f := NewFuture(ch)
	f.cause = cause
	f.state.Store(futureFailure)
	close(f.done)
	return f
}

// NewVoidFuture returns a future for callers that opted out of notification. Listening on or
// awaiting it panics with ErrVoidFuture, a failure reported to it is fired as ExceptionCaught
// on ch's pipeline.
func NewVoidFuture(ch Channel) *Future {
	return &Future{channel: ch, void: true, done: make(chan struct{})}
}

// Channel returns the channel the operation belongs to.
func (f *Future) Channel() Channel { return f.channel }

// IsVoid reports whether f was created by NewVoidFuture.
func (f *Future) IsVoid() bool { return f.void }

// IsDone reports whether the future completed in any way.
func (f *Future) IsDone() bool { return f.state.Load() != futurePending }

// IsSuccess reports whether the operation succeeded.
func (f *Future) IsSuccess() bool { return f.state.Load() == futureSuccess }

// IsCancelled reports whether the future was cancelled.
func (f *Future) IsCancelled() bool { return f.state.Load() == futureCancelled }

// Cause returns the failure, ErrCancelled for a cancelled future, nil otherwise.
func (f *Future) Cause() error {
	switch f.state.Load() {
	case futureFailure:
		return f.cause
	case futureCancelled:
		return errors.ErrCancelled
	}
	return nil
}

// SetSuccess marks the operation successful.
func (f *Future) SetSuccess() bool { return f.complete(futureSuccess, nil) }

// SetFailure marks the operation failed with cause.
func (f *Future) SetFailure(cause error) bool {
	if f.void {
		if cause != nil && f.channel != nil {
			f.channel.Pipeline().FireExceptionCaught(cause)
		}
		return false
	}
	return f.complete(futureFailure, cause)
}

// Cancel cancels the operation.
func (f *Future) Cancel() bool { return f.complete(futureCancelled, nil) }

func (f *Future) complete(state int32, cause error) bool {
	if f.void {
		return false
	}
	f.mu.Lock()
	if f.state.Load() != futurePending {
		f.mu.Unlock()
		return false
	}
	f.cause = cause
	f.state.Store(state)
	entries := f.entries
	f.entries, f.progress = nil, nil
	f.mu.Unlock()

	close(f.done)
	if len(entries) > 0 {
		f.execute(func() {
			for _, e := range entries {
				f.notify(e.fn)
			}
		})
	}
	return true
}

// execute runs task on the channel's loop. Once the loop has stopped nobody else would run
// it, so it runs on the completing goroutine.
func (f *Future) execute(task func()) {
	if f.channel == nil {
		task()
		return
	}
	el := f.channel.EventLoop()
	if el.InEventLoop() {
		safeRun(logger(f.channel), task)
		return
	}
	if err := el.Post(task); err != nil {
		safeRun(logger(f.channel), task)
	}
}

func (f *Future) notify(fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			logger(f.channel).Warnf("Future listener panicked: %v", r)
		}
	}()
	fn(f)
}

// AddListener adds fn with priority 0, see AddListenerWithPriority.
func (f *Future) AddListener(fn Listener) *Future { return f.AddListenerWithPriority(fn, 0) }

// AddListenerWithPriority registers fn. Listeners with a higher priority run first, equal
// priorities run in insertion order. On a completed future fn runs before this call returns.
func (f *Future) AddListenerWithPriority(fn Listener, priority int) *Future {
	if f.void {
		panic(errors.ErrVoidFuture)
	}
	f.mu.Lock()
	if f.state.Load() != futurePending {
		f.mu.Unlock()
		f.notify(fn)
		return f
	}
	i := len(f.entries)
	for i > 0 && f.entries[i-1].priority < priority {
		i--
	}
	f.entries = append(f.entries, listenerEntry{})
	copy(f.entries[i+1:], f.entries[i:])
	f.entries[i] = listenerEntry{fn: fn, priority: priority}
	f.mu.Unlock()
	return f
}

// AddProgressListener registers fn for progress updates until the future completes.
func (f *Future) AddProgressListener(fn ProgressListener) *Future {
	if f.void {
		panic(errors.ErrVoidFuture)
	}
	f.mu.Lock()
	if f.state.Load() == futurePending {
		f.progress = append(f.progress, fn)
	}
	f.mu.Unlock()
	return f
}

// SetProgress reports progress to the progress listeners. It returns false once the future
// is done.
func (f *Future) SetProgress(progress, total int64) bool {
	f.mu.Lock()
	if f.state.Load() != futurePending {
		f.mu.Unlock()
		return false
	}
	listeners := append([]ProgressListener(nil), f.progress...)
	f.mu.Unlock()
	if len(listeners) > 0 {
		f.execute(func() {
			for _, fn := range listeners {
				fn(f, progress, total)
			}
		})
	}
	return true
}

// Done returns a channel closed on completion.
func (f *Future) Done() <-chan struct{} {
	if f.void {
		panic(errors.ErrVoidFuture)
	}
	return f.done
}

// Await blocks until completion or until ctx ends, which yields an ErrInterrupted error.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrInterrupted, ctx.Err())
	}
}

// AwaitTimeout blocks for at most d and reports whether the future completed.
func (f *Future) AwaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.Done():
		return true
	case <-t.C:
		return f.IsDone()
	}
}

// AwaitUninterruptibly blocks until completion.
func (f *Future) AwaitUninterruptibly() *Future {
	<-f.Done()
	return f
}

// Sync blocks until completion and returns the cause of a failure.
func (f *Future) Sync() error {
	return f.AwaitUninterruptibly().Cause()
}

func (f *Future) String() string {
	switch f.state.Load() {
	case futureSuccess:
		return "Future(success)"
	case futureFailure:
		return fmt.Sprintf("Future(failure: %v)", f.cause)
	case futureCancelled:
		return "Future(cancelled)"
	}
	return "Future(incomplete)"
}
