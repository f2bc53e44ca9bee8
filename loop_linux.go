package cetty

import (
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"cetty/errors"
	"cetty/internal/netpoll"
)

const (
	loopIdle int32 = iota
	loopRunning
	loopStopping
	loopStopped
)

// pollable is a file-descriptor owner registered with a PollEventLoop.
type pollable interface {
	fd() int
	// handleEvent is invoked on the loop for every epoll event of fd.
	handleEvent(ev uint32) error
	// closeOnShutdown closes the owner when its loop stops.
	closeOnShutdown()
}

// PollEventLoop is an EventLoop driven by epoll. It runs on one goroutine locked to its
// OS thread.
type PollEventLoop struct {
	id        int                  // index inside the group
	poller    *netpoll.Poller      // epoll poller with the async task queue
	tid       atomic.Int32         // OS thread id of the running loop, 0 when not running
	state     atomic.Int32         // loopIdle, loopRunning, loopStopping or loopStopped
	inflight  atomic.Int32         // posts between the state check and the enqueue
	channels  atomic.Int32         // number of registered pollables
	timers    timerQueue           // loop-owned timers
	pollables map[int]pollable     // fd -> owner, loop-owned
	packet    []byte               // read buffer shared by the loop's sockets
	logger    Logger               // customized logger for logging info
	done      chan struct{}        // closed at exit
	tasks     metrics.Counter      // tasks run
	fired     metrics.Counter      // timers fired
	gauge     metrics.Gauge        // registered channels
	group     *EventLoopGroup      // owning group, nil for a standalone loop
	handlers  *HandlerRegistry     // non-sharable handler owners
	closeErr  error                // poller close error, read after done
}

// NewPollEventLoop creates a standalone loop that is not part of a group. Call Start to run it.
func NewPollEventLoop(options ...Option) (*PollEventLoop, error) {
	return newPollEventLoop(0, loadOptions(options...))
}

func newPollEventLoop(id int, opts *Options) (*PollEventLoop, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	el := &PollEventLoop{
		id:        id,
		poller:    p,
		pollables: make(map[int]pollable),
		packet:    make([]byte, opts.ReadBufferCap),
		logger:    opts.Logger,
		handlers:  opts.Handlers,
		done:      make(chan struct{}),
		tasks:     metrics.GetOrRegisterCounter(fmt.Sprintf("eventloop.%d.tasks", id), opts.Metrics),
		fired:     metrics.GetOrRegisterCounter(fmt.Sprintf("eventloop.%d.timers", id), opts.Metrics),
		gauge:     metrics.GetOrRegisterGauge(fmt.Sprintf("eventloop.%d.channels", id), opts.Metrics),
	}
	return el, nil
}

// ID returns the index of the loop inside its group.
func (el *PollEventLoop) ID() int { return el.id }

func (el *PollEventLoop) handlerRegistry() *HandlerRegistry { return el.handlers }

// InEventLoop reports whether the caller runs on the loop's thread.
func (el *PollEventLoop) InEventLoop() bool {
	tid := el.tid.Load()
	return tid != 0 && int(tid) == unix.Gettid()
}

// Start runs the loop on a new goroutine.
func (el *PollEventLoop) Start() {
	_ = el.start(func(task func()) error {
		go task()
		return nil
	})
}

func (el *PollEventLoop) start(submit func(func()) error) error {
	if !el.state.CAS(loopIdle, loopRunning) {
		return nil
	}
	if err := submit(el.run); err != nil {
		el.state.Store(loopStopping)
		el.teardown()
		return err
	}
	return nil
}

// Execute runs task inline on the loop, otherwise posts it.
func (el *PollEventLoop) Execute(task func()) {
	if el.InEventLoop() {
		el.runTask(task)
		return
	}
	if err := el.Post(task); err != nil {
		el.logger.Warnf("Event-loop(%d) rejected a task: %v", el.id, err)
	}
}

// Post enqueues task on the loop.
func (el *PollEventLoop) Post(task func()) error {
	el.inflight.Inc()
	defer el.inflight.Dec()
	if el.state.Load() >= loopStopping {
		return errors.ErrLoopClosed
	}
	return el.poller.Trigger(func() error {
		el.runTask(task)
		return nil
	})
}

func (el *PollEventLoop) runTask(task func()) {
	el.tasks.Inc(1)
	safeRun(el.logger, task)
}

// RunAt schedules task to run once at t.
func (el *PollEventLoop) RunAt(t time.Time, task func()) *Timeout {
	return el.schedule(newTimeout(t, 0, task))
}

// RunAfter schedules task to run once after d.
func (el *PollEventLoop) RunAfter(d time.Duration, task func()) *Timeout {
	return el.schedule(newTimeout(time.Now().Add(d), 0, task))
}

// RunEvery schedules task to run every d.
func (el *PollEventLoop) RunEvery(d time.Duration, task func()) *Timeout {
	return el.schedule(newTimeout(time.Now().Add(d), d, task))
}

func (el *PollEventLoop) schedule(t *Timeout) *Timeout {
	if el.InEventLoop() {
		el.timers.add(t)
		return t
	}
	if err := el.Post(func() { el.timers.add(t) }); err != nil {
		t.Cancel()
	}
	return t
}

// fireTimers runs the due timers and returns the poll timeout in milliseconds.
func (el *PollEventLoop) fireTimers() int {
	if n := el.timers.runExpired(time.Now(), el.runTask); n > 0 {
		el.fired.Inc(int64(n))
	}
	return delayToMillis(el.timers.nextDelay(time.Now()))
}

// Stop stops the loop and waits for it to exit unless called from the loop itself.
func (el *PollEventLoop) Stop() error {
	switch {
	case el.state.CAS(loopRunning, loopStopping):
		if err := el.poller.Trigger(func() error { return errors.ErrLoopShutdown }); err != nil {
			return err
		}
	case el.state.CAS(loopIdle, loopStopping):
		el.teardown()
	}
	if el.InEventLoop() {
		return nil
	}
	<-el.done
	return el.closeErr
}

// Done is closed once the loop has stopped.
func (el *PollEventLoop) Done() <-chan struct{} { return el.done }

// ChannelCount returns the number of channels registered with the loop.
func (el *PollEventLoop) ChannelCount() int { return int(el.channels.Load()) }

// register adds p to the poller, watching writability as well when writable is set.
func (el *PollEventLoop) register(p pollable, writable bool) (err error) {
	if writable {
		err = el.poller.AddReadWrite(p.fd())
	} else {
		err = el.poller.AddRead(p.fd())
	}
	if err != nil {
		return
	}
	el.pollables[p.fd()] = p
	el.gauge.Update(int64(el.channels.Inc()))
	return
}

func (el *PollEventLoop) unregister(p pollable) {
	if _, ok := el.pollables[p.fd()]; !ok {
		return
	}
	delete(el.pollables, p.fd())
	el.gauge.Update(int64(el.channels.Dec()))
	_ = el.poller.Delete(p.fd())
}

func (el *PollEventLoop) handleEvent(fd int, ev uint32) error {
	if p, ok := el.pollables[fd]; ok {
		return p.handleEvent(ev)
	}
	return nil
}
