package cetty

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// run is the body of the loop goroutine. The thread stays locked so that InEventLoop can
// compare thread ids.
func (el *PollEventLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	el.tid.Store(int32(unix.Gettid()))
	defer el.tid.Store(0)

	err := el.poller.Polling(el.handleEvent, el.fireTimers)
	el.logger.Debugf("Event-loop(%d) is exiting on the signal error: %v", el.id, err)
	el.teardown()
}

// teardown releases everything the loop owns. It runs on the loop thread, or on the caller
// of Stop for a loop that never started.
func (el *PollEventLoop) teardown() {
	el.state.Store(loopStopping)
	el.timers.cancelAll()

	for _, p := range el.pollables {
		p.closeOnShutdown()
	}
	el.pollables = make(map[int]pollable)

	// Posts that passed the state check before stopping finish their enqueue first.
	for el.inflight.Load() > 0 {
		runtime.Gosched()
	}
	el.poller.Drain()

	el.closeErr = el.poller.Close()
	el.state.Store(loopStopped)
	close(el.done)
}
