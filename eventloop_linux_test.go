package cetty

import (
	"net"
	"runtime"
	"testing"
	"time"

	"cetty/errors"
)

func newStartedLoop(t *testing.T) *PollEventLoop {
	t.Helper()
	el, err := NewPollEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	el.Start()
	t.Cleanup(func() { _ = el.Stop() })
	return el
}

func TestPostRunsOnLoopThread(t *testing.T) {
	el := newStartedLoop(t)
	if el.InEventLoop() {
		t.Fatal("test goroutine reported as the loop thread")
	}
	done := make(chan bool, 1)
	if err := el.Post(func() {
		inline := false
		el.Execute(func() { inline = true })
		done <- el.InEventLoop() && inline
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Error("task did not run on the loop thread, or Execute on the loop was not inline")
		}
	case <-time.After(time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestPostsRunInOrder(t *testing.T) {
	el := newStartedLoop(t)
	const n = 1000
	got := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		if err := el.Post(func() { got <- i }); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			if v != i {
				t.Fatalf("task %d ran at position %d", v, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d tasks ran", i, n)
		}
	}
}

func TestLoopTimers(t *testing.T) {
	el := newStartedLoop(t)
	start := time.Now()
	fired := make(chan time.Duration, 1)
	el.RunAfter(20*time.Millisecond, func() { fired <- time.Since(start) })
	cancelled := el.RunAfter(10*time.Millisecond, func() { t.Error("cancelled timer ran") })
	cancelled.Cancel()

	select {
	case d := <-fired:
		if d < 20*time.Millisecond {
			t.Errorf("timer fired after %v, before its deadline", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestStoppedLoopRejectsTasks(t *testing.T) {
	el, err := NewPollEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	el.Start()
	if err = el.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-el.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err = el.Post(func() {}); !errors.Is(err, errors.ErrLoopClosed) {
		t.Errorf("Post after Stop: %v", err)
	}
	if err = el.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if to := el.RunAfter(time.Millisecond, func() {}); !to.IsCancelled() {
		t.Errorf("timer on a stopped loop is %v", to.State())
	}
}

func TestGroupSize(t *testing.T) {
	for _, tc := range []struct {
		name    string
		options []Option
		want    int
	}{
		{"default", nil, 1},
		{"multicore", []Option{WithMulticore(true)}, runtime.NumCPU()},
		{"explicit", []Option{WithMulticore(true), WithNumEventLoop(2)}, 2},
	} {
		g, err := NewEventLoopGroup(tc.options...)
		if err != nil {
			t.Fatal(err)
		}
		if g.Len() != tc.want {
			t.Errorf("%s: Len = %d, want %d", tc.name, g.Len(), tc.want)
		}
		_ = g.ShutdownGracefully()
	}
}

func TestGroupRoundRobin(t *testing.T) {
	g, err := NewEventLoopGroup(WithNumEventLoop(3))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.ShutdownGracefully() }()
	if g.Len() != 3 {
		t.Fatalf("Len = %d", g.Len())
	}
	for i := 0; i < 6; i++ {
		if el := g.Next(nil); el.ID() != i%3 {
			t.Errorf("Next #%d returned loop %d", i, el.ID())
		}
	}
	if g.Metrics().Get("eventloop.2.tasks") == nil {
		t.Error("loop counters not registered")
	}
}

func TestGroupSourceAddrHash(t *testing.T) {
	g, err := NewEventLoopGroup(WithNumEventLoop(4), WithLoadBalancing(SourceAddrHash))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.ShutdownGracefully() }()
	addr := &net.TCPAddr{IP: net.IPv4(192, 168, 1, 7), Port: 4000}
	first := g.Next(addr)
	for i := 0; i < 10; i++ {
		if g.Next(addr) != first {
			t.Fatal("same source address mapped to different loops")
		}
	}
	if g.Next(nil) == nil {
		t.Error("no loop for a nil address")
	}
}

func TestGroupShutdown(t *testing.T) {
	g, err := NewEventLoopGroup(WithNumEventLoop(2), WithLoadBalancing(LeastConnections))
	if err != nil {
		t.Fatal(err)
	}
	loops := make([]*PollEventLoop, 0, 2)
	g.Iterate(func(_ int, el *PollEventLoop) bool {
		loops = append(loops, el)
		return true
	})
	if err = g.ShutdownGracefully(); err != nil {
		t.Fatal(err)
	}
	if !g.IsShutdown() {
		t.Error("IsShutdown false after shutdown")
	}
	for _, el := range loops {
		select {
		case <-el.Done():
		default:
			t.Errorf("loop %d still running", el.ID())
		}
	}
	if err = g.ShutdownGracefully(); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestListenersRunAfterLoopStopped(t *testing.T) {
	el, err := NewPollEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	el.Start()
	f := NewFuture(NewSocketChannel(el))
	ran := 0
	f.AddListener(func(*Future) { ran++ })
	progressed := false
	f.AddProgressListener(func(*Future, int64, int64) { progressed = true })
	if err = el.Stop(); err != nil {
		t.Fatal(err)
	}

	if !f.SetProgress(1, 2) || !progressed {
		t.Error("progress listener did not run once the loop stopped")
	}
	if !f.SetSuccess() {
		t.Fatal("SetSuccess lost")
	}
	if ran != 1 {
		t.Fatalf("listener registered before completion ran %d times", ran)
	}
	f.AddListener(func(*Future) { ran++ })
	if ran != 2 {
		t.Errorf("listener added after completion ran %d times in total", ran)
	}
}
