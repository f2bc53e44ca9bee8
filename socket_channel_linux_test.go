package cetty

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"cetty/buffer"
	"cetty/errors"
)

func echoInitializer() Initializer {
	return func(ch Channel) error {
		return ch.Pipeline().AddLast("echo", NewSimpleInboundHandler(func(ctx *HandlerContext, b *buffer.Buffer) error {
			ctx.Channel().Write(b.Retain())
			return nil
		}))
	}
}

func startEchoServer(t *testing.T, options ...BootstrapOption) (*ServerBootstrap, net.Addr) {
	t.Helper()
	options = append([]BootstrapOption{
		WithChildInitializer(echoInitializer()),
		WithGroupOptions(WithNumEventLoop(2)),
	}, options...)
	b := NewServerBootstrap(options...)
	f := b.Bind("127.0.0.1:0")
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := b.Shutdown(); err != nil {
			t.Errorf("server shutdown: %v", err)
		}
	})
	if !f.Channel().IsActive() {
		t.Fatal("bound server channel is not active")
	}
	return b, f.Channel().LocalAddr()
}

func readEcho(t *testing.T, received <-chan string, want string) {
	t.Helper()
	var sb strings.Builder
	for sb.Len() < len(want) {
		select {
		case s := <-received:
			sb.WriteString(s)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %q, want %q", sb.String(), want)
		}
	}
	if sb.String() != want {
		t.Fatalf("received %q, want %q", sb.String(), want)
	}
}

func newEchoClient(received chan string) *Bootstrap {
	return NewBootstrap(WithInitializer(Initializer(func(ch Channel) error {
		return ch.Pipeline().AddLast("sink", NewSimpleInboundHandler(func(_ *HandlerContext, b *buffer.Buffer) error {
			received <- string(b.Bytes())
			return nil
		}))
	})))
}

func TestTCPEcho(t *testing.T) {
	_, addr := startEchoServer(t)
	received := make(chan string, 1024)
	client := newEchoClient(received)
	defer func() { _ = client.Shutdown() }()

	f := client.ConnectAddr(addr)
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	ch := f.Channel()
	if !ch.IsActive() || ch.RemoteAddr() == nil || ch.LocalAddr() == nil {
		t.Fatalf("connected channel: active %v remote %v local %v", ch.IsActive(), ch.RemoteAddr(), ch.LocalAddr())
	}
	if err := ch.Write("hello").Sync(); err != nil {
		t.Fatal(err)
	}
	readEcho(t, received, "hello")

	big := strings.Repeat("0123456789", 100000)
	wf := ch.Write(big)
	readEcho(t, received, big)
	if err := wf.Sync(); err != nil {
		t.Fatal(err)
	}

	if err := ch.Close().Sync(); err != nil {
		t.Fatal(err)
	}
	if ch.IsOpen() || !ch.CloseFuture().IsSuccess() {
		t.Error("channel still open after Close")
	}
	if err := ch.Write("late").Sync(); err == nil {
		t.Error("write on a closed channel succeeded")
	}
}

func TestTCPEchoWithReusedChildren(t *testing.T) {
	_, addr := startEchoServer(t, WithReusableChildChannels(1))
	received := make(chan string, 16)
	client := newEchoClient(received)
	defer func() { _ = client.Shutdown() }()

	for i := 0; i < 3; i++ {
		f := client.ConnectAddr(addr)
		if err := f.Sync(); err != nil {
			t.Fatal(err)
		}
		if err := f.Channel().Write("ping").Sync(); err != nil {
			t.Fatal(err)
		}
		readEcho(t, received, "ping")
		if err := f.Channel().Close().Sync(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConnectRefused(t *testing.T) {
	b, addr := startEchoServer(t)
	if err := b.Shutdown(); err != nil {
		t.Fatal(err)
	}
	client := NewBootstrap()
	defer func() { _ = client.Shutdown() }()
	f := client.ConnectAddr(addr)
	err := f.Sync()
	if !errors.Is(err, errors.ErrConnect) {
		t.Fatalf("expected a connect error, got %v", err)
	}
	var opErr *errors.OpError
	if !errors.As(err, &opErr) || opErr.Op != "connect" {
		t.Errorf("expected an OpError, got %T", err)
	}
	f.Channel().CloseFuture().AwaitUninterruptibly()
	if f.Channel().IsOpen() {
		t.Error("channel left open after a failed connect")
	}
}

func TestServerChannelRejectsConnect(t *testing.T) {
	b := NewServerBootstrap(WithChildInitializer(echoInitializer()))
	f := b.Bind("127.0.0.1:0")
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Shutdown() }()
	err := f.Channel().Connect(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, nil).Sync()
	if !errors.Is(err, errors.ErrUnsupportedOperation) {
		t.Errorf("expected ErrUnsupportedOperation, got %v", err)
	}
	if err = f.Channel().Bind(f.Channel().LocalAddr()).Sync(); !errors.Is(err, errors.ErrAlreadyBound) {
		t.Errorf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestBindAddressInUse(t *testing.T) {
	_, addr := startEchoServer(t)
	b := NewServerBootstrap(WithChildInitializer(echoInitializer()))
	defer func() { _ = b.Shutdown() }()
	if err := b.BindAddr(addr).Sync(); !errors.Is(err, errors.ErrBind) {
		t.Errorf("expected a bind error, got %v", err)
	}
}

func TestBootstrapRejectsBadAddress(t *testing.T) {
	client := NewBootstrap()
	defer func() { _ = client.Shutdown() }()
	f := client.Connect("not an address")
	if !f.IsDone() || f.IsSuccess() {
		t.Fatalf("expected an already failed future, got %v", f)
	}
}

func TestPeerCloseFiresInactive(t *testing.T) {
	inactive := make(chan struct{}, 1)
	b := NewServerBootstrap(WithChildInitializer(Initializer(func(ch Channel) error {
		return ch.Pipeline().AddLast("watch", &closeWatcher{done: inactive})
	})))
	f := b.Bind("127.0.0.1:0")
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Shutdown() }()

	conn, err := net.Dial("tcp", f.Channel().LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.Close()
	select {
	case <-inactive:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never saw the peer close")
	}
}

type closeWatcher struct {
	InboundHandlerAdapter
	done chan struct{}
}

func (w *closeWatcher) ChannelInactive(ctx *HandlerContext) {
	w.done <- struct{}{}
	ctx.FireChannelInactive()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextAccepted(t *testing.T, accepted <-chan Channel) Channel {
	t.Helper()
	select {
	case ch := <-accepted:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	return nil
}

func TestClosedChildStaysClosedAfterReuse(t *testing.T) {
	accepted := make(chan Channel, 4)
	b := NewServerBootstrap(
		WithChildInitializer(Initializer(func(ch Channel) error {
			accepted <- ch
			return echoInitializer()(ch)
		})),
		WithGroupOptions(WithNumEventLoop(1)),
		WithReusableChildChannels(1),
	)
	f := b.Bind("127.0.0.1:0")
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Shutdown() }()
	addr := f.Channel().LocalAddr().String()

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	stale := nextAccepted(t, accepted)
	_ = first.Close()
	select {
	case <-stale.CloseFuture().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the first connection never closed")
	}
	waitFor(t, func() bool { return len(b.reusable) == 1 }, "buffers of the closed child never reached the pool")

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	fresh := nextAccepted(t, accepted)
	if fresh == stale || fresh.ID() == stale.ID() {
		t.Fatalf("new connection reuses the handle of the closed one (id %d)", fresh.ID())
	}
	if len(b.reusable) != 0 {
		t.Error("pooled buffers were not taken over by the new child")
	}
	if stale.IsOpen() || stale.IsActive() {
		t.Error("closed child reopened")
	}

	if err = stale.Close().Sync(); err != nil {
		t.Fatalf("closing the closed child again: %v", err)
	}
	_ = second.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err = second.Write([]byte("still here")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len("still here"))
	if _, err = io.ReadFull(second, got); err != nil {
		t.Fatalf("second connection broken by closing the first one: %v", err)
	}
	if string(got) != "still here" || !fresh.IsActive() {
		t.Errorf("echo %q, active %v", got, fresh.IsActive())
	}
}

// eventRecorder records inbound events in the order they reach it.
type eventRecorder struct {
	InboundHandlerAdapter
	mu     sync.Mutex
	events []string
	active chan struct{}
}

func (r *eventRecorder) record(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) recorded() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.events, ",")
}

func (r *eventRecorder) ChannelActive(ctx *HandlerContext) {
	r.active <- struct{}{}
	ctx.FireChannelActive()
}

func (r *eventRecorder) ExceptionCaught(_ *HandlerContext, _ error) { r.record("exception") }

func (r *eventRecorder) ChannelInactive(ctx *HandlerContext) {
	r.record("inactive")
	ctx.FireChannelInactive()
}

func TestConnectionResetClosesChannel(t *testing.T) {
	rec := &eventRecorder{active: make(chan struct{}, 1)}
	closed := make(chan struct{})
	b := NewServerBootstrap(WithChildInitializer(Initializer(func(ch Channel) error {
		ch.CloseFuture().AddListener(func(*Future) {
			rec.record("closed")
			close(closed)
		})
		return ch.Pipeline().AddLast("recorder", rec)
	})))
	f := b.Bind("127.0.0.1:0")
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Shutdown() }()

	conn, err := net.DialTCP("tcp", nil, f.Channel().LocalAddr().(*net.TCPAddr))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.active:
	case <-time.After(2 * time.Second):
		t.Fatal("accepted channel never became active")
	}
	// A zero linger turns the close into a reset.
	if err = conn.SetLinger(0); err != nil {
		t.Fatal(err)
	}
	_ = conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after a reset, events %q", rec.recorded())
	}
	if got := rec.recorded(); got != "exception,inactive,closed" {
		t.Errorf("events %q, want exception,inactive,closed", got)
	}
}

// loopChecker reports whether its callbacks run on the channel's loop.
type loopChecker struct {
	InboundHandlerAdapter
	LifecycleAdapter
	onLoop chan bool
}

func (c *loopChecker) AfterAdd(ctx *HandlerContext) {
	c.onLoop <- ctx.EventLoop().InEventLoop()
}

func (c *loopChecker) UserEventTriggered(ctx *HandlerContext, evt interface{}) {
	c.onLoop <- ctx.EventLoop().InEventLoop()
}

func TestOffLoopCallsRunOnLoop(t *testing.T) {
	_, addr := startEchoServer(t)
	client := NewBootstrap()
	defer func() { _ = client.Shutdown() }()
	f := client.ConnectAddr(addr)
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	ch := f.Channel()
	if ch.EventLoop().InEventLoop() {
		t.Fatal("test goroutine reported as the loop thread")
	}

	checker := &loopChecker{onLoop: make(chan bool, 2)}
	if err := ch.Pipeline().AddLast("checker", checker); err != nil {
		t.Fatal(err)
	}
	ch.Pipeline().FireUserEventTriggered("tick")
	for _, what := range []string{"AfterAdd", "UserEventTriggered"} {
		select {
		case onLoop := <-checker.onLoop:
			if !onLoop {
				t.Errorf("%s ran off the loop", what)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never ran", what)
		}
	}
	_ = ch.Close().Sync()
}
