package cetty

import (
	"encoding/binary"
	"fmt"
	"net"

	"go.uber.org/atomic"

	"cetty/buffer"
	"cetty/errors"
	"cetty/internal/logging"
)

// Channel is one I/O end-point bound to a single EventLoop and owning one Pipeline.
// Operations travel through the pipeline and report their outcome through a Future.
type Channel interface {
	// ID returns the process-wide identity of the channel.
	ID() int
	// Parent returns the server channel that accepted this one, nil otherwise.
	Parent() Channel
	// EventLoop returns the loop the channel is bound to.
	EventLoop() EventLoop
	// Config returns the channel's configuration.
	Config() Config
	// Pipeline returns the channel's pipeline.
	Pipeline() *Pipeline
	// LocalAddr returns the bound address, nil before bind.
	LocalAddr() net.Addr
	// RemoteAddr returns the peer address, nil when not connected.
	RemoteAddr() net.Addr
	// IsOpen reports whether the channel has not been closed yet.
	IsOpen() bool
	// IsActive reports whether the channel is connected, or bound for a server channel.
	IsActive() bool

	Bind(local net.Addr) *Future
	// Connect connects to remote, binding to local first when it is not nil.
	Connect(remote, local net.Addr) *Future
	Disconnect() *Future
	Close() *Future
	Flush() *Future
	Write(msg interface{}) *Future

	// CloseFuture resolves once the channel is closed.
	CloseFuture() *Future

	transport() transport
}

// transport performs the operations that reach the head of the pipeline.
type transport interface {
	doBind(local net.Addr, f *Future)
	doConnect(remote, local net.Addr, f *Future)
	doDisconnect(f *Future)
	doClose(f *Future)
	doFlush(ctx *HandlerContext, f *Future)
}

const (
	channelOpen int32 = iota
	channelBound
	channelConnected
	channelClosed
)

var channelIDs atomic.Int32

// abstractChannel holds the state shared by every channel type.
type abstractChannel struct {
	self        Channel
	id          int
	parent      Channel
	loop        EventLoop
	pipeline    *Pipeline
	closeFuture *Future
	state       atomic.Int32
	log         Logger
}

func (c *abstractChannel) init(self, parent Channel, loop EventLoop, head Handler, log Logger) {
	if log == nil {
		log = logging.DefaultLogger
	}
	c.self = self
	c.id = int(channelIDs.Inc())
	c.parent = parent
	c.loop = loop
	c.log = log
	c.state.Store(channelOpen)
	c.pipeline = newPipeline(self, loop, head)
	c.closeFuture = NewFuture(self)
}

func (c *abstractChannel) ID() int { return c.id }
func (c *abstractChannel) Parent() Channel { return c.parent }
func (c *abstractChannel) EventLoop() EventLoop { return c.loop }
func (c *abstractChannel) Pipeline() *Pipeline { return c.pipeline }
func (c *abstractChannel) CloseFuture() *Future { return c.closeFuture }
func (c *abstractChannel) IsOpen() bool { return c.state.Load() != channelClosed }
func (c *abstractChannel) Flush() *Future { return c.pipeline.Flush() }
func (c *abstractChannel) Write(m interface{}) *Future { return c.pipeline.Write(m) }

func (c *abstractChannel) Bind(local net.Addr) *Future { return c.pipeline.Bind(local) }

func (c *abstractChannel) Connect(remote, local net.Addr) *Future {
	return c.pipeline.Connect(remote, local)
}

// Disconnect is a no-op that succeeds on a closed channel.
func (c *abstractChannel) Disconnect() *Future {
	if !c.IsOpen() {
		return NewSucceededFuture(c.self)
	}
	return c.pipeline.Disconnect()
}

// Close is a no-op that succeeds on a closed channel.
func (c *abstractChannel) Close() *Future {
	if !c.IsOpen() {
		return NewSucceededFuture(c.self)
	}
	return c.pipeline.Close()
}

// markClosed moves the channel to closed and returns the state it left. ok is false when
// the channel was already closed.
func (c *abstractChannel) markClosed() (prev int32, ok bool) {
	for {
		s := c.state.Load()
		if s == channelClosed {
			return s, false
		}
		if c.state.CAS(s, channelClosed) {
			return s, true
		}
	}
}

// finishClose fires the inactive event, frees the pipeline and resolves the close future.
func (c *abstractChannel) finishClose(wasActive bool) {
	if wasActive {
		c.pipeline.FireChannelInactive()
	}
	c.pipeline.destroy()
	c.closeFuture.SetSuccess()
}

// runOnLoop runs task on el, failing f when el no longer accepts tasks.
func runOnLoop(el EventLoop, f *Future, task func()) {
	if el.InEventLoop() {
		task()
		return
	}
	if err := el.Post(task); err != nil {
		f.SetFailure(err)
	}
}

// registrable is implemented by channels that need their loop to announce them.
type registrable interface {
	register(f *Future)
}

// register announces ch on its loop: the pipeline sees ChannelCreated and, for an accepted
// channel, ChannelActive.
func register(ch Channel) *Future {
	f := NewFuture(ch)
	r, ok := ch.(registrable)
	if !ok {
		f.SetFailure(errors.ErrUnsupportedOperation)
		return f
	}
	runOnLoop(ch.EventLoop(), f, func() { r.register(f) })
	return f
}

// addrHolder stores an address readable from any goroutine.
type addrHolder struct {
	v atomic.Value
}

type addrBox struct{ addr net.Addr }

func (h *addrHolder) load() net.Addr {
	if b, ok := h.v.Load().(addrBox); ok {
		return b.addr
	}
	return nil
}

func (h *addrHolder) store(addr net.Addr) { h.v.Store(addrBox{addr}) }

// toTCPAddr converts addr to a *net.TCPAddr, resolving foreign address types.
func toTCPAddr(addr net.Addr) (*net.TCPAddr, error) {
	if a, ok := addr.(*net.TCPAddr); ok {
		return a, nil
	}
	if addr == nil {
		return nil, fmt.Errorf("%w: nil address", errors.ErrInvalidArgument)
	}
	return net.ResolveTCPAddr("tcp", addr.String())
}

func (c *abstractChannel) String() string {
	return fmt.Sprintf("Channel(id: %d)", c.id)
}

// logger returns the logger of ch, the default logger for a nil or foreign channel.
func logger(ch Channel) Logger {
	if lc, ok := ch.(interface{ logger() Logger }); ok {
		return lc.logger()
	}
	return logging.DefaultLogger
}

func (c *abstractChannel) logger() Logger { return c.log }

// headHandler is the first context of every pipeline. It hands outbound requests to the
// channel's transport.
type headHandler struct {
	t transport
}

func (h *headHandler) Bind(_ *HandlerContext, local net.Addr, f *Future) { h.t.doBind(local, f) }

func (h *headHandler) Connect(_ *HandlerContext, remote, local net.Addr, f *Future) {
	h.t.doConnect(remote, local, f)
}

func (h *headHandler) Disconnect(_ *HandlerContext, f *Future) { h.t.doDisconnect(f) }

func (h *headHandler) Close(_ *HandlerContext, f *Future) { h.t.doClose(f) }

func (h *headHandler) Flush(ctx *HandlerContext, f *Future) { h.t.doFlush(ctx, f) }

// byteHeadHandler is the head of a byte-stream channel: outbound data lands in one buffer.
type byteHeadHandler struct {
	headHandler
	config Config
}

func (h *byteHeadHandler) NewOutboundBuffer(*HandlerContext) *buffer.Buffer {
	return h.config.BufferFactory().Buffer(binary.BigEndian, 0)
}
