package cetty

import (
	"fmt"
	"net"

	"go.uber.org/multierr"

	"cetty/errors"
)

type embeddedAddr struct{}

func (embeddedAddr) Network() string { return "embedded" }
func (embeddedAddr) String() string  { return "embedded" }

// EmbeddedChannel is an in-memory channel on an EmbeddedEventLoop for testing handlers.
// Inbound data written with WriteInbound travels through the pipeline and what reaches the
// tail is kept for ReadInbound; outbound data reaching the head is kept for ReadOutbound.
type EmbeddedChannel struct {
	abstractChannel
	config   *ChannelConfig
	loop     *EmbeddedEventLoop
	inbound  *MessageQueue
	outbound *MessageQueue
	err      error
	local    net.Addr
	remote   net.Addr
}

// NewEmbeddedChannel creates an active embedded channel whose pipeline holds handlers,
// named "handler0", "handler1" and so on.
func NewEmbeddedChannel(handlers ...Handler) (*EmbeddedChannel, error) {
	return NewEmbeddedChannelOn(NewEmbeddedEventLoop(), handlers...)
}

// NewEmbeddedChannelOn creates an embedded channel driven by loop. Channels sharing a loop share
// its tasks and its registry of non-sharable handlers.
func NewEmbeddedChannelOn(loop *EmbeddedEventLoop, handlers ...Handler) (*EmbeddedChannel, error) {
	c := &EmbeddedChannel{
		config:   NewChannelConfig(),
		loop:     loop,
		inbound:  NewMessageQueue(),
		outbound: NewMessageQueue(),
		local:    embeddedAddr{},
		remote:   embeddedAddr{},
	}
	c.init(c, nil, loop, &headHandler{t: c}, nil)
	for i, h := range handlers {
		if err := c.pipeline.AddLast(fmt.Sprintf("handler%d", i), h); err != nil {
			return nil, err
		}
	}
	c.pipeline.FireChannelCreated()
	c.state.Store(channelConnected)
	c.pipeline.FireChannelActive()
	c.RunPendingTasks()
	return c, nil
}

// Config implements Channel.
func (c *EmbeddedChannel) Config() Config { return c.config }

// LocalAddr implements Channel.
func (c *EmbeddedChannel) LocalAddr() net.Addr { return c.local }

// RemoteAddr implements Channel.
func (c *EmbeddedChannel) RemoteAddr() net.Addr { return c.remote }

// IsActive implements Channel.
func (c *EmbeddedChannel) IsActive() bool { return c.state.Load() == channelConnected }

// EmbeddedEventLoop returns the loop driving the channel.
func (c *EmbeddedChannel) EmbeddedEventLoop() *EmbeddedEventLoop { return c.loop }

func (c *EmbeddedChannel) transport() transport { return c }

// WriteInbound feeds msgs to the first inbound consumer and fires MessageUpdated. It reports
// whether anything reached the tail, along with any exception that did.
func (c *EmbeddedChannel) WriteInbound(msgs ...interface{}) (bool, error) {
	if !c.IsOpen() {
		return false, errors.ErrChannelClosed
	}
	var err error
	for _, msg := range msgs {
		err = multierr.Append(err, c.pipeline.head.ForwardInbound(msg))
	}
	c.pipeline.FireMessageUpdated()
	c.RunPendingTasks()
	return !c.inbound.IsEmpty(), multierr.Append(err, c.CheckException())
}

// ReadInbound pops the oldest message that reached the tail.
func (c *EmbeddedChannel) ReadInbound() (interface{}, bool) { return c.inbound.Poll() }

// WriteOutbound writes msgs from the tail. It reports whether anything reached the head,
// along with any failure of the writes.
func (c *EmbeddedChannel) WriteOutbound(msgs ...interface{}) (bool, error) {
	if !c.IsOpen() {
		return false, errors.ErrChannelClosed
	}
	futures := make([]*Future, 0, len(msgs))
	for _, msg := range msgs {
		futures = append(futures, c.pipeline.Write(msg))
	}
	c.RunPendingTasks()
	var err error
	for _, f := range futures {
		if f.IsDone() {
			err = multierr.Append(err, f.Cause())
		}
	}
	return !c.outbound.IsEmpty(), multierr.Append(err, c.CheckException())
}

// ReadOutbound pops the oldest message that reached the head.
func (c *EmbeddedChannel) ReadOutbound() (interface{}, bool) { return c.outbound.Poll() }

// CheckException returns and clears the exceptions that reached the tail.
func (c *EmbeddedChannel) CheckException() error {
	err := c.err
	c.err = nil
	return err
}

// RunPendingTasks runs the tasks and the due timers of the loop.
func (c *EmbeddedChannel) RunPendingTasks() {
	c.loop.RunPendingTasks()
	c.loop.RunScheduledTasks()
}

// Finish closes the channel and stops its loop. It reports whether unread inbound or
// outbound messages are left.
func (c *EmbeddedChannel) Finish() (bool, error) {
	c.Close()
	c.RunPendingTasks()
	_ = c.loop.Stop()
	return !c.inbound.IsEmpty() || !c.outbound.IsEmpty(), c.CheckException()
}

func (c *EmbeddedChannel) collectInbound(msg interface{}) { c.inbound.Add(msg) }

func (c *EmbeddedChannel) collectException(err error) { c.err = multierr.Append(c.err, err) }

func (c *EmbeddedChannel) doBind(local net.Addr, f *Future) {
	if !c.IsOpen() {
		f.SetFailure(errors.NewOpError("bind", local, errors.ErrChannelClosed))
		return
	}
	c.local = local
	f.SetSuccess()
}

func (c *EmbeddedChannel) doConnect(remote, local net.Addr, f *Future) {
	if !c.IsOpen() {
		f.SetFailure(errors.NewOpError("connect", remote, errors.ErrChannelClosed))
		return
	}
	if local != nil {
		c.local = local
	}
	c.remote = remote
	f.SetSuccess()
}

func (c *EmbeddedChannel) doDisconnect(f *Future) { c.doClose(f) }

func (c *EmbeddedChannel) doClose(f *Future) {
	prev, ok := c.markClosed()
	if !ok {
		f.SetSuccess()
		return
	}
	c.finishClose(prev == channelConnected)
	f.SetSuccess()
}

func (c *EmbeddedChannel) doFlush(ctx *HandlerContext, f *Future) {
	if !c.IsOpen() {
		ctx.outboundQueue.Clear()
		f.SetFailure(errors.ErrChannelClosed)
		return
	}
	ctx.outboundQueue.DrainTo(c.outbound)
	f.SetSuccess()
}
