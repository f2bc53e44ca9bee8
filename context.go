package cetty

import (
	"fmt"
	"net"
	"sync/atomic"

	"cetty/buffer"
	"cetty/errors"
)

// ContextState is the life-cycle state of the contexts of one pipeline.
type ContextState int32

const (
	// StateCreated is the state before the channel becomes active.
	StateCreated ContextState = iota
	// StateActive is the state while the channel is connected.
	StateActive
	// StateInactive is the terminal state after the channel closed.
	StateInactive
)

// HandlerContext binds one Handler to its Pipeline. Events leave a context through its Fire*
// methods towards the tail and through its outbound methods towards the head. Every entry
// point runs on the channel's event-loop, calls from elsewhere are posted to it.
type HandlerContext struct {
	name     string
	handler  Handler
	pipeline *Pipeline
	mask     int
	prev     atomic.Pointer[HandlerContext]
	next     atomic.Pointer[HandlerContext]
	removed  atomic.Bool

	inboundBuffer  *buffer.Buffer
	inboundQueue   *MessageQueue
	outboundBuffer *buffer.Buffer
	outboundQueue  *MessageQueue
}

func newContext(p *Pipeline, name string, h Handler) *HandlerContext {
	ctx := &HandlerContext{name: name, handler: h, pipeline: p, mask: handlerMask(h)}
	if ctx.mask&maskMessageUpdated != 0 {
		if bh, ok := h.(InboundByteHandler); ok {
			ctx.inboundBuffer = bh.NewInboundBuffer(ctx)
		} else {
			ctx.inboundQueue = NewMessageQueue()
		}
	}
	if ctx.mask&maskFlush != 0 {
		if bh, ok := h.(OutboundByteHandler); ok {
			ctx.outboundBuffer = bh.NewOutboundBuffer(ctx)
		} else {
			ctx.outboundQueue = NewMessageQueue()
		}
	}
	return ctx
}

// Name returns the name the handler was added under.
func (ctx *HandlerContext) Name() string { return ctx.name }

// Handler returns the handler.
func (ctx *HandlerContext) Handler() Handler { return ctx.handler }

// Pipeline returns the owning pipeline.
func (ctx *HandlerContext) Pipeline() *Pipeline { return ctx.pipeline }

// Channel returns the channel of the owning pipeline.
func (ctx *HandlerContext) Channel() Channel { return ctx.pipeline.channel }

// EventLoop returns the channel's event-loop.
func (ctx *HandlerContext) EventLoop() EventLoop { return ctx.pipeline.channel.EventLoop() }

// IsRemoved reports whether the context has been removed from its pipeline.
func (ctx *HandlerContext) IsRemoved() bool { return ctx.removed.Load() }

// State returns the state of the channel as seen by the pipeline.
func (ctx *HandlerContext) State() ContextState { return ContextState(ctx.pipeline.state.Load()) }

// InboundByteBuffer returns the inbound byte buffer owned by this context, if any.
func (ctx *HandlerContext) InboundByteBuffer() *buffer.Buffer { return ctx.inboundBuffer }

// InboundMessageQueue returns the inbound queue owned by this context, if any.
func (ctx *HandlerContext) InboundMessageQueue() *MessageQueue { return ctx.inboundQueue }

// OutboundByteBuffer returns the outbound byte buffer owned by this context, if any.
func (ctx *HandlerContext) OutboundByteBuffer() *buffer.Buffer { return ctx.outboundBuffer }

// OutboundMessageQueue returns the outbound queue owned by this context, if any.
func (ctx *HandlerContext) OutboundMessageQueue() *MessageQueue { return ctx.outboundQueue }

// NewFuture returns a pending future of the channel.
func (ctx *HandlerContext) NewFuture() *Future { return NewFuture(ctx.Channel()) }

// VoidFuture returns a future for requests whose outcome the caller ignores.
func (ctx *HandlerContext) VoidFuture() *Future { return NewVoidFuture(ctx.Channel()) }

func (ctx *HandlerContext) findInbound(mask int) *HandlerContext {
	for c := ctx.next.Load(); c != nil; c = c.next.Load() {
		if c.mask&mask != 0 {
			return c
		}
	}
	return nil
}

func (ctx *HandlerContext) findOutbound(mask int) *HandlerContext {
	for c := ctx.prev.Load(); c != nil; c = c.prev.Load() {
		if c.mask&mask != 0 {
			return c
		}
	}
	return nil
}

// invokeInbound runs task for this context on the loop. A panic becomes an ExceptionCaught
// event starting at the next context.
func (ctx *HandlerContext) invokeInbound(task func()) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				ctx.FireExceptionCaught(recoverError(r))
			}
		}()
		task()
	}
	if el := ctx.EventLoop(); el.InEventLoop() {
		run()
	} else {
		el.Execute(run)
	}
}

// invokeOutbound runs task for this context on the loop. A panic fails f.
func (ctx *HandlerContext) invokeOutbound(f *Future, task func()) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				f.SetFailure(recoverError(r))
			}
		}()
		task()
	}
	el := ctx.EventLoop()
	if el.InEventLoop() {
		run()
		return
	}
	if err := el.Post(run); err != nil {
		f.SetFailure(err)
	}
}

// FireChannelCreated forwards the created event to the next interested context.
func (ctx *HandlerContext) FireChannelCreated() {
	if next := ctx.findInbound(maskChannelCreated); next != nil {
		next.invokeInbound(func() { next.handler.(ChannelCreatedHandler).ChannelCreated(next) })
	}
}

// FireChannelActive forwards the active event to the next interested context.
func (ctx *HandlerContext) FireChannelActive() {
	if next := ctx.findInbound(maskChannelActive); next != nil {
		next.invokeInbound(func() { next.handler.(ChannelActiveHandler).ChannelActive(next) })
	}
}

// FireChannelInactive forwards the inactive event to the next interested context.
func (ctx *HandlerContext) FireChannelInactive() {
	if next := ctx.findInbound(maskChannelInactive); next != nil {
		next.invokeInbound(func() { next.handler.(ChannelInactiveHandler).ChannelInactive(next) })
	}
}

// FireMessageUpdated tells the next consumer that its inbound buffer or queue has new data.
func (ctx *HandlerContext) FireMessageUpdated() {
	if next := ctx.findInbound(maskMessageUpdated); next != nil {
		next.invokeInbound(func() { next.handler.(MessageUpdatedHandler).MessageUpdated(next) })
	}
}

// FireWriteCompleted forwards the write-completed event to the next interested context.
func (ctx *HandlerContext) FireWriteCompleted() {
	if next := ctx.findInbound(maskWriteCompleted); next != nil {
		next.invokeInbound(func() { next.handler.(WriteCompletedHandler).WriteCompleted(next) })
	}
}

// FireExceptionCaught forwards err to the next interested context.
func (ctx *HandlerContext) FireExceptionCaught(err error) {
	if next := ctx.findInbound(maskExceptionCaught); next != nil {
		next.invokeInbound(func() { next.handler.(ExceptionCaughtHandler).ExceptionCaught(next, err) })
	}
}

// FireUserEventTriggered forwards evt to the next interested context.
func (ctx *HandlerContext) FireUserEventTriggered(evt interface{}) {
	if next := ctx.findInbound(maskUserEvent); next != nil {
		next.invokeInbound(func() { next.handler.(UserEventHandler).UserEventTriggered(next, evt) })
	}
}

// Bind forwards a bind request towards the head.
func (ctx *HandlerContext) Bind(local net.Addr, f *Future) {
	prev := ctx.findOutbound(maskBind)
	if prev == nil {
		f.SetFailure(errors.ErrUnsupportedOperation)
		return
	}
	prev.invokeOutbound(f, func() { prev.handler.(BindHandler).Bind(prev, local, f) })
}

// Connect forwards a connect request towards the head. local may be nil.
func (ctx *HandlerContext) Connect(remote, local net.Addr, f *Future) {
	prev := ctx.findOutbound(maskConnect)
	if prev == nil {
		f.SetFailure(errors.ErrUnsupportedOperation)
		return
	}
	prev.invokeOutbound(f, func() { prev.handler.(ConnectHandler).Connect(prev, remote, local, f) })
}

// Disconnect forwards a disconnect request towards the head.
func (ctx *HandlerContext) Disconnect(f *Future) {
	prev := ctx.findOutbound(maskDisconnect)
	if prev == nil {
		f.SetFailure(errors.ErrUnsupportedOperation)
		return
	}
	prev.invokeOutbound(f, func() { prev.handler.(DisconnectHandler).Disconnect(prev, f) })
}

// Close forwards a close request towards the head.
func (ctx *HandlerContext) Close(f *Future) {
	prev := ctx.findOutbound(maskClose)
	if prev == nil {
		f.SetFailure(errors.ErrUnsupportedOperation)
		return
	}
	prev.invokeOutbound(f, func() { prev.handler.(CloseHandler).Close(prev, f) })
}

// Flush asks the previous outbound consumer to process its buffer or queue.
func (ctx *HandlerContext) Flush(f *Future) {
	prev := ctx.findOutbound(maskFlush)
	if prev == nil {
		f.SetFailure(errors.ErrUnsupportedOperation)
		return
	}
	prev.invokeOutbound(f, func() { prev.handler.(FlushHandler).Flush(prev, f) })
}

// Write hands msg to the previous outbound consumer and flushes it.
func (ctx *HandlerContext) Write(msg interface{}, f *Future) {
	prev := ctx.findOutbound(maskFlush)
	if prev == nil {
		release(msg)
		f.SetFailure(errors.ErrUnsupportedOperation)
		return
	}
	prev.invokeOutbound(f, func() {
		if err := offer(msg, prev.outboundBuffer, prev.outboundQueue); err != nil {
			f.SetFailure(err)
			return
		}
		prev.handler.(FlushHandler).Flush(prev, f)
	})
}

// NextInboundByteBuffer returns the byte buffer of the next inbound consumer, nil when that
// consumer takes messages.
func (ctx *HandlerContext) NextInboundByteBuffer() *buffer.Buffer {
	if next := ctx.findInbound(maskMessageUpdated); next != nil {
		return next.inboundBuffer
	}
	return nil
}

// NextInboundMessageQueue returns the queue of the next inbound consumer, nil when that
// consumer takes bytes.
func (ctx *HandlerContext) NextInboundMessageQueue() *MessageQueue {
	if next := ctx.findInbound(maskMessageUpdated); next != nil {
		return next.inboundQueue
	}
	return nil
}

// NextOutboundByteBuffer returns the byte buffer of the previous outbound consumer, nil when
// that consumer takes messages.
func (ctx *HandlerContext) NextOutboundByteBuffer() *buffer.Buffer {
	if prev := ctx.findOutbound(maskFlush); prev != nil {
		return prev.outboundBuffer
	}
	return nil
}

// NextOutboundMessageQueue returns the queue of the previous outbound consumer, nil when that
// consumer takes bytes.
func (ctx *HandlerContext) NextOutboundMessageQueue() *MessageQueue {
	if prev := ctx.findOutbound(maskFlush); prev != nil {
		return prev.outboundQueue
	}
	return nil
}

// ForwardInbound hands msg to the next inbound consumer, appending bytes to its buffer or
// queueing the message. Follow it with FireMessageUpdated.
func (ctx *HandlerContext) ForwardInbound(msg interface{}) error {
	next := ctx.findInbound(maskMessageUpdated)
	if next == nil {
		release(msg)
		return errors.ErrNotFound
	}
	return offer(msg, next.inboundBuffer, next.inboundQueue)
}

// ForwardOutbound hands msg to the previous outbound consumer. Follow it with Flush.
func (ctx *HandlerContext) ForwardOutbound(msg interface{}) error {
	prev := ctx.findOutbound(maskFlush)
	if prev == nil {
		release(msg)
		return errors.ErrNotFound
	}
	return offer(msg, prev.outboundBuffer, prev.outboundQueue)
}

// offer stores msg into buf when the consumer takes bytes, into q otherwise.
func offer(msg interface{}, buf *buffer.Buffer, q *MessageQueue) (err error) {
	if buf == nil {
		q.Add(msg)
		return nil
	}
	switch m := msg.(type) {
	case *buffer.Buffer:
		err = buf.WriteBuffer(m)
		m.Release()
	case *buffer.Composite:
		err = buf.WriteBuffer(m.Buffer)
		m.Release()
	case []byte:
		_, err = buf.Write(m)
	case string:
		_, err = buf.WriteString(m)
	default:
		release(msg)
		err = fmt.Errorf("%w: %T cannot be written into a byte buffer", errors.ErrInvalidArgument, msg)
	}
	return
}

func release(msg interface{}) {
	if r, ok := msg.(releasable); ok {
		r.Release()
	}
}

// forwardLeftovers moves unconsumed inbound data to the next consumer after removal.
func (ctx *HandlerContext) forwardLeftovers() {
	forwarded := false
	if b := ctx.inboundBuffer; b != nil && b.IsReadable() {
		if err := ctx.ForwardInbound(append([]byte(nil), b.Bytes()...)); err == nil {
			forwarded = true
		}
		b.Clear()
	}
	if q := ctx.inboundQueue; q != nil {
		for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
			if ctx.ForwardInbound(msg) == nil {
				forwarded = true
			}
		}
	}
	if forwarded {
		ctx.FireMessageUpdated()
	}
}

// free releases the storage owned by the context.
func (ctx *HandlerContext) free() {
	if ctx.inboundBuffer != nil {
		ctx.inboundBuffer.Release()
	}
	if ctx.outboundBuffer != nil {
		ctx.outboundBuffer.Release()
	}
	if ctx.inboundQueue != nil {
		ctx.inboundQueue.Clear()
	}
	if ctx.outboundQueue != nil {
		ctx.outboundQueue.Clear()
	}
}

func (ctx *HandlerContext) String() string {
	return fmt.Sprintf("HandlerContext(%s, %T)", ctx.name, ctx.handler)
}
