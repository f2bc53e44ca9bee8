package cetty

import (
	"net"

	"cetty/buffer"
)

// Handler is any value added to a Pipeline. The events it takes part in are chosen by the
// interfaces below it implements; every other event skips it.
type Handler interface{}

// Sharable marks a handler instance that may be added to more than one pipeline.
type Sharable interface {
	IsSharable() bool
}

// Cloner is implemented by non-sharable handlers that can produce a fresh instance for each
// pipeline they are added to.
type Cloner interface {
	Clone() Handler
}

// LifecycleHandler is notified on the channel's event-loop around its insertion and removal.
type LifecycleHandler interface {
	BeforeAdd(ctx *HandlerContext)
	AfterAdd(ctx *HandlerContext)
	BeforeRemove(ctx *HandlerContext)
	AfterRemove(ctx *HandlerContext)
}

type (
	// ChannelCreatedHandler handles the registration of a channel with its event-loop.
	ChannelCreatedHandler interface {
		ChannelCreated(ctx *HandlerContext)
	}

	// ChannelActiveHandler handles a channel becoming connected.
	ChannelActiveHandler interface {
		ChannelActive(ctx *HandlerContext)
	}

	// ChannelInactiveHandler handles a channel being closed.
	ChannelInactiveHandler interface {
		ChannelInactive(ctx *HandlerContext)
	}

	// MessageUpdatedHandler consumes inbound data. A context whose handler implements it owns
	// an inbound byte buffer (see InboundByteHandler) or an inbound MessageQueue.
	MessageUpdatedHandler interface {
		MessageUpdated(ctx *HandlerContext)
	}

	// WriteCompletedHandler handles the transport having written all flushed bytes.
	WriteCompletedHandler interface {
		WriteCompleted(ctx *HandlerContext)
	}

	// ExceptionCaughtHandler handles errors raised by the transport or by other handlers.
	ExceptionCaughtHandler interface {
		ExceptionCaught(ctx *HandlerContext, err error)
	}

	// UserEventHandler handles application defined events.
	UserEventHandler interface {
		UserEventTriggered(ctx *HandlerContext, evt interface{})
	}
)

type (
	// BindHandler intercepts bind requests.
	BindHandler interface {
		Bind(ctx *HandlerContext, local net.Addr, f *Future)
	}

	// ConnectHandler intercepts connect requests. local may be nil.
	ConnectHandler interface {
		Connect(ctx *HandlerContext, remote, local net.Addr, f *Future)
	}

	// DisconnectHandler intercepts disconnect requests.
	DisconnectHandler interface {
		Disconnect(ctx *HandlerContext, f *Future)
	}

	// CloseHandler intercepts close requests.
	CloseHandler interface {
		Close(ctx *HandlerContext, f *Future)
	}

	// FlushHandler consumes outbound data. A context whose handler implements it owns an
	// outbound byte buffer (see OutboundByteHandler) or an outbound MessageQueue.
	FlushHandler interface {
		Flush(ctx *HandlerContext, f *Future)
	}
)

// InboundByteHandler makes its context own an inbound byte buffer instead of a MessageQueue.
type InboundByteHandler interface {
	MessageUpdatedHandler
	NewInboundBuffer(ctx *HandlerContext) *buffer.Buffer
}

// OutboundByteHandler makes its context own an outbound byte buffer instead of a MessageQueue.
type OutboundByteHandler interface {
	FlushHandler
	NewOutboundBuffer(ctx *HandlerContext) *buffer.Buffer
}

const (
	maskChannelCreated = 1 << iota
	maskChannelActive
	maskChannelInactive
	maskMessageUpdated
	maskWriteCompleted
	maskExceptionCaught
	maskUserEvent
	maskBind
	maskConnect
	maskDisconnect
	maskClose
	maskFlush
)

// handlerMask records which events h takes part in. It is computed once per context.
func handlerMask(h Handler) (mask int) {
	if _, ok := h.(ChannelCreatedHandler); ok {
		mask |= maskChannelCreated
	}
	if _, ok := h.(ChannelActiveHandler); ok {
		mask |= maskChannelActive
	}
	if _, ok := h.(ChannelInactiveHandler); ok {
		mask |= maskChannelInactive
	}
	if _, ok := h.(MessageUpdatedHandler); ok {
		mask |= maskMessageUpdated
	}
	if _, ok := h.(WriteCompletedHandler); ok {
		mask |= maskWriteCompleted
	}
	if _, ok := h.(ExceptionCaughtHandler); ok {
		mask |= maskExceptionCaught
	}
	if _, ok := h.(UserEventHandler); ok {
		mask |= maskUserEvent
	}
	if _, ok := h.(BindHandler); ok {
		mask |= maskBind
	}
	if _, ok := h.(ConnectHandler); ok {
		mask |= maskConnect
	}
	if _, ok := h.(DisconnectHandler); ok {
		mask |= maskDisconnect
	}
	if _, ok := h.(CloseHandler); ok {
		mask |= maskClose
	}
	if _, ok := h.(FlushHandler); ok {
		mask |= maskFlush
	}
	return
}

// InboundHandlerAdapter passes every inbound event except MessageUpdated on to the next
// context. Embed it and override what you need.
type InboundHandlerAdapter struct{}

// ChannelCreated implements ChannelCreatedHandler.
func (InboundHandlerAdapter) ChannelCreated(ctx *HandlerContext) { ctx.FireChannelCreated() }

// ChannelActive implements ChannelActiveHandler.
func (InboundHandlerAdapter) ChannelActive(ctx *HandlerContext) { ctx.FireChannelActive() }

// ChannelInactive implements ChannelInactiveHandler.
func (InboundHandlerAdapter) ChannelInactive(ctx *HandlerContext) { ctx.FireChannelInactive() }

// WriteCompleted implements WriteCompletedHandler.
func (InboundHandlerAdapter) WriteCompleted(ctx *HandlerContext) { ctx.FireWriteCompleted() }

// ExceptionCaught implements ExceptionCaughtHandler.
func (InboundHandlerAdapter) ExceptionCaught(ctx *HandlerContext, err error) {
	ctx.FireExceptionCaught(err)
}

// UserEventTriggered implements UserEventHandler.
func (InboundHandlerAdapter) UserEventTriggered(ctx *HandlerContext, evt interface{}) {
	ctx.FireUserEventTriggered(evt)
}

// OutboundHandlerAdapter passes bind, connect, disconnect and close requests on towards the
// head. Flush is left out so that data skips the embedding handler.
type OutboundHandlerAdapter struct{}

// Bind implements BindHandler.
func (OutboundHandlerAdapter) Bind(ctx *HandlerContext, local net.Addr, f *Future) {
	ctx.Bind(local, f)
}

// Connect implements ConnectHandler.
func (OutboundHandlerAdapter) Connect(ctx *HandlerContext, remote, local net.Addr, f *Future) {
	ctx.Connect(remote, local, f)
}

// Disconnect implements DisconnectHandler.
func (OutboundHandlerAdapter) Disconnect(ctx *HandlerContext, f *Future) { ctx.Disconnect(f) }

// Close implements CloseHandler.
func (OutboundHandlerAdapter) Close(ctx *HandlerContext, f *Future) { ctx.Close(f) }

// LifecycleAdapter implements LifecycleHandler with no-ops.
type LifecycleAdapter struct{}

// BeforeAdd implements LifecycleHandler.
func (LifecycleAdapter) BeforeAdd(*HandlerContext) {}

// AfterAdd implements LifecycleHandler.
func (LifecycleAdapter) AfterAdd(*HandlerContext) {}

// BeforeRemove implements LifecycleHandler.
func (LifecycleAdapter) BeforeRemove(*HandlerContext) {}

// AfterRemove implements LifecycleHandler.
func (LifecycleAdapter) AfterRemove(*HandlerContext) {}

// SharableHandler marks the embedding handler as sharable.
type SharableHandler struct{}

// IsSharable implements Sharable.
func (SharableHandler) IsSharable() bool { return true }

// Initializer is a handler that configures a new channel's pipeline once it is created and
// then removes itself.
type Initializer func(ch Channel) error

// ChannelCreated runs the initializer.
func (fn Initializer) ChannelCreated(ctx *HandlerContext) {
	err := fn(ctx.Channel())
	_ = ctx.Pipeline().removeContext(ctx)
	if err != nil {
		ctx.FireExceptionCaught(err)
		ctx.Channel().Close()
		return
	}
	ctx.FireChannelCreated()
}

// IsSharable implements Sharable.
func (fn Initializer) IsSharable() bool { return true }
