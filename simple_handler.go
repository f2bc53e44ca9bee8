package cetty

// SimpleInboundHandler consumes inbound messages of type T with a function and forwards
// every other message. A message is released once the function returns; Retain it to keep
// it longer.
type SimpleInboundHandler[T any] struct {
	InboundHandlerAdapter
	fn func(ctx *HandlerContext, msg T) error
}

// NewSimpleInboundHandler returns a handler calling fn for each message of type T.
func NewSimpleInboundHandler[T any](fn func(ctx *HandlerContext, msg T) error) *SimpleInboundHandler[T] {
	return &SimpleInboundHandler[T]{fn: fn}
}

// MessageUpdated implements MessageUpdatedHandler.
func (h *SimpleInboundHandler[T]) MessageUpdated(ctx *HandlerContext) {
	q := ctx.InboundMessageQueue()
	forwarded := false
	for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
		m, ok := msg.(T)
		if !ok {
			if err := ctx.ForwardInbound(msg); err != nil {
				ctx.FireExceptionCaught(err)
				continue
			}
			forwarded = true
			continue
		}
		err := h.fn(ctx, m)
		release(msg)
		if err != nil {
			ctx.FireExceptionCaught(err)
		}
	}
	if forwarded {
		ctx.FireMessageUpdated()
	}
}
