package codec

import (
	"encoding/binary"

	"cetty"
	"cetty/buffer"
)

// Encoder writes msg into out.
type Encoder interface {
	Encode(ctx *cetty.HandlerContext, msg interface{}, out *buffer.Buffer) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx *cetty.HandlerContext, msg interface{}, out *buffer.Buffer) error

// Encode implements Encoder.
func (f EncoderFunc) Encode(ctx *cetty.HandlerContext, msg interface{}, out *buffer.Buffer) error {
	return f(ctx, msg, out)
}

// MessageToByteEncoder encodes outbound messages into the byte buffer of the previous
// outbound consumer. When that consumer takes messages, each message is encoded into a
// buffer of its own.
type MessageToByteEncoder struct {
	encoder Encoder
}

// NewMessageToByteEncoder returns a handler encoding with e.
func NewMessageToByteEncoder(e Encoder) *MessageToByteEncoder {
	return &MessageToByteEncoder{encoder: e}
}

// Flush implements cetty.FlushHandler.
func (h *MessageToByteEncoder) Flush(ctx *cetty.HandlerContext, f *cetty.Future) {
	q := ctx.OutboundMessageQueue()
	out := ctx.NextOutboundByteBuffer()
	for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
		var err error
		if out != nil {
			err = h.encoder.Encode(ctx, msg, out)
		} else {
			b := ctx.Channel().Config().BufferFactory().Buffer(binary.BigEndian, 0)
			if err = h.encoder.Encode(ctx, msg, b); err == nil {
				err = ctx.ForwardOutbound(b)
			} else {
				b.Release()
			}
		}
		release(msg)
		if err != nil {
			q.Clear()
			f.SetFailure(err)
			return
		}
	}
	ctx.Flush(f)
}
