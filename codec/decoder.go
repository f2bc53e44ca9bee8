// Package codec provides handlers converting between bytes and messages.
package codec

import (
	"encoding/binary"
	"fmt"

	"cetty"
	"cetty/buffer"
	"cetty/errors"
)

// Decoder decodes one message from the readable bytes of in. It returns a nil message when
// in does not hold a complete one yet, leaving the read cursor where it was or past the
// bytes it chose to skip.
type Decoder interface {
	Decode(ctx *cetty.HandlerContext, in *buffer.Buffer) (interface{}, error)
}

// LastDecoder is implemented by decoders that handle the bytes left when the channel closes.
type LastDecoder interface {
	DecodeLast(ctx *cetty.HandlerContext, in *buffer.Buffer) (interface{}, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx *cetty.HandlerContext, in *buffer.Buffer) (interface{}, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(ctx *cetty.HandlerContext, in *buffer.Buffer) (interface{}, error) {
	return f(ctx, in)
}

// ByteToMessageDecoder accumulates inbound bytes across reads and turns them into messages
// with a Decoder. One read may produce many messages and one message may span many reads.
type ByteToMessageDecoder struct {
	cetty.InboundHandlerAdapter
	decoder Decoder
}

// NewByteToMessageDecoder returns a handler decoding with d.
func NewByteToMessageDecoder(d Decoder) *ByteToMessageDecoder {
	return &ByteToMessageDecoder{decoder: d}
}

// NewInboundBuffer implements cetty.InboundByteHandler.
func (h *ByteToMessageDecoder) NewInboundBuffer(ctx *cetty.HandlerContext) *buffer.Buffer {
	return ctx.Channel().Config().BufferFactory().Buffer(binary.BigEndian, 0)
}

// MessageUpdated implements cetty.MessageUpdatedHandler.
func (h *ByteToMessageDecoder) MessageUpdated(ctx *cetty.HandlerContext) {
	h.decode(ctx, h.decoder.Decode)
}

// ChannelInactive decodes what is left before passing the event on.
func (h *ByteToMessageDecoder) ChannelInactive(ctx *cetty.HandlerContext) {
	if last, ok := h.decoder.(LastDecoder); ok {
		h.decode(ctx, last.DecodeLast)
	} else {
		h.decode(ctx, h.decoder.Decode)
	}
	ctx.FireChannelInactive()
}

func (h *ByteToMessageDecoder) decode(ctx *cetty.HandlerContext, decode func(*cetty.HandlerContext, *buffer.Buffer) (interface{}, error)) {
	in := ctx.InboundByteBuffer()
	if in == nil {
		return
	}
	var (
		forwarded bool
		errs      []error
	)
	for in.IsReadable() {
		before := in.ReadableBytes()
		msg, err := decode(ctx, in)
		consumed := in.ReadableBytes() < before
		if err != nil {
			errs = append(errs, err)
			// A decoder that failed without skipping input would fail again on the same bytes.
			if consumed {
				continue
			}
			break
		}
		if msg == nil {
			if consumed {
				continue
			}
			break
		}
		if !consumed {
			release(msg)
			errs = append(errs, fmt.Errorf("%w: %T decoded a message without consuming input", errors.ErrCorruptedFrame, h.decoder))
			break
		}
		if err = ctx.ForwardInbound(msg); err != nil {
			errs = append(errs, err)
			break
		}
		forwarded = true
	}
	in.DiscardReadBytes()
	if forwarded {
		ctx.FireMessageUpdated()
	}
	for _, err := range errs {
		ctx.FireExceptionCaught(err)
	}
}

// MessageDecoder turns one message into another. A nil result drops the message.
type MessageDecoder interface {
	Decode(ctx *cetty.HandlerContext, msg interface{}) (interface{}, error)
}

// MessageDecoderFunc adapts a function to MessageDecoder.
type MessageDecoderFunc func(ctx *cetty.HandlerContext, msg interface{}) (interface{}, error)

// Decode implements MessageDecoder.
func (f MessageDecoderFunc) Decode(ctx *cetty.HandlerContext, msg interface{}) (interface{}, error) {
	return f(ctx, msg)
}

// MessageToMessageDecoder converts each inbound message with a MessageDecoder.
type MessageToMessageDecoder struct {
	cetty.InboundHandlerAdapter
	decoder MessageDecoder
}

// NewMessageToMessageDecoder returns a handler decoding with d.
func NewMessageToMessageDecoder(d MessageDecoder) *MessageToMessageDecoder {
	return &MessageToMessageDecoder{decoder: d}
}

// MessageUpdated implements cetty.MessageUpdatedHandler.
func (h *MessageToMessageDecoder) MessageUpdated(ctx *cetty.HandlerContext) {
	q := ctx.InboundMessageQueue()
	forwarded := false
	for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
		out, err := h.decoder.Decode(ctx, msg)
		if out != msg {
			release(msg)
		}
		if err != nil {
			ctx.FireExceptionCaught(err)
			continue
		}
		if out == nil {
			continue
		}
		if err = ctx.ForwardInbound(out); err != nil {
			ctx.FireExceptionCaught(err)
			continue
		}
		forwarded = true
	}
	if forwarded {
		ctx.FireMessageUpdated()
	}
}

func release(msg interface{}) {
	if r, ok := msg.(interface{ Release() bool }); ok {
		r.Release()
	}
}
