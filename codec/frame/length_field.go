package frame

import (
	"fmt"

	"cetty"
	"cetty/buffer"
	"cetty/errors"
)

// LengthFieldBasedFrameDecoder splits a stream into frames whose size is given by a
// fixed-size length field. It implements codec.Decoder and keeps per-channel state, so use
// one instance per pipeline.
type LengthFieldBasedFrameDecoder struct {
	opts              *Options
	maxFrameLength    int64
	lengthFieldOffset int
	lengthFieldLength int
	lengthFieldEnd    int
	bytesToDiscard    int64
}

// NewLengthFieldBasedFrameDecoder returns a decoder reading a lengthFieldLength-byte field
// at lengthFieldOffset. The field may be 1, 2, 3, 4 or 8 bytes long. Frames longer than
// maxFrameLength are skipped and reported with ErrTooLongFrame.
func NewLengthFieldBasedFrameDecoder(maxFrameLength, lengthFieldOffset, lengthFieldLength int, options ...Option) (*LengthFieldBasedFrameDecoder, error) {
	opts := loadOptions(options...)
	if err := checkFieldLength(lengthFieldLength); err != nil {
		return nil, err
	}
	if maxFrameLength <= 0 || lengthFieldOffset < 0 || opts.InitialBytesToStrip < 0 {
		return nil, fmt.Errorf("%w: maxFrameLength %d, lengthFieldOffset %d, initialBytesToStrip %d",
			errors.ErrInvalidArgument, maxFrameLength, lengthFieldOffset, opts.InitialBytesToStrip)
	}
	if lengthFieldOffset+lengthFieldLength > maxFrameLength {
		return nil, fmt.Errorf("%w: length field ends past maxFrameLength %d", errors.ErrInvalidArgument, maxFrameLength)
	}
	return &LengthFieldBasedFrameDecoder{
		opts:              opts,
		maxFrameLength:    int64(maxFrameLength),
		lengthFieldOffset: lengthFieldOffset,
		lengthFieldLength: lengthFieldLength,
		lengthFieldEnd:    lengthFieldOffset + lengthFieldLength,
	}, nil
}

func checkFieldLength(n int) error {
	switch n {
	case 1, 2, 3, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: length field of %d bytes", errors.ErrInvalidArgument, n)
}

// Decode implements codec.Decoder. The frame is a new *buffer.Buffer.
func (d *LengthFieldBasedFrameDecoder) Decode(_ *cetty.HandlerContext, in *buffer.Buffer) (interface{}, error) {
	if d.bytesToDiscard > 0 {
		n := min(d.bytesToDiscard, int64(in.ReadableBytes()))
		_ = in.Skip(int(n))
		d.bytesToDiscard -= n
		return nil, nil
	}
	if in.ReadableBytes() < d.lengthFieldEnd {
		return nil, nil
	}

	length, err := readLength(in, in.ReaderIndex()+d.lengthFieldOffset, d.lengthFieldLength, d.opts)
	if err != nil {
		return nil, err
	}
	if length > 1<<62 {
		_ = in.Skip(d.lengthFieldEnd)
		return nil, fmt.Errorf("%w: length field value %d", errors.ErrCorruptedFrame, length)
	}
	frameLength := int64(length) + int64(d.opts.LengthAdjustment) + int64(d.lengthFieldEnd)
	if frameLength < int64(d.lengthFieldEnd) {
		_ = in.Skip(d.lengthFieldEnd)
		return nil, fmt.Errorf("%w: frame length %d shorter than its header", errors.ErrCorruptedFrame, frameLength)
	}
	if frameLength > d.maxFrameLength {
		d.discard(in, frameLength)
		return nil, fmt.Errorf("%w: frame of %d bytes, maximum %d", errors.ErrTooLongFrame, frameLength, d.maxFrameLength)
	}
	if int64(in.ReadableBytes()) < frameLength {
		return nil, nil
	}

	n := int(frameLength)
	strip := d.opts.InitialBytesToStrip
	if strip > n {
		_ = in.Skip(n)
		return nil, fmt.Errorf("%w: frame of %d bytes shorter than initialBytesToStrip %d", errors.ErrCorruptedFrame, n, strip)
	}
	frame, err := in.Copy(in.ReaderIndex()+strip, n-strip)
	if err != nil {
		return nil, err
	}
	_ = in.Skip(n)
	return frame, nil
}

// discard skips the oversized frame, remembering what has yet to arrive.
func (d *LengthFieldBasedFrameDecoder) discard(in *buffer.Buffer, frameLength int64) {
	readable := int64(in.ReadableBytes())
	if frameLength <= readable {
		_ = in.Skip(int(frameLength))
		return
	}
	_ = in.Skip(int(readable))
	d.bytesToDiscard = frameLength - readable
}

func readLength(in *buffer.Buffer, index, size int, opts *Options) (uint64, error) {
	var p [8]byte
	if err := in.GetBytes(index, p[:size]); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(opts.Order.Uint16(p[:2])), nil
	case 3:
		if opts.Order.Uint16([]byte{0, 1}) == 1 {
			return uint64(p[0])<<16 | uint64(p[1])<<8 | uint64(p[2]), nil
		}
		return uint64(p[2])<<16 | uint64(p[1])<<8 | uint64(p[0]), nil
	case 4:
		return uint64(opts.Order.Uint32(p[:4])), nil
	default:
		return opts.Order.Uint64(p[:8]), nil
	}
}

// LengthFieldPrepender writes the length of each outbound message in front of it. It
// implements codec.Encoder and accepts *buffer.Buffer, []byte and string messages.
type LengthFieldPrepender struct {
	opts              *Options
	lengthFieldLength int
}

// NewLengthFieldPrepender returns a prepender writing a lengthFieldLength-byte field.
func NewLengthFieldPrepender(lengthFieldLength int, options ...Option) (*LengthFieldPrepender, error) {
	if err := checkFieldLength(lengthFieldLength); err != nil {
		return nil, err
	}
	return &LengthFieldPrepender{opts: loadOptions(options...), lengthFieldLength: lengthFieldLength}, nil
}

// Encode implements codec.Encoder.
func (p *LengthFieldPrepender) Encode(_ *cetty.HandlerContext, msg interface{}, out *buffer.Buffer) error {
	body, err := payload(msg)
	if err != nil {
		return err
	}
	length := int64(len(body)) + int64(p.opts.LengthAdjustment)
	if p.opts.LengthIncludesLengthField {
		length += int64(p.lengthFieldLength)
	}
	if length < 0 {
		return fmt.Errorf("%w: adjusted length %d is negative", errors.ErrInvalidArgument, length)
	}
	if p.lengthFieldLength < 8 && length >= 1<<(8*p.lengthFieldLength) {
		return fmt.Errorf("%w: length %d does not fit in %d bytes", errors.ErrTooLongFrame, length, p.lengthFieldLength)
	}
	var field [8]byte
	switch p.lengthFieldLength {
	case 1:
		field[0] = byte(length)
	case 2:
		p.opts.Order.PutUint16(field[:2], uint16(length))
	case 3:
		if p.opts.Order.Uint16([]byte{0, 1}) == 1 {
			field[0], field[1], field[2] = byte(length>>16), byte(length>>8), byte(length)
		} else {
			field[0], field[1], field[2] = byte(length), byte(length>>8), byte(length>>16)
		}
	case 4:
		p.opts.Order.PutUint32(field[:4], uint32(length))
	default:
		p.opts.Order.PutUint64(field[:8], uint64(length))
	}
	if _, err = out.Write(field[:p.lengthFieldLength]); err != nil {
		return err
	}
	_, err = out.Write(body)
	return err
}

// payload returns the bytes of an outbound message.
func payload(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case *buffer.Buffer:
		return m.Bytes(), nil
	case *buffer.Composite:
		return m.Bytes(), nil
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	}
	return nil, fmt.Errorf("%w: cannot frame %T", errors.ErrInvalidArgument, msg)
}
