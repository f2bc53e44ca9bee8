package frame

import (
	"fmt"

	"github.com/multiformats/go-varint"

	"cetty"
	"cetty/buffer"
	"cetty/errors"
)

// VarintFrameDecoder splits a stream into frames prefixed by their length as an unsigned
// base-128 varint. It implements codec.Decoder and keeps per-channel state.
type VarintFrameDecoder struct {
	maxFrameLength uint64
	bytesToDiscard int64
}

// NewVarintFrameDecoder returns a decoder rejecting frames longer than maxFrameLength.
func NewVarintFrameDecoder(maxFrameLength int) *VarintFrameDecoder {
	return &VarintFrameDecoder{maxFrameLength: uint64(maxFrameLength)}
}

// Decode implements codec.Decoder. The frame is a new *buffer.Buffer without the prefix.
func (d *VarintFrameDecoder) Decode(_ *cetty.HandlerContext, in *buffer.Buffer) (interface{}, error) {
	if d.bytesToDiscard > 0 {
		n := min(d.bytesToDiscard, int64(in.ReadableBytes()))
		_ = in.Skip(int(n))
		d.bytesToDiscard -= n
		return nil, nil
	}

	var header [varint.MaxLenUvarint63]byte
	n := min(in.ReadableBytes(), len(header))
	if err := in.GetBytes(in.ReaderIndex(), header[:n]); err != nil {
		return nil, err
	}
	length, size, err := varint.FromUvarint(header[:n])
	switch {
	case err == varint.ErrUnderflow:
		return nil, nil
	case err != nil:
		// The stream cannot be resynchronized past a broken prefix; drop what is buffered.
		_ = in.Skip(in.ReadableBytes())
		return nil, fmt.Errorf("%w: %v", errors.ErrCorruptedFrame, err)
	}

	if length > d.maxFrameLength {
		frameLength := int64(size) + int64(length)
		readable := int64(in.ReadableBytes())
		if frameLength <= readable {
			_ = in.Skip(int(frameLength))
		} else {
			_ = in.Skip(int(readable))
			d.bytesToDiscard = frameLength - readable
		}
		return nil, fmt.Errorf("%w: frame of %d bytes, maximum %d", errors.ErrTooLongFrame, length, d.maxFrameLength)
	}
	if uint64(in.ReadableBytes()-size) < length {
		return nil, nil
	}
	frame, err := in.Copy(in.ReaderIndex()+size, int(length))
	if err != nil {
		return nil, err
	}
	_ = in.Skip(size + int(length))
	return frame, nil
}

// VarintLengthFieldPrepender writes the length of each outbound message in front of it as
// an unsigned base-128 varint. It implements codec.Encoder.
type VarintLengthFieldPrepender struct{}

// Encode implements codec.Encoder.
func (VarintLengthFieldPrepender) Encode(_ *cetty.HandlerContext, msg interface{}, out *buffer.Buffer) error {
	body, err := payload(msg)
	if err != nil {
		return err
	}
	if _, err = out.Write(varint.ToUvarint(uint64(len(body)))); err != nil {
		return err
	}
	_, err = out.Write(body)
	return err
}
