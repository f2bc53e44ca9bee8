package frame

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"cetty"
	"cetty/buffer"
	"cetty/codec"
	"cetty/errors"
)

func newFrameChannel(t *testing.T, d codec.Decoder, e codec.Encoder) *cetty.EmbeddedChannel {
	t.Helper()
	handlers := []cetty.Handler{codec.NewByteToMessageDecoder(d)}
	if e != nil {
		handlers = append(handlers, codec.NewMessageToByteEncoder(e))
	}
	ch, err := cetty.NewEmbeddedChannel(handlers...)
	if err != nil {
		t.Fatal(err)
	}
	return ch
}

func readFrames(t *testing.T, ch *cetty.EmbeddedChannel) []string {
	t.Helper()
	var out []string
	for msg, ok := ch.ReadInbound(); ok; msg, ok = ch.ReadInbound() {
		b, isBuffer := msg.(*buffer.Buffer)
		if !isBuffer {
			t.Fatalf("unexpected %T reached the tail", msg)
		}
		out = append(out, string(b.Bytes()))
		b.Release()
	}
	return out
}

func readOutbound(ch *cetty.EmbeddedChannel) []byte {
	var out []byte
	for msg, ok := ch.ReadOutbound(); ok; msg, ok = ch.ReadOutbound() {
		b := msg.(*buffer.Buffer)
		out = append(out, b.Bytes()...)
		b.Release()
	}
	return out
}

func TestLengthFieldSplitAndCoalesced(t *testing.T) {
	d, err := NewLengthFieldBasedFrameDecoder(1024, 0, 4, WithInitialBytesToStrip(4))
	if err != nil {
		t.Fatal(err)
	}
	ch := newFrameChannel(t, d, nil)
	reads := [][]byte{
		{0, 0, 0},
		{5, 'h', 'e'},
		{'l', 'l', 'o', 0, 0, 0, 2, 'o', 'k', 0},
		{0, 0, 0},
	}
	for _, p := range reads {
		if _, err = ch.WriteInbound(p); err != nil {
			t.Fatal(err)
		}
	}
	if got := readFrames(t, ch); strings.Join(got, "|") != "hello|ok|" {
		t.Errorf("frames %q", got)
	}
}

func TestLengthFieldKeepsHeader(t *testing.T) {
	d, err := NewLengthFieldBasedFrameDecoder(64, 1, 2,
		WithByteOrder(binary.LittleEndian), WithLengthAdjustment(-3))
	if err != nil {
		t.Fatal(err)
	}
	ch := newFrameChannel(t, d, nil)
	// The field counts the whole frame: a tag byte, the field and the body.
	if _, err = ch.WriteInbound([]byte{0x7e, 5, 0, 'a', 'b', 0x7f, 3}); err != nil {
		t.Fatal(err)
	}
	got := readFrames(t, ch)
	if len(got) != 1 || !bytes.Equal([]byte(got[0]), []byte{0x7e, 5, 0, 'a', 'b'}) {
		t.Errorf("frames %q", got)
	}
}

func TestLengthFieldTooLongFrameIsDiscarded(t *testing.T) {
	d, err := NewLengthFieldBasedFrameDecoder(8, 0, 4, WithInitialBytesToStrip(4))
	if err != nil {
		t.Fatal(err)
	}
	ch := newFrameChannel(t, d, nil)
	first := append([]byte{0, 0, 0, 20}, bytes.Repeat([]byte{'z'}, 10)...)
	if _, err = ch.WriteInbound(first); !errors.Is(err, errors.ErrTooLongFrame) {
		t.Fatalf("expected ErrTooLongFrame, got %v", err)
	}
	rest := append(bytes.Repeat([]byte{'z'}, 10), 0, 0, 0, 1, 'x')
	if _, err = ch.WriteInbound(rest); err != nil {
		t.Fatal(err)
	}
	if got := readFrames(t, ch); len(got) != 1 || got[0] != "x" {
		t.Errorf("frames after discard %q", got)
	}
}

func TestLengthFieldRejectsBadArguments(t *testing.T) {
	if _, err := NewLengthFieldBasedFrameDecoder(1024, 0, 5); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("field of 5 bytes: %v", err)
	}
	if _, err := NewLengthFieldBasedFrameDecoder(4, 2, 4); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("field past the maximum: %v", err)
	}
	if _, err := NewLengthFieldPrepender(0); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("prepender field of 0 bytes: %v", err)
	}
}

func TestLengthFieldPrependerRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 8} {
		d, err := NewLengthFieldBasedFrameDecoder(1024, 0, size, WithInitialBytesToStrip(size))
		if err != nil {
			t.Fatal(err)
		}
		p, err := NewLengthFieldPrepender(size)
		if err != nil {
			t.Fatal(err)
		}
		ch := newFrameChannel(t, d, p)
		if _, err = ch.WriteOutbound("abc", []byte("de"), buffer.CopiedBuffer([]byte("f"))); err != nil {
			t.Fatal(err)
		}
		wire := readOutbound(ch)
		if len(wire) != 3*size+6 || wire[size-1] != 3 {
			t.Fatalf("size %d: wire %v", size, wire)
		}
		if _, err = ch.WriteInbound(wire); err != nil {
			t.Fatal(err)
		}
		if got := readFrames(t, ch); strings.Join(got, "|") != "abc|de|f" {
			t.Errorf("size %d: frames %q", size, got)
		}
	}
}

func TestLengthFieldPrependerIncludesHeader(t *testing.T) {
	p, err := NewLengthFieldPrepender(2, WithByteOrder(binary.LittleEndian), WithLengthIncludesLengthField(true))
	if err != nil {
		t.Fatal(err)
	}
	ch := newFrameChannel(t, codec.DecoderFunc(func(*cetty.HandlerContext, *buffer.Buffer) (interface{}, error) {
		return nil, nil
	}), p)
	if _, err = ch.WriteOutbound("xyz"); err != nil {
		t.Fatal(err)
	}
	if wire := readOutbound(ch); !bytes.Equal(wire, []byte{5, 0, 'x', 'y', 'z'}) {
		t.Errorf("wire %v", wire)
	}
}

func TestLengthFieldPrependerTooLong(t *testing.T) {
	p, err := NewLengthFieldPrepender(1)
	if err != nil {
		t.Fatal(err)
	}
	ch := newFrameChannel(t, codec.DecoderFunc(func(*cetty.HandlerContext, *buffer.Buffer) (interface{}, error) {
		return nil, nil
	}), p)
	if _, err = ch.WriteOutbound(strings.Repeat("a", 300)); !errors.Is(err, errors.ErrTooLongFrame) {
		t.Errorf("expected ErrTooLongFrame, got %v", err)
	}
	if wire := readOutbound(ch); len(wire) != 0 {
		t.Errorf("failed frame reached the head: %v", wire)
	}
}

func TestVarintRoundTripByteByByte(t *testing.T) {
	ch := newFrameChannel(t, NewVarintFrameDecoder(1024), VarintLengthFieldPrepender{})
	body := strings.Repeat("v", 300)
	if _, err := ch.WriteOutbound(body, ""); err != nil {
		t.Fatal(err)
	}
	wire := readOutbound(ch)
	if len(wire) != 2+300+1 || wire[0] != 0xac || wire[1] != 0x02 || wire[len(wire)-1] != 0 {
		t.Fatalf("wire prefix %v, length %d", wire[:2], len(wire))
	}
	for _, c := range wire {
		if _, err := ch.WriteInbound([]byte{c}); err != nil {
			t.Fatal(err)
		}
	}
	got := readFrames(t, ch)
	if len(got) != 2 || got[0] != body || got[1] != "" {
		t.Errorf("decoded %d frames", len(got))
	}
}

func TestVarintTooLongAndCorrupted(t *testing.T) {
	ch := newFrameChannel(t, NewVarintFrameDecoder(4), nil)
	if _, err := ch.WriteInbound([]byte{6, 'a', 'b'}); !errors.Is(err, errors.ErrTooLongFrame) {
		t.Fatalf("expected ErrTooLongFrame, got %v", err)
	}
	if _, err := ch.WriteInbound([]byte{'c', 'd', 'e', 'f', 2, 'o', 'k'}); err != nil {
		t.Fatal(err)
	}
	if got := readFrames(t, ch); len(got) != 1 || got[0] != "ok" {
		t.Errorf("frames after discard %q", got)
	}

	if _, err := ch.WriteInbound(bytes.Repeat([]byte{0xff}, 10)); !errors.Is(err, errors.ErrCorruptedFrame) {
		t.Errorf("expected ErrCorruptedFrame, got %v", err)
	}
}
