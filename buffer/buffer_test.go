package buffer

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"cetty/errors"
)

func TestWriteThenReadByte(t *testing.T) {
	for _, x := range []byte{0, 1, 0x7f, 0x80, 0xff} {
		b := New(0)
		if err := b.WriteByte(x); err != nil {
			t.Fatalf("WriteByte(%#x): %v", x, err)
		}
		got, err := b.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte: %v", err)
		}
		if got != x {
			t.Errorf("expected %#x, got %#x", x, got)
		}
		if b.ReaderIndex() != 1 {
			t.Errorf("expected reader index 1, got %d", b.ReaderIndex())
		}
	}
}

func TestByteOrder(t *testing.T) {
	p := []byte{0x01, 0x02, 0x03, 0x04}
	be, err := Wrap(p).GetUint32(0)
	if err != nil {
		t.Fatal(err)
	}
	if be != 0x01020304 {
		t.Errorf("big-endian GetUint32 = %#x", be)
	}
	le, err := WrapWithOrder(binary.LittleEndian, p).GetUint32(0)
	if err != nil {
		t.Fatal(err)
	}
	if le != 0x04030201 {
		t.Errorf("little-endian GetUint32 = %#x", le)
	}
}

func TestOutOfRange(t *testing.T) {
	b := NewFixed(4)
	if _, err := b.GetUint32(1); !errors.Is(err, errors.ErrIndexOutOfRange) {
		t.Errorf("GetUint32(1) on cap 4: expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := b.GetByte(-1); !errors.Is(err, errors.ErrIndexOutOfRange) {
		t.Errorf("GetByte(-1): expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := b.ReadUint16(); !errors.Is(err, errors.ErrIndexOutOfRange) {
		t.Errorf("ReadUint16 on empty buffer: expected ErrIndexOutOfRange, got %v", err)
	}
	if err := b.WriteUint64(1); !errors.Is(err, errors.ErrIndexOutOfRange) {
		t.Errorf("WriteUint64 on fixed cap 4: expected ErrIndexOutOfRange, got %v", err)
	}
	if b.WriterIndex() != 0 {
		t.Errorf("failed write moved writer index to %d", b.WriterIndex())
	}
	if _, err := b.Copy(2, 3); !errors.Is(err, errors.ErrIndexOutOfRange) {
		t.Errorf("Copy(2, 3): expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestGrowPreservesUnreadBytes(t *testing.T) {
	b := New(4)
	var want []byte
	for i := 0; i < 1000; i++ {
		c := byte(i)
		if err := b.WriteByte(c); err != nil {
			t.Fatal(err)
		}
		want = append(want, c)
		if i%7 == 0 {
			if _, err := b.ReadByte(); err != nil {
				t.Fatal(err)
			}
			want = want[1:]
		}
		if i%100 == 0 {
			b.DiscardReadBytes()
			if b.ReaderIndex() != 0 {
				t.Fatalf("reader index %d after DiscardReadBytes", b.ReaderIndex())
			}
		}
	}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("content lost across growth")
	}
}

func TestSliceMatchesParent(t *testing.T) {
	b := New(16)
	for i := 0; i < 16; i++ {
		_ = b.WriteByte(byte(i * 3))
	}
	for i := 0; i <= 16; i++ {
		for n := 0; i+n <= 16; n++ {
			s, err := b.Slice(i, n)
			if err != nil {
				t.Fatalf("Slice(%d, %d): %v", i, n, err)
			}
			for j := 0; j < n; j++ {
				got, _ := s.ReadByte()
				want, _ := b.GetByte(i + j)
				if got != want {
					t.Fatalf("Slice(%d, %d)[%d] = %d, want %d", i, n, j, got, want)
				}
			}
			s.Release()
		}
	}
}

func TestSliceSharesStorageCopyDoesNot(t *testing.T) {
	b := CopiedBuffer([]byte("hello world"))
	s, err := b.Slice(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Copy(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	_ = b.SetByte(0, 'j')
	if got, _ := s.GetByte(0); got != 'j' {
		t.Errorf("slice did not observe parent write, got %q", got)
	}
	if got, _ := c.GetByte(0); got != 'h' {
		t.Errorf("copy observed parent write, got %q", got)
	}
	if b.RefCnt() != 2 {
		t.Errorf("expected ref count 2 with one live slice, got %d", b.RefCnt())
	}
	s.Release()
	if !b.Release() {
		t.Error("expected last release to free the storage")
	}
	if _, err := b.GetByte(0); !errors.Is(err, errors.ErrBufferReleased) {
		t.Errorf("expected ErrBufferReleased, got %v", err)
	}
}

func TestReadImplementsIOReader(t *testing.T) {
	b := CopiedBuffer([]byte("abcdef"))
	got, err := io.ReadAll(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcdef" {
		t.Errorf("io.ReadAll = %q", got)
	}
}

func TestCompositeReadsAcrossComponents(t *testing.T) {
	c, err := NewComposite(binary.BigEndian, Wrap([]byte{0x01, 0x02}), Wrap([]byte{0x03}), Wrap([]byte{0x04, 0x05}))
	if err != nil {
		t.Fatal(err)
	}
	if c.NumComponents() != 3 || c.ReadableBytes() != 5 {
		t.Fatalf("components %d readable %d", c.NumComponents(), c.ReadableBytes())
	}
	v, err := c.ReadUint32()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x01020304 {
		t.Errorf("ReadUint32 across components = %#x", v)
	}
	if err := c.WriteUint16(0x0607); err != nil {
		t.Fatal(err)
	}
	if got := c.Bytes(); !bytes.Equal(got, []byte{0x05, 0x06, 0x07}) {
		t.Errorf("readable bytes after growth = %v", got)
	}
}

func TestGatherCompactsManyBlocks(t *testing.T) {
	var parts []*Buffer
	var want []byte
	for i := 0; i < MaxGatheringBlocks+4; i++ {
		parts = append(parts, Wrap([]byte{byte(i), byte(i)}))
		want = append(want, byte(i), byte(i))
	}
	c, err := NewComposite(binary.BigEndian, parts...)
	if err != nil {
		t.Fatal(err)
	}
	g := NewGatheringBuffer()
	if err := c.Gather(g); err != nil {
		t.Fatal(err)
	}
	if g.BlockCount() != 1 {
		t.Errorf("expected compaction into 1 block, got %d", g.BlockCount())
	}
	if g.BytesCount() != len(want) || !bytes.Equal(g.At(0), want) {
		t.Errorf("gathered %v, want %v", g.At(0), want)
	}

	small, _ := NewComposite(binary.BigEndian, Wrap([]byte{1}), Wrap([]byte{2}))
	g.Reset()
	_ = small.Gather(g)
	if g.BlockCount() != 2 || g.BytesCount() != 2 {
		t.Errorf("expected 2 blocks of 1 byte, got %d blocks %d bytes", g.BlockCount(), g.BytesCount())
	}
	g.Consume(1)
	if g.BlockCount() != 1 || g.At(0)[0] != 2 {
		t.Errorf("Consume(1) left %d blocks", g.BlockCount())
	}
}

func TestPooledFactoryRecycles(t *testing.T) {
	f := NewPooledFactory()
	b := f.Buffer(binary.LittleEndian, 32)
	if b.Capacity() < 32 {
		t.Fatalf("capacity %d below request", b.Capacity())
	}
	if err := b.WriteUint32(0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.GetUint32(0); v != 0xdeadbeef {
		t.Errorf("GetUint32 = %#x", v)
	}
	if !b.Release() {
		t.Error("expected release to recycle the array")
	}
	if b.Release() {
		t.Error("second release must be a no-op")
	}
}

func TestMarkAndReset(t *testing.T) {
	b := CopiedBuffer([]byte{1, 2, 3, 4})
	b.MarkReaderIndex()
	_, _ = b.ReadUint16()
	if err := b.ResetReaderIndex(); err != nil {
		t.Fatal(err)
	}
	if b.ReaderIndex() != 0 {
		t.Errorf("reader index %d after reset", b.ReaderIndex())
	}
}
