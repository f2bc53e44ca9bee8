// Package buffer provides byte containers with independent reader and writer cursors,
// byte order aware accessors, zero-copy slices and composite buffers.
//
//	+-------------------+------------------+------------------+
//	| discardable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	|                   |                  |                  |
//	0      <=      readerIndex   <=   writerIndex    <=    capacity
//
// Buffers are reference counted. Slices and duplicates share the storage and the count
// of their source, copies own a fresh array.
package buffer

import (
	"encoding/binary"
	"fmt"
	"io"

	"cetty/errors"
)

// Buffer is a random and sequential accessible sequence of bytes.
type Buffer struct {
	store storage
	ref   *refCount
	order binary.ByteOrder

	readerIndex       int
	writerIndex       int
	markedReaderIndex int
	markedWriterIndex int
}

// New returns a dynamic big-endian heap buffer with the given initial capacity.
func New(capacity int) *Buffer {
	return NewWithOrder(binary.BigEndian, capacity)
}

// NewWithOrder returns a dynamic heap buffer using order.
func NewWithOrder(order binary.ByteOrder, capacity int) *Buffer {
	return newBuffer(&heapStorage{array: make([]byte, capacity), dynamic: true}, order, nil)
}

// NewFixed returns a big-endian heap buffer that never grows.
func NewFixed(capacity int) *Buffer {
	return newBuffer(&heapStorage{array: make([]byte, capacity)}, binary.BigEndian, nil)
}

// Wrap returns a fixed big-endian buffer over p without copying; all of p is readable.
func Wrap(p []byte) *Buffer {
	return WrapWithOrder(binary.BigEndian, p)
}

// WrapWithOrder is Wrap with an explicit byte order.
func WrapWithOrder(order binary.ByteOrder, p []byte) *Buffer {
	b := newBuffer(&heapStorage{array: p}, order, nil)
	b.writerIndex = len(p)
	return b
}

// CopiedBuffer returns a dynamic big-endian buffer holding a copy of p.
func CopiedBuffer(p []byte) *Buffer {
	b := New(len(p))
	copy(b.store.(*heapStorage).array, p)
	b.writerIndex = len(p)
	return b
}

func newBuffer(s storage, order binary.ByteOrder, free func()) *Buffer {
	return &Buffer{store: s, ref: newRefCount(free), order: order}
}

func (b *Buffer) derive(s storage, readerIndex, writerIndex int) *Buffer {
	b.ref.retain()
	return &Buffer{store: s, ref: b.ref, order: b.order, readerIndex: readerIndex, writerIndex: writerIndex}
}

// Order returns the byte order used by the multi-byte accessors.
func (b *Buffer) Order() binary.ByteOrder { return b.order }

// Capacity returns the number of bytes the buffer can hold without growing.
func (b *Buffer) Capacity() int { return b.store.capacity() }

// ReaderIndex returns the read cursor.
func (b *Buffer) ReaderIndex() int { return b.readerIndex }

// WriterIndex returns the write cursor.
func (b *Buffer) WriterIndex() int { return b.writerIndex }

// SetReaderIndex moves the read cursor within [0, writerIndex].
func (b *Buffer) SetReaderIndex(i int) error {
	if i < 0 || i > b.writerIndex {
		return errors.OutOfRange(i, 0, b.writerIndex)
	}
	b.readerIndex = i
	return nil
}

// SetWriterIndex moves the write cursor within [readerIndex, capacity].
func (b *Buffer) SetWriterIndex(i int) error {
	if i < b.readerIndex || i > b.Capacity() {
		return errors.OutOfRange(i, 0, b.Capacity())
	}
	b.writerIndex = i
	return nil
}

// SetIndex moves both cursors at once.
func (b *Buffer) SetIndex(readerIndex, writerIndex int) error {
	if readerIndex < 0 || readerIndex > writerIndex || writerIndex > b.Capacity() {
		return errors.OutOfRange(readerIndex, writerIndex-readerIndex, b.Capacity())
	}
	b.readerIndex, b.writerIndex = readerIndex, writerIndex
	return nil
}

// ReadableBytes returns writerIndex - readerIndex.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes returns capacity - writerIndex.
func (b *Buffer) WritableBytes() int { return b.Capacity() - b.writerIndex }

// IsReadable reports whether at least one byte can be read.
func (b *Buffer) IsReadable() bool { return b.writerIndex > b.readerIndex }

// IsWritable reports whether at least one byte can be written without growing.
func (b *Buffer) IsWritable() bool { return b.Capacity() > b.writerIndex }

// Clear resets both cursors to 0. The content is left untouched.
func (b *Buffer) Clear() { b.readerIndex, b.writerIndex = 0, 0 }

// MarkReaderIndex remembers the current read cursor.
func (b *Buffer) MarkReaderIndex() { b.markedReaderIndex = b.readerIndex }

// ResetReaderIndex restores the read cursor remembered by MarkReaderIndex.
func (b *Buffer) ResetReaderIndex() error { return b.SetReaderIndex(b.markedReaderIndex) }

// MarkWriterIndex remembers the current write cursor.
func (b *Buffer) MarkWriterIndex() { b.markedWriterIndex = b.writerIndex }

// ResetWriterIndex restores the write cursor remembered by MarkWriterIndex.
func (b *Buffer) ResetWriterIndex() error { return b.SetWriterIndex(b.markedWriterIndex) }

// RefCnt returns the reference count shared with every derived view.
func (b *Buffer) RefCnt() int32 { return b.ref.n.Load() }

// Retain adds one reference and returns b.
func (b *Buffer) Retain() *Buffer {
	b.ref.retain()
	return b
}

// Release drops one reference and reports whether the storage was freed.
func (b *Buffer) Release() bool { return b.ref.release() }

func (b *Buffer) checkIndex(index, length int) error {
	if !b.ref.alive() {
		return errors.ErrBufferReleased
	}
	if index < 0 || length < 0 || index+length > b.store.capacity() {
		return errors.OutOfRange(index, length, b.store.capacity())
	}
	return nil
}

func (b *Buffer) checkReadable(n int) error {
	if !b.ref.alive() {
		return errors.ErrBufferReleased
	}
	if n < 0 || b.ReadableBytes() < n {
		return errors.OutOfRange(b.readerIndex, n, b.writerIndex)
	}
	return nil
}

// EnsureWritable grows the buffer so that n more bytes can be written.
// Fixed buffers fail with ErrIndexOutOfRange instead.
func (b *Buffer) EnsureWritable(n int) error {
	if !b.ref.alive() {
		return errors.ErrBufferReleased
	}
	if n < 0 {
		return errors.OutOfRange(b.writerIndex, n, b.Capacity())
	}
	if n <= b.WritableBytes() {
		return nil
	}
	if !b.store.grow(b.writerIndex + n) {
		return errors.OutOfRange(b.writerIndex, n, b.Capacity())
	}
	return nil
}

// view returns [index, index+len(tmp)) either as a contiguous slice of the storage or
// copied into tmp.
func (b *Buffer) view(index int, tmp []byte) ([]byte, error) {
	if err := b.checkIndex(index, len(tmp)); err != nil {
		return nil, err
	}
	if s, ok := b.store.span(index, len(tmp)); ok {
		return s, nil
	}
	b.store.getBytes(index, tmp)
	return tmp, nil
}

// GetByte returns the byte at index.
func (b *Buffer) GetByte(index int) (byte, error) {
	var tmp [1]byte
	s, err := b.view(index, tmp[:])
	if err != nil {
		return 0, err
	}
	return s[0], nil
}

// GetUint16 returns the 16-bit integer at index in the buffer's byte order.
func (b *Buffer) GetUint16(index int) (uint16, error) {
	var tmp [2]byte
	s, err := b.view(index, tmp[:])
	if err != nil {
		return 0, err
	}
	return b.order.Uint16(s), nil
}

// GetUint32 returns the 32-bit integer at index in the buffer's byte order.
func (b *Buffer) GetUint32(index int) (uint32, error) {
	var tmp [4]byte
	s, err := b.view(index, tmp[:])
	if err != nil {
		return 0, err
	}
	return b.order.Uint32(s), nil
}

// GetUint64 returns the 64-bit integer at index in the buffer's byte order.
func (b *Buffer) GetUint64(index int) (uint64, error) {
	var tmp [8]byte
	s, err := b.view(index, tmp[:])
	if err != nil {
		return 0, err
	}
	return b.order.Uint64(s), nil
}

// GetBytes copies len(dst) bytes starting at index into dst.
func (b *Buffer) GetBytes(index int, dst []byte) error {
	if err := b.checkIndex(index, len(dst)); err != nil {
		return err
	}
	b.store.getBytes(index, dst)
	return nil
}

// SetByte stores v at index.
func (b *Buffer) SetByte(index int, v byte) error {
	return b.SetBytes(index, []byte{v})
}

// SetUint16 stores v at index in the buffer's byte order.
func (b *Buffer) SetUint16(index int, v uint16) error {
	var tmp [2]byte
	b.order.PutUint16(tmp[:], v)
	return b.SetBytes(index, tmp[:])
}

// SetUint32 stores v at index in the buffer's byte order.
func (b *Buffer) SetUint32(index int, v uint32) error {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], v)
	return b.SetBytes(index, tmp[:])
}

// SetUint64 stores v at index in the buffer's byte order.
func (b *Buffer) SetUint64(index int, v uint64) error {
	var tmp [8]byte
	b.order.PutUint64(tmp[:], v)
	return b.SetBytes(index, tmp[:])
}

// SetBytes copies src into the buffer starting at index.
func (b *Buffer) SetBytes(index int, src []byte) error {
	if err := b.checkIndex(index, len(src)); err != nil {
		return err
	}
	b.store.setBytes(index, src)
	return nil
}

// ReadByte reads one byte and advances the read cursor. It implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	if err := b.checkReadable(1); err != nil {
		return 0, err
	}
	v, err := b.GetByte(b.readerIndex)
	if err != nil {
		return 0, err
	}
	b.readerIndex++
	return v, nil
}

// ReadUint16 reads a 16-bit integer and advances the read cursor.
func (b *Buffer) ReadUint16() (uint16, error) {
	if err := b.checkReadable(2); err != nil {
		return 0, err
	}
	v, err := b.GetUint16(b.readerIndex)
	if err != nil {
		return 0, err
	}
	b.readerIndex += 2
	return v, nil
}

// ReadUint32 reads a 32-bit integer and advances the read cursor.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.checkReadable(4); err != nil {
		return 0, err
	}
	v, err := b.GetUint32(b.readerIndex)
	if err != nil {
		return 0, err
	}
	b.readerIndex += 4
	return v, nil
}

// ReadUint64 reads a 64-bit integer and advances the read cursor.
func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.checkReadable(8); err != nil {
		return 0, err
	}
	v, err := b.GetUint64(b.readerIndex)
	if err != nil {
		return 0, err
	}
	b.readerIndex += 8
	return v, nil
}

// Read implements io.Reader. It returns io.EOF once no byte is readable.
func (b *Buffer) Read(p []byte) (int, error) {
	if !b.ref.alive() {
		return 0, errors.ErrBufferReleased
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := b.ReadableBytes()
	if n == 0 {
		return 0, io.EOF
	}
	if n > len(p) {
		n = len(p)
	}
	b.store.getBytes(b.readerIndex, p[:n])
	b.readerIndex += n
	return n, nil
}

// ReadBytes returns a copy of the next n readable bytes.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if err := b.checkReadable(n); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	b.store.getBytes(b.readerIndex, p)
	b.readerIndex += n
	return p, nil
}

// ReadSlice returns a view of the next n readable bytes and advances the read cursor.
// The view retains the storage; release it when done.
func (b *Buffer) ReadSlice(n int) (*Buffer, error) {
	if err := b.checkReadable(n); err != nil {
		return nil, err
	}
	s, err := b.Slice(b.readerIndex, n)
	if err != nil {
		return nil, err
	}
	b.readerIndex += n
	return s, nil
}

// Skip advances the read cursor by n.
func (b *Buffer) Skip(n int) error {
	if err := b.checkReadable(n); err != nil {
		return err
	}
	b.readerIndex += n
	return nil
}

// WriteByte appends c. It implements io.ByteWriter.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.EnsureWritable(1); err != nil {
		return err
	}
	b.store.setBytes(b.writerIndex, []byte{c})
	b.writerIndex++
	return nil
}

// WriteUint16 appends v in the buffer's byte order.
func (b *Buffer) WriteUint16(v uint16) error {
	var tmp [2]byte
	b.order.PutUint16(tmp[:], v)
	_, err := b.Write(tmp[:])
	return err
}

// WriteUint32 appends v in the buffer's byte order.
func (b *Buffer) WriteUint32(v uint32) error {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], v)
	_, err := b.Write(tmp[:])
	return err
}

// WriteUint64 appends v in the buffer's byte order.
func (b *Buffer) WriteUint64(v uint64) error {
	var tmp [8]byte
	b.order.PutUint64(tmp[:], v)
	_, err := b.Write(tmp[:])
	return err
}

// Write implements io.Writer. A fixed buffer without room for all of p writes nothing.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.EnsureWritable(len(p)); err != nil {
		return 0, err
	}
	b.store.setBytes(b.writerIndex, p)
	b.writerIndex += len(p)
	return len(p), nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// WriteBuffer appends the readable bytes of src and consumes them from src.
func (b *Buffer) WriteBuffer(src *Buffer) error {
	n := src.ReadableBytes()
	if err := src.checkReadable(n); err != nil {
		return err
	}
	if err := b.EnsureWritable(n); err != nil {
		return err
	}
	for _, block := range src.store.spans(src.readerIndex, n, nil) {
		b.store.setBytes(b.writerIndex, block)
		b.writerIndex += len(block)
	}
	src.readerIndex += n
	return nil
}

// Slice returns a view of [index, index+length) sharing this buffer's storage. The view
// has its own cursors, starting at 0 and length.
func (b *Buffer) Slice(index, length int) (*Buffer, error) {
	if err := b.checkIndex(index, length); err != nil {
		return nil, err
	}
	return b.derive(newSlicedStorage(b.store, index, length), 0, length), nil
}

// ReadableSlice returns a view of the readable bytes.
func (b *Buffer) ReadableSlice() (*Buffer, error) {
	return b.Slice(b.readerIndex, b.ReadableBytes())
}

// Duplicate returns a view of the whole storage with the same cursors.
func (b *Buffer) Duplicate() *Buffer {
	return b.derive(b.store, b.readerIndex, b.writerIndex)
}

// Copy returns a new buffer owning a copy of [index, index+length).
func (b *Buffer) Copy(index, length int) (*Buffer, error) {
	if err := b.checkIndex(index, length); err != nil {
		return nil, err
	}
	c := NewWithOrder(b.order, length)
	b.store.getBytes(index, c.store.(*heapStorage).array)
	c.writerIndex = length
	return c, nil
}

// Bytes returns the readable bytes. The result aliases the storage when the readable
// region is contiguous and is a copy otherwise.
func (b *Buffer) Bytes() []byte {
	n := b.ReadableBytes()
	if !b.ref.alive() || n == 0 {
		return nil
	}
	if s, ok := b.store.span(b.readerIndex, n); ok {
		return s
	}
	p := make([]byte, n)
	b.store.getBytes(b.readerIndex, p)
	return p
}

// DiscardReadBytes moves the readable bytes to the front of the buffer and resets the
// read cursor to 0.
func (b *Buffer) DiscardReadBytes() {
	if b.readerIndex == 0 || !b.ref.alive() {
		return
	}
	n := b.ReadableBytes()
	if n > 0 {
		if s, ok := b.store.span(0, b.writerIndex); ok {
			copy(s, s[b.readerIndex:])
		} else {
			tmp := make([]byte, n)
			b.store.getBytes(b.readerIndex, tmp)
			b.store.setBytes(0, tmp)
		}
	}
	b.markedReaderIndex = max(b.markedReaderIndex-b.readerIndex, 0)
	b.markedWriterIndex = max(b.markedWriterIndex-b.readerIndex, 0)
	b.writerIndex = n
	b.readerIndex = 0
}

// Gather appends the readable region to g as contiguous blocks. A region made of more
// than MaxGatheringBlocks blocks is first compacted into one block.
func (b *Buffer) Gather(g *GatheringBuffer) error {
	n := b.ReadableBytes()
	if err := b.checkReadable(n); err != nil {
		return err
	}
	blocks := b.store.spans(b.readerIndex, n, nil)
	if len(blocks) > MaxGatheringBlocks {
		if c, ok := b.store.(consolidator); ok {
			c.consolidate()
			blocks = b.store.spans(b.readerIndex, n, blocks[:0])
		}
		if len(blocks) > MaxGatheringBlocks {
			p := make([]byte, n)
			b.store.getBytes(b.readerIndex, p)
			blocks = append(blocks[:0], p)
		}
	}
	for _, block := range blocks {
		g.Append(block)
	}
	return nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(ridx: %d, widx: %d, cap: %d)", b.readerIndex, b.writerIndex, b.Capacity())
}
