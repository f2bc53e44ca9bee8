package buffer

import (
	"encoding/binary"

	"github.com/valyala/bytebufferpool"
)

// Factory allocates dynamic buffers.
type Factory interface {
	Buffer(order binary.ByteOrder, capacity int) *Buffer
}

// HeapFactory allocates every buffer from the Go heap.
type HeapFactory struct{}

// Buffer implements Factory.
func (HeapFactory) Buffer(order binary.ByteOrder, capacity int) *Buffer {
	return NewWithOrder(order, capacity)
}

// DefaultFactory is used by channels whose config names no factory.
var DefaultFactory Factory = HeapFactory{}

// PooledFactory recycles backing arrays through a bytebufferpool.Pool. The array returns
// to the pool when the last reference to the buffer is released.
type PooledFactory struct {
	pool bytebufferpool.Pool
}

// NewPooledFactory returns a PooledFactory with its own calibrated pool.
func NewPooledFactory() *PooledFactory {
	return new(PooledFactory)
}

// Buffer implements Factory. The capacity may exceed the requested one.
func (f *PooledFactory) Buffer(order binary.ByteOrder, capacity int) *Buffer {
	bb := f.pool.Get()
	if cap(bb.B) < capacity {
		bb.B = make([]byte, capacity)
	}
	hs := &heapStorage{array: bb.B[:cap(bb.B)], dynamic: true}
	return newBuffer(hs, order, func() {
		bb.B = hs.array
		f.pool.Put(bb)
	})
}
