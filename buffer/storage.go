package buffer

import "go.uber.org/atomic"

// storage is the absolute-access backend of a Buffer. Bounds are checked by the Buffer
// before any storage method is called.
type storage interface {
	capacity() int
	getBytes(index int, dst []byte)
	setBytes(index int, src []byte)
	// span returns [index, index+length) as one contiguous slice when the backend can.
	span(index, length int) ([]byte, bool)
	// spans appends the contiguous blocks covering [index, index+length) to dst.
	spans(index, length int, dst [][]byte) [][]byte
	// grow makes room for at least minCapacity bytes, reporting false for fixed backends.
	grow(minCapacity int) bool
}

// consolidator is implemented by backends able to merge their blocks in place.
type consolidator interface {
	consolidate()
}

const minGrowCapacity = 64

func nextCapacity(current, minCapacity int) int {
	newCap := current << 1
	if newCap < minGrowCapacity {
		newCap = minGrowCapacity
	}
	for newCap < minCapacity {
		newCap <<= 1
	}
	return newCap
}

// heapStorage owns one array. A dynamic heapStorage reallocates by doubling.
type heapStorage struct {
	array   []byte
	dynamic bool
}

func (h *heapStorage) capacity() int { return len(h.array) }

func (h *heapStorage) getBytes(index int, dst []byte) { copy(dst, h.array[index:]) }

func (h *heapStorage) setBytes(index int, src []byte) { copy(h.array[index:], src) }

func (h *heapStorage) span(index, length int) ([]byte, bool) {
	return h.array[index : index+length : index+length], true
}

func (h *heapStorage) spans(index, length int, dst [][]byte) [][]byte {
	if length == 0 {
		return dst
	}
	return append(dst, h.array[index:index+length:index+length])
}

func (h *heapStorage) grow(minCapacity int) bool {
	if minCapacity <= len(h.array) {
		return true
	}
	if !h.dynamic {
		return false
	}
	array := make([]byte, nextCapacity(len(h.array), minCapacity))
	copy(array, h.array)
	h.array = array
	return true
}

// slicedStorage is a window onto a parent backend; indices are translated by offset.
type slicedStorage struct {
	parent storage
	offset int
	length int
}

func newSlicedStorage(parent storage, offset, length int) *slicedStorage {
	if p, ok := parent.(*slicedStorage); ok {
		return &slicedStorage{parent: p.parent, offset: p.offset + offset, length: length}
	}
	return &slicedStorage{parent: parent, offset: offset, length: length}
}

func (s *slicedStorage) capacity() int { return s.length }

func (s *slicedStorage) getBytes(index int, dst []byte) { s.parent.getBytes(s.offset+index, dst) }

func (s *slicedStorage) setBytes(index int, src []byte) { s.parent.setBytes(s.offset+index, src) }

func (s *slicedStorage) span(index, length int) ([]byte, bool) {
	return s.parent.span(s.offset+index, length)
}

func (s *slicedStorage) spans(index, length int, dst [][]byte) [][]byte {
	return s.parent.spans(s.offset+index, length, dst)
}

func (s *slicedStorage) grow(minCapacity int) bool { return minCapacity <= s.length }

func (s *slicedStorage) consolidate() {
	if c, ok := s.parent.(consolidator); ok {
		c.consolidate()
	}
}

// refCount is shared by a Buffer and every view derived from it.
type refCount struct {
	n    atomic.Int32
	free func()
}

func newRefCount(free func()) *refCount {
	r := &refCount{free: free}
	r.n.Store(1)
	return r
}

func (r *refCount) alive() bool { return r.n.Load() > 0 }

func (r *refCount) retain() bool {
	for {
		c := r.n.Load()
		if c <= 0 {
			return false
		}
		if r.n.CAS(c, c+1) {
			return true
		}
	}
}

func (r *refCount) release() bool {
	for {
		c := r.n.Load()
		if c <= 0 {
			return false
		}
		if r.n.CAS(c, c-1) {
			if c == 1 {
				if r.free != nil {
					r.free()
				}
				return true
			}
			return false
		}
	}
}
