package buffer

import (
	"encoding/binary"
	"sort"
)

type component struct {
	buf    *Buffer
	start  int // index of the first byte inside buf's storage
	length int
	offset int // logical index of the first byte inside the composite
}

// compositeStorage presents its components as one contiguous index space.
type compositeStorage struct {
	components []component
	size       int
	dynamic    bool
}

func (c *compositeStorage) capacity() int { return c.size }

func (c *compositeStorage) componentIndex(index int) int {
	return sort.Search(len(c.components), func(i int) bool {
		return c.components[i].offset+c.components[i].length > index
	})
}

func (c *compositeStorage) getBytes(index int, dst []byte) {
	for i := c.componentIndex(index); len(dst) > 0; i++ {
		comp := c.components[i]
		rel := index - comp.offset
		n := min(comp.length-rel, len(dst))
		comp.buf.store.getBytes(comp.start+rel, dst[:n])
		dst = dst[n:]
		index += n
	}
}

func (c *compositeStorage) setBytes(index int, src []byte) {
	for i := c.componentIndex(index); len(src) > 0; i++ {
		comp := c.components[i]
		rel := index - comp.offset
		n := min(comp.length-rel, len(src))
		comp.buf.store.setBytes(comp.start+rel, src[:n])
		src = src[n:]
		index += n
	}
}

func (c *compositeStorage) span(index, length int) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	i := c.componentIndex(index)
	if i >= len(c.components) {
		return nil, false
	}
	comp := c.components[i]
	rel := index - comp.offset
	if rel+length > comp.length {
		return nil, false
	}
	return comp.buf.store.span(comp.start+rel, length)
}

func (c *compositeStorage) spans(index, length int, dst [][]byte) [][]byte {
	for i := c.componentIndex(index); length > 0; i++ {
		comp := c.components[i]
		rel := index - comp.offset
		n := min(comp.length-rel, length)
		dst = comp.buf.store.spans(comp.start+rel, n, dst)
		length -= n
		index += n
	}
	return dst
}

func (c *compositeStorage) grow(minCapacity int) bool {
	if minCapacity <= c.size {
		return true
	}
	if !c.dynamic {
		return false
	}
	n := nextCapacity(c.size, minCapacity) - c.size
	c.append(&Buffer{store: &heapStorage{array: make([]byte, n)}, ref: newRefCount(nil)}, 0, n)
	return true
}

func (c *compositeStorage) append(b *Buffer, start, length int) {
	c.components = append(c.components, component{buf: b, start: start, length: length, offset: c.size})
	c.size += length
}

// truncate drops the index space past size, releasing components left empty.
func (c *compositeStorage) truncate(size int) {
	for len(c.components) > 0 {
		last := &c.components[len(c.components)-1]
		if last.offset >= size {
			last.buf.Release()
			c.components = c.components[:len(c.components)-1]
			continue
		}
		last.length = size - last.offset
		break
	}
	c.size = size
}

func (c *compositeStorage) consolidate() {
	if len(c.components) <= 1 {
		return
	}
	array := make([]byte, c.size)
	c.getBytes(0, array)
	c.free()
	c.components = c.components[:0]
	c.size = 0
	c.append(&Buffer{store: &heapStorage{array: array, dynamic: c.dynamic}, ref: newRefCount(nil)}, 0, len(array))
}

func (c *compositeStorage) free() {
	for _, comp := range c.components {
		comp.buf.Release()
	}
}

// Composite is a Buffer assembled from component buffers without copying them.
type Composite struct {
	*Buffer
	cs *compositeStorage
}

// NewComposite returns a dynamic composite over the readable regions of components.
// The composite takes over the caller's reference to each component.
func NewComposite(order binary.ByteOrder, components ...*Buffer) (*Composite, error) {
	cs := &compositeStorage{dynamic: true}
	c := &Composite{Buffer: newBuffer(cs, order, cs.free), cs: cs}
	if err := c.AddComponents(components...); err != nil {
		return nil, err
	}
	return c, nil
}

// AddComponents appends the readable region of each buffer to the composite, which
// becomes readable as well. Unwritten space at the end of the composite is dropped first.
func (c *Composite) AddComponents(components ...*Buffer) error {
	for _, b := range components {
		n := b.ReadableBytes()
		if err := b.checkReadable(n); err != nil {
			return err
		}
		if c.writerIndex < c.cs.size {
			c.cs.truncate(c.writerIndex)
		}
		if n == 0 {
			b.Release()
			continue
		}
		c.cs.append(b, b.readerIndex, n)
		c.writerIndex += n
	}
	return nil
}

// NumComponents returns the number of component buffers.
func (c *Composite) NumComponents() int { return len(c.cs.components) }

// Consolidate merges all components into a single one, keeping every index valid.
func (c *Composite) Consolidate() { c.cs.consolidate() }
