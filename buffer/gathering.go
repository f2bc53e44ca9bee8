package buffer

// MaxGatheringBlocks bounds the number of blocks a single buffer contributes to a
// GatheringBuffer; larger regions are compacted first.
const MaxGatheringBlocks = 8

// GatheringBuffer is an ordered list of contiguous memory blocks handed to vectored I/O.
type GatheringBuffer struct {
	blocks [][]byte
	bytes  int
}

// NewGatheringBuffer returns an empty GatheringBuffer.
func NewGatheringBuffer() *GatheringBuffer {
	return &GatheringBuffer{blocks: make([][]byte, 0, MaxGatheringBlocks)}
}

// Append adds p as the last block. Empty blocks are ignored.
func (g *GatheringBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	g.blocks = append(g.blocks, p)
	g.bytes += len(p)
}

// At returns the i-th block.
func (g *GatheringBuffer) At(i int) []byte { return g.blocks[i] }

// BlockCount returns the number of blocks.
func (g *GatheringBuffer) BlockCount() int { return len(g.blocks) }

// BytesCount returns the total length of all blocks.
func (g *GatheringBuffer) BytesCount() int { return g.bytes }

// Blocks returns the blocks in order.
func (g *GatheringBuffer) Blocks() [][]byte { return g.blocks }

// Consume drops the first n bytes, as after a partial vectored write.
func (g *GatheringBuffer) Consume(n int) {
	g.bytes -= n
	for n > 0 && len(g.blocks) > 0 {
		if n < len(g.blocks[0]) {
			g.blocks[0] = g.blocks[0][n:]
			return
		}
		n -= len(g.blocks[0])
		g.blocks[0] = nil
		g.blocks = g.blocks[1:]
	}
}

// Reset empties the buffer, dropping its references to the blocks.
func (g *GatheringBuffer) Reset() {
	for i := range g.blocks {
		g.blocks[i] = nil
	}
	g.blocks = g.blocks[:0]
	g.bytes = 0
}
