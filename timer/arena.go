package timer

import "unsafe"

const (
	arenaChunkBytes = 64 << 10
	minChunkCells   = 16
	maxChunkCells   = 4096
)

// cellRef addresses one payload cell inside an arena.
type cellRef struct {
	chunk int32
	idx   int32
}

// chunk is a block of equally sized cells. Its buffer is allocated once and
// never moved, so payload slices handed to callers stay valid while their
// session lives. seqs is the per-cell header: the sequence of the session
// occupying the cell, 0 when free.
type chunk struct {
	buf  []byte
	base uintptr
	seqs []uint32
}

// arena hands out fixed-size payload cells and resolves a payload slice back
// to the cell that contains it.
type arena struct {
	size          int
	cellsPerChunk int
	chunks        []*chunk
	free          []cellRef
}

func newArena(size int) arena {
	cells := maxChunkCells
	if size > 0 {
		cells = arenaChunkBytes / size
	}

	cells = max(minChunkCells, min(cells, maxChunkCells))
	return arena{size: size, cellsPerChunk: cells}
}

// alloc returns a free cell, growing the arena by one chunk if needed.
func (a *arena) alloc(seq uint32) cellRef {
	if n := len(a.free); n > 0 {
		c := a.free[n-1]
		a.free = a.free[:n-1]
		a.chunks[c.chunk].seqs[c.idx] = seq
		return c
	}

	buf := make([]byte, a.size*a.cellsPerChunk)
	ch := &chunk{
		buf:  buf,
		seqs: make([]uint32, a.cellsPerChunk),
	}
	if len(buf) > 0 {
		ch.base = uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	}

	id := int32(len(a.chunks))
	a.chunks = append(a.chunks, ch)
	for i := a.cellsPerChunk - 1; i > 0; i-- {
		a.free = append(a.free, cellRef{chunk: id, idx: int32(i)})
	}

	ch.seqs[0] = seq
	return cellRef{chunk: id, idx: 0}
}

// release returns c to the free list and clears its header.
func (a *arena) release(c cellRef) {
	a.chunks[c.chunk].seqs[c.idx] = 0
	a.free = append(a.free, c)
}

// bytes returns the payload of c, capped so appends cannot spill into the
// neighbouring cell.
func (a *arena) bytes(c cellRef) []byte {
	if a.size == 0 {
		return []byte{}
	}

	off := int(c.idx) * a.size
	return a.chunks[c.chunk].buf[off : off+a.size : off+a.size]
}

// locate finds the occupied cell whose payload starts at p. Slices that do not
// start on a cell boundary, or point at a free cell, are not resolved.
func (a *arena) locate(p []byte) (cellRef, uint32, bool) {
	if a.size == 0 || len(p) == 0 || len(a.chunks) == 0 {
		return cellRef{}, 0, false
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	span := uintptr(len(a.chunks[0].buf))
	for i, ch := range a.chunks {
		if addr < ch.base || addr >= ch.base+span {
			continue
		}

		off := addr - ch.base
		if off%uintptr(a.size) != 0 {
			return cellRef{}, 0, false
		}

		idx := int32(off / uintptr(a.size))
		seq := ch.seqs[idx]
		if seq == 0 {
			return cellRef{}, 0, false
		}

		return cellRef{chunk: int32(i), idx: idx}, seq, true
	}

	return cellRef{}, 0, false
}
