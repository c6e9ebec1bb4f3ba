package hamt

import "os"

// chunkElements is tuned so a chunk occupies roughly one page of backing
// storage, per spec.md 4.B "chunk_bytes ~= page_size".
var chunkElements = func() int {
	n := os.Getpagesize() / internalNodeHeapSize
	if n < 16 {
		n = 16
	}
	return n
}()

// internalNodeHeapSize approximates the resident size of one heap
// InternalNode (full 64-child capacity), used only to size arena chunks.
const internalNodeHeapSize = 8 + 64*8 // bitmap + max children

// chunkedArena is an append-only sequence of fixed-size chunks that hands
// out reference-stable slots for heap-resident InternalNodes: a push never
// invalidates a previously returned index, because existing chunks are never
// resized or moved, only appended to.
//
// Grounded on the teacher's NodePool (sync.Pool-based node recycling),
// generalized to the chunked-sequence contract described in
// original_source/include/pstore/adt/chunked_sequence.hpp: push is
// amortised O(1), clear() keeps one empty chunk for cheap reuse, splice
// moves chunk lists in O(chunks), and iteration is insertion-ordered.
type chunkedArena struct {
	chunks []*arenaChunk
}

type arenaChunk struct {
	nodes []InternalNode
}

func newChunkedArena() *chunkedArena {
	a := &chunkedArena{}
	a.chunks = append(a.chunks, newArenaChunk())
	return a
}

func newArenaChunk() *arenaChunk {
	return &arenaChunk{nodes: make([]InternalNode, 0, chunkElements)}
}

// push appends value and returns a stable index usable with get/Get for the
// remaining lifetime of the arena (until clear()).
func (a *chunkedArena) push(value InternalNode) arenaIndex {
	tail := a.chunks[len(a.chunks)-1]
	if len(tail.nodes) == cap(tail.nodes) {
		tail = newArenaChunk()
		a.chunks = append(a.chunks, tail)
	}

	base := a.baseIndexOfLastChunk()
	tail.nodes = append(tail.nodes, value)
	return arenaIndex(base + len(tail.nodes) - 1)
}

// baseIndexOfLastChunk returns the global index of the first (hypothetical)
// element of the final chunk, i.e. the count of elements in all prior chunks.
func (a *chunkedArena) baseIndexOfLastChunk() int {
	total := 0
	for _, c := range a.chunks[:len(a.chunks)-1] {
		total += cap(c.nodes)
	}
	return total
}

// get returns a pointer to the node at idx. The pointer remains valid for
// the lifetime of the arena (chunks are never moved or resized in place).
func (a *chunkedArena) get(idx arenaIndex) *InternalNode {
	remaining := int(idx)
	for _, c := range a.chunks {
		if remaining < cap(c.nodes) {
			return &c.nodes[remaining]
		}
		remaining -= cap(c.nodes)
	}
	panic("hamt: arena index out of range")
}

// clear drops all elements, retaining one empty chunk for cheap reuse.
func (a *chunkedArena) clear() {
	a.chunks = a.chunks[:0]
	a.chunks = append(a.chunks, newArenaChunk())
}

// splice moves all chunks from other to the end of a, leaving other empty
// with a single fresh chunk. O(len(other.chunks)).
func (a *chunkedArena) splice(other *chunkedArena) {
	// The receiver's chunks, including a partly filled or empty last chunk,
	// stay in place, so a moved element's new index is its old index plus
	// the total capacity of the chunks the receiver already held.
	a.chunks = append(a.chunks, other.chunks...)
	other.chunks = []*arenaChunk{newArenaChunk()}
}

// len returns the total number of elements currently held across all chunks.
func (a *chunkedArena) len() int {
	total := 0
	for _, c := range a.chunks {
		total += len(c.nodes)
	}
	return total
}

// forEach visits every element in insertion order.
func (a *chunkedArena) forEach(fn func(arenaIndex, *InternalNode)) {
	base := 0
	for _, c := range a.chunks {
		for i := range c.nodes {
			fn(arenaIndex(base+i), &c.nodes[i])
		}
		base += cap(c.nodes)
	}
}
