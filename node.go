package hamt

import "math/bits"

// bitPosition extracts the hashIndexBits-wide slice of hash used to index an
// InternalNode at the given shift (spec.md 4.A).
func bitPosition(hash hashType, shift uint) uint64 {
	return (hash >> shift) & hashIndexMask
}

func isBitSet(bitmap uint64, pos uint64) bool { return bitmap&(1<<pos) != 0 }

func setBit(bitmap uint64, pos uint64) uint64 { return bitmap | (1 << pos) }

// slotIndex returns the index into Children that pos occupies (or would
// occupy if inserted now): the number of set bits below pos, per the
// standard bitmap-trie compaction scheme.
func slotIndex(bitmap uint64, pos uint64) int {
	if pos == 0 {
		return 0
	}
	mask := uint64(1)<<pos - 1
	return bits.OnesCount64(bitmap & mask)
}

// lookup returns the child stored at pos and whether it is present.
func (n *InternalNode) lookup(pos uint64) (NodeRef, bool) {
	if !isBitSet(n.Bitmap, pos) {
		return NullRef, false
	}
	return n.Children[slotIndex(n.Bitmap, pos)], true
}

// insertChild adds a brand new child at pos. Precondition: pos is not
// already occupied (spec.md 4.D "insert_child").
func (n *InternalNode) insertChild(pos uint64, child NodeRef) {
	if isBitSet(n.Bitmap, pos) {
		programmerError("insertChild: slot already occupied")
	}
	idx := slotIndex(n.Bitmap, pos)
	n.Children = append(n.Children, NullRef)
	copy(n.Children[idx+1:], n.Children[idx:])
	n.Children[idx] = child
	n.Bitmap = setBit(n.Bitmap, pos)
}

// replaceChild overwrites the child at pos (already occupied) and returns
// the value it held.
func (n *InternalNode) replaceChild(pos uint64, child NodeRef) NodeRef {
	if !isBitSet(n.Bitmap, pos) {
		programmerError("replaceChild: slot not occupied")
	}
	idx := slotIndex(n.Bitmap, pos)
	old := n.Children[idx]
	n.Children[idx] = child
	return old
}

// newHeapInternalNode builds an empty InternalNode with full 64-child
// capacity reserved, so that repeated insertChild calls during a single
// writer's lifetime never reallocate (spec.md 4.D).
func newHeapInternalNode() InternalNode {
	return InternalNode{Bitmap: 0, Children: make([]NodeRef, 0, 64)}
}

// makeWritable returns a heap-resident, mutably-owned InternalNode for ref:
// if ref already identifies a heap node, it is returned unchanged (still the
// same arena slot - in-place copy-on-write is idempotent once applied); if
// ref is empty, a new empty node is allocated; otherwise a heap copy of the
// stored node addressed by ref is allocated and populated (spec.md 4.D
// "make_writable", the single rule that preserves store immutability until
// flush).
func makeWritable(tx Database, arena *chunkedArena, ref NodeRef) (NodeRef, *InternalNode, error) {
	if ref.IsHeap() {
		return ref, arena.get(ref.arenaIndexOf()), nil
	}

	if ref.IsEmpty() {
		idx := arena.push(newHeapInternalNode())
		return refFromHeapInternal(idx), arena.get(idx), nil
	}

	stored, err := loadInternalNode(tx, ref.Address())
	if err != nil {
		return NullRef, nil, err
	}

	heapCopy := newHeapInternalNode()
	heapCopy.Bitmap = stored.Bitmap
	heapCopy.Children = append(heapCopy.Children, stored.Children...)

	idx := arena.push(heapCopy)
	return refFromHeapInternal(idx), arena.get(idx), nil
}

// loadInternalNode reads and validates the internal node record at addr.
func loadInternalNode(db Database, addr Address) (*InternalNode, error) {
	header, err := db.Getro(addr, 16)
	if err != nil {
		return nil, err
	}
	bitmap := getUint64(header[8:16])
	full, err := db.Getro(addr, uint64(internalNodeSizeBytes(bitmap)))
	if err != nil {
		return nil, err
	}
	return decodeInternalNode(full, addr)
}

// flushInternalNode depth-first serializes a heap InternalNode and every
// heap child reachable from it, replacing each heap child reference with the
// store address it was written to. Per spec.md 4.G's asymmetric ownership
// rule: a replaced heap-internal child is left in the arena (reclaimed only
// by the arena's next clear()), while a replaced heap-linear child is
// explicitly freed from linearNodes, since linear nodes are not arena-owned.
func flushInternalNode(tx Transaction, arena *chunkedArena, linearNodes *linearHeap, node *InternalNode, shift uint) (Address, error) {
	childShift := shift + hashIndexBits

	for i, child := range node.Children {
		if !child.IsHeap() {
			continue
		}

		if depthIsInternalNode(childShift) {
			childNode := arena.get(child.arenaIndexOf())
			addr, err := flushInternalNode(tx, arena, linearNodes, childNode, childShift)
			if err != nil {
				return NullAddress, err
			}
			node.Children[i] = refFromBranchAddress(addr)
		} else {
			handle := child.linearHandleOf()
			childLinear := linearNodes.get(handle)
			addr, err := flushLinearNode(tx, childLinear)
			if err != nil {
				return NullAddress, err
			}
			linearNodes.free(handle)
			node.Children[i] = refFromBranchAddress(addr)
		}
	}

	buf := encodeInternalNode(node.Bitmap, node.Children)
	dst, addr, err := tx.AllocRW(uint64(len(buf)), 8)
	if err != nil {
		return NullAddress, wrapError(IOAllocation, err)
	}
	copy(dst, buf)
	return addr, nil
}
