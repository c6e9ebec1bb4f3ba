package hamt

// linearHeap owns heap-resident LinearNodes outside the InternalNode arena.
// Unlike InternalNode storage (arena-backed, never individually freed; see
// node.go "asymmetric free"), a replaced heap LinearNode genuinely is freed:
// its slot is recycled on the next push rather than leaked until a
// whole-arena clear.
type linearHeap struct {
	nodes    []LinearNode
	freeList []linearHandle
}

func newLinearHeap() *linearHeap {
	return &linearHeap{}
}

func (h *linearHeap) push(v LinearNode) linearHandle {
	if n := len(h.freeList); n > 0 {
		idx := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.nodes[idx] = v
		return idx
	}
	h.nodes = append(h.nodes, v)
	return linearHandle(len(h.nodes) - 1)
}

func (h *linearHeap) get(idx linearHandle) *LinearNode { return &h.nodes[idx] }

// free recycles idx's slot. Per spec.md 4.G's asymmetric ownership rule, this
// is called by flushInternalNode once a heap-resident LinearNode has been
// written to the store and its parent's reference replaced.
func (h *linearHeap) free(idx linearHandle) {
	h.freeList = append(h.freeList, idx)
}

func (h *linearHeap) clear() {
	h.nodes = h.nodes[:0]
	h.freeList = h.freeList[:0]
}

// lookupLinear scans node's leaves in order, deserializing each key with
// codec and comparing with equal. There is no shortcut: linear nodes exist
// precisely because the hash no longer discriminates between these keys
// (spec.md 4.E).
func lookupLinear(db Database, codec LeafCodec, equal EqualFunc, node *LinearNode, key []byte) (Address, bool, error) {
	for _, addr := range node.Leaves {
		k, _, err := readLeaf(db, codec, addr)
		if err != nil {
			return NullAddress, false, err
		}
		if equal(k, key) {
			return addr, true, nil
		}
	}
	return NullAddress, false, nil
}

// allocateFromLinear copies existing's leaves plus extra into a new
// LinearNode, used to grow a collision list (spec.md 4.E "allocate_from").
// The first LinearNode of a collision is built directly by splitLeaf.
func allocateFromLinear(existing *LinearNode, extra ...Address) *LinearNode {
	leaves := make([]Address, 0, len(existing.Leaves)+len(extra))
	leaves = append(leaves, existing.Leaves...)
	leaves = append(leaves, extra...)
	return &LinearNode{Leaves: leaves}
}

func flushLinearNode(tx Transaction, node *LinearNode) (Address, error) {
	buf := encodeLinearNode(node.Leaves)
	dst, addr, err := tx.AllocRW(uint64(len(buf)), 8)
	if err != nil {
		return NullAddress, wrapError(IOAllocation, err)
	}
	copy(dst, buf)
	return addr, nil
}

func loadLinearNode(db Database, addr Address) (*LinearNode, error) {
	sizeBuf, err := db.Getro(addr, 16)
	if err != nil {
		return nil, err
	}
	size := getUint64(sizeBuf[8:16])
	full, err := db.Getro(addr, uint64(linearNodeSizeBytes(int(size))))
	if err != nil {
		return nil, err
	}
	return decodeLinearNode(full)
}
