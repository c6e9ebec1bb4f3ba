package hamt

import "sync"

// HamtMap is a persistent, content-addressed hash trie index over a
// Database/Transaction pair. A HamtMap value is opened against one snapshot
// (or one writable Transaction) at a time; concurrent writers must
// coordinate externally, since spec.md 5 mandates at most one writable
// transaction per store at any moment. The mutex below is held by Insert,
// InsertOrAssign and Flush while they update this process's in-memory
// bookkeeping (root, size, arena); Find, Contains, Begin, Size, Empty and
// Root read that state without taking it.
type HamtMap struct {
	mu sync.Mutex

	root     NodeRef
	size     uint64
	revision uint64

	arena       *chunkedArena
	linearNodes *linearHeap

	hash  HashFunc
	equal EqualFunc
	codec LeafCodec
}

// OpenMap constructs a HamtMap over db. rootAddr is the address of a
// previously flushed HeaderBlock, or NullAddress for a brand new, empty
// index.
func OpenMap(db Database, rootAddr Address, hash HashFunc, equal EqualFunc, codec LeafCodec) (*HamtMap, error) {
	m := &HamtMap{
		arena:       newChunkedArena(),
		linearNodes: newLinearHeap(),
		hash:        hash,
		equal:       equal,
		codec:       codec,
	}

	if rootAddr == NullAddress {
		m.root = NullRef
		m.revision = db.CurrentRevision()
		return m, nil
	}

	hb, err := loadHeaderBlock(db, rootAddr)
	if err != nil {
		return nil, err
	}
	m.root = hb.Root
	m.size = hb.Size
	m.revision = db.CurrentRevision()
	return m, nil
}

// Size returns the number of key/value pairs in the map.
func (m *HamtMap) Size() uint64 { return m.size }

// Empty reports whether the map holds no elements.
func (m *HamtMap) Empty() bool { return m.size == 0 }

// Root returns the current in-memory root reference, primarily useful to
// tests asserting on the shape of the trie.
func (m *HamtMap) Root() NodeRef { return m.root }

// Insert adds key/value only if key is not already present. It reports
// whether a new entry was added and returns an iterator pointing at key's
// entry: the new pair, or the existing pair (left unchanged) when key was
// already present (spec.md 6.3, invariant 8).
func (m *HamtMap) Insert(tx Transaction, key, value []byte) (*Iterator, bool, error) {
	return m.put(tx, key, value, false)
}

// InsertOrAssign adds key/value, overwriting any existing value for key. It
// reports whether this added a brand new key (false means an existing
// value was overwritten) and returns an iterator pointing at (key, value).
func (m *HamtMap) InsertOrAssign(tx Transaction, key, value []byte) (*Iterator, bool, error) {
	return m.put(tx, key, value, true)
}

func (m *HamtMap) put(tx Transaction, key, value []byte, overwrite bool) (*Iterator, bool, error) {
	if tx.CurrentRevision() != m.revision {
		return nil, false, newError(IndexNotLatestRevision, "transaction is not building on this map's revision")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hash := m.hash(key)

	if m.root.IsEmpty() {
		addr, err := writeLeaf(tx, m.codec, key, value)
		if err != nil {
			return nil, false, err
		}
		m.root = refFromAddress(addr)
		m.size++

		var forward parentStack
		forward.push(parentEntry{m.root, notFound})
		return &Iterator{db: tx, owner: m, stack: forward}, true, nil
	}

	var stack parentStack
	newRoot, isNewKey, err := m.insertAt(tx, m.root, 0, hash, key, value, overwrite, &stack)
	if err != nil {
		return nil, false, err
	}
	m.root = newRoot
	if isNewKey {
		m.size++
	}

	var forward parentStack
	stack.reverseInto(&forward)
	return &Iterator{db: tx, owner: m, stack: forward}, isNewKey, nil
}

// insertAt mutates (or replaces) ref to include key/value, returning the new
// reference for ref's slot and whether key was previously absent. ref must
// not be NullRef; the whole-map-empty case is handled by put.
func (m *HamtMap) insertAt(tx Transaction, ref NodeRef, shift uint, hash hashType, key, value []byte, overwrite bool, stack *parentStack) (NodeRef, bool, error) {
	switch {
	case ref.IsLeaf():
		existingKey, _, err := readLeaf(tx, m.codec, ref.Address())
		if err != nil {
			return NullRef, false, err
		}
		if m.equal(existingKey, key) {
			if !overwrite {
				stack.push(parentEntry{ref, notFound})
				return ref, false, nil
			}
			newAddr, err := writeLeaf(tx, m.codec, key, value)
			if err != nil {
				return NullRef, false, err
			}
			newRef := refFromAddress(newAddr)
			stack.push(parentEntry{newRef, notFound})
			return newRef, false, nil
		}

		existingHash := m.hash(existingKey)
		newRef, err := m.splitLeaf(tx, ref.Address(), existingHash, key, value, hash, shift, stack)
		if err != nil {
			return NullRef, false, err
		}
		return newRef, true, nil

	case ref.IsInternal() && depthIsInternalNode(shift):
		heapRef, heapNode, err := makeWritable(tx, m.arena, ref)
		if err != nil {
			return NullRef, false, err
		}
		pos := bitPosition(hash, shift)

		child, found := heapNode.lookup(pos)
		if !found {
			addr, err := writeLeaf(tx, m.codec, key, value)
			if err != nil {
				return NullRef, false, err
			}
			heapNode.insertChild(pos, refFromAddress(addr))
			stack.push(parentEntry{refFromAddress(addr), notFound})
			stack.push(parentEntry{heapRef, pos})
			return heapRef, true, nil
		}

		newChild, isNewKey, err := m.insertAt(tx, child, shift+hashIndexBits, hash, key, value, overwrite, stack)
		if err != nil {
			return NullRef, false, err
		}
		heapNode.replaceChild(pos, newChild)
		stack.push(parentEntry{heapRef, pos})
		return heapRef, isNewKey, nil

	default: // linear node territory
		roNode, err := m.readLinear(tx, ref)
		if err != nil {
			return NullRef, false, err
		}
		idx, addr, found, err := m.findInLinear(tx, roNode, key)
		if err != nil {
			return NullRef, false, err
		}

		switch {
		case found && !overwrite:
			stack.push(parentEntry{refFromAddress(addr), notFound})
			stack.push(parentEntry{ref, uint64(idx)})
			return ref, false, nil

		case found && overwrite:
			newAddr, err := writeLeaf(tx, m.codec, key, value)
			if err != nil {
				return NullRef, false, err
			}
			heapRef, heapNode := m.makeLinearWritable(ref, roNode)
			heapNode.Leaves[idx] = newAddr
			stack.push(parentEntry{refFromAddress(newAddr), notFound})
			stack.push(parentEntry{heapRef, uint64(idx)})
			return heapRef, false, nil

		default:
			newAddr, err := writeLeaf(tx, m.codec, key, value)
			if err != nil {
				return NullRef, false, err
			}
			heapRef, heapNode := m.makeLinearWritable(ref, roNode)
			*heapNode = *allocateFromLinear(heapNode, newAddr)
			stack.push(parentEntry{refFromAddress(newAddr), notFound})
			stack.push(parentEntry{heapRef, uint64(len(heapNode.Leaves) - 1)})
			return heapRef, true, nil
		}
	}
}

// readLinear returns a read-only view of the LinearNode ref refers to,
// loading it from the store if necessary without copying to the heap.
func (m *HamtMap) readLinear(db Database, ref NodeRef) (*LinearNode, error) {
	if ref.IsHeap() {
		return m.linearNodes.get(ref.linearHandleOf()), nil
	}
	return loadLinearNode(db, ref.Address())
}

func (m *HamtMap) findInLinear(db Database, node *LinearNode, key []byte) (int, Address, bool, error) {
	for i, addr := range node.Leaves {
		k, _, err := readLeaf(db, m.codec, addr)
		if err != nil {
			return 0, NullAddress, false, err
		}
		if m.equal(k, key) {
			return i, addr, true, nil
		}
	}
	return 0, NullAddress, false, nil
}

// makeLinearWritable is LinearNode's analogue of makeWritable: returns a
// heap-owned, mutable copy of ref's node, copying from the store only if
// ref was not already heap-resident.
func (m *HamtMap) makeLinearWritable(ref NodeRef, roNode *LinearNode) (NodeRef, *LinearNode) {
	if ref.IsHeap() {
		return ref, roNode
	}
	leaves := make([]Address, len(roNode.Leaves))
	copy(leaves, roNode.Leaves)
	handle := m.linearNodes.push(LinearNode{Leaves: leaves})
	return refFromHeapLinear(handle), m.linearNodes.get(handle)
}

// splitLeaf disambiguates oldAddr (whose hash is oldHash) from a brand new
// (key, value) pair (whose hash is newHash) by building the minimal chain of
// InternalNodes - or, once hash bits are exhausted, a LinearNode - needed to
// tell them apart, starting at shift.
//
// Ordering within a freshly created two-element LinearNode is not governed
// by hash bits (there are none left). The code below compares oldHash and
// newHash, but by this depth the two keys have matched on every hash bit,
// so the hashes are equal and the pair is always stored as (existing, new).
func (m *HamtMap) splitLeaf(tx Transaction, oldAddr Address, oldHash hashType, newKey, newValue []byte, newHash hashType, shift uint, stack *parentStack) (NodeRef, error) {
	if !depthIsInternalNode(shift) {
		newAddr, err := writeLeaf(tx, m.codec, newKey, newValue)
		if err != nil {
			return NullRef, err
		}

		var leaves []Address
		var newPos int
		if newHash > oldHash {
			leaves = []Address{newAddr, oldAddr}
			newPos = 0
		} else {
			leaves = []Address{oldAddr, newAddr}
			newPos = 1
		}
		handle := m.linearNodes.push(LinearNode{Leaves: leaves})
		ref := refFromHeapLinear(handle)
		stack.push(parentEntry{refFromAddress(newAddr), notFound})
		stack.push(parentEntry{ref, uint64(newPos)})
		return ref, nil
	}

	posOld := bitPosition(oldHash, shift)
	posNew := bitPosition(newHash, shift)

	idx := m.arena.push(newHeapInternalNode())
	node := m.arena.get(idx)
	ref := refFromHeapInternal(idx)

	if posOld == posNew {
		childRef, err := m.splitLeaf(tx, oldAddr, oldHash, newKey, newValue, newHash, shift+hashIndexBits, stack)
		if err != nil {
			return NullRef, err
		}
		node.insertChild(posOld, childRef)
		stack.push(parentEntry{ref, posNew})
		return ref, nil
	}

	newAddr, err := writeLeaf(tx, m.codec, newKey, newValue)
	if err != nil {
		return NullRef, err
	}
	node.insertChild(posOld, refFromAddress(oldAddr))
	node.insertChild(posNew, refFromAddress(newAddr))

	stack.push(parentEntry{refFromAddress(newAddr), notFound})
	stack.push(parentEntry{ref, posNew})
	return ref, nil
}

// Find looks up key and returns its value.
func (m *HamtMap) Find(db Database, key []byte) ([]byte, bool, error) {
	hash := m.hash(key)
	return m.findAt(db, m.root, 0, hash, key)
}

// Contains reports whether key is present. It calls Find, so the leaf's
// value is decoded and then discarded.
func (m *HamtMap) Contains(db Database, key []byte) (bool, error) {
	_, ok, err := m.Find(db, key)
	return ok, err
}

func (m *HamtMap) findAt(db Database, ref NodeRef, shift uint, hash hashType, key []byte) ([]byte, bool, error) {
	switch {
	case ref.IsEmpty():
		return nil, false, nil

	case ref.IsLeaf():
		k, v, err := readLeaf(db, m.codec, ref.Address())
		if err != nil {
			return nil, false, err
		}
		if m.equal(k, key) {
			return v, true, nil
		}
		return nil, false, nil

	case ref.IsInternal() && depthIsInternalNode(shift):
		node, err := m.resolveInternal(db, ref)
		if err != nil {
			return nil, false, err
		}
		pos := bitPosition(hash, shift)
		child, found := node.lookup(pos)
		if !found {
			return nil, false, nil
		}
		return m.findAt(db, child, shift+hashIndexBits, hash, key)

	default:
		node, err := m.readLinear(db, ref)
		if err != nil {
			return nil, false, err
		}
		_, addr, found, err := m.findInLinear(db, node, key)
		if err != nil || !found {
			return nil, false, err
		}
		_, v, err := readLeaf(db, m.codec, addr)
		return v, true, err
	}
}

func (m *HamtMap) resolveInternal(db Database, ref NodeRef) (*InternalNode, error) {
	if ref.IsHeap() {
		return m.arena.get(ref.arenaIndexOf()), nil
	}
	return loadInternalNode(db, ref.Address())
}

// Flush serializes every heap-resident node reachable from the root into tx,
// writes a fresh HeaderBlock, and advances this map's revision to
// generation. An empty map writes no HeaderBlock at all (spec.md 4.F) and
// returns NullAddress.
func (m *HamtMap) Flush(tx Transaction, generation uint64) (Address, error) {
	if tx.CurrentRevision() != m.revision {
		return NullAddress, newError(IndexNotLatestRevision, "transaction is not building on this map's revision")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root.IsEmpty() {
		m.revision = generation
		return NullAddress, nil
	}

	finalRoot := m.root
	if m.root.IsHeap() {
		node := m.arena.get(m.root.arenaIndexOf())
		addr, err := flushInternalNode(tx, m.arena, m.linearNodes, node, 0)
		if err != nil {
			return NullAddress, err
		}
		finalRoot = refFromBranchAddress(addr)
	}

	headerAddr, err := flushHeaderBlock(tx, &HeaderBlock{Size: m.size, Root: finalRoot})
	if err != nil {
		return NullAddress, err
	}

	m.root = finalRoot
	m.arena.clear()
	m.linearNodes.clear()
	m.revision = generation
	return headerAddr, nil
}
