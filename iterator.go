package hamt

import "math/bits"

// Iterator walks a HamtMap's key/value pairs in trie (insertion-independent,
// hash-bucket) order. It is lazily dereferencing: descending to a node reads
// it on demand and caches nothing beyond the current path, so a long-lived
// iterator holds no more memory than its depth requires (spec.md 4.C).
//
// An Iterator is invalidated by any write against the same HamtMap value;
// using one afterwards is a programmer error, not a recoverable one
// (spec.md 7).
type Iterator struct {
	db    Database
	owner *HamtMap
	stack parentStack
	atEnd bool
}

// Begin returns an iterator positioned at the first element in trie order,
// or an iterator equal to End if the map is empty.
func (m *HamtMap) Begin(db Database) (*Iterator, error) {
	it := &Iterator{db: db, owner: m}
	if m.root.IsEmpty() {
		it.atEnd = true
		return it, nil
	}
	if err := it.descendLeftmost(m.root, 0); err != nil {
		return nil, err
	}
	return it, nil
}

// End returns the sentinel "one past the last element" iterator.
func (m *HamtMap) End(db Database) *Iterator {
	return &Iterator{db: db, owner: m, atEnd: true}
}

// descendLeftmost pushes the path from ref down to its leftmost leaf.
func (it *Iterator) descendLeftmost(ref NodeRef, shift uint) error {
	for {
		switch {
		case ref.IsLeaf():
			it.stack.push(parentEntry{ref, notFound})
			return nil

		case depthIsInternalNode(shift):
			node, err := it.owner.resolveInternal(it.db, ref)
			if err != nil {
				return err
			}
			pos := uint64(bits.TrailingZeros64(node.Bitmap))
			it.stack.push(parentEntry{ref, pos})
			ref = node.Children[0]
			shift += hashIndexBits

		default:
			node, err := it.owner.readLinear(it.db, ref)
			if err != nil {
				return err
			}
			it.stack.push(parentEntry{ref, 0})
			it.stack.push(parentEntry{refFromAddress(node.Leaves[0]), notFound})
			return nil
		}
	}
}

// nextSetBit returns the lowest bit set in bitmap at position >= from.
func nextSetBit(bitmap uint64, from uint64) (uint64, bool) {
	if from >= 64 {
		return 0, false
	}
	masked := bitmap &^ (uint64(1)<<from - 1)
	if masked == 0 {
		return 0, false
	}
	return uint64(bits.TrailingZeros64(masked)), true
}

// Next advances the iterator. Calling Next on an iterator equal to End is a
// programmer error.
func (it *Iterator) Next() error {
	if it.atEnd {
		programmerError("Next called on an iterator already at end")
	}
	if it.stack.empty() {
		programmerError("Next called on an uninitialized iterator")
	}

	it.stack.pop() // discard the terminal leaf entry

	for {
		if it.stack.empty() {
			it.atEnd = true
			return nil
		}

		depth := it.stack.size() - 1
		shift := uint(depth) * hashIndexBits
		entry := it.stack.top()

		if depthIsInternalNode(shift) {
			node, err := it.owner.resolveInternal(it.db, entry.node)
			if err != nil {
				return err
			}
			nextPos, ok := nextSetBit(node.Bitmap, entry.position+1)
			if !ok {
				it.stack.pop()
				continue
			}
			idx := slotIndex(node.Bitmap, nextPos)
			it.stack.setTop(parentEntry{entry.node, nextPos})
			return it.descendLeftmost(node.Children[idx], shift+hashIndexBits)
		}

		node, err := it.owner.readLinear(it.db, entry.node)
		if err != nil {
			return err
		}
		nextIdx := entry.position + 1
		if nextIdx >= uint64(len(node.Leaves)) {
			it.stack.pop()
			continue
		}
		it.stack.setTop(parentEntry{entry.node, nextIdx})
		it.stack.push(parentEntry{refFromAddress(node.Leaves[nextIdx]), notFound})
		return nil
	}
}

// Done reports whether the iterator has run past the last element.
func (it *Iterator) Done() bool { return it.atEnd }

// Get returns the key/value pair the iterator currently points at. Calling
// Get on an iterator equal to End is a programmer error.
func (it *Iterator) Get() (key, value []byte, err error) {
	if it.atEnd || it.stack.empty() {
		programmerError("Get called on an out-of-range iterator")
	}
	top := it.stack.top()
	if top.position != notFound {
		programmerError("Get called while not positioned on a leaf")
	}
	return readLeaf(it.db, it.owner.codec, top.node.Address())
}

// Equal reports whether it and other describe the same position in the same
// map: iterators from two different HamtMap instances never compare equal,
// even over identical data, matching the original's comparison of the owning
// index pointer alongside the traversal path (spec.md 9). Two End iterators
// over the same map are equal regardless of path; two non-end iterators over
// the same map are equal iff their traversal stacks match exactly (same
// nodes, same positions).
func (it *Iterator) Equal(other *Iterator) bool {
	if it.owner != other.owner {
		return false
	}
	if it.atEnd != other.atEnd {
		return false
	}
	if it.atEnd {
		return true
	}
	return it.stack.equal(&other.stack)
}
