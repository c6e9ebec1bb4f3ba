package hamt

import (
	"encoding/binary"
	"math/bits"
)

func putUint64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }
func getUint64(buf []byte) uint64    { return binary.LittleEndian.Uint64(buf) }

// internalNodeSizeBytes returns the on-disk size of an internal node with
// the given bitmap: 16 (signature+bitmap) + 8 per child (spec.md 6.1).
func internalNodeSizeBytes(bitmap uint64) int {
	return 16 + 8*bits.OnesCount64(bitmap)
}

// encodeInternalNode writes the fixed signature, bitmap, and the supplied
// (already store-address-tagged) children into a freshly allocated buffer.
func encodeInternalNode(bitmap uint64, children []NodeRef) []byte {
	buf := make([]byte, internalNodeSizeBytes(bitmap))
	copy(buf[0:8], internalSignature[:])
	putUint64(buf[8:16], bitmap)
	for i, c := range children {
		putUint64(buf[16+8*i:24+8*i], uint64(c))
	}
	return buf
}

// decodeInternalNode parses and validates an internal node record. Per
// spec.md 4.D "Validation on load": reject a zero bitmap or bad signature,
// then reject any child that is heap-resident or whose store address is not
// strictly less than selfAddr (store addresses increase monotonically with
// append-only writes, so a child must have been written before its parent).
func decodeInternalNode(buf []byte, selfAddr Address) (*InternalNode, error) {
	if len(buf) < 16 {
		return nil, newError(IndexCorrupt, "internal node record truncated")
	}
	if string(buf[0:8]) != string(internalSignature[:]) {
		return nil, newError(IndexCorrupt, "internal node signature mismatch")
	}
	bitmap := getUint64(buf[8:16])
	if bitmap == 0 {
		return nil, newError(IndexCorrupt, "internal node has empty bitmap")
	}

	n := bits.OnesCount64(bitmap)
	if len(buf) < 16+8*n {
		return nil, newError(IndexCorrupt, "internal node children truncated")
	}

	children := make([]NodeRef, n)
	for i := 0; i < n; i++ {
		c := NodeRef(getUint64(buf[16+8*i : 24+8*i]))
		if c.IsHeap() {
			return nil, newError(IndexCorrupt, "internal node child is a heap reference")
		}
		if c.IsAddress() && c.Address() >= selfAddr {
			return nil, newError(IndexCorrupt, "internal node child address is not strictly less than parent")
		}
		children[i] = c
	}

	return &InternalNode{Bitmap: bitmap, Children: children}, nil
}

// linearNodeSizeBytes returns the on-disk size of a linear node with the
// given element count: 16 (signature+size) + 8 per address (spec.md 6.1).
func linearNodeSizeBytes(size int) int { return 16 + 8*size }

func encodeLinearNode(leaves []Address) []byte {
	buf := make([]byte, linearNodeSizeBytes(len(leaves)))
	copy(buf[0:8], linearSignature[:])
	putUint64(buf[8:16], uint64(len(leaves)))
	for i, a := range leaves {
		putUint64(buf[16+8*i:24+8*i], uint64(a))
	}
	return buf
}

func decodeLinearNode(buf []byte) (*LinearNode, error) {
	if len(buf) < 16 {
		return nil, newError(IndexCorrupt, "linear node record truncated")
	}
	if string(buf[0:8]) != string(linearSignature[:]) {
		return nil, newError(IndexCorrupt, "linear node signature mismatch")
	}
	size := getUint64(buf[8:16])
	if uint64(len(buf)) < uint64(16+8*size) {
		return nil, newError(IndexCorrupt, "linear node leaves truncated")
	}

	leaves := make([]Address, size)
	for i := uint64(0); i < size; i++ {
		leaves[i] = Address(getUint64(buf[16+8*i : 24+8*i]))
	}
	return &LinearNode{Leaves: leaves}, nil
}

func encodeHeaderBlock(hb *HeaderBlock) []byte {
	buf := make([]byte, headerBlockSize)
	copy(buf[0:8], headerSignature[:])
	putUint64(buf[8:16], hb.Size)
	putUint64(buf[16:24], uint64(hb.Root))
	return buf
}

func decodeHeaderBlock(buf []byte) (*HeaderBlock, error) {
	if len(buf) != headerBlockSize {
		return nil, newError(IndexCorrupt, "header block is not 24 bytes")
	}
	if string(buf[0:8]) != string(headerSignature[:]) {
		return nil, newError(IndexCorrupt, "header block signature mismatch")
	}
	root := NodeRef(getUint64(buf[16:24]))
	if root.IsHeap() {
		return nil, newError(IndexCorrupt, "header block root is a heap reference")
	}
	return &HeaderBlock{
		Size: getUint64(buf[8:16]),
		Root: root,
	}, nil
}

// LeafCodec serializes and deserializes the user's (key, value) pair. The
// HAMT writes nothing of its own beyond what the codec produces beyond a
// self-describing record length, needed because a leaf is read with no
// a-priori knowledge of its size (spec.md 6.1 "Leaf").
type LeafCodec interface {
	// Encode must prefix the returned record with its own total length as
	// a little-endian uint32 (the length field itself included), so a leaf
	// can be read in two Getro calls: one for the length, one for the body.
	Encode(key, value []byte) []byte
	// Decode receives the record with the leading length field already
	// stripped.
	Decode(data []byte) (key, value []byte, err error)
}

// DefaultLeafCodec encodes a leaf as
// {recordLength uint32}{keyLength uint32}{key}{value}.
type DefaultLeafCodec struct{}

func (DefaultLeafCodec) Encode(key, value []byte) []byte {
	total := 8 + len(key) + len(value)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(key)))
	copy(buf[8:8+len(key)], key)
	copy(buf[8+len(key):], value)
	return buf
}

func (DefaultLeafCodec) Decode(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, newError(UserSerialize, "leaf record truncated")
	}
	keyLen := binary.LittleEndian.Uint32(data[0:4])
	if uint64(len(data)) < uint64(4)+uint64(keyLen) {
		return nil, nil, newError(UserSerialize, "leaf key truncated")
	}
	key := data[4 : 4+keyLen]
	value := data[4+keyLen:]
	return key, value, nil
}

// leafRecordLengthSize is the width of the length prefix Encode must emit.
const leafRecordLengthSize = 4

func readLeaf(db Database, codec LeafCodec, addr Address) (key, value []byte, err error) {
	lenBuf, err := db.Getro(addr, leafRecordLengthSize)
	if err != nil {
		return nil, nil, err
	}
	recordLen := getUint32(lenBuf)
	full, err := db.Getro(addr, uint64(recordLen))
	if err != nil {
		return nil, nil, err
	}
	return codec.Decode(full[leafRecordLengthSize:])
}

func writeLeaf(tx Transaction, codec LeafCodec, key, value []byte) (Address, error) {
	encoded := codec.Encode(key, value)
	buf, addr, err := tx.AllocRW(uint64(len(encoded)), 4)
	if err != nil {
		return NullAddress, wrapError(IOAllocation, err)
	}
	copy(buf, encoded)
	return addr, nil
}

func getUint32(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }
