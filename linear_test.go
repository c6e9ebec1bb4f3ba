package hamt

import "testing"

func TestLinearHeap(t *testing.T) {
	t.Run("Test push then get", func(t *testing.T) {
		h := newLinearHeap()
		idx := h.push(LinearNode{Leaves: []Address{8, 16}})
		node := h.get(idx)
		if len(node.Leaves) != 2 || node.Leaves[0] != 8 {
			t.Fatalf("unexpected node: %+v", node)
		}
	})

	t.Run("Test free recycles slot", func(t *testing.T) {
		h := newLinearHeap()
		first := h.push(LinearNode{Leaves: []Address{8}})
		h.free(first)
		second := h.push(LinearNode{Leaves: []Address{16}})
		if second != first {
			t.Fatalf("expected freed slot %d to be recycled, got new slot %d", first, second)
		}
	})
}

func TestLinearNodeEncodeDecode(t *testing.T) {
	leaves := []Address{8, 16, 24}
	buf := encodeLinearNode(leaves)

	decoded, err := decodeLinearNode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded.Leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(decoded.Leaves))
	}
	for i, a := range leaves {
		if decoded.Leaves[i] != a {
			t.Fatalf("leaf %d: expected %d, got %d", i, a, decoded.Leaves[i])
		}
	}
}

func TestLookupLinear(t *testing.T) {
	db := newMemDatabase()
	codec := DefaultLeafCodec{}

	addr1, _ := writeLeaf(db, codec, []byte("alpha"), []byte("1"))
	addr2, _ := writeLeaf(db, codec, []byte("beta"), []byte("2"))

	node := &LinearNode{Leaves: []Address{addr1, addr2}}

	addr, found, err := lookupLinear(db, codec, DefaultEqual, node, []byte("beta"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || addr != addr2 {
		t.Fatalf("expected to find beta at %v, got found=%v addr=%v", addr2, found, addr)
	}

	_, found, err = lookupLinear(db, codec, DefaultEqual, node, []byte("gamma"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected gamma not to be found")
	}
}

func TestAllocateFromLinear(t *testing.T) {
	existing := &LinearNode{Leaves: []Address{8, 16}}
	grown := allocateFromLinear(existing, 24)

	if len(grown.Leaves) != 3 {
		t.Fatalf("expected 3 leaves after growth, got %d", len(grown.Leaves))
	}
	if len(existing.Leaves) != 2 {
		t.Fatalf("expected original node untouched, got %d leaves", len(existing.Leaves))
	}
}
