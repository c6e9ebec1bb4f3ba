package hamt

import "testing"

func TestNodeRef(t *testing.T) {
	t.Run("Test null ref is empty", func(t *testing.T) {
		if !NullRef.IsEmpty() {
			t.Fatalf("expected NullRef to be empty")
		}
		if !NullRef.IsLeaf() {
			t.Fatalf("expected NullRef to read as a leaf (internal bit clear)")
		}
	})

	t.Run("Test leaf address round trip", func(t *testing.T) {
		ref := refFromAddress(128)
		if !ref.IsLeaf() {
			t.Fatalf("expected leaf ref")
		}
		if !ref.IsAddress() {
			t.Fatalf("expected leaf ref to carry a store address")
		}
		if ref.Address() != 128 {
			t.Fatalf("expected address 128, got %d", ref.Address())
		}
	})

	t.Run("Test branch address round trip", func(t *testing.T) {
		ref := refFromBranchAddress(256)
		if !ref.IsInternal() {
			t.Fatalf("expected internal-or-linear ref")
		}
		if ref.IsHeap() {
			t.Fatalf("expected store-resident ref, not heap")
		}
		if ref.Address() != 256 {
			t.Fatalf("expected address 256, got %d", ref.Address())
		}
	})

	t.Run("Test heap internal round trip", func(t *testing.T) {
		ref := refFromHeapInternal(arenaIndex(7))
		if !ref.IsHeap() {
			t.Fatalf("expected heap ref")
		}
		if !ref.IsInternal() {
			t.Fatalf("expected internal ref")
		}
		if ref.arenaIndexOf() != arenaIndex(7) {
			t.Fatalf("expected arena index 7, got %d", ref.arenaIndexOf())
		}
	})

	t.Run("Test misaligned address panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic for misaligned leaf address")
			}
		}()
		refFromAddress(3)
	})
}

func TestInternalNodePopCount(t *testing.T) {
	n := InternalNode{Bitmap: 0b1011}
	if n.popCount() != 3 {
		t.Fatalf("expected popCount 3, got %d", n.popCount())
	}
}
