package hamt

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreAllocAndReadBack(t *testing.T) {
	store := openTestStore(t, "hamt_store_alloc_test")
	tx := store.Begin()
	defer tx.Rollback()

	buf, addr, err := tx.AllocRW(8, 8)
	if err != nil {
		t.Fatalf("AllocRW failed: %v", err)
	}
	copy(buf, []byte("abcdefgh"))

	read, err := store.Getro(addr, 8)
	if err != nil {
		t.Fatalf("Getro failed: %v", err)
	}
	if !bytes.Equal(read, []byte("abcdefgh")) {
		t.Fatalf("expected 'abcdefgh', got %q", read)
	}
}

func TestStoreAllocIsAppendOnlyAndAligned(t *testing.T) {
	store := openTestStore(t, "hamt_store_append_test")
	tx := store.Begin()

	_, addr1, err := tx.AllocRW(3, 4)
	if err != nil {
		t.Fatalf("AllocRW failed: %v", err)
	}
	_, addr2, err := tx.AllocRW(5, 4)
	if err != nil {
		t.Fatalf("AllocRW failed: %v", err)
	}

	if addr2 <= addr1 {
		t.Fatalf("expected strictly increasing addresses, got %d then %d", addr1, addr2)
	}
	if uint64(addr2)%4 != 0 {
		t.Fatalf("expected 4-byte aligned address, got %d", addr2)
	}
}

func TestStoreGrowsPastInitialSize(t *testing.T) {
	path := filepath.Join(os.TempDir(), "hamt_store_grow_test")
	os.Remove(path)

	store, err := OpenStore(StoreOpts{Path: path, InitialSize: int64(os.Getpagesize())})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.Remove(path)
	})

	tx := store.Begin()
	defer tx.Rollback()
	large := uint64(os.Getpagesize()) * 4
	buf, _, err := tx.AllocRW(large, 8)
	if err != nil {
		t.Fatalf("AllocRW of %d bytes failed: %v", large, err)
	}
	if uint64(len(buf)) != large {
		t.Fatalf("expected buffer of %d bytes, got %d", large, len(buf))
	}
}

func TestStoreReopenRecoversMetadata(t *testing.T) {
	path := filepath.Join(os.TempDir(), "hamt_store_reopen_test")
	os.Remove(path)

	store, err := OpenStore(StoreOpts{Path: path})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	tx := store.Begin()
	_, addr, err := tx.AllocRW(16, 8)
	if err != nil {
		t.Fatalf("AllocRW failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenStore(StoreOpts{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() {
		reopened.Close()
		os.Remove(path)
	})

	if reopened.CurrentRevision() != 1 {
		t.Fatalf("expected recovered revision 1, got %d", reopened.CurrentRevision())
	}

	tx2 := reopened.Begin()
	defer tx2.Rollback()
	_, addr2, err := tx2.AllocRW(8, 8)
	if err != nil {
		t.Fatalf("AllocRW after reopen failed: %v", err)
	}
	if addr2 <= addr {
		t.Fatalf("expected allocation after reopen to continue past prior offset, got %d after %d", addr2, addr)
	}
}
