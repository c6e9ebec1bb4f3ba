package hamt

// Database is the read-only view a HamtMap is opened against: random access
// to any byte range ever committed, plus the revision number that range is
// current as of. Implementations must serve Getro without blocking writers
// (spec.md 5 "Readers never block").
type Database interface {
	// Getro returns a read-only view of nbytes starting at addr. The slice
	// must remain valid for the lifetime of the snapshot the caller opened.
	Getro(addr Address, nbytes uint64) ([]byte, error)
	// CurrentRevision returns the generation number of the store's tip.
	CurrentRevision() uint64
}

// Transaction is the single writable generation a HamtMap mutates into. Only
// one Transaction may be open for writing at a time per store (spec.md 5
// "single-threaded per writer").
type Transaction interface {
	Database

	// AllocRW reserves nbytes (rounded up for align) of fresh, writable
	// store space and returns a mutable view plus the address it was placed
	// at. Allocation is append-only: every call returns an address greater
	// than any address returned previously in this transaction's lifetime,
	// which is what lets node validation assert a child's address is always
	// less than its parent's.
	AllocRW(nbytes uint64, align uint64) ([]byte, Address, error)

	// Generation is the revision number this transaction will become once
	// committed.
	Generation() uint64
}
