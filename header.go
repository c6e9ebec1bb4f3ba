package hamt

// loadHeaderBlock reads and validates the fixed-layout header record at addr.
func loadHeaderBlock(db Database, addr Address) (*HeaderBlock, error) {
	buf, err := db.Getro(addr, headerBlockSize)
	if err != nil {
		return nil, err
	}
	return decodeHeaderBlock(buf)
}

// flushHeaderBlock writes a new header record. A header is written only for
// a non-empty map: an empty map persists no header at all (spec.md 4.F).
func flushHeaderBlock(tx Transaction, hb *HeaderBlock) (Address, error) {
	buf := encodeHeaderBlock(hb)
	dst, addr, err := tx.AllocRW(uint64(len(buf)), 8)
	if err != nil {
		return NullAddress, wrapError(IOAllocation, err)
	}
	copy(dst, buf)
	return addr, nil
}
