package hamt

import "github.com/cespare/xxhash/v2"

// HashFunc produces the 64-bit hash of a serialized key. It must be pure and
// consistent across revisions: the hash seed is not persisted, so reopening
// an index with a different hash function is undefined (spec.md 9).
type HashFunc func(key []byte) uint64

// EqualFunc compares two serialized keys for equality.
type EqualFunc func(a, b []byte) bool

// DefaultHash hashes the raw key bytes with xxhash, a fast, well-distributed
// 64-bit hash well suited to the hash_type = uint64 trie this package
// implements.
func DefaultHash(key []byte) uint64 { return xxhash.Sum64(key) }

// DefaultEqual compares key bytes for exact equality.
func DefaultEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
