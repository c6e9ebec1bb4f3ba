package hamt

import (
	"log"
	"os"
	"sync"
	"sync/atomic"

	mmap "github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

// StoreOpts configures OpenStore.
type StoreOpts struct {
	// Path is the backing file. It is created if it does not exist.
	Path string
	// InitialSize is the file size allocated on first creation. Defaults to
	// 64 pages if zero.
	InitialSize int64
	// CacheSize is the number of decoded node records kept in the read
	// cache. Defaults to 4096 if zero.
	CacheSize int
}

const (
	storeMetaSize        = 16 // {generation uint64, nextOffset uint64}
	defaultResizeCeiling = 1 << 30
)

// storeCacheKey identifies one Getro read by address and length: the same
// address is occasionally read at two different lengths (a node's fixed
// header first, then its full record), so length is part of the key.
type storeCacheKey struct {
	addr Address
	n    uint64
}

// Store is a single-file, memory-mapped Database/Transaction implementation.
// It keeps the teacher's mmap/resize/file-growth machinery (grounded on
// Mari.go, IOUtils.go and Meta.go) but replaces the teacher's lock-free,
// optimistic-CAS multi-writer design with the single-writer-per-transaction
// model spec.md 5 requires: Begin acquires writeMu for the whole transaction
// instead of retrying a compare-and-swap.
type Store struct {
	file *os.File
	data atomic.Value // mmap.MMap

	rwResizeLock sync.RWMutex
	writeMu      sync.Mutex

	generation uint64
	nextOffset uint64

	cache *lru.Cache[storeCacheKey, []byte]
}

// OpenStore memory-maps path, creating and initializing it if it does not
// exist.
func OpenStore(opts StoreOpts) (*Store, error) {
	if opts.InitialSize == 0 {
		opts.InitialSize = int64(os.Getpagesize()) * 64
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 4096
	}

	file, openErr := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0600)
	if openErr != nil {
		return nil, openErr
	}

	cache, cacheErr := lru.New[storeCacheKey, []byte](opts.CacheSize)
	if cacheErr != nil {
		return nil, cacheErr
	}

	s := &Store{file: file, cache: cache}

	stat, statErr := file.Stat()
	if statErr != nil {
		return nil, statErr
	}

	switch {
	case stat.Size() == 0:
		if truncErr := file.Truncate(opts.InitialSize); truncErr != nil {
			return nil, truncErr
		}
		if mapErr := s.mMap(); mapErr != nil {
			return nil, mapErr
		}
		s.nextOffset = storeMetaSize
		if writeErr := s.writeMeta(); writeErr != nil {
			return nil, writeErr
		}

	default:
		if mapErr := s.mMap(); mapErr != nil {
			return nil, mapErr
		}
		if readErr := s.readMeta(); readErr != nil {
			return nil, readErr
		}
	}

	return s, nil
}

// Close unmaps and closes the backing file.
func (s *Store) Close() error {
	if flushErr := s.currentMMap().Flush(); flushErr != nil {
		return flushErr
	}
	if unmapErr := s.munmap(); unmapErr != nil {
		return unmapErr
	}
	return s.file.Close()
}

func (s *Store) currentMMap() mmap.MMap {
	m, _ := s.data.Load().(mmap.MMap)
	return m
}

// mMap maps the file into memory, grounded on the teacher's mMap helper.
func (s *Store) mMap() error {
	m, mapErr := mmap.Map(s.file, mmap.RDWR, 0)
	if mapErr != nil {
		return mapErr
	}
	s.data.Store(m)
	return nil
}

func (s *Store) munmap() error {
	m := s.currentMMap()
	if m == nil {
		return nil
	}
	if unmapErr := m.Unmap(); unmapErr != nil {
		return unmapErr
	}
	s.data.Store(mmap.MMap(nil))
	return nil
}

func (s *Store) readMeta() error {
	m := s.currentMMap()
	if len(m) < storeMetaSize {
		return newError(IndexCorrupt, "store file too small for metadata")
	}
	s.generation = getUint64(m[0:8])
	s.nextOffset = getUint64(m[8:16])
	return nil
}

func (s *Store) writeMeta() error {
	m := s.currentMMap()
	putUint64(m[0:8], s.generation)
	putUint64(m[8:16], s.nextOffset)
	return nil
}

// resize grows the backing file to hold at least minSize bytes, doubling
// the current size (or a fixed ceiling step, once past defaultResizeCeiling)
// per the teacher's resizeMmap policy.
func (s *Store) resize(minSize uint64) error {
	s.rwResizeLock.Lock()
	defer s.rwResizeLock.Unlock()

	current := int64(len(s.currentMMap()))
	next := current
	for uint64(next) < minSize {
		switch {
		case next == 0:
			next = int64(os.Getpagesize()) * 64
		case next >= defaultResizeCeiling:
			next += defaultResizeCeiling
		default:
			next *= 2
		}
	}

	if flushErr := s.currentMMap().Flush(); flushErr != nil {
		log.Printf("hamt: flush before resize failed: %v", flushErr)
		return flushErr
	}
	if unmapErr := s.munmap(); unmapErr != nil {
		log.Printf("hamt: unmap before resize failed: %v", unmapErr)
		return unmapErr
	}
	if truncErr := s.file.Truncate(next); truncErr != nil {
		log.Printf("hamt: truncate to %d bytes failed: %v", next, truncErr)
		return truncErr
	}
	return s.mMap()
}

// Getro implements Database.
func (s *Store) Getro(addr Address, nbytes uint64) ([]byte, error) {
	key := storeCacheKey{addr, nbytes}
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	s.rwResizeLock.RLock()
	defer s.rwResizeLock.RUnlock()

	m := s.currentMMap()
	end := uint64(addr) + nbytes
	if end > uint64(len(m)) {
		return nil, newError(IndexCorrupt, "read past end of store")
	}

	buf := make([]byte, nbytes)
	copy(buf, m[addr:end])
	s.cache.Add(key, buf)
	return buf, nil
}

// CurrentRevision implements Database.
func (s *Store) CurrentRevision() uint64 { return atomic.LoadUint64(&s.generation) }

// Tx is the single writable transaction a Store hands out at a time.
type Tx struct {
	store *Store
}

// Begin acquires the store's single writer lock for the lifetime of the
// returned Tx. A second call from a different goroutine blocks until the
// first transaction commits or rolls back (spec.md 5 "single-threaded per
// writer").
func (s *Store) Begin() *Tx {
	s.writeMu.Lock()
	return &Tx{store: s}
}

// Commit bumps the store's generation and releases the write lock.
func (tx *Tx) Commit() error {
	defer tx.store.writeMu.Unlock()

	tx.store.generation++
	if err := tx.store.writeMeta(); err != nil {
		return err
	}
	return tx.store.file.Sync()
}

// Rollback discards any writes the transaction made and releases the write
// lock. Because AllocRW only ever appends, a rollback simply abandons the
// advanced nextOffset without persisting the new generation or metadata.
func (tx *Tx) Rollback() error {
	tx.store.writeMu.Unlock()
	return nil
}

// Getro implements Database by delegating to the underlying store.
func (tx *Tx) Getro(addr Address, nbytes uint64) ([]byte, error) {
	return tx.store.Getro(addr, nbytes)
}

// CurrentRevision returns the store's committed tip, i.e. the revision this
// transaction was opened against.
func (tx *Tx) CurrentRevision() uint64 { return tx.store.CurrentRevision() }

// Generation returns the revision number this transaction will become once
// committed.
func (tx *Tx) Generation() uint64 { return tx.store.CurrentRevision() + 1 }

func alignUp(offset, align uint64) uint64 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// AllocRW implements Transaction. Allocation is strictly append-only: the
// address returned is always greater than any address returned previously
// by this store, which node.go's load-time validation relies on.
func (tx *Tx) AllocRW(nbytes uint64, align uint64) ([]byte, Address, error) {
	store := tx.store

	aligned := alignUp(store.nextOffset, align)
	end := aligned + nbytes

	if end > uint64(len(store.currentMMap())) {
		if resizeErr := store.resize(end); resizeErr != nil {
			return nil, NullAddress, wrapError(IOAllocation, resizeErr)
		}
	}

	m := store.currentMMap()
	buf := m[aligned:end]
	store.nextOffset = end
	return buf, Address(aligned), nil
}
