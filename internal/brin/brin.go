// Package brin implements a Block Range Index: an in-memory, lazily-loaded
// chain of key-sorted blocks backed by an IndexDataStorage, supporting
// concurrent point lookups, range scans, insert-triggered splits, and
// checkpoint/recovery.
package brin

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/brinstore/brinstore/internal/brinerr"
	"github.com/brinstore/brinstore/internal/datastore"
	"github.com/samber/lo"
)

// Entry is one (key, value) pair held by a block.
type Entry = datastore.Entry

// BlockID identifies a Block within a single BRIN instance. IDs are never
// reused within an instance's lifetime; blocks reference each other by ID
// rather than by pointer so that split can splice the chain without
// invalidating references other goroutines may be holding.
type BlockID uint64

// noBlock is the sentinel "no next block" value; block IDs start at 1.
const noBlock BlockID = 0

// BRIN is a Block Range Index over opaque ordered byte-string keys.
type BRIN struct {
	maxBlockSize int
	storage      datastore.IndexDataStorage

	blocksMu sync.RWMutex
	blocks   map[BlockID]*Block
	order    []BlockID // sorted ascending by minKey, nil (head) first
	headID   BlockID
	idSeq    atomic.Uint64

	checkpointMu  sync.Mutex
	checkpointSeq atomic.Uint64
	pinned        map[uint64]int
}

// Block is one contiguous range of key space. A Block's minKey is the
// smallest key it may hold; the head block's minKey is nil, meaning it
// absorbs every key smaller than any other block's minKey.
type Block struct {
	mu sync.Mutex

	id     BlockID
	minKey []byte // nil for the head block
	next   BlockID

	pageID datastore.PageID // datastore.InvalidPageID if never checkpointed
	loaded bool
	dirty  bool
	size   int // number of entries; valid even when unloaded

	entries []Entry // valid iff loaded

	pinCount  int32
	loadingCh chan struct{}
	loadErr   error
}

// New creates an empty BRIN with a single head block.
func New(maxBlockSize int, storage datastore.IndexDataStorage) *BRIN {
	r := &BRIN{
		maxBlockSize: maxBlockSize,
		storage:      storage,
		blocks:       make(map[BlockID]*Block),
		pinned:       make(map[uint64]int),
	}
	head := &Block{id: BlockID(r.idSeq.Add(1)), minKey: nil, loaded: true, next: noBlock}
	r.blocks[head.id] = head
	r.order = []BlockID{head.id}
	r.headID = head.id
	return r
}

// compareMinKey orders minKeys where nil (the head's range start) sorts
// before every real key.
func compareMinKey(a, b []byte) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return bytes.Compare(a, b)
}

// floorIndex returns the index into r.order of the block whose range
// contains key: the greatest block with minKey <= key.
func (r *BRIN) floorIndex(key []byte) int {
	// order[0] always has minKey == nil, which compares <= everything, so
	// the search always finds at least index 0.
	i := sort.Search(len(r.order), func(i int) bool {
		return compareMinKey(r.minKeyAt(i), key) > 0
	})
	return i - 1
}

func (r *BRIN) minKeyAt(i int) []byte {
	return r.blocks[r.order[i]].minKey
}

func (r *BRIN) blockForKey(key []byte) *Block {
	r.blocksMu.RLock()
	defer r.blocksMu.RUnlock()
	idx := r.floorIndex(key)
	return r.blocks[r.order[idx]]
}

func (r *BRIN) getBlock(id BlockID) *Block {
	r.blocksMu.RLock()
	defer r.blocksMu.RUnlock()
	return r.blocks[id]
}

// ensureLoaded brings b.entries into memory, coordinating concurrent
// loaders of the same block so only one I/O happens (Unloaded -> Loading ->
// Loaded).
func (b *Block) ensureLoaded(storage datastore.IndexDataStorage) error {
	b.mu.Lock()
	if b.loaded {
		b.mu.Unlock()
		return nil
	}
	if b.pageID == datastore.InvalidPageID {
		// Never checkpointed and not loaded: a freshly split block with no
		// entries yet, or a logic error. Treat as empty rather than error.
		b.entries = nil
		b.loaded = true
		b.mu.Unlock()
		return nil
	}
	if ch := b.loadingCh; ch != nil {
		b.mu.Unlock()
		<-ch
		b.mu.Lock()
		err := b.loadErr
		b.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	b.loadingCh = ch
	b.pinCount++
	pageID := b.pageID
	b.mu.Unlock()

	entries, err := storage.LoadDataPage(pageID)

	b.mu.Lock()
	b.pinCount--
	if err == nil {
		b.entries = entries
		b.loaded = true
	}
	b.loadErr = err
	b.loadingCh = nil
	b.mu.Unlock()
	close(ch)
	return err
}

// lowerBound returns the first index i such that entries[i].Key >= key.
func lowerBound(entries []Entry, key []byte) int {
	return sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Key, key) >= 0
	})
}

// upperBound returns the first index i such that entries[i].Key > key.
func upperBound(entries []Entry, key []byte) int {
	return sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Key, key) > 0
	})
}

// Put inserts (key, value) as a new entry. Keys are not required to be
// unique: a key with several puts under it holds the full multiset of
// values until they are individually removed by Delete. The owning block
// is split if it grows past maxBlockSize.
func (r *BRIN) Put(key, value []byte) error {
	for {
		b := r.blockForKey(key)
		if err := b.ensureLoaded(r.storage); err != nil {
			return brinerr.Wrap(brinerr.StorageFailure, err, "brin: put")
		}

		b.mu.Lock()
		// Re-check this block still owns key: a concurrent split may have
		// moved the upper half out from under us between blockForKey and
		// the lock acquisition.
		if !r.blockStillOwnsLocked(b, key) {
			b.mu.Unlock()
			continue
		}
		idx := upperBound(b.entries, key)
		b.entries = append(b.entries, Entry{})
		copy(b.entries[idx+1:], b.entries[idx:])
		b.entries[idx] = Entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
		b.size = len(b.entries)
		b.dirty = true
		overflowed := b.size > r.maxBlockSize
		b.mu.Unlock()

		if overflowed {
			if err := r.split(b); err != nil {
				return brinerr.Wrap(brinerr.StorageFailure, err, "brin: split")
			}
		}
		return nil
	}
}

// blockStillOwnsLocked reports whether b is still (after any concurrent
// split) the floor block for key. Must be called with b.mu held.
func (r *BRIN) blockStillOwnsLocked(b *Block, key []byte) bool {
	r.blocksMu.RLock()
	defer r.blocksMu.RUnlock()
	idx := r.floorIndex(key)
	return r.order[idx] == b.id
}

// blocksForKey returns, in ascending key order, every block that might
// hold an entry equal to key. Ordinarily that is just the floor block, but
// a split can leave a transient duplicate minKey across adjacent blocks
// (spec.md §9's Open Question): if the key under a split lands exactly on
// the new block's minKey, the old (lower) block can still hold trailing
// entries equal to that same key. blocksForKey walks backward through the
// run of blocks whose minKey equals key, plus the one block immediately
// preceding that run (whose own minKey is strictly less, but which may
// still hold entries == key left behind by the split that created the
// run), which is exactly the set of blocks the point in question could
// have been routed to across any sequence of splits.
func (r *BRIN) blocksForKey(key []byte) []*Block {
	r.blocksMu.RLock()
	defer r.blocksMu.RUnlock()

	idx := r.floorIndex(key)
	ids := []BlockID{r.order[idx]}
	j := idx
	for j > 0 && compareMinKey(r.minKeyAt(j), key) == 0 {
		j--
		ids = append(ids, r.order[j])
	}
	blocks := make([]*Block, len(ids))
	for i, id := range ids {
		blocks[len(ids)-1-i] = r.blocks[id] // reverse into ascending order
	}
	return blocks
}

// Search returns every value currently stored under key, in insertion
// order within each contributing block.
func (r *BRIN) Search(key []byte) ([][]byte, error) {
	var values [][]byte
	for _, b := range r.blocksForKey(key) {
		if err := b.ensureLoaded(r.storage); err != nil {
			return nil, brinerr.Wrap(brinerr.StorageFailure, err, "brin: search")
		}
		b.mu.Lock()
		from := lowerBound(b.entries, key)
		to := upperBound(b.entries, key)
		for i := from; i < to; i++ {
			values = append(values, append([]byte(nil), b.entries[i].Value...))
		}
		b.mu.Unlock()
	}
	return values, nil
}

// Delete removes every entry under key and returns how many were removed.
func (r *BRIN) Delete(key []byte) (int, error) {
	removed := 0
	for _, b := range r.blocksForKey(key) {
		if err := b.ensureLoaded(r.storage); err != nil {
			return removed, brinerr.Wrap(brinerr.StorageFailure, err, "brin: delete")
		}
		b.mu.Lock()
		from := lowerBound(b.entries, key)
		to := upperBound(b.entries, key)
		if to > from {
			b.entries = append(b.entries[:from], b.entries[to:]...)
			b.size = len(b.entries)
			b.dirty = true
			removed += to - from
		}
		b.mu.Unlock()
	}
	return removed, nil
}

// RangeSearch visits every entry with start <= key <= end, in ascending key
// order, by walking the next chain starting from the earliest block that
// could hold an entry equal to start. A nil end means unbounded. visit
// returning false stops the scan early.
func (r *BRIN) RangeSearch(start, end []byte, visit func(Entry) bool) error {
	startBlocks := r.blocksForKey(start)
	b := startBlocks[0]
	for b != nil {
		if err := b.ensureLoaded(r.storage); err != nil {
			return brinerr.Wrap(brinerr.StorageFailure, err, "brin: rangeSearch")
		}
		b.mu.Lock()
		entries := append([]Entry(nil), b.entries...)
		next := b.next
		b.mu.Unlock()

		for _, e := range entries {
			if bytes.Compare(e.Key, start) < 0 {
				continue
			}
			if end != nil && bytes.Compare(e.Key, end) > 0 {
				return nil
			}
			if !visit(e) {
				return nil
			}
		}
		if next == noBlock {
			return nil
		}
		b = r.getBlock(next)
	}
	return nil
}

// split divides b's entries into two contiguous halves (the lower half
// receives the extra entry when the count is odd) and inserts a new block
// for the upper half, splicing it into both the ordered index and the next
// chain.
func (r *BRIN) split(b *Block) error {
	b.mu.Lock()
	entries := b.entries
	n := len(entries)
	if n < 2 {
		b.mu.Unlock()
		return nil
	}
	lowerLen := n/2 + n%2
	lower := lo.Map(entries[:lowerLen], func(e Entry, _ int) Entry { return e })
	upper := lo.Map(entries[lowerLen:], func(e Entry, _ int) Entry { return e })
	upperMinKey := append([]byte(nil), upper[0].Key...)
	oldNext := b.next
	b.mu.Unlock()

	newBlock := &Block{
		id:      BlockID(r.idSeq.Add(1)),
		minKey:  upperMinKey,
		entries: upper,
		loaded:  true,
		dirty:   true,
		size:    len(upper),
		next:    oldNext,
	}

	r.blocksMu.Lock()
	r.blocks[newBlock.id] = newBlock
	pos := sort.Search(len(r.order), func(i int) bool {
		return compareMinKey(r.minKeyAt(i), upperMinKey) > 0
	})
	r.order = append(r.order, 0)
	copy(r.order[pos+1:], r.order[pos:])
	r.order[pos] = newBlock.id
	r.blocksMu.Unlock()

	b.mu.Lock()
	b.entries = lower
	b.size = len(lower)
	b.dirty = true
	b.next = newBlock.id
	b.mu.Unlock()

	return nil
}

// UnloadAllBlocks drops the in-memory entries of every clean, unpinned,
// non-head block, returning the number of blocks unloaded. The head block
// is never unloaded: Put/Search must always be able to find a loaded
// fallback block without synchronous I/O.
func (r *BRIN) UnloadAllBlocks() int {
	r.blocksMu.RLock()
	ids := append([]BlockID(nil), r.order...)
	r.blocksMu.RUnlock()

	n := 0
	for _, id := range ids {
		if id == r.headID {
			continue
		}
		b := r.getBlock(id)
		b.mu.Lock()
		if b.loaded && !b.dirty && atomic.LoadInt32(&b.pinCount) == 0 && b.pageID != datastore.InvalidPageID {
			b.entries = nil
			b.loaded = false
			n++
		}
		b.mu.Unlock()
	}
	return n
}

// Stats reports block bookkeeping counts for diagnostics.
type Stats struct {
	NumBlocks int
	NumLoaded int
	NumDirty  int
	NumPinned int
}

// GetStats returns a snapshot of block bookkeeping counters.
func (r *BRIN) GetStats() Stats {
	r.blocksMu.RLock()
	ids := append([]BlockID(nil), r.order...)
	r.blocksMu.RUnlock()

	s := Stats{NumBlocks: len(ids)}
	for _, id := range ids {
		b := r.getBlock(id)
		b.mu.Lock()
		if b.loaded {
			s.NumLoaded++
		}
		if b.dirty {
			s.NumDirty++
		}
		if atomic.LoadInt32(&b.pinCount) > 0 {
			s.NumPinned++
		}
		b.mu.Unlock()
	}
	return s
}
