package keyindex

import (
	"hash/fnv"
	"sort"
	"sync"
)

const defaultStripes = 64

// MemIndex is a striped-lock concurrent KeyToPageIndex: each shard owns a
// disjoint slice of the key space (by hash) and its own mutex, so unrelated
// keys never contend, while CompareAndSet on the same key is linearizable
// because every mutation to that key takes the same shard's lock.
type MemIndex struct {
	shards []*memShard
}

type memShard struct {
	mu   sync.RWMutex
	data map[string]PageID
}

// NewMemIndex returns an empty MemIndex with the default shard count.
func NewMemIndex() *MemIndex {
	return NewMemIndexStripes(defaultStripes)
}

// NewMemIndexStripes returns an empty MemIndex with a caller-chosen shard
// count (rounded up to at least 1).
func NewMemIndexStripes(stripes int) *MemIndex {
	if stripes < 1 {
		stripes = 1
	}
	shards := make([]*memShard, stripes)
	for i := range shards {
		shards[i] = &memShard{data: make(map[string]PageID)}
	}
	return &MemIndex{shards: shards}
}

func (m *MemIndex) shardFor(key []byte) *memShard {
	h := fnv.New32a()
	h.Write(key)
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Put implements KeyToPageIndex.
func (m *MemIndex) Put(key []byte, page PageID) error {
	s := m.shardFor(key)
	s.mu.Lock()
	s.data[string(key)] = page
	s.mu.Unlock()
	return nil
}

// CompareAndSet implements KeyToPageIndex.
func (m *MemIndex) CompareAndSet(key []byte, expected, newPage PageID) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[string(key)]
	if expected == NoPage {
		if exists {
			return false, nil
		}
	} else if !exists || current != expected {
		return false, nil
	}
	s.data[string(key)] = newPage
	return true, nil
}

// Get implements KeyToPageIndex.
func (m *MemIndex) Get(key []byte) (PageID, bool, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[string(key)]
	return p, ok, nil
}

// ContainsKey implements KeyToPageIndex.
func (m *MemIndex) ContainsKey(key []byte) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Remove implements KeyToPageIndex.
func (m *MemIndex) Remove(key []byte) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[string(key)]
	delete(s.data, string(key))
	return ok, nil
}

// Size implements KeyToPageIndex.
func (m *MemIndex) Size() (int, error) {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n, nil
}

// GetUsedMemory implements KeyToPageIndex with a rough per-entry estimate
// (key bytes + 8-byte page id + map bucket overhead).
func (m *MemIndex) GetUsedMemory() int64 {
	const perEntryOverhead = 48
	var total int64
	for _, s := range m.shards {
		s.mu.RLock()
		for k := range s.data {
			total += int64(len(k)) + perEntryOverhead
		}
		s.mu.RUnlock()
	}
	return total
}

// Scanner implements KeyToPageIndex.
func (m *MemIndex) Scanner(isSortedAscending bool) (Scanner, error) {
	type kv struct {
		key  string
		page PageID
	}
	var all []kv
	for _, s := range m.shards {
		s.mu.RLock()
		for k, p := range s.data {
			all = append(all, kv{k, p})
		}
		s.mu.RUnlock()
	}
	if isSortedAscending {
		sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })
	}
	keys := make([][]byte, len(all))
	pages := make([]PageID, len(all))
	for i, e := range all {
		keys[i] = []byte(e.key)
		pages[i] = e.page
	}
	return &sliceScanner{keys: keys, pages: pages, pos: -1}, nil
}

type sliceScanner struct {
	keys  [][]byte
	pages []PageID
	pos   int
}

func (s *sliceScanner) Next() bool {
	s.pos++
	return s.pos < len(s.keys)
}

func (s *sliceScanner) Key() []byte  { return s.keys[s.pos] }
func (s *sliceScanner) Page() PageID { return s.pages[s.pos] }
func (s *sliceScanner) Close() error { return nil }

// Checkpoint is a no-op: MemIndex holds no durable state.
func (m *MemIndex) Checkpoint() error { return nil }

// Truncate implements KeyToPageIndex.
func (m *MemIndex) Truncate() error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.data = make(map[string]PageID)
		s.mu.Unlock()
	}
	return nil
}

// DropData implements KeyToPageIndex identically to Truncate: there is no
// on-disk state to release.
func (m *MemIndex) DropData() error { return m.Truncate() }

// Close is a no-op.
func (m *MemIndex) Close() error { return nil }

var _ KeyToPageIndex = (*MemIndex)(nil)
