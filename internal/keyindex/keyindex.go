// Package keyindex implements KeyToPageIndex: a concurrent map from
// primary-key bytes to a page identifier, with a linearizable compare-and-
// set primitive used to coordinate concurrent inserts of the same key.
package keyindex

import "github.com/brinstore/brinstore/internal/pager"

// PageID identifies the on-disk page a key currently resolves to.
type PageID = pager.PageID

// NoPage is the "expected absent" sentinel used by CompareAndSet, and the
// zero value Get/ContainsKey return for a missing key.
const NoPage PageID = pager.InvalidPageID

// Scanner iterates keys in a KeyToPageIndex. Next returns false once
// exhausted; Key/Page are only valid after a Next call that returned true.
type Scanner interface {
	Next() bool
	Key() []byte
	Page() PageID
	Close() error
}

// KeyToPageIndex maps primary-key bytes to the page currently holding the
// row for that key.
type KeyToPageIndex interface {
	// Put unconditionally sets key's page, inserting if absent.
	Put(key []byte, page PageID) error

	// CompareAndSet atomically sets key's page to newPage iff its current
	// page equals expected (NoPage meaning "key must be absent"). It
	// reports whether the swap happened.
	CompareAndSet(key []byte, expected, newPage PageID) (bool, error)

	// Get returns key's current page, if present.
	Get(key []byte) (PageID, bool, error)

	// ContainsKey reports whether key is present.
	ContainsKey(key []byte) (bool, error)

	// Remove deletes key, reporting whether it was present.
	Remove(key []byte) (bool, error)

	// Size returns the number of keys currently indexed.
	Size() (int, error)

	// GetUsedMemory estimates the heap bytes held by in-memory state, for
	// diagnostics and capacity planning. Implementations backed entirely by
	// disk may return 0.
	GetUsedMemory() int64

	// Scanner returns an iterator over all keys. If isSortedAscending is
	// true, keys are visited in ascending order; otherwise iteration order
	// is unspecified but every implementation is free to choose the
	// cheapest order available.
	Scanner(isSortedAscending bool) (Scanner, error)

	// Checkpoint persists any buffered state.
	Checkpoint() error

	// Truncate removes every entry, keeping the index open for reuse.
	Truncate() error

	// DropData releases on-disk resources backing the index; the index
	// must not be used afterward.
	DropData() error

	// Close releases in-memory resources without dropping on-disk data.
	Close() error
}
