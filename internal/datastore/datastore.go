// Package datastore implements IndexDataStorage, the contract a
// BlockRangeIndex uses to persist and reload the immutable entry lists
// backing each of its blocks.
package datastore

import "github.com/brinstore/brinstore/internal/brinerr"

// PageID identifies an immutable data page. IDs are assigned monotonically
// by an IndexDataStorage implementation and are never reused, so a stale
// PageID reliably indicates a superseded page rather than ambiguous reuse.
type PageID uint64

// InvalidPageID is the zero value, never returned by CreateDataPage.
const InvalidPageID PageID = 0

// Entry is one (key, value) pair of a BRIN block's entry list. Keys and
// values are opaque byte strings; ordering between entries is by Key under
// bytes.Compare.
type Entry struct {
	Key   []byte
	Value []byte
}

// IndexDataStorage persists and reloads ordered entry lists as immutable
// pages. A page's contents never change after creation; revising a block
// means creating a new page and abandoning the old PageID.
type IndexDataStorage interface {
	// CreateDataPage persists entries (already sorted by Key by the caller)
	// and returns a fresh PageID strictly greater than any previously
	// returned by this instance.
	CreateDataPage(entries []Entry) (PageID, error)

	// LoadDataPage returns the entries previously passed to CreateDataPage
	// for id. It returns an error if id is unknown or the page is corrupt.
	LoadDataPage(id PageID) ([]Entry, error)
}

// Reclaimer is optionally implemented by an IndexDataStorage that can act
// on a PostCheckpointAction's decision that a page is superseded and safe
// to reclaim. Implementations that cannot reclaim individual pages (e.g. a
// pure append-only file) may decline to implement it.
type Reclaimer interface {
	ReclaimDataPage(id PageID) error
}

// ErrUnknownPage is returned by LoadDataPage for an id the store never
// created (or already reclaimed).
var ErrUnknownPage = brinerr.New(brinerr.Corruption, "datastore: unknown page id")
