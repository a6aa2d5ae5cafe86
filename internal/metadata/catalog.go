// Package metadata implements the system catalog — the registry that gives
// a BlockRangeIndex/KeyToPageIndex pair a stable name and root page across
// restarts — and the binary table-metadata codec used to describe the
// columns of a table whose primary key is served by a BRIN.
package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brinstore/brinstore/internal/pager"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// CatalogEntry identifies one registered index pair by name.
type CatalogEntry struct {
	Name               string       `json:"name"`
	KeyIndexRoot       pager.PageID `json:"key_index_root"`
	BRINMetadataPageID pager.PageID `json:"brin_metadata_page_id"`
	CreatedAt          time.Time    `json:"created_at"`
	Version            int          `json:"version"`
}

// Catalog is a B+Tree-backed registry of CatalogEntry values, persisted
// through the same pager as every other B+Tree in the store so that the
// whole system recovers from a single superblock-rooted WAL replay.
type Catalog struct {
	mu    sync.RWMutex
	pager *pager.Pager
	tree  *pager.BTree
}

// Open opens or creates the system catalog, rooted at the pager's
// superblock CatalogRoot field.
func Open(p *pager.Pager, txID pager.TxID) (*Catalog, error) {
	sb := p.Superblock()
	cat := &Catalog{pager: p}

	if sb.CatalogRoot == pager.InvalidPageID {
		bt, err := pager.CreateBTree(p, txID)
		if err != nil {
			return nil, errors.Wrap(err, "metadata: create catalog tree")
		}
		cat.tree = bt
		p.UpdateSuperblock(func(s *pager.Superblock) {
			s.CatalogRoot = bt.Root()
		})
	} else {
		cat.tree = pager.NewBTree(p, sb.CatalogRoot)
	}
	return cat, nil
}

// Put upserts a catalog entry.
func (c *Catalog) Put(txID pager.TxID, entry CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "metadata: marshal catalog entry")
	}
	return c.tree.Insert(txID, []byte(entry.Name), val)
}

// Get retrieves a catalog entry by name. Returns (nil, nil) if not found.
func (c *Catalog) Get(name string) (*CatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, found, err := c.tree.Get([]byte(name))
	if err != nil || !found {
		return nil, err
	}
	var entry CatalogEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, errors.Wrapf(err, "metadata: corrupt catalog entry %q", name)
	}
	return &entry, nil
}

// Delete removes a catalog entry by name.
func (c *Catalog) Delete(txID pager.TxID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.tree.Delete(txID, []byte(name))
	return err
}

// List returns every registered name, sorted.
func (c *Catalog) List() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	err := c.tree.ScanRange(nil, nil, func(key, val []byte) bool {
		names = append(names, string(key))
		return true
	})
	sort.Strings(names)
	return names, err
}

// Digest returns a blake2b-256 fingerprint of a catalog entry's encoded
// form, used by inspection tooling to detect a stale cached copy without
// comparing every field.
func Digest(entry CatalogEntry) ([32]byte, error) {
	val, err := json.Marshal(entry)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "metadata: marshal catalog entry for digest")
	}
	return blake2b.Sum256(val), nil
}

// Root returns the catalog tree's root page ID, the single fixed point
// from which the whole registry (and everything it names) is reachable.
func (c *Catalog) Root() pager.PageID { return c.tree.Root() }

// Roots returns the catalog root plus the KeyIndexRoot of every registered
// entry, suitable as the roots argument to pager.GC.
func (c *Catalog) Roots() ([]pager.PageID, error) {
	names, err := c.List()
	if err != nil {
		return nil, err
	}
	roots := []pager.PageID{c.Root()}
	for _, name := range names {
		entry, err := c.Get(name)
		if err != nil {
			return nil, fmt.Errorf("metadata: roots: %w", err)
		}
		if entry == nil {
			continue
		}
		if entry.KeyIndexRoot != pager.InvalidPageID {
			roots = append(roots, entry.KeyIndexRoot)
		}
	}
	return roots, nil
}
