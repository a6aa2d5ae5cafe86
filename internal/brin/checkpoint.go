package brin

import (
	"fmt"
	"sort"

	"github.com/brinstore/brinstore/internal/brinerr"
	"github.com/brinstore/brinstore/internal/datastore"
)

// ManifestEntry describes one surviving block in a checkpoint manifest.
type ManifestEntry struct {
	BlockID BlockID
	MinKey  []byte // nil for the head block
	PageID  datastore.PageID
	Size    int
}

// Metadata is the durable manifest produced by Checkpoint and consumed by
// Boot to reconstruct a BRIN's block chain without reloading any entries.
type Metadata struct {
	Blocks []ManifestEntry
}

// PostCheckpointAction is a deferred cleanup step returned by Checkpoint.
// The caller invokes it once the checkpoint's manifest is durable; it
// reclaims the data page a dirty block superseded.
type PostCheckpointAction func() error

// CheckpointHandle is returned by Checkpoint(pin=true). While it is pinned,
// the PostCheckpointActions of every later checkpoint fail instead of
// reclaiming, so no page this checkpoint's manifest references is
// released; Unpin releases that hold.
type CheckpointHandle struct {
	r   *BRIN
	seq uint64
}

// Unpin releases this checkpoint's pin, allowing later checkpoints' actions
// to reclaim the pages its manifest references.
func (h *CheckpointHandle) Unpin() {
	h.r.checkpointMu.Lock()
	defer h.r.checkpointMu.Unlock()
	h.r.pinned[h.seq]--
	if h.r.pinned[h.seq] <= 0 {
		delete(h.r.pinned, h.seq)
	}
}

// isPinned reports whether a checkpoint older than seq is still pinned; such
// a checkpoint may reference a page that seq's actions reclaim.
func (r *BRIN) isPinned(seq uint64) bool {
	r.checkpointMu.Lock()
	defer r.checkpointMu.Unlock()
	for s, n := range r.pinned {
		if s < seq && n > 0 {
			return true
		}
	}
	return false
}

// Checkpoint serializes every dirty block to storage, prunes empty
// non-head blocks, and returns the resulting manifest together with one
// PostCheckpointAction per superseded page. If pin is true, a
// CheckpointHandle is also returned; the pages its manifest references are
// not reclaimed by the actions of later checkpoints until Unpin is called.
func (r *BRIN) Checkpoint(pin bool) (*Metadata, []PostCheckpointAction, *CheckpointHandle, error) {
	r.pruneEmptyBlocks()

	r.blocksMu.RLock()
	ids := append([]BlockID(nil), r.order...)
	r.blocksMu.RUnlock()

	seq := r.checkpointSeq.Add(1)
	var handle *CheckpointHandle
	if pin {
		r.checkpointMu.Lock()
		r.pinned[seq]++
		r.checkpointMu.Unlock()
		handle = &CheckpointHandle{r: r, seq: seq}
	}

	manifest := &Metadata{}
	var actions []PostCheckpointAction

	for _, id := range ids {
		b := r.getBlock(id)
		b.mu.Lock()
		if b.dirty {
			if !b.loaded {
				b.mu.Unlock()
				return nil, nil, nil, brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("brin: checkpoint: block %d dirty but not loaded", id))
			}
			newID, err := r.storage.CreateDataPage(b.entries)
			if err != nil {
				b.mu.Unlock()
				return nil, nil, nil, brinerr.Wrap(brinerr.StorageFailure, err, fmt.Sprintf("brin: checkpoint: persist block %d", id))
			}
			oldID := b.pageID
			b.pageID = newID
			b.dirty = false
			if oldID != datastore.InvalidPageID {
				actions = append(actions, r.reclaimAction(seq, oldID))
			}
		}
		manifest.Blocks = append(manifest.Blocks, ManifestEntry{
			BlockID: b.id,
			MinKey:  append([]byte(nil), b.minKey...),
			PageID:  b.pageID,
			Size:    b.size,
		})
		b.mu.Unlock()
	}

	return manifest, actions, handle, nil
}

func (r *BRIN) reclaimAction(seq uint64, pageID datastore.PageID) PostCheckpointAction {
	return func() error {
		if r.isPinned(seq) {
			return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("brin: a checkpoint before %d is pinned, cannot reclaim page %d", seq, pageID))
		}
		reclaimer, ok := r.storage.(datastore.Reclaimer)
		if !ok {
			return nil
		}
		return reclaimer.ReclaimDataPage(pageID)
	}
}

// pruneEmptyBlocks removes empty non-head blocks from the index, extending
// the predecessor's range to absorb the pruned key space. A pass removes
// only an empty block whose predecessor is non-empty (or the head), so in a
// run of several empty blocks just the first one is removed; each later
// checkpoint removes the next.
func (r *BRIN) pruneEmptyBlocks() {
	r.blocksMu.Lock()
	defer r.blocksMu.Unlock()

	for i := len(r.order) - 1; i > 0; i-- {
		id := r.order[i]
		b := r.blocks[id]
		b.mu.Lock()
		empty := b.loaded && b.size == 0
		b.mu.Unlock()
		if !empty {
			continue
		}

		predID := r.order[i-1]
		pred := r.blocks[predID]
		pred.mu.Lock()
		predEmpty := pred.loaded && pred.size == 0
		if predEmpty {
			// Leave this block in place; the predecessor itself will be
			// considered for pruning on a later iteration (or is the
			// head, which is never pruned), and merging into an equally
			// empty predecessor accomplishes nothing.
			pred.mu.Unlock()
			continue
		}
		b.mu.Lock()
		pred.next = b.next
		b.mu.Unlock()
		pred.mu.Unlock()

		delete(r.blocks, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
}

// Boot reconstructs a BRIN from a checkpoint manifest without loading any
// block's entries; blocks load lazily on first access.
func Boot(maxBlockSize int, storage datastore.IndexDataStorage, meta *Metadata) (*BRIN, error) {
	r := &BRIN{
		maxBlockSize: maxBlockSize,
		storage:      storage,
		blocks:       make(map[BlockID]*Block),
		pinned:       make(map[uint64]int),
	}

	entries := append([]ManifestEntry(nil), meta.Blocks...)
	sort.Slice(entries, func(i, j int) bool {
		return compareMinKey(entries[i].MinKey, entries[j].MinKey) < 0
	})

	var maxID BlockID
	for i, me := range entries {
		b := &Block{
			id:     me.BlockID,
			minKey: me.MinKey,
			pageID: me.PageID,
			size:   me.Size,
			loaded: me.Size == 0,
		}
		if i+1 < len(entries) {
			b.next = entries[i+1].BlockID
		} else {
			b.next = noBlock
		}
		r.blocks[b.id] = b
		r.order = append(r.order, b.id)
		if me.MinKey == nil {
			r.headID = b.id
		}
		if b.id > maxID {
			maxID = b.id
		}
	}
	if len(r.order) == 0 {
		return nil, brinerr.New(brinerr.InvariantViolation, "brin: boot: empty manifest has no head block")
	}
	if r.headID == noBlock {
		return nil, brinerr.New(brinerr.InvariantViolation, "brin: boot: manifest has no head block (nil MinKey)")
	}
	r.idSeq.Store(uint64(maxID))
	return r, nil
}
