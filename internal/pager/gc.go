package pager

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Garbage Collector (VACUUM)
// ───────────────────────────────────────────────────────────────────────────
//
// The GC performs a reachability scan over all pages in the database file.
// It starts from a caller-supplied set of B+Tree roots — the catalog tree
// plus every index/table tree registered in it — and marks every page
// reachable from those roots. Any allocated page not visited is an orphan
// and gets added to the free-list.
//
// The pager package has no notion of "catalog" or "table": the roots to
// walk are the caller's responsibility (internal/metadata assembles them
// from its catalog before calling GC), which keeps the reachability scan
// usable for key-to-page B+Trees and BRIN bookkeeping trees alike.

// GCResult holds statistics about a garbage collection run.
type GCResult struct {
	TotalPages     int      // total allocated pages in the file
	ReachablePages int      // pages reachable from roots
	FreeBefore     int      // free pages before GC
	FreeAfter      int      // free pages after GC
	Reclaimed      int      // newly freed orphan pages
	Errors         []string // non-fatal issues found during the scan
}

// GC performs a full reachability-based garbage collection over p, treating
// every PageID in roots (typically the catalog root plus every tree rooted
// in it) as a live B+Tree root. It must be called when no other writers are
// active. GC does not shrink the file — it only adds orphans to the
// free-list so they can be reused by future allocations.
func GC(p *Pager, roots []PageID) (*GCResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sb := p.sb
	totalPages := int(sb.NextPageID)
	if totalPages < 1 {
		return &GCResult{}, nil
	}

	result := &GCResult{
		TotalPages: totalPages,
		FreeBefore: p.freeMgr.Count(),
	}

	reachable := make(map[PageID]struct{}, totalPages)
	reachable[0] = struct{}{} // superblock

	for _, root := range roots {
		walkBTree(p, root, reachable, result)
	}
	walkFreeListChain(p, sb.FreeListRoot, reachable)

	result.ReachablePages = len(reachable)

	freeSet := make(map[PageID]struct{})
	for _, pid := range p.freeMgr.AllFree() {
		freeSet[pid] = struct{}{}
	}

	var reclaimed int
	for pid := PageID(0); pid < PageID(totalPages); pid++ {
		if _, isReachable := reachable[pid]; isReachable {
			continue
		}
		if _, isFree := freeSet[pid]; isFree {
			continue
		}
		p.freeMgr.Free(pid)
		reclaimed++
	}

	result.Reclaimed = reclaimed
	result.FreeAfter = p.freeMgr.Count()

	if reclaimed > 0 {
		p.mu.Unlock()
		err := p.Checkpoint()
		p.mu.Lock()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("checkpoint: %v", err))
		}
	}

	return result, nil
}

func walkBTree(p *Pager, rootID PageID, reachable map[PageID]struct{}, result *GCResult) {
	walkBTreePage(p, rootID, reachable, result)
}

func walkBTreePage(p *Pager, pid PageID, reachable map[PageID]struct{}, result *GCResult) {
	if pid == InvalidPageID {
		return
	}
	if _, seen := reachable[pid]; seen {
		return
	}
	reachable[pid] = struct{}{}

	buf, err := p.readPageCached(pid)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read page %d: %v", pid, err))
		return
	}
	defer p.UnpinPage(pid)

	bp := WrapBTreePage(buf)
	if bp.IsLeaf() {
		sc := bp.slotCount()
		for i := 0; i < sc; i++ {
			entry := bp.GetLeafEntry(i)
			if entry.Overflow {
				walkOverflowChain(p, entry.OverflowPageID, reachable, result)
			}
		}
		return
	}

	sc := bp.slotCount()
	for i := 0; i < sc; i++ {
		ie := bp.GetInternalEntry(i)
		walkBTreePage(p, ie.ChildID, reachable, result)
	}
	walkBTreePage(p, bp.RightChild(), reachable, result)
}

func walkOverflowChain(p *Pager, headID PageID, reachable map[PageID]struct{}, result *GCResult) {
	pid := headID
	for pid != InvalidPageID {
		if _, seen := reachable[pid]; seen {
			break
		}
		reachable[pid] = struct{}{}

		buf, err := p.readPageCached(pid)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("read overflow %d: %v", pid, err))
			return
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		p.UnpinPage(pid)
		pid = next
	}
}

func walkFreeListChain(p *Pager, headID PageID, reachable map[PageID]struct{}) {
	pid := headID
	for pid != InvalidPageID {
		if _, seen := reachable[pid]; seen {
			break
		}
		reachable[pid] = struct{}{}

		buf, err := p.readPageCached(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.UnpinPage(pid)
		pid = next
	}
}
