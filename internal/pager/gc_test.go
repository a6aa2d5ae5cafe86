package pager

import (
	"fmt"
	"path/filepath"
	"testing"
)

func tmpPager(t *testing.T) *Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenPager(PagerConfig{
		DBPath:   filepath.Join(dir, "gc_test.db"),
		WALPath:  filepath.Join(dir, "gc_test.wal"),
		PageSize: 4096,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// fillTree inserts n sequential keys into a freshly created B+Tree and
// returns its root page.
func fillTree(t *testing.T, p *Pager, n int) PageID {
	t.Helper()
	txID, err := p.BeginTx()
	if err != nil {
		t.Fatal(err)
	}
	bt, err := CreateBTree(p, txID)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%06d", i))
		v := []byte(fmt.Sprintf("value-%06d", i))
		if err := bt.Insert(txID, k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.CommitTx(txID); err != nil {
		t.Fatal(err)
	}
	return bt.Root()
}

// allocOrphans allocates n pages without linking them into any tree,
// simulating pages leaked by a crashed writer.
func allocOrphans(t *testing.T, p *Pager, n int) {
	t.Helper()
	txID, err := p.BeginTx()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		pid, buf := p.AllocPage()
		InitBTreePage(buf, pid, true)
		SetPageCRC(buf)
		if err := p.WritePage(txID, pid, buf); err != nil {
			t.Fatal(err)
		}
		p.UnpinPage(pid)
	}
	if err := p.CommitTx(txID); err != nil {
		t.Fatal(err)
	}
	if err := p.Checkpoint(); err != nil {
		t.Fatal(err)
	}
}

func TestGCNoOrphans(t *testing.T) {
	p := tmpPager(t)
	root := fillTree(t, p, 20)

	result, err := GC(p, []PageID{root})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed, got %d", result.Reclaimed)
	}
	if result.ReachablePages < 2 {
		t.Errorf("expected at least 2 reachable pages, got %d", result.ReachablePages)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestGCSimulatedOrphans(t *testing.T) {
	p := tmpPager(t)
	root := fillTree(t, p, 20)
	allocOrphans(t, p, 5)

	result, err := GC(p, []PageID{root})
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("GC result: total=%d reachable=%d freeBefore=%d freeAfter=%d reclaimed=%d",
		result.TotalPages, result.ReachablePages, result.FreeBefore, result.FreeAfter, result.Reclaimed)

	if result.Reclaimed < 5 {
		t.Errorf("expected at least 5 reclaimed orphans, got %d", result.Reclaimed)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestGCMultipleRoots(t *testing.T) {
	p := tmpPager(t)
	var roots []PageID
	for i := 0; i < 5; i++ {
		roots = append(roots, fillTree(t, p, 20))
	}

	result, err := GC(p, roots)
	if err != nil {
		t.Fatal(err)
	}
	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed on a clean store with 5 trees, got %d", result.Reclaimed)
	}
	if result.ReachablePages < 5 {
		t.Errorf("expected at least 5 reachable pages, got %d", result.ReachablePages)
	}
}

func TestGCIdempotent(t *testing.T) {
	p := tmpPager(t)
	root := fillTree(t, p, 20)
	allocOrphans(t, p, 3)

	r1, err := GC(p, []PageID{root})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Reclaimed < 3 {
		t.Errorf("first GC: expected >=3 reclaimed, got %d", r1.Reclaimed)
	}

	r2, err := GC(p, []PageID{root})
	if err != nil {
		t.Fatal(err)
	}
	if r2.Reclaimed != 0 {
		t.Errorf("second GC: expected 0 reclaimed, got %d", r2.Reclaimed)
	}
}

func TestGCDataIntegrity(t *testing.T) {
	p := tmpPager(t)
	root := fillTree(t, p, 100)

	if _, err := GC(p, []PageID{root}); err != nil {
		t.Fatal(err)
	}

	bt := NewBTree(p, root)
	v, found, err := bt.Get([]byte("key-000000"))
	if err != nil || !found {
		t.Fatalf("key-000000: found=%v err=%v", found, err)
	}
	if string(v) != "value-000000" {
		t.Errorf("key-000000: got %q", v)
	}
	v, found, err = bt.Get([]byte("key-000099"))
	if err != nil || !found {
		t.Fatalf("key-000099: found=%v err=%v", found, err)
	}
	if string(v) != "value-000099" {
		t.Errorf("key-000099: got %q", v)
	}
}

func TestGCPersistence(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gc_persist.db")
	walPath := filepath.Join(dir, "gc_persist.wal")

	p, err := OpenPager(PagerConfig{DBPath: dbPath, WALPath: walPath, PageSize: 4096})
	if err != nil {
		t.Fatal(err)
	}
	root := fillTree(t, p, 10)
	allocOrphans(t, p, 4)

	r, err := GC(p, []PageID{root})
	if err != nil {
		t.Fatal(err)
	}
	if r.Reclaimed < 4 {
		t.Errorf("expected >=4 reclaimed, got %d", r.Reclaimed)
	}
	freeAfter := r.FreeAfter
	p.Close()

	p2, err := OpenPager(PagerConfig{DBPath: dbPath, WALPath: walPath, PageSize: 4096})
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()

	freeNow := p2.freeMgr.Count()
	if freeNow < freeAfter-2 {
		t.Errorf("expected >=%d free pages after reopen, got %d", freeAfter-2, freeNow)
	}

	bt := NewBTree(p2, root)
	v, found, err := bt.Get([]byte("key-000000"))
	if err != nil || !found || string(v) != "value-000000" {
		t.Errorf("key-000000 after reopen: v=%q found=%v err=%v", v, found, err)
	}
}

func TestGCEmptyStore(t *testing.T) {
	p := tmpPager(t)

	result, err := GC(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed on an empty store, got %d", result.Reclaimed)
	}
}

func TestGCStats(t *testing.T) {
	p := tmpPager(t)
	root := fillTree(t, p, 50)

	result, err := GC(p, []PageID{root})
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalPages <= 0 {
		t.Errorf("TotalPages should be > 0, got %d", result.TotalPages)
	}
	if result.ReachablePages <= 0 {
		t.Errorf("ReachablePages should be > 0, got %d", result.ReachablePages)
	}
	if result.ReachablePages > result.TotalPages {
		t.Errorf("ReachablePages (%d) > TotalPages (%d)", result.ReachablePages, result.TotalPages)
	}
	accounted := result.ReachablePages + result.FreeAfter
	if accounted < result.TotalPages {
		t.Errorf("accounting gap: reachable(%d) + freeAfter(%d) = %d < totalPages(%d)",
			result.ReachablePages, result.FreeAfter, accounted, result.TotalPages)
	}
}
