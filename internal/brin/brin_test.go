package brin

import (
	"fmt"
	"testing"

	"github.com/brinstore/brinstore/internal/datastore"
)

func key(i int) []byte { return []byte(fmt.Sprintf("k%04d", i)) }

func searchOne(t *testing.T, r *BRIN, k []byte) (string, bool) {
	t.Helper()
	vs, err := r.Search(k)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(vs) == 0 {
		return "", false
	}
	if len(vs) > 1 {
		t.Fatalf("key %q: expected exactly one value, got %d", k, len(vs))
	}
	return string(vs[0]), true
}

func TestPutSearchBasic(t *testing.T) {
	r := New(8, datastore.NewMemStore())
	for i := 0; i < 5; i++ {
		if err := r.Put(key(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		v, found := searchOne(t, r, key(i))
		if !found {
			t.Fatalf("key %d not found", i)
		}
		if v != fmt.Sprintf("v%d", i) {
			t.Fatalf("key %d: got %q", i, v)
		}
	}
	if _, found := searchOne(t, r, key(999)); found {
		t.Fatalf("expected key 999 absent")
	}
}

func TestSplitOnOverflow(t *testing.T) {
	r := New(4, datastore.NewMemStore())
	for i := 0; i < 20; i++ {
		if err := r.Put(key(i), []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if r.GetStats().NumBlocks < 2 {
		t.Fatalf("expected split to have produced more than one block, got %d", r.GetStats().NumBlocks)
	}
	for i := 0; i < 20; i++ {
		if _, found := searchOne(t, r, key(i)); !found {
			t.Fatalf("key %d missing after splits", i)
		}
	}
}

// TestMultipleValuesPerKey matches the duplicate-key-across-split-boundary
// scenario: repeated puts under the same key accumulate a multiset of
// values rather than overwriting, regardless of where splits later place
// the entries.
func TestMultipleValuesPerKey(t *testing.T) {
	r := New(2, datastore.NewMemStore())
	k := []byte("5")
	for _, v := range []string{"a", "b", "c"} {
		if err := r.Put(k, []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, err := r.Search(k)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d: %v", len(got), len(want), got)
	}
	for i, w := range want {
		if string(got[i]) != w {
			t.Fatalf("value %d: got %q, want %q", i, got[i], w)
		}
	}
}

// TestDuplicateKeyAcrossSplitBoundary exercises the same duplicate-key
// scenario mixed in with other keys so that a split is forced to place the
// duplicate-key entries across more than one block.
func TestDuplicateKeyAcrossSplitBoundary(t *testing.T) {
	r := New(3, datastore.NewMemStore())
	if err := r.Put(key(1), []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		if err := r.Put(key(5), []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := r.Put(key(9), []byte("nine")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := r.Search(key(5))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d: %v", len(got), len(want), got)
	}
	for i, w := range want {
		if string(got[i]) != w {
			t.Fatalf("value %d: got %q, want %q", i, got[i], w)
		}
	}

	if v, found := searchOne(t, r, key(1)); !found || v != "one" {
		t.Fatalf("key 1: got %q found=%v", v, found)
	}
	if v, found := searchOne(t, r, key(9)); !found || v != "nine" {
		t.Fatalf("key 9: got %q found=%v", v, found)
	}
}

func TestRangeSearch(t *testing.T) {
	r := New(4, datastore.NewMemStore())
	for i := 0; i < 30; i++ {
		if err := r.Put(key(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	var got []string
	err := r.RangeSearch(key(10), key(15), func(e Entry) bool {
		got = append(got, string(e.Key))
		return true
	})
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d entries, want 6: %v", len(got), got)
	}
	for i, g := range got {
		want := string(key(10 + i))
		if g != want {
			t.Fatalf("entry %d: got %q want %q", i, g, want)
		}
	}
}

func TestRangeSearchWithDuplicateKeys(t *testing.T) {
	r := New(3, datastore.NewMemStore())
	r.Put(key(1), []byte("one"))
	for _, v := range []string{"a", "b", "c"} {
		r.Put(key(5), []byte(v))
	}
	r.Put(key(9), []byte("nine"))

	var got []string
	err := r.RangeSearch(key(5), nil, func(e Entry) bool {
		got = append(got, string(e.Value))
		return true
	})
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	want := []string{"a", "b", "c", "nine"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("entry %d: got %q want %q", i, got[i], w)
		}
	}
}

func TestDelete(t *testing.T) {
	r := New(8, datastore.NewMemStore())
	r.Put(key(1), []byte("v"))
	n, err := r.Delete(key(1))
	if err != nil || n != 1 {
		t.Fatalf("Delete: n=%d err=%v", n, err)
	}
	if _, found := searchOne(t, r, key(1)); found {
		t.Fatalf("key should be gone after delete")
	}
	n, err = r.Delete(key(1))
	if err != nil || n != 0 {
		t.Fatalf("second Delete should report zero removed: n=%d err=%v", n, err)
	}
}

func TestDeleteRemovesAllValuesForKey(t *testing.T) {
	r := New(2, datastore.NewMemStore())
	k := []byte("5")
	for _, v := range []string{"a", "b", "c"} {
		r.Put(k, []byte(v))
	}
	n, err := r.Delete(k)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("Delete removed %d, want 3", n)
	}
	vs, err := r.Search(k)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("expected no values left, got %v", vs)
	}
}

func TestCheckpointUnloadAndRecover(t *testing.T) {
	store := datastore.NewMemStore()
	r := New(4, store)
	for i := 0; i < 40; i++ {
		if err := r.Put(key(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	meta, actions, handle, err := r.Checkpoint(false)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if handle != nil {
		t.Fatalf("expected no handle when pin=false")
	}
	for _, a := range actions {
		if err := a(); err != nil {
			t.Fatalf("post-checkpoint action: %v", err)
		}
	}

	n := r.UnloadAllBlocks()
	if n == 0 {
		t.Fatalf("expected at least one block unloaded")
	}

	booted, err := Boot(4, store, meta)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	for i := 0; i < 40; i++ {
		v, found := searchOne(t, booted, key(i))
		if !found {
			t.Fatalf("key %d not found", i)
		}
		if v != fmt.Sprintf("v%d", i) {
			t.Fatalf("key %d: got %q", i, v)
		}
	}
}

func TestCheckpointPinBlocksReclamation(t *testing.T) {
	store := datastore.NewMemStore()
	r := New(100, store)
	r.Put(key(1), []byte("v1"))

	_, _, handle, err := r.Checkpoint(true)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if handle == nil {
		t.Fatalf("expected a handle when pin=true")
	}

	r.Delete(key(1))
	r.Put(key(1), []byte("v2")) // dirties the block again

	_, actions, _, err := r.Checkpoint(false)
	if err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}
	if len(actions) == 0 {
		t.Fatalf("expected a reclaim action for the superseded page")
	}
	for _, a := range actions {
		if err := a(); err == nil {
			t.Fatalf("expected reclaim to fail while checkpoint is pinned")
		}
	}
	handle.Unpin()
	for _, a := range actions {
		if err := a(); err != nil {
			t.Fatalf("reclaim after unpin should succeed: %v", err)
		}
	}
}

func TestPruneEmptyNonHeadBlocks(t *testing.T) {
	store := datastore.NewMemStore()
	r := New(2, store)
	for i := 0; i < 10; i++ {
		r.Put(key(i), []byte("v"))
	}
	before := r.GetStats().NumBlocks
	if before < 2 {
		t.Fatalf("test requires multiple blocks, got %d", before)
	}
	for i := 5; i < 10; i++ {
		if _, err := r.Delete(key(i)); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	if _, _, _, err := r.Checkpoint(false); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	after := r.GetStats().NumBlocks
	if after >= before {
		t.Fatalf("expected checkpoint to prune empty blocks: before=%d after=%d", before, after)
	}
	for i := 0; i < 5; i++ {
		if _, found := searchOne(t, r, key(i)); !found {
			t.Fatalf("key %d should survive pruning", i)
		}
	}
}

func TestConcurrentPutsAcrossSplits(t *testing.T) {
	r := New(4, datastore.NewMemStore())
	const n = 200
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errs <- r.Put(key(i), []byte(fmt.Sprintf("v%d", i)))
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent Put: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		if _, found := searchOne(t, r, key(i)); !found {
			t.Fatalf("key %d missing", i)
		}
	}
}
