package keyindex

import (
	"fmt"
	"sync"
	"testing"
)

func TestMemIndexPutGet(t *testing.T) {
	idx := NewMemIndex()
	if err := idx.Put([]byte("a"), 42); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p, found, err := idx.Get([]byte("a"))
	if err != nil || !found || p != 42 {
		t.Fatalf("Get: p=%d found=%v err=%v", p, found, err)
	}
	if _, found, _ := idx.Get([]byte("missing")); found {
		t.Fatalf("expected missing key to be absent")
	}
}

func TestMemIndexCASInsertIfAbsent(t *testing.T) {
	idx := NewMemIndex()
	ok, err := idx.CompareAndSet([]byte("k"), NoPage, 1)
	if err != nil || !ok {
		t.Fatalf("insert-if-absent CAS: ok=%v err=%v", ok, err)
	}
	ok, err = idx.CompareAndSet([]byte("k"), NoPage, 2)
	if err != nil || ok {
		t.Fatalf("second insert-if-absent CAS should fail: ok=%v err=%v", ok, err)
	}
	ok, err = idx.CompareAndSet([]byte("k"), 1, 2)
	if err != nil || !ok {
		t.Fatalf("CAS with correct expected should succeed: ok=%v err=%v", ok, err)
	}
	p, _, _ := idx.Get([]byte("k"))
	if p != 2 {
		t.Fatalf("got %d, want 2", p)
	}
}

func TestMemIndexCASContention(t *testing.T) {
	idx := NewMemIndex()
	idx.CompareAndSet([]byte("k"), NoPage, 1)

	const n = 100
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := idx.CompareAndSet([]byte("k"), 1, PageID(i+2))
			if err != nil {
				t.Errorf("CAS: %v", err)
			}
			successes[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one CAS(1 -> x) to win under contention, got %d", count)
	}
}

func TestMemIndexRemoveAndSize(t *testing.T) {
	idx := NewMemIndex()
	for i := 0; i < 10; i++ {
		idx.Put([]byte(fmt.Sprintf("k%d", i)), PageID(i))
	}
	n, _ := idx.Size()
	if n != 10 {
		t.Fatalf("Size() = %d, want 10", n)
	}
	ok, err := idx.Remove([]byte("k5"))
	if err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}
	n, _ = idx.Size()
	if n != 9 {
		t.Fatalf("Size() after remove = %d, want 9", n)
	}
	ok, err = idx.Remove([]byte("k5"))
	if err != nil || ok {
		t.Fatalf("second Remove should report absent")
	}
}

func TestMemIndexSortedScanner(t *testing.T) {
	idx := NewMemIndex()
	keys := []string{"c", "a", "b"}
	for i, k := range keys {
		idx.Put([]byte(k), PageID(i))
	}
	sc, err := idx.Scanner(true)
	if err != nil {
		t.Fatalf("Scanner: %v", err)
	}
	var got []string
	for sc.Next() {
		got = append(got, string(sc.Key()))
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemIndexTruncate(t *testing.T) {
	idx := NewMemIndex()
	idx.Put([]byte("a"), 1)
	if err := idx.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	n, _ := idx.Size()
	if n != 0 {
		t.Fatalf("Size() after truncate = %d, want 0", n)
	}
}
