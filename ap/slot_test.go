// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ap_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"code.hybscloud.com/reclaim/ap"
)

type node struct {
	value int
}

func TestSlotLoadRelease(t *testing.T) {
	var destroyed atomic.Int32
	s := ap.NewSlot(&node{value: 1}, func(n *node) { destroyed.Add(1) })

	h := s.Load()
	if h.Get().value != 1 {
		t.Fatalf("Get: got %d, want 1", h.Get().value)
	}
	h.Release()

	if destroyed.Load() != 0 {
		t.Fatalf("destroy fired on a slot with no writer activity")
	}
}

func TestSlotStoreReplaces(t *testing.T) {
	var destroyed []int
	var mu sync.Mutex
	destroy := func(n *node) {
		mu.Lock()
		destroyed = append(destroyed, n.value)
		mu.Unlock()
	}

	s := ap.NewSlot(&node{value: 1}, destroy)
	s.Store(ap.NewHandle(&node{value: 2}, destroy))

	h := s.Load()
	if h.Get().value != 2 {
		t.Fatalf("Get after Store: got %d, want 2", h.Get().value)
	}
	h.Release()

	mu.Lock()
	got := append([]int(nil), destroyed...)
	mu.Unlock()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("destroyed: got %v, want [1]", got)
	}
}

func TestSlotSwapReturnsOld(t *testing.T) {
	var destroyed atomic.Int32
	destroy := func(*node) { destroyed.Add(1) }

	s := ap.NewSlot(&node{value: 1}, destroy)
	old := s.Swap(ap.NewHandle(&node{value: 2}, destroy))

	if old.Get().value != 1 {
		t.Fatalf("Swap returned %d, want 1", old.Get().value)
	}
	if destroyed.Load() != 0 {
		t.Fatalf("old object destroyed while caller still holds its handle")
	}
	old.Release()
	if destroyed.Load() != 1 {
		t.Fatalf("destroy count: got %d, want 1 after releasing the swapped-out handle", destroyed.Load())
	}
}

func TestSlotCompareAndSwap(t *testing.T) {
	var destroyed atomic.Int32
	destroy := func(*node) { destroyed.Add(1) }

	s := ap.NewSlot(&node{value: 1}, destroy)

	expected := s.Load()
	defer expected.Release()

	stale := s.Load()
	s.Store(ap.NewHandle(&node{value: 99}, destroy)) // invalidate stale

	if s.CompareAndSwap(stale, ap.NewHandle(&node{value: 2}, destroy)) {
		t.Fatalf("CompareAndSwap succeeded against a stale handle")
	}
	stale.Release() // the failed CAS refreshed stale to a borrow on 99
	h := s.Load()
	if h.Get().value != 99 {
		t.Fatalf("slot content after failed CAS: got %d, want 99", h.Get().value)
	}
	h.Release()

	fresh := s.Load()
	if !s.CompareAndSwap(fresh, ap.NewHandle(&node{value: 3}, destroy)) {
		t.Fatalf("CompareAndSwap failed against a fresh handle")
	}
	h2 := s.Load()
	if h2.Get().value != 3 {
		t.Fatalf("slot content after successful CAS: got %d, want 3", h2.Get().value)
	}
	h2.Release()
}

func TestSlotCompareTo(t *testing.T) {
	a := &node{value: 1}
	b := &node{value: 2}
	s := ap.NewSlot(a, nil)

	if !s.CompareTo(a) {
		t.Fatalf("CompareTo(current) = false")
	}
	if s.CompareTo(b) {
		t.Fatalf("CompareTo(other) = true")
	}
	s.Store(ap.NewHandle(b, nil))
	if !s.CompareTo(b) || s.CompareTo(a) {
		t.Fatalf("CompareTo did not track the stored object")
	}
}

// TestSlotConcurrentChurn runs one writer continuously replacing the slot
// content against many readers continuously loading and releasing it,
// checking that no object is destroyed twice, the object still in the
// slot is not destroyed, and no reader ever observes a destroyed object.
func TestSlotConcurrentChurn(t *testing.T) {
	const readers = 8
	const iterations = 20000

	var created, destroyed atomic.Int64
	destroy := func(n *node) {
		if n.value < 0 {
			t.Errorf("object destroyed twice: value=%d", n.value)
		}
		n.value = -1
		destroyed.Add(1)
	}

	s := ap.NewSlot(&node{value: 0}, destroy)
	created.Add(1)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := s.Load()
				if h.Get().value < 0 {
					t.Errorf("reader observed a destroyed object")
				}
				h.Release()
			}
		}()
	}

	for i := 0; i < iterations; i++ {
		n := &node{value: i + 1}
		created.Add(1)
		s.Store(ap.NewHandle(n, destroy))
	}

	close(stop)
	wg.Wait()

	// Borrow and release the final object once more; the slot keeps its
	// own reference, so this does not destroy it.
	final := s.Load()
	final.Release()
	_ = final

	if destroyed.Load() >= created.Load() {
		// The very last stored object is still referenced by the slot
		// itself and is never destroyed in this test, so destroyed
		// must be strictly less than created.
		t.Fatalf("destroyed=%d created=%d: expected strictly fewer destructions than creations", destroyed.Load(), created.Load())
	}
}
