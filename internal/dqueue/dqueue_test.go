// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dqueue_test

import (
	"sync"
	"testing"
	"unsafe"

	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/reclaim/internal/dqueue"
)

type item struct {
	elem dqueue.Elem
	id   int
}

func itemOf(e *dqueue.Elem) *item {
	return (*item)(unsafe.Pointer(e))
}

func TestQueuePushDrainOrder(t *testing.T) {
	q := &dqueue.Queue{}
	items := make([]item, 5)
	for i := range items {
		items[i].id = i
		q.Push(&items[i].elem)
	}

	want := 0
	for e := q.DrainAll(); e != nil; e = e.Next() {
		if got := itemOf(e).id; got != want {
			t.Fatalf("drain order: got id %d, want %d", got, want)
		}
		want++
	}
	if want != len(items) {
		t.Fatalf("drained %d items, want %d", want, len(items))
	}
	if !q.Empty() {
		t.Fatalf("queue not empty after DrainAll")
	}
}

func TestQueueDrainEmpty(t *testing.T) {
	q := &dqueue.Queue{}
	if q.DrainAll() != nil {
		t.Fatalf("DrainAll on empty queue returned a chain")
	}
}

func TestQueueReuseAfterDrain(t *testing.T) {
	q := &dqueue.Queue{}
	a := &item{id: 1}
	b := &item{id: 2}

	q.Push(&a.elem)
	if e := q.DrainAll(); itemOf(e).id != 1 || e.Next() != nil {
		t.Fatalf("first drain returned wrong chain")
	}

	q.Push(&b.elem)
	q.Push(&a.elem) // elements are reusable after they have been drained
	e := q.DrainAll()
	if itemOf(e).id != 2 || itemOf(e.Next()).id != 1 {
		t.Fatalf("second drain returned wrong chain")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	const producers = 8
	const perProducer = 10000

	q := &dqueue.Queue{}
	items := make([]item, producers*perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				it := &items[p*perProducer+i]
				it.id = p*perProducer + i
				q.Push(&it.elem)
			}
		}(p)
	}
	wg.Wait()

	seen := make([]bool, len(items))
	n := 0
	for e := q.DrainAll(); e != nil; e = e.Next() {
		id := itemOf(e).id
		if seen[id] {
			t.Fatalf("item %d drained twice", id)
		}
		seen[id] = true
		n++
	}
	if n != len(items) {
		t.Fatalf("drained %d items, want %d", n, len(items))
	}
}
