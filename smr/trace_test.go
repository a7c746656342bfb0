// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr_test

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/reclaim/smr"
)

// tnode is a list node whose reclamation is trace-deferred: one hazard
// pair on any node extends protection over everything reachable from it
// through next.
type tnode struct {
	work  smr.Work
	next  *tnode
	freed atomic.Bool
	id    int
}

// traceNext walks the chain hanging off the protected node, extending
// protection to every deferred node it can reach.
func traceNext(arg unsafe.Pointer, visit func(*smr.Work) bool) {
	n := (*tnode)(arg)
	for n = n.next; n != nil && visit(&n.work); n = n.next {
	}
}

func TestTraceDeferralProtectsReachableChain(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	const chainLen = 5

	r := smr.Startup()
	r.SetMinWait(time.Millisecond)
	defer r.Shutdown()

	reader, _ := r.Join()
	writer, _ := r.Join()

	// head -> n1 -> n2 -> ... as a dequeue history: each node's next is
	// the node dequeued after it.
	nodes := make([]*tnode, chainLen)
	for i := range nodes {
		nodes[i] = &tnode{id: i}
		if i > 0 {
			nodes[i-1].next = nodes[i]
		}
	}

	var freedTotal atomic.Int64
	free := func(arg unsafe.Pointer) {
		(*tnode)(arg).freed.Store(true)
		freedTotal.Add(1)
	}

	// The reader pins the first dequeued node only.
	pair, err := reader.AcquirePair()
	if err != nil {
		t.Fatalf("AcquirePair: %v", err)
	}
	pair.Protect(unsafe.Pointer(nodes[0]))

	for _, n := range nodes {
		n.work.InitTrace(free, unsafe.Pointer(n), traceNext)
		r.Defer(writer, &n.work)
	}

	// Every node is reachable from the protected head: none may reclaim.
	for i := 0; i < 100; i++ {
		reader.Quiesce()
		writer.Quiesce()
		time.Sleep(time.Millisecond)
	}
	if got := freedTotal.Load(); got != 0 {
		t.Fatalf("%d trace-reachable nodes reclaimed behind a protected head", got)
	}
	for _, n := range nodes {
		if n.freed.Load() {
			t.Fatalf("node %d freed while reachable from the hazard root", n.id)
		}
	}

	pair.Clear()
	spinUntil(t, func() bool { return freedTotal.Load() == chainLen }, reader, writer)

	reader.ReleasePair(pair)
	reader.Leave()
	writer.Leave()
}

func TestTraceReaderNeverCrossesFreedLink(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	const total = 2000

	r := smr.Startup()
	r.SetMinWait(time.Millisecond)
	defer r.Shutdown()

	writer, _ := r.Join()

	// Build the full dequeue order up front; head advances down it.
	nodes := make([]*tnode, total)
	for i := range nodes {
		nodes[i] = &tnode{id: i}
		if i > 0 {
			nodes[i-1].next = nodes[i]
		}
	}
	var head atomic.Pointer[tnode]
	head.Store(nodes[0])

	free := func(arg unsafe.Pointer) {
		(*tnode)(arg).freed.Store(true)
	}

	stop := make(chan struct{})
	crossed := make(chan int, 1)

	go func() {
		defer close(stop)
		reader, err := r.Join()
		if err != nil {
			return
		}
		defer reader.Leave()
		pair, err := reader.AcquirePair()
		if err != nil {
			return
		}
		defer reader.ReleasePair(pair)

		for i := 0; i < 20000; i++ {
			// Pin a consistent head, then walk the chain from it.
			var n *tnode
			for {
				n = head.Load()
				pair.Protect(unsafe.Pointer(n))
				if head.Load() == n {
					break
				}
			}
			for hops := 0; n != nil && hops < 8; hops++ {
				if n.freed.Load() {
					select {
					case crossed <- n.id:
					default:
					}
					return
				}
				n = n.next
			}
			pair.Clear()
			reader.Quiesce()
		}
	}()

	for i := 0; i+1 < total; i++ {
		n := nodes[i]
		head.Store(nodes[i+1])
		n.work.InitTrace(free, unsafe.Pointer(n), traceNext)
		r.Defer(writer, &n.work)
		writer.Quiesce()
		if i%64 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	<-stop
	select {
	case id := <-crossed:
		t.Fatalf("reader walked through freed node %d", id)
	default:
	}

	writer.Leave()
}
