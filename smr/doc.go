// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package smr implements hazard-pointer safe memory reclamation driven by
// an RCU quiescent-state poller.
//
// Readers publish the pointer they are about to dereference in a hazard
// cell pair; writers unlink objects and Defer their reclamation. A
// deferred item runs only after it has observed one quiescent cycle of
// every registered thread, survived a hazard-pointer scan that found no
// cell naming it, and observed a second quiescent cycle — at which point
// no reader can still hold it.
//
// Two deferral classes ship:
//
//   - FIFO, for queue-shaped structures: items sharing a [Cohort] are
//     reclaimed strictly in defer order, so a reader holding an old node
//     implicitly protects every node deferred after it.
//   - Trace, for linked structures: each hazard scan calls the item's
//     forrefs callback to extend protection over everything reachable
//     from a protected root, so one hazard pair on a list head protects
//     the whole spine.
//
// # Usage
//
//	r := smr.Startup()
//	defer r.Shutdown()
//
//	t, _ := r.Join()   // once per worker goroutine
//	defer t.Leave()
//
//	pair, _ := t.AcquirePair()
//	for {
//		n := load(&head)
//		pair.Protect(unsafe.Pointer(n))
//		if load(&head) == n {
//			break // n is pinned until pair.Clear()
//		}
//	}
//	... read through n ...
//	pair.Clear()
//	t.ReleasePair(pair)
//	t.Quiesce() // announce a quiescent state now and then
//
// Writers unlink a node and defer it:
//
//	w := smr.NewFIFOWork(freeNode, unsafe.Pointer(n), cohort)
//	r.Defer(t, w)
//
// The poller goroutine wakes when work arrives, rescans at least every
// MinWait while work is outstanding, and sleeps otherwise. Threads that
// stop calling Quiesce stall reclamation; park them with
// SetRunning(false) or Leave before blocking for long.
package smr
