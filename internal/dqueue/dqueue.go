// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dqueue provides the intrusive deferred-work queue shared by the
// reclamation engines: multi-producer lock-free append, single-consumer
// batch drain.
//
// Producers pay one CAS per Push. The accumulated chain is stored
// newest-first and reversed during DrainAll, so the consumer receives the
// batch oldest-first; with a single consumer the reversal cost is paid
// once per batch, not per element.
package dqueue

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Elem is the intrusive link. Embed it as the first field of the queued
// type; the outer type is recovered by pointer conversion.
//
// The queue head is kept as integer bits, invisible to the garbage
// collector: the caller must keep every pushed element reachable until it
// has been drained.
type Elem struct {
	next *Elem
}

// Next returns the following element of a drained chain.
func (e *Elem) Next() *Elem { return e.next }

func encodeElem(e *Elem) uint64 {
	return uint64(uintptr(unsafe.Pointer(e)))
}

func decodeElem(bits uint64) *Elem {
	return (*Elem)(unsafe.Pointer(uintptr(bits)))
}

// Queue is the MPSC deferred-work queue. The zero value is empty and
// ready to use.
type Queue struct {
	top atomix.Uint64 // *Elem bits, newest element first
}

// Push appends e. Safe for any number of concurrent producers.
func (q *Queue) Push(e *Elem) {
	sw := spin.Wait{}
	for {
		top := q.top.LoadAcquire()
		e.next = decodeElem(top)
		if q.top.CompareAndSwapAcqRel(top, encodeElem(e)) {
			return
		}
		sw.Once()
	}
}

// DrainAll detaches the whole accumulated batch and returns it oldest
// first, linked through Next. Only one consumer may drain at a time.
func (q *Queue) DrainAll() *Elem {
	var chain *Elem
	sw := spin.Wait{}
	for {
		top := q.top.LoadAcquire()
		if top == 0 {
			return nil
		}
		if q.top.CompareAndSwapAcqRel(top, 0) {
			chain = decodeElem(top)
			break
		}
		sw.Once()
	}

	var head *Elem
	for chain != nil {
		next := chain.next
		chain.next = head
		head = chain
		chain = next
	}
	return head
}

// Empty reports whether the queue held no elements at the time of the
// load.
func (q *Queue) Empty() bool { return q.top.LoadAcquire() == 0 }
