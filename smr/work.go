// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/reclaim/internal/dqueue"
)

type workClass uint8

const (
	classFIFO workClass = iota + 1
	classTrace
)

// Work item states, in advancement order. A deferred item must observe a
// quiescent cycle (pass1), survive a hazard-pointer scan (smr), then
// observe a second quiescent cycle (pass2) before its function runs.
const (
	stateLive  int32 = iota // not yet deferred; the zero value
	statePass1              // first quiescent cycle pending
	stateSMR                // hazard-pointer verification pending
	statePass2              // second quiescent cycle pending
)

// Cohort is the shared sequence anchor of a group of FIFO-class work
// items. Items deferred against the same cohort are reclaimed strictly in
// the order they were deferred: while any earlier item is still hazard
// protected, the cohort's sequence pins every later item in place.
//
// The ordering contract assumes one goroutine defers into a given cohort
// at a time (one consumer per FIFO group).
type Cohort struct {
	sequence atomix.Uint64
}

// NewCohort creates the anchor for one FIFO reclamation group.
func NewCohort() *Cohort { return &Cohort{} }

// Work is one deferred reclamation. Embed it (as any field) in the node
// it reclaims so trace callbacks can reach it, or allocate it standalone
// with NewFIFOWork/NewTraceWork. Initialize with InitFIFO or InitTrace
// before passing it to Defer; after Defer the item belongs to the
// reclaimer until its function has run.
//
// The zero Work reads as live, which is what trace callbacks expect of a
// node that has not been unlinked yet.
type Work struct {
	elem dqueue.Elem // must stay first: chain links recover *Work by conversion

	fn  func(unsafe.Pointer)
	arg unsafe.Pointer

	forrefs func(unsafe.Pointer, func(*Work) bool)
	cohort  *Cohort

	sequence uint64
	class    workClass
	state    atomix.Int32
}

// InitFIFO prepares w as a FIFO-class deferral of fn(arg) ordered within
// cohort.
func (w *Work) InitFIFO(fn func(unsafe.Pointer), arg unsafe.Pointer, cohort *Cohort) {
	if cohort == nil {
		panic("smr: fifo work needs a cohort")
	}
	w.fn = fn
	w.arg = arg
	w.forrefs = nil
	w.cohort = cohort
	w.class = classFIFO
	w.state.StoreRelaxed(stateLive)
}

// InitTrace prepares w as a trace-class deferral of fn(arg). During each
// hazard scan that still sees arg protected, forrefs(arg, visit) is
// called; the callback should invoke visit on the Work of every node
// reachable from arg and keep walking while visit returns true, extending
// hazard protection over the whole reachable chain.
func (w *Work) InitTrace(fn func(unsafe.Pointer), arg unsafe.Pointer, forrefs func(unsafe.Pointer, func(*Work) bool)) {
	if forrefs == nil {
		panic("smr: trace work needs a forrefs callback")
	}
	w.fn = fn
	w.arg = arg
	w.forrefs = forrefs
	w.cohort = nil
	w.class = classTrace
	w.state.StoreRelaxed(stateLive)
}

// NewFIFOWork allocates and initializes a FIFO-class work item.
func NewFIFOWork(fn func(unsafe.Pointer), arg unsafe.Pointer, cohort *Cohort) *Work {
	w := &Work{}
	w.InitFIFO(fn, arg, cohort)
	return w
}

// NewTraceWork allocates and initializes a trace-class work item.
func NewTraceWork(fn func(unsafe.Pointer), arg unsafe.Pointer, forrefs func(unsafe.Pointer, func(*Work) bool)) *Work {
	w := &Work{}
	w.InitTrace(fn, arg, forrefs)
	return w
}

func elemWork(e *dqueue.Elem) *Work {
	return (*Work)(unsafe.Pointer(e))
}
