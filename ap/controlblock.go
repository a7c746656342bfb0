// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ap

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// controlBlock is the per-object record a Handle[T] points at. Its two
// counters are packed into one double-word so a writer's reconciliation
// (ephemeral add + reference drop) commits with a single CAS: the object
// is live while ephemeral+reference > 0 and is destroyed the instant a
// CAS drives that sum to zero.
type controlBlock[T any] struct {
	counts  atomix.Uint128 // lo = ephemeral, hi = reference
	object  *T
	destroy func(*T)
}

func newControlBlock[T any](object *T, destroy func(*T)) *controlBlock[T] {
	return &controlBlock[T]{object: object, destroy: destroy}
}

func encodeCB[T any](cb *controlBlock[T]) uint64 {
	return uint64(uintptr(unsafe.Pointer(cb)))
}

func decodeCB[T any](bits uint64) *controlBlock[T] {
	return (*controlBlock[T])(unsafe.Pointer(uintptr(bits)))
}

// addEphemeral records delta more outstanding borrows directly against the
// control block. The Slot operations do not call it: they fold borrows in
// through adjust, and a borrow that can no longer be returned through its
// slot is dropped with releaseEphemeral.
func (cb *controlBlock[T]) addEphemeral(delta uint64) {
	if delta == 0 {
		return
	}
	for {
		lo, hi := cb.counts.LoadAcquire()
		if cb.counts.CompareAndSwapAcqRel(lo, hi, lo+delta, hi) {
			return
		}
	}
}

// releaseEphemeral drops delta borrowed units. If the combined count
// reaches zero, the object is destroyed (or handed to the recycle
// callback) under an acquire fence.
func (cb *controlBlock[T]) releaseEphemeral(delta uint64) {
	for {
		lo, hi := cb.counts.LoadAcquire()
		newLo := lo - delta
		if cb.counts.CompareAndSwapAcqRel(lo, hi, newLo, hi) {
			if newLo+hi == 0 {
				cb.destroyNow()
			}
			return
		}
	}
}

// adjust applies a writer's reconciliation: fold addEphemeral outstanding
// borrows into the ephemeral counter and drop subReference persistent
// (slot-held) references, in one CAS.
func (cb *controlBlock[T]) adjust(addEphemeral, subReference uint64) {
	for {
		lo, hi := cb.counts.LoadAcquire()
		newLo := lo + addEphemeral
		newHi := hi - subReference
		if cb.counts.CompareAndSwapAcqRel(lo, hi, newLo, newHi) {
			if newLo+newHi == 0 {
				cb.destroyNow()
			}
			return
		}
	}
}

// claim installs this control block as freshly stored by one slot,
// setting its persistent reference to 1. Called exactly once, by whichever
// Store/Swap/CompareAndSwap call first publishes a brand new handle.
func (cb *controlBlock[T]) claim() {
	cb.counts.StoreRelaxed(0, 1)
}

func (cb *controlBlock[T]) destroyNow() {
	// Acquire fence: no store made visible by a concurrent drop may be
	// reordered after the free below.
	_, _ = cb.counts.LoadAcquire()
	if cb.destroy != nil {
		cb.destroy(cb.object)
	}
}
