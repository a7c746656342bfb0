// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ap

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Slot is a single differentially-counted atomic pointer cell. The zero
// value is not usable; construct one with [NewSlot].
//
// word packs {ephemeral_delta, control_block_bits} into one double-word:
// lo is the count of borrowed-but-not-yet-reconciled reader units
// against whichever control block hi currently names. A reader's Load
// CAS-increments lo without touching hi, so it only succeeds against the
// control block it actually observed; a writer's Store/Swap/CompareAndSwap
// exchanges the whole word in one CAS and folds the outgoing lo into the
// outgoing control block's own counters.
type Slot[T any] struct {
	word atomix.Uint128
}

// NewSlot creates a slot that initially holds object. destroy (may be
// nil) runs once the object has no readers and has been replaced by a
// later Store/Swap/CompareAndSwap, or once the slot itself is abandoned
// after a final Swap/CompareAndSwap releases it.
func NewSlot[T any](object *T, destroy func(*T)) *Slot[T] {
	cb := newControlBlock(object, destroy)
	cb.claim()
	s := &Slot[T]{}
	s.word.StoreRelaxed(0, encodeCB(cb))
	return s
}

// Load borrows the currently stored object. The returned handle must be
// released with Release.
func (s *Slot[T]) Load() *Handle[T] {
	sw := spin.Wait{}
	for {
		delta, bits := s.word.LoadAcquire()
		if s.word.CompareAndSwapAcqRel(delta, bits, delta+1, bits) {
			return &Handle[T]{cb: decodeCB[T](bits), slot: s, kind: kindSlotEphemeral}
		}
		sw.Once()
	}
}

// CompareTo reports whether the slot currently holds object, without
// borrowing a handle. The answer can be stale by the time the caller
// acts on it; use CompareAndSwap for a decision that has to hold.
func (s *Slot[T]) CompareTo(object *T) bool {
	_, bits := s.word.LoadAcquire()
	cb := decodeCB[T](bits)
	return cb != nil && cb.object == object
}

// releaseViaSlot returns one borrowed unit directly to the slot, without
// touching the control block, provided the slot still names cb. Reports
// whether that fast path applied.
func (s *Slot[T]) releaseViaSlot(cb *controlBlock[T]) bool {
	sw := spin.Wait{}
	for {
		delta, bits := s.word.LoadAcquire()
		if decodeCB[T](bits) != cb {
			return false
		}
		if s.word.CompareAndSwapAcqRel(delta, bits, delta-1, bits) {
			return true
		}
		sw.Once()
	}
}

// Store publishes h as the slot's new content, discarding whatever
// handle the caller may have held on the previous object. h must be a
// fresh handle from [NewHandle] that has not yet been stored, swapped,
// or compared in anywhere else; reusing a consumed handle panics.
func (s *Slot[T]) Store(h *Handle[T]) {
	if h.kind != kindUnpublished {
		panic("ap: handle is not publishable (already stored or borrowed)")
	}
	h.cb.claim()
	newBits := encodeCB(h.cb)
	h.kind = kindConsumed
	sw := spin.Wait{}
	for {
		delta, oldBits := s.word.LoadAcquire()
		if s.word.CompareAndSwapAcqRel(delta, oldBits, 0, newBits) {
			if oldCB := decodeCB[T](oldBits); oldCB != nil {
				oldCB.adjust(delta, 1)
			}
			return
		}
		sw.Once()
	}
}

// Swap publishes h as the slot's new content and returns a handle on the
// object it replaced. The returned handle must be released. h must be a
// fresh handle from [NewHandle].
func (s *Slot[T]) Swap(h *Handle[T]) *Handle[T] {
	if h.kind != kindUnpublished {
		panic("ap: handle is not publishable (already stored or borrowed)")
	}
	h.cb.claim()
	newBits := encodeCB(h.cb)
	h.kind = kindConsumed
	sw := spin.Wait{}
	for {
		delta, oldBits := s.word.LoadAcquire()
		if s.word.CompareAndSwapAcqRel(delta, oldBits, 0, newBits) {
			oldCB := decodeCB[T](oldBits)
			// Fold the outgoing borrows plus one more unit for the
			// handle we are about to hand back to the caller.
			oldCB.adjust(delta+1, 1)
			return &Handle[T]{cb: oldCB, kind: kindDetachedEphemeral}
		}
		sw.Once()
	}
}

// CompareAndSwap publishes new in place of expected's object, but only if
// the slot still holds exactly the object expected was borrowed from. new
// must be a fresh handle from [NewHandle].
//
// On success expected is consumed (its borrow is folded into the
// outgoing object's reconciliation) and true is returned. On failure
// *expected is replaced with a freshly borrowed handle on whatever the
// slot actually holds, so a caller retrying a CAS loop never leaks the
// reference it was holding.
func (s *Slot[T]) CompareAndSwap(expected, new *Handle[T]) bool {
	if new.kind != kindUnpublished {
		panic("ap: handle is not publishable (already stored or borrowed)")
	}
	sw := spin.Wait{}
	for {
		delta, bits := s.word.LoadAcquire()
		if decodeCB[T](bits) != expected.cb {
			stale := *expected
			fresh := s.Load()
			stale.Release()
			*expected = *fresh
			return false
		}
		new.cb.claim()
		newBits := encodeCB(new.cb)
		if s.word.CompareAndSwapAcqRel(delta, bits, 0, newBits) {
			new.kind = kindConsumed
			// delta includes expected's own borrow, which is consumed here.
			expected.cb.adjust(delta-1, 1)
			expected.kind = kindConsumed
			return true
		}
		sw.Once()
	}
}
