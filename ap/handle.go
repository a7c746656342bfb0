// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ap

type handleKind uint8

const (
	// kindUnpublished is a freshly constructed handle that has not yet
	// been stored into a Slot. It owns nothing in the control block's
	// counters; Release on it is a no-op.
	kindUnpublished handleKind = iota
	// kindSlotEphemeral was returned by Slot.Load. Release first tries
	// to hand the borrowed unit straight back to the slot it came from;
	// only if the slot has moved on does it fall back to a direct drop
	// against the control block.
	kindSlotEphemeral
	// kindDetachedEphemeral was returned by Slot.Swap (the object a
	// writer just replaced). Release always drops directly.
	kindDetachedEphemeral
	// kindConsumed means ownership has already been transferred
	// (published via Store/Swap/CompareAndSwap, or already released).
	kindConsumed
)

// Handle is a caller-held reference to a live T, obtained from
// [NewHandle] or from a [Slot]'s Load/Swap. The object behind it is
// guaranteed not to be destroyed until Release is called.
type Handle[T any] struct {
	cb   *controlBlock[T]
	slot *Slot[T]
	kind handleKind
}

// NewHandle wraps object in a fresh, unpublished handle. destroy (may be
// nil) runs exactly once, when the object's last reference anywhere is
// released after the handle has been stored into a Slot.
//
// The returned handle owns no counted reference until it is passed to a
// Slot's Store, Swap, or CompareAndSwap; dropping it unstored and
// unreleased skips destroy entirely, identical to dropping any other
// unshared Go value.
func NewHandle[T any](object *T, destroy func(*T)) *Handle[T] {
	return &Handle[T]{cb: newControlBlock(object, destroy)}
}

// Get returns the pointee. Valid until Release.
func (h *Handle[T]) Get() *T {
	if h == nil || h.cb == nil {
		return nil
	}
	return h.cb.object
}

// Release gives up this handle's claim on the object. Calling Release
// twice on the same handle panics.
func (h *Handle[T]) Release() {
	if h == nil || h.cb == nil {
		return
	}
	switch h.kind {
	case kindUnpublished:
		h.kind = kindConsumed
		return
	case kindConsumed:
		panic("ap: handle released twice")
	case kindSlotEphemeral:
		h.kind = kindConsumed
		if h.slot != nil && h.slot.releaseViaSlot(h.cb) {
			return
		}
		h.cb.releaseEphemeral(1)
	case kindDetachedEphemeral:
		h.kind = kindConsumed
		h.cb.releaseEphemeral(1)
	}
}
