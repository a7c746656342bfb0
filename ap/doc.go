// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ap implements the differentially-counted atomic pointer: a
// reference-counted smart pointer that can be loaded, stored, and swapped
// from many goroutines at once with a single double-word CAS per
// operation, and no lost-increment race against a concurrent swap.
//
// # Why differential counting
//
// A naive "atomic refcounted pointer" increments a counter on the target
// object, then loads the pointer. Between those two steps a writer can
// swap the slot to a new object and drop the old one to zero, so the
// reader's increment lands on an object already being destroyed. AP
// closes that window by packing the pointer and a borrow counter into the
// same double-word slot: a reader's CAS only succeeds if the pointer it
// observed is still current, so the borrow and the load are atomic with
// respect to any writer. The borrowed unit (the "ephemeral" count) is
// reconciled into the object's own persistent counters only when a writer
// later swaps the slot away from that object, never before.
//
// # Usage
//
//	slot := ap.NewSlot(obj, destroyFn)
//	h := slot.Load()       // borrow the current object
//	defer h.Release()
//	v := h.Get()            // *T, valid until Release
//
//	next := ap.NewHandle(newObj, destroyFn)
//	old := slot.Swap(next)  // publish newObj, get a handle on the old one
//	defer old.Release()
package ap
