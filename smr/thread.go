// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/reclaim/internal/dqueue"
)

// hazardCells is the per-thread hazard array size: four pairs, one cache
// line of pointer cells.
const hazardCells = 8

type pad [64]byte

// Thread is one registered participant's reclamation state: its hazard
// pointer array, quiescent-state counter, and the two deferred-work
// queues its work rotates through between quiescent cycles.
//
// A Thread belongs to a single goroutine. Obtain one from
// [Reclaimer.Join], pass it into AcquirePair/Defer, and call Leave when
// the goroutine is done; Leave hands any still-pending deferred work back
// to the reclaimer.
type Thread struct {
	hptr [hazardCells]atomix.Uintptr
	_    pad

	ndx     atomix.Int64 // hazard cells in use; always even
	qcount  atomix.Uint64
	running atomix.Bool

	queue0 dqueue.Queue // deferred work, current quiescent cycle
	queue1 dqueue.Queue // deferred work, one observed cycle

	lastQcount uint64 // poller only

	// list and ring links, both guarded by the reclaimer mutex
	next, prev         *Thread
	ringNext, ringPrev *Thread

	r        *Reclaimer
	detached bool
}

// Quiesce announces an explicit quiescent state: at this call the owning
// goroutine holds no protected pointer obtained before it.
func (t *Thread) Quiesce() {
	t.qcount.AddAcqRel(1)
}

// SetRunning marks the thread as running or parked. A parked thread
// counts as quiescent on every poll, so long waits (blocking channel
// receive, network read) should be bracketed with SetRunning(false) /
// SetRunning(true).
func (t *Thread) SetRunning(running bool) {
	t.running.StoreRelease(running)
}

// HazardPair is a reserved pair of hazard cells: the first cell publishes
// the candidate pointer, the second the verified one, per Michael's
// algorithm. The pair protects at most one object at a time.
type HazardPair struct {
	t    *Thread
	base int
}

// AcquirePair reserves the thread's next free pair of hazard cells.
// Returns ErrWouldBlock when all pairs are in use.
func (t *Thread) AcquirePair() (HazardPair, error) {
	ndx := int(t.ndx.LoadRelaxed())
	if ndx >= hazardCells {
		return HazardPair{}, reclaim.ErrWouldBlock
	}
	t.ndx.StoreRelease(int64(ndx + 2))
	return HazardPair{t: t, base: ndx}, nil
}

// ReleasePair returns the most recently acquired pair. Pairs release in
// LIFO order; releasing out of order, or the same pair twice, panics.
func (t *Thread) ReleasePair(p HazardPair) {
	if p.t != t {
		panic("smr: hazard pair released on the wrong thread")
	}
	ndx := int(t.ndx.LoadRelaxed())
	if ndx == 0 || p.base != ndx-2 {
		panic("smr: hazard pair double free")
	}
	p.Clear()
	t.ndx.StoreRelease(int64(ndx - 2))
}

// Protect publishes ptr in both cells of the pair. The first store makes
// the candidate visible to the reclaimer's scan; the second, ordered
// behind a load, is the verified value. The usual pattern re-reads the
// shared source after Protect and retries if it moved:
//
//	for {
//		n := (*node)(q.head.Load())
//		pair.Protect(unsafe.Pointer(n))
//		if q.head.Load() == uintptr(unsafe.Pointer(n)) {
//			break // n cannot be reclaimed until Clear
//		}
//	}
func (p HazardPair) Protect(ptr unsafe.Pointer) {
	p.t.hptr[p.base].StoreRelease(uintptr(ptr))
	// load/load barrier between the two publishes
	_ = p.t.hptr[p.base].LoadAcquire()
	p.t.hptr[p.base+1].StoreRelease(uintptr(ptr))
}

// Clear withdraws the pair's protection.
func (p HazardPair) Clear() {
	p.t.hptr[p.base].StoreRelease(0)
	p.t.hptr[p.base+1].StoreRelease(0)
}
