// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pc

import "code.hybscloud.com/iox"

// Proxy is the surface shared by the two collector variants, [RCPC] and
// [STPC].
//
// Readers bracket access to a shared structure with AcquireReference and
// DropReference; any deletion deferred after an acquire returned will not
// run before the matching drop. Writers hand removed objects to
// DeferDelete, which runs freeFn(data) once every reference predating the
// call has been dropped.
type Proxy interface {
	// AcquireReference binds the caller to the current epoch. The
	// returned token must be passed to DropReference exactly once.
	AcquireReference() NodeRef

	// DropReference releases a token from AcquireReference. Passing a
	// zero token panics. A token dropped twice is detected only when the
	// extra drop takes a closed epoch's count below zero, which panics;
	// otherwise it goes unnoticed.
	DropReference(NodeRef)

	// DeferDelete schedules freeFn(data) to run once no reference that
	// predates this call remains outstanding. When the node pool is at
	// its cap, backoff(attempt) is called between retries; a nil backoff
	// uses an adaptive [iox.Backoff]. Returns ErrClosed on a closed
	// proxy, nil otherwise.
	DeferDelete(freeFn func(any), data any, backoff func(attempt int)) error

	// TryDeferDelete is DeferDelete without the retry loop: it returns
	// ErrWouldBlock instead of backing off when the node pool is
	// exhausted.
	TryDeferDelete(freeFn func(any), data any) error

	// TryReleaseNodes pops up to count idle nodes from the free list and
	// returns them to the allocator, reporting how many were released.
	TryReleaseNodes(count int) int

	// Join registers a participant whose operations record into its own
	// statistics block, merged back on Detach.
	Join() *Participant

	NodeCount() uint32
	MaxNodes() uint32
	SetMaxNodes(uint32)
	Stats() Stats

	// Close marks the proxy closed; subsequent DeferDelete calls return
	// ErrClosed. Nodes and undelivered deferrals are left to the garbage
	// collector.
	Close()
}

// proxyOps is the variant-side contract behind Proxy and Participant.
type proxyOps interface {
	acquireReference(ls *localStats) NodeRef
	dropReference(ls *localStats, ref NodeRef)
	deferDelete(ls *localStats, freeFn func(any), data any, backoff func(int)) error
	tryDeferDelete(ls *localStats, freeFn func(any), data any) error
	table() *statsTable
}

// Participant is a per-worker handle onto a proxy. Operations made
// through it are identical to the proxy-level ones but account into a
// participant-local statistics block, which Detach merges into the
// proxy's global block.
//
// A Participant is intended for a single goroutine; the proxy itself
// remains safe for any number of concurrent callers.
type Participant struct {
	ops proxyOps
	ls  *localStats
}

func newParticipant(ops proxyOps) *Participant {
	pt := &Participant{ops: ops}
	pt.ls = ops.table().join(pt)
	return pt
}

func (pt *Participant) AcquireReference() NodeRef {
	return pt.ops.acquireReference(pt.ls)
}

func (pt *Participant) DropReference(ref NodeRef) {
	pt.ops.dropReference(pt.ls, ref)
}

func (pt *Participant) DeferDelete(freeFn func(any), data any, backoff func(attempt int)) error {
	return pt.ops.deferDelete(pt.ls, freeFn, data, backoff)
}

func (pt *Participant) TryDeferDelete(freeFn func(any), data any) error {
	return pt.ops.tryDeferDelete(pt.ls, freeFn, data)
}

// Detach merges this participant's counters into the proxy and retires
// the handle. Detaching twice panics.
func (pt *Participant) Detach() {
	if pt.ls == nil {
		panic("pc: participant detached twice")
	}
	pt.ops.table().detach(pt, pt.ls)
	pt.ls = nil
}

// defaultBackoff adapts iox's adaptive wait to the backoff(attempt)
// contract for callers that pass nil.
func defaultBackoff() func(int) {
	bo := iox.Backoff{}
	return func(int) { bo.Wait() }
}
