// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/reclaim/internal/dqueue"
)

// DefaultMinWait is the poller's default sleep between scans while
// deferred work is outstanding.
const DefaultMinWait = 50 * time.Millisecond

// shutdownPoll bounds the poller's sleep once shutdown has been
// requested, so departing threads are noticed promptly.
const shutdownPoll = 10 * time.Millisecond

// Reclaimer is the hazard-pointer SMR engine plus its RCU quiescent-state
// poller. Construct with [Startup], which launches the poller goroutine;
// [Shutdown] stops it after all deferred work has been reclaimed.
//
// The mutex guards the thread list, the RCU ring, and register/leave; the
// hot paths (Defer, hazard publish, Quiesce) never take it, except for a
// single wakeup signal on the empty-to-nonempty transition of the
// deferred-work count.
type Reclaimer struct {
	mu   sync.Mutex
	cond *sync.Cond

	threads *Thread // registered threads (mu)
	ring    *Thread // current RCU ring position (mu)

	smrQueue   dqueue.Queue // work awaiting hazard verification (poller)
	readyQueue dqueue.Queue // work cleared to run (poller, plus leave handoff)
	smrCount   int          // items on smrQueue (mu)

	sequence atomix.Uint64 // hazard scan sequence
	deferred atomix.Int64  // outstanding deferred work
	minWait  atomix.Int64  // poller sleep, nanoseconds

	shutdown bool // mu
	closed   atomix.Bool
	done     chan struct{}

	// Deferred work travels the queues as integer-encoded chain links;
	// pins keeps each item visible to the garbage collector until its
	// function has run.
	pins sync.Map // *Work -> struct{}

	hsnap []uintptr // hazard snapshot scratch (poller)

	stats reclaimerStats
}

// Startup creates a reclaimer and launches its poller goroutine.
func Startup() *Reclaimer {
	r := &Reclaimer{done: make(chan struct{})}
	r.cond = sync.NewCond(&r.mu)
	r.minWait.StoreRelaxed(int64(DefaultMinWait))
	r.hsnap = make([]uintptr, 0, 64)
	go r.poll()
	return r
}

// SetMinWait bounds reclamation latency: the poller rescans at least this
// often while deferred work is outstanding.
func (r *Reclaimer) SetMinWait(d time.Duration) {
	if d > 0 {
		r.minWait.StoreRelease(int64(d))
	}
}

// MinWait returns the configured poller rescan interval.
func (r *Reclaimer) MinWait() time.Duration {
	return time.Duration(r.minWait.LoadAcquire())
}

// Join registers the calling goroutine and returns its Thread handle.
// Returns ErrClosed after Shutdown.
func (r *Reclaimer) Join() (*Thread, error) {
	if r.closed.LoadAcquire() {
		return nil, reclaim.ErrClosed
	}
	t := &Thread{r: r}
	t.running.StoreRelease(true)

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil, reclaim.ErrClosed
	}

	t.next = r.threads
	if r.threads != nil {
		r.threads.prev = t
	}
	r.threads = t

	// Link into the ring prior to the current position; joining counts
	// as a quiescent point for the new thread.
	t.lastQcount = t.qcount.LoadAcquire()
	if r.ring == nil {
		t.ringNext, t.ringPrev = t, t
		r.ring = t
	} else {
		t.ringNext = r.ring
		t.ringPrev = r.ring.ringPrev
		r.ring.ringPrev = t
		t.ringPrev.ringNext = t
	}
	r.mu.Unlock()
	return t, nil
}

// Defer hands w to the reclaimer: w.fn(w.arg) will run once two
// quiescent cycles and a hazard-pointer verification have passed. The
// work item belongs to the reclaimer until then.
func (r *Reclaimer) Defer(t *Thread, w *Work) {
	if t == nil || t.detached {
		panic("smr: defer on a detached thread")
	}
	if w.class == 0 {
		panic("smr: defer of an uninitialized work item")
	}
	if r.closed.LoadAcquire() {
		panic("smr: defer after shutdown")
	}

	w.sequence = r.sequence.LoadAcquire() - 1
	w.state.StoreRelease(statePass1)
	r.pins.Store(w, struct{}{})
	t.queue0.Push(&w.elem)
	r.stats.defers.AddAcqRel(1)

	if r.deferred.AddAcqRel(1) == 1 {
		r.mu.Lock()
		r.cond.Signal()
		r.mu.Unlock()
	}
}

// Leave deregisters t. Hazard cells are drained, and deferred work still
// pending on t's queues is handed to a neighboring thread — or straight
// through the remaining reclamation stages if t was the last registered
// thread, so nothing is ever dropped. Leaving twice panics.
func (t *Thread) Leave() {
	r := t.r
	r.mu.Lock()
	if t.detached {
		r.mu.Unlock()
		panic("smr: thread left twice")
	}
	t.detached = true
	for i := range t.hptr {
		t.hptr[i].StoreRelease(0)
	}
	t.ndx.StoreRelease(0)

	if t.next != nil {
		t.next.prev = t.prev
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		r.threads = t.next
	}

	if r.threads == nil {
		// No hazard-pointer threads remain: nothing can be protected,
		// so everything awaiting verification advances to its second
		// pass directly.
		for e := r.smrQueue.DrainAll(); e != nil; {
			next := e.Next()
			r.smrCount--
			r.rcuEnqueue(elemWork(e), statePass2)
			e = next
		}
	}

	r.ringRemove(t)
	r.cond.Broadcast()
	r.mu.Unlock()
}

// ringRemove delinks t from the RCU ring. Caller holds the mutex.
func (r *Reclaimer) ringRemove(t *Thread) {
	if r.ring == nil {
		return
	}

	if t.ringNext == t { // last node
		r.ring = nil
		r.requeue(&t.queue0)
		r.requeue(&t.queue1)
		return
	}

	// Bump the current position forward if necessary; bumping backwards
	// would revisit the previous node without checkpointing the
	// intermediate ones.
	if r.ring == t {
		r.ring = t.ringNext
	}
	t.ringPrev.ringNext = t.ringNext
	t.ringNext.ringPrev = t.ringPrev

	// The neighbor ahead of us sees its next quiescent cycle no earlier
	// than t's pending work requires, so the work keeps its progress.
	moveAll(&t.ringNext.queue0, &t.queue0)
	moveAll(&t.ringNext.queue1, &t.queue1)
}

// Shutdown stops accepting new work, waits until every outstanding
// deferred item has been reclaimed, and joins the poller goroutine.
// Threads still registered with pending work must Leave for Shutdown to
// complete.
func (r *Reclaimer) Shutdown() {
	r.mu.Lock()
	if !r.shutdown {
		r.shutdown = true
		r.closed.StoreRelease(true)
		r.cond.Broadcast()
	}
	r.mu.Unlock()
	<-r.done
}

// moveAll transfers src's batch to dst, oldest first.
func moveAll(dst, src *dqueue.Queue) {
	for e := src.DrainAll(); e != nil; {
		next := e.Next()
		dst.Push(e)
		e = next
	}
}

// requeue advances a drained thread queue: pass1 work goes to hazard
// verification, everything further along is ready to run. Caller holds
// the mutex.
func (r *Reclaimer) requeue(q *dqueue.Queue) {
	for e := q.DrainAll(); e != nil; {
		next := e.Next()
		w := elemWork(e)
		if w.state.LoadRelaxed() == statePass1 {
			r.smrEnqueue(w)
		} else {
			r.readyQueue.Push(&w.elem)
		}
		e = next
	}
}

// smrEnqueue queues w for hazard verification, or skips the scan stage
// entirely when no hazard-pointer threads exist. Caller holds the mutex.
func (r *Reclaimer) smrEnqueue(w *Work) {
	if r.threads != nil {
		w.state.StoreRelaxed(stateSMR)
		r.smrQueue.Push(&w.elem)
		r.smrCount++
	} else {
		r.rcuEnqueue(w, statePass2)
	}
}

// rcuEnqueue starts w on another quiescent cycle at the current ring
// position, or routes it onward when no ring exists. Caller holds the
// mutex.
func (r *Reclaimer) rcuEnqueue(w *Work, state int32) {
	w.state.StoreRelaxed(state)
	if r.ring != nil {
		r.ring.queue0.Push(&w.elem)
	} else if state == statePass1 {
		r.smrEnqueue(w)
	} else {
		r.readyQueue.Push(&w.elem)
	}
}
