// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import "time"

// poll is the reclaimer's dedicated goroutine: sample quiescent states,
// verify hazard pointers, run ready work, sleep.
func (r *Reclaimer) poll() {
	r.mu.Lock()
	for {
		r.rcuScan()
		r.smrScan()
		if r.drainReady() > 0 {
			continue
		}

		if r.deferred.LoadAcquire() == 0 {
			if r.shutdown {
				break
			}
			r.cond.Wait()
			continue
		}

		if r.shutdown {
			r.waitTimeout(shutdownPoll)
		} else {
			r.waitTimeout(time.Duration(r.minWait.LoadAcquire()))
		}
	}
	r.mu.Unlock()
	close(r.done)
}

// waitTimeout is cond.Wait with an upper bound. Caller holds the mutex.
func (r *Reclaimer) waitTimeout(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.AfterFunc(d, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	r.cond.Wait()
	timer.Stop()
}

// rcuScan walks the ring from the current position, advancing past every
// thread that has hit a quiescent point since the last scan. Each advance
// rotates the queues of the thread the scan moves onto one stage: queue1
// drains onward, queue0 becomes queue1. Stops at the first thread with no
// quiescent point. Caller holds the mutex.
func (r *Reclaimer) rcuScan() {
	node := r.ring
	if node == nil {
		return
	}
	for {
		qcount := node.qcount.LoadAcquire()
		if !node.running.LoadAcquire() {
			r.stats.notRunning.AddAcqRel(1)
		} else if qcount != node.lastQcount {
			r.stats.explicit.AddAcqRel(1)
		} else {
			r.stats.idle.AddAcqRel(1)
			break
		}

		node.lastQcount = qcount
		r.stats.quiescePoints.AddAcqRel(1)

		node = node.ringNext
		r.requeue(&node.queue1)
		moveAll(&node.queue1, &node.queue0)

		if node == r.ring {
			break
		}
	}
	r.ring = node
}

// smrScan snapshots every registered thread's hazard cells, then walks
// the verification queue: items still protected (directly, through a
// FIFO predecessor, or through a trace-reachable chain) stay for another
// scan; the rest advance to their second quiescent cycle. Caller holds
// the mutex.
func (r *Reclaimer) smrScan() {
	if r.smrCount == 0 {
		r.stats.smrEmpty.AddAcqRel(1)
		return
	}

	current := r.sequence.AddAcqRel(1)

	r.hsnap = r.hsnap[:0]
	for t := r.threads; t != nil; t = t.next {
		ndx := int(t.ndx.LoadAcquire())
		if ndx > hazardCells {
			ndx = hazardCells
		}
		for j := 0; j < ndx; j += 2 {
			// the acquire loads order the pair's two cells
			r.hsnap = append(r.hsnap, t.hptr[j].LoadAcquire())
			r.hsnap = append(r.hsnap, t.hptr[j+1].LoadAcquire())
		}
	}

	head := r.smrQueue.DrainAll()

	// Mark everything the snapshot can still reach.
	for e := head; e != nil; e = e.Next() {
		w := elemWork(e)
		referenced := false
		if p := uintptr(w.arg); p != 0 {
			for _, h := range r.hsnap {
				if h == p {
					referenced = true
					break
				}
			}
		}

		if referenced {
			switch w.class {
			case classTrace:
				w.sequence = current
				w.forrefs(w.arg, func(d *Work) bool {
					if d.state.LoadAcquire() != stateLive {
						d.sequence = current
						return true
					}
					return false
				})
			case classFIFO:
				w.sequence = current
				w.cohort.sequence.StoreRelease(current)
			}
		} else if w.class == classFIFO {
			// Unreferenced, but the cohort's last protected item still
			// gates it: inherit the cohort sequence so reclamation never
			// overtakes program order within the group.
			w.sequence = w.cohort.sequence.LoadAcquire()
		}
	}

	partial := false
	for e := head; e != nil; {
		next := e.Next()
		w := elemWork(e)
		if w.sequence == current {
			r.smrQueue.Push(&w.elem)
			partial = true
		} else {
			r.smrCount--
			r.rcuEnqueue(w, statePass2)
		}
		e = next
	}

	if partial {
		r.stats.smrPartial.AddAcqRel(1)
	} else {
		r.stats.smrFull.AddAcqRel(1)
	}
}

// drainReady runs every cleared work function outside the mutex and
// returns how many ran. Caller holds the mutex.
func (r *Reclaimer) drainReady() int {
	head := r.readyQueue.DrainAll()
	if head == nil {
		return 0
	}

	r.mu.Unlock()
	n := 0
	for e := head; e != nil; {
		next := e.Next()
		w := elemWork(e)
		fn, arg := w.fn, w.arg
		// Reset before running: fn may recycle the node (and its
		// embedded Work) for another round of deferral.
		w.state.StoreRelease(stateLive)
		r.pins.Delete(w)
		fn(arg)
		r.deferred.AddAcqRel(-1)
		n++
		e = next
	}
	r.mu.Lock()
	return n
}
