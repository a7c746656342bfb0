// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pc

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// Stats is a point-in-time snapshot of a proxy's observational counters.
// The values are advisory: they are gathered from per-participant blocks
// without stopping concurrent callers.
type Stats struct {
	Tries      uint64 // add-node cascades started
	Successful uint64 // add-node cascades that appended their node
	Attempts   uint64 // tail enqueue CAS attempts across all cascades
	Reuse      uint64 // nodes recycled through the free list
	DataFrees  uint64 // deferred-deletion callbacks run

	// Latency is the AcquireReference walk-length histogram, indexed by
	// the number of epoch nodes stepped past before the reference
	// settled. Nil for STPC, which acquires in a single CAS.
	Latency []uint64
}

// localStats is one participant's counter block. Counters are atomic so
// Stats can snapshot a block while its owner is mid-operation.
type localStats struct {
	tries      atomix.Int64
	successful atomix.Int64
	attempts   atomix.Int64
	reuse      atomix.Int64
	dataFrees  atomix.Int64
	latency    []atomix.Int64
}

func newLocalStats(latencySize int) *localStats {
	ls := &localStats{}
	if latencySize > 0 {
		ls.latency = make([]atomix.Int64, latencySize)
	}
	return ls
}

func (ls *localStats) latencyHit(walked int) {
	if ls.latency == nil {
		return
	}
	if walked >= len(ls.latency) {
		walked = len(ls.latency) - 1
	}
	ls.latency[walked].AddAcqRel(1)
}

func (ls *localStats) addInto(s *Stats) {
	s.Tries += uint64(ls.tries.LoadRelaxed())
	s.Successful += uint64(ls.successful.LoadRelaxed())
	s.Attempts += uint64(ls.attempts.LoadRelaxed())
	s.Reuse += uint64(ls.reuse.LoadRelaxed())
	s.DataFrees += uint64(ls.dataFrees.LoadRelaxed())
	for j := range ls.latency {
		s.Latency[j] += uint64(ls.latency[j].LoadRelaxed())
	}
}

// mergeInto folds this block into dst. Called on participant detach, so
// counters accumulated by a departed worker survive in the global block.
func (ls *localStats) mergeInto(dst *localStats) {
	dst.tries.AddAcqRel(ls.tries.LoadRelaxed())
	dst.successful.AddAcqRel(ls.successful.LoadRelaxed())
	dst.attempts.AddAcqRel(ls.attempts.LoadRelaxed())
	dst.reuse.AddAcqRel(ls.reuse.LoadRelaxed())
	dst.dataFrees.AddAcqRel(ls.dataFrees.LoadRelaxed())
	for j := range ls.latency {
		if j < len(dst.latency) {
			dst.latency[j].AddAcqRel(ls.latency[j].LoadRelaxed())
		}
	}
}

// statsTable maps live participants to their counter blocks. Anonymous
// calls (made on the proxy directly rather than through a Participant)
// record into the global block.
type statsTable struct {
	latencySize int
	global      *localStats
	locals      sync.Map // *Participant -> *localStats
}

func (st *statsTable) init(latencySize int) {
	st.latencySize = latencySize
	st.global = newLocalStats(latencySize)
}

func (st *statsTable) join(pt *Participant) *localStats {
	ls := newLocalStats(st.latencySize)
	st.locals.Store(pt, ls)
	return ls
}

func (st *statsTable) detach(pt *Participant, ls *localStats) {
	st.locals.Delete(pt)
	ls.mergeInto(st.global)
}

func (st *statsTable) snapshot() Stats {
	var s Stats
	if st.latencySize > 0 {
		s.Latency = make([]uint64, st.latencySize)
	}
	st.global.addInto(&s)
	st.locals.Range(func(_, v any) bool {
		v.(*localStats).addInto(&s)
		return true
	})
	return s
}
