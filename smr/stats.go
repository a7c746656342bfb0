// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import "code.hybscloud.com/atomix"

// Stats is a point-in-time snapshot of the reclaimer's observational
// counters. Advisory, not contractual.
type Stats struct {
	QuiescePoints uint64 // quiescent points observed, all causes
	Explicit      uint64 // quiescent points from Quiesce calls
	NotRunning    uint64 // quiescent points from threads parked via SetRunning(false)
	Idle          uint64 // ring scans stopped at a thread with no new quiescent point

	SMREmpty   uint64 // hazard scans skipped, queue empty
	SMRFull    uint64 // hazard scans that cleared the whole queue
	SMRPartial uint64 // hazard scans that left protected items behind

	Defers       uint64 // total Defer calls
	DeferredWork int64  // outstanding deferred items right now
}

type reclaimerStats struct {
	quiescePoints atomix.Int64
	explicit      atomix.Int64
	notRunning    atomix.Int64
	idle          atomix.Int64
	smrEmpty      atomix.Int64
	smrFull       atomix.Int64
	smrPartial    atomix.Int64
	defers        atomix.Int64
}

// CopyStats snapshots the reclaimer's counters.
func (r *Reclaimer) CopyStats() Stats {
	return Stats{
		QuiescePoints: uint64(r.stats.quiescePoints.LoadRelaxed()),
		Explicit:      uint64(r.stats.explicit.LoadRelaxed()),
		NotRunning:    uint64(r.stats.notRunning.LoadRelaxed()),
		Idle:          uint64(r.stats.idle.LoadRelaxed()),
		SMREmpty:      uint64(r.stats.smrEmpty.LoadRelaxed()),
		SMRFull:       uint64(r.stats.smrFull.LoadRelaxed()),
		SMRPartial:    uint64(r.stats.smrPartial.LoadRelaxed()),
		Defers:        uint64(r.stats.defers.LoadRelaxed()),
		DeferredWork:  r.deferred.LoadAcquire(),
	}
}
