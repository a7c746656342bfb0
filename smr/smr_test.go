// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/reclaim/smr"
)

// spinUntil drives quiescent points through the given threads until cond
// holds or the deadline passes.
func spinUntil(t *testing.T, cond func() bool, threads ...*smr.Thread) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached within deadline")
		}
		for _, th := range threads {
			th.Quiesce()
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReclaimerMinWait(t *testing.T) {
	r := smr.Startup()
	defer r.Shutdown()

	if r.MinWait() != smr.DefaultMinWait {
		t.Fatalf("default MinWait: got %v, want %v", r.MinWait(), smr.DefaultMinWait)
	}
	r.SetMinWait(2 * time.Millisecond)
	if r.MinWait() != 2*time.Millisecond {
		t.Fatalf("MinWait after set: got %v", r.MinWait())
	}
	r.SetMinWait(0) // ignored
	if r.MinWait() != 2*time.Millisecond {
		t.Fatalf("MinWait accepted a non-positive value")
	}
}

func TestJoinAfterShutdown(t *testing.T) {
	r := smr.Startup()
	r.Shutdown()
	if _, err := r.Join(); !errors.Is(err, reclaim.ErrClosed) {
		t.Fatalf("Join after Shutdown: got %v, want ErrClosed", err)
	}
}

func TestHazardPairAccounting(t *testing.T) {
	r := smr.Startup()
	defer r.Shutdown()

	th, err := r.Join()
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer th.Leave()

	var pairs []smr.HazardPair
	for {
		p, err := th.AcquirePair()
		if err != nil {
			if !reclaim.IsWouldBlock(err) {
				t.Fatalf("AcquirePair: %v", err)
			}
			break
		}
		pairs = append(pairs, p)
	}
	if len(pairs) != 4 {
		t.Fatalf("acquired %d pairs, want 4", len(pairs))
	}

	for i := len(pairs) - 1; i >= 0; i-- {
		th.ReleasePair(pairs[i])
	}

	p, err := th.AcquirePair()
	if err != nil {
		t.Fatalf("AcquirePair after release: %v", err)
	}
	th.ReleasePair(p)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("double release did not panic")
			}
		}()
		th.ReleasePair(p)
	}()
}

func TestReclaimerShutdownDrains(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	const writers = 8
	const perWriter = 1000

	r := smr.Startup()
	r.SetMinWait(time.Millisecond)

	var freed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th, err := r.Join()
			if err != nil {
				t.Errorf("Join: %v", err)
				return
			}
			cohort := smr.NewCohort()
			nodes := make([]int64, perWriter)
			for i := range nodes {
				wk := smr.NewFIFOWork(func(unsafe.Pointer) { freed.Add(1) },
					unsafe.Pointer(&nodes[i]), cohort)
				r.Defer(th, wk)
			}
			th.Leave()
		}()
	}
	wg.Wait()

	r.Shutdown()

	if got := freed.Load(); got != writers*perWriter {
		t.Fatalf("freed after Shutdown: got %d, want %d", got, writers*perWriter)
	}
	s := r.CopyStats()
	if s.Defers != writers*perWriter {
		t.Fatalf("Stats.Defers: got %d, want %d", s.Defers, writers*perWriter)
	}
	if s.DeferredWork != 0 {
		t.Fatalf("Stats.DeferredWork after Shutdown: got %d, want 0", s.DeferredWork)
	}
}

func TestHazardPointerBlocksReclaim(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	r := smr.Startup()
	r.SetMinWait(time.Millisecond)
	defer r.Shutdown()

	reader, err := r.Join()
	if err != nil {
		t.Fatalf("Join reader: %v", err)
	}
	writer, err := r.Join()
	if err != nil {
		t.Fatalf("Join writer: %v", err)
	}

	obj := new(int64)
	pair, err := reader.AcquirePair()
	if err != nil {
		t.Fatalf("AcquirePair: %v", err)
	}
	pair.Protect(unsafe.Pointer(obj))

	var freed atomic.Int64
	cohort := smr.NewCohort()
	r.Defer(writer, smr.NewFIFOWork(func(unsafe.Pointer) { freed.Add(1) },
		unsafe.Pointer(obj), cohort))

	// Drive plenty of quiescent cycles; the hazard pair must keep the
	// object alive through all of them.
	for i := 0; i < 100; i++ {
		reader.Quiesce()
		writer.Quiesce()
		time.Sleep(time.Millisecond)
	}
	if freed.Load() != 0 {
		t.Fatalf("object reclaimed while hazard protected")
	}

	pair.Clear()
	spinUntil(t, func() bool { return freed.Load() == 1 }, reader, writer)

	reader.ReleasePair(pair)
	s := r.CopyStats()
	if s.QuiescePoints == 0 || s.Explicit == 0 {
		t.Fatalf("quiescent points not recorded: %+v", s)
	}
	if s.SMRPartial == 0 {
		t.Fatalf("no partial hazard scan recorded while the object was protected")
	}
	reader.Leave()
	writer.Leave()
}

func TestFIFOCohortOrder(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	const items = 6
	const protected = 2 // index of the hazard-protected item

	r := smr.Startup()
	r.SetMinWait(time.Millisecond)
	defer r.Shutdown()

	reader, _ := r.Join()
	writer, _ := r.Join()

	nodes := make([]int64, items)
	pair, err := reader.AcquirePair()
	if err != nil {
		t.Fatalf("AcquirePair: %v", err)
	}
	pair.Protect(unsafe.Pointer(&nodes[protected]))

	var mu sync.Mutex
	var order []int
	var freedCount atomic.Int64
	record := func(i int) func(unsafe.Pointer) {
		return func(unsafe.Pointer) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			freedCount.Add(1)
		}
	}

	cohort := smr.NewCohort()
	for i := 0; i < items; i++ {
		r.Defer(writer, smr.NewFIFOWork(record(i), unsafe.Pointer(&nodes[i]), cohort))
	}

	// Only the items deferred before the protected one may reclaim while
	// the hazard is up.
	spinUntil(t, func() bool { return freedCount.Load() == protected }, reader, writer)
	for i := 0; i < 50; i++ {
		reader.Quiesce()
		writer.Quiesce()
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	got := append([]int(nil), order...)
	mu.Unlock()
	if len(got) != protected {
		t.Fatalf("freed %v while item %d was protected", got, protected)
	}

	pair.Clear()
	spinUntil(t, func() bool { return freedCount.Load() == items }, reader, writer)

	mu.Lock()
	got = append([]int(nil), order...)
	mu.Unlock()
	for i, id := range got {
		if id != i {
			t.Fatalf("reclamation order %v is not defer order", got)
		}
	}

	reader.ReleasePair(pair)
	reader.Leave()
	writer.Leave()
}

func TestNotRunningCountsAsQuiescent(t *testing.T) {
	if reclaim.RaceEnabled {
		t.Skip("atomic-ordering synchronization is invisible to the race detector")
	}

	r := smr.Startup()
	r.SetMinWait(time.Millisecond)
	defer r.Shutdown()

	parked, _ := r.Join()
	writer, _ := r.Join()

	// A parked thread must not stall reclamation even though it never
	// calls Quiesce.
	parked.SetRunning(false)

	var freed atomic.Int64
	obj := new(int64)
	cohort := smr.NewCohort()
	r.Defer(writer, smr.NewFIFOWork(func(unsafe.Pointer) { freed.Add(1) },
		unsafe.Pointer(obj), cohort))

	spinUntil(t, func() bool { return freed.Load() == 1 }, writer)

	if s := r.CopyStats(); s.NotRunning == 0 {
		t.Fatalf("parked thread produced no not-running quiescent points")
	}

	parked.SetRunning(true)
	parked.Leave()
	writer.Leave()
}
