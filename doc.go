// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reclaim collects three independent, drop-in safe memory
// reclamation (SMR) facilities for building lock-free data structures:
// queues, stacks, hash maps, and caches that let many goroutines
// dereference shared heap objects without locks, while guaranteeing an
// object is destroyed only once no goroutine can still observe it.
//
// # Facilities
//
//   - [code.hybscloud.com/reclaim/ap] — differentially-counted atomic
//     pointer. A single-word-CAS reference-counted smart pointer pair
//     (ephemeral + persistent counts) that eliminates the lost-increment
//     race of naive atomic refcounting.
//   - [code.hybscloud.com/reclaim/pc] — proxy collector (RCPC and STPC).
//     A lock-free linked list of epoch nodes; deferred deletions attached
//     to a node fire once that node's reference count drops to zero.
//   - [code.hybscloud.com/reclaim/smr] — hazard-pointer SMR with an RCU
//     quiescent-state poller, supporting FIFO (reclaim in enqueue order)
//     and trace (reclaim when no reachable reference chain exists)
//     deferred-work classes.
//
// Pick the facility that matches your data structure's write pattern: AP
// for single-slot smart-pointer swap sites (a `current` pointer, a cache
// entry), PC for a global stream of deletions amortized across epochs,
// SMR when readers can hold a bounded number of live pointers at once and
// you want hazard-pointer-precise reclamation plus RCU-style bulk
// deferral.
//
// # Thread model
//
// This package runs on goroutines, not OS threads. Anywhere the original
// design relies on thread-local storage, this package instead hands the
// caller an explicit handle ([code.hybscloud.com/reclaim/smr.Thread],
// [code.hybscloud.com/reclaim/pc.Participant]) to retain for the lifetime
// of one logical worker and pass back into subsequent calls.
//
// # Error handling
//
// Allocation/pool exhaustion is reported as [ErrWouldBlock]; a shutdown
// Reclaimer or Proxy reports [ErrClosed]. Caller-contract violations
// (double release of a hazard slot, refcount underflow, defer after
// shutdown) are programmer errors and panic, in the same register as
// [code.hybscloud.com/lfq]'s constructor argument checks. Shutdown with
// deferred work still pending on registered threads does not panic: it
// blocks until those threads Leave and the work has been reclaimed.
//
// # Dependencies
//
// This module uses [code.hybscloud.com/atomix] for atomic primitives with
// explicit memory ordering (including the double-word CAS the
// differential pointer slot and STPC's sequenced tail pointer require),
// [code.hybscloud.com/spin] for CPU pause instructions in CAS retry loops,
// and [code.hybscloud.com/iox] for semantic errors and caller-facing
// backoff.
package reclaim
