// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pc implements the proxy collector: a lock-free linked list of
// epoch nodes shared by every caller. Each node accumulates the
// references taken during its tenure as the chain's tail; a deferred
// deletion attached to a node fires once that node's reference count
// drops to zero and every node before it has already drained.
//
// Two variants ship, both behind the [Proxy] interface:
//
//   - [RCPC] tags each node with a 64-bit sequence number. A latency
//     parameter bounds how many nodes a single defer-delete call may
//     chain past before giving up and retrying, trading throughput
//     (bigger latency, more writers share one CAS cascade) for memory
//     footprint (longer chains retain more objects).
//   - [STPC] replaces the sequence counter with a sequenced tail pointer
//     CAS'd as one double-word; simpler, and every defer-delete gets its
//     own epoch, at the cost of the latency/throughput knob.
//
// Readers call AcquireReference before touching a shared structure and
// DropReference when done; any deletion deferred after an acquire
// returned is guaranteed not to run before the matching drop.
package pc
