// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pc

import (
	"math"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// nodePool is the lock-free node allocator RCPC and STPC share: a
// single-consumer free list anchored at freeHead/freeTail, plus the
// bounded numNodes/maxNodes accounting backing TryReleaseNodes.
//
// freeHead carries a pop sequence in its low lane so that a node popped,
// recycled, and re-queued between a competitor's load and CAS cannot be
// mistaken for the node it replaced. freeTail advances independently, one
// step per fully-retired node, regardless of which node actually
// retired — matching the original's plain release-store rather than a
// CAS, which means freeTail can occasionally lag by a step under heavy
// concurrent retirement. The free list only ever bounds latency-driven
// memory reuse; it is not required to be exact.
type nodePool struct {
	freeHead atomix.Uint128 // lo = pop sequence, hi = *epochNode bits
	freeTail atomix.Uint64
	numNodes atomix.Int64
	maxNodes atomix.Int64

	// Chain links are stored as integer bits, invisible to the garbage
	// collector; retain keeps every live node reachable.
	retain sync.Map // *epochNode -> struct{}
}

func (pool *nodePool) init() {
	pool.maxNodes.StoreRelaxed(math.MaxInt64)
}

// seed installs node as the (empty) free list anchor.
func (pool *nodePool) seed(node *epochNode) {
	pool.retain.Store(node, struct{}{})
	pool.freeHead.StoreRelaxed(0, encodeNode(node))
	pool.freeTail.StoreRelaxed(encodeNode(node))
}

func (pool *nodePool) setMaxNodes(n uint32) {
	if n > 1 {
		pool.maxNodes.StoreRelaxed(int64(n))
	}
}

func (pool *nodePool) maxNodesLimit() uint32 {
	v := pool.maxNodes.LoadRelaxed()
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

func (pool *nodePool) count() uint32 {
	return uint32(pool.numNodes.LoadRelaxed())
}

// newNode pops a node from the free list; if empty and alloc is true, it
// allocates a fresh one provided numNodes stays under maxNodes.
func (pool *nodePool) newNode(alloc bool, ls *localStats) *epochNode {
	sw := spin.Wait{}
	for {
		popSeq, headBits := pool.freeHead.LoadAcquire()
		if headBits == pool.freeTail.LoadAcquire() {
			break
		}
		freeNode := decodeNode(headBits)
		nextBits := freeNode.next.LoadAcquire()
		if pool.freeHead.CompareAndSwapAcqRel(popSeq, headBits, popSeq+1, nextBits) {
			if ls != nil {
				ls.reuse.AddAcqRel(1)
			}
			resetNode(freeNode)
			return freeNode
		}
		sw.Once()
	}

	if !alloc {
		return nil
	}

	sw = spin.Wait{}
	for {
		old := pool.numNodes.LoadAcquire()
		if old >= pool.maxNodes.LoadRelaxed() {
			return nil
		}
		if pool.numNodes.CompareAndSwapAcqRel(old, old+1) {
			break
		}
		sw.Once()
	}
	n := &epochNode{}
	pool.retain.Store(n, struct{}{})
	resetNode(n)
	return n
}

// advanceFreeTail marks one more fully-retired node as available for
// reuse. Called once per retirement.
func (pool *nodePool) advanceFreeTail() {
	bits := pool.freeTail.LoadAcquire()
	if next := decodeNode(bits).next.LoadAcquire(); next != 0 {
		pool.freeTail.StoreRelease(next)
	}
}

// tryRelease pops up to count nodes off the free list purely to shrink
// numNodes, discarding them (no data to free: only ever-idle pool
// capacity is returned this way). Returns the count actually released.
func (pool *nodePool) tryRelease(count int) int {
	n := 0
	for ; n < count; n++ {
		if pool.numNodes.LoadRelaxed() <= 1 {
			break
		}
		node := pool.newNode(false, nil)
		if node == nil {
			break
		}
		pool.retain.Delete(node)
		pool.numNodes.AddAcqRel(-1)
	}
	return n
}
