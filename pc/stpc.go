// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/spin"
)

// STPC is the sequenced-tail-pointer proxy collector variant.
//
// The tail is a double-word {sequence, node}: an acquire is a single CAS
// that bumps the sequence and reads the node together, so there is no
// separate sequence counter to reconcile and no latency parameter — each
// deferred deletion creates its own epoch. Appending swings the whole
// tail to {0, newNode} and folds the displaced sequence into the old
// node's reference count in one drop.
//
// An STPC is ready on construction; there is no Init step.
type STPC struct {
	tail  atomix.Uint128 // lo = sequence, hi = *epochNode bits
	pool  nodePool
	stats statsTable

	closed atomix.Bool
}

var _ Proxy = (*STPC)(nil)

// NewSTPC creates a proxy with a single live epoch node.
func NewSTPC() *STPC {
	p := &STPC{}
	p.pool.init()
	p.stats.init(0)

	node := &epochNode{}
	resetNode(node)
	node.count.StoreRelaxed(guardBit + reference) // the tail pointer's own reference
	p.pool.numNodes.StoreRelaxed(1)
	p.pool.seed(node)
	p.tail.StoreRelaxed(0, encodeNode(node))
	return p
}

func (p *STPC) acquireReference(ls *localStats) NodeRef {
	sw := spin.Wait{}
	for {
		seq, bits := p.tail.LoadAcquire()
		if p.tail.CompareAndSwapAcqRel(seq, bits, seq+reference, bits) {
			ls.latencyHit(0)
			return NodeRef{node: decodeNode(bits)}
		}
		sw.Once()
	}
}

// dropNode releases rcount = reference - adjust units from node. The
// first iteration carries queueNode's reconciliation (adjust folds the
// displaced tail sequence and clears the guard bit); cascade iterations
// drop the plain link reference. When the count is already exactly the
// amount being dropped, the caller owns every remaining reference and the
// node retires without touching the counter.
func (p *STPC) dropNode(node *epochNode, adjust int64, ls *localStats) {
	rcount := int64(reference) - adjust
	for {
		if node.count.LoadRelaxed() != rcount {
			c := node.count.AddAcqRel(-rcount)
			if c != 0 {
				// Guard bit set: odd count, transient negatives are the
				// in-flight reconciliation. Guard bit clear: a negative
				// count is a double drop.
				if c < 0 && c&guardBit == 0 {
					panic("pc: epoch node reference count underflow")
				}
				return
			}
		}
		next := node.loadNext()
		p.pool.advanceFreeTail()
		node = next
		if node.freeFn != nil {
			fn, data := node.freeFn, node.data
			node.freeFn, node.data = nil, nil
			fn(data)
			ls.dataFrees.AddAcqRel(1)
		}
		rcount = reference
	}
}

// queueNode appends newNode with the monkey-through-the-trees trick: CAS
// the whole tail from {seq, old} to {0, new}, then link old to new and
// settle old's count with the displaced sequence in a single drop.
func (p *STPC) queueNode(newNode *epochNode, ls *localStats) {
	newNode.count.StoreRelaxed(guardBit + 2*reference) // link ref + tail ref

	attempts := int64(0)
	var oldSeq, oldBits uint64
	sw := spin.Wait{}
	for {
		seq, bits := p.tail.LoadAcquire()
		attempts++
		if p.tail.CompareAndSwapAcqRel(seq, bits, 0, encodeNode(newNode)) {
			oldSeq, oldBits = seq, bits
			break
		}
		sw.Once()
	}

	oldNode := decodeNode(oldBits)
	oldNode.next.StoreRelease(encodeNode(newNode))
	p.dropNode(oldNode, int64(oldSeq)-guardBit, ls)

	ls.tries.AddAcqRel(1)
	ls.successful.AddAcqRel(1)
	ls.attempts.AddAcqRel(attempts)
}

func (p *STPC) dropReference(ls *localStats, ref NodeRef) {
	if ref.node == nil {
		panic("pc: drop of an invalid node reference")
	}
	p.dropNode(ref.node, 0, ls)
}

func (p *STPC) deferDelete(ls *localStats, freeFn func(any), data any, backoff func(int)) error {
	if p.closed.LoadAcquire() {
		return reclaim.ErrClosed
	}
	if backoff == nil {
		backoff = defaultBackoff()
	}

	attempt := 0
	var node *epochNode
	for {
		node = p.pool.newNode(true, ls)
		if node != nil {
			break
		}
		backoff(attempt)
		attempt++
	}

	node.freeFn = freeFn
	node.data = data
	p.queueNode(node, ls)
	return nil
}

func (p *STPC) tryDeferDelete(ls *localStats, freeFn func(any), data any) error {
	if p.closed.LoadAcquire() {
		return reclaim.ErrClosed
	}
	node := p.pool.newNode(true, ls)
	if node == nil {
		return reclaim.ErrWouldBlock
	}
	node.freeFn = freeFn
	node.data = data
	p.queueNode(node, ls)
	return nil
}

func (p *STPC) table() *statsTable { return &p.stats }

// AcquireReference implements Proxy.
func (p *STPC) AcquireReference() NodeRef { return p.acquireReference(p.stats.global) }

// DropReference implements Proxy.
func (p *STPC) DropReference(ref NodeRef) { p.dropReference(p.stats.global, ref) }

// DeferDelete implements Proxy.
func (p *STPC) DeferDelete(freeFn func(any), data any, backoff func(int)) error {
	return p.deferDelete(p.stats.global, freeFn, data, backoff)
}

// TryDeferDelete implements Proxy.
func (p *STPC) TryDeferDelete(freeFn func(any), data any) error {
	return p.tryDeferDelete(p.stats.global, freeFn, data)
}

// TryReleaseNodes implements Proxy.
func (p *STPC) TryReleaseNodes(count int) int { return p.pool.tryRelease(count) }

// Join implements Proxy.
func (p *STPC) Join() *Participant { return newParticipant(p) }

// NodeCount implements Proxy.
func (p *STPC) NodeCount() uint32 { return p.pool.count() }

// MaxNodes implements Proxy.
func (p *STPC) MaxNodes() uint32 { return p.pool.maxNodesLimit() }

// SetMaxNodes implements Proxy.
func (p *STPC) SetMaxNodes(n uint32) { p.pool.setMaxNodes(n) }

// Stats implements Proxy.
func (p *STPC) Stats() Stats { return p.stats.snapshot() }

// Close implements Proxy.
func (p *STPC) Close() { p.closed.StoreRelease(true) }
