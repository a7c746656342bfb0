// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/reclaim"
	"code.hybscloud.com/spin"
)

const defaultLatency = 1

// RCPC is the sequence-tagged proxy collector variant.
//
// The proxy keeps a 64-bit sequence word whose low bit is the guard bit;
// each acquire bumps it by the reference unit, so sequence/2 is the
// all-time acquire count modulo wraparound. Epoch nodes record the
// sequence interval they covered, and setNodeSequence reconciles that
// interval into the node's reference count when the epoch closes.
//
// Configure with SetLatency/SetMaxNodes, then call Init before first use.
type RCPC struct {
	sequence atomix.Int64
	tail     atomix.Uint64 // *epochNode bits
	pool     nodePool
	stats    statsTable

	latency     uint32
	maxLatency  uint32
	initialized bool
	closed      atomix.Bool
}

var _ Proxy = (*RCPC)(nil)

// NewRCPC creates an unconfigured proxy. SetLatency and SetMaxNodes take
// effect only before Init; using the proxy before Init panics.
func NewRCPC() *RCPC {
	p := &RCPC{latency: defaultLatency}
	p.sequence.StoreRelaxed(initialSequence)
	p.pool.init()
	return p
}

// SetLatency bounds how many epoch nodes a defer-delete cascade may walk
// past before giving up and retrying. Ignored after Init.
func (p *RCPC) SetLatency(latency uint32) {
	if !p.initialized && latency >= 1 {
		p.latency = latency
	}
}

// Latency returns the configured latency parameter.
func (p *RCPC) Latency() uint32 { return p.latency }

// MaxLatency is the guaranteed upper bound on chain growth between a
// DeferDelete call and its callback: latency + 2. Zero before Init.
func (p *RCPC) MaxLatency() uint32 { return p.maxLatency }

// Init builds the initial epoch chain: one current node plus maxLatency
// pre-allocated latent nodes. Idempotent.
func (p *RCPC) Init() {
	if p.initialized {
		return
	}
	p.maxLatency = p.latency + 2
	p.stats.init(int(p.maxLatency) + 1)

	node := &epochNode{}
	resetNode(node)
	node.prevSequence.StoreRelaxed(initialSequence)
	node.count.StoreRelaxed(guardBit + reference) // the tail pointer's own reference
	p.pool.retain.Store(node, struct{}{})
	p.tail.StoreRelaxed(encodeNode(node))

	var latent *epochNode
	for j := uint32(0); j < p.maxLatency; j++ {
		latent = &epochNode{}
		resetNode(latent)
		latent.next.StoreRelaxed(encodeNode(node))
		latent.debugSeq = node.debugSeq - 1
		latent.inUse = -1
		p.pool.retain.Store(latent, struct{}{})
		node = latent
	}
	p.pool.seed(latent)

	p.initialized = true
}

func (p *RCPC) checkInit() {
	if !p.initialized {
		panic("pc: proxy used before Init")
	}
}

// setNodeSequence closes a logically retired epoch: stamp the node with
// the sequence it covered, propagate that stamp to the successor's lower
// bound, fold the interval's acquire count into the node's refcount while
// the guard bit is still set, and advance the tail past the node.
func (p *RCPC) setNodeSequence(node *epochNode, ls *localStats) {
	nextBits := node.next.LoadAcquire()
	if nextBits == 0 {
		return
	}

	if node.sequence.LoadRelaxed() == 0 {
		seq := p.sequence.LoadRelaxed()
		node.sequence.CompareAndSwapAcqRel(0, seq)
	}

	next := decodeNode(nextBits)
	next.prevSequence.StoreRelaxed(node.sequence.LoadRelaxed())

	// Acquires add the reference unit to the proxy sequence, so the
	// covered interval is 2*acquires; subtracting the guard bit both
	// clears it and leaves exactly the acquires to be drained by drops.
	adjust := node.sequence.LoadRelaxed() - node.prevSequence.LoadRelaxed() - guardBit

	for {
		oldCount := node.count.LoadRelaxed()
		if oldCount&guardBit == 0 {
			break
		}
		if node.count.CompareAndSwapAcqRel(oldCount, oldCount+adjust) {
			break
		}
	}

	if p.tail.LoadRelaxed() == encodeNode(node) {
		if p.tail.CompareAndSwapRelaxed(encodeNode(node), nextBits) {
			p.dropNode(node, ls)
		}
	}
}

// acquireRef is AcquireReference plus the walk length, which DeferDelete
// reuses as the starting latency of its add-node cascade.
func (p *RCPC) acquireRef(ls *localStats) (*epochNode, int) {
	var node *epochNode
	var newSequence int64
	sw := spin.Wait{}
	for {
		oldSequence := p.sequence.LoadAcquire()
		newSequence = oldSequence + reference
		node = decodeNode(p.tail.LoadRelaxed())
		if p.sequence.CompareAndSwapAcqRel(oldSequence, newSequence) {
			break
		}
		sw.Once()
	}

	walked := 0
	for node.next.LoadAcquire() != 0 {
		p.setNodeSequence(node, ls)
		// Tail update must complete and be visible before the sequence
		// wraps; the subtraction keeps the comparison wrap-safe.
		if newSequence-node.sequence.LoadRelaxed() <= 0 {
			break
		}
		node = node.loadNext()
		walked++
	}

	ls.latencyHit(walked)
	return node, walked
}

// dropNode releases one reference on node; at zero the node retires, its
// successor's deferred payload runs, and the successor loses the link
// reference this node held on it, cascading while counts drain to zero.
func (p *RCPC) dropNode(node *epochNode, ls *localStats) {
	for {
		c := node.count.AddAcqRel(-reference)
		if c != 0 {
			// While the guard bit is set the count is odd and may dip
			// negative (drops landing before the epoch's adjust); once
			// the guard bit is clear a negative count is a double drop.
			if c < 0 && c&guardBit == 0 {
				panic("pc: epoch node reference count underflow")
			}
			return
		}
		node.inUse = -1
		p.pool.advanceFreeTail()
		node = node.loadNext()
		if node.freeFn != nil {
			fn, data := node.freeFn, node.data
			node.freeFn, node.data = nil, nil
			fn(data)
			ls.dataFrees.AddAcqRel(1)
		}
	}
}

// addNode tries to append newNode after the chain's growing end, walking
// forward from refNode through at most latency concurrently-added nodes.
func (p *RCPC) addNode(refNode *epochNode, latency int, newNode *epochNode, ls *localStats) bool {
	newNode.sequence.StoreRelaxed(0)
	newNode.count.StoreRelaxed(guardBit + 2*reference) // link ref + tail ref

	ok := false
	attempts := int64(0)
	tailNode := refNode
	for uint32(latency) <= p.latency {
		newNode.debugSeq = tailNode.debugSeq + 1
		attempts++
		ok = tailNode.next.CompareAndSwapAcqRel(0, encodeNode(newNode))
		p.setNodeSequence(tailNode, ls)
		if ok {
			break
		}
		tailNode = tailNode.loadNext()
		latency++
	}

	ls.tries.AddAcqRel(1)
	if ok {
		ls.successful.AddAcqRel(1)
	}
	ls.attempts.AddAcqRel(attempts)
	return ok
}

func (p *RCPC) acquireReference(ls *localStats) NodeRef {
	p.checkInit()
	node, _ := p.acquireRef(ls)
	return NodeRef{node: node}
}

func (p *RCPC) dropReference(ls *localStats, ref NodeRef) {
	if ref.node == nil {
		panic("pc: drop of an invalid node reference")
	}
	p.dropNode(ref.node, ls)
}

func (p *RCPC) deferDelete(ls *localStats, freeFn func(any), data any, backoff func(int)) error {
	p.checkInit()
	if p.closed.LoadAcquire() {
		return reclaim.ErrClosed
	}
	if backoff == nil {
		backoff = defaultBackoff()
	}

	refNode, walked := p.acquireRef(ls)
	attempt := 0
	var node *epochNode
	for {
		node = p.pool.newNode(true, ls)
		if node != nil {
			break
		}
		p.dropNode(refNode, ls)
		backoff(attempt)
		attempt++
		refNode, walked = p.acquireRef(ls)
	}

	node.freeFn = freeFn
	node.data = data

	for !p.addNode(refNode, walked, node, ls) {
		p.dropNode(refNode, ls)
		refNode, walked = p.acquireRef(ls)
	}
	p.dropNode(refNode, ls)
	return nil
}

func (p *RCPC) tryDeferDelete(ls *localStats, freeFn func(any), data any) error {
	p.checkInit()
	if p.closed.LoadAcquire() {
		return reclaim.ErrClosed
	}

	refNode, walked := p.acquireRef(ls)
	node := p.pool.newNode(true, ls)
	if node == nil {
		p.dropNode(refNode, ls)
		return reclaim.ErrWouldBlock
	}

	node.freeFn = freeFn
	node.data = data

	for !p.addNode(refNode, walked, node, ls) {
		p.dropNode(refNode, ls)
		refNode, walked = p.acquireRef(ls)
	}
	p.dropNode(refNode, ls)
	return nil
}

func (p *RCPC) table() *statsTable { return &p.stats }

// AcquireReference implements Proxy.
func (p *RCPC) AcquireReference() NodeRef { return p.acquireReference(p.stats.global) }

// DropReference implements Proxy.
func (p *RCPC) DropReference(ref NodeRef) { p.dropReference(p.stats.global, ref) }

// DeferDelete implements Proxy.
func (p *RCPC) DeferDelete(freeFn func(any), data any, backoff func(int)) error {
	return p.deferDelete(p.stats.global, freeFn, data, backoff)
}

// TryDeferDelete implements Proxy.
func (p *RCPC) TryDeferDelete(freeFn func(any), data any) error {
	return p.tryDeferDelete(p.stats.global, freeFn, data)
}

// TryReleaseNodes implements Proxy.
func (p *RCPC) TryReleaseNodes(count int) int { return p.pool.tryRelease(count) }

// Join implements Proxy.
func (p *RCPC) Join() *Participant { return newParticipant(p) }

// NodeCount implements Proxy.
func (p *RCPC) NodeCount() uint32 { return p.pool.count() }

// MaxNodes implements Proxy.
func (p *RCPC) MaxNodes() uint32 { return p.pool.maxNodesLimit() }

// SetMaxNodes implements Proxy. Ignored after Init.
func (p *RCPC) SetMaxNodes(n uint32) {
	if !p.initialized {
		p.pool.setMaxNodes(n)
	}
}

// Stats implements Proxy.
func (p *RCPC) Stats() Stats { return p.stats.snapshot() }

// Close implements Proxy.
func (p *RCPC) Close() { p.closed.StoreRelease(true) }

// NodeDebug is one epoch node's bookkeeping, exposed for tests that
// assert on chain shape.
type NodeDebug struct {
	Sequence     int64
	PrevSequence int64
	Count        int64
	InUse        int32
	DebugSeq     int
}

// DebugDump walks the chain forward from the current tail and returns a
// snapshot of each node's bookkeeping. Advisory only: the chain may be
// mutating while the walk runs.
func (p *RCPC) DebugDump() []NodeDebug {
	p.checkInit()
	var out []NodeDebug
	for node := decodeNode(p.tail.LoadAcquire()); node != nil; node = node.loadNext() {
		out = append(out, NodeDebug{
			Sequence:     node.sequence.LoadRelaxed(),
			PrevSequence: node.prevSequence.LoadRelaxed(),
			Count:        node.count.LoadRelaxed(),
			InUse:        node.inUse,
			DebugSeq:     node.debugSeq,
		})
	}
	return out
}
