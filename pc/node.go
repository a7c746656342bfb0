// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// guardBit/reference are the sticky low bit and increment unit of a
// node's packed refcount word: every acquire adds reference (2), so the
// guard bit (1) stays set until the epoch is closed by setNodeSequence,
// after which ordinary drops can finally clear the count to zero.
// set_node_sequence's adjust computation depends on this exact
// relationship (guardBit == reference/2); it is not a coincidence and
// must not be changed independently.
const (
	reference       = 2
	guardBit        = 1
	initialSequence = guardBit
)

// epochNode is one link in a proxy's epoch chain. next/sequence/
// prevSequence/count are touched by many goroutines at once and so are
// atomic; debugSeq/inUse are written only by whichever goroutine holds
// the node at the time and exist purely so tests can assert on chain
// shape.
type epochNode struct {
	next         atomix.Uint64 // *epochNode bits, 0 = nil
	sequence     atomix.Int64
	prevSequence atomix.Int64
	count        atomix.Int64
	freeFn       func(any)
	data         any

	debugSeq int
	inUse    int32
}

func encodeNode(n *epochNode) uint64 {
	return uint64(uintptr(unsafe.Pointer(n)))
}

func decodeNode(bits uint64) *epochNode {
	return (*epochNode)(unsafe.Pointer(uintptr(bits)))
}

func (n *epochNode) loadNext() *epochNode {
	return decodeNode(n.next.LoadAcquire())
}

func resetNode(n *epochNode) {
	n.next.StoreRelaxed(0)
	n.sequence.StoreRelaxed(0)
	n.prevSequence.StoreRelaxed(0)
	n.count.StoreRelaxed(0)
	n.freeFn = nil
	n.data = nil
	n.inUse = 1
}

// NodeRef is the token returned by AcquireReference and consumed by
// DropReference. It carries no exported fields; callers only ever pass
// it back to the proxy it came from.
type NodeRef struct {
	node *epochNode
}

// Valid reports whether ref names a node (false for the zero NodeRef).
func (ref NodeRef) Valid() bool { return ref.node != nil }
