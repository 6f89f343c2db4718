package decoder

import "github.com/voxlex/fwdtree/internal/amiface"

// chanID indexes into a nodePool's arena. noChan marks the absence of a
// node, terminating a next/alt chain.
type chanID int32

const noChan chanID = -1

// node is a non-root lexicon-tree channel: either an interior node shared by
// the prefix tree (tagged by penultPhnWid, the word whose last phone this
// node sits just before) or a per-word right-context leaf (tagged by rcID,
// an index into the word's right-context score slots). A node is never both;
// isLeaf selects which tag is meaningful.
type node struct {
	hmm     amiface.HMM
	ssid    int32
	ciphone int32
	next    chanID // first child (interior) or next leaf in the chain (leaf)
	alt     chanID // next sibling under the same parent, with a distinct ssid (interior only)

	isLeaf       bool
	penultPhnWid int32 // interior: word id whose second-to-last phone ends here, or -1
	rcID         int32 // leaf: index into the owning word's right-context slots
}

// nodePool is an arena of non-root nodes with a free list, so that leaves
// torn down at the end of a word's active lifetime are reused rather than
// endlessly re-allocated. This mirrors the lexicon tree's own node lifetime:
// interior nodes are allocated at tree build and freed only at tree teardown;
// leaves are allocated when a multi-phone word is activated and freed when it
// exits or deactivates. Each slot holds its own heap-allocated node, so a
// *node returned by get stays valid while alloc grows the pool.
type nodePool struct {
	nodes []*node
	free  []chanID

	newHMM func(mpx bool, ssid, ciphone int32) amiface.HMM

	highWater int
}

func newNodePool(newHMM func(mpx bool, ssid, ciphone int32) amiface.HMM) *nodePool {
	return &nodePool{newHMM: newHMM}
}

// alloc returns a fresh or reused node slot with no HMM constructed yet; the
// caller installs one via (*nodePool).initHMM.
func (p *nodePool) alloc() chanID {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		*p.nodes[id] = node{next: noChan, alt: noChan, penultPhnWid: -1, rcID: -1}
		return id
	}
	p.nodes = append(p.nodes, &node{next: noChan, alt: noChan, penultPhnWid: -1, rcID: -1})
	if len(p.nodes) > p.highWater {
		p.highWater = len(p.nodes)
	}
	return chanID(len(p.nodes) - 1)
}

// initHMM constructs and installs the HMM for a node allocated by alloc:
// interior nodes at tree build, and right-context leaves in allocLeaves,
// each with the ssid of the right context it serves.
func (p *nodePool) initHMM(id chanID, mpx bool, ssid, ciphone int32) {
	n := p.nodes[id]
	n.hmm = p.newHMM(mpx, ssid, ciphone)
	n.ssid = ssid
	n.ciphone = ciphone
}

// free returns id to the free list and drops its HMM reference so a freed
// slot doesn't keep the model graph reachable until reallocated. alloc
// resets the rest of the slot's fields (next, alt, penultPhnWid, rcID,
// isLeaf) when it hands id back out, so a stale tag from this node's
// previous life never leaks into its next one.
func (p *nodePool) freeNode(id chanID) {
	p.nodes[id].hmm = nil
	p.free = append(p.free, id)
}

func (p *nodePool) get(id chanID) *node { return p.nodes[id] }

// Len reports the arena's current backing size (allocated + free slots). It
// only grows across tree rebuilds that need strictly more concurrent
// non-root nodes than any previous utterance; steady-state operation within
// one lexicon tree should leave it unchanged utterance to utterance.
func (p *nodePool) Len() int { return len(p.nodes) }

// HighWater reports the largest Len ever observed, the pool's all-time
// arena size. Used by tests asserting bounded growth across utterances.
func (p *nodePool) HighWater() int { return p.highWater }
