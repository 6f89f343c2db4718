package decoder

import "github.com/voxlex/fwdtree/internal/dictionary"

// allocLeaves implements §4.8: ensure word w's leaf chain matches
// dict.RightContextFwd(w's last phone) head-to-tail, reusing any prefix
// already present by ssid equality and allocating the rest. Each leaf's
// rcID is its index into that right-context list; its ciphone is w's last
// context-independent phone.
func (lx *lexicon) allocLeaves(am AcousticModel, dict dictionary.Dictionary, w WordID, e dictionary.Entry) chanID {
	lastPhone := e.PhoneIDs[e.Len()-1]
	ciLast := e.CIPhoneIDs[e.Len()-1]
	sseqRC := dict.RightContextFwd(lastPhone)

	wc := &lx.wordChan[w]
	prevPtr := &wc.leafHead
	cur := wc.leafHead

	for i, ssid := range sseqRC {
		if cur != noChan {
			n := lx.pool.get(cur)
			if n.ssid == ssid {
				prevPtr = &n.next
				cur = n.next
				continue
			}
			lx.freeLeafChain(cur)
			cur = noChan
		}
		id := lx.pool.alloc()
		lx.pool.initHMM(id, e.MPX, ssid, ciLast)
		n := lx.pool.get(id)
		n.isLeaf = true
		n.rcID = int32(i)
		n.next = noChan
		*prevPtr = id
		prevPtr = &n.next
	}
	if cur != noChan {
		lx.freeLeafChain(cur)
		*prevPtr = noChan
	}
	return wc.leafHead
}

func (lx *lexicon) freeLeafChain(head chanID) {
	cur := head
	for cur != noChan {
		n := lx.pool.get(cur)
		next := n.next
		lx.pool.freeNode(cur)
		cur = next
	}
}

// freeAllRC releases w's entire leaf chain and resets word_chan[w] to empty.
func (lx *lexicon) freeAllRC(w WordID) {
	wc := &lx.wordChan[w]
	lx.freeLeafChain(wc.leafHead)
	wc.leafHead = noChan
}
