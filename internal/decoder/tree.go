package decoder

import (
	"fmt"

	"github.com/voxlex/fwdtree/internal/dictionary"
)

// rootChan is one root of the lexicon tree: the entry HMM for a distinct
// first-phone class shared by every in-LM multi-phone word that begins with
// it. Roots are allocated when the tree is built and persist across
// utterances; a tree rebuild allocates a new set of roots rather than
// reusing the old ones.
type rootChan struct {
	hmm          HMM
	diphone      int32  // first phone id (context-dependent)
	ciphone      int32  // first phone, context-independent
	next         chanID // first child in the tree, or noChan
	penultPhnWid WordID // head of a 2-phone-word homophone chain rooted here, or -1
	inUse        bool   // this root slot names a real first-phone class
}

// singlePhoneChan is the permanently allocated channel backing a single-phone
// word's entry in word_chan. It mirrors rootChan's shape (an HMM plus the
// diphone/ciphone pair needed for cross-word context lookups) without
// participating in the shared tree.
type singlePhoneChan struct {
	hmm     HMM
	wid     WordID
	diphone int32
	ciphone int32
}

// wordChanEntry is word_chan[w] for a multi-phone word: the head of its
// per-right-context leaf chain, lazily populated at last-phone transition.
type wordChanEntry struct {
	leafHead chanID // noChan until the word becomes a last-phone candidate
}

// lexicon is the rebuildable part of the search: the tree itself, the
// single-phone word table, and the homophone bookkeeping that ties dictionary
// word ids to tree positions. It is torn down and rebuilt whenever the
// active language model changes (§4.1); a rebuild produces a new lexicon,
// roots included. The acoustic/dictionary collaborators are not part of it.
type lexicon struct {
	roots              []rootChan
	firstPhoneRChanMap map[int32]int // diphone -> index into roots

	pool *nodePool

	singlePhoneWID []WordID
	allRHMM        []singlePhoneChan
	singleByWID    map[WordID]*singlePhoneChan

	homophoneSet []WordID // keyed by wid; next word in chain, or -1
	wordChan     []wordChanEntry
}

// buildTree implements §4.1: partition words, intern roots by first phone,
// descend shared tree paths, and collapse homophones at their terminal node.
func buildTree(am AcousticModel, dict dictionary.Dictionary, lmModel LanguageModel, pool *nodePool) (*lexicon, error) {
	entryCount := dict.EntryCount()
	mainCount := dict.MainWordCount()

	if err := checkDictionaryLayout(dict); err != nil {
		return nil, err
	}
	if err := checkMPXConsistency(dict, mainCount); err != nil {
		return nil, err
	}

	lx := &lexicon{
		firstPhoneRChanMap: make(map[int32]int),
		pool:               pool,
		singleByWID:        make(map[WordID]*singlePhoneChan),
		homophoneSet:       make([]WordID, entryCount),
		wordChan:           make([]wordChanEntry, entryCount),
	}
	for w := range lx.homophoneSet {
		lx.homophoneSet[w] = -1
	}
	for w := range lx.wordChan {
		lx.wordChan[w].leafHead = noChan
	}

	for w := WordID(0); w < WordID(mainCount); w++ {
		e := dict.Entry(w)
		if e.Len() == 0 {
			return nil, fmt.Errorf("%w: word %d", ErrEmptyEntry, w)
		}
		if e.Len() > 1 && lmModel.KnownWID(w) {
			lx.enterWord(am, e)
		}
	}

	// Enumerate single-phone words: LM-in-vocabulary ones first, then
	// everything past the main vocabulary (end marker, start markers,
	// silence, fillers), which §4.1 step 1 always treats as single-phone
	// regardless of its actual phone count.
	for w := WordID(0); w < WordID(mainCount); w++ {
		e := dict.Entry(w)
		if e.Len() == 1 && lmModel.KnownWID(w) {
			lx.singlePhoneWID = append(lx.singlePhoneWID, w)
		}
	}
	for w := WordID(mainCount); w < WordID(entryCount); w++ {
		lx.singlePhoneWID = append(lx.singlePhoneWID, w)
	}

	lx.allRHMM = make([]singlePhoneChan, len(lx.singlePhoneWID))
	for i, w := range lx.singlePhoneWID {
		e := dict.Entry(w)
		ch := &lx.allRHMM[i]
		ch.wid = w
		ch.diphone = e.PhoneIDs[0]
		ch.ciphone = e.CIPhoneIDs[0]
		ch.hmm = am.NewHMM(e.MPX, e.PhoneIDs[0], e.CIPhoneIDs[0])
		lx.singleByWID[w] = ch
	}

	return lx, nil
}

// enterWord performs §4.1 step 2 for one in-LM multi-phone word: intern its
// root, then either push it on the root's 2-phone homophone chain or descend
// the shared tree path p[1..L-2], appending nodes as needed, and push it on
// the terminal node's homophone chain.
func (lx *lexicon) enterWord(am AcousticModel, e dictionary.Entry) {
	first := e.PhoneIDs[0]
	ri, ok := lx.firstPhoneRChanMap[first]
	if !ok {
		ri = len(lx.roots)
		lx.roots = append(lx.roots, rootChan{
			hmm:          am.NewHMM(e.MPX, first, e.CIPhoneIDs[0]),
			diphone:      first,
			ciphone:      e.CIPhoneIDs[0],
			next:         noChan,
			penultPhnWid: -1,
			inUse:        true,
		})
		lx.firstPhoneRChanMap[first] = ri
	}
	root := &lx.roots[ri]

	if e.Len() == 2 {
		lx.homophoneSet[e.WID] = root.penultPhnWid
		root.penultPhnWid = e.WID
		return
	}

	parentNext := &root.next
	var terminal *node
	for i := 1; i < e.Len()-1; i++ {
		id := lx.internChild(am, parentNext, e.PhoneIDs[i], e.CIPhoneIDs[i], e.MPX)
		terminal = lx.pool.get(id)
		parentNext = &terminal.next
	}
	lx.homophoneSet[e.WID] = terminal.penultPhnWid
	terminal.penultPhnWid = e.WID
}

// internChild finds ssid within the sibling chain rooted at *head, or
// appends a new node at the tail of that chain, preserving insertion order
// (tie-break per §4.1: sibling search order is insertion order; alt lists
// are appended at the tail, never reordered).
func (lx *lexicon) internChild(am AcousticModel, head *chanID, ssid, ciphone int32, mpx bool) chanID {
	if *head == noChan {
		id := lx.pool.alloc()
		lx.pool.initHMM(id, mpx, ssid, ciphone)
		*head = id
		return id
	}
	cur := *head
	for {
		n := lx.pool.get(cur)
		if n.ssid == ssid {
			return cur
		}
		if n.alt == noChan {
			id := lx.pool.alloc()
			lx.pool.initHMM(id, mpx, ssid, ciphone)
			n.alt = id
			return id
		}
		cur = n.alt
	}
}

// teardown releases every interior node back to the pool, resetting each
// root to its initial (childless, homophone-free) state. Order does not
// matter for correctness since the pool's free list makes reuse independent
// of release order; we still walk post-order (children before the node that
// owns them) to match the source's traversal.
func (lx *lexicon) teardown() {
	for i := range lx.roots {
		if !lx.roots[i].inUse {
			continue
		}
		lx.teardownChain(lx.roots[i].next)
		lx.roots[i].next = noChan
		lx.roots[i].penultPhnWid = -1
	}
}

func (lx *lexicon) teardownChain(head chanID) {
	cur := head
	for cur != noChan {
		n := lx.pool.get(cur)
		child, sibling := n.next, n.alt
		if child != noChan {
			lx.teardownChain(child)
		}
		lx.pool.freeNode(cur)
		cur = sibling
	}
}

func checkDictionaryLayout(dict dictionary.Dictionary) error {
	if dict.StartWID() < 0 {
		return ErrMissingStart
	}
	if dict.FinishWID() < 0 {
		return ErrMissingFinish
	}
	if dict.SilenceWID() < 0 {
		return ErrMissingSilence
	}
	if dict.FinishWID() >= dict.StartWID() {
		return fmt.Errorf("%w: \"</s>\" (%d) must precede \"<s>\" (%d)",
			ErrFillersNotContiguous, dict.FinishWID(), dict.StartWID())
	}
	if dict.StartWID() >= dict.SilenceWID() {
		return fmt.Errorf("%w: \"<s>\" (%d) must precede \"<sil>\" (%d)",
			ErrFillersNotContiguous, dict.StartWID(), dict.SilenceWID())
	}
	if dict.SilenceWID() >= int32(dict.EntryCount()) {
		return fmt.Errorf("%w: \"<sil>\" (%d) is out of range (%d entries)",
			ErrFillersNotContiguous, dict.SilenceWID(), dict.EntryCount())
	}
	return nil
}

func checkMPXConsistency(dict dictionary.Dictionary, mainCount int) error {
	seen := -1
	for w := 0; w < mainCount; w++ {
		e := dict.Entry(WordID(w))
		mpx := 0
		if e.MPX {
			mpx = 1
		}
		if seen == -1 {
			seen = mpx
			continue
		}
		if seen != mpx {
			return ErrMixedMPX
		}
	}
	return nil
}
