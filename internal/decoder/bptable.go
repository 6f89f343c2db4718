package decoder

import "log/slog"

// bpEntry is one backpointer lattice entry: a word exit (§3, §4.7).
type bpEntry struct {
	wid         WordID
	frame       int
	bp          int32 // predecessor index, or NoBackPointer
	score       Score
	sIdx        int // offset into the score stack
	rcSize      int // number of right-context slots owned by this entry
	rDiph       int32
	valid       bool
	realWID     WordID
	prevRealWID WordID
}

// bpTable is the append-only backpointer lattice plus its per-right-context
// score stack, and the per-word "already exited this frame" index. Both the
// entry slice and the score stack grow by doubling on demand (§4.7, §7).
type bpTable struct {
	entries []bpEntry
	idx     []int // bp_table_idx[frame] = first entry index of that frame

	scoreStack []Score
	bssHead    int

	wordLatIdx []int32 // keyed by wid; NoBackPointer if no exit this frame

	maxWPF     int
	silenceWID WordID
	vocabSize  int

	log *slog.Logger
}

func newBPTable(entryCount int, silenceWID WordID, maxWPF int, log *slog.Logger) *bpTable {
	wli := make([]int32, entryCount)
	for i := range wli {
		wli[i] = NoBackPointer
	}
	return &bpTable{
		entries:    make([]bpEntry, 0, 8),
		idx:        make([]int, 0, 64),
		scoreStack: make([]Score, 0, 64),
		wordLatIdx: wli,
		maxWPF:     maxWPF,
		silenceWID: silenceWID,
		vocabSize:  entryCount,
		log:        log,
	}
}

func (bt *bpTable) resetForUtterance() {
	bt.entries = bt.entries[:0]
	bt.idx = bt.idx[:0]
	bt.scoreStack = bt.scoreStack[:0]
	bt.bssHead = 0
	for i := range bt.wordLatIdx {
		bt.wordLatIdx[i] = NoBackPointer
	}
}

// markFrame records the frame index marker (bp_table_idx[frame]). It does not
// touch word_lat_idx: wordTransition resets that entry for each word it
// consumes from the frame's segment, since only those words could be stale.
func (bt *bpTable) markFrame() {
	bt.idx = append(bt.idx, len(bt.entries))
}

func (bt *bpTable) frameStart(frame int) int { return bt.idx[frame] }

// frameEnd returns the first entry index strictly after frame's segment.
func (bt *bpTable) frameEnd(frame int) int {
	if frame+1 < len(bt.idx) {
		return bt.idx[frame+1]
	}
	return len(bt.entries)
}

// save implements save_bwd_ptr (§4.7). rcSlot is the already-resolved index
// within [0, rcSize) for the right context this call concerns; callers
// compute it via the dictionary's permutation tables before calling save.
func (bt *bpTable) save(w WordID, frame int, score Score, bp int32, rDiph int32, rcSize, rcSlot int) {
	if existing := bt.wordLatIdx[w]; existing != NoBackPointer {
		e := &bt.entries[existing]
		if score > e.score {
			if bp != e.bp {
				e.bp = bp
				bt.cachePath(existing)
			}
			e.score = score
		}
		bt.scoreStack[e.sIdx+rcSlot] = score
		return
	}

	bt.ensureEntryCapacity()
	bt.ensureScoreStackCapacity(rcSize)

	id := int32(len(bt.entries))
	bt.entries = append(bt.entries, bpEntry{
		wid:    w,
		frame:  frame,
		bp:     bp,
		score:  score,
		sIdx:   bt.bssHead,
		rcSize: rcSize,
		rDiph:  rDiph,
		valid:  true,
	})
	for i := 0; i < rcSize; i++ {
		bt.scoreStack[bt.bssHead+i] = WorstScore
	}
	bt.scoreStack[bt.bssHead+rcSlot] = score
	bt.cachePath(id)
	bt.wordLatIdx[w] = id
	bt.bssHead += rcSize
}

// cachePath sets entries[idx]'s realWID and prevRealWID. If the entry's own
// word is not a filler, realWID is that word itself and prevRealWID is
// whatever real word its predecessor already cached. Otherwise realWID is
// inherited by walking backward through bp links, skipping fillers (word id
// >= silenceWID), until a real word (or the path's start) is found — both
// reads are O(1) thereafter since every entry caches its own realWID as it
// is saved.
func (bt *bpTable) cachePath(idx int32) {
	e := &bt.entries[idx]
	if e.wid < bt.silenceWID {
		e.realWID = e.wid
		if e.bp == NoBackPointer {
			e.prevRealWID = -1
		} else {
			e.prevRealWID = bt.entries[e.bp].realWID
		}
		return
	}

	cur := e.bp
	for cur != NoBackPointer && bt.entries[cur].wid >= bt.silenceWID {
		cur = bt.entries[cur].bp
	}
	if cur == NoBackPointer {
		e.realWID = -1
		e.prevRealWID = -1
		return
	}
	e.realWID = bt.entries[cur].wid
	prev := bt.entries[cur].bp
	if prev == NoBackPointer {
		e.prevRealWID = -1
	} else {
		e.prevRealWID = bt.entries[prev].realWID
	}
}

func (bt *bpTable) ensureEntryCapacity() {
	if len(bt.entries) < cap(bt.entries) {
		return
	}
	newCap := cap(bt.entries) * 2
	if newCap == 0 {
		newCap = 8
	}
	if bt.log != nil {
		bt.log.Info("backpointer table grown", "from", cap(bt.entries), "to", newCap)
	}
	grown := make([]bpEntry, len(bt.entries), newCap)
	copy(grown, bt.entries)
	bt.entries = grown
}

func (bt *bpTable) ensureScoreStackCapacity(need int) {
	if bt.bssHead+need <= cap(bt.scoreStack) {
		bt.scoreStack = bt.scoreStack[:bt.bssHead+need]
		return
	}
	newCap := cap(bt.scoreStack) * 2
	for newCap < bt.bssHead+need {
		newCap *= 2
	}
	if newCap == 0 {
		newCap = 64
	}
	if bt.log != nil {
		bt.log.Info("backpointer score stack grown", "from", cap(bt.scoreStack), "to", newCap)
	}
	grown := make([]Score, len(bt.scoreStack), newCap)
	copy(grown, bt.scoreStack)
	bt.scoreStack = grown
	// The portion between len and bssHead+need is about to be written by
	// save's WorstScore fill; no zero-value leakage reaches a reader.
	bt.scoreStack = bt.scoreStack[:bt.bssHead+need]
}

// applyWordExitCap implements §4.4: within the current frame's segment, keep
// at most one filler exit (the best-scoring), then iteratively drop the
// worst-scoring valid entry until at most maxWPF remain. A maxWPF of -1 or
// equal to the dictionary's total entry count disables the cap entirely.
func (bt *bpTable) applyWordExitCap(frame int) {
	if bt.maxWPF == -1 || bt.maxWPF >= bt.vocabSize {
		return
	}
	start := bt.idx[frame]
	end := len(bt.entries)

	bestFiller := -1
	for i := start; i < end; i++ {
		e := &bt.entries[i]
		if !e.valid || e.wid < bt.silenceWID {
			continue
		}
		if bestFiller == -1 || e.score > bt.entries[bestFiller].score {
			bestFiller = i
		}
	}
	count := 0
	for i := start; i < end; i++ {
		e := &bt.entries[i]
		if !e.valid {
			continue
		}
		if e.wid >= bt.silenceWID && i != bestFiller {
			e.valid = false
			continue
		}
		count++
	}

	for count > bt.maxWPF {
		worst := -1
		for i := start; i < end; i++ {
			e := &bt.entries[i]
			if !e.valid {
				continue
			}
			if worst == -1 || e.score < bt.entries[worst].score {
				worst = i
			}
		}
		invariant(worst != -1, "word-exit cap found no valid entry to invalidate")
		bt.entries[worst].valid = false
		count--
	}
}
