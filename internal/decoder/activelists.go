package decoder

import "log/slog"

// activeLists holds the double-buffered (even/odd frame) producer/consumer
// pairs described in §3: active non-root tree nodes and active multi-phone
// words. Index frame&1 is read by the current frame's driver while
// (frame+1)&1 is written by it; the next frame then reads what was just
// written.
type activeLists struct {
	chanList [2][]chanID
	wordList [2][]WordID

	wordActive []bool // keyed by wid

	maxNonRootChan int
	log            *slog.Logger
}

func newActiveLists(entryCount int, log *slog.Logger) *activeLists {
	return &activeLists{
		wordActive:     make([]bool, entryCount),
		maxNonRootChan: 256,
		log:            log,
	}
}

func (a *activeLists) resetForUtterance() {
	a.chanList[0] = a.chanList[0][:0]
	a.chanList[1] = a.chanList[1][:0]
	a.wordList[0] = a.wordList[0][:0]
	a.wordList[1] = a.wordList[1][:0]
	for i := range a.wordActive {
		a.wordActive[i] = false
	}
}

// pushChan appends id to the chan active list for buffer bufIdx, widening the
// tracked capacity (and logging, §7 "capacity growth") if this push is the
// one that exceeds the previously observed high-water mark by the tree's
// +128 growth increment.
func (a *activeLists) pushChan(bufIdx int, id chanID) {
	a.chanList[bufIdx] = append(a.chanList[bufIdx], id)
	if n := len(a.chanList[bufIdx]); n > a.maxNonRootChan {
		grown := a.maxNonRootChan + 128
		for grown < n {
			grown += 128
		}
		if a.log != nil {
			a.log.Info("active-list capacity grown",
				"component", "nonroot_chan", "from", a.maxNonRootChan, "to", grown)
		}
		a.maxNonRootChan = grown
	}
}

func (a *activeLists) pushWord(bufIdx int, w WordID) {
	if a.wordActive[w] {
		return
	}
	a.wordActive[w] = true
	a.wordList[bufIdx] = append(a.wordList[bufIdx], w)
}

// clearWordActive is called once a word has been consumed from the current
// frame's word list, restoring word_active[w]=0 so the word can be
// re-appended to a future frame's list without the stale flag suppressing it.
func (a *activeLists) clearWordActive(w WordID) {
	a.wordActive[w] = false
}
