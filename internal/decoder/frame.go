package decoder

import (
	"context"
	"fmt"
)

const histogramBins = 256

// Step implements §4.2: advance one frame. It returns false (with a nil
// error) when the acoustic model has no frame ready, matching step()'s
// "0 if no frame available, else 1" contract without propagating errors for
// that ordinary case; a non-nil error only results from a genuine failure
// pulling senone scores from the acoustic model (§7: no error is propagated
// to the caller from step for the no-frame-available case).
func (s *Search) Step(ctx context.Context) (bool, error) {
	if s.am.NFeatFrame() == 0 {
		return false, nil
	}
	_, senScores, err := s.am.Score(ctx)
	if err != nil {
		return false, fmt.Errorf("decoder step: score senones: %w", err)
	}

	f := s.frame
	s.activateSenones(f)
	s.maybeRenormalize(f)
	s.evaluate(f, senScores)
	dynBeam := s.pruneChannels(f)
	s.lastPhoneTransition(f)
	s.wordChannelPrune(f, dynBeam)
	s.bpt.applyWordExitCap(f)
	s.wordTransition(f, dynBeam)
	s.deactivate(f)

	s.bpt.markFrame()
	s.frame = f + 1
	return true, nil
}

func maxScore(a, b Score) Score {
	if a > b {
		return a
	}
	return b
}

// activateSenones implements §4.2 step 1: union the senones of every HMM
// whose frame stamp equals f across roots, the non-root active list, active
// words' leaf chains, and active single-phone words.
func (s *Search) activateSenones(f int) {
	if s.am.CompAllSen() {
		return
	}
	s.am.ClearActive()
	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if r.inUse && r.hmm.Frame() == f {
			s.am.ActivateHMM(r.hmm)
			s.st.nSenoneActiveUtt++
		}
	}
	for _, id := range s.lists.chanList[f&1] {
		n := s.pool.get(id)
		if n.hmm.Frame() == f {
			s.am.ActivateHMM(n.hmm)
			s.st.nSenoneActiveUtt++
		}
	}
	for _, w := range s.lists.wordList[f&1] {
		for cur := s.lex.wordChan[w].leafHead; cur != noChan; {
			n := s.pool.get(cur)
			if n.hmm.Frame() == f {
				s.am.ActivateHMM(n.hmm)
				s.st.nSenoneActiveUtt++
			}
			cur = n.next
		}
	}
	for i := range s.lex.allRHMM {
		ch := &s.lex.allRHMM[i]
		if ch.hmm.Frame() == f {
			s.am.ActivateHMM(ch.hmm)
			s.st.nSenoneActiveUtt++
		}
	}
}

// maybeRenormalize implements §4.2 step 2: if running scores risk
// underflow, subtract the current best score from every active HMM's state
// scores.
func (s *Search) maybeRenormalize(f int) {
	if s.bestScore+2*s.cfg.Beam >= WorstScore {
		return
	}
	norm := s.bestScore
	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if r.inUse && r.hmm.Frame() == f {
			r.hmm.Normalize(norm)
		}
	}
	for _, id := range s.lists.chanList[f&1] {
		s.pool.get(id).hmm.Normalize(norm)
	}
	for _, w := range s.lists.wordList[f&1] {
		for cur := s.lex.wordChan[w].leafHead; cur != noChan; {
			n := s.pool.get(cur)
			n.hmm.Normalize(norm)
			cur = n.next
		}
	}
	for i := range s.lex.allRHMM {
		ch := &s.lex.allRHMM[i]
		if ch.hmm.Frame() == f {
			ch.hmm.Normalize(norm)
		}
	}
	s.renormalized = true
}

// evaluate implements §4.2 step 3: Viterbi-step every active HMM in order
// {roots, non-root tree, per-word leaves, single-phone words}, tracking the
// global best score and the best score restricted to last-phone HMMs.
func (s *Search) evaluate(f int, senScores []Score) {
	best := WorstScore
	lastBest := WorstScore

	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if r.inUse && r.hmm.Frame() == f {
			sc := r.hmm.Eval(senScores)
			s.st.nRootChanEval++
			if sc > best {
				best = sc
			}
		}
	}
	for _, id := range s.lists.chanList[f&1] {
		n := s.pool.get(id)
		if n.hmm.Frame() != f {
			continue
		}
		sc := n.hmm.Eval(senScores)
		s.st.nNonrootChanEval++
		if sc > best {
			best = sc
		}
	}
	for _, w := range s.lists.wordList[f&1] {
		for cur := s.lex.wordChan[w].leafHead; cur != noChan; {
			n := s.pool.get(cur)
			next := n.next
			if n.hmm.Frame() == f {
				sc := n.hmm.Eval(senScores)
				s.st.nLastChanEval++
				if sc > best {
					best = sc
				}
				if sc > lastBest {
					lastBest = sc
				}
			}
			cur = next
		}
	}
	for i := range s.lex.allRHMM {
		ch := &s.lex.allRHMM[i]
		if ch.hmm.Frame() == f {
			sc := ch.hmm.Eval(senScores)
			s.st.nWordLastChanEval++
			if sc > best {
				best = sc
			}
			if sc > lastBest {
				lastBest = sc
			}
		}
	}

	s.bestScore = best
	s.lastPhoneBestScore = lastBest
}

// pruneChannels implements §4.3: compute the dynamic beam (widening it via a
// histogram pass when the HMM-per-frame cap is exceeded) and prune roots and
// non-root tree nodes against it, generating phone-transition entries and
// last-phone candidates along the way.
func (s *Search) pruneChannels(f int) Score {
	dynBeam := s.cfg.Beam
	if s.cfg.MaxHMMPF != -1 && s.st.nRootChanEval+s.st.nNonrootChanEval > s.cfg.MaxHMMPF {
		dynBeam = s.histogramPrune(f)
	}

	thresh := s.bestScore + dynBeam
	newphoneThresh := s.bestScore + maxScore(dynBeam, s.cfg.PBeam)
	lastphnThresh := s.bestScore + maxScore(dynBeam, s.cfg.LPBeam)

	s.lastPhnCand = s.lastPhnCand[:0]
	s.candSF = s.candSF[:0]

	s.pruneRoots(f, thresh, newphoneThresh, lastphnThresh)
	s.pruneNonroot(f, thresh, newphoneThresh, lastphnThresh)

	return dynBeam
}

// histogramPrune widens the beam downward using a 256-bin histogram of
// (best_score - hmm_best) over currently active root and non-root HMMs,
// stopping at the first bin whose cumulative count exceeds maxhmmpf.
func (s *Search) histogramPrune(f int) Score {
	binWidth := -s.cfg.Beam / histogramBins
	if binWidth <= 0 {
		binWidth = 1
	}
	var counts [histogramBins]int
	tally := func(h HMM) {
		diff := s.bestScore - h.BestScore()
		bin := int(diff / binWidth)
		switch {
		case bin < 0:
			bin = 0
		case bin >= histogramBins:
			bin = histogramBins - 1
		}
		counts[bin]++
	}
	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if r.inUse && r.hmm.Frame() == f {
			tally(r.hmm)
		}
	}
	for _, id := range s.lists.chanList[f&1] {
		n := s.pool.get(id)
		if n.hmm.Frame() == f {
			tally(n.hmm)
		}
	}
	cum := 0
	for i := 0; i < histogramBins; i++ {
		cum += counts[i]
		if cum > s.cfg.MaxHMMPF {
			widened := -Score(i) * binWidth
			s.log.Info("dynamic beam widened", "bin", i, "beam", widened)
			return widened
		}
	}
	return s.cfg.Beam
}

// tryEnterChild enters a tree child with a phone-transition score, appending
// it to the next frame's active list exactly once — the first time it is
// entered for that target frame.
func (s *Search) tryEnterChild(id chanID, score Score, hist int32, f int) {
	n := s.pool.get(id)
	cur := n.hmm.Frame()
	if cur < f || n.hmm.InScore() < score {
		wasPendingNext := cur == f+1
		n.hmm.Enter(score, hist, f+1)
		if !wasPendingNext {
			s.lists.pushChan((f+1)&1, id)
		}
	}
}

// pruneRoots implements §4.3's root-pruning paragraph.
func (s *Search) pruneRoots(f int, thresh, newphoneThresh, lastphnThresh Score) {
	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if !r.inUse || r.hmm.Frame() != f {
			continue
		}
		if r.hmm.BestScore() <= thresh {
			continue
		}
		r.hmm.Promote(f + 1)

		newphoneScore := r.hmm.OutScore() + s.cfg.PIP
		if newphoneScore <= newphoneThresh {
			continue
		}
		hist := r.hmm.OutHistory()
		for child := r.next; child != noChan; child = s.pool.get(child).alt {
			s.tryEnterChild(child, newphoneScore, hist, f)
		}
		if newphoneScore > lastphnThresh {
			for w := r.penultPhnWid; w != -1; w = s.lex.homophoneSet[w] {
				s.addLastPhnCandidate(w, newphoneScore-s.cfg.NWPen, hist)
			}
		}
	}
}

// pruneNonroot implements §4.3's non-root-pruning paragraph. A node is only
// ever processed here while its own frame stamp still equals f; a node
// already advanced to f+1 by an incoming phone-transition earlier this same
// pass is left alone; it will evaluate and fan out on its own next frame.
func (s *Search) pruneNonroot(f int, thresh, newphoneThresh, lastphnThresh Score) {
	for _, id := range s.lists.chanList[f&1] {
		n := s.pool.get(id)
		if n.hmm.Frame() != f {
			continue
		}
		if n.hmm.BestScore() <= thresh {
			n.hmm.ClearScores()
			continue
		}
		n.hmm.Promote(f + 1)
		s.lists.pushChan((f+1)&1, id)

		newphoneScore := n.hmm.OutScore() + s.cfg.PIP
		if newphoneScore <= newphoneThresh {
			continue
		}
		hist := n.hmm.OutHistory()
		for child := n.next; child != noChan; child = s.pool.get(child).alt {
			s.tryEnterChild(child, newphoneScore, hist, f)
		}
		if newphoneScore > lastphnThresh {
			for w := n.penultPhnWid; w != -1; w = s.lex.homophoneSet[w] {
				s.addLastPhnCandidate(w, newphoneScore-s.cfg.NWPen, hist)
			}
		}
	}
}

// addLastPhnCandidate records a pending last-phone candidate, bucketed by
// the predecessor backpointer's exit frame for §4.6's rescoring pass. score
// is reduced to its acoustic-only contribution by subtracting the
// right-context score already baked into the predecessor's exit.
func (s *Search) addLastPhnCandidate(w WordID, enterScore Score, predBP int32) {
	e := &s.bpt.entries[predBP]
	perm := s.rcPerm(e.rDiph)
	ciFirst := s.dict.Entry(w).CIPhoneIDs[0]
	acoustic := enterScore - s.bpt.scoreStack[e.sIdx+int(perm[ciFirst])]

	bucket := s.findOrCreateCandSFBucket(e.frame)
	idx := int32(len(s.lastPhnCand))
	s.lastPhnCand = append(s.lastPhnCand, lastPhnCandidate{
		wid: w, score: acoustic, bp: predBP, next: s.candSF[bucket].head,
	})
	s.candSF[bucket].head = idx
	s.st.nLastPhnCandUtt++
}

func (s *Search) rcPerm(rDiph int32) []int32 {
	if rDiph < 0 {
		return s.dict.ZeroPermTab()
	}
	return s.dict.RightContextPerm(rDiph)
}

func (s *Search) findOrCreateCandSFBucket(frame int) int {
	for i := range s.candSF {
		if s.candSF[i].frame == frame {
			return i
		}
	}
	s.candSF = append(s.candSF, candSFBucket{frame: frame, head: -1})
	return len(s.candSF) - 1
}

// lastPhoneTransition implements §4.6 steps 2-4: rescore every pending
// last-phone candidate against the valid backpointer entries sharing its
// bucket's frame, then instantiate and enter leaf chains for survivors.
func (s *Search) lastPhoneTransition(f int) {
	if len(s.lastPhnCand) == 0 {
		return
	}
	for i := range s.lastLtrans {
		s.lastLtrans[i].bp = NoBackPointer
	}

	for _, bucket := range s.candSF {
		start, end := s.bpt.frameStart(bucket.frame), s.bpt.frameEnd(bucket.frame)
		for bpi := start; bpi < end; bpi++ {
			be := &s.bpt.entries[bpi]
			if !be.valid {
				continue
			}
			perm := s.rcPerm(be.rDiph)
			for ci := bucket.head; ci != -1; ci = s.lastPhnCand[ci].next {
				cand := &s.lastPhnCand[ci]
				ciFirst := s.dict.Entry(cand.wid).CIPhoneIDs[0]
				rcScore := s.bpt.scoreStack[be.sIdx+int(perm[ciFirst])]
				lmScore, _ := s.lm.TrigramScore(cand.wid, be.realWID, be.prevRealWID)
				total := rcScore + lmScore
				lt := &s.lastLtrans[cand.wid]
				if lt.bp == NoBackPointer || total > lt.dscr {
					lt.dscr = total
					lt.bp = int32(bpi)
				}
			}
		}
	}

	best := WorstScore
	for i := range s.lastPhnCand {
		cand := &s.lastPhnCand[i]
		lt := s.lastLtrans[cand.wid]
		if lt.bp == NoBackPointer {
			continue
		}
		cand.score += lt.dscr
		cand.bp = lt.bp
		if cand.score > best {
			best = cand.score
		}
	}
	if best > s.lastPhoneBestScore {
		s.lastPhoneBestScore = best
	}

	prune := best + s.cfg.LPOnlyBeam
	nf := f + 1
	for i := range s.lastPhnCand {
		cand := s.lastPhnCand[i]
		if s.lastLtrans[cand.wid].bp == NoBackPointer || cand.score <= prune {
			continue
		}
		e := s.dict.Entry(cand.wid)
		if e.Len() < 2 {
			continue
		}
		head := s.lex.allocLeaves(s.am, s.dict, cand.wid, e)
		entered := false
		for leaf := head; leaf != noChan; {
			n := s.pool.get(leaf)
			if n.hmm.Frame() < f || n.hmm.InScore() < cand.score {
				n.hmm.Enter(cand.score, cand.bp, nf)
				entered = true
			}
			leaf = n.next
		}
		if entered {
			s.lists.pushWord(nf&1, cand.wid)
		}
	}
}

// wordChannelPrune implements §4.3's word-channel-pruning paragraph plus its
// single-phone-word addendum.
func (s *Search) wordChannelPrune(f int, dynBeam Score) {
	lastphnThresh := s.bestScore + maxScore(dynBeam, s.cfg.LPBeam)
	newwordThresh := s.lastPhoneBestScore + maxScore(dynBeam, s.cfg.WBeam)
	nf := f + 1

	for _, w := range s.lists.wordList[f&1] {
		s.lists.clearWordActive(w)
		entry := &s.lex.wordChan[w]
		prevPtr := &entry.leafHead
		anySurvive := false
		for cur := entry.leafHead; cur != noChan; {
			n := s.pool.get(cur)
			next := n.next
			switch {
			case n.hmm.Frame() != f:
				// Already entered for nf by lastPhoneTransition this frame.
				anySurvive = true
				prevPtr = &n.next
			case n.hmm.BestScore() > lastphnThresh:
				n.hmm.Promote(nf)
				anySurvive = true
				if n.hmm.OutScore() > newwordThresh {
					s.saveWordExit(w, f, n)
				}
				prevPtr = &n.next
			default:
				*prevPtr = next
				s.pool.freeNode(cur)
			}
			cur = next
		}
		if anySurvive {
			s.lists.pushWord(nf&1, w)
		}
	}

	for i := range s.lex.allRHMM {
		ch := &s.lex.allRHMM[i]
		if ch.hmm.Frame() != f {
			continue
		}
		if ch.hmm.BestScore() > lastphnThresh {
			ch.hmm.Promote(nf)
			if ch.hmm.OutScore() > newwordThresh {
				s.saveSinglePhoneExit(ch, f)
			}
		}
	}
}

func (s *Search) saveWordExit(w WordID, f int, n *node) {
	e := s.dict.Entry(w)
	rDiph := e.PhoneIDs[e.Len()-1]
	rcSize := s.dict.RightContextSize(rDiph)
	rd := int32(-1)
	if e.MPX {
		rd = rDiph
	}
	s.bpt.save(w, f, n.hmm.OutScore(), n.hmm.OutHistory(), rd, rcSize, int(n.rcID))
}

func (s *Search) saveSinglePhoneExit(ch *singlePhoneChan, f int) {
	s.bpt.save(ch.wid, f, ch.hmm.OutScore(), ch.hmm.OutHistory(), -1, 1, 0)
}

func (s *Search) lastCIPhone(w WordID) int32 {
	e := s.dict.Entry(w)
	return e.CIPhoneIDs[e.Len()-1]
}

// wordTransition implements §4.5: build the best-predecessor-per-right-
// context table, then fan out into multi-phone roots, single-phone in-LM
// words, and silence/filler words for frame f+1.
func (s *Search) wordTransition(f int, dynBeam Score) {
	thresh := s.bestScore + dynBeam
	for i := range s.bestbpRC {
		s.bestbpRC[i] = bestBPRC{score: WorstScore, bp: NoBackPointer}
	}

	start, end := s.bpt.frameStart(f), len(s.bpt.entries)
	finishWID := s.dict.FinishWID()
	any := false
	for i := start; i < end; i++ {
		e := &s.bpt.entries[i]
		if !e.valid {
			continue
		}
		s.bpt.wordLatIdx[e.wid] = NoBackPointer
		if e.wid == finishWID {
			continue
		}
		any = true
		perm := s.rcPerm(e.rDiph)
		lastCI := s.lastCIPhone(e.wid)
		for ci := 0; ci < s.dict.NumCIPhones(); ci++ {
			cand := s.bpt.scoreStack[e.sIdx+int(perm[ci])]
			if cand > s.bestbpRC[ci].score {
				s.bestbpRC[ci] = bestBPRC{score: cand, bp: int32(i), lc: lastCI, valid: true}
			}
		}
	}
	if !any {
		return
	}

	nf := f + 1

	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if !r.inUse {
			continue
		}
		b := s.bestbpRC[r.ciphone]
		if !b.valid {
			continue
		}
		score := b.score + s.cfg.NWPen + s.cfg.PIP
		if score <= thresh {
			continue
		}
		if r.hmm.Frame() != nf || r.hmm.InScore() < score {
			r.hmm.Enter(score, b.bp, nf)
			if r.hmm.IsMPX() {
				r.hmm.SetLeftContextSSID(s.dict.LeftContextFwd(r.diphone, b.lc))
			}
		}
	}

	for _, w := range s.lex.singlePhoneWID {
		if !s.lm.KnownWID(w) {
			continue
		}
		ch := s.lex.singleByWID[w]
		ciFirst := ch.ciphone

		best := WorstScore
		bestBP := int32(NoBackPointer)
		for i := start; i < end; i++ {
			e := &s.bpt.entries[i]
			if !e.valid || e.wid == finishWID {
				continue
			}
			perm := s.rcPerm(e.rDiph)
			lm, _ := s.lm.TrigramScore(w, e.realWID, e.prevRealWID)
			cand := s.bpt.scoreStack[e.sIdx+int(perm[ciFirst])] + lm
			if cand > best {
				best = cand
				bestBP = int32(i)
			}
		}
		if bestBP == NoBackPointer {
			continue
		}
		score := best + s.cfg.PIP
		if score <= thresh {
			continue
		}
		if ch.hmm.Frame() != nf || ch.hmm.InScore() < score {
			ch.hmm.Enter(score, bestBP, nf)
			if ch.hmm.IsMPX() {
				lc := s.lastCIPhone(s.bpt.entries[bestBP].wid)
				ch.hmm.SetLeftContextSSID(s.dict.LeftContextFwd(ch.diphone, lc))
			}
		}
	}

	silWID := s.dict.SilenceWID()
	silRC := s.bestbpRC[s.am.SilenceCIPhone()]
	if !silRC.valid {
		return
	}
	if silCh := s.lex.singleByWID[silWID]; silCh != nil {
		score := silRC.score + s.cfg.SilPen + s.cfg.PIP
		if score > thresh && (silCh.hmm.Frame() != nf || silCh.hmm.InScore() < score) {
			silCh.hmm.Enter(score, silRC.bp, nf)
		}
	}
	for w := silWID + 1; int(w) < s.dict.EntryCount(); w++ {
		fillCh := s.lex.singleByWID[w]
		if fillCh == nil {
			continue
		}
		score := silRC.score + s.cfg.FillPen + s.cfg.PIP
		if score > thresh && (fillCh.hmm.Frame() != nf || fillCh.hmm.InScore() < score) {
			fillCh.hmm.Enter(score, silRC.bp, nf)
		}
	}
}

// deactivate implements §4.2 step 7: clear state scores for every root and
// single-phone word not promoted to f+1.
func (s *Search) deactivate(f int) {
	for i := range s.lex.roots {
		r := &s.lex.roots[i]
		if r.inUse && r.hmm.Frame() == f {
			r.hmm.ClearScores()
		}
	}
	for i := range s.lex.allRHMM {
		ch := &s.lex.allRHMM[i]
		if ch.hmm.Frame() == f {
			ch.hmm.ClearScores()
		}
	}
}
