package decoder

// Hypothesis is the 1-best word sequence traced back through the
// backpointer lattice at the end of an utterance, plus its total score.
type Hypothesis struct {
	WordIDs []WordID
	Score   Score
}

// BestHypothesis traces the backpointer lattice (§3, §4.7) from the last
// frame that has any word exit back to the sentence start, and returns the
// resulting word sequence in left-to-right order. Within that frame it starts
// from the best-scoring valid "</s>" exit, or from the best-scoring valid exit
// of any word if no "</s>" exit is there. Call after Finish. Returns a
// zero-value Hypothesis (nil WordIDs) if no word ever exited.
func (s *Search) BestHypothesis() Hypothesis {
	frame := s.frame - 1
	for frame >= 0 {
		start, end := s.bpt.frameStart(frame), s.bpt.frameEnd(frame)
		if end > start {
			break
		}
		frame--
	}
	if frame < 0 {
		return Hypothesis{}
	}

	start, end := s.bpt.frameStart(frame), s.bpt.frameEnd(frame)
	best := -1
	for i := start; i < end; i++ {
		e := &s.bpt.entries[i]
		if !e.valid {
			continue
		}
		if e.wid == s.dict.FinishWID() && (best == -1 || e.score > s.bpt.entries[best].score) {
			best = i
		}
	}
	if best == -1 {
		for i := start; i < end; i++ {
			e := &s.bpt.entries[i]
			if e.valid && (best == -1 || e.score > s.bpt.entries[best].score) {
				best = i
			}
		}
	}
	if best == -1 {
		return Hypothesis{}
	}

	var words []WordID
	score := s.bpt.entries[best].score
	cur := int32(best)
	for cur != NoBackPointer {
		e := &s.bpt.entries[cur]
		words = append(words, e.wid)
		cur = e.bp
	}
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return Hypothesis{WordIDs: words, Score: score}
}
