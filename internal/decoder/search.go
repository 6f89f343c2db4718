package decoder

import (
	"fmt"
	"log/slog"

	"github.com/voxlex/fwdtree/internal/dictionary"
)

// Tunables holds the search's beam and penalty configuration (§6).
type Tunables struct {
	Beam       Score // general beam
	PBeam      Score // phone-transition beam
	LPBeam     Score // last-phone-transition beam
	LPOnlyBeam Score // last-phone-only beam
	WBeam      Score // word-exit beam

	PIP     Score // phone insertion penalty
	NWPen   Score // new-word penalty
	SilPen  Score // silence word penalty
	FillPen Score // filler word penalty

	MaxWPF   int // per-frame word-exit cap; -1 disables
	MaxHMMPF int // per-frame HMM cap; -1 disables
}

// utteranceStats mirrors ngs->st: per-utterance counters reset at Start and
// reported at Finish.
type utteranceStats struct {
	nRootChanEval      int
	nNonrootChanEval   int
	nLastChanEval      int
	nWordLastChanEval  int
	nSenoneActiveUtt   int
	nLastPhnCandUtt    int
}

// Search is the forward lexicon-tree Viterbi decoder. One instance handles
// one utterance at a time but is reusable across a sequence of
// Start/Step.../Finish cycles without per-utterance leaks (§5, §8).
type Search struct {
	am   AcousticModel
	dict dictionary.Dictionary
	lm   LanguageModel
	cfg  Tunables
	log  *slog.Logger

	pool *nodePool
	lex  *lexicon

	lists *activeLists
	bpt   *bpTable

	frame              int
	bestScore          Score
	lastPhoneBestScore Score
	renormalized       bool
	started            bool

	lastPhnCand []lastPhnCandidate
	candSF      []candSFBucket
	lastLtrans  []ltransEntry
	bestbpRC    []bestBPRC

	senScores []Score

	st utteranceStats
}

// lastPhnCandidate is one pending last-phone candidate awaiting trigram
// rescoring (§4.6).
type lastPhnCandidate struct {
	wid   WordID
	score Score
	bp    int32
	next  int32 // index of the next candidate chained into the same cand_sf bucket, or -1
}

// candSFBucket buckets last-phone candidates by predecessor end-frame
// (§9: "a small vector with linear search").
type candSFBucket struct {
	frame int
	head  int32
}

// ltransEntry is last_ltrans[w]: the best trigram transition found for a
// last-phone candidate during §4.6 step 2.
type ltransEntry struct {
	dscr Score
	bp   int32
}

// bestBPRC is bestbp_rc[rc]: the best-scoring backpointer entry, for a given
// right-context CI phone, among this frame's valid exits (§4.5 step 1).
type bestBPRC struct {
	score Score
	bp    int32
	lc    int32 // last CI phone of the word ending at that backpointer
	valid bool
}

// NewSearch constructs a Search against the given collaborators and
// tunables. Call Init before Start.
func NewSearch(am AcousticModel, dict dictionary.Dictionary, lmModel LanguageModel, cfg Tunables, log *slog.Logger) *Search {
	if log == nil {
		log = slog.Default()
	}
	return &Search{am: am, dict: dict, lm: lmModel, cfg: cfg, log: log}
}

// Init builds the lexicon tree and the root/single-phone pools (§4.1, §6).
// It returns a fatal configuration/build error (§7) if the dictionary is
// malformed; the Search must not be used if Init fails.
func (s *Search) Init() error {
	s.pool = newNodePool(s.am.NewHMM)
	lex, err := buildTree(s.am, s.dict, s.lm, s.pool)
	if err != nil {
		return fmt.Errorf("decoder init: %w", err)
	}
	s.lex = lex

	entryCount := s.dict.EntryCount()
	s.lists = newActiveLists(entryCount, s.log)
	s.bpt = newBPTable(entryCount, s.dict.SilenceWID(), s.cfg.MaxWPF, s.log)
	s.lastLtrans = make([]ltransEntry, entryCount)
	s.bestbpRC = make([]bestBPRC, s.dict.NumCIPhones())
	s.senScores = nil
	return nil
}

// Rebuild tears down and reconstructs the lexicon tree, as required whenever
// the active language model changes (§4.1). Root channels are not carried
// over: the rebuilt lexicon gets a newly allocated set of roots.
func (s *Search) Rebuild() error {
	s.lex.teardown()
	lex, err := buildTree(s.am, s.dict, s.lm, s.pool)
	if err != nil {
		return fmt.Errorf("decoder rebuild: %w", err)
	}
	s.lex = lex
	if n := s.pool.Len(); n >= len(s.lists.chanList[0]) && n >= len(s.lists.chanList[1]) {
		s.lists.maxNonRootChan += 128
	}
	return nil
}

// Start begins a new utterance (§6): reset the bp table, word lattice,
// active lists, and scores, then enter "<s>" into its single-phone channel
// at score 0, history NoBackPointer, frame 0.
func (s *Search) Start() {
	s.frame = 0
	s.bestScore = 0
	s.lastPhoneBestScore = WorstScore
	s.renormalized = false
	s.started = true

	s.bpt.resetForUtterance()
	s.lists.resetForUtterance()
	s.lastPhnCand = s.lastPhnCand[:0]
	s.candSF = s.candSF[:0]

	for i := range s.lex.roots {
		if s.lex.roots[i].inUse {
			s.lex.roots[i].hmm.Clear()
		}
	}
	for i := range s.lex.allRHMM {
		s.lex.allRHMM[i].hmm.Clear()
	}
	s.st = utteranceStats{}

	s.bpt.markFrame()

	startCh := s.lex.singleByWID[s.dict.StartWID()]
	invariant(startCh != nil, "\"<s>\" has no single-phone channel")
	startCh.hmm.Enter(0, NoBackPointer, 0)
}

// Finish ends the utterance (§6): marks one more bp-table frame boundary,
// clears every HMM, and frees every multi-phone word's leaf chain.
func (s *Search) Finish() {
	s.bpt.markFrame()

	for i := range s.lex.roots {
		if s.lex.roots[i].inUse {
			s.lex.roots[i].hmm.Clear()
		}
	}
	for i := range s.lex.allRHMM {
		s.lex.allRHMM[i].hmm.Clear()
	}
	for w := range s.lex.wordChan {
		if s.lex.wordChan[w].leafHead != noChan {
			s.lex.freeAllRC(WordID(w))
		}
	}

	s.log.Info("utterance finished",
		"frames", s.frame,
		"root_chan_eval", s.st.nRootChanEval,
		"nonroot_chan_eval", s.st.nNonrootChanEval,
		"last_chan_eval", s.st.nLastChanEval,
		"word_lastchan_eval", s.st.nWordLastChanEval,
		"senone_active_utt", s.st.nSenoneActiveUtt,
		"lastphn_cand_utt", s.st.nLastPhnCandUtt,
	)
	s.started = false
}

// Deinit tears down the lexicon tree and releases the node pool (§6). The
// Search must not be used afterward.
func (s *Search) Deinit() {
	s.lex.teardown()
	s.pool.nodes = nil
	s.pool.free = nil
}

// BPTableEntryCount returns the number of backpointer entries recorded so
// far in the current (or most recently finished) utterance.
func (s *Search) BPTableEntryCount() int { return len(s.bpt.entries) }

// PoolHighWater reports the node pool's all-time high-water mark, used by
// tests asserting bounded growth across utterances.
func (s *Search) PoolHighWater() int { return s.pool.HighWater() }
