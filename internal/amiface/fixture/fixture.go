// Package fixture provides a deterministic, Gaussian-free synthetic
// acoustic model implementing [amiface.AcousticModel] and [amiface.HMM],
// used by every decoder test and by the scenario fixtures named in
// spec.md §8. It has no teacher analog (the teacher never runs a
// time-synchronous acoustic search) and is grounded directly on the
// [amiface] interfaces' documented call order.
package fixture

import (
	"context"
	"errors"
	"math"

	"github.com/voxlex/fwdtree/internal/amiface"
)

// Score is amiface.Score, re-exported so callers building fixtures do not
// need to import amiface directly for score literals.
type Score = amiface.Score

// WorstScore is a score low enough to never win a Viterbi max.
const WorstScore Score = math.MinInt32 / 4

// numStates is the fixed HMM topology: three emitting states, left-to-right,
// no skip transitions, matching PocketSphinx's default 5-state (3 emitting)
// senone topology collapsed to its emitting states only.
const numStates = 3

// hmm is the fixed-topology left-to-right phone HMM primitive.
type hmm struct {
	ssid    int32
	ciphone int32
	mpx     bool

	senones [numStates]int32 // senone id per state, resolved (possibly) dynamically for state 0 when mpx

	state      [numStates]Score
	inScore    Score
	history    [numStates]int32
	outHistory int32
	frame      int
	active     bool
}

func newHMM(mpx bool, ssid, ciphone int32) *hmm {
	h := &hmm{ssid: ssid, ciphone: ciphone, mpx: mpx}
	for s := 0; s < numStates; s++ {
		// Derive a stable per-state senone id from ssid so that distinct
		// tree nodes never accidentally collide on the same senone score.
		h.senones[s] = ssid*int32(numStates) + int32(s)
	}
	return h
}

func (h *hmm) Clear() {
	h.active = false
	h.frame = -1
	for s := range h.state {
		h.state[s] = WorstScore
		h.history[s] = -1
	}
	h.inScore = WorstScore
	h.outHistory = -1
}

func (h *hmm) ClearScores() {
	for s := range h.state {
		h.state[s] = WorstScore
	}
	h.inScore = WorstScore
}

func (h *hmm) Enter(score Score, history int32, frame int) {
	if !h.active || h.frame != frame || score > h.inScore {
		h.inScore = score
		h.history[0] = history
		if !h.active || h.frame < frame-1 {
			// The non-entry states of a node active in the previous frame
			// carry over whatever Viterbi computed there; a node freshly
			// allocated or cleared, or re-entered after a gap, has no
			// meaningful carry-over, so start worst-case.
			for s := 1; s < numStates; s++ {
				h.state[s] = WorstScore
			}
		}
	}
	h.state[0] = maxScore(h.state[0], score)
	h.frame = frame
	h.active = true
}

func (h *hmm) Eval(senoneScores []Score) Score {
	var next [numStates]Score
	var nextHist [numStates]int32
	for s := range next {
		next[s] = WorstScore
		nextHist[s] = -1
	}

	// Self-loop and forward transition, left-to-right, no skips.
	for s := 0; s < numStates; s++ {
		if h.state[s] == WorstScore {
			continue
		}
		sc := h.state[s] + senoneScores[h.senones[s]]
		if sc > next[s] {
			next[s] = sc
			nextHist[s] = h.history[s]
		}
		if s+1 < numStates && sc > next[s+1] {
			next[s+1] = sc
			nextHist[s+1] = h.history[s]
		}
	}

	h.state = next
	h.history = nextHist

	best := WorstScore
	for _, v := range h.state {
		if v > best {
			best = v
		}
	}
	h.outHistory = h.history[numStates-1]
	return best
}

func (h *hmm) BestScore() Score {
	best := WorstScore
	for _, v := range h.state {
		if v > best {
			best = v
		}
	}
	return best
}

func (h *hmm) OutScore() Score      { return h.state[numStates-1] }
func (h *hmm) OutHistory() int32    { return h.outHistory }
func (h *hmm) InScore() Score       { return h.inScore }
func (h *hmm) Frame() int           { return h.frame }
func (h *hmm) IsMPX() bool          { return h.mpx }

func (h *hmm) Normalize(norm Score) {
	for s := range h.state {
		if h.state[s] != WorstScore {
			h.state[s] -= norm
		}
	}
	if h.inScore != WorstScore {
		h.inScore -= norm
	}
}

func (h *hmm) Promote(frame int) {
	h.frame = frame
}

func (h *hmm) SetLeftContextSSID(ssid int32) {
	h.senones[0] = ssid*int32(numStates) + 0
}

// Model is a synthetic acoustic model driven entirely by a caller-supplied
// per-frame senone score table, with no feature extraction or Gaussian
// computation of any kind.
type Model struct {
	nCIPhones int
	silCI     int32
	compAll   bool

	frames       [][]Score // frames[f][senone] = score
	cursor       int
	activeSenone map[int32]bool
}

// Config configures a fixture Model.
type Config struct {
	NumCIPhones   int
	SilenceCIPhone int32
	CompAllSen    bool
	// Frames is the full per-utterance senone score table, one row per
	// frame, indexed by the senone ids the fixture HMMs derive from their
	// ssid (see newHMM). Callers size each row generously; a fixture HMM
	// built with ssid s reads senones [3s, 3s+1, 3s+2].
	Frames [][]Score
}

// ErrNoFrames is returned by Score when the model has been exhausted.
var ErrNoFrames = errors.New("fixture: no more frames")

// New returns a fixture acoustic model that replays cfg.Frames in order.
func New(cfg Config) *Model {
	return &Model{
		nCIPhones:    cfg.NumCIPhones,
		silCI:        cfg.SilenceCIPhone,
		compAll:      cfg.CompAllSen,
		frames:       cfg.Frames,
		activeSenone: make(map[int32]bool),
	}
}

// NewHMM implements amiface.AcousticModel.
func (m *Model) NewHMM(mpx bool, ssid, ciphone int32) amiface.HMM {
	return newHMM(mpx, ssid, ciphone)
}

// ClearActive implements amiface.AcousticModel.
func (m *Model) ClearActive() {
	for k := range m.activeSenone {
		delete(m.activeSenone, k)
	}
}

// ActivateHMM implements amiface.AcousticModel.
func (m *Model) ActivateHMM(h amiface.HMM) {
	fh, ok := h.(*hmm)
	if !ok {
		return
	}
	for _, s := range fh.senones {
		m.activeSenone[s] = true
	}
}

// NumCIPhones implements amiface.AcousticModel.
func (m *Model) NumCIPhones() int { return m.nCIPhones }

// SilenceCIPhone implements amiface.AcousticModel.
func (m *Model) SilenceCIPhone() int32 { return m.silCI }

// CompAllSen implements amiface.AcousticModel.
func (m *Model) CompAllSen() bool { return m.compAll }

// NFeatFrame implements amiface.AcousticModel.
func (m *Model) NFeatFrame() int {
	if m.cursor >= len(m.frames) {
		return 0
	}
	return len(m.frames) - m.cursor
}

// Score implements amiface.AcousticModel. It never actually blocks (there is
// no real feature stream to wait on); ctx is honored only for cancellation.
func (m *Model) Score(ctx context.Context) (int, []Score, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	default:
	}
	if m.cursor >= len(m.frames) {
		return 0, nil, ErrNoFrames
	}
	idx := m.cursor
	row := m.frames[idx]
	m.cursor++
	return idx, row, nil
}

// Reset rewinds the model to frame 0, for reuse across a test's multiple
// Start/Finish cycles (mirroring Search's own reuse contract).
func (m *Model) Reset() { m.cursor = 0 }

func maxScore(a, b Score) Score {
	if a > b {
		return a
	}
	return b
}
