// Package amiface defines the acoustic-model boundary the decoder core is
// built against: a phone HMM primitive and the model that supplies senone
// scores and constructs HMMs. Concrete models (see amiface/fixture) live
// outside the decoder so the search never depends on a particular acoustic
// front end.
package amiface

import "context"

// Score is a log-domain acoustic score. More negative is worse.
type Score int32

// HMM is the phone-level Viterbi primitive, supplied by an [AcousticModel].
// Implementations are fixed-topology left-to-right models; the decoder only
// ever calls these methods in the order: Clear or Enter, then zero or more
// Eval/score reads per frame, then eventually ClearScores or Clear again.
type HMM interface {
	// Clear resets the HMM to an inactive state.
	Clear()

	// ClearScores wipes only the running state scores, leaving frame-stamp
	// bookkeeping alone. Used to deactivate an HMM that lost the frame's
	// pruning pass without freeing the node it lives in.
	ClearScores()

	// Enter activates the HMM's entry state with the given incoming score,
	// backpointer history, and frame stamp. Calling Enter when the HMM is
	// already active for the same frame folds in the better of the two
	// scores (Viterbi max at the entry state).
	Enter(score Score, history int32, frame int)

	// Eval advances the HMM one Viterbi frame given the current frame's
	// senone scores, and returns the HMM's best state score after the step.
	Eval(senoneScores []Score) Score

	// BestScore returns the best state score as of the last Eval call.
	BestScore() Score

	// OutScore returns the current exit-state (rightmost state) score.
	OutScore() Score

	// OutHistory returns the backpointer history carried by the exit state.
	OutHistory() int32

	// InScore returns the entry-state's current pending score, used to
	// decide whether a prospective Enter would actually improve it.
	InScore() Score

	// Frame returns the frame stamp at which this HMM was last entered or
	// promoted.
	Frame() int

	// Normalize subtracts norm from every active state score.
	Normalize(norm Score)

	// Promote advances the frame stamp to frame without touching state
	// scores, marking the HMM as surviving into that frame without a fresh
	// entry. Used when a node's own best score clears the pruning beam.
	Promote(frame int)

	// IsMPX reports whether this HMM's left context is resolved dynamically.
	IsMPX() bool

	// SetLeftContextSSID installs the senone-sequence id for the dynamic left
	// context of an mpx HMM. Only valid when IsMPX reports true.
	SetLeftContextSSID(ssid int32)
}

// AcousticModel is the supplier of per-frame senone scores and of the HMM
// primitives the search drives.
type AcousticModel interface {
	// NewHMM constructs a phone HMM for the given senone-sequence id and
	// context-independent phone, with the given mpx-ness. The caller owns
	// the returned HMM exclusively until it frees the node that holds it.
	NewHMM(mpx bool, ssid, ciphone int32) HMM

	// ClearActive resets the set of senones the model will compute on the
	// next Score call.
	ClearActive()

	// ActivateHMM marks h's senones as needed for the next Score call.
	ActivateHMM(h HMM)

	// NumCIPhones returns the number of distinct context-independent phones
	// in the model.
	NumCIPhones() int

	// SilenceCIPhone returns the context-independent phone id for silence.
	SilenceCIPhone() int32

	// CompAllSen reports whether the model always scores every senone,
	// making ClearActive/ActivateHMM calls unnecessary before Score.
	CompAllSen() bool

	// NFeatFrame reports how many feature frames are currently buffered and
	// ready to be consumed by Score. A return of 0 means no frame is
	// available yet.
	NFeatFrame() int

	// Score blocks (respecting ctx) until the next frame's senone scores are
	// ready, and returns them along with the frame index they belong to.
	Score(ctx context.Context) (frameIdx int, senoneScores []Score, err error)
}
