// Package decoder implements the forward lexicon-tree Viterbi search: a
// time-synchronous, beam-pruned pass over a prefix-shared tree of phone HMMs
// that finds the most probable word sequence for one utterance against an
// n-gram language model.
//
// The search itself never touches audio, feature extraction, or hypothesis
// formatting — those live with the caller. [Search] consumes three
// collaborators ([amiface.AcousticModel], [dictionary.Dictionary],
// [lm.Model]) and produces a backpointer lattice, from which
// [Search.BestHypothesis] recovers the 1-best word sequence.
package decoder

import (
	"github.com/voxlex/fwdtree/internal/amiface"
	"github.com/voxlex/fwdtree/internal/dictionary"
	"github.com/voxlex/fwdtree/internal/lm"
)

// Score is a log-domain acoustic or language-model score. More negative is
// worse; WorstScore is the floor used to mark pruned or uninitialized state.
type Score = amiface.Score

// WordID identifies a dictionary entry.
type WordID = dictionary.WordID

// HMM and AcousticModel are re-exported for convenience at decoder call
// sites; their canonical definitions live in package amiface.
type (
	HMM           = amiface.HMM
	AcousticModel = amiface.AcousticModel
)

// Dictionary is re-exported for convenience; its canonical definition lives
// in package dictionary.
type Dictionary = dictionary.Dictionary

// LanguageModel is re-exported for convenience; its canonical definition
// lives in package lm.
type LanguageModel = lm.Model

// DictEntry is re-exported for convenience; its canonical definition lives
// in package dictionary.
type DictEntry = dictionary.Entry

// WorstScore is the score floor. It is chosen well short of Score's range
// limits so that beams and penalties can be added to it repeatedly (e.g. in
// the renormalization check's best score plus twice the beam) without
// overflowing.
const WorstScore Score = -(1 << 29)

// NoBackPointer marks the absence of a predecessor backpointer index, and
// also the "no history yet" value passed to HMM.Enter for the very first
// word of an utterance.
const NoBackPointer int32 = -1
