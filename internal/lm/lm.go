// Package lm defines the trigram language-model boundary the decoder core is
// built against. See lm/backoff for a concrete map-based backoff model.
package lm

import (
	"github.com/voxlex/fwdtree/internal/amiface"
	"github.com/voxlex/fwdtree/internal/dictionary"
)

// Score is a log-domain language-model score, expressed in the same units as
// [amiface.Score] so acoustic and language scores combine by plain addition.
type Score = amiface.Score

// Model is the supplier of trigram log-probabilities and LM vocabulary
// membership.
type Model interface {
	// KnownWID reports whether w participates in the language model. Words
	// for which this is false are handled as out-of-LM (filler-like) words
	// regardless of their phone count.
	KnownWID(w dictionary.WordID) bool

	// TrigramScore returns the log-probability of w following prevW then
	// prevPrevW (oldest first: prevPrevW precedes prevW), falling back to
	// bigram/unigram internally when the trigram is unseen. prevPrevW and
	// prevW of -1 (the value of decoder.NoBackPointer) mean "no such word"
	// (sentence-initial context).
	TrigramScore(w, prevW, prevPrevW dictionary.WordID) (score Score, nUsed int)
}
