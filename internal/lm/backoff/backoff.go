// Package backoff implements a map-based trigram backoff language model: the
// concrete [lm.Model] this repository ships, loaded from an ARPA-format
// n-gram file.
//
// No third-party n-gram library appears anywhere in the retrieval pack, so
// this package is stdlib-only (see DESIGN.md for the per-component
// grounding ledger and the justification for standard-library-only parts).
package backoff

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/voxlex/fwdtree/internal/amiface"
	"github.com/voxlex/fwdtree/internal/dictionary"
)

// Score is amiface.Score, the same type lm.Score aliases, so Model satisfies
// lm.Model without this package importing lm.
type Score = amiface.Score

const logBase = 10.0

// entry2 is a bigram's probability and backoff weight.
type entry2 struct {
	prob    Score
	backoff Score
}

// Model is a map-based ARPA trigram backoff model. Probabilities and backoff
// weights are stored pre-converted to the decoder's internal log base
// (natural-log-scaled fixed point, matching [amiface.Score]'s units) so that
// [Model.TrigramScore] never does floating-point work on the hot path beyond
// a handful of map lookups and additions.
type Model struct {
	unigrams map[dictionary.WordID]entry2 // .prob is P(w); .backoff is w's backoff weight as a bigram context
	bigrams  map[bigramKey]entry2
	trigrams map[trigramKey]Score

	logScale float64 // multiplier from file-unit log10 probabilities to amiface.Score units
}

type bigramKey struct {
	w1, w2 dictionary.WordID // w1 precedes w2
}

type trigramKey struct {
	w1, w2, w3 dictionary.WordID // w1, w2 precede w3
}

// NoWord marks an absent context word (sentence-initial position), mirroring
// decoder.NoBackPointer's -1 convention.
const NoWord dictionary.WordID = -1

// ErrMalformedARPA is returned when the input is not a well-formed ARPA file.
var ErrMalformedARPA = errors.New("backoff: malformed ARPA language model")

// Load parses an ARPA-format n-gram file at path, resolving word strings to
// ids via lookup (typically dictionary.Dictionary.WordID-by-name, supplied by
// the caller since the [dictionary.Dictionary] interface itself only maps id
// to entry). logScale converts the file's log10 probabilities into
// [amiface.Score] units; pass a value consistent with the acoustic model's
// own scaling.
func Load(path string, logScale float64, lookup func(word string) (dictionary.WordID, bool)) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backoff: open %s: %w", path, err)
	}
	defer f.Close()
	return loadFrom(f, logScale, lookup)
}

func loadFrom(r io.Reader, logScale float64, lookup func(word string) (dictionary.WordID, bool)) (*Model, error) {
	m := &Model{
		unigrams: make(map[dictionary.WordID]entry2),
		bigrams:  make(map[bigramKey]entry2),
		trigrams: make(map[trigramKey]Score),
		logScale: logScale,
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	order := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "\\1-grams:"):
			order = 1
		case strings.HasPrefix(line, "\\2-grams:"):
			order = 2
		case strings.HasPrefix(line, "\\3-grams:"):
			order = 3
		case strings.HasPrefix(line, "\\end\\"):
			order = 0
		case strings.HasPrefix(line, "\\data\\"), strings.HasPrefix(line, "ngram "):
			continue
		default:
			if order == 0 {
				continue
			}
			if err := m.parseNgramLine(line, order, lookup); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("backoff: read ARPA file: %w", err)
	}
	return m, nil
}

func (m *Model) parseNgramLine(line string, order int, lookup func(string) (dictionary.WordID, bool)) error {
	fields := strings.Fields(line)
	if len(fields) < order+1 {
		return fmt.Errorf("%w: %q has %d fields, want at least %d", ErrMalformedARPA, line, len(fields), order+1)
	}
	logProb, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("%w: probability %q: %v", ErrMalformedARPA, fields[0], err)
	}
	words := fields[1 : 1+order]
	ids := make([]dictionary.WordID, order)
	for i, w := range words {
		wid, ok := lookup(w)
		if !ok {
			// Out-of-dictionary LM entries are silently skipped; the search
			// treats unknown words as out-of-LM via Model.KnownWID.
			return nil
		}
		ids[i] = wid
	}

	var backoffLog float64
	if rest := fields[1+order:]; len(rest) > 0 {
		backoffLog, err = strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return fmt.Errorf("%w: backoff weight %q: %v", ErrMalformedARPA, rest[0], err)
		}
	}

	prob := m.toScore(logProb)
	bo := m.toScore(backoffLog)

	switch order {
	case 1:
		m.unigrams[ids[0]] = entry2{prob: prob, backoff: bo}
	case 2:
		m.bigrams[bigramKey{ids[0], ids[1]}] = entry2{prob: prob, backoff: bo}
	case 3:
		m.trigrams[trigramKey{ids[0], ids[1], ids[2]}] = prob
	}
	return nil
}

func (m *Model) toScore(log10Prob float64) Score {
	// Convert log10 probability to natural-log-scaled fixed point, matching
	// the acoustic model's own units, then apply the caller-supplied scale.
	nats := log10Prob * math.Ln10
	return Score(math.Round(nats * m.logScale))
}

// KnownWID reports whether w has a unigram entry.
func (m *Model) KnownWID(w dictionary.WordID) bool {
	_, ok := m.unigrams[w]
	return ok
}

// TrigramScore implements lm.Model. See lm.Model.TrigramScore for the
// argument convention (prevPrevW precedes prevW precedes w).
func (m *Model) TrigramScore(w, prevW, prevPrevW dictionary.WordID) (Score, int) {
	if prevW != NoWord && prevPrevW != NoWord {
		if s, ok := m.trigrams[trigramKey{prevPrevW, prevW, w}]; ok {
			return s, 3
		}
		bo := m.bigramBackoff(prevPrevW, prevW)
		s2, n2 := m.bigramScore(w, prevW)
		return bo + s2, max(n2, 2)
	}
	return m.bigramScore(w, prevW)
}

func (m *Model) bigramScore(w, prevW dictionary.WordID) (Score, int) {
	if prevW != NoWord {
		if e, ok := m.bigrams[bigramKey{prevW, w}]; ok {
			return e.prob, 2
		}
		bo := m.unigramBackoff(prevW)
		u, _ := m.unigramScore(w)
		return bo + u, 1
	}
	return m.unigramScore(w)
}

func (m *Model) unigramScore(w dictionary.WordID) (Score, int) {
	if e, ok := m.unigrams[w]; ok {
		return e.prob, 1
	}
	return amiface.Score(math.MinInt32 / 2), 0
}

func (m *Model) bigramBackoff(w1, w2 dictionary.WordID) Score {
	if e, ok := m.bigrams[bigramKey{w1, w2}]; ok {
		return e.backoff
	}
	return 0
}

func (m *Model) unigramBackoff(w dictionary.WordID) Score {
	if e, ok := m.unigrams[w]; ok {
		return e.backoff
	}
	return 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
