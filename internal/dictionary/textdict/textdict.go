// Package textdict loads a CMU-dict-style pronunciation dictionary
// ("WORD  P1 P2 P3 ...", one entry per line, alternate pronunciations
// suffixed "WORD(2)") plus a filler-word dictionary of the same shape, and
// implements [dictionary.Dictionary] over the result.
//
// Context-dependent senone-sequence ids are produced by packing phone ids
// into one int32 (encode3 for a word-interior triphone, encode2 for the
// phone pair at each word boundary, the bare phone id for a one-phone
// word); the missing side of a boundary phone is resolved dynamically by
// the search. Right-context permutation tables are
// the identity over all context-independent phones: this loader does not
// implement PocketSphinx's right-context-class collapsing (grouping
// acoustically similar right contexts into one scoring slot), an
// optimization the search's correctness does not depend on. See DESIGN.md.
package textdict

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxlex/fwdtree/internal/dictionary"
)

// Marker words. Real dictionaries commonly spell these with the angle
// brackets shown here; loaders for other conventions can rename before
// calling Load.
const (
	StartWord    = "<s>"
	FinishWord   = "</s>"
	SilenceWord  = "<sil>"
)

// PhoneTable interns phone symbols (e.g. "AE", "B", "SIL") to dense,
// zero-based context-independent phone ids.
type PhoneTable struct {
	byName map[string]int32
	names  []string
}

// NewPhoneTable returns an empty phone table.
func NewPhoneTable() *PhoneTable {
	return &PhoneTable{byName: make(map[string]int32)}
}

// Intern returns name's id, assigning a new one if name has not been seen.
func (t *PhoneTable) Intern(name string) int32 {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := int32(len(t.names))
	t.byName[name] = id
	t.names = append(t.names, name)
	return id
}

// Lookup returns name's id without assigning one.
func (t *PhoneTable) Lookup(name string) (int32, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Len returns the number of distinct phones interned so far.
func (t *PhoneTable) Len() int { return len(t.names) }

// Dictionary is the concrete [dictionary.Dictionary] loaded from text files.
type Dictionary struct {
	phones *PhoneTable

	entries  []dictionary.Entry
	byName   map[string]dictionary.WordID // first (or only) pronunciation per surface form

	mainCount int
	startWID  dictionary.WordID
	finishWID dictionary.WordID
	silWID    dictionary.WordID

	zeroPerm []int32

	// oovCandidates supports OOV phone-sequence lookup: every known word's
	// surface form, consulted via matchr double-metaphone + Jaro-Winkler
	// when a caller asks for a word that isn't in the dictionary outright.
	oovCandidates []string
}

// Load reads dictPath (main vocabulary) and fillerPath (noise/filler words,
// may be empty) and builds the context tables described in the package doc.
func Load(dictPath, fillerPath string) (*Dictionary, error) {
	df, err := os.Open(dictPath)
	if err != nil {
		return nil, fmt.Errorf("textdict: open dictionary %s: %w", dictPath, err)
	}
	defer df.Close()

	var fillerReader io.Reader
	if fillerPath != "" {
		ff, err := os.Open(fillerPath)
		if err != nil {
			return nil, fmt.Errorf("textdict: open filler dictionary %s: %w", fillerPath, err)
		}
		defer ff.Close()
		fillerReader = ff
	}
	return loadFrom(df, fillerReader)
}

type rawEntry struct {
	word   string
	phones []string
}

func parseLines(r io.Reader) ([]rawEntry, error) {
	var out []rawEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";;") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("textdict: malformed entry %q", line)
		}
		word := fields[0]
		if i := strings.IndexByte(word, '('); i >= 0 {
			word = word[:i] // strip "(2)"-style alternate-pronunciation suffix
		}
		out = append(out, rawEntry{word: word, phones: fields[1:]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("textdict: scan: %w", err)
	}
	return out, nil
}

func loadFrom(dictR, fillerR io.Reader) (*Dictionary, error) {
	mainRaw, err := parseLines(dictR)
	if err != nil {
		return nil, err
	}

	var fillerRaw []rawEntry
	if fillerR != nil {
		fillerRaw, err = parseLines(fillerR)
		if err != nil {
			return nil, err
		}
	}

	// The dictionary layout contract (spec.md §9, enforced at init time
	// rather than trusted silently): main words, "</s>", "<s>"..., "<sil>",
	// then fillers contiguous immediately after "<sil>". Start/finish/
	// silence are appended here if the caller's dictionary text omitted
	// them, so the contract always holds by construction.
	mainRaw = ensureMarker(mainRaw, FinishWord, []string{"SIL"})
	startEntries, mainRaw := extractAll(mainRaw, StartWord)
	if len(startEntries) == 0 {
		startEntries = []rawEntry{{word: StartWord, phones: []string{"SIL"}}}
	}
	mainRaw = append(mainRaw, startEntries...)
	mainRaw = ensureMarker(mainRaw, SilenceWord, []string{"SIL"})

	d := &Dictionary{
		phones: NewPhoneTable(),
		byName: make(map[string]dictionary.WordID),
	}

	d.mainCount = len(mainRaw) - len(startEntries) - 2 // exclude "</s>", "<s>"..., and "<sil>"
	if d.mainCount < 0 {
		d.mainCount = 0
	}

	all := append(mainRaw, fillerRaw...)
	d.entries = make([]dictionary.Entry, len(all))

	for i, re := range all {
		e, err := d.buildEntry(dictionary.WordID(i), re)
		if err != nil {
			return nil, err
		}
		d.entries[i] = e
		if _, exists := d.byName[re.word]; !exists {
			d.byName[re.word] = dictionary.WordID(i)
		}
		d.oovCandidates = append(d.oovCandidates, re.word)
	}

	finishIdx := d.mainCount
	startIdx := finishIdx + 1
	silIdx := startIdx + len(startEntries)
	d.finishWID = dictionary.WordID(finishIdx)
	d.startWID = dictionary.WordID(startIdx + len(startEntries) - 1) // last "<s>" variant, matching §4.1's convention
	d.silWID = dictionary.WordID(silIdx)

	d.zeroPerm = make([]int32, d.phones.Len())

	return d, nil
}

// ensureMarker appends a single-phone marker entry with the given word if
// one is not already present, returning the (possibly extended) slice with
// any pre-existing occurrence of word removed from its old position (it is
// always the loader's job to place markers at the tail in layout order).
func ensureMarker(raw []rawEntry, word string, defaultPhones []string) []rawEntry {
	entries, rest := extractAll(raw, word)
	if len(entries) == 0 {
		entries = []rawEntry{{word: word, phones: defaultPhones}}
	} else {
		entries = entries[:1] // markers besides "<s>" are single-instance
	}
	return append(rest, entries...)
}

func extractAll(raw []rawEntry, word string) (matched, rest []rawEntry) {
	for _, re := range raw {
		if re.word == word {
			matched = append(matched, re)
		} else {
			rest = append(rest, re)
		}
	}
	return matched, rest
}

func (d *Dictionary) buildEntry(wid dictionary.WordID, re rawEntry) (dictionary.Entry, error) {
	n := len(re.phones)
	if n == 0 {
		return dictionary.Entry{}, fmt.Errorf("%w: %q", errEmptyPronunciation, re.word)
	}
	ci := make([]int32, n)
	for i, p := range re.phones {
		ci[i] = d.phones.Intern(p)
	}

	e := dictionary.Entry{WID: wid, CIPhoneIDs: ci, PhoneIDs: make([]int32, n), MPX: true}

	switch {
	case n == 1:
		e.PhoneIDs[0] = ci[0]
	case n == 2:
		e.PhoneIDs[0] = encode2(ci[0], ci[1]) // diphone: center+right, left resolved dynamically
		e.PhoneIDs[1] = encode2(ci[0], ci[1]) // last-phone key: left+center, right resolved dynamically
	default:
		e.PhoneIDs[0] = encode2(ci[0], ci[1])
		for i := 1; i < n-1; i++ {
			e.PhoneIDs[i] = encode3(ci[i-1], ci[i], ci[i+1])
		}
		e.PhoneIDs[n-1] = encode2(ci[n-2], ci[n-1])
	}
	return e, nil
}

var errEmptyPronunciation = fmt.Errorf("textdict: entry has no phones")

// encode2 packs two small phone ids into one int32, used both for
// "diphone" (center, right) and "last-phone key" (left, center) — the
// component order only matters to whichever of LeftContextFwd/
// RightContextFwd interprets the result, never to the encoding itself, so
// long as the same phone table size is used on both sides.
func encode2(a, b int32) int32 { return a<<16 | b }

// encode3 packs a fully-resolved triphone (left, center, right) into one
// int32: encode2's layout for (left, center) with right XORed in at bit 28.
// When right is phone 0 the result equals encode2(left, center).
func encode3(l, c, r int32) int32 {
	return (l<<16 | c) ^ (r << 28)
}

// Name returns w's surface form, satisfying decode/WordNamer. Panics if w is
// out of range, matching the package's convention of treating an invalid
// word id as a caller bug rather than a recoverable condition.
func (d *Dictionary) Name(w dictionary.WordID) string { return d.oovCandidates[w] }

// Entry implements dictionary.Dictionary.
func (d *Dictionary) Entry(w dictionary.WordID) dictionary.Entry { return d.entries[w] }

// EntryCount implements dictionary.Dictionary.
func (d *Dictionary) EntryCount() int { return len(d.entries) }

// MainWordCount implements dictionary.Dictionary.
func (d *Dictionary) MainWordCount() int { return d.mainCount }

// StartWID implements dictionary.Dictionary.
func (d *Dictionary) StartWID() dictionary.WordID { return d.startWID }

// FinishWID implements dictionary.Dictionary.
func (d *Dictionary) FinishWID() dictionary.WordID { return d.finishWID }

// SilenceWID implements dictionary.Dictionary.
func (d *Dictionary) SilenceWID() dictionary.WordID { return d.silWID }

// NumCIPhones implements dictionary.Dictionary.
func (d *Dictionary) NumCIPhones() int { return d.phones.Len() }

// contextMixPrime combines a diphone/lastPhone key with a single extra
// context phone into one int32. It need not be reversible: callers only
// ever compare the result for equality (as a senone-sequence id) or pass it
// straight to the acoustic model, never decode it back into components.
const contextMixPrime = 131

// LeftContextFwd implements dictionary.Dictionary. diphone is an
// encode2(center, right) value produced at load time; lc is the dynamic
// left context's context-independent phone id.
func (d *Dictionary) LeftContextFwd(diphone, lc int32) int32 {
	return diphone*contextMixPrime + lc
}

// RightContextFwd implements dictionary.Dictionary. lastPhone is an
// encode2(left, center) value; the canonical order is context-independent
// phone id 0..NumCIPhones()-1.
func (d *Dictionary) RightContextFwd(lastPhone int32) []int32 {
	n := d.phones.Len()
	out := make([]int32, n)
	for rc := int32(0); rc < int32(n); rc++ {
		out[rc] = lastPhone*contextMixPrime + rc
	}
	return out
}

// RightContextPerm implements dictionary.Dictionary. This loader does not
// collapse right-context classes, so the permutation is the identity.
func (d *Dictionary) RightContextPerm(rDiph int32) []int32 {
	_ = rDiph
	n := d.phones.Len()
	perm := make([]int32, n)
	for i := range perm {
		perm[i] = int32(i)
	}
	return perm
}

// RightContextSize implements dictionary.Dictionary.
func (d *Dictionary) RightContextSize(rDiph int32) int {
	_ = rDiph
	return d.phones.Len()
}

// ZeroPermTab implements dictionary.Dictionary.
func (d *Dictionary) ZeroPermTab() []int32 { return d.zeroPerm }

// WordID returns w's dictionary word id, matching exactly (case-sensitive)
// against the loaded surface forms; ok is false when w is out of vocabulary.
func (d *Dictionary) WordID(w string) (dictionary.WordID, bool) {
	id, ok := d.byName[w]
	return id, ok
}

// OOVLookup finds the best phonetically-similar in-dictionary word for an
// out-of-vocabulary surface form, using Double Metaphone code overlap
// followed by Jaro-Winkler scoring among the candidates that overlap —
// the same two-stage phonetic-then-fuzzy strategy used elsewhere in the
// teacher's codebase for fuzzy entity name resolution. Returns ok=false
// when no candidate clears minScore.
func (d *Dictionary) OOVLookup(word string, minScore float64) (match string, wid dictionary.WordID, ok bool) {
	p1, s1 := matchr.DoubleMetaphone(word)

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for _, cand := range d.oovCandidates {
		cp1, cs1 := matchr.DoubleMetaphone(cand)
		if cp1 != p1 && cp1 != s1 && cs1 != p1 {
			continue
		}
		candidates = append(candidates, scored{name: cand, score: matchr.JaroWinkler(word, cand, false)})
	}
	if len(candidates) == 0 {
		return "", 0, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0]
	if best.score < minScore {
		return "", 0, false
	}
	id := d.byName[best.name]
	return best.name, id, true
}
