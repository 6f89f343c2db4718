package decoder

import (
	"github.com/voxlex/fwdtree/internal/dictionary"
)

// testDict is a minimal dictionary.Dictionary test double. Unlike
// textdict.Dictionary it assigns small, directly-chosen integers as phone
// and senone-sequence ids instead of packing context-dependent triphones,
// so it pairs cleanly with the fixture acoustic model's dense
// ssid*numStates+state senone indexing.
type testDict struct {
	entries   []dictionary.Entry
	startWID  WordID
	finishWID WordID
	silWID    WordID
	mainCount int
	numCI     int
}

func (d *testDict) Entry(w WordID) dictionary.Entry { return d.entries[w] }
func (d *testDict) EntryCount() int                 { return len(d.entries) }
func (d *testDict) MainWordCount() int              { return d.mainCount }
func (d *testDict) StartWID() WordID                { return d.startWID }
func (d *testDict) FinishWID() WordID               { return d.finishWID }
func (d *testDict) SilenceWID() WordID              { return d.silWID }
func (d *testDict) NumCIPhones() int                { return d.numCI }

func (d *testDict) LeftContextFwd(diphone, lc int32) int32 { return diphone }

func (d *testDict) RightContextFwd(lastPhone int32) []int32 { return []int32{lastPhone} }

func (d *testDict) RightContextPerm(rDiph int32) []int32 {
	perm := make([]int32, d.numCI)
	return perm
}

func (d *testDict) RightContextSize(rDiph int32) int { return 1 }

func (d *testDict) ZeroPermTab() []int32 { return make([]int32, d.numCI) }

// wordSpec names one entry for the dictionary builders below: the phone
// sequence used for both PhoneIDs and CIPhoneIDs, since these test doubles
// never exercise cross-word context resolution.
type wordSpec struct {
	phones []int32
	mpx    bool
}

func entryFor(w WordID, s wordSpec) dictionary.Entry {
	ci := make([]int32, len(s.phones))
	copy(ci, s.phones)
	return dictionary.Entry{WID: w, PhoneIDs: s.phones, CIPhoneIDs: ci, MPX: s.mpx}
}

// newTestDict assembles a dictionary respecting the main/"</s>"/"<s>"/
// "<sil>"/fillers layout contract. mainWords come first, followed by
// "</s>", a single "<s>", "<sil>", then fillers in order.
func newTestDict(mainWords []wordSpec, fillers []wordSpec, markerPhones [3]int32, numCI int) *testDict {
	var entries []dictionary.Entry
	w := WordID(0)
	for _, s := range mainWords {
		entries = append(entries, entryFor(w, s))
		w++
	}
	finishWID := w
	entries = append(entries, entryFor(w, wordSpec{phones: []int32{markerPhones[0]}}))
	w++
	startWID := w
	entries = append(entries, entryFor(w, wordSpec{phones: []int32{markerPhones[1]}}))
	w++
	silWID := w
	entries = append(entries, entryFor(w, wordSpec{phones: []int32{markerPhones[2]}}))
	w++
	for _, s := range fillers {
		entries = append(entries, entryFor(w, s))
		w++
	}
	return &testDict{
		entries:   entries,
		startWID:  startWID,
		finishWID: finishWID,
		silWID:    silWID,
		mainCount: len(mainWords),
		numCI:     numCI,
	}
}

// testLM is a minimal lm.Model test double: vocabulary membership plus an
// optional scoring override. With score left nil every trigram scores 0,
// so beam pruning alone never disambiguates between competing paths.
type testLM struct {
	known map[WordID]bool
	score func(w, prevW, prevPrevW WordID) (Score, int)
}

func (m *testLM) KnownWID(w WordID) bool { return m.known[w] }

func (m *testLM) TrigramScore(w, prevW, prevPrevW WordID) (Score, int) {
	if m.score != nil {
		return m.score(w, prevW, prevPrevW)
	}
	return 0, 1
}

// flatFrames returns n frames of width senone scores, all zero, wide enough
// that no sensible fixture ssid ever indexes out of range.
func flatFrames(n, width int) [][]Score {
	rows := make([][]Score, n)
	for i := range rows {
		rows[i] = make([]Score, width)
	}
	return rows
}

// wideTunables opens every beam wide enough that only deliberately crafted
// score differences (via testLM.score or Tunables.SilPen/FillPen) decide
// between competing paths, with both per-frame caps disabled.
func wideTunables() Tunables {
	return Tunables{
		Beam:       -100000,
		PBeam:      -100000,
		LPBeam:     -100000,
		LPOnlyBeam: -100000,
		WBeam:      -100000,
		PIP:        0,
		NWPen:      0,
		SilPen:     -1,
		FillPen:    -2,
		MaxWPF:     -1,
		MaxHMMPF:   -1,
	}
}
