package textdict

import (
	"strings"
	"testing"
)

func TestParseLinesSkipsCommentsAndBlanks(t *testing.T) {
	t.Parallel()
	r := strings.NewReader(";; header comment\n\n# another comment\nFOO F OW\n\nBAR(2) B AA R\n")
	entries, err := parseLines(r)
	if err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].word != "FOO" || len(entries[0].phones) != 2 {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if entries[1].word != "BAR" {
		t.Fatalf("alternate-pronunciation suffix not stripped: word = %q", entries[1].word)
	}
	if len(entries[1].phones) != 3 {
		t.Fatalf("entries[1].phones = %v, want 3 phones", entries[1].phones)
	}
}

func TestParseLinesRejectsMissingPhones(t *testing.T) {
	t.Parallel()
	_, err := parseLines(strings.NewReader("FOO\n"))
	if err == nil {
		t.Fatal("expected error for an entry with no phones")
	}
}

func testDictionary(t *testing.T) *Dictionary {
	t.Helper()
	main := strings.NewReader("FOO F OW\nBAR B AA R\nBAZ B AA Z\n")
	filler := strings.NewReader("<UH> UH\n")
	d, err := loadFrom(main, filler)
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	return d
}

// TestLoadFromLayout checks the main/"</s>"/"<s>"/"<sil>"/fillers ordering
// contract holds for a dictionary text that supplies none of the three
// markers itself.
func TestLoadFromLayout(t *testing.T) {
	t.Parallel()
	d := testDictionary(t)

	if d.MainWordCount() != 3 {
		t.Fatalf("MainWordCount = %d, want 3", d.MainWordCount())
	}
	if d.EntryCount() != 7 {
		t.Fatalf("EntryCount = %d, want 7 (FOO, BAR, BAZ, </s>, <s>, <sil>, <UH>)", d.EntryCount())
	}
	if d.FinishWID() != 3 {
		t.Fatalf("FinishWID = %d, want 3", d.FinishWID())
	}
	if d.StartWID() != 4 {
		t.Fatalf("StartWID = %d, want 4", d.StartWID())
	}
	if d.SilenceWID() != 5 {
		t.Fatalf("SilenceWID = %d, want 5", d.SilenceWID())
	}

	fooWID, ok := d.WordID("FOO")
	if !ok || fooWID != 0 {
		t.Fatalf("WordID(FOO) = %d,%v, want 0,true", fooWID, ok)
	}
	uhWID, ok := d.WordID("<UH>")
	if !ok || uhWID != 6 {
		t.Fatalf("WordID(<UH>) = %d,%v, want 6,true", uhWID, ok)
	}
	if _, ok := d.WordID("NOPE"); ok {
		t.Fatal("WordID(NOPE) should report not found")
	}
}

// TestBuildEntryEncodings checks that PhoneIDs are built with encode2 at
// word boundaries and encode3 for interior phones, matching the package's
// triphone scheme.
func TestBuildEntryEncodings(t *testing.T) {
	t.Parallel()
	d := testDictionary(t)

	fooWID, _ := d.WordID("FOO")
	foo := d.Entry(fooWID)
	if foo.Len() != 2 {
		t.Fatalf("FOO.Len() = %d, want 2", foo.Len())
	}
	wantFOO := encode2(foo.CIPhoneIDs[0], foo.CIPhoneIDs[1])
	if foo.PhoneIDs[0] != wantFOO || foo.PhoneIDs[1] != wantFOO {
		t.Fatalf("FOO.PhoneIDs = %v, want both slots = %d", foo.PhoneIDs, wantFOO)
	}

	barWID, _ := d.WordID("BAR")
	bar := d.Entry(barWID)
	if bar.Len() != 3 {
		t.Fatalf("BAR.Len() = %d, want 3", bar.Len())
	}
	wantFirst := encode2(bar.CIPhoneIDs[0], bar.CIPhoneIDs[1])
	wantMid := encode3(bar.CIPhoneIDs[0], bar.CIPhoneIDs[1], bar.CIPhoneIDs[2])
	wantLast := encode2(bar.CIPhoneIDs[1], bar.CIPhoneIDs[2])
	if bar.PhoneIDs[0] != wantFirst {
		t.Fatalf("BAR.PhoneIDs[0] = %d, want %d", bar.PhoneIDs[0], wantFirst)
	}
	if bar.PhoneIDs[1] != wantMid {
		t.Fatalf("BAR.PhoneIDs[1] = %d, want %d", bar.PhoneIDs[1], wantMid)
	}
	if bar.PhoneIDs[2] != wantLast {
		t.Fatalf("BAR.PhoneIDs[2] = %d, want %d", bar.PhoneIDs[2], wantLast)
	}
	if !bar.MPX {
		t.Fatal("BAR.MPX = false, want true (textdict always marks mpx)")
	}
}

func TestPhoneTableInterningIsStable(t *testing.T) {
	t.Parallel()
	d := testDictionary(t)

	barWID, _ := d.WordID("BAR")
	bazWID, _ := d.WordID("BAZ")
	bar := d.Entry(barWID)
	baz := d.Entry(bazWID)
	// BAR and BAZ share the same first two phones (B, AA); their
	// context-independent ids must be interned identically.
	if bar.CIPhoneIDs[0] != baz.CIPhoneIDs[0] || bar.CIPhoneIDs[1] != baz.CIPhoneIDs[1] {
		t.Fatalf("shared phones B, AA interned inconsistently: BAR=%v BAZ=%v", bar.CIPhoneIDs, baz.CIPhoneIDs)
	}
	if bar.CIPhoneIDs[2] == baz.CIPhoneIDs[2] {
		t.Fatalf("BAR and BAZ's distinguishing last phone (R vs Z) interned to the same id %d", bar.CIPhoneIDs[2])
	}
}

func TestRightContextPermIsIdentity(t *testing.T) {
	t.Parallel()
	d := testDictionary(t)
	perm := d.RightContextPerm(0)
	if len(perm) != d.NumCIPhones() {
		t.Fatalf("len(perm) = %d, want %d", len(perm), d.NumCIPhones())
	}
	for i, v := range perm {
		if v != int32(i) {
			t.Fatalf("perm[%d] = %d, want %d (identity)", i, v, i)
		}
	}
	if d.RightContextSize(0) != d.NumCIPhones() {
		t.Fatalf("RightContextSize = %d, want %d", d.RightContextSize(0), d.NumCIPhones())
	}
}

// TestOOVLookupExactMatch avoids asserting anything about matchr's internal
// phonetic scoring: a word looked up against a dictionary that contains
// itself always self-matches with a Jaro-Winkler score of 1.0, regardless of
// the underlying algorithm's tuning.
func TestOOVLookupExactMatch(t *testing.T) {
	t.Parallel()
	d := testDictionary(t)

	match, wid, ok := d.OOVLookup("FOO", 0.99)
	if !ok {
		t.Fatal("OOVLookup(FOO) = false, want true (self-match)")
	}
	if match != "FOO" {
		t.Fatalf("match = %q, want FOO", match)
	}
	fooWID, _ := d.WordID("FOO")
	if wid != fooWID {
		t.Fatalf("wid = %d, want %d", wid, fooWID)
	}
}

func TestOOVLookupRejectsImpossibleMinScore(t *testing.T) {
	t.Parallel()
	d := testDictionary(t)
	if _, _, ok := d.OOVLookup("FOO", 1.5); ok {
		t.Fatal("OOVLookup with minScore > 1.0 must never succeed")
	}
}
