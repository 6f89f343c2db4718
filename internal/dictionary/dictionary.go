// Package dictionary defines the decoder's view of the pronunciation
// dictionary: word entries plus the cross-word context tables the
// lexicon tree needs to fan right-context leaves out correctly. See
// [textdict] for a concrete CMU-dict-style loader.
package dictionary

// WordID identifies a dictionary entry. Values are dense and assigned by the
// dictionary implementation.
type WordID = int32

// Entry is one dictionary entry as consumed by the search: a word id, its
// phone sequence, the corresponding context-independent phones (same
// length), and whether the word's HMMs are mpx (left context resolved
// dynamically at decode time).
type Entry struct {
	WID        WordID
	PhoneIDs   []int32 // context-dependent senone-sequence ids, len == Len()
	CIPhoneIDs []int32 // context-independent phone ids, len == Len()
	MPX        bool
}

// Len returns the number of phones in the entry.
func (e Entry) Len() int { return len(e.PhoneIDs) }

// Dictionary is the supplier of word entries and cross-word context tables.
// Implementations assume the layout contract: main words, then "</s>", then
// one or more "<s>" entries, then "<sil>", then filler (noise) words, with
// fillers contiguous immediately after "<sil>".
type Dictionary interface {
	// Entry returns the dictionary entry for word id w.
	Entry(w WordID) Entry

	// EntryCount returns the total number of dictionary entries, including
	// "<s>", "</s>", "<sil>", and filler words.
	EntryCount() int

	// MainWordCount returns the number of entries that are main vocabulary
	// (i.e. precede "</s>").
	MainWordCount() int

	// StartWID, FinishWID, and SilenceWID return the word ids of "<s>",
	// "</s>", and "<sil>" respectively.
	StartWID() WordID
	FinishWID() WordID
	SilenceWID() WordID

	// NumCIPhones returns the number of distinct context-independent phones.
	NumCIPhones() int

	// LeftContextFwd returns the senone-sequence id to use as the dynamic
	// left context of a root HMM with first phone diphone, given that the
	// word ending at the cross-word boundary has last context-independent
	// phone lc.
	LeftContextFwd(diphone, lc int32) int32

	// RightContextFwd returns, for a word's last phone lastPhone, the list
	// of senone-sequence ids — one per possible right context — in
	// canonical order.
	RightContextFwd(lastPhone int32) []int32

	// RightContextPerm returns the permutation table mapping a
	// context-independent right-context phone to an index into the
	// right-context score slots for a word whose last phone's diphone key is
	// rDiph.
	RightContextPerm(rDiph int32) []int32

	// RightContextSize returns the number of right-context slots for rDiph.
	RightContextSize(rDiph int32) int

	// ZeroPermTab returns the all-zero permutation table used whenever a
	// backpointer carries no right-context key (rDiph == -1).
	ZeroPermTab() []int32
}
