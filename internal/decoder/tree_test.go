package decoder

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/voxlex/fwdtree/internal/amiface/fixture"
)

// phones for the homophone fixture: R, IY, D, OW, M, plus three marker
// phones reused across "</s>", "<s>", "<sil>".
const (
	phR  int32 = 1
	phIY int32 = 2
	phD  int32 = 3
	phOW int32 = 4
	phM  int32 = 5
)

func homophoneDict() (*testDict, *testLM) {
	read := wordSpec{phones: []int32{phR, phIY, phD}}
	reed := wordSpec{phones: []int32{phR, phIY, phD}}
	roam := wordSpec{phones: []int32{phR, phOW, phM}}
	dict := newTestDict([]wordSpec{read, reed, roam}, nil, [3]int32{6, 7, 8}, 9)
	lm := &testLM{known: map[WordID]bool{0: true, 1: true, 2: true}}
	return dict, lm
}

func TestBuildTreeHomophoneChain(t *testing.T) {
	t.Parallel()
	dict, lm := homophoneDict()
	am := fixture.New(fixture.Config{NumCIPhones: dict.numCI, SilenceCIPhone: 8, CompAllSen: true})
	pool := newNodePool(am.NewHMM)

	lx, err := buildTree(am, dict, lm, pool)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}

	if len(lx.roots) != 1 {
		t.Fatalf("roots = %d, want 1 (READ, REED, and ROAM share first phone R)", len(lx.roots))
	}
	root := &lx.roots[0]
	if root.next == noChan {
		t.Fatal("root has no child")
	}

	first := pool.get(root.next)
	if first.alt == noChan {
		t.Fatal("root's child has no sibling; ROAM should have interned a distinct node for phone OW")
	}
	second := pool.get(first.alt)
	if second.alt != noChan {
		t.Fatal("expected exactly two siblings under the root")
	}
	if first.ssid == second.ssid {
		t.Fatalf("sibling nodes share ssid %d; siblings must be pairwise distinct", first.ssid)
	}

	// Whichever sibling carries ssid phIY is READ/REED's shared terminal
	// node; the other carries phOW and belongs to ROAM alone.
	var terminal, solo *node
	switch {
	case first.ssid == phIY:
		terminal, solo = first, second
	case second.ssid == phIY:
		terminal, solo = second, first
	default:
		t.Fatalf("neither sibling has ssid %d (phIY)", phIY)
	}
	if solo.ssid != phOW {
		t.Fatalf("solo sibling ssid = %d, want %d (phOW)", solo.ssid, phOW)
	}

	chain := map[WordID]bool{}
	for cur := terminal.penultPhnWid; cur != -1; cur = lx.homophoneSet[cur] {
		chain[cur] = true
	}
	if len(chain) != 2 || !chain[0] || !chain[1] {
		t.Fatalf("homophone chain at shared terminal = %v, want {READ(0), REED(1)}", chain)
	}

	if solo.penultPhnWid != 2 {
		t.Fatalf("ROAM's terminal penultPhnWid = %d, want 2", solo.penultPhnWid)
	}
	if lx.homophoneSet[2] != -1 {
		t.Fatalf("ROAM's homophone chain should be a singleton, got next=%d", lx.homophoneSet[2])
	}
}

// homophoneSnapshot captures the part of a built lexicon's structure that
// must stay identical across a teardown+rebuild against the same dictionary
// and LM: the root count, the sorted homophone chain sitting at the shared
// READ/REED terminal, and ROAM's solo terminal state.
type homophoneSnapshot struct {
	roots         int
	terminalChain []WordID
	soloPenult    WordID
	soloNext      WordID
}

func snapshotHomophones(t *testing.T, pool *nodePool, lx *lexicon) homophoneSnapshot {
	t.Helper()
	root := &lx.roots[0]
	first := pool.get(root.next)
	second := pool.get(first.alt)

	var terminal, solo *node
	switch {
	case first.ssid == phIY:
		terminal, solo = first, second
	case second.ssid == phIY:
		terminal, solo = second, first
	default:
		t.Fatalf("neither sibling has ssid %d (phIY)", phIY)
	}

	var chain []WordID
	for cur := terminal.penultPhnWid; cur != -1; cur = lx.homophoneSet[cur] {
		chain = append(chain, cur)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i] < chain[j] })

	return homophoneSnapshot{
		roots:         len(lx.roots),
		terminalChain: chain,
		soloPenult:    solo.penultPhnWid,
		soloNext:      lx.homophoneSet[solo.penultPhnWid],
	}
}

// TestTeardownRebuildProducesIdenticalTree exercises §8's "rebuilding the
// tree for an identical LM produces an identical tree structure" property
// directly against teardown+buildTree (the operations behind Search.Rebuild)
// using the same pool, so any stale field a reused node carries from its
// previous life would show up as a spurious homophone-chain entry.
func TestTeardownRebuildProducesIdenticalTree(t *testing.T) {
	t.Parallel()
	dict, lm := homophoneDict()
	am := fixture.New(fixture.Config{NumCIPhones: dict.numCI, SilenceCIPhone: 8, CompAllSen: true})
	pool := newNodePool(am.NewHMM)

	lx, err := buildTree(am, dict, lm, pool)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	before := snapshotHomophones(t, pool, lx)

	lx.teardown()

	lx2, err := buildTree(am, dict, lm, pool)
	if err != nil {
		t.Fatalf("buildTree (rebuild): %v", err)
	}
	after := snapshotHomophones(t, pool, lx2)

	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rebuilding an identical dictionary/LM produced a different tree:\nbefore=%+v\nafter=%+v", before, after)
	}
	if after.soloNext != -1 {
		t.Fatalf("ROAM's homophone chain picked up a stale entry after rebuild: next=%d", after.soloNext)
	}
	if len(after.terminalChain) != 2 {
		t.Fatalf("READ/REED's terminal chain after rebuild = %v, want exactly {READ(0), REED(1)}", after.terminalChain)
	}
}

func validLayoutDict(mainWords []wordSpec) *testDict {
	return newTestDict(mainWords, nil, [3]int32{90, 91, 92}, 93)
}

func TestBuildTreeMixedMPXRejected(t *testing.T) {
	t.Parallel()
	dict := validLayoutDict([]wordSpec{
		{phones: []int32{1, 2}, mpx: false},
		{phones: []int32{1, 3}, mpx: true},
	})
	lm := &testLM{known: map[WordID]bool{0: true, 1: true}}
	am := fixture.New(fixture.Config{NumCIPhones: dict.numCI, SilenceCIPhone: dict.silWID, CompAllSen: true})
	pool := newNodePool(am.NewHMM)

	_, err := buildTree(am, dict, lm, pool)
	if !errors.Is(err, ErrMixedMPX) {
		t.Fatalf("err = %v, want ErrMixedMPX", err)
	}
}

func TestBuildTreeLayoutErrors(t *testing.T) {
	t.Parallel()
	base := validLayoutDict([]wordSpec{{phones: []int32{1}}})

	cases := []struct {
		name    string
		mutate  func(d *testDict)
		wantErr error
	}{
		{"missing start", func(d *testDict) { d.startWID = -1 }, ErrMissingStart},
		{"missing finish", func(d *testDict) { d.finishWID = -1 }, ErrMissingFinish},
		{"missing silence", func(d *testDict) { d.silWID = -1 }, ErrMissingSilence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dict := *base
			tc.mutate(&dict)
			lm := &testLM{known: map[WordID]bool{0: true}}
			am := fixture.New(fixture.Config{NumCIPhones: dict.numCI, SilenceCIPhone: 92, CompAllSen: true})
			pool := newNodePool(am.NewHMM)

			_, err := buildTree(am, &dict, lm, pool)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
