package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxlex/fwdtree/internal/amiface"
)

// stubAM is a minimal amiface.AcousticModel test double: only Score is
// programmable, since that is the only call AMFallback guards.
type stubAM struct {
	frame  int
	scores []amiface.Score
	err    error
}

func (s *stubAM) NewHMM(mpx bool, ssid, ciphone int32) amiface.HMM { return nil }
func (s *stubAM) ClearActive()                                     {}
func (s *stubAM) ActivateHMM(h amiface.HMM)                         {}
func (s *stubAM) NumCIPhones() int                                  { return 1 }
func (s *stubAM) SilenceCIPhone() int32                             { return 0 }
func (s *stubAM) CompAllSen() bool                                  { return true }
func (s *stubAM) NFeatFrame() int                                   { return 1 }

func (s *stubAM) Score(ctx context.Context) (int, []amiface.Score, error) {
	return s.frame, s.scores, s.err
}

var errStubAM = errors.New("stub acoustic model backend unavailable")

func TestAMFallbackScoreUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubAM{frame: 3, scores: []amiface.Score{-10, -20}}
	f := NewAMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})

	frame, scores, err := f.Score(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != 3 || len(scores) != 2 {
		t.Fatalf("frame/scores = %d/%v, want 3/[-10 -20]", frame, scores)
	}
	if f.PrimaryState() != StateClosed {
		t.Fatalf("PrimaryState() = %v, want closed", f.PrimaryState())
	}
}

func TestAMFallbackScoreFailsOverToSecondaryBackend(t *testing.T) {
	primary := &stubAM{err: errStubAM}
	secondary := &stubAM{frame: 7, scores: []amiface.Score{-1}}
	f := NewAMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	f.AddFallback("secondary", secondary)

	frame, scores, err := f.Score(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != 7 || len(scores) != 1 || scores[0] != -1 {
		t.Fatalf("frame/scores = %d/%v, want 7/[-1] (from the secondary backend)", frame, scores)
	}
}

func TestAMFallbackScorePropagatesErrorWhenAllBackendsFail(t *testing.T) {
	primary := &stubAM{err: errStubAM}
	f := NewAMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})

	_, _, err := f.Score(context.Background())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestAMFallbackPrimaryStateOpensAfterRepeatedFailures(t *testing.T) {
	primary := &stubAM{err: errStubAM}
	f := NewAMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2}})

	for i := 0; i < 2; i++ {
		if _, _, err := f.Score(context.Background()); err == nil {
			t.Fatal("expected an error from the failing primary backend")
		}
	}
	if f.PrimaryState() != StateOpen {
		t.Fatalf("PrimaryState() = %v, want open after %d consecutive failures", f.PrimaryState(), 2)
	}
}
