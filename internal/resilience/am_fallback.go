package resilience

import (
	"context"

	"github.com/voxlex/fwdtree/internal/amiface"
)

// AMFallback implements [amiface.AcousticModel] with automatic failover across
// multiple acoustic-model backends. Each backend has its own circuit breaker.
// It guards the one blocking call the decoder core makes to its environment:
// the demand-pull frame score call, which may block on feature availability.
//
// AMFallback only wraps the environment-facing Score call; NewHMM and the
// senone-active bookkeeping always go to the primary, since a mid-utterance
// backend switch would invalidate in-flight HMM state.
type AMFallback struct {
	primary amiface.AcousticModel
	group   *FallbackGroup[amiface.AcousticModel]
}

var _ amiface.AcousticModel = (*AMFallback)(nil)

// NewAMFallback creates an [AMFallback] with primary as the preferred backend.
func NewAMFallback(primary amiface.AcousticModel, primaryName string, cfg FallbackConfig) *AMFallback {
	return &AMFallback{
		primary: primary,
		group:   NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional acoustic-model backend as a fallback for
// the Score call only.
func (f *AMFallback) AddFallback(name string, am amiface.AcousticModel) {
	f.group.AddFallback(name, am)
}

func (f *AMFallback) NewHMM(mpx bool, ssid, ciphone int32) amiface.HMM {
	return f.primary.NewHMM(mpx, ssid, ciphone)
}

func (f *AMFallback) ClearActive() { f.primary.ClearActive() }

func (f *AMFallback) ActivateHMM(h amiface.HMM) { f.primary.ActivateHMM(h) }

func (f *AMFallback) NumCIPhones() int { return f.primary.NumCIPhones() }

func (f *AMFallback) SilenceCIPhone() int32 { return f.primary.SilenceCIPhone() }

func (f *AMFallback) CompAllSen() bool { return f.primary.CompAllSen() }

func (f *AMFallback) NFeatFrame() int { return f.primary.NFeatFrame() }

// PrimaryState reports the primary backend's circuit state, for callers that
// want to surface "is the preferred acoustic-model backend degraded" (e.g. a
// service health check) without reaching into resilience internals.
func (f *AMFallback) PrimaryState() State { return f.group.PrimaryState() }

// scoreResult bundles the two return values of amiface.AcousticModel.Score so
// ExecuteWithResult's single-result-plus-error shape can carry both.
type scoreResult struct {
	frame  int
	scores []amiface.Score
}

func (f *AMFallback) Score(ctx context.Context) (int, []amiface.Score, error) {
	res, err := ExecuteWithResult(f.group, func(am amiface.AcousticModel) (scoreResult, error) {
		frame, scores, err := am.Score(ctx)
		return scoreResult{frame: frame, scores: scores}, err
	})
	return res.frame, res.scores, err
}
