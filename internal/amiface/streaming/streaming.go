// Package streaming adapts a push-based frame source (e.g. the wsdecode
// transport) to [amiface.AcousticModel]'s pull-based Score call, using a
// buffered channel the same way the teacher's STT provider sessions
// buffer audio between a write loop and a read loop (see
// pkg/provider/stt/deepgram's session.SendAudio/writeLoop pair).
package streaming

import (
	"context"

	"github.com/voxlex/fwdtree/internal/amiface"
)

// frameBuf is one pushed frame's senone scores, or a close signal.
type frameBuf struct {
	scores []amiface.Score
	closed bool
}

// Model is an [amiface.AcousticModel] whose senone scores arrive over a
// channel fed by PushFrame, rather than being computed from audio directly.
// A fresh Model backs exactly one utterance; construct a new one per
// connection, matching decoder.Search's own one-utterance-at-a-time
// contract.
type Model struct {
	nCIPhones int
	silCI     int32

	hmmFactory func(mpx bool, ssid, ciphone int32) amiface.HMM

	activeSenone map[int32]bool
	frames       chan frameBuf
	frameIdx     int
	ended        bool
}

// Config configures a streaming Model.
type Config struct {
	NumCIPhones    int
	SilenceCIPhone int32
	BufferFrames   int // channel capacity; 0 defaults to 8
}

// New returns a streaming Model ready to accept pushed frames. The HMM
// factory must be installed via SetHMMFactory before the lexicon tree that
// will use this model is built.
func New(cfg Config) *Model {
	buf := cfg.BufferFrames
	if buf <= 0 {
		buf = 8
	}
	return &Model{
		nCIPhones:    cfg.NumCIPhones,
		silCI:        cfg.SilenceCIPhone,
		activeSenone: make(map[int32]bool),
		frames:       make(chan frameBuf, buf),
	}
}

// SetHMMFactory installs the HMM constructor this model delegates to.
func (m *Model) SetHMMFactory(f func(mpx bool, ssid, ciphone int32) amiface.HMM) {
	m.hmmFactory = f
}

// PushFrame implements wsdecode.FramePusher. Safe to call from a different
// goroutine than the one driving Search.Step, as is the normal case for a
// WebSocket read loop feeding a decode loop.
func (m *Model) PushFrame(scores []amiface.Score) {
	m.frames <- frameBuf{scores: scores}
}

// Close signals end-of-utterance: once the receiver drains any frames
// pushed before this call, NFeatFrame reports 0 rather than blocking
// forever waiting for a frame that will never come.
func (m *Model) Close() {
	m.frames <- frameBuf{closed: true}
}

// NewHMM implements amiface.AcousticModel by delegating to the installed
// HMM factory; streaming Model carries no phone-HMM implementation of its
// own since that is acoustic-front-end specific, not a streaming concern.
func (m *Model) NewHMM(mpx bool, ssid, ciphone int32) amiface.HMM {
	if m.hmmFactory == nil {
		panic("streaming: NewHMM called before SetHMMFactory")
	}
	return m.hmmFactory(mpx, ssid, ciphone)
}

// ClearActive implements amiface.AcousticModel. Senone activation has no
// effect on which frame arrives next in a push-based model, but the method
// still needs to exist to satisfy the interface and to let a caller that
// does track active senones (e.g. for diagnostics) reset cleanly.
func (m *Model) ClearActive() {
	for k := range m.activeSenone {
		delete(m.activeSenone, k)
	}
}

// ActivateHMM implements amiface.AcousticModel.
func (m *Model) ActivateHMM(h amiface.HMM) { _ = h }

// NumCIPhones implements amiface.AcousticModel.
func (m *Model) NumCIPhones() int { return m.nCIPhones }

// SilenceCIPhone implements amiface.AcousticModel.
func (m *Model) SilenceCIPhone() int32 { return m.silCI }

// CompAllSen implements amiface.AcousticModel. A pushed frame always
// carries every senone's score (the transport has no notion of a partial
// senone set), so activation tracking is purely advisory here.
func (m *Model) CompAllSen() bool { return true }

// NFeatFrame implements amiface.AcousticModel. Reports how many pushed items
// (frames, plus the close signal once pushed) are buffered and not yet
// consumed by Score, and 0 once Score has consumed the close signal.
func (m *Model) NFeatFrame() int {
	if m.ended {
		return 0
	}
	return len(m.frames)
}

// Score implements amiface.AcousticModel, blocking until PushFrame or Close
// is called.
func (m *Model) Score(ctx context.Context) (int, []amiface.Score, error) {
	select {
	case fb := <-m.frames:
		if fb.closed {
			m.ended = true
			return m.frameIdx, nil, nil
		}
		idx := m.frameIdx
		m.frameIdx++
		return idx, fb.scores, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}
