// Package wsdecode streams senone score frames into a decoder.Search over a
// plain WebSocket connection and streams incremental/final hypotheses back
// out, one connection per utterance.
//
// Message framing mirrors the JSON-per-message convention the teacher's STT
// provider sessions use for their WebSocket connections (e.g.
// pkg/provider/stt/deepgram), but runs on the server side of the
// connection instead of the client side: this service accepts connections
// rather than dialing out to a third-party speech API.
package wsdecode

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/voxlex/fwdtree/internal/amiface"
	"github.com/voxlex/fwdtree/internal/decoder"
	"github.com/voxlex/fwdtree/internal/dictionary"
)

// WordNamer maps a decoded word id back to its surface form.
type WordNamer interface {
	Name(w dictionary.WordID) string
}

// FramePusher feeds one frame's senone scores into the streaming acoustic
// model adapter backing a Search, unblocking its next AcousticModel.Score
// call. The decoder core only ever demand-pulls scores through Score; a
// push-based transport like this one needs the acoustic-model adapter
// returned alongside the Search to also satisfy this interface.
type FramePusher interface {
	PushFrame(scores []amiface.Score)
}

// SearchFactory builds a fresh, already-initialized *decoder.Search for one
// connection's utterance, plus the FramePusher that feeds it. Handler calls
// this once per accepted connection.
type SearchFactory func() (*decoder.Search, FramePusher, error)

// frameMsg is one incoming client message: either a senone score frame or a
// close-of-utterance signal.
type frameMsg struct {
	UtteranceID string  `json:"utterance_id,omitempty"`
	Scores      []int32 `json:"scores,omitempty"`
	End         bool    `json:"end,omitempty"`
}

// Archiver persists a decoded hypothesis for later retrieval. Concrete
// implementations live in internal/lattice/postgres.
type Archiver interface {
	Archive(ctx context.Context, utteranceID string, wordIDs []dictionary.WordID, words []string, score int32, frameCount int) error
}

// hypothesisMsg is one outgoing server message: the current 1-best
// hypothesis after processing the frames received so far.
type hypothesisMsg struct {
	Words      []string `json:"words"`
	WordIDs    []int32  `json:"word_ids"`
	Score      int32    `json:"score"`
	FrameCount int      `json:"frame_count"`
	Final      bool     `json:"final"`
}

// Handler accepts WebSocket connections and drives one decoder.Search per
// connection, reading senone frames and writing incremental hypotheses.
type Handler struct {
	newSearch SearchFactory
	words     WordNamer
	log       *slog.Logger

	// AcceptOptions overrides the default websocket.AcceptOptions (e.g. to
	// relax same-origin checks in development). Nil uses the library's
	// defaults.
	AcceptOptions *websocket.AcceptOptions

	// Archive, when set, is called once with the final hypothesis of every
	// connection's utterance. A failure to archive is logged but does not
	// fail the connection.
	Archive Archiver
}

// NewHandler returns a Handler ready to mount on an http.ServeMux.
func NewHandler(newSearch SearchFactory, words WordNamer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{newSearch: newSearch, words: words, log: log}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.AcceptOptions)
	if err != nil {
		h.log.Warn("wsdecode: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	if err := h.serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return
		}
		h.log.Warn("wsdecode: session ended with error", "error", err)
		conn.Close(websocket.StatusInternalError, "decode session failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "utterance complete")
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) error {
	search, pusher, err := h.newSearch()
	if err != nil {
		return err
	}
	search.Start()

	frames := 0
	utteranceID := ""
	for {
		var msg frameMsg
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if msg.UtteranceID != "" {
			utteranceID = msg.UtteranceID
		}
		if msg.End {
			break
		}

		scores := make([]amiface.Score, len(msg.Scores))
		for i, v := range msg.Scores {
			scores[i] = amiface.Score(v)
		}
		pusher.PushFrame(scores)
		if _, err := search.Step(ctx); err != nil {
			return err
		}
		frames++

		hyp := search.BestHypothesis()
		if err := h.writeHypothesis(ctx, conn, hyp, frames, false); err != nil {
			return err
		}
	}

	search.Finish()
	hyp := search.BestHypothesis()

	if h.Archive != nil {
		words := make([]string, len(hyp.WordIDs))
		for i, w := range hyp.WordIDs {
			words[i] = h.words.Name(w)
		}
		if err := h.Archive.Archive(ctx, utteranceID, hyp.WordIDs, words, int32(hyp.Score), frames); err != nil {
			h.log.Warn("wsdecode: archive failed", "utterance_id", utteranceID, "error", err)
		}
	}

	return h.writeHypothesis(ctx, conn, hyp, frames, true)
}

func (h *Handler) writeHypothesis(ctx context.Context, conn *websocket.Conn, hyp decoder.Hypothesis, frames int, final bool) error {
	msg := hypothesisMsg{
		WordIDs:    make([]int32, len(hyp.WordIDs)),
		Words:      make([]string, len(hyp.WordIDs)),
		Score:      int32(hyp.Score),
		FrameCount: frames,
		Final:      final,
	}
	for i, wid := range hyp.WordIDs {
		msg.WordIDs[i] = int32(wid)
		msg.Words[i] = h.words.Name(wid)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
