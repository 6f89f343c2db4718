// Package decode exposes one forward lexicon-tree decode pass as an MCP
// tool ("decode_utterance") over github.com/modelcontextprotocol/go-sdk.
//
// The teacher repository only ever plays MCP *client* (internal/mcp/mcphost
// imports mcpsdk.NewClient/CommandTransport/StreamableClientTransport to
// call out to someone else's tools); this package is the other half of the
// same dependency's surface, used to let the decoder itself be called as a
// tool. The request/result JSON shape mirrors internal/mcp/tools/tools.go's
// Tool{Definition,Handler} convention (see internal/mcp/tools/diceroller
// for the style this follows) even though registration itself goes through
// the SDK's own mcp.AddTool rather than the teacher's Host interface, since
// a server has no Host to register through.
package decode

import (
	"context"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxlex/fwdtree/internal/amiface"
	"github.com/voxlex/fwdtree/internal/decoder"
	"github.com/voxlex/fwdtree/internal/dictionary"
)

// WordNamer maps a decoded word id back to its surface form for the tool's
// JSON result. Concrete dictionaries (e.g. textdict.Dictionary) satisfy this
// via their own id-to-name table.
type WordNamer interface {
	Name(w dictionary.WordID) string
}

// SearchFactory builds a fresh, already-initialized *decoder.Search plus the
// acoustic model that will feed it senone scores for one request. The tool
// owns the returned Search for the duration of one decode_utterance call and
// does not reuse it across requests, since concurrent MCP calls must not
// share one Search's per-utterance state (§5: nothing in the core
// coordinates concurrent access).
type SearchFactory func(senoneScores [][]amiface.Score) (*decoder.Search, error)

// Archiver persists a decoded hypothesis for later retrieval (e.g. by
// semantic nearest-neighbour search). Concrete implementations live in
// internal/lattice/postgres.
type Archiver interface {
	Archive(ctx context.Context, utteranceID string, wordIDs []dictionary.WordID, words []string, score int32, frameCount int) error
}

// Server registers the decode_utterance tool on an MCP server.
type Server struct {
	newSearch SearchFactory
	words     WordNamer
	log       *slog.Logger

	// archive, when set, is called with every decoded hypothesis before the
	// tool result is returned. A failure to archive is logged but does not
	// fail the call, since archival is best-effort bookkeeping and not part
	// of the decode itself.
	archive Archiver
}

// New returns a Server ready to register with an *mcpsdk.Server via Register.
func New(newSearch SearchFactory, words WordNamer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{newSearch: newSearch, words: words, log: log}
}

// WithArchiver installs an Archiver that every decode_utterance call reports
// its hypothesis to.
func (s *Server) WithArchiver(a Archiver) *Server {
	s.archive = a
	return s
}

// decodeArgs is the JSON-decoded input for decode_utterance.
type decodeArgs struct {
	// UtteranceID labels the request in logs and in the returned result; it
	// is not interpreted otherwise.
	UtteranceID string `json:"utterance_id"`

	// SenoneScores is the full per-frame senone score table to decode
	// against, one row per frame. Units must match the acoustic model the
	// server's SearchFactory builds its Search instances against.
	SenoneScores [][]int32 `json:"senone_scores"`
}

// decodeResult is the JSON-encoded output of decode_utterance.
type decodeResult struct {
	UtteranceID string   `json:"utterance_id"`
	Words       []string `json:"words"`
	WordIDs     []int32  `json:"word_ids"`
	Score       int32    `json:"score"`
	FrameCount  int      `json:"frame_count"`
}

// Register adds the decode_utterance tool to server.
func (s *Server) Register(server *mcpsdk.Server) {
	tool := &mcpsdk.Tool{
		Name:        "decode_utterance",
		Description: "Run one forward lexicon-tree Viterbi decode pass over a pre-computed senone score table and return the 1-best word sequence.",
	}
	mcpsdk.AddTool(server, tool, s.handle)
}

func (s *Server) handle(ctx context.Context, _ *mcpsdk.CallToolRequest, args decodeArgs) (*mcpsdk.CallToolResult, decodeResult, error) {
	if len(args.SenoneScores) == 0 {
		return nil, decodeResult{}, fmt.Errorf("decode_utterance: senone_scores must not be empty")
	}

	scores := make([][]amiface.Score, len(args.SenoneScores))
	for i, row := range args.SenoneScores {
		r := make([]amiface.Score, len(row))
		for j, v := range row {
			r[j] = amiface.Score(v)
		}
		scores[i] = r
	}

	search, err := s.newSearch(scores)
	if err != nil {
		return nil, decodeResult{}, fmt.Errorf("decode_utterance: build search: %w", err)
	}

	search.Start()
	frames := 0
	for {
		ok, err := search.Step(ctx)
		if err != nil {
			return nil, decodeResult{}, fmt.Errorf("decode_utterance: step: %w", err)
		}
		if !ok {
			break
		}
		frames++
	}
	search.Finish()

	hyp := search.BestHypothesis()
	res := decodeResult{
		UtteranceID: args.UtteranceID,
		WordIDs:     make([]int32, len(hyp.WordIDs)),
		Words:       make([]string, len(hyp.WordIDs)),
		Score:       int32(hyp.Score),
		FrameCount:  frames,
	}
	for i, w := range hyp.WordIDs {
		res.WordIDs[i] = int32(w)
		res.Words[i] = s.words.Name(w)
	}

	if s.archive != nil {
		if err := s.archive.Archive(ctx, args.UtteranceID, hyp.WordIDs, res.Words, res.Score, frames); err != nil {
			s.log.Warn("decode_utterance: archive failed", "utterance_id", args.UtteranceID, "error", err)
		}
	}

	s.log.Info("decode_utterance served", "utterance_id", args.UtteranceID, "frames", frames, "words", len(res.Words))
	return nil, res, nil
}
