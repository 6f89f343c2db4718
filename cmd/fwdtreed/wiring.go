package main

import (
	"fmt"
	"log/slog"

	"github.com/voxlex/fwdtree/internal/amiface"
	"github.com/voxlex/fwdtree/internal/amiface/fixture"
	"github.com/voxlex/fwdtree/internal/amiface/streaming"
	"github.com/voxlex/fwdtree/internal/config"
	"github.com/voxlex/fwdtree/internal/decoder"
	"github.com/voxlex/fwdtree/internal/dictionary/textdict"
	"github.com/voxlex/fwdtree/internal/lm/backoff"
	"github.com/voxlex/fwdtree/internal/resilience"
	"github.com/voxlex/fwdtree/internal/transport/wsdecode"
)

// logProbScale converts the ARPA file's base-10 log-probabilities into the
// decoder's internal log-domain units. PocketSphinx's own default scale
// (logs3's log base) is approximated here by a fixed value tuned so typical
// ARPA probabilities land in the same rough magnitude as the acoustic score
// range; operators with a differently-scaled LM can retune via future config
// without changing the loader.
const logProbScale = 1000.0

// tunablesFromConfig merges cfg over the built-in defaults: a zero field in
// cfg means "use the built-in default", per TunablesConfig's own doc
// comment. Beams are negated since [decoder.Tunables] stores them as the
// (already-negative) score offset subtracted from the frame's best score.
// The same zero-means-default fallback is extended here to the two frame
// caps, since an omitted YAML field otherwise zero-values to "cap every
// frame at 0", which is never an operator's intent.
func tunablesFromConfig(cfg config.TunablesConfig) decoder.Tunables {
	d := config.Defaults()
	pick := func(v, def float64) float64 {
		if v == 0 {
			return def
		}
		return v
	}
	t := decoder.Tunables{
		Beam:       decoder.Score(-pick(cfg.Beam, d.Beam)),
		PBeam:      decoder.Score(-pick(cfg.PBeam, d.PBeam)),
		LPBeam:     decoder.Score(-pick(cfg.LPBeam, d.LPBeam)),
		LPOnlyBeam: decoder.Score(-pick(cfg.LPOnlyBeam, d.LPOnlyBeam)),
		WBeam:      decoder.Score(-pick(cfg.WBeam, d.WBeam)),

		PIP:     decoder.Score(cfg.WordInsertionPenalty),
		SilPen:  decoder.Score(cfg.SilenceWordPenalty),
		FillPen: decoder.Score(cfg.FillerWordPenalty),

		MaxWPF:   cfg.MaxWordsPerFrame,
		MaxHMMPF: cfg.MaxHMMsPerFrame,
	}
	if t.MaxWPF == 0 {
		t.MaxWPF = d.MaxWordsPerFrame
	}
	if t.MaxHMMPF == 0 {
		t.MaxHMMPF = d.MaxHMMsPerFrame
	}
	return t
}

// domain bundles the collaborators every decoder.Search instance this
// service builds shares: the dictionary and language model are loaded once
// at startup and read-only thereafter, so every connection's Search gets
// its own lexicon tree built against the same two immutable resources.
type domain struct {
	dict     *textdict.Dictionary
	lm       *backoff.Model
	tunables decoder.Tunables
	log      *slog.Logger
}

func buildDomain(cfg *config.Config, log *slog.Logger) (*domain, error) {
	dict, err := textdict.Load(cfg.Decoder.DictionaryPath, cfg.Decoder.FillerDictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	log.Info("dictionary loaded",
		"entries", dict.EntryCount(),
		"main_words", dict.MainWordCount(),
		"ci_phones", dict.NumCIPhones(),
	)

	lmModel, err := backoff.Load(cfg.Decoder.LanguageModelPath, logProbScale, dict.WordID)
	if err != nil {
		return nil, fmt.Errorf("load language model: %w", err)
	}
	log.Info("language model loaded", "path", cfg.Decoder.LanguageModelPath)

	return &domain{
		dict:     dict,
		lm:       lmModel,
		tunables: tunablesFromConfig(cfg.Decoder.Tunables),
		log:      log,
	}, nil
}

// silenceCIPhone returns the context-independent phone id of the silence
// word's (single) phone, the id an AcousticModel reports via
// SilenceCIPhone.
func (d *domain) silenceCIPhone() int32 {
	e := d.dict.Entry(d.dict.SilenceWID())
	if len(e.CIPhoneIDs) == 0 {
		return 0
	}
	return e.CIPhoneIDs[0]
}

// newHMMFactory returns a fixture acoustic model's NewHMM method bound to
// this domain's phone inventory. The real front end this service decodes
// against is Gaussian-free and supplied externally (precomputed senone
// scores over MCP, or streamed scores over the websocket transport); what
// every caller still needs locally is *something* that builds the
// fixed-topology phone HMMs the lexicon tree is made of, and
// amiface/fixture is the one concrete HMM implementation this repository
// carries (§5 of SPEC_FULL.md).
func (d *domain) newHMMFactory() func(mpx bool, ssid, ciphone int32) amiface.HMM {
	hmm := fixture.New(fixture.Config{
		NumCIPhones:    d.dict.NumCIPhones(),
		SilenceCIPhone: d.silenceCIPhone(),
		CompAllSen:     true,
	})
	return hmm.NewHMM
}

// newFrameTableSearch builds a one-shot *decoder.Search whose acoustic model
// replays a caller-supplied senone score table, for the decode_utterance MCP
// tool (internal/mcp/tools/decode.SearchFactory).
func (d *domain) newFrameTableSearch(senoneScores [][]amiface.Score) (*decoder.Search, error) {
	am := fixture.New(fixture.Config{
		NumCIPhones:    d.dict.NumCIPhones(),
		SilenceCIPhone: d.silenceCIPhone(),
		CompAllSen:     true,
		Frames:         senoneScores,
	})

	guarded := resilience.NewAMFallback(am, "fixture-primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3},
	})

	search := decoder.NewSearch(guarded, d.dict, d.lm, d.tunables, d.log)
	if err := search.Init(); err != nil {
		return nil, err
	}
	return search, nil
}

// newStreamSearch builds a *decoder.Search fed by a push-based streaming
// acoustic model, for wsdecode.SearchFactory. Each call constructs a fresh
// streaming.Model bound to a fresh HMM factory, matching Search's own
// one-utterance-per-instance contract.
func (d *domain) newStreamSearch() (*decoder.Search, wsdecode.FramePusher, error) {
	sm := streaming.New(streaming.Config{
		NumCIPhones:    d.dict.NumCIPhones(),
		SilenceCIPhone: d.silenceCIPhone(),
	})
	sm.SetHMMFactory(d.newHMMFactory())

	search := decoder.NewSearch(sm, d.dict, d.lm, d.tunables, d.log)
	if err := search.Init(); err != nil {
		return nil, nil, err
	}
	return search, sm, nil
}
