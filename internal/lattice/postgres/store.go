package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Hypothesis is one archived decode result: the 1-best word sequence
// produced by tracing the backpointer lattice, its total Viterbi score, and
// bookkeeping about the utterance it came from.
type Hypothesis struct {
	UtteranceID string
	Words       []string
	WordIDs     []int32
	Score       int64
	FrameCount  int
	DecodedAt   time.Time

	// Embedding is an optional acoustic-summary vector for nearest-utterance
	// lookup. Nil means "no embedding computed for this utterance" — the
	// decoder core never computes one itself; this is strictly an
	// opt-in a caller of Store.Archive makes per utterance (LatticeArchiver
	// never sets it).
	Embedding []float32
}

// Store archives decoded utterance hypotheses to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers pgvector types on every connection,
// and migrates the schema (embeddingDimensions may be 0 to skip the
// embedding column entirely).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("lattice/postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("lattice/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lattice/postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lattice/postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Archive inserts one decoded utterance's hypothesis.
func (s *Store) Archive(ctx context.Context, h Hypothesis) error {
	if h.Embedding != nil {
		const q = `
			INSERT INTO utterances
			    (utterance_id, words, word_ids, score, frame_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)`
		_, err := s.pool.Exec(ctx, q, h.UtteranceID, h.Words, h.WordIDs, h.Score, h.FrameCount, pgvector.NewVector(h.Embedding))
		if err != nil {
			return fmt.Errorf("lattice/postgres: archive with embedding: %w", err)
		}
		return nil
	}

	const q = `
		INSERT INTO utterances
		    (utterance_id, words, word_ids, score, frame_count)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, q, h.UtteranceID, h.Words, h.WordIDs, h.Score, h.FrameCount); err != nil {
		return fmt.Errorf("lattice/postgres: archive: %w", err)
	}
	return nil
}

// NearestByEmbedding returns the topK archived utterances whose embeddings
// are closest (cosine distance) to query, ordered most-similar first.
func (s *Store) NearestByEmbedding(ctx context.Context, query []float32, topK int) ([]Hypothesis, error) {
	const q = `
		SELECT utterance_id, words, word_ids, score, frame_count, decoded_at
		FROM   utterances
		WHERE  embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, fmt.Errorf("lattice/postgres: nearest by embedding: %w", err)
	}
	defer rows.Close()

	var out []Hypothesis
	for rows.Next() {
		var h Hypothesis
		if err := rows.Scan(&h.UtteranceID, &h.Words, &h.WordIDs, &h.Score, &h.FrameCount, &h.DecodedAt); err != nil {
			return nil, fmt.Errorf("lattice/postgres: scan: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lattice/postgres: rows: %w", err)
	}
	return out, nil
}

// ByUtteranceID returns every archived hypothesis for a given utterance id,
// most recent first.
func (s *Store) ByUtteranceID(ctx context.Context, utteranceID string) ([]Hypothesis, error) {
	const q = `
		SELECT utterance_id, words, word_ids, score, frame_count, decoded_at
		FROM   utterances
		WHERE  utterance_id = $1
		ORDER BY decoded_at DESC`

	rows, err := s.pool.Query(ctx, q, utteranceID)
	if err != nil {
		return nil, fmt.Errorf("lattice/postgres: by utterance id: %w", err)
	}
	defer rows.Close()

	var out []Hypothesis
	for rows.Next() {
		var h Hypothesis
		if err := rows.Scan(&h.UtteranceID, &h.Words, &h.WordIDs, &h.Score, &h.FrameCount, &h.DecodedAt); err != nil {
			return nil, fmt.Errorf("lattice/postgres: scan: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lattice/postgres: rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// LatticeArchiver adapts a Store to the Archiver interface the decode_utterance
// MCP tool and the wsdecode transport both declare, translating their
// word-id/word/score/frame-count call shape into one Hypothesis insert.
type LatticeArchiver struct {
	Store *Store
}

// Archive implements the decode.Archiver and wsdecode.Archiver interfaces.
func (a LatticeArchiver) Archive(ctx context.Context, utteranceID string, wordIDs []int32, words []string, score int32, frameCount int) error {
	return a.Store.Archive(ctx, Hypothesis{
		UtteranceID: utteranceID,
		Words:       words,
		WordIDs:     wordIDs,
		Score:       int64(score),
		FrameCount:  frameCount,
	})
}
