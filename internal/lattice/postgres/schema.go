// Package postgres archives per-utterance decode results: the 1-best word
// sequence, its total score, and an optional acoustic-summary embedding for
// nearest-utterance lookup. Grounded on the teacher's pkg/memory/postgres
// (pgx/v5 pool + pgvector-backed semantic index), collapsed from its
// three-layer session/chunk/knowledge-graph schema to the single table this
// domain needs.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id          BIGSERIAL    PRIMARY KEY,
    utterance_id TEXT        NOT NULL,
    words        TEXT[]      NOT NULL,
    word_ids     INTEGER[]   NOT NULL,
    score        BIGINT      NOT NULL,
    frame_count  INTEGER     NOT NULL,
    decoded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_utterance_id
    ON utterances (utterance_id);

CREATE INDEX IF NOT EXISTS idx_utterances_decoded_at
    ON utterances (decoded_at);
`

// ddlEmbedding returns the DDL for the optional acoustic-summary embedding
// column, with the vector dimension baked in at migration time.
func ddlEmbedding(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

ALTER TABLE utterances ADD COLUMN IF NOT EXISTS embedding vector(%d);

CREATE INDEX IF NOT EXISTS idx_utterances_embedding
    ON utterances USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the utterances table and its indexes exist. It
// is idempotent and safe to call on every process start.
//
// embeddingDimensions must match whatever embedding model the caller uses to
// summarize decoded utterances (0 disables the embedding column and its
// index entirely — the decoder core never computes embeddings itself, so a
// deployment that never calls Store.Archive with a non-nil Embedding can
// skip this).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("lattice/postgres: migrate utterances table: %w", err)
	}
	if embeddingDimensions > 0 {
		if _, err := pool.Exec(ctx, ddlEmbedding(embeddingDimensions)); err != nil {
			return fmt.Errorf("lattice/postgres: migrate embedding column: %w", err)
		}
	}
	return nil
}
