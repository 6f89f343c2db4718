package postgres

import (
	"strings"
	"testing"
)

func TestDDLEmbeddingBakesInDimension(t *testing.T) {
	t.Parallel()
	ddl := ddlEmbedding(384)
	for _, want := range []string{"vector(384)", "CREATE EXTENSION IF NOT EXISTS vector", "hnsw"} {
		if !strings.Contains(ddl, want) {
			t.Errorf("ddlEmbedding(384) missing %q:\n%s", want, ddl)
		}
	}
}
