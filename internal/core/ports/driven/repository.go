// Package driven declares the interfaces the core services depend on:
// the Repository (Knowledge Store access), the LLM Gateway, and the
// Chunker contract. Adapters in internal/adapters/driven implement these.
package driven

import (
	"context"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
)

// UpsertResult reports what SourceUpsert did.
type UpsertResult struct {
	Source     domain.Source
	AlreadyHad bool // true if (path, digest) already existed; no work was done
	Replaced   bool // true if a prior revision at the same path was purged
}

// VectorHit is one nearest-neighbour result: a chunk identifier and its
// distance from the query vector (lower is closer).
type VectorHit struct {
	ChunkID  int64
	Distance float64
}

// FTSHit is one BM25 result: a chunk identifier and its bm25() score
// (more negative is a better match, per SQLite FTS5 convention).
type FTSHit struct {
	ChunkID int64
	Score   float64
}

// Repository is the single interface to the Knowledge Store. All reads and
// writes go through it; no ad-hoc queries elsewhere in the codebase.
type Repository interface {
	// SourceUpsert inserts a new Source, or — if path exists with a
	// different digest — purges all dependents of the old revision within
	// one transaction and inserts the new Source. If (path, digest)
	// already exists, it is a no-op and AlreadyHad is true.
	SourceUpsert(ctx context.Context, path, contentHash, embeddingModel string) (UpsertResult, error)

	GetSource(ctx context.Context, id string) (domain.Source, error)
	GetSourceByPath(ctx context.Context, path string) (domain.Source, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	PurgeSource(ctx context.Context, id string) error

	// ChunkBatchInsert inserts every draft for one Source in a single
	// transaction and returns the assigned identifiers in input order.
	ChunkBatchInsert(ctx context.Context, sourceID string, drafts []domain.ChunkDraft) ([]int64, error)
	GetChunk(ctx context.Context, id int64) (domain.Chunk, error)
	HydrateChunks(ctx context.Context, ids []int64) ([]domain.Chunk, error)
	CountChunksBySource(ctx context.Context, sourceID string) (int, error)

	// SetChunkContextPrefix updates the context prefix of an already
	// inserted chunk (context prefixing happens after the chunking step).
	SetChunkContextPrefix(ctx context.Context, id int64, prefix string) error

	// EnsureVectorIndex creates the vec_chunks_<slug> table for
	// (modelSlug, dimension) if it does not exist. A dimension mismatch
	// against an existing table of the same slug is a fatal
	// KindSchemaMismatch error.
	EnsureVectorIndex(ctx context.Context, modelSlug string, dimension int) error
	VectorIndexExists(ctx context.Context, modelSlug string) (bool, error)
	VectorWrite(ctx context.Context, modelSlug string, chunkID int64, vector []float32) error
	VectorSearch(ctx context.Context, modelSlug string, query []float32, topK int) ([]VectorHit, error)

	FullTextWrite(ctx context.Context, chunkID int64, text string) error
	FullTextSearch(ctx context.Context, query string, topK int) ([]FTSHit, error)

	SummaryUpsert(ctx context.Context, sourceID, summaryText string) error
	GetSummary(ctx context.Context, sourceID string) (domain.SourceSummary, error)
	ListSummaries(ctx context.Context, limit int) ([]domain.SourceSummary, error)

	Close() error
}

// ModelSlug is the pure, documented transformation from a "provider/model"
// string to the identifier used in vec_chunks_<slug> table names:
// lowercase, then every non-alphanumeric character becomes an underscore.
func ModelSlug(model string) string {
	out := make([]byte, 0, len(model))
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
