// Package driving declares the operations external callers (the command
// entrypoint, tests) invoke against the core: ingest, retrieve, assemble,
// and generate.
package driving

import (
	"context"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
)

// IngestRequest describes one source to bring into the store.
type IngestRequest struct {
	Path            string // local path, or URL for web/git sources
	SourceKind      string // "" to auto-detect from Path
	AutoConfirm     bool
	MetadataHint    map[string]any
}

// IngestReport summarises what an ingest run did.
type IngestReport struct {
	Source      domain.Source
	Skipped     bool // (path, digest) already present
	ChunkCount  int
	LLMCalls    int
}

// Ingester drives a single source through identification, deduplication,
// chunking, context-prefix generation, embedding, summarisation and commit.
type Ingester interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestReport, error)
}

// Retriever runs hybrid/dense/bm25 retrieval for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, cfg domain.RetrieverConfig) ([]domain.ScoredChunk, error)
}

// Assembler scores, filters, detects conflicts, and packs candidates into
// an AssembledContext ready for generation.
type Assembler interface {
	Assemble(ctx context.Context, query string, candidates []domain.ScoredChunk, cfg domain.AssemblerConfig) (domain.AssembledContext, error)
}

// GenerateRequest carries what the Generation Driver needs beyond the
// assembled context.
type GenerateRequest struct {
	Query          string
	OutputPath     string
	AutoConfirm    bool
	GenerationModel string
}

// GenerateReport is what a generation run produced.
type GenerateReport struct {
	Output    string
	Conflicts []domain.ConflictReport
}

// Generator invokes the gateway with the assembled prompt and writes the
// footnoted result.
type Generator interface {
	Generate(ctx context.Context, assembled domain.AssembledContext, req GenerateRequest) (GenerateReport, error)
}
