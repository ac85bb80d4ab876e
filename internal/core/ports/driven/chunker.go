package driven

import "github.com/custodia-labs/foundry-rag/internal/core/domain"

// ChunkerConfig carries the per-family size/overlap policy, resolved from
// layered configuration before the chunker runs, plus the token counter
// every chunker uses to respect its ceiling (the Gateway's tokeniser).
type ChunkerConfig struct {
	ChunkSizeTokens int
	OverlapFraction float64 // 0.0-1.0 of the ceiling, carried as whole units (paragraphs, pages, objects), not split tokens
	Strategy        string  // e.g. "heading_aware" | "fixed_window" for markdown
	CountTokens     func(text string) int
}

// Chunker turns one source's raw content into an ordered sequence of
// chunks. Implementations must be deterministic, must never emit a chunk
// with empty text, and must produce contiguous ordinals starting at 0.
type Chunker interface {
	// Chunk splits rawContent into drafts. metadataHint carries
	// caller-supplied context (e.g. a detected MIME type) that a chunker
	// may use but need not honour.
	Chunk(sourceID string, rawContent []byte, metadataHint map[string]any, cfg ChunkerConfig) ([]domain.ChunkDraft, error)
}
