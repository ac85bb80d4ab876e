package domain

import "time"

// Source is a logical provenance record: it is the aggregate root for all
// chunk-scoped data belonging to one ingested artifact.
//
// Invariant: (Path, ContentHash) uniquely identifies an ingested revision;
// two Sources may share a Path only across distinct ContentHash values.
type Source struct {
	ID             string
	Path           string
	ContentHash    string
	EmbeddingModel string
	IngestedAt     time.Time
}

// Chunk is an indivisible retrievable fragment of a Source.
//
// Invariants: ID is stable for the chunk's lifetime and is the key used by
// both the vector and full-text indices; (SourceID, Ordinal) is unique; Text
// is never mutated post-insert.
type Chunk struct {
	ID            int64
	SourceID      string
	Ordinal       int
	Text          string
	ContextPrefix string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// EmbeddedText is the representation stored in the full-text index and
// embedded by the gateway: the context prefix concatenated with the chunk
// text.
func (c Chunk) EmbeddedText() string {
	if c.ContextPrefix == "" {
		return c.Text
	}
	return c.ContextPrefix + "\n\n" + c.Text
}

// SourceSummary is a short model-generated document-level description
// associated 1:1 with a Source.
type SourceSummary struct {
	SourceID    string
	SummaryText string
	GeneratedAt time.Time
}

// ChunkDraft is what a Chunker produces before it has been assigned an
// integer identifier by the repository.
type ChunkDraft struct {
	Ordinal  int
	Text     string
	Metadata map[string]any
}
