package domain

// RetrievalMode selects which channels the Retriever consults.
type RetrievalMode string

const (
	ModeHybrid RetrievalMode = "hybrid"
	ModeDense  RetrievalMode = "dense"
	ModeBM25   RetrievalMode = "bm25"
)

// RetrieverConfig configures one retrieval call.
type RetrieverConfig struct {
	Mode           RetrievalMode
	TopK           int
	RRFK           int
	HydeEnabled    bool
	HydeModel      string
	EmbeddingModel string
}

// ScoredChunk pairs a Chunk with the score it earned during retrieval
// (RRF fusion score in hybrid mode; in dense-only or BM25-only mode the
// single-channel reciprocal-rank score 1/(k+rank)).
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// ConflictReport records a pair of chunks whose content materially
// contradicts on a matter of fact.
type ConflictReport struct {
	SourceA    string
	SourceB    string
	Topic      string
	ExcerptA   string
	ExcerptB   string
}

// AssemblerConfig configures the Context Assembler pipeline.
type AssemblerConfig struct {
	ScorerModel          string
	ConflictModel        string
	RelevanceThreshold   int
	TokenBudget          int
	GenerationModel      string
	MaxSourceSummaries   int
	ProjectBriefPath     string
	ProjectBriefMaxToken int

	// FeatureSpec is the selected approved feature document. It is opaque
	// to the core: content supplied verbatim by the external caller, never
	// fetched or interpreted here.
	FeatureSpec string
}

// AssembledContext is the output of the Context Assembler: the chunks
// selected for the prompt, their relevance scores, any detected conflicts,
// the summaries chosen, and the rendered prompt itself.
type AssembledContext struct {
	Chunks          []Chunk
	RelevanceScores map[int64]int
	Conflicts       []ConflictReport
	Summaries       []SourceSummary
	Prompt          string
	TotalTokens     int
	BudgetWarning   string
}
