package assembler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

type fakeRepo struct {
	summaries map[string]domain.SourceSummary
}

func (f *fakeRepo) SourceUpsert(ctx context.Context, path, contentHash, embeddingModel string) (driven.UpsertResult, error) {
	return driven.UpsertResult{}, nil
}
func (f *fakeRepo) GetSource(ctx context.Context, id string) (domain.Source, error) { return domain.Source{}, nil }
func (f *fakeRepo) GetSourceByPath(ctx context.Context, path string) (domain.Source, error) {
	return domain.Source{}, nil
}
func (f *fakeRepo) ListSources(ctx context.Context) ([]domain.Source, error) { return nil, nil }
func (f *fakeRepo) PurgeSource(ctx context.Context, id string) error         { return nil }
func (f *fakeRepo) ChunkBatchInsert(ctx context.Context, sourceID string, drafts []domain.ChunkDraft) ([]int64, error) {
	return nil, nil
}
func (f *fakeRepo) GetChunk(ctx context.Context, id int64) (domain.Chunk, error) { return domain.Chunk{}, nil }
func (f *fakeRepo) HydrateChunks(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	return nil, nil
}
func (f *fakeRepo) CountChunksBySource(ctx context.Context, sourceID string) (int, error) { return 0, nil }
func (f *fakeRepo) SetChunkContextPrefix(ctx context.Context, id int64, prefix string) error {
	return nil
}
func (f *fakeRepo) EnsureVectorIndex(ctx context.Context, modelSlug string, dimension int) error {
	return nil
}
func (f *fakeRepo) VectorIndexExists(ctx context.Context, modelSlug string) (bool, error) {
	return true, nil
}
func (f *fakeRepo) VectorWrite(ctx context.Context, modelSlug string, chunkID int64, vector []float32) error {
	return nil
}
func (f *fakeRepo) VectorSearch(ctx context.Context, modelSlug string, query []float32, topK int) ([]driven.VectorHit, error) {
	return nil, nil
}
func (f *fakeRepo) FullTextWrite(ctx context.Context, chunkID int64, text string) error { return nil }
func (f *fakeRepo) FullTextSearch(ctx context.Context, query string, topK int) ([]driven.FTSHit, error) {
	return nil, nil
}
func (f *fakeRepo) SummaryUpsert(ctx context.Context, sourceID, summaryText string) error { return nil }
func (f *fakeRepo) GetSummary(ctx context.Context, sourceID string) (domain.SourceSummary, error) {
	if s, ok := f.summaries[sourceID]; ok {
		return s, nil
	}
	return domain.SourceSummary{}, errors.New("not found")
}
func (f *fakeRepo) ListSummaries(ctx context.Context, limit int) ([]domain.SourceSummary, error) {
	return nil, nil
}
func (f *fakeRepo) Close() error { return nil }

type fakeGateway struct {
	completeFn func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error)
}

func (g *fakeGateway) Complete(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
	if g.completeFn != nil {
		return g.completeFn(ctx, model, messages, opts)
	}
	return "[]", nil
}
func (g *fakeGateway) Embed(ctx context.Context, model, text string) ([]float32, error) { return nil, nil }
func (g *fakeGateway) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, nil
}
func (g *fakeGateway) Transcribe(ctx context.Context, model string, audio []byte, filename string) (string, error) {
	return "", nil
}
func (g *fakeGateway) CountTokens(model, text string) int { return (len(text) + 3) / 4 }
func (g *fakeGateway) ContextWindow(model string) int      { return 1000 }
func (g *fakeGateway) ValidateCredentials(model string) driven.CredentialStatus {
	return driven.CredentialStatus{OK: true}
}

func candidate(id int64, sourceID, text string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{ID: id, SourceID: sourceID, Ordinal: 0, Text: text}, Score: score}
}

func TestAssemble_NoCandidatesReturnsEmpty(t *testing.T) {
	svc := New(&fakeRepo{}, &fakeGateway{})
	result, err := svc.Assemble(context.Background(), "q", nil, domain.AssemblerConfig{})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestAssemble_RelevanceScoringFailsOpenToAllTen(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		return "", errors.New("provider unavailable")
	}}
	svc := New(&fakeRepo{}, gw)
	candidates := []domain.ScoredChunk{candidate(1, "a", "text one", 0.5)}

	result, err := svc.Assemble(context.Background(), "q", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 10, TokenBudget: 1000, GenerationModel: "openai/gpt-4o",
	})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, 10, result.RelevanceScores[1])
}

func TestAssemble_UnparseableScoreFallsOpen(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		return "not a json array", nil
	}}
	svc := New(&fakeRepo{}, gw)
	candidates := []domain.ScoredChunk{candidate(1, "a", "text", 0.5)}
	result, err := svc.Assemble(context.Background(), "q", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 10, TokenBudget: 1000, GenerationModel: "openai/gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, result.RelevanceScores[1])
}

func TestAssemble_BelowThresholdIsExcluded(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		return "[2]", nil
	}}
	svc := New(&fakeRepo{}, gw)
	candidates := []domain.ScoredChunk{candidate(1, "a", "text", 0.5)}
	result, err := svc.Assemble(context.Background(), "q", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 5, TokenBudget: 1000, GenerationModel: "openai/gpt-4o",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestAssemble_ConflictDetectionFailsOpenToNil(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		if len(messages) > 0 && messages[0].Content == conflictSystemPrompt {
			return "", errors.New("provider unavailable")
		}
		return "[10, 10]", nil
	}}
	svc := New(&fakeRepo{}, gw)
	candidates := []domain.ScoredChunk{candidate(1, "a", "text one", 0.5), candidate(2, "b", "text two", 0.4)}
	result, err := svc.Assemble(context.Background(), "q", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 1, TokenBudget: 1000, GenerationModel: "openai/gpt-4o",
	})
	require.NoError(t, err)
	assert.Nil(t, result.Conflicts)
}

func TestAssemble_PromptSectionOrder(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		return "[10]", nil
	}}
	repo := &fakeRepo{summaries: map[string]domain.SourceSummary{
		"src-a": {SourceID: "src-a", SummaryText: "summary of source a"},
	}}
	svc := New(repo, gw)
	candidates := []domain.ScoredChunk{candidate(1, "src-a", "the chunk body", 0.9)}

	result, err := svc.Assemble(context.Background(), "what is X?", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 1,
		TokenBudget:        1000,
		GenerationModel:    "openai/gpt-4o",
		MaxSourceSummaries: 5,
		FeatureSpec:        "FEATURE: widget export",
	})
	require.NoError(t, err)

	prompt := result.Prompt
	featureIdx := indexOf(prompt, "FEATURE: widget export")
	backgroundIdx := indexOf(prompt, "Background from sources")
	contextIdx := indexOf(prompt, "<context>")
	queryIdx := indexOf(prompt, "Query: what is X?")

	require.GreaterOrEqual(t, featureIdx, 0)
	require.GreaterOrEqual(t, backgroundIdx, 0)
	require.GreaterOrEqual(t, contextIdx, 0)
	require.GreaterOrEqual(t, queryIdx, 0)
	assert.Less(t, featureIdx, backgroundIdx)
	assert.Less(t, backgroundIdx, contextIdx)
	assert.Less(t, contextIdx, queryIdx)
	assert.Contains(t, prompt, "summary of source a")
	assert.Contains(t, prompt, untrustedDataInstruction)
}

func TestAssemble_TokenBudgetPacksGreedily(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		return "[10, 10, 10]", nil
	}}
	svc := New(&fakeRepo{}, gw)
	candidates := []domain.ScoredChunk{
		candidate(1, "a", "1234567890", 0.9),
		candidate(2, "b", "1234567890", 0.8),
		candidate(3, "c", "1234567890", 0.7),
	}
	// Each chunk costs (10+3)/4 = 3 tokens; budget of 7 admits two.
	result, err := svc.Assemble(context.Background(), "q", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 1, TokenBudget: 7, GenerationModel: "openai/gpt-4o",
	})
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 2)
}

func TestAssemble_BudgetWarningWhenNearContextWindow(t *testing.T) {
	gw := &fakeGateway{completeFn: func(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
		return "[10]", nil
	}}
	svc := New(&fakeRepo{}, gw)
	bigText := make([]byte, 4000)
	for i := range bigText {
		bigText[i] = 'a'
	}
	candidates := []domain.ScoredChunk{candidate(1, "a", string(bigText), 0.9)}
	result, err := svc.Assemble(context.Background(), "q", candidates, domain.AssemblerConfig{
		RelevanceThreshold: 1, TokenBudget: 100000, GenerationModel: "openai/gpt-4o",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.BudgetWarning)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
