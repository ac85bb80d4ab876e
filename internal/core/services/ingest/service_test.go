package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foundry-rag/internal/chunkers"
	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driving"
)

type fakeRepo struct {
	sources        map[string]domain.Source // keyed by path
	chunkCounts    map[string]int           // keyed by source id
	purged         []string
	upsertErr      error
	nextID         int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sources: map[string]domain.Source{}, chunkCounts: map[string]int{}}
}

func (f *fakeRepo) SourceUpsert(ctx context.Context, path, contentHash, embeddingModel string) (driven.UpsertResult, error) {
	if f.upsertErr != nil {
		return driven.UpsertResult{}, f.upsertErr
	}
	if existing, ok := f.sources[path]; ok && existing.ContentHash == contentHash {
		return driven.UpsertResult{Source: existing, AlreadyHad: true}, nil
	}
	f.nextID++
	src := domain.Source{ID: filepath.Base(path) + "-" + string(rune('0'+f.nextID)), Path: path, ContentHash: contentHash, EmbeddingModel: embeddingModel}
	f.sources[path] = src
	return driven.UpsertResult{Source: src}, nil
}
func (f *fakeRepo) GetSource(ctx context.Context, id string) (domain.Source, error) { return domain.Source{}, nil }
func (f *fakeRepo) GetSourceByPath(ctx context.Context, path string) (domain.Source, error) {
	return f.sources[path], nil
}
func (f *fakeRepo) ListSources(ctx context.Context) ([]domain.Source, error) { return nil, nil }
func (f *fakeRepo) PurgeSource(ctx context.Context, id string) error {
	f.purged = append(f.purged, id)
	delete(f.chunkCounts, id)
	return nil
}
func (f *fakeRepo) ChunkBatchInsert(ctx context.Context, sourceID string, drafts []domain.ChunkDraft) ([]int64, error) {
	ids := make([]int64, len(drafts))
	for i := range drafts {
		ids[i] = int64(i + 1)
	}
	f.chunkCounts[sourceID] = len(drafts)
	return ids, nil
}
func (f *fakeRepo) GetChunk(ctx context.Context, id int64) (domain.Chunk, error) { return domain.Chunk{}, nil }
func (f *fakeRepo) HydrateChunks(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	return nil, nil
}
func (f *fakeRepo) CountChunksBySource(ctx context.Context, sourceID string) (int, error) {
	return f.chunkCounts[sourceID], nil
}
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
	return domain.SourceSummary{}, nil
}
func (f *fakeRepo) ListSummaries(ctx context.Context, limit int) ([]domain.SourceSummary, error) {
	return nil, nil
}
func (f *fakeRepo) Close() error { return nil }

type fakeGateway struct{}

func (g *fakeGateway) Complete(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
	return "a situating sentence", nil
}
func (g *fakeGateway) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (g *fakeGateway) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, nil
}
func (g *fakeGateway) Transcribe(ctx context.Context, model string, audio []byte, filename string) (string, error) {
	return "", nil
}
func (g *fakeGateway) CountTokens(model, text string) int { return (len(text) + 3) / 4 }
func (g *fakeGateway) ContextWindow(model string) int      { return 8192 }
func (g *fakeGateway) ValidateCredentials(model string) driven.CredentialStatus {
	return driven.CredentialStatus{OK: true}
}

func newTestService(t *testing.T, repo *fakeRepo, root string) *Service {
	t.Helper()
	registry := chunkers.NewRegistry(chunkers.Audio{})
	return New(repo, &fakeGateway{}, registry, Config{
		ProjectRoot:        root,
		EmbeddingModel:     "openai/text-embedding-3-small",
		ContextPrefixModel: "openai/gpt-4o-mini",
		SummaryModel:       "openai/gpt-4o-mini",
		SummaryMaxTokens:   200,
	}, func(estimate CostEstimate) bool { return true })
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return name
}

func TestIngest_FirstRunCommitsChunks(t *testing.T) {
	dir := t.TempDir()
	rel := writeTestFile(t, dir, "notes.txt", "Some notes about the project that are long enough to chunk sensibly.")
	repo := newFakeRepo()
	svc := newTestService(t, repo, dir)

	report, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, AutoConfirm: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Greater(t, report.ChunkCount, 0)
	assert.Empty(t, repo.purged)
}

func TestIngest_UnchangedSourceIsSkipped(t *testing.T) {
	dir := t.TempDir()
	rel := writeTestFile(t, dir, "notes.txt", "identical content every time")
	repo := newFakeRepo()
	svc := newTestService(t, repo, dir)

	first, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, AutoConfirm: true})
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, AutoConfirm: true})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
}

func TestIngest_InterruptedRunIsRecovered(t *testing.T) {
	dir := t.TempDir()
	rel := writeTestFile(t, dir, "notes.txt", "content for a run that gets interrupted before commit finishes")
	repo := newFakeRepo()
	svc := newTestService(t, repo, dir)
	// Prime the repo with a source row at the same digest but no chunks by
	// running ingest once, then wiping the chunk count as if the process
	// died mid-commit.
	first, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, AutoConfirm: true})
	require.NoError(t, err)
	repo.chunkCounts[first.Source.ID] = 0

	second, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, AutoConfirm: true})
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Greater(t, second.ChunkCount, 0)
}

func TestIngest_PathTraversalRefused(t *testing.T) {
	dir := t.TempDir()
	repo := newFakeRepo()
	svc := newTestService(t, repo, dir)

	_, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: "../outside.txt", AutoConfirm: true})
	require.Error(t, err)
	assert.True(t, domain.Is(err, domain.KindPathTraversal))
}

func TestIngest_UnsupportedFamilyAbortsAndPurges(t *testing.T) {
	dir := t.TempDir()
	rel := writeTestFile(t, dir, "data.bin", "irrelevant")
	repo := newFakeRepo()
	registry := chunkers.NewRegistry(chunkers.Audio{})
	svc := New(repo, &fakeGateway{}, registry, Config{ProjectRoot: dir, EmbeddingModel: "m", ContextPrefixModel: "m", SummaryModel: "m"}, nil)

	_, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, SourceKind: "unknown-family", AutoConfirm: true})
	require.Error(t, err)
	assert.True(t, domain.Is(err, domain.KindUnsupportedSourceType))
	require.Len(t, repo.purged, 1)
}

func TestIngest_ConfirmationDeclinedAbortsWithoutCommit(t *testing.T) {
	dir := t.TempDir()
	rel := writeTestFile(t, dir, "notes.txt", "some content that will be chunked")
	repo := newFakeRepo()
	registry := chunkers.NewRegistry(chunkers.Audio{})
	svc := New(repo, &fakeGateway{}, registry, Config{
		ProjectRoot: dir, EmbeddingModel: "m", ContextPrefixModel: "m", SummaryModel: "m",
	}, func(estimate CostEstimate) bool { return false })

	_, err := svc.Ingest(context.Background(), driving.IngestRequest{Path: rel, AutoConfirm: false})
	require.Error(t, err)
	assert.True(t, domain.Is(err, domain.KindInterrupted))
	require.Len(t, repo.purged, 1)
}
