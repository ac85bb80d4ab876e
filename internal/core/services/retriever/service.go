// Package retriever implements hybrid BM25 + dense retrieval with
// optional HyDE query expansion and Reciprocal Rank Fusion.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driving"
	"github.com/custodia-labs/foundry-rag/internal/logger"
)

const hydeSystemPrompt = "You are a helpful assistant. Write a concise, factual answer (one paragraph, at most 100 tokens) to the following question. Do not ask for clarification."

// Service is the concrete Retriever.
type Service struct {
	repo    driven.Repository
	gateway driven.Gateway
}

var _ driving.Retriever = (*Service)(nil)

// New builds a Retriever.
func New(repo driven.Repository, gateway driven.Gateway) *Service {
	return &Service{repo: repo, gateway: gateway}
}

func (s *Service) Retrieve(ctx context.Context, query string, cfg domain.RetrieverConfig) ([]domain.ScoredChunk, error) {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}

	slug := driven.ModelSlug(cfg.EmbeddingModel)

	if cfg.Mode != domain.ModeBM25 {
		exists, err := s.repo.VectorIndexExists(ctx, slug)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.NewError(domain.KindSchemaMismatch,
				fmt.Sprintf("no vector index for embedding model %q", cfg.EmbeddingModel),
				"run ingest with this embedding model before retrieving", nil)
		}
	}

	switch cfg.Mode {
	case domain.ModeBM25:
		hits, err := s.repo.FullTextSearch(ctx, query, cfg.TopK)
		if err != nil {
			return nil, err
		}
		return s.hydrateRanked(ctx, bm25RanksOnly(hits, cfg.RRFK))
	case domain.ModeDense:
		embedText := s.buildEmbedQuery(ctx, query, cfg)
		vec, err := s.gateway.Embed(ctx, cfg.EmbeddingModel, embedText)
		if err != nil {
			return nil, err
		}
		hits, err := s.repo.VectorSearch(ctx, slug, vec, cfg.TopK)
		if err != nil {
			return nil, err
		}
		return s.hydrateRanked(ctx, denseRanksOnly(hits, cfg.RRFK))
	default: // hybrid
		embedText := s.buildEmbedQuery(ctx, query, cfg)
		vec, err := s.gateway.Embed(ctx, cfg.EmbeddingModel, embedText)
		if err != nil {
			return nil, err
		}
		denseHits, err := s.repo.VectorSearch(ctx, slug, vec, cfg.TopK)
		if err != nil {
			return nil, err
		}
		bm25Hits, err := s.repo.FullTextSearch(ctx, query, cfg.TopK)
		if err != nil {
			return nil, err
		}
		fused := fuse(denseHits, bm25Hits, cfg.RRFK, cfg.TopK)
		return s.hydrateRanked(ctx, fused)
	}
}

// buildEmbedQuery returns the text to embed for the dense channel: the
// raw query, or (if HyDE is enabled) a short hypothetical answer. HyDE
// failure is non-fatal; the raw query is used instead. BM25 always uses
// the raw query regardless of this setting.
func (s *Service) buildEmbedQuery(ctx context.Context, query string, cfg domain.RetrieverConfig) string {
	if !cfg.HydeEnabled {
		return query
	}
	answer, err := s.gateway.Complete(ctx, cfg.HydeModel, []driven.ChatMessage{
		{Role: "system", Content: hydeSystemPrompt},
		{Role: "user", Content: query},
	}, driven.CompleteOptions{MaxTokens: 100, Temperature: 0})
	if err != nil {
		logger.Warn("HyDE generation failed, falling back to raw query: %v", err)
		return query
	}
	if strings.TrimSpace(answer) == "" {
		return query
	}
	return strings.TrimSpace(answer)
}

type rankedChunk struct {
	chunkID int64
	score   float64
	denseR  *int
	bm25R   *int
}

func bm25RanksOnly(hits []driven.FTSHit, k int) []rankedChunk {
	out := make([]rankedChunk, len(hits))
	for i, h := range hits {
		rank := i + 1
		out[i] = rankedChunk{chunkID: h.ChunkID, score: 1.0 / float64(k+rank), bm25R: &rank}
	}
	return out
}

func denseRanksOnly(hits []driven.VectorHit, k int) []rankedChunk {
	out := make([]rankedChunk, len(hits))
	for i, h := range hits {
		rank := i + 1
		out[i] = rankedChunk{chunkID: h.ChunkID, score: 1.0 / float64(k+rank), denseR: &rank}
	}
	return out
}

// fuse combines dense and BM25 ranked lists via Reciprocal Rank Fusion:
// score(c) = sum over channels that returned c of 1/(k+rank_channel(c)).
// A chunk missing from a channel contributes nothing from that channel.
// Ties are broken by ascending chunk id.
func fuse(dense []driven.VectorHit, bm25 []driven.FTSHit, k, topK int) []rankedChunk {
	denseRank := map[int64]int{}
	for i, h := range dense {
		denseRank[h.ChunkID] = i + 1
	}
	bm25Rank := map[int64]int{}
	for i, h := range bm25 {
		bm25Rank[h.ChunkID] = i + 1
	}

	seen := map[int64]bool{}
	var ids []int64
	for id := range denseRank {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range bm25Rank {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	out := make([]rankedChunk, 0, len(ids))
	for _, id := range ids {
		var score float64
		var dr, br *int
		if r, ok := denseRank[id]; ok {
			score += 1.0 / float64(k+r)
			rr := r
			dr = &rr
		}
		if r, ok := bm25Rank[id]; ok {
			score += 1.0 / float64(k+r)
			rr := r
			br = &rr
		}
		out = append(out, rankedChunk{chunkID: id, score: score, denseR: dr, bm25R: br})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunkID < out[j].chunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (s *Service) hydrateRanked(ctx context.Context, ranked []rankedChunk) ([]domain.ScoredChunk, error) {
	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.chunkID
	}
	chunks, err := s.repo.HydrateChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]domain.ScoredChunk, 0, len(ranked))
	for _, r := range ranked {
		c, ok := byID[r.chunkID]
		if !ok {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: c, Score: r.score})
	}
	return out, nil
}
