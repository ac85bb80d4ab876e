package ingest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

const contextPrefixPrompt = "In one short sentence, situate the following excerpt within its source document so it can be understood out of context. Respond with only the sentence."

const summaryPrompt = "Write a concise summary (a few sentences) of the following document."

// commit runs steps 6-9 of the ingest contract: context prefixing,
// embedding, summary generation, and persistence of chunks, vectors, FTS
// entries and the summary. It returns the number of LLM calls issued.
func (s *Service) commit(ctx context.Context, sourceID string, drafts []domain.ChunkDraft) (int, error) {
	var llmCalls int64

	ids, err := s.repo.ChunkBatchInsert(ctx, sourceID, drafts)
	if err != nil {
		return 0, err
	}

	// LLM calls (context prefixing) run with bounded concurrency; the
	// resulting writes are applied to the store one at a time afterward so
	// the single writer connection never sees concurrent statements.
	prefixes := make([]string, len(drafts))
	if err := s.parallelEach(ctx, len(drafts), func(i int) error {
		prefix, err := s.gateway.Complete(ctx, s.cfg.ContextPrefixModel, []driven.ChatMessage{
			{Role: "system", Content: contextPrefixPrompt},
			{Role: "user", Content: drafts[i].Text},
		}, driven.CompleteOptions{MaxTokens: 60})
		atomic.AddInt64(&llmCalls, 1)
		if err != nil {
			return err
		}
		prefixes[i] = strings.TrimSpace(prefix)
		return nil
	}); err != nil {
		return int(llmCalls), err
	}
	for i := range drafts {
		if err := s.repo.SetChunkContextPrefix(ctx, ids[i], prefixes[i]); err != nil {
			return int(llmCalls), err
		}
	}

	vectors := make([][]float32, len(drafts))
	if err := s.parallelEach(ctx, len(drafts), func(i int) error {
		embedded := domain.Chunk{Text: drafts[i].Text, ContextPrefix: prefixes[i]}.EmbeddedText()
		vec, err := s.gateway.Embed(ctx, s.cfg.EmbeddingModel, embedded)
		atomic.AddInt64(&llmCalls, 1)
		if err != nil {
			return err
		}
		vectors[i] = vec
		return nil
	}); err != nil {
		return int(llmCalls), err
	}

	slug := driven.ModelSlug(s.cfg.EmbeddingModel)
	if len(vectors) > 0 {
		if err := s.repo.EnsureVectorIndex(ctx, slug, len(vectors[0])); err != nil {
			return int(llmCalls), err
		}
	}
	for i, d := range drafts {
		if err := s.repo.VectorWrite(ctx, slug, ids[i], vectors[i]); err != nil {
			return int(llmCalls), err
		}
		embedded := domain.Chunk{Text: d.Text, ContextPrefix: prefixes[i]}.EmbeddedText()
		if err := s.repo.FullTextWrite(ctx, ids[i], embedded); err != nil {
			return int(llmCalls), err
		}
	}

	var fullText strings.Builder
	for _, d := range drafts {
		fullText.WriteString(d.Text)
		fullText.WriteString(" ")
	}
	summary, err := s.gateway.Complete(ctx, s.cfg.SummaryModel, []driven.ChatMessage{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: fullText.String()},
	}, driven.CompleteOptions{MaxTokens: s.cfg.SummaryMaxTokens})
	llmCalls++
	if err != nil {
		return int(llmCalls), err
	}
	if err := s.repo.SummaryUpsert(ctx, sourceID, strings.TrimSpace(summary)); err != nil {
		return int(llmCalls), err
	}

	return int(llmCalls), nil
}

// parallelEach runs fn(i) for i in [0, n) with bounded concurrency,
// returning the first error encountered. Once an error is recorded or ctx
// is done no further work is started; work already in flight still drains.
func (s *Service) parallelEach(ctx context.Context, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		mu.Lock()
		if firstErr == nil && ctx.Err() != nil {
			firstErr = ctx.Err()
		}
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(i); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}
