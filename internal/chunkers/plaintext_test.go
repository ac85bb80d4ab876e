package chunkers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

func countByChars(text string) int {
	return (len(text) + 3) / 4
}

func TestPlainTextChunks_Empty(t *testing.T) {
	drafts, err := PlainTextChunks("   \n\n  ", driven.ChunkerConfig{ChunkSizeTokens: 100}, 0)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestPlainTextChunks_ContiguousOrdinalsFromZero(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	drafts, err := PlainTextChunks(text, driven.ChunkerConfig{ChunkSizeTokens: 50, CountTokens: countByChars}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, drafts)
	for i, d := range drafts {
		assert.Equal(t, i, d.Ordinal)
		assert.NotEmpty(t, d.Text)
	}
}

func TestPlainTextChunks_StartOrdinalOffset(t *testing.T) {
	text := "one paragraph of modest length that stays under the ceiling easily."
	drafts, err := PlainTextChunks(text, driven.ChunkerConfig{ChunkSizeTokens: 512, CountTokens: countByChars}, 7)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, 7, drafts[0].Ordinal)
}

func TestPlainTextChunks_OverlapCarriesContext(t *testing.T) {
	paragraphs := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
		strings.Repeat("d", 40),
	}
	text := strings.Join(paragraphs, "\n\n")

	cfg := driven.ChunkerConfig{ChunkSizeTokens: 20, OverlapFraction: 0.5, CountTokens: countByChars}
	drafts, err := PlainTextChunks(text, cfg, 0)
	require.NoError(t, err)
	require.Greater(t, len(drafts), 1)

	// The last unit of one chunk should reappear at the head of the next,
	// since overlap carries the trailing paragraph forward.
	assert.Contains(t, drafts[1].Text, paragraphs[1])
}

func TestPlainTextChunks_NoOverlap(t *testing.T) {
	paragraphs := []string{strings.Repeat("a", 100), strings.Repeat("b", 100), strings.Repeat("c", 100)}
	text := strings.Join(paragraphs, "\n\n")

	cfg := driven.ChunkerConfig{ChunkSizeTokens: 25, OverlapFraction: 0, CountTokens: countByChars}
	drafts, err := PlainTextChunks(text, cfg, 0)
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, paragraphs[0], drafts[0].Text)
	assert.Equal(t, paragraphs[1], drafts[1].Text)
	assert.Equal(t, paragraphs[2], drafts[2].Text)
}

func TestPlainTextChunks_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	cfg := driven.ChunkerConfig{ChunkSizeTokens: 30, OverlapFraction: 0.1, CountTokens: countByChars}

	first, err := PlainTextChunks(text, cfg, 0)
	require.NoError(t, err)
	second, err := PlainTextChunks(text, cfg, 0)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Ordinal, second[i].Ordinal)
	}
}

func TestPlainText_Chunk_UsesPlainTextChunks(t *testing.T) {
	p := PlainText{}
	drafts, err := p.Chunk("src-1", []byte("hello world"), nil, driven.ChunkerConfig{ChunkSizeTokens: 100, CountTokens: countByChars})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "hello world", drafts[0].Text)
}

func TestSplitOversized_FallsBackToCharSplit(t *testing.T) {
	longSentence := strings.Repeat("a", 1000)
	out := splitOversized(longSentence, 10, countByChars)
	require.NotEmpty(t, out)
	for _, s := range out {
		assert.LessOrEqual(t, len(s), 40)
	}
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abcd"))
	assert.Equal(t, 2, approxTokens("abcde"))
}
