package chunkers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

func TestMarkdown_SplitsAtHeadingBoundaries(t *testing.T) {
	doc := "# Title\n\nIntro paragraph.\n\n## Section A\n\nContent A.\n\n## Section B\n\nContent B.\n"
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 512, CountTokens: countByChars})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(drafts), 3)

	var trails []string
	for _, d := range drafts {
		if trail, ok := d.Metadata["heading_trail"].(string); ok {
			trails = append(trails, trail)
		}
	}
	assert.Contains(t, trails, "Title > Section A")
	assert.Contains(t, trails, "Title > Section B")
}

func TestMarkdown_PreambleBecomesOwnChunk(t *testing.T) {
	doc := "This is a preamble before any heading.\n\n# First Heading\n\nBody text.\n"
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 512, CountTokens: countByChars})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)
	assert.Equal(t, "preamble", drafts[0].Metadata["section"])
	assert.Contains(t, drafts[0].Text, "preamble before any heading")
}

func TestMarkdown_NoHeadingsFallsBackToFixedWindow(t *testing.T) {
	doc := strings.Repeat("plain text with no headings at all. ", 50)
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 50, CountTokens: countByChars})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)
	for _, d := range drafts {
		_, hasTrail := d.Metadata["heading_trail"]
		assert.False(t, hasTrail)
	}
}

func TestMarkdown_FixedWindowStrategyOverride(t *testing.T) {
	doc := "# Heading\n\nSome content that would normally split at the heading.\n"
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 512, Strategy: "fixed_window", CountTokens: countByChars})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)
	for _, d := range drafts {
		_, hasTrail := d.Metadata["heading_trail"]
		assert.False(t, hasTrail)
	}
}

func TestMarkdown_OversizedSectionIsWindowed(t *testing.T) {
	body := strings.Repeat("word ", 500)
	doc := "# Big Section\n\n" + body
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 20, CountTokens: countByChars})
	require.NoError(t, err)
	require.Greater(t, len(drafts), 1)
	for _, d := range drafts {
		assert.Equal(t, "Big Section", d.Metadata["heading_trail"])
	}
}

func TestMarkdown_ContentDoesNotPrefixHeaderPath(t *testing.T) {
	doc := "# Title\n\n## Section A\n\nActual body text only.\n"
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 512, CountTokens: countByChars})
	require.NoError(t, err)
	for _, d := range drafts {
		if trail, ok := d.Metadata["heading_trail"].(string); ok && trail == "Title > Section A" {
			assert.NotContains(t, d.Text, "Title > Section A")
		}
	}
}

func TestMarkdown_ContiguousOrdinals(t *testing.T) {
	doc := "# A\n\ntext a\n\n# B\n\ntext b\n\n# C\n\ntext c\n"
	m := Markdown{}
	drafts, err := m.Chunk("src", []byte(doc), nil, driven.ChunkerConfig{ChunkSizeTokens: 512, CountTokens: countByChars})
	require.NoError(t, err)
	for i, d := range drafts {
		assert.Equal(t, i, d.Ordinal)
	}
}
