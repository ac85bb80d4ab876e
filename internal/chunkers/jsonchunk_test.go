package chunkers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

func TestJSON_ObjectKeysSortedForDeterminism(t *testing.T) {
	raw := []byte(`{"zebra": 1, "apple": 2, "mango": 3}`)
	cfg := driven.ChunkerConfig{ChunkSizeTokens: 300, CountTokens: countByChars}

	j := JSON{}
	first, err := j.Chunk("src", raw, nil, cfg)
	require.NoError(t, err)
	second, err := j.Chunk("src", raw, nil, cfg)
	require.NoError(t, err)

	require.Len(t, first, 3)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Metadata["json_key"], second[i].Metadata["json_key"])
	}
	assert.Equal(t, "apple", first[0].Metadata["json_key"])
	assert.Equal(t, "mango", first[1].Metadata["json_key"])
	assert.Equal(t, "zebra", first[2].Metadata["json_key"])
}

func TestJSON_ArrayElementsIndexed(t *testing.T) {
	raw := []byte(`[{"a":1}, {"b":2}, {"c":3}]`)
	cfg := driven.ChunkerConfig{ChunkSizeTokens: 300, CountTokens: countByChars}

	j := JSON{}
	drafts, err := j.Chunk("src", raw, nil, cfg)
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	for i, d := range drafts {
		assert.Equal(t, i, d.Ordinal)
		assert.Equal(t, i, d.Metadata["json_index"])
	}
}

func TestJSON_OversizedElementIsWindowed(t *testing.T) {
	bigValue := strings.Repeat("word ", 200)
	raw, err := json.Marshal(map[string]any{"only": bigValue})
	require.NoError(t, err)

	cfg := driven.ChunkerConfig{ChunkSizeTokens: 20, CountTokens: countByChars}
	j := JSON{}
	drafts, err := j.Chunk("src", raw, nil, cfg)
	require.NoError(t, err)
	require.Greater(t, len(drafts), 1)
	for _, d := range drafts {
		assert.Equal(t, "only", d.Metadata["json_key"])
	}
}

func TestJSON_InvalidJSONErrors(t *testing.T) {
	j := JSON{}
	_, err := j.Chunk("src", []byte("{not json"), nil, driven.ChunkerConfig{})
	assert.Error(t, err)
}

func TestJSON_ContiguousOrdinals(t *testing.T) {
	raw := []byte(`["one", "two", "three"]`)
	j := JSON{}
	drafts, err := j.Chunk("src", raw, nil, driven.ChunkerConfig{ChunkSizeTokens: 100, CountTokens: countByChars})
	require.NoError(t, err)
	for i, d := range drafts {
		assert.Equal(t, i, d.Ordinal)
		assert.NotEmpty(t, d.Text)
	}
}
