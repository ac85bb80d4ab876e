package chunkers

import (
	"encoding/json"
	"sort"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// JSON chunks a document at the top level: array elements or object keys
// each become a candidate chunk, serialised back to compact JSON text.
// Oversized elements are further windowed.
type JSON struct{}

var _ driven.Chunker = JSON{}

func (JSON) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	var top any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "parse JSON source", "the source must be valid JSON", err)
	}

	count := cfg.CountTokens
	if count == nil {
		count = approxTokens
	}
	ceiling := cfg.ChunkSizeTokens
	if ceiling <= 0 {
		ceiling = 300
	}

	var elements []jsonElement
	switch v := top.(type) {
	case []any:
		for i, item := range v {
			elements = append(elements, jsonElement{key: "", index: i, value: item})
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			elements = append(elements, jsonElement{key: k, value: v[k]})
		}
	default:
		elements = []jsonElement{{value: v}}
	}

	var drafts []domain.ChunkDraft
	ordinal := 0
	for _, el := range elements {
		text, err := marshalCompact(el.value)
		if err != nil {
			return nil, domain.NewError(domain.KindConfiguration, "re-serialise JSON element", "", err)
		}
		meta := map[string]any{}
		if el.key != "" {
			meta["json_key"] = el.key
		} else {
			meta["json_index"] = el.index
		}

		if count(text) <= ceiling {
			drafts = append(drafts, domain.ChunkDraft{Ordinal: ordinal, Text: text, Metadata: meta})
			ordinal++
			continue
		}

		windowed, err := PlainTextChunks(text, cfg, ordinal)
		if err != nil {
			return nil, err
		}
		for _, d := range windowed {
			d.Metadata = mergeMeta(d.Metadata, meta)
			drafts = append(drafts, d)
			ordinal++
		}
	}

	return drafts, nil
}

type jsonElement struct {
	key   string
	index int
	value any
}

func marshalCompact(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
