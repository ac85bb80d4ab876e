package chunkers

import (
	"regexp"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// PlainText implements the fixed-window-plus-overlap chunker used
// directly for plain text sources and as the fallback tail of the
// markdown, web and audio chunkers.
type PlainText struct{}

var _ driven.Chunker = PlainText{}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)
var sentenceSplit = regexp.MustCompile(`(?:[.!?])\s+`)

func (PlainText) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	return PlainTextChunks(string(raw), cfg, 0)
}

// PlainTextChunks is exported so other chunkers (web, audio, markdown
// fallback) can reuse the same windowing over already-extracted text.
func PlainTextChunks(text string, cfg driven.ChunkerConfig, startOrdinal int) ([]domain.ChunkDraft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	count := cfg.CountTokens
	if count == nil {
		count = approxTokens
	}
	ceiling := cfg.ChunkSizeTokens
	if ceiling <= 0 {
		ceiling = 512
	}

	var units []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if count(p) > ceiling {
			units = append(units, splitOversized(p, ceiling, count)...)
			continue
		}
		units = append(units, p)
	}
	if len(units) == 0 {
		units = []string{text}
	}

	return windowSplit(units, cfg, startOrdinal, nil), nil
}

// splitOversized breaks a paragraph exceeding the ceiling into
// sentence-sized units so windowSplit never has to further subdivide a
// single unit.
func splitOversized(paragraph string, ceiling int, count func(string) int) []string {
	sentences := sentenceSplit.Split(paragraph, -1)
	var out []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if count(s) <= ceiling {
			out = append(out, s)
			continue
		}
		// Still too long (no sentence boundaries found): hard-split by
		// character count proportional to the token ceiling.
		charLimit := ceiling * 4
		for len(s) > charLimit {
			out = append(out, s[:charLimit])
			s = s[charLimit:]
		}
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{paragraph}
	}
	return out
}
