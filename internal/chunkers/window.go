// Package chunkers implements one Chunker per source family behind the
// shared driven.Chunker contract, dispatched by a Registry keyed on file
// extension, URL scheme or an explicit source kind.
package chunkers

import (
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// windowSplit is the fixed-window-with-overlap fallback shared by every
// family: it accumulates whitespace-delimited units (already assembled by
// the caller into per-unit strings, e.g. paragraphs, pages, JSON objects)
// into chunks that respect cfg.ChunkSizeTokens, carrying whole trailing
// units of the previous chunk (about the overlap fraction of the ceiling,
// see carryOverlap) into the next one. Overlap is measured in whole units;
// a unit is never split to hit the overlap size exactly.
func windowSplit(units []string, cfg driven.ChunkerConfig, startOrdinal int, metaFor func(unitIdx int) map[string]any) []domain.ChunkDraft {
	if len(units) == 0 {
		return nil
	}
	count := cfg.CountTokens
	if count == nil {
		count = approxTokens
	}
	ceiling := cfg.ChunkSizeTokens
	if ceiling <= 0 {
		ceiling = 512
	}

	var drafts []domain.ChunkDraft
	ordinal := startOrdinal

	var current []string
	var currentTokens int
	firstUnitIdx := 0

	flush := func(endUnitIdx int) {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "\n\n")
		meta := map[string]any{}
		if metaFor != nil {
			meta = metaFor(firstUnitIdx)
		}
		drafts = append(drafts, domain.ChunkDraft{Ordinal: ordinal, Text: text, Metadata: meta})
		ordinal++
	}

	overlapTokens := int(float64(ceiling) * cfg.OverlapFraction)

	for i, unit := range units {
		unitTokens := count(unit)
		if currentTokens > 0 && currentTokens+unitTokens > ceiling {
			flush(i - 1)
			if overlapTokens > 0 {
				current, currentTokens = carryOverlap(current, overlapTokens, count)
			} else {
				current, currentTokens = nil, 0
			}
			firstUnitIdx = i
		}
		if len(current) == 0 {
			firstUnitIdx = i
		}
		current = append(current, unit)
		currentTokens += unitTokens
	}
	flush(len(units) - 1)

	return drafts
}

// carryOverlap keeps the trailing units of prev whose cumulative token
// count does not exceed overlapTokens, so the next window starts with that
// context. The last unit is always kept, even when it alone exceeds
// overlapTokens.
func carryOverlap(prev []string, overlapTokens int, count func(string) int) ([]string, int) {
	var kept []string
	var total int
	for i := len(prev) - 1; i >= 0; i-- {
		t := count(prev[i])
		if total+t > overlapTokens && len(kept) > 0 {
			break
		}
		kept = append([]string{prev[i]}, kept...)
		total += t
	}
	return kept, total
}

// approxTokens is the fallback estimator used when no Gateway-backed
// counter is supplied to a chunker.
func approxTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
