package chunkers

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// Markdown splits at heading boundaries (H1-H3); a preamble before the
// first heading becomes its own chunk; oversized sections and headingless
// documents fall back to the fixed-window strategy.
type Markdown struct{}

var _ driven.Chunker = Markdown{}

func (Markdown) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	if cfg.Strategy == "fixed_window" {
		return PlainTextChunks(string(raw), cfg, 0)
	}

	md := goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))
	reader := text.NewReader(raw)
	doc := md.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, raw, toc.MinDepth(1), toc.MaxDepth(3), toc.Compact(true))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "parse markdown table of contents", "", err)
	}

	if len(tree.Items) == 0 {
		return PlainTextChunks(string(raw), cfg, 0)
	}

	sections := extractSections(doc, raw, tree.Items)

	count := cfg.CountTokens
	if count == nil {
		count = approxTokens
	}
	ceiling := cfg.ChunkSizeTokens
	if ceiling <= 0 {
		ceiling = 512
	}

	var drafts []domain.ChunkDraft
	ordinal := 0

	if len(sections) > 0 && sections[0].isPreamble && strings.TrimSpace(sections[0].text) != "" {
		drafts = appendSection(drafts, sections[0], &ordinal)
		sections = sections[1:]
	}

	for _, sec := range sections {
		if count(sec.text) <= ceiling {
			drafts = appendSection(drafts, sec, &ordinal)
			continue
		}
		windowed, err := PlainTextChunks(sec.text, cfg, ordinal)
		if err != nil {
			return nil, err
		}
		for _, d := range windowed {
			d.Metadata = mergeMeta(d.Metadata, sec.metadata())
			drafts = append(drafts, d)
			ordinal++
		}
	}

	return drafts, nil
}

func appendSection(drafts []domain.ChunkDraft, sec markdownSection, ordinal *int) []domain.ChunkDraft {
	text := strings.TrimSpace(sec.text)
	if text == "" {
		return drafts
	}
	drafts = append(drafts, domain.ChunkDraft{Ordinal: *ordinal, Text: text, Metadata: sec.metadata()})
	*ordinal++
	return drafts
}

func mergeMeta(a, b map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

type markdownSection struct {
	headingTrail string
	text         string
	isPreamble   bool
}

func (s markdownSection) metadata() map[string]any {
	if s.isPreamble {
		return map[string]any{"section": "preamble"}
	}
	return map[string]any{"heading_trail": s.headingTrail}
}

// extractSections walks the TOC tree in document order and slices the raw
// source between consecutive heading boundaries. It returns the preamble
// (if any) as sections[0].
func extractSections(doc ast.Node, source []byte, items toc.Items) []markdownSection {
	type flatHeading struct {
		trail string
		id    string
	}
	var flat []flatHeading
	var walk func(items toc.Items, trail []string)
	walk = func(items toc.Items, trail []string) {
		for _, item := range items {
			path := append(append([]string{}, trail...), string(item.Title))
			flat = append(flat, flatHeading{trail: strings.Join(path, " > "), id: string(item.ID)})
			if len(item.Items) > 0 {
				walk(item.Items, path)
			}
		}
	}
	walk(items, nil)

	var headingNodes []ast.Node
	for _, h := range flat {
		headingNodes = append(headingNodes, findHeadingByID(doc, h.id))
	}

	// A heading node's first segment starts at its text, past the '#'
	// marker; back up to the start of that line so each section begins
	// with its heading line and nothing of it leaks into the section above.
	headingStart := func(n ast.Node) int {
		pos := n.Lines().At(0).Start
		for pos > 0 && source[pos-1] != '\n' {
			pos--
		}
		return pos
	}

	var sections []markdownSection
	if len(headingNodes) > 0 && headingNodes[0] != nil {
		start := headingStart(headingNodes[0])
		if start > 0 {
			sections = append(sections, markdownSection{text: string(source[:start]), isPreamble: true})
		}
	}

	for i, node := range headingNodes {
		if node == nil {
			continue
		}
		start := headingStart(node)
		end := len(source)
		if i+1 < len(headingNodes) && headingNodes[i+1] != nil {
			end = headingStart(headingNodes[i+1])
		}
		sections = append(sections, markdownSection{
			headingTrail: flat[i].trail,
			text:         string(source[start:end]),
		})
	}
	return sections
}

func findHeadingByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found != nil {
			return ast.WalkContinue, nil
		}
		if n.Kind() == ast.KindHeading {
			if attrID, ok := n.(*ast.Heading).AttributeString("id"); ok {
				if idBytes, ok := attrID.([]byte); ok && string(idBytes) == id {
					found = n
					return ast.WalkStop, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
