package chunkers

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// PDF does a best-effort scan of PDF stream objects for text-showing
// operators; full PDF object-graph parsing (fonts, encodings, layout) is
// out of scope. Extracted text is accumulated per page and then windowed.
type PDF struct{}

var _ driven.Chunker = PDF{}

var (
	pdfStreamPattern = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
	pdfTextPattern   = regexp.MustCompile(`\((?:[^()\\]|\\.)*\)\s*Tj|\[(?:[^\[\]]*)\]\s*TJ`)
	pdfPagePattern   = regexp.MustCompile(`/Type\s*/Page[^s]`)
	pdfEscape        = regexp.MustCompile(`\\(.)`)
)

func (PDF) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	pageCount := len(pdfPagePattern.FindAll(raw, -1))
	if pageCount == 0 {
		pageCount = 1
	}

	var pages []string
	streams := pdfStreamPattern.FindAllSubmatch(raw, -1)
	perPage := extractPageText(streams)
	if len(perPage) == 0 {
		return nil, domain.NewError(domain.KindConfiguration, "extract text from PDF", "the file may be image-only or use an unsupported encoding", nil)
	}
	pages = perPage

	units := make([]string, 0, len(pages))
	for _, p := range pages {
		p = strings.TrimSpace(p)
		if p != "" {
			units = append(units, p)
		}
	}
	if len(units) == 0 {
		return nil, nil
	}

	return windowSplit(units, cfg, 0, nil), nil
}

// extractPageText decodes each stream object (inflating FlateDecode
// streams where present) and pulls text out of Tj/TJ show-text operators,
// one accumulated string per stream taken as a page proxy.
func extractPageText(streams [][][]byte) []string {
	var pages []string
	for _, m := range streams {
		body := m[1]
		if decoded, ok := tryInflate(body); ok {
			body = decoded
		}
		var sb strings.Builder
		for _, tok := range pdfTextPattern.FindAll(body, -1) {
			sb.WriteString(decodePDFString(tok))
			sb.WriteString(" ")
		}
		text := strings.TrimSpace(sb.String())
		if text != "" {
			pages = append(pages, text)
		}
	}
	return pages
}

func tryInflate(body []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}
	return out, true
}

func decodePDFString(operand []byte) string {
	s := string(operand)
	start := strings.IndexByte(s, '(')
	end := strings.LastIndexByte(s, ')')
	if start < 0 || end <= start {
		return ""
	}
	inner := s[start+1 : end]
	return pdfEscape.ReplaceAllString(inner, "$1")
}
