package chunkers

import (
	"path/filepath"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// Family names index both the Registry and the per-family configuration
// under chunkers.<family> in the layered YAML config.
const (
	FamilyMarkdown  = "markdown"
	FamilyPDF       = "pdf"
	FamilyEPUB      = "epub"
	FamilyPlainText = "plaintext"
	FamilyJSON      = "json"
	FamilyGit       = "git"
	FamilyWeb       = "web"
	FamilyAudio     = "audio"
)

// Registry dispatches a source to its Chunker by family name. Dispatch is
// a pure function of file extension, URL scheme or an explicit metadata
// hint; it never inspects file content to decide which chunker to run.
type Registry struct {
	chunkers map[string]driven.Chunker
}

// NewRegistry builds the default registry. audio is supplied separately
// since it is the only family that needs a Gateway.
func NewRegistry(audio driven.Chunker) *Registry {
	return &Registry{
		chunkers: map[string]driven.Chunker{
			FamilyMarkdown:  Markdown{},
			FamilyPDF:       PDF{},
			FamilyEPUB:      EPUB{},
			FamilyPlainText: PlainText{},
			FamilyJSON:      JSON{},
			FamilyGit:       Git{},
			FamilyWeb:       Web{},
			FamilyAudio:     audio,
		},
	}
}

// Lookup returns the Chunker registered for family, and whether one was
// found.
func (r *Registry) Lookup(family string) (driven.Chunker, bool) {
	c, ok := r.chunkers[family]
	return c, ok
}

// DetectFamily maps a source path or URL to a chunker family by
// extension, URL scheme, or an explicit sourceKind override (e.g. "git"
// for a bare directory path that is a git working copy).
func DetectFamily(pathOrURL string, sourceKind string) string {
	if sourceKind != "" {
		return sourceKind
	}
	if strings.HasPrefix(pathOrURL, "https://") || strings.HasPrefix(pathOrURL, "http://") {
		return FamilyWeb
	}
	if strings.Contains(pathOrURL, "://") || strings.HasPrefix(pathOrURL, "git@") {
		return FamilyGit
	}

	switch strings.ToLower(filepath.Ext(pathOrURL)) {
	case ".md", ".markdown":
		return FamilyMarkdown
	case ".pdf":
		return FamilyPDF
	case ".epub":
		return FamilyEPUB
	case ".json":
		return FamilyJSON
	case ".txt":
		return FamilyPlainText
	case ".mp3", ".wav", ".m4a", ".flac", ".ogg":
		return FamilyAudio
	default:
		return FamilyPlainText
	}
}
