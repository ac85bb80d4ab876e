// Package generation implements the Generation Driver: invoking the
// Gateway with the assembled prompt, footnoting the result, and writing
// it atomically to disk.
package generation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driving"
)

// Confirmer asks whether an existing output file should be overwritten.
type Confirmer func(path string) bool

// Service is the concrete Generation Driver.
type Service struct {
	gateway     driven.Gateway
	projectRoot string
	confirm     Confirmer
}

var _ driving.Generator = (*Service)(nil)

// New builds a Generator. projectRoot confines relative output paths;
// confirm may be nil, in which case an existing file without AutoConfirm
// is refused.
func New(gateway driven.Gateway, projectRoot string, confirm Confirmer) *Service {
	return &Service{gateway: gateway, projectRoot: projectRoot, confirm: confirm}
}

func (s *Service) Generate(ctx context.Context, assembled domain.AssembledContext, req driving.GenerateRequest) (driving.GenerateReport, error) {
	raw, err := s.gateway.Complete(ctx, req.GenerationModel, []driven.ChatMessage{
		{Role: "user", Content: assembled.Prompt},
	}, driven.CompleteOptions{})
	if err != nil {
		return driving.GenerateReport{}, err
	}

	output := addAttribution(raw, assembled.Chunks)

	outPath, err := validateOutputPath(s.projectRoot, req.OutputPath)
	if err != nil {
		return driving.GenerateReport{}, err
	}

	if !req.AutoConfirm {
		if _, statErr := os.Stat(outPath); statErr == nil {
			if s.confirm == nil || !s.confirm(outPath) {
				return driving.GenerateReport{}, domain.NewError(domain.KindInterrupted,
					"overwrite not confirmed for "+outPath, "re-run with auto-confirm to skip this prompt", nil)
			}
		}
	}

	if err := atomicWrite(outPath, output); err != nil {
		return driving.GenerateReport{}, err
	}

	return driving.GenerateReport{Output: output, Conflicts: assembled.Conflicts}, nil
}

// addAttribution appends a footnote trailer, `[^N]: label` per packed
// chunk, preserving any [^N] references the model already emitted in its
// own output. The label is built by shortSourceLabel from the chunk's
// SourceID (its last path element), not from the Source's stored path.
func addAttribution(content string, chunks []domain.Chunk) string {
	if len(chunks) == 0 {
		return content
	}
	var footnotes []string
	for i, c := range chunks {
		label := shortSourceLabel(c)
		footnotes = append(footnotes, fmt.Sprintf("[^%d]: %s", i+1, label))
	}
	return strings.TrimRight(content, "\n") + "\n\n---\n\n" + strings.Join(footnotes, "\n")
}

func shortSourceLabel(c domain.Chunk) string {
	source := c.SourceID
	if idx := strings.LastIndexAny(source, "/\\"); idx >= 0 {
		source = source[idx+1:]
	}
	label := fmt.Sprintf("%s §chunk %d", source, c.Ordinal)
	if section, ok := c.Metadata["heading_trail"].(string); ok && section != "" {
		label = fmt.Sprintf("%s §%s", source, section)
	}
	return label
}

// validateOutputPath confines an output path, relative or absolute, to
// projectRoot, rejecting traversal outside of it.
func validateOutputPath(projectRoot, output string) (string, error) {
	base := projectRoot
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", domain.NewError(domain.KindPathTraversal, "resolve current directory", "", err)
		}
		base = wd
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return "", domain.NewError(domain.KindPathTraversal, "resolve output base directory", "", err)
	}

	var resolved string
	if filepath.IsAbs(output) {
		resolved = filepath.Clean(output)
	} else {
		resolved, err = filepath.Abs(filepath.Join(base, output))
		if err != nil {
			return "", domain.NewError(domain.KindPathTraversal, "resolve output path "+output, "", err)
		}
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.NewError(domain.KindPathTraversal,
			fmt.Sprintf("output path %q escapes the allowed directory", output),
			"choose a path inside the project root", nil)
	}
	return resolved, nil
}

// atomicWrite writes content to a temp file in path's directory, then
// renames it into place.
func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewError(domain.KindConfiguration, "create output directory "+dir, "", err)
	}

	tmp, err := os.CreateTemp(dir, ".foundry-output-*.tmp")
	if err != nil {
		return domain.NewError(domain.KindConfiguration, "create temp output file", "", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return domain.NewError(domain.KindConfiguration, "write temp output file", "", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.NewError(domain.KindConfiguration, "close temp output file", "", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return domain.NewError(domain.KindConfiguration, "rename output into place", "", err)
	}
	return nil
}
