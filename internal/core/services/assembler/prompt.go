package assembler

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
)

// assemblePrompt renders the four sections in the fixed order: project
// brief, feature spec, source-summary background, then the untrusted
// <context> block of packed chunks. It returns the rendered prompt and
// its token count against cfg.GenerationModel.
func (s *Service) assemblePrompt(query string, packed []domain.Chunk, summaries []domain.SourceSummary, cfg domain.AssemblerConfig) (string, int, error) {
	countTokens := func(text string) int { return s.gateway.CountTokens(cfg.GenerationModel, text) }

	var sb strings.Builder

	if brief, ok := readProjectBrief(cfg.ProjectBriefPath, cfg.ProjectBriefMaxToken, countTokens); ok {
		sb.WriteString(brief)
		sb.WriteString("\n\n")
	}

	if cfg.FeatureSpec != "" {
		sb.WriteString(cfg.FeatureSpec)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Background from sources (max %d):\n", cfg.MaxSourceSummaries)
	for _, summary := range summaries {
		fmt.Fprintf(&sb, "- %s: %s\n", summary.SourceID, summary.SummaryText)
	}
	sb.WriteString("\n")

	sb.WriteString("<context>\n")
	sb.WriteString(untrustedDataInstruction)
	sb.WriteString("\n\n")
	for _, c := range packed {
		fmt.Fprintf(&sb, "[%s #%d]\n%s\n\n", c.SourceID, c.Ordinal, c.Text)
	}
	sb.WriteString("</context>\n\n")

	sb.WriteString("Query: ")
	sb.WriteString(query)

	prompt := sb.String()
	return prompt, countTokens(prompt), nil
}
