package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driving"
)

func newServeCmd(dbPath, projectRoot *string) *cobra.Command {
	var out string
	var hyde bool
	var mode string
	var featureSpecPath string
	var yes bool

	cmd := &cobra.Command{
		Use:   "serve <question>",
		Short: "Retrieve, assemble context, and generate a document in one shot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			a, err := buildApp(*dbPath, *projectRoot, yes)
			if err != nil {
				return err
			}
			defer a.Close()

			retCfg := a.retrieverConfig()
			if mode != "" {
				retCfg.Mode = parseModeFlag(mode)
			}
			retCfg.HydeEnabled = hyde || retCfg.HydeEnabled

			candidates, err := a.retriever.Retrieve(cmd.Context(), query, retCfg)
			if err != nil {
				return err
			}

			var featureSpec string
			if featureSpecPath != "" {
				raw, err := os.ReadFile(featureSpecPath)
				if err != nil {
					return fmt.Errorf("read feature spec %s: %w", featureSpecPath, err)
				}
				featureSpec = string(raw)
			}

			assembled, err := a.assembler.Assemble(cmd.Context(), query, candidates, a.assemblerConfig(featureSpec))
			if err != nil {
				return err
			}
			if assembled.BudgetWarning != "" {
				fmt.Fprintln(os.Stderr, "warning:", assembled.BudgetWarning)
			}

			report, err := a.generation.Generate(cmd.Context(), assembled, driving.GenerateRequest{
				Query:           query,
				OutputPath:      out,
				AutoConfirm:     yes,
				GenerationModel: a.cfg.Generation.Model,
			})
			if err != nil {
				return err
			}

			for _, c := range report.Conflicts {
				fmt.Fprintf(os.Stderr, "conflict: %s vs %s on %s\n", c.SourceA, c.SourceB, c.Topic)
			}
			fmt.Println(report.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "output.md", "output file path (relative paths are confined to --project-root)")
	cmd.Flags().BoolVar(&hyde, "hyde", false, "enable HyDE query expansion for the dense channel")
	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: hybrid, dense, bm25 (default from config)")
	cmd.Flags().StringVar(&featureSpecPath, "feature-spec", "", "path to an approved feature document to include in the prompt verbatim")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompts")
	return cmd
}

func parseModeFlag(mode string) domain.RetrievalMode {
	switch mode {
	case "dense":
		return domain.ModeDense
	case "bm25":
		return domain.ModeBM25
	default:
		return domain.ModeHybrid
	}
}
