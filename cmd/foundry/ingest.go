package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driving"
)

func newIngestCmd(dbPath, projectRoot *string) *cobra.Command {
	var sourceKind string
	var yes bool

	cmd := &cobra.Command{
		Use:   "ingest <path-or-url> [more...]",
		Short: "Ingest one or more sources into the knowledge store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*dbPath, *projectRoot, yes)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range args {
				report, err := a.ingester.Ingest(cmd.Context(), driving.IngestRequest{
					Path:        path,
					SourceKind:  sourceKind,
					AutoConfirm: yes,
				})
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				if report.Skipped {
					fmt.Printf("%s: unchanged, %d chunks\n", path, report.ChunkCount)
					continue
				}
				fmt.Printf("%s: %d chunks, %d LLM calls\n", path, report.ChunkCount, report.LLMCalls)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceKind, "kind", "", "override source-family detection (markdown, pdf, epub, plaintext, json, git, web, audio)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the cost-preview confirmation prompt")
	return cmd
}
