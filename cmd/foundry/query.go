package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueryCmd(dbPath, projectRoot *string) *cobra.Command {
	var hyde bool
	var mode string
	var topK int

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Run hybrid retrieval and print the ranked chunks, without generating a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*dbPath, *projectRoot, true)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.retrieverConfig()
			if mode != "" {
				cfg.Mode = parseModeFlag(mode)
			}
			if topK > 0 {
				cfg.TopK = topK
			}
			cfg.HydeEnabled = hyde || cfg.HydeEnabled

			results, err := a.retriever.Retrieve(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			for i, r := range results {
				fmt.Printf("%d. [%s #%d] score=%.4f\n%s\n\n", i+1, r.Chunk.SourceID, r.Chunk.Ordinal, r.Score, truncate(r.Chunk.Text, 300))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hyde, "hyde", false, "enable HyDE query expansion for the dense channel")
	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: hybrid, dense, bm25 (default from config)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "override the number of chunks to return")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
