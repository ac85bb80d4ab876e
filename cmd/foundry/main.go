// Command foundry ingests sources into a SQLite knowledge store and
// generates documents from hybrid retrieval over them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foundry-rag/internal/logger"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	var dbPath string
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "foundry",
		Short: "Retrieval-augmented generation over a local knowledge store",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetVerbose(verbose)
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug logging to stderr")
	cmd.PersistentFlags().StringVar(&dbPath, "db", ".foundry.db", "path to the knowledge store database")
	cmd.PersistentFlags().StringVar(&projectRoot, "project-root", "", "confine relative source and output paths to this directory (defaults to the working directory)")

	cmd.AddCommand(newIngestCmd(&dbPath, &projectRoot))
	cmd.AddCommand(newQueryCmd(&dbPath, &projectRoot))
	cmd.AddCommand(newServeCmd(&dbPath, &projectRoot))
	return cmd
}
