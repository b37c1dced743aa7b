package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"whistle-agent/internal/domain"
	"whistle-agent/internal/policyindex"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "policyindex",
		Short:        "Build and query the SQLite policy index",
		SilenceUsage: true,
	}
	root.AddCommand(newBuildCmd(), newSearchCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	var (
		corpus    string
		db        string
		chunkSize int
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Load a corpus and rebuild the index",
		Long: `Load policy passages and replace the content of the index.

--corpus accepts a JSONL file of {"doc_id","section","text"} records or a
directory of .txt files, which are chunked with section names chunk_0, chunk_1...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passages, err := loadPassages(cmd.OutOrStdout(), corpus, chunkSize)
			if err != nil {
				return err
			}
			idx, err := policyindex.OpenSQLite(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer idx.Close()

			if err := idx.Build(cmd.Context(), passages); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d passages into %s\n", len(passages), db)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpus, "corpus", "", "JSONL corpus file or directory of .txt files")
	cmd.Flags().StringVar(&db, "db", "data/policy_index.db", "SQLite index path")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", policyindex.DefaultChunkSize, "chunk size in characters for .txt input")
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}

func loadPassages(out io.Writer, path string, chunkSize int) ([]domain.PolicyPassage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return policyindex.LoadTextDir(path, chunkSize)
	}
	passages, stats, err := policyindex.LoadCorpusFile(path)
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		fmt.Fprintf(out, "skipped %d malformed records\n", stats.Skipped)
	}
	return passages, nil
}

func newSearchCmd() *cobra.Command {
	var (
		db    string
		docID string
		k     int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Print the passages ranked for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(db); err != nil {
				return err
			}
			idx, err := policyindex.OpenSQLite(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer idx.Close()

			results, err := idx.Search(cmd.Context(), strings.Join(args, " "), k, docID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "no passages found")
				return nil
			}
			for i, p := range results {
				fmt.Fprintf(out, "%d. %s %s (%.2f)\n   %s\n", i+1, p.DocID, p.Section, p.Score, p.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "data/policy_index.db", "SQLite index path")
	cmd.Flags().StringVar(&docID, "doc", "", "only search this document")
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of passages")
	return cmd
}
