package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/czcorpus/wag-sub001/internal/backends/freqdb"
)

var freqdbCmd = &cobra.Command{
	Use:   "freqdb",
	Short: "Manage the word frequency database",
}

var freqdbImportCmd = &cobra.Command{
	Use:   "import <file.tsv>",
	Short: "Import word frequencies",
	Long: `Import word frequencies from a tab separated file with the columns
form, lemma, PoS, count and ARF. A file of "-" reads stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runFreqdbImport,
}

func init() {
	freqdbCmd.AddCommand(freqdbImportCmd)
	rootCmd.AddCommand(freqdbCmd)
}

func runFreqdbImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.FreqDB.Path == "" {
		return fmt.Errorf("freqDB.path is not configured")
	}
	logger := newLogger(cfg)

	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	db, err := freqdb.Open(cfg.FreqDB.Path, cfg.FreqDB.CorpusSize, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := newContext()
	defer cancel()

	n, err := db.ImportTSV(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d words into %s\n", n, cfg.FreqDB.Path)
	return nil
}
