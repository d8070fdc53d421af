package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/query"
)

var (
	queryType     string
	queryLang1    string
	queryLang2    string
	queryFormat   string
	queryVariant  int
	queryIdx      int
	queryProgress bool
)

var queryCmd = &cobra.Command{
	Use:   "query <word> [word2]",
	Short: "Run a search and print the dashboard",
	Long: `Run a search over all tiles of the layout for the query type and print
the resulting dashboard.

Examples:
  wag query house
  wag query house home --type cmp
  wag query house --type translat --lang1 en --lang2 cs
  wag query house --variant 1        # switch to the second lemma variant
  wag query house --progress         # report tiles as they finish`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryType, "type", string(query.Single), "Query type: single, cmp or translat")
	queryCmd.Flags().StringVar(&queryLang1, "lang1", "", "Language of the query")
	queryCmd.Flags().StringVar(&queryLang2, "lang2", "", "Target language of a translation")
	queryCmd.Flags().StringVar(&queryFormat, "format", "human", "Output format (json, yaml, human)")
	queryCmd.Flags().IntVar(&queryVariant, "variant", -1, "Lemma variant to switch to after the search")
	queryCmd.Flags().IntVar(&queryIdx, "query-idx", 0, "Query the --variant applies to")
	queryCmd.Flags().BoolVar(&queryProgress, "progress", false, "Report tiles on stderr as they finish")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	qt, err := query.ParseType(queryType)
	if err != nil {
		return err
	}
	engine, _, logger, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := newContext()
	defer cancel()

	sess, err := engine.NewSession(qt)
	if err != nil {
		return err
	}
	defer sess.Close()

	var progress dashboard.ProgressFunc
	if queryProgress {
		progress = func(p dashboard.Progress) {
			if line := progressLine(p); line != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), line)
			}
		}
	}
	res, err := sess.SearchProgress(ctx, dashboard.Request{
		QueryType: qt,
		Queries:   args,
		Lang1:     queryLang1,
		Lang2:     queryLang2,
	}, progress)
	if err != nil {
		return err
	}
	if queryVariant >= 0 {
		logger.Debug("Switching lemma variant", map[string]interface{}{
			"queryIdx": queryIdx,
			"variant":  queryVariant,
		})
		if res, err = sess.ChangeLemma(ctx, queryIdx, queryVariant); err != nil {
			return err
		}
	}

	out, err := FormatResponse(res, OutputFormat(queryFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// progressLine describes one search step, partial data is not reported
func progressLine(p dashboard.Progress) string {
	switch p.Kind {
	case dashboard.ProgressRound:
		return fmt.Sprintf("round %d started", p.Round)
	case dashboard.ProgressTile:
		line := fmt.Sprintf("%s [%d] %s: %s", phaseIcon(p.Tile.Phase), p.Tile.ID, p.Tile.Name, p.Tile.Phase)
		if p.Tile.Error != "" {
			line += " - " + p.Tile.Error
		}
		return line
	case dashboard.ProgressMessage:
		return fmt.Sprintf("! %s: %s", p.Message.Type, p.Message.Text)
	}
	return ""
}
