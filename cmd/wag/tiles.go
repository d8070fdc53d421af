package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/czcorpus/wag-sub001/internal/api"
	"github.com/czcorpus/wag-sub001/internal/layout"
	"github.com/czcorpus/wag-sub001/internal/query"
)

var (
	tilesType     string
	tilesFormat   string
	tilesCorpname string
	tilesUILang   string
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Show the tile layout of a query type",
	RunE:  runTiles,
}

var tilesSourceCmd = &cobra.Command{
	Use:   "source <tile-id>",
	Short: "Describe the data source of a tile",
	Args:  cobra.ExactArgs(1),
	RunE:  runTilesSource,
}

func init() {
	tilesCmd.PersistentFlags().StringVar(&tilesType, "type", string(query.Single), "Query type: single, cmp or translat")
	tilesCmd.PersistentFlags().StringVar(&tilesFormat, "format", "human", "Output format (json, yaml, human)")
	tilesSourceCmd.Flags().StringVar(&tilesCorpname, "corpname", "", "Corpus to describe (default: the tile's own)")
	tilesSourceCmd.Flags().StringVar(&tilesUILang, "lang", "en", "Language of the description")

	tilesCmd.AddCommand(tilesSourceCmd)
	rootCmd.AddCommand(tilesCmd)
}

func runTiles(cmd *cobra.Command, args []string) error {
	qt, err := query.ParseType(tilesType)
	if err != nil {
		return err
	}
	engine, _, _, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	l, err := engine.Layout(qt)
	if err != nil {
		return err
	}
	out, err := FormatResponse(&api.TilesResponse{
		QueryType: l.QueryType,
		Tiles:     l.Tiles,
		TileTypes: layout.TileTypes(),
	}, OutputFormat(tilesFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runTilesSource(cmd *cobra.Command, args []string) error {
	tileID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid tile id %q", args[0])
	}
	qt, err := query.ParseType(tilesType)
	if err != nil {
		return err
	}
	engine, _, _, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := newContext()
	defer cancel()

	info, err := engine.SourceInfo(ctx, qt, tileID, tilesCorpname, tilesUILang)
	if err != nil {
		return err
	}
	out, err := FormatResponse(info, OutputFormat(tilesFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
