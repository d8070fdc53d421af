package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/czcorpus/wag-sub001/internal/config"
)

var (
	configFormat string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage WaG configuration",
	Long:  "Create, view and check the WaG configuration stored in " + config.DefaultFileName,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration, defaults and environment
overrides included.

Examples:
  wag config show                 # JSON
  wag config show --format toml   # TOML
  wag config show --format yaml   # YAML`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration",
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringVar(&configFormat, "format", "json", "Output format (json, toml, yaml)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultFileName
	if len(args) > 0 {
		path = args[0]
	}
	// Never overwrite silently
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	out, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// renderConfig renders cfg as json, toml or yaml
func renderConfig(cfg *config.Config, format string) (string, error) {
	switch format {
	case "toml":
		data, err := cfg.MarshalTOML()
		if err != nil {
			return "", err
		}
		return string(data), nil
	// json and yaml share the response formatter
	case "json", "yaml":
		return FormatResponse(cfg, OutputFormat(format))
	}
	return "", fmt.Errorf("unsupported format: %s", format)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src := cfg.Path()
	if src == "" {
		src = "defaults"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration is valid (%s): %d tiles, %d layouts\n",
		src, len(cfg.Tiles), len(cfg.Layouts))
	return nil
}
