package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/config"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/fsutil"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default .ghostwriter.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and GHOSTWRITER_*
environment overrides are merged. Credentials are never part of it: the file
only names the environment variables that hold them.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ".ghostwriter.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	path = filepath.Clean(path)

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(config.DefaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	_, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if used := loader.ConfigFile(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", used)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	// viper's merged settings keep durations as written ("24h").
	if err := enc.Encode(loader.Viper().AllSettings()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
