package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/config"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/tui"
)

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	noColor    bool
	outputMode string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "ghostwriter",
	Short: "Automated pull request review with cached, fallback-aware analysis stages",
	Long: `ghostwriter reviews code changes. Security and runtime stages run in
parallel, each trying its configured backends in order, and a synthesis stage
turns their findings into one review comment that is created once per pull
request and updated in place afterwards.

Backend results are cached by a fingerprint of the stage, backend and input,
so re-running an unchanged diff costs nothing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReviewFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

// errReviewFailed signals that a review completed but crossed --fail-on.
var errReviewFailed = errors.New("review did not pass")

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errReviewFailed):
		return 2
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./.ghostwriter.yaml, then ~/.config/ghostwriter/.ghostwriter.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "",
		"output mode (styled, plain, json); detected from the terminal when empty")
}

// newLoader returns a loader whose viper instance sees the global flags.
// Each command gets a fresh instance so flag bindings never leak between runs.
func newLoader() *config.Loader {
	v := viper.New()
	// Bind flags to viper (errors are nil when flag exists)
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := newLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// outputFor resolves the output mode and whether to use color.
func outputFor() (tui.OutputMode, bool) {
	d := tui.NewDetector().NoColor(noColor)
	if outputMode != "" {
		d.ForceMode(tui.ParseOutputMode(outputMode))
	}
	mode := d.Detect()
	return mode, mode == tui.ModeStyled && d.ShouldUseColor()
}

func printer(w io.Writer) (*tui.Printer, tui.OutputMode, bool) {
	mode, color := outputFor()
	return tui.NewPrinter(w, color), mode, color
}
