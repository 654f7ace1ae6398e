package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/fsutil"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/service"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review [diff-file]",
	Short: "Review a diff and deliver the report",
	Long: `Review a unified diff. The diff comes from a file, from stdin ("-" or no
argument with piped input) or from a pull request with --pr.

Pull request reviews are posted as a comment on the pull request. Local
reviews are written to the report directory, one file per --key.

Examples:
  # Review a local diff and write .ghostwriter/reports/<key>.md
  git diff main | ghostwriter review --key my-branch

  # Review a pull request and comment on it
  ghostwriter review --pr acme/api#42

  # Print the rendered comment without delivering it
  ghostwriter review changes.diff --dry-run --render`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

var (
	reviewPR       string
	reviewKey      string
	reviewStages   []string
	reviewSink     string
	reviewDryRun   bool
	reviewRender   bool
	reviewNoCache  bool
	reviewFailOn   string
	reviewRevision string
)

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().StringVar(&reviewPR, "pr", "",
		"pull request to review, as owner/repo#number")
	reviewCmd.Flags().StringVar(&reviewKey, "key", "",
		"event key for local diffs (default: the diff file name)")
	reviewCmd.Flags().StringSliceVar(&reviewStages, "stages", nil,
		"analysis stages to run (security, runtime); synthesis always runs")
	reviewCmd.Flags().StringVar(&reviewSink, "sink", "",
		"delivery sink (github, file); defaults to github for --pr and file otherwise")
	reviewCmd.Flags().BoolVar(&reviewDryRun, "dry-run", false,
		"run the pipeline but do not deliver the report")
	reviewCmd.Flags().BoolVar(&reviewRender, "render", false,
		"print the review comment rendered as markdown")
	reviewCmd.Flags().BoolVar(&reviewNoCache, "no-cache", false,
		"bypass the result cache")
	reviewCmd.Flags().StringVar(&reviewFailOn, "fail-on", "",
		"exit with status 2 when the review is at or below this status (warning, failed)")
	reviewCmd.Flags().StringVar(&reviewRevision, "revision", "",
		"revision recorded with the delivery, e.g. a commit SHA")
}

func runReview(cmd *cobra.Command, args []string) error {
	if reviewPR != "" && len(args) > 0 {
		return fmt.Errorf("pass either a diff file or --pr, not both")
	}
	if err := validateFailOn(reviewFailOn); err != nil {
		return err
	}
	stages, err := parseStages(reviewStages)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, appOptions{noCache: reviewNoCache})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	event := core.Event{Stages: stages, Revision: reviewRevision}
	sinkOpts := sinkOptions{kind: reviewSink}
	if reviewPR != "" {
		ref, err := core.ParsePullRef(reviewPR)
		if err != nil {
			return err
		}
		client, err := a.githubClient()
		if err != nil {
			return err
		}
		diff, err := fetchDiff(ctx, client, ref, logger.Warn)
		if err != nil {
			return err
		}
		event.Key, event.Input = ref.Key(), diff
		sinkOpts.gh = client
		if sinkOpts.kind == "" {
			sinkOpts.kind = "github"
		}
	} else {
		name, input, err := readDiff(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		event.Key, event.Input = localKey(reviewKey, name), input
		if sinkOpts.kind == "" {
			sinkOpts.kind = "file"
		}
	}

	var deliverer service.Deliverer
	if !reviewDryRun {
		guard, err := a.newGuard(sinkOpts)
		if err != nil {
			return err
		}
		deliverer = guard
	}

	out, err := service.NewReviewer(a.engine, deliverer, logger).Review(ctx, event)
	if err != nil && out == nil {
		return err
	}
	if perr := printOutcome(cmd.OutOrStdout(), out); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if failsThreshold(out.Report.Status, reviewFailOn) {
		return errReviewFailed
	}
	return nil
}

// diffFetcher is the part of the GitHub client review needs.
type diffFetcher interface {
	FetchDiff(ctx context.Context, ref core.PullRef) (string, error)
}

func fetchDiff(ctx context.Context, client diffFetcher, ref core.PullRef, warn func(string, ...any)) (string, error) {
	var diff string
	err := service.DefaultRetryPolicy().ExecuteWithNotify(ctx, func(ctx context.Context) error {
		d, err := client.FetchDiff(ctx, ref)
		if err != nil {
			return err
		}
		diff = d
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		warn("diff fetch failed, retrying", "pr", ref.Key(), "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", ref.Key(), err)
	}
	return diff, nil
}

// maxDiffBytes caps local diff input at the size GitHub allows for a webhook payload.
const maxDiffBytes = 25 << 20

// readDiff returns a display name and the diff. No argument or "-" reads stdin.
func readDiff(stdin io.Reader, args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, maxDiffBytes))
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			return "", "", core.ErrValidation(core.CodeInvalidEvent, "no diff on stdin")
		}
		return "stdin", string(data), nil
	}
	data, err := fsutil.ReadFileLimited(args[0], maxDiffBytes)
	if err != nil {
		return "", "", fmt.Errorf("reading diff: %w", err)
	}
	return filepath.Base(args[0]), string(data), nil
}

// localKey picks the event key of a local review.
func localKey(key, name string) string {
	if key != "" {
		return key
	}
	return "local/" + strings.TrimSuffix(name, filepath.Ext(name))
}

func parseStages(names []string) ([]core.StageID, error) {
	var ids []core.StageID
	for _, n := range names {
		id, err := core.ParseStageID(strings.TrimSpace(n))
		if err != nil {
			return nil, core.ErrValidation(core.CodeInvalidEvent, err.Error())
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validateFailOn(s string) error {
	switch s {
	case "", "warning", "failed":
		return nil
	default:
		return fmt.Errorf("invalid --fail-on %q: want warning or failed", s)
	}
}

// failsThreshold reports whether status is at or below the threshold.
func failsThreshold(status core.ResultStatus, threshold string) bool {
	switch threshold {
	case "warning":
		return status == core.ResultWarning || status == core.ResultFailed
	case "failed":
		return status == core.ResultFailed
	default:
		return false
	}
}

func printOutcome(w io.Writer, out *core.Outcome) error {
	p, mode, color := printer(w)
	if mode == tui.ModeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	p.Outcome(out)
	if !reviewRender && !reviewDryRun {
		return nil
	}
	body := out.Report.Body
	if reviewRender {
		rendered, err := tui.RenderMarkdown(body, tui.TerminalWidth(), color)
		if err != nil {
			return fmt.Errorf("rendering report: %w", err)
		}
		body = rendered
	}
	_, err := fmt.Fprintf(w, "\n%s\n", strings.TrimRight(body, "\n"))
	return err
}
