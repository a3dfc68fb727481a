// Package cmd implements component J of SPEC_FULL.md: a thin cobra
// front-end wiring the CLI surface in spec.md §6 onto the pipeline,
// adapted from the teacher's cmd/root.go (exit-code-by-error-type
// dispatch via errors.As) and internal/cli/executor.go (spinner shown
// only on a real terminal).
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"lymbo/internal/cliconfig"
	"lymbo/internal/collect"
	"lymbo/internal/model"
	"lymbo/internal/pipeline"
	"lymbo/internal/plan"
	"lymbo/internal/render"
	"lymbo/pkg/logging"
)

// Exit codes for the lymbo CLI (spec.md §6).
const (
	ExitSuccess       = 0
	ExitTestFailure   = 1
	ExitInformational = 5
)

// informationalExit marks the "print something and stop" paths
// (--version, and a run or --collect that collected no tests; a --collect
// listing that found tests returns nil) that spec.md §6 assigns
// exit code 5, distinct from a genuine test-run failure (exit 1) or an
// unexpected error (also exit 1, the default). Generalizes the
// teacher's typed-error-plus-errors.As dispatch in cmd/root.go's
// getExitCode from muster's three auth codes to lymbo's
// success/failure/informational triple.
type informationalExit struct{}

func (informationalExit) Error() string { return "informational exit" }

// testFailureExit signals that the run completed but at least one item
// ended FAILED or BROKEN.
type testFailureExit struct{}

func (testFailureExit) Error() string { return "one or more tests failed" }

// isRunOutcome reports whether err is one of runOnce's two expected
// non-nil outcomes (a failed test, or an informational stop) rather
// than an unexpected error — used by --watch to keep watching across
// outcomes a single run would otherwise exit nonzero for.
func isRunOutcome(err error) bool {
	var info informationalExit
	var failed testFailureExit
	return errors.As(err, &info) || errors.As(err, &failed)
}

var rootCmd = &cobra.Command{
	Use:   "lymbo [paths...]",
	Short: "Run lymbo test suites in parallel",
	Long: `lymbo collects declared tests, groups them per --groupby, and runs
each group in its own executor subprocess, sharing scoped resources
through a broker held by the controller process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

var version = "dev"

// SetVersion sets the build-time version string, injected from main via
// ldflags the same way the teacher's cmd.SetVersion does.
func SetVersion(v string) { version = v }

// Execute is the CLI entry point called from main.main().
func Execute() {
	err := rootCmd.Execute()
	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var info informationalExit
	if errors.As(err, &info) {
		return ExitInformational
	}

	var failed testFailureExit
	if errors.As(err, &failed) {
		return ExitTestFailure
	}

	fmt.Fprintln(os.Stderr, err)
	return ExitTestFailure
}

func init() {
	flags := rootCmd.Flags()
	flags.Bool("version", false, "print version and exit")
	flags.Bool("collect", false, "print the test plan and exit, without running anything")
	flags.String("groupby", "none", "group tests for dispatch: none|module|class|function")
	flags.String("report", "", "report directory (default: a newly created temporary directory)")
	flags.String("log-level", "info", "notset|debug|info|warning|error|critical")
	flags.String("log", "", "additionally write logs to this file")
	flags.String("report-failure", "simple", "failure rendering detail: none|simple|normal|full")
	flags.Int("workers", 0, "executor subprocess count (default: host CPU count)")
	flags.String("filter", "", "boolean filter expression over test display names (§4.4)")
	flags.String("config", "", "YAML file supplying defaults for the flags above")
	flags.Bool("watch", false, "re-run collection and the pipeline whenever a watched path changes")
}

// resolvedOptions is the fully layered view of one invocation: built-in
// flag defaults, overridden by --config, overridden by whatever the user
// actually passed on the command line (spec.md §6 + SPEC_FULL.md §4.10's
// "file defaults, CLI overrides" layering).
type resolvedOptions struct {
	paths         []string
	groupBy       model.GroupBy
	reportDir     string
	logLevel      logging.Level
	logFile       string
	reportFailure model.ReportFailure
	workers       int
	filter        string
	watch         bool
}

func resolveOptions(cmd *cobra.Command, args []string) (resolvedOptions, error) {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	defaults, err := cliconfig.Load(configPath)
	if err != nil {
		return resolvedOptions{}, err
	}

	opts := resolvedOptions{paths: args}
	if len(opts.paths) == 0 {
		opts.paths = []string{"test/", "tests/"}
	}

	groupByStr := flagOr(flags, "groupby", string(defaults.GroupBy))
	groupBy, ok := model.ParseGroupBy(groupByStr)
	if !ok {
		return resolvedOptions{}, fmt.Errorf("invalid --groupby %q", groupByStr)
	}
	opts.groupBy = groupBy

	opts.reportDir = flagOr(flags, "report", defaults.Report)
	if opts.reportDir == "" {
		dir, err := os.MkdirTemp("", "lymbo-report-")
		if err != nil {
			return resolvedOptions{}, fmt.Errorf("creating report directory: %w", err)
		}
		opts.reportDir = dir
	}

	opts.logLevel = logging.ParseLevel(flagOr(flags, "log-level", defaults.LogLevel))
	opts.logFile = flagOr(flags, "log", defaults.Log)

	reportFailureStr := flagOr(flags, "report-failure", string(defaults.ReportFailure))
	reportFailure, ok := model.ParseReportFailure(reportFailureStr)
	if !ok {
		return resolvedOptions{}, fmt.Errorf("invalid --report-failure %q", reportFailureStr)
	}
	opts.reportFailure = reportFailure

	opts.workers, _ = flags.GetInt("workers")
	if opts.workers == 0 {
		opts.workers = defaults.Workers
	}
	if opts.workers <= 0 {
		opts.workers = runtime.NumCPU()
	}

	opts.filter = flagOr(flags, "filter", defaults.Filter)
	opts.watch, _ = flags.GetBool("watch")

	return opts, nil
}

// flagOr returns the flag's own value whenever the user explicitly set
// it on the command line, or when the config file supplied nothing;
// otherwise the config-file default wins.
func flagOr(flags *pflag.FlagSet, name, configDefault string) string {
	if flags.Changed(name) || configDefault == "" {
		v, _ := flags.GetString(name)
		return v
	}
	return configDefault
}

func runRoot(cmd *cobra.Command, args []string) error {
	if versionRequested, _ := cmd.Flags().GetBool("version"); versionRequested {
		fmt.Println("lymbo version " + version)
		return informationalExit{}
	}

	opts, err := resolveOptions(cmd, args)
	if err != nil {
		return err
	}

	closer, err := logging.Init(opts.logLevel, os.Stderr, opts.logFile, false)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer closer.Close()

	collectOnly, _ := cmd.Flags().GetBool("collect")

	if opts.watch {
		return runWatch(cmd.Context(), opts, collectOnly)
	}
	return runOnce(cmd.Context(), opts, collectOnly)
}

func runOnce(ctx context.Context, opts resolvedOptions, collectOnly bool) error {
	items, err := collect.FromRegistry(opts.filter)
	if err != nil {
		return fmt.Errorf("collecting tests: %w", err)
	}
	items = filterByPaths(items, opts.paths)

	groups := plan.Build(items, opts.groupBy)

	if collectOnly {
		view := plan.BuildPlanView(groups, opts.groupBy)
		render.Plan(os.Stdout, view)
		if len(items) == 0 {
			return informationalExit{}
		}
		return nil
	}

	if len(items) == 0 {
		fmt.Println("no tests collected")
		return informationalExit{}
	}

	stop := startSpinner(fmt.Sprintf("running %d tests across %d group(s)...", len(items), len(groups)))
	result, err := pipeline.Run(ctx, items, pipeline.Options{
		ReportDir:  opts.reportDir,
		GroupBy:    opts.groupBy,
		MaxWorkers: opts.workers,
		Logf:       logging.Printf("pipeline"),
	})
	stop()
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	statusView := plan.BuildStatusView(result.Items, result.Store)
	render.Status(os.Stdout, statusView, result.Items, opts.reportFailure)

	if pipeline.ExitStatus(result.Items) != 0 {
		return testFailureExit{}
	}
	return nil
}

func filterByPaths(items []*model.TestItem, paths []string) []*model.TestItem {
	if len(paths) == 0 {
		return items
	}
	var filtered []*model.TestItem
	for _, item := range items {
		for _, p := range paths {
			if strings.HasPrefix(item.Path, p) || strings.HasPrefix(p, item.Path) {
				filtered = append(filtered, item)
				break
			}
		}
	}
	return filtered
}

// startSpinner shows a progress spinner only when stdout is a real
// terminal (SPEC_FULL.md §4.10: "suppressed otherwise (CI-safe)"),
// mirroring the teacher's internal/cli/executor.go spinner idiom.
func startSpinner(suffix string) (stop func()) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}
