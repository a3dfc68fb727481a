package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lymbo"
	"lymbo/internal/model"
)

func init() {
	lymbo.Register(lymbo.Declaration{
		Path: "cmd_test_module", Function: "sample",
		Body: func(t *lymbo.T, args lymbo.Params) (any, error) { return nil, nil },
	})
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	if version != "1.2.3-test" {
		t.Errorf("version = %q, want 1.2.3-test", version)
	}
}

func TestRootCommandProperties(t *testing.T) {
	if rootCmd.Use != "lymbo [paths...]" {
		t.Errorf("Use = %q", rootCmd.Use)
	}
	if !rootCmd.SilenceUsage || !rootCmd.SilenceErrors {
		t.Error("expected SilenceUsage and SilenceErrors to both be true")
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"informational", informationalExit{}, ExitInformational},
		{"test failure", testFailureExit{}, ExitTestFailure},
		{"unexpected error", errors.New("wrap"), ExitTestFailure},
	}
	for _, tt := range tests {
		if got := exitCodeFor(tt.err); got != tt.want {
			t.Errorf("%s: exitCodeFor() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestIsRunOutcome(t *testing.T) {
	if !isRunOutcome(informationalExit{}) {
		t.Error("expected informationalExit to be a run outcome")
	}
	if !isRunOutcome(testFailureExit{}) {
		t.Error("expected testFailureExit to be a run outcome")
	}
	if isRunOutcome(errors.New("boom")) {
		t.Error("expected a generic error not to be a run outcome")
	}
}

func freshRootCmd() {
	rootCmd.ResetFlags()
	flags := rootCmd.Flags()
	flags.Bool("version", false, "")
	flags.Bool("collect", false, "")
	flags.String("groupby", "none", "")
	flags.String("report", "", "")
	flags.String("log-level", "info", "")
	flags.String("log", "", "")
	flags.String("report-failure", "simple", "")
	flags.Int("workers", 0, "")
	flags.String("filter", "", "")
	flags.String("config", "", "")
	flags.Bool("watch", false, "")
}

func TestResolveOptionsDefaults(t *testing.T) {
	freshRootCmd()
	opts, err := resolveOptions(rootCmd, nil)
	if err != nil {
		t.Fatalf("resolveOptions: %v", err)
	}
	if len(opts.paths) != 2 || opts.paths[0] != "test/" || opts.paths[1] != "tests/" {
		t.Errorf("paths = %v, want [test/ tests/]", opts.paths)
	}
	if opts.groupBy != model.GroupByNone {
		t.Errorf("groupBy = %v, want none", opts.groupBy)
	}
	if opts.reportFailure != model.ReportFailureSimple {
		t.Errorf("reportFailure = %v, want simple", opts.reportFailure)
	}
	if opts.workers < 1 {
		t.Errorf("workers = %d, want >= 1", opts.workers)
	}
	if opts.reportDir == "" {
		t.Error("expected a report directory to be created by default")
	}
	os.RemoveAll(opts.reportDir)
}

func TestResolveOptionsExplicitPaths(t *testing.T) {
	freshRootCmd()
	opts, err := resolveOptions(rootCmd, []string{"mysuite/"})
	if err != nil {
		t.Fatalf("resolveOptions: %v", err)
	}
	if len(opts.paths) != 1 || opts.paths[0] != "mysuite/" {
		t.Errorf("paths = %v, want [mysuite/]", opts.paths)
	}
	os.RemoveAll(opts.reportDir)
}

func TestResolveOptionsRejectsInvalidGroupBy(t *testing.T) {
	freshRootCmd()
	if err := rootCmd.Flags().Set("groupby", "bogus"); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveOptions(rootCmd, nil); err == nil {
		t.Error("expected an error for an invalid --groupby value")
	}
}

func TestResolveOptionsLayersConfigFile(t *testing.T) {
	freshRootCmd()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "lymbo.yaml")
	if err := os.WriteFile(cfgPath, []byte("groupby: module\nworkers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rootCmd.Flags().Set("config", cfgPath); err != nil {
		t.Fatal(err)
	}

	opts, err := resolveOptions(rootCmd, nil)
	if err != nil {
		t.Fatalf("resolveOptions: %v", err)
	}
	if opts.groupBy != model.GroupByModule {
		t.Errorf("groupBy = %v, want module (from config file)", opts.groupBy)
	}
	if opts.workers != 3 {
		t.Errorf("workers = %d, want 3 (from config file)", opts.workers)
	}
	os.RemoveAll(opts.reportDir)
}

func TestResolveOptionsFlagOverridesConfigFile(t *testing.T) {
	freshRootCmd()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "lymbo.yaml")
	if err := os.WriteFile(cfgPath, []byte("groupby: module\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rootCmd.Flags().Set("config", cfgPath); err != nil {
		t.Fatal(err)
	}
	if err := rootCmd.Flags().Set("groupby", "class"); err != nil {
		t.Fatal(err)
	}

	opts, err := resolveOptions(rootCmd, nil)
	if err != nil {
		t.Fatalf("resolveOptions: %v", err)
	}
	if opts.groupBy != model.GroupByClass {
		t.Errorf("groupBy = %v, want class (CLI flag overrides config file)", opts.groupBy)
	}
	os.RemoveAll(opts.reportDir)
}

func TestFilterByPaths(t *testing.T) {
	items := []*model.TestItem{
		{Path: "tests/test_a.py", DisplayName: "a"},
		{Path: "tests/test_b.py", DisplayName: "b"},
		{Path: "other/test_c.py", DisplayName: "c"},
	}

	got := filterByPaths(items, []string{"tests/"})
	if len(got) != 2 {
		t.Fatalf("expected 2 items under tests/, got %d", len(got))
	}
	for _, item := range got {
		if item.Path == "other/test_c.py" {
			t.Error("expected other/test_c.py to be excluded")
		}
	}
}

func TestRunOnceCollectOnlyReturnsNilWhenTestsFound(t *testing.T) {
	opts := resolvedOptions{paths: []string{"cmd_test_module"}}
	err := runOnce(context.Background(), opts, true)
	if err != nil {
		t.Errorf("expected nil (exit 0) when --collect finds tests, got %v", err)
	}
}

func TestRunOnceCollectOnlyReturnsInformationalWhenEmpty(t *testing.T) {
	opts := resolvedOptions{paths: []string{"no/such/path/"}}
	err := runOnce(context.Background(), opts, true)
	var info informationalExit
	if !errors.As(err, &info) {
		t.Errorf("expected informationalExit (exit 5) when --collect finds nothing, got %v", err)
	}
}

func TestFilterByPathsEmptyReturnsAll(t *testing.T) {
	items := []*model.TestItem{{Path: "tests/test_a.py"}}
	if got := filterByPaths(items, nil); len(got) != 1 {
		t.Errorf("expected all items with no path filter, got %d", len(got))
	}
}
