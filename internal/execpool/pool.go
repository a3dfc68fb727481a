// Package execpool implements component H of SPEC_FULL.md: the
// executor-process pool. Unlike internal/broker (which runs as
// goroutines inside the one controller process), this pool is a real
// set of re-exec'd OS processes — one started per dispatched group, at
// most maxWorkers alive at once; a subprocess exits when its group is
// done and is not reused for another group — because
// spec.md §8's "PID set observed across records" property is only a
// meaningful invariant if each record's captured PID is the PID of an
// actual OS process that ran it (SPEC_FULL.md §4.7).
package execpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sync/errgroup"

	"lymbo/internal/model"
)

// EnvExecutorMode, when set in a child's environment, tells main() to
// run as an executor subprocess instead of parsing CLI flags (spec.md
// §6's "broker-role marker", here repurposed as an executor-role marker
// under the asymmetric process model — see SPEC_FULL.md §4.7).
const EnvExecutorMode = "LYMBO_EXECUTOR"

// EnvReportDir carries the run's report directory (which doubles as the
// broker socket directory) into each re-exec'd child.
const (
	EnvReportDir = "LYMBO_REPORT_DIR"
)

// Group is one set of TestItems dispatched to a single executor
// subprocess as a unit (spec.md §4.8: "one group is handed to one
// worker as a unit").
type Group struct {
	Items []*model.TestItem
}

// Pool is the controller-side executor pool.
type Pool struct {
	binary     string
	reportDir  string
	maxWorkers int
	logf       func(format string, args ...any)
}

// New resolves the current binary's path (spec.md §9's "same binary,
// never rebuilt" remapping) and sizes the pool at maxWorkers, defaulting
// to the host CPU count per spec.md §4.8.
func New(reportDir string, maxWorkers int, logf func(string, ...any)) (*Pool, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("execpool: resolving executable: %w", err)
	}
	if maxWorkers < 1 {
		maxWorkers = runtime.NumCPU()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Pool{binary: bin, reportDir: reportDir, maxWorkers: maxWorkers, logf: logf}, nil
}

// Run dispatches every group to the pool, capped at maxWorkers
// concurrently in flight, draining results as they complete rather than
// waiting on the full set synchronously (spec.md §4.9 step 3: "do not
// wait synchronously on the executor futures"). `golang.org/x/sync/
// errgroup` supervises the pool's lifetime and surfaces the first
// unexpected *launch* error (the subprocess never started); a subprocess
// that starts and later crashes mid-group is logged as an abandoned
// group and does not fail the run (DESIGN.md's "worker crash mid-group"
// decision).
func (p *Pool) Run(ctx context.Context, groups []Group) error {
	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.maxWorkers)

	for _, group := range groups {
		group := group
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return g.Wait()
		}
		g.Go(func() error {
			defer func() { <-sem }()
			return p.runGroup(ctx, group)
		})
	}

	return g.Wait()
}

func (p *Pool) runGroup(ctx context.Context, group Group) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	payload, err := json.Marshal(group.Items)
	if err != nil {
		return fmt.Errorf("execpool: marshaling group: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.binary)
	cmd.Env = append(os.Environ(),
		EnvExecutorMode+"=1",
		EnvReportDir+"="+p.reportDir,
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("execpool: creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("execpool: creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("execpool: starting executor subprocess: %w", err)
	}

	if _, err := stdin.Write(payload); err != nil {
		p.logf("execpool: writing group to subprocess %d: %v", cmd.Process.Pid, err)
	}
	_ = stdin.Close()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		p.logf("execpool: pid %d: %s", cmd.Process.Pid, scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		p.logf("execpool: executor subprocess %d exited abnormally, group of %d item(s) abandoned: %v",
			cmd.Process.Pid, len(group.Items), err)
		return nil
	}
	return nil
}
