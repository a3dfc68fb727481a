// Package pipeline implements component I of SPEC_FULL.md: the
// controller that wires the scope registry (F), the broker (G), and the
// executor pool (H) together and drives one run end to end (spec.md
// §4.9).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"lymbo/internal/broker"
	"lymbo/internal/execpool"
	"lymbo/internal/model"
	"lymbo/internal/plan"
	"lymbo/internal/report"
	"lymbo/internal/scope"
)

// shutdownBudget bounds how long the controller waits for brokers to
// finish draining at the end of a run (spec.md §4.9 step 5).
const shutdownBudget = 30 * time.Second

// Options configures one run.
type Options struct {
	ReportDir  string
	GroupBy    model.GroupBy
	MaxWorkers int
	Logf       func(format string, args ...any)
}

// Result is everything a caller (the CLI, a test) needs after a run.
type Result struct {
	Items           []*model.TestItem
	DurationSeconds int
	Store           *report.Store
	AbandonedBroker bool
}

// Run executes spec.md §4.9's six-step startup/shutdown sequence over
// an already-collected item list.
func Run(ctx context.Context, items []*model.TestItem, opts Options) (*Result, error) {
	start := time.Now()
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	store, err := report.Open(opts.ReportDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening report store: %w", err)
	}

	// Step 1: build the scope registry from the plan.
	registry := scope.Build(items)

	// Step 2: start the broker pool and the executor pool, both sized
	// to max_workers (spec.md §4.8: "pool size defaults to the host CPU
	// count and may be overridden").
	brk, err := broker.New(registry, opts.ReportDir, opts.MaxWorkers, logf)
	if err != nil {
		return nil, fmt.Errorf("pipeline: starting broker: %w", err)
	}

	pool, err := execpool.New(opts.ReportDir, opts.MaxWorkers, logf)
	if err != nil {
		_ = brk.Close()
		return nil, fmt.Errorf("pipeline: starting executor pool: %w", err)
	}

	groups := plan.Build(items, opts.GroupBy)
	execGroups := make([]execpool.Group, len(groups))
	for i, g := range groups {
		execGroups[i] = execpool.Group{Items: g.Items}
	}

	// Step 3: submit every group; execpool.Pool.Run drains completions
	// as they happen rather than waiting on the full set synchronously.
	if err := pool.Run(ctx, execGroups); err != nil {
		logf("pipeline: executor pool reported a launch error: %v", err)
	}

	// Step 4: force the session bucket closed and drain brokers.
	brk.ForceSessionZero()

	// Step 5: wait for brokers with a hard 30s budget.
	abandoned := waitForBrokerShutdown(brk, logf)

	for _, item := range items {
		refreshFromStore(item, store)
	}

	return &Result{
		Items:           items,
		DurationSeconds: int(time.Since(start).Seconds()),
		Store:           store,
		AbandonedBroker: abandoned,
	}, nil
}

func waitForBrokerShutdown(brk *broker.Broker, logf func(string, ...any)) (abandoned bool) {
	done := make(chan error, 1)
	go func() { done <- brk.Close() }()

	select {
	case err := <-done:
		if err != nil {
			logf("pipeline: broker shutdown: %v", err)
		}
		return false
	case <-time.After(shutdownBudget):
		logf("pipeline: broker shutdown exceeded %s budget; teardowns abandoned", shutdownBudget)
		return true
	}
}

func refreshFromStore(item *model.TestItem, store *report.Store) {
	rec, err := store.Read(item.UUID)
	if err != nil {
		return
	}
	item.Status = rec.Test.Status
	item.Reason = rec.Test.Error.Reason
	item.ErrorMessage = rec.Test.Error.ErrorMessage
	item.Traceback = rec.Test.Error.Traceback
	item.Location = rec.Test.Error.Location
	item.Output = rec.Test.Output
	item.StartAt = rec.Test.StartAt
	item.EndAt = rec.Test.EndAt
}

// ExitStatus implements spec.md §6's exit-code rule for a finished run:
// 0 if every item passed, 1 if at least one is FAILED or BROKEN.
func ExitStatus(items []*model.TestItem) int {
	for _, item := range items {
		if item.Status == model.StatusFailed || item.Status == model.StatusBroken {
			return 1
		}
	}
	return 0
}
