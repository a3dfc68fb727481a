package execpool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"lymbo/internal/broker"
	"lymbo/internal/model"
	"lymbo/internal/registry"
	"lymbo/internal/report"
)

// RunExecutor is the entry point a re-exec'd child runs instead of the
// normal CLI (main checks EnvExecutorMode before parsing flags). It
// reads its assigned group from stdin, runs every item in strict
// program order (spec.md §5: "tests within a group are strictly
// sequential"), and exits 0 regardless of individual test outcomes — a
// nonzero exit here means the harness itself faulted, not that a test
// failed (spec.md §4.8's final paragraph: harness-step exceptions mark
// BROKEN, they don't crash the process).
func RunExecutor(stdin io.Reader, reportDir string) error {
	var items []*model.TestItem
	data, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("execpool: reading group from stdin: %w", err)
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("execpool: decoding group: %w", err)
	}

	store, err := report.Open(reportDir)
	if err != nil {
		return fmt.Errorf("execpool: opening report store: %w", err)
	}

	client, err := broker.Dial(reportDir)
	if err != nil {
		return fmt.Errorf("execpool: dialing broker: %w", err)
	}
	defer client.Close()

	pid := os.Getpid()
	for _, item := range items {
		runOne(item, pid, client, store)
	}
	return nil
}

// runOne implements spec.md §4.8's per-test execution steps 1-8.
// Harness-level faults (unknown declaration, panics from the test body)
// mark the item BROKEN rather than crashing the worker, since one bad
// test must never abandon the rest of its group.
func runOne(item *model.TestItem, pid int, client *broker.Client, store *report.Store) {
	item.StartAt = time.Now()
	item.Status = model.StatusInProgress
	item.PID = pid

	decl, ok := registry.Lookup(item.Path, item.Class, item.Function)
	if !ok {
		finish(item, store, client, model.StatusBroken, "harness",
			[]string{fmt.Sprintf("no declaration registered for %s", item.DisplayName)})
		return
	}

	// decl.ArgSpecs is empty for a bare test() with no args() call at
	// all; internal/collect treats that as one argument-less case at
	// index 0 with no Expected, so only index into a non-empty slice.
	var expected *model.Expected
	if len(decl.ArgSpecs) > 0 && item.ArgSpecIndex >= 0 && item.ArgSpecIndex < len(decl.ArgSpecs) {
		expected = decl.ArgSpecs[item.ArgSpecIndex].Expected
	}

	output, result, err := captureAndInvoke(decl.Fn, client, item)

	status, reason, messages := model.Classify(expected, result, err)
	item.Output = output
	if status == model.StatusFailed || status == model.StatusBroken {
		item.Location = model.CaptureLocation(decl.Fn)
	}
	finish(item, store, client, status, reason, messages)
}

// captureAndInvoke redirects the process's real stdout/stderr into an
// os.Pipe for the duration of one test body call (spec.md §4.8 step 3;
// SPEC_FULL.md §4.8: "the Go idiom for capturing fd 1/2 of the current
// process, since a test body here is an in-process function call inside
// the executor subprocess, not a further child process"), recovering
// from a panicking test body and turning it into a harness-fault error
// rather than letting it crash the worker.
func captureAndInvoke(fn registry.TestFunc, client *broker.Client, item *model.TestItem) (output string, result any, err error) {
	stdoutR, stdoutW, perr := os.Pipe()
	if perr != nil {
		return "", nil, fmt.Errorf("execpool: creating output pipe: %w", perr)
	}
	stderrR, stderrW, perr := os.Pipe()
	if perr != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return "", nil, fmt.Errorf("execpool: creating error output pipe: %w", perr)
	}
	realStdout, realStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = stdoutW, stderrW

	done := make(chan struct{}, 2)
	var buf, errBuf bytes.Buffer
	go func() {
		_, _ = io.Copy(&buf, stdoutR)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(&errBuf, stderrR)
		done <- struct{}{}
	}()

	defer func() {
		os.Stdout, os.Stderr = realStdout, realStderr
		_ = stdoutW.Close()
		_ = stderrW.Close()
		<-done
		<-done
		output = buf.String() + errBuf.String()

		if r := recover(); r != nil {
			err = fmt.Errorf("execpool: test body panicked: %v", r)
		}
	}()

	t := registry.NewT(client, item.Scopes)
	result, err = fn(t, item.Parameters)
	return output, result, err
}

// finish persists the final record, decrements the item's scope counts
// (spec.md §4.8 step 8, "regardless of outcome"), and prints the
// single-character progress token the controller tails for live status.
func finish(item *model.TestItem, store *report.Store, client *broker.Client, status model.Status, reason string, messages []string) {
	item.EndAt = time.Now()
	item.Status = status
	item.Reason = reason
	item.ErrorMessage = messages

	if err := store.Write(item); err != nil {
		fmt.Fprintf(os.Stderr, "execpool: writing report for %s: %v\n", item.UUID, err)
	}

	if err := client.Decrement(item.Scopes); err != nil {
		fmt.Fprintf(os.Stderr, "execpool: decrementing scopes for %s: %v\n", item.UUID, err)
	}

	fmt.Println(progressToken(status))
}

func progressToken(status model.Status) string {
	switch status {
	case model.StatusPassed:
		return "P"
	case model.StatusFailed:
		return "F"
	default:
		return "B"
	}
}
