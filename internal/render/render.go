// Package render turns plan/status views into terminal tables, adapted
// from the teacher's internal/formatting table formatter (go-pretty's
// table.Writer + text color helpers), narrowed to lymbo's two view
// types instead of muster's generic MCP tool/resource/prompt listings.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"lymbo/internal/model"
	"lymbo/internal/plan"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// Plan renders a collection-mode (--collect) plan listing: one row per
// test, grouped as plan.BuildPlanView computed it.
func Plan(w io.Writer, view plan.PlanView) {
	t := newTable(w)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("GROUP"),
		text.FgHiCyan.Sprint("TEST"),
	})
	for _, row := range view.Rows {
		t.AppendRow(table.Row{row.GroupIndex, row.DisplayName})
	}
	t.Render()
	fmt.Fprintf(w, "\n%s %s %s (grouped by %s)\n",
		text.FgHiBlue.Sprint("Total:"),
		text.FgHiWhite.Sprint(len(view.Rows)),
		text.FgHiBlue.Sprint("tests"),
		view.GroupBy)
}

// Status renders the end-of-run status table and summary line, then,
// for every FAILED/BROKEN item, a failure block whose depth is
// controlled by failureDetail (spec.md §7: none/simple/normal/full).
func Status(w io.Writer, view plan.StatusView, items []*model.TestItem, failureDetail model.ReportFailure) {
	t := newTable(w)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("TEST"),
		text.FgHiCyan.Sprint("DURATION"),
	})
	for _, row := range view.Rows {
		t.AppendRow(table.Row{
			statusCell(row.Status),
			row.DisplayName,
			fmt.Sprintf("%dms", row.DurationMS),
		})
	}
	t.Render()

	fmt.Fprintf(w, "\n%s %d passed, %d failed, %d broken, %d skipped, %d pending (%d total)\n",
		text.FgHiBlue.Sprint("Summary:"),
		view.Passed, view.Failed, view.Broken, view.Skipped, view.Pending, view.Total)

	if failureDetail == model.ReportFailureNone {
		return
	}
	for _, item := range items {
		if item.Status != model.StatusFailed && item.Status != model.StatusBroken {
			continue
		}
		renderFailureDetail(w, item, failureDetail)
	}
}

func renderFailureDetail(w io.Writer, item *model.TestItem, detail model.ReportFailure) {
	fmt.Fprintf(w, "\n%s %s\n", statusCell(item.Status), item.DisplayName)
	if item.Reason != "" {
		fmt.Fprintf(w, "  %s\n", item.Reason)
	}
	if detail == model.ReportFailureSimple {
		return
	}
	if len(item.ErrorMessage) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(item.ErrorMessage, "\n  "))
	}
	renderLocationSnippet(w, item.Location)
	if detail == model.ReportFailureNormal {
		return
	}
	for _, line := range item.Traceback {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

// renderLocationSnippet prints the best-effort file/line and up to two
// lines of context preceding the offending line (spec.md §7's "normal"
// tier: "+ context snippet"). loc is nil whenever CaptureLocation
// couldn't resolve a position, in which case this is a silent no-op.
func renderLocationSnippet(w io.Writer, loc *model.Location) {
	if loc == nil || loc.File == "" {
		return
	}
	fmt.Fprintf(w, "  at %s:%d\n", loc.File, loc.Line)
	line := loc.Line - len(loc.ContextPre)
	for _, l := range loc.ContextPre {
		fmt.Fprintf(w, "    %4d | %s\n", line, l)
		line++
	}
	if loc.OffendingLn != "" {
		fmt.Fprintf(w, "  > %4d | %s\n", loc.Line, loc.OffendingLn)
	}
}

func statusCell(s model.Status) string {
	switch s {
	case model.StatusPassed:
		return text.Colors{text.FgHiGreen, text.Bold}.Sprint("PASSED")
	case model.StatusFailed:
		return text.Colors{text.FgHiRed, text.Bold}.Sprint("FAILED")
	case model.StatusBroken:
		return text.Colors{text.FgHiRed, text.Bold}.Sprint("BROKEN")
	case model.StatusSkipped:
		return text.Colors{text.FgHiYellow, text.Bold}.Sprint("SKIPPED")
	case model.StatusInProgress:
		return text.Colors{text.FgHiYellow, text.Bold}.Sprint("RUNNING")
	default:
		return text.Faint.Sprint(string(s))
	}
}
