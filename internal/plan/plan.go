// Package plan implements the rest of component E (spec.md §4.5): group
// construction from a collected item list, and the presentation-agnostic
// view types a CLI (or anything else) renders from. Keeping PlanView/
// StatusView as plain data, with no terminal/ANSI concerns, is what lets
// the reference CLI in cmd/ own all rendering (SPEC_FULL.md §4.5).
package plan

import (
	"lymbo/internal/model"
	"lymbo/internal/report"
)

// Group is one unit of work dispatched to a single executor subprocess
// (spec.md §4.5, §4.8).
type Group struct {
	Items []*model.TestItem
}

// Build clusters items into groups per the requested policy (spec.md §4.5).
func Build(items []*model.TestItem, groupBy model.GroupBy) []Group {
	switch groupBy {
	case model.GroupByFunction:
		return groupByKey(items, func(i *model.TestItem) string { return i.Path + "::" + i.Class + "::" + i.Function })
	case model.GroupByClass:
		return groupByKey(items, func(i *model.TestItem) string { return i.Path + "::" + i.Class })
	case model.GroupByModule:
		return groupByKey(items, func(i *model.TestItem) string { return i.Path })
	default: // model.GroupByNone
		groups := make([]Group, len(items))
		for i, item := range items {
			groups[i] = Group{Items: []*model.TestItem{item}}
		}
		return groups
	}
}

func groupByKey(items []*model.TestItem, key func(*model.TestItem) string) []Group {
	order := make([]string, 0)
	byKey := map[string]*Group{}
	for _, item := range items {
		k := key(item)
		g, ok := byKey[k]
		if !ok {
			g = &Group{}
			byKey[k] = g
			order = append(order, k)
		}
		g.Items = append(g.Items, item)
	}
	groups := make([]Group, len(order))
	for i, k := range order {
		groups[i] = *byKey[k]
	}
	return groups
}

// PlanRow is one line of the pre-run plan listing: a test's identity and
// the grouping marker its group was formed under.
type PlanRow struct {
	DisplayName string
	GroupIndex  int
	GroupSize   int
}

// PlanView is the pure-data rendering of "what will run, grouped how"
// (spec.md §4.5's "plan listing (with grouping markers)").
type PlanView struct {
	GroupBy model.GroupBy
	Rows    []PlanRow
}

// BuildPlanView renders a plan listing from already-built groups.
func BuildPlanView(groups []Group, groupBy model.GroupBy) PlanView {
	view := PlanView{GroupBy: groupBy}
	for gi, g := range groups {
		for _, item := range g.Items {
			view.Rows = append(view.Rows, PlanRow{
				DisplayName: item.DisplayName,
				GroupIndex:  gi,
				GroupSize:   len(g.Items),
			})
		}
	}
	return view
}

// StatusRow is one line of the status-aggregated listing.
type StatusRow struct {
	DisplayName string
	Status      model.Status
	Reason      string
	DurationMS  int64
}

// StatusView is the pure-data rendering of current run status (spec.md
// §4.5: "refreshes each item from its report record before printing").
type StatusView struct {
	Rows    []StatusRow
	Passed  int
	Failed  int
	Broken  int
	Skipped int
	Pending int
	Total   int
}

// BuildStatusView refreshes every item from its report record (where one
// exists yet) and renders the aggregate view.
func BuildStatusView(items []*model.TestItem, store *report.Store) StatusView {
	view := StatusView{Total: len(items)}
	for _, item := range items {
		refreshFromReport(item, store)

		view.Rows = append(view.Rows, StatusRow{
			DisplayName: item.DisplayName,
			Status:      item.Status,
			Reason:      item.Reason,
			DurationMS:  item.Duration().Milliseconds(),
		})

		switch item.Status {
		case model.StatusPassed:
			view.Passed++
		case model.StatusFailed:
			view.Failed++
		case model.StatusBroken:
			view.Broken++
		case model.StatusSkipped:
			view.Skipped++
		default:
			view.Pending++
		}
	}
	return view
}

func refreshFromReport(item *model.TestItem, store *report.Store) {
	rec, err := store.Read(item.UUID)
	if err != nil {
		return // not yet written or not yet valid; item keeps its last known state
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
