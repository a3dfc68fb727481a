package plan

import (
	"testing"

	"lymbo/internal/model"
	"lymbo/internal/report"
)

func sample() []*model.TestItem {
	return []*model.TestItem{
		{Path: "m1", Function: "f1", DisplayName: "m1::f1()", UUID: "u1"},
		{Path: "m1", Function: "f1", DisplayName: "m1::f1(2)", UUID: "u2"},
		{Path: "m1", Class: "C", Function: "g", DisplayName: "m1::C::g()", UUID: "u3"},
		{Path: "m2", Function: "h", DisplayName: "m2::h()", UUID: "u4"},
	}
}

func TestBuildNoneIsAllSingletons(t *testing.T) {
	groups := Build(sample(), model.GroupByNone)
	if len(groups) != 4 {
		t.Fatalf("got %d groups, want 4", len(groups))
	}
	for _, g := range groups {
		if len(g.Items) != 1 {
			t.Fatalf("NONE grouping should produce singletons, got %+v", g)
		}
	}
}

func TestBuildFunctionGroupsSharedCases(t *testing.T) {
	groups := Build(sample(), model.GroupByFunction)
	var sawPair bool
	for _, g := range groups {
		if len(g.Items) == 2 {
			sawPair = true
		}
	}
	if !sawPair {
		t.Fatalf("expected the two m1::f1 cases to share a group, got %+v", groups)
	}
}

func TestBuildModuleGroupsWholeFile(t *testing.T) {
	groups := Build(sample(), model.GroupByModule)
	for _, g := range groups {
		if len(g.Items) == 3 {
			return
		}
	}
	t.Fatalf("expected m1's three tests to share a module group, got %+v", groups)
}

func TestBuildStatusViewRefreshesFromReport(t *testing.T) {
	store, err := report.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	items := []*model.TestItem{{UUID: "s1", DisplayName: "m::f()", Status: model.StatusPending}}
	if err := store.Write(&model.TestItem{UUID: "s1", DisplayName: "m::f()", Status: model.StatusPassed}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	view := BuildStatusView(items, store)
	if view.Passed != 1 || view.Pending != 0 {
		t.Fatalf("expected the refreshed item to count as passed, got %+v", view)
	}
}
