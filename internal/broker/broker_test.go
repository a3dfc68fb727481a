package broker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"lymbo/internal/model"
	"lymbo/internal/registry"
	"lymbo/internal/scope"
)

func TestBorrowElectionRunsFactoryOnceAndSharesValue(t *testing.T) {
	dir := t.TempDir()

	var setupCalls int
	registry.RegisterFactory("broker_test_shared", func(ft *registry.T, args model.Params) (any, func() error, error) {
		setupCalls++
		return fmt.Sprintf("resource-%d", setupCalls), func() error { return nil }, nil
	})

	items := []*model.TestItem{
		{Scopes: model.BuildScopes("resource_a", "", "f1")},
		{Scopes: model.BuildScopes("resource_a", "", "f2")},
	}
	reg := scope.Build(items)

	b, err := New(reg, dir, 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	c1, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c1.Close()
	c2, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c2.Close()

	v1, err := c1.Borrow(model.ScopeModule, "resource_a", "broker_test_shared", model.Params{})
	if err != nil {
		t.Fatalf("Borrow 1: %v", err)
	}
	v2, err := c2.Borrow(model.ScopeModule, "resource_a", "broker_test_shared", model.Params{})
	if err != nil {
		t.Fatalf("Borrow 2: %v", err)
	}
	if v1 != v2 {
		t.Fatalf("expected both borrowers to see the same value, got %v and %v", v1, v2)
	}
	if setupCalls != 1 {
		t.Fatalf("expected exactly one setup call, got %d", setupCalls)
	}
}

func TestDecrementTriggersTeardown(t *testing.T) {
	dir := t.TempDir()

	torndown := make(chan struct{}, 1)
	registry.RegisterFactory("broker_test_teardown", func(ft *registry.T, args model.Params) (any, func() error, error) {
		return "v", func() error {
			torndown <- struct{}{}
			return nil
		}, nil
	})

	item := &model.TestItem{Scopes: model.BuildScopes("resource_b", "", "only")}
	reg := scope.Build([]*model.TestItem{item})

	b, err := New(reg, dir, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	c, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Borrow(model.ScopeModule, "resource_b", "broker_test_teardown", model.Params{}); err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	if err := c.Decrement(item.Scopes); err != nil {
		t.Fatalf("Decrement: %v", err)
	}

	select {
	case <-torndown:
	case <-time.After(2 * time.Second):
		t.Fatal("expected teardown to run after bucket count reached zero")
	}
}

func TestSetupErrorIsReraisedAsAcquisitionFailure(t *testing.T) {
	dir := t.TempDir()

	registry.RegisterFactory("broker_test_failing", func(ft *registry.T, args model.Params) (any, func() error, error) {
		return nil, nil, fmt.Errorf("boom")
	})

	item := &model.TestItem{Scopes: model.BuildScopes("resource_c", "", "only")}
	reg := scope.Build([]*model.TestItem{item})

	b, err := New(reg, dir, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	c, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Borrow(model.ScopeModule, "resource_c", "broker_test_failing", model.Params{}); err == nil {
		t.Fatal("expected acquisition failure")
	}
}

func TestFactorySetupOutputIsPublishedOnTheSlot(t *testing.T) {
	dir := t.TempDir()

	registry.RegisterFactory("broker_test_output", func(ft *registry.T, args model.Params) (any, func() error, error) {
		fmt.Println("setup noise")
		return "v", func() error { return nil }, nil
	})

	item := &model.TestItem{Scopes: model.BuildScopes("resource_e", "", "only")}
	reg := scope.Build([]*model.TestItem{item})

	b, err := New(reg, dir, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	c, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	req := BorrowRequest{Category: model.ScopeModule, ScopeID: "resource_e", FactoryName: "broker_test_output"}
	if _, err := c.roundTrip(kindBorrow, req, &SlotResponse{}); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	var resp SlotResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := c.roundTrip(kindPoll, req, &resp); err != nil {
			t.Fatalf("poll: %v", err)
		}
		if resp.Ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the slot to settle")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(resp.Output, "setup noise") {
		t.Fatalf("expected the slot response to carry the factory's captured output, got %q", resp.Output)
	}
}

func TestBorrowPrintsCapturedSetupOutputToItsOwnStream(t *testing.T) {
	dir := t.TempDir()

	registry.RegisterFactory("broker_test_print", func(ft *registry.T, args model.Params) (any, func() error, error) {
		fmt.Println("hello from setup")
		return "v", func() error { return nil }, nil
	})

	item := &model.TestItem{Scopes: model.BuildScopes("resource_f", "", "only")}
	reg := scope.Build([]*model.TestItem{item})

	b, err := New(reg, dir, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	c, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	realStdout := os.Stdout
	os.Stdout = w
	_, borrowErr := c.Borrow(model.ScopeModule, "resource_f", "broker_test_print", model.Params{})
	os.Stdout = realStdout
	_ = w.Close()
	if borrowErr != nil {
		t.Fatalf("Borrow: %v", borrowErr)
	}

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	if !strings.Contains(buf.String(), "hello from setup") {
		t.Fatalf("expected Borrow to print the captured setup output to its caller's stdout, got %q", buf.String())
	}
}

func TestFactoryCannotBorrowANestedScopedResource(t *testing.T) {
	dir := t.TempDir()

	registry.RegisterFactory("broker_test_outer", func(ft *registry.T, args model.Params) (any, func() error, error) {
		_, err := ft.ScopeModule("broker_test_inner", model.Params{})
		return nil, nil, err
	})

	item := &model.TestItem{Scopes: model.BuildScopes("resource_g", "", "only")}
	reg := scope.Build([]*model.TestItem{item})

	b, err := New(reg, dir, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	c, err := Dial(dir)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.Borrow(model.ScopeModule, "resource_g", "broker_test_outer", model.Params{})
	if err == nil {
		t.Fatal("expected a scope-nesting error")
	}
	if !strings.Contains(err.Error(), registry.ErrScopeNesting.Error()) {
		t.Fatalf("expected the acquisition failure to mention scope nesting, got %v", err)
	}
}
