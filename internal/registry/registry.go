// Package registry is the compile-time, process-wide table of declared
// tests and resource factories (component L, spec.md §9 "Dynamic import
// of test modules → deterministic loader"). The same binary is re-exec'd
// for every executor subprocess and never rebuilt, so a declaration
// registered under a stable name in the parent is registered under that
// same name in every child: "importing a module by path" becomes
// "looking up a name in a package-level map."
//
// The public lymbo package (the one test authors import) is a thin,
// ergonomic wrapper around this package; it exists as its own package so
// that internal/broker and internal/execpool can depend on the registry
// without importing the public API surface.
package registry

import (
	"fmt"
	"sync"

	"lymbo/internal/model"
)

// TestFunc is one declared test body. T carries the borrowing context
// (active-max-scope tracking, per spec.md §4.7's hierarchy rule); args is
// the concrete parameter tuple for this invocation.
type TestFunc func(t *T, args model.Params) (result any, err error)

// Factory creates a scoped resource and returns its value plus a
// teardown closure. This is lymbo's translation of the source's
// generator-based context manager (spec.md §9): Go has no `yield`, so
// the factory returns its cleanup as an explicit closure instead of
// being re-entered after the scoped block exits. t is always built with
// NewFactoryT, so any borrow attempt the factory body makes through it
// fails with ErrScopeNesting (spec.md §4.7: "the broker clears
// active_max_scope before invoking a factory so that the factory cannot
// further recurse into the broker via scoped calls").
type Factory func(t *T, args model.Params) (value any, teardown func() error, err error)

// Declaration is one registered test: its identity, and one ArgSpecs entry
// per args() call site, each with its optional expected() assertion. The
// entries still hold any expand() markers; component C expands them at
// collection time.
type Declaration struct {
	Path     string
	Class    string // "" if a bare function
	Function string
	Fn       TestFunc
	ArgSpecs []ArgSpecEntry
	Async    bool
}

// ArgSpecEntry pairs one args() call with its optional expected() assertion.
type ArgSpecEntry struct {
	Positional []any
	Keyword    []KV
	Expected   *model.Expected
}

// KV mirrors internal/expand.KV; duplicated here rather than imported to
// keep this package's public surface (what test files are compiled
// against, transitively, via the lymbo package) free of the expansion
// engine's internals.
type KV struct {
	Key   string
	Value any
}

var (
	mu        sync.Mutex
	tests     []*Declaration
	factories = map[string]Factory{}
)

// Register adds one declaration to the process-wide test table.
// Called from package-level init() in test files (the Go analogue of the
// source's decorator-driven collection).
func Register(d *Declaration) {
	mu.Lock()
	defer mu.Unlock()
	tests = append(tests, d)
}

// RegisterFactory names a resource factory so it can be looked up by
// name both in the controller process and in every re-exec'd executor
// subprocess (spec.md §9's deterministic-loader remapping).
func RegisterFactory(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("registry: factory %q registered twice", name))
	}
	factories[name] = f
}

// All returns every registered test declaration, in registration order.
func All() []*Declaration {
	mu.Lock()
	defer mu.Unlock()
	out := make([]*Declaration, len(tests))
	copy(out, tests)
	return out
}

// Lookup finds the declaration matching (path, class, function) — the
// executor subprocess's translation of "dynamically load the source
// file by path; resolve the function" (spec.md §4.8 step 2) into "look
// up a name in a package-level map" (spec.md §9).
func Lookup(path, class, function string) (*Declaration, bool) {
	mu.Lock()
	defer mu.Unlock()
	for _, d := range tests {
		if d.Path == path && d.Class == class && d.Function == function {
			return d, true
		}
	}
	return nil, false
}

// LookupFactory looks up a registered factory by name. Used by both the
// in-process broker goroutines (controller) and the re-exec'd executor
// subprocesses, which share this same package-level map because they are
// the same binary (spec.md §9).
func LookupFactory(name string) (Factory, bool) {
	mu.Lock()
	defer mu.Unlock()
	f, ok := factories[name]
	return f, ok
}

// Borrower is implemented by the executor's broker client; T holds one
// so a running test body can request scoped resources without importing
// internal/broker directly (which would create an import cycle back to
// this package).
type Borrower interface {
	Borrow(category model.ScopeCategory, scopeID, factoryName string, args model.Params) (value any, err error)
}

// ErrScopeHierarchy is returned when a test (or factory) requests a
// scope shallower than the deepest one already active on its task
// (spec.md §4.7's hierarchy rule). The wording mirrors
// original_source/lymbo/resource_manager.py's
// LymboExceptionScopeHierarchy message ("You can't share a resource
// with the scope [...] under a shared resource with the scope [...]").
var ErrScopeHierarchy = fmt.Errorf("scope: you can't share a resource with the scope requested under a shared resource with a narrower scope")

// ErrScopeNesting is returned when a factory body itself attempts to
// borrow a scoped resource (spec.md §4.7: "forbidden... a scope-nesting
// error").
var ErrScopeNesting = fmt.Errorf("scope: a scoped factory cannot itself borrow a scoped resource")

// T is the per-invocation handle a test body uses to borrow scoped
// resources, the Go analogue of *testing.T carrying ambient state
// (spec.md §4.7's active_max_scope).
type T struct {
	borrower       Borrower
	scopes         map[model.ScopeCategory]string
	activeMaxScope int
	inFactory      bool
}

// NewT constructs a borrowing handle bound to an executor's broker
// client and the current test's scope-id map (model.TestItem.Scopes, per
// spec.md §3).
func NewT(b Borrower, scopes map[model.ScopeCategory]string) *T {
	return &T{borrower: b, scopes: scopes, activeMaxScope: model.ScopeSession.Depth()}
}

// NewFactoryT constructs the handle passed to a factory body while it
// runs: inFactory forces every borrow attempt to fail with
// ErrScopeNesting, per spec.md §4.7 ("the broker clears active_max_scope
// before invoking a factory so that the factory cannot further recurse
// into the broker via scoped calls").
func NewFactoryT(b Borrower) *T {
	return &T{borrower: b, inFactory: true}
}

func (t *T) borrow(category model.ScopeCategory, factoryName string, args model.Params) (any, error) {
	if t.inFactory {
		return nil, ErrScopeNesting
	}
	depth := category.Depth()
	if depth < t.activeMaxScope {
		return nil, ErrScopeHierarchy
	}
	value, err := t.borrower.Borrow(category, t.scopes[category], factoryName, args)
	if err != nil {
		return nil, err
	}
	t.activeMaxScope = depth
	return value, nil
}

// ScopeGlobal borrows (or joins) a session-scoped resource.
func (t *T) ScopeGlobal(factoryName string, args model.Params) (any, error) {
	return t.borrow(model.ScopeSession, factoryName, args)
}

// ScopeModule borrows (or joins) a module-scoped resource.
func (t *T) ScopeModule(factoryName string, args model.Params) (any, error) {
	return t.borrow(model.ScopeModule, factoryName, args)
}

// ScopeClass borrows (or joins) a class-scoped resource.
func (t *T) ScopeClass(factoryName string, args model.Params) (any, error) {
	return t.borrow(model.ScopeClass, factoryName, args)
}

// ScopeFunction borrows (or joins) a function-scoped resource.
func (t *T) ScopeFunction(factoryName string, args model.Params) (any, error) {
	return t.borrow(model.ScopeFunction, factoryName, args)
}
