// Package lymbo is the public surface test files import: the Go-native
// replacement for the source project's `@lymbo.test(...)` decorator
// stack (component L, spec.md §9's "dynamic import of decorated test
// modules → deterministic loader" remapping). A test file registers its
// declarations from an `init()` function; the same binary is re-exec'd
// for every executor subprocess and never rebuilt, so whatever is
// registered in the parent process is registered identically in every
// child.
package lymbo

import (
	"reflect"
	"regexp"

	"lymbo/internal/expand"
	"lymbo/internal/model"
	"lymbo/internal/registry"
)

// T is the per-invocation handle a test body uses to borrow scoped
// resources (spec.md §4.7), the Go analogue of *testing.T.
type T = registry.T

// Params is the (positional tuple, keyword mapping) a test body is
// invoked with (spec.md §3).
type Params = model.Params

// Expansion marks an argument position for Cartesian-product expansion
// (spec.md §4.3). Expand(1, 2, 3) used as an argument to Args marks
// that position for expansion.
type Expansion = expand.Expansion

// Expand marks a position for expansion; e.g.
// Args(Expand(1, 4, 9, 16)) produces four parameter tuples.
func Expand(values ...any) Expansion { return expand.Expand(values...) }

// ArgBuilder accumulates one call's positional and keyword arguments.
type ArgBuilder struct {
	positional []any
	keyword    []registry.KV
}

// Args starts building one call's argument list.
func Args(positional ...any) *ArgBuilder {
	return &ArgBuilder{positional: positional}
}

// Kwarg adds one keyword argument, in call order.
func (b *ArgBuilder) Kwarg(name string, value any) *ArgBuilder {
	b.keyword = append(b.keyword, registry.KV{Key: name, Value: value})
	return b
}

// Expected is the value-or-type-or-exception-or-regex assertion a Case
// may declare (spec.md §4.8 step 5).
type Expected = model.Expected

// Expect declares that the test body's return value must equal value.
func Expect(value any) *Expected {
	return &Expected{Kind: model.ExpectedValue, Value: value}
}

// ExpectType declares that the test body's return value must have
// exactly the given type.
func ExpectType(t reflect.Type) *Expected {
	return &Expected{Kind: model.ExpectedType, Type: t}
}

// ExpectException declares that the test body must return an error of
// exactly the given type.
func ExpectException(t reflect.Type) *Expected {
	return &Expected{Kind: model.ExpectedException, Type: t}
}

// ExpectMatch declares that the string form of the test body's return
// value must match re.
func ExpectMatch(re *regexp.Regexp) *Expected {
	return &Expected{Kind: model.ExpectedMatch, Match: re}
}

// Case is one args()-defined call, with its optional expected() assertion.
type Case struct {
	Args     *ArgBuilder
	Expected *Expected
}

// Declaration is one test: its identity, body, and the call(s) it runs
// under. An empty Cases list means the body takes no arguments and runs
// exactly once.
type Declaration struct {
	Path     string
	Function string
	Class    string // leave empty for a bare function
	Async    bool
	Body     func(t *T, args Params) (any, error)
	Cases    []Case
}

// Register adds a declaration to the process-wide test table. Call this
// from a test file's init().
func Register(d Declaration) {
	argSpecs := make([]registry.ArgSpecEntry, 0, len(d.Cases))
	for _, c := range d.Cases {
		entry := registry.ArgSpecEntry{Expected: c.Expected}
		if c.Args != nil {
			entry.Positional = c.Args.positional
			entry.Keyword = c.Args.keyword
		}
		argSpecs = append(argSpecs, entry)
	}

	registry.Register(&registry.Declaration{
		Path:     d.Path,
		Class:    d.Class,
		Function: d.Function,
		Async:    d.Async,
		Fn:       registry.TestFunc(d.Body),
		ArgSpecs: argSpecs,
	})
}

// Factory creates a scoped resource and returns its value plus a
// teardown closure, run exactly once per (scope, fingerprint) and shared
// with every borrower in that scope (spec.md §4.7). This is lymbo's
// translation of the source's generator-based context manager: Go has
// no `yield`, so cleanup is an explicit returned closure instead of a
// second re-entry into the factory after the scoped block exits. t is
// only useful for the nesting check it always fails: a factory body is
// forbidden from borrowing a further scoped resource through it
// (spec.md §4.7).
type Factory func(t *T, args ...any) (value any, teardown func() error, err error)

// RegisterFactory names a resource factory so every process that shares
// this binary (the controller's broker goroutines, and every re-exec'd
// executor subprocess) can look it up by name (spec.md §9).
func RegisterFactory(name string, f Factory) {
	registry.RegisterFactory(name, func(t *registry.T, args model.Params) (any, func() error, error) {
		return f(t, args.Positional...)
	})
}
