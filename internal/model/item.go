package model

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Params is the (positional tuple, keyword mapping) a TestItem is invoked
// with (spec.md §3).
type Params struct {
	Positional []any
	Keyword    map[string]any
}

// Expected is the value-or-type-or-regex assertion declared on a test
// (spec.md §4.3, checked per §4.8 step 5).
type Expected struct {
	// Kind selects which of the four forms applies.
	Kind ExpectedKind
	// Value is used for Kind == ExpectedValue (compared with ==/reflect.DeepEqual).
	Value any
	// Type is used for Kind == ExpectedType (return value must have exactly this type)
	// or Kind == ExpectedException (the raised error must be exactly this type).
	Type reflect.Type
	// Match is used for Kind == ExpectedMatch (regex against the string form
	// of the returned value).
	Match *regexp.Regexp
}

// ExpectedKind distinguishes the four forms an Expected assertion can take.
type ExpectedKind int

const (
	ExpectedNone ExpectedKind = iota
	ExpectedValue
	ExpectedType
	ExpectedException
	ExpectedMatch
)

// ErrorDetail is the structured failure information persisted in a
// report record (spec.md §4.2, §7).
type ErrorDetail struct {
	Reason       string    `json:"reason"`
	ErrorMessage []string  `json:"error_message"`
	Traceback    []string  `json:"traceback"`
	Location     *Location `json:"location,omitempty"`
}

// Location is the best-effort source position attached to a test error
// (spec.md §7: "filename, line number, and two lines of context").
type Location struct {
	File        string   `json:"file"`
	Line        int      `json:"line"`
	ContextPre  []string `json:"context_pre,omitempty"`
	OffendingLn string   `json:"offending_line,omitempty"`
}

// CaptureLocation derives a best-effort source position for fn: Go binaries
// carry no interpreter-level call stack to unwind (unlike the source's
// traceback module), so this is the closest equivalent reachable at
// runtime — the file/line the compiler recorded for fn's entry point, plus
// up to two lines of surrounding source read back off disk if the binary
// hasn't moved (spec.md §7: "a best-effort structured location").
func CaptureLocation(fn any) *Location {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil
	}
	pc := v.Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return nil
	}
	file, line := f.FileLine(pc)
	if file == "" || line <= 0 {
		return nil
	}
	loc := &Location{File: file, Line: line}
	loc.ContextPre, loc.OffendingLn = sourceContext(file, line)
	return loc
}

// sourceContext best-effort reads up to two lines preceding line and the
// line itself out of file. Any failure (file moved, line out of range)
// yields a Location with no snippet rather than an error: this is
// explicitly best-effort (spec.md §7).
func sourceContext(file string, line int) (contextPre []string, offending string) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, ""
	}
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return nil, ""
	}
	start := line - 2
	if start < 1 {
		start = 1
	}
	for i := start; i < line; i++ {
		contextPre = append(contextPre, lines[i-1])
	}
	return contextPre, lines[line-1]
}

// TestItem is one concrete test invocation (spec.md §3).
type TestItem struct {
	// Identity (immutable after collection).
	Path          string
	Function      string
	Class         string // empty if not a method
	Asynchronous  bool
	Parameters    Params
	// ArgSpecIndex is this item's position in its declaration's ArgSpecs
	// slice (internal/registry.Declaration.ArgSpecs). The executor uses
	// it to recover the item's Expected assertion from the registry
	// rather than from the wire: reflect.Type and *regexp.Regexp (both
	// held inside Expected) do not round-trip through JSON, so Expected
	// below is for display only and is never transmitted across the
	// controller/executor process boundary.
	ArgSpecIndex  int
	Expected      *Expected `json:"-"`
	DisplayName   string
	UUID          string
	Scopes        map[ScopeCategory]string

	// Runtime fields — mutated only by the owning executor.
	StartAt      time.Time
	EndAt        time.Time
	Output       string
	Status       Status
	Reason       string
	ErrorMessage []string
	Traceback    []string
	Location     *Location
	PID          int
}

// Duration returns EndAt-StartAt, zero if the item has not finished.
func (t *TestItem) Duration() time.Duration {
	if t.EndAt.IsZero() || t.StartAt.IsZero() {
		return 0
	}
	return t.EndAt.Sub(t.StartAt)
}

// BuildScopes computes the four scope keys for a TestItem per spec.md §3:
//
//	session  -> literal constant, one bucket per run
//	module   -> path
//	class    -> path::class (absent if not a method)
//	function -> path::class::function (or path::function)
func BuildScopes(path, class, function string) map[ScopeCategory]string {
	scopes := map[ScopeCategory]string{
		ScopeSession: SessionScopeID,
		ScopeModule:  path,
	}
	if class != "" {
		scopes[ScopeClass] = path + "::" + class
		scopes[ScopeFunction] = path + "::" + class + "::" + function
	} else {
		scopes[ScopeFunction] = path + "::" + function
	}
	return scopes
}

// FormatDisplayName composes the total, human-display name defined in
// spec.md §4.1: path::[class::]function(args), string values double-quoted,
// everything else in its natural textual form.
func FormatDisplayName(path, class, function string, p Params) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteString("::")
	if class != "" {
		b.WriteString(class)
		b.WriteString("::")
	}
	b.WriteString(function)
	b.WriteByte('(')

	parts := make([]string, 0, len(p.Positional)+len(p.Keyword))
	for _, v := range p.Positional {
		parts = append(parts, formatArgValue(v))
	}

	keys := make([]string, 0, len(p.Keyword))
	for k := range p.Keyword {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatArgValue(p.Keyword[k])))
	}

	b.WriteString(strings.Join(parts, ", "))
	b.WriteByte(')')
	return b.String()
}

func formatArgValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
