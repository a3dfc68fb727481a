// Package collect implements the collection half of component E
// (spec.md §4.5): turning every registered declaration (component L)
// into concrete TestItems via component C's expansion, then narrowing
// the result with component D's filter.
package collect

import (
	"fmt"

	"lymbo/internal/expand"
	"lymbo/internal/filter"
	"lymbo/internal/identity"
	"lymbo/internal/model"
	"lymbo/internal/registry"
)

// FromRegistry expands every registered declaration into its concrete
// TestItems and, if filterExpr is non-empty, narrows the result to
// items whose display name matches it (spec.md §4.4). A malformed
// filterExpr surfaces as a *filter.SyntaxError — a collection error,
// terminal per spec.md §7.
func FromRegistry(filterExpr string) ([]*model.TestItem, error) {
	var f *filter.Filter
	if filterExpr != "" {
		compiled, err := filter.Compile(filterExpr)
		if err != nil {
			return nil, err
		}
		f = compiled
	}

	var items []*model.TestItem
	for _, decl := range registry.All() {
		expanded, err := expandDeclaration(decl)
		if err != nil {
			return nil, fmt.Errorf("collect: expanding %s::%s: %w", decl.Path, decl.Function, err)
		}
		for _, item := range expanded {
			if f != nil {
				ok, err := f.Matches(item.DisplayName)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func expandDeclaration(decl *registry.Declaration) ([]*model.TestItem, error) {
	argSpecs := decl.ArgSpecs
	if len(argSpecs) == 0 {
		// test(expected?) with no args() call at all: a single,
		// argument-less invocation (spec.md §9: "args(...) — defines one
		// call"; an omitted call still means exactly one case).
		argSpecs = []registry.ArgSpecEntry{{}}
	}

	var out []*model.TestItem
	for specIndex, entry := range argSpecs {
		spec := expand.ArgSpec{Positional: entry.Positional}
		for _, kv := range entry.Keyword {
			spec.Keyword = append(spec.Keyword, expand.KV{Key: kv.Key, Value: kv.Value})
		}

		for _, params := range expand.Generate(spec) {
			displayName := model.FormatDisplayName(decl.Path, decl.Class, decl.Function, params)
			out = append(out, &model.TestItem{
				Path:         decl.Path,
				Function:     decl.Function,
				Class:        decl.Class,
				Asynchronous: decl.Async,
				Parameters:   params,
				ArgSpecIndex: specIndex,
				DisplayName:  displayName,
				UUID:         identity.NewUUID(displayName),
				Scopes:       model.BuildScopes(decl.Path, decl.Class, decl.Function),
				Status:       model.StatusPending,
			})
		}
	}
	return out, nil
}
