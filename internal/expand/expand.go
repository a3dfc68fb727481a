// Package expand implements component C of SPEC_FULL.md: turning one
// decorated declaration into N concrete parameter tuples via a Cartesian
// product over marked expansion points (spec.md §4.3).
package expand

import "lymbo/internal/model"

// Expansion is the tagged "expand(...)" variant from spec.md §9's
// Literal(v) | Expansion(v[]) remapping: an ordered sequence of values
// that marks its position for Cartesian-product expansion.
type Expansion []any

// Expand marks a position for expansion; e.g. Args(Expand(1, 4, 9, 116))
// produces four parameter tuples (S1 in spec.md §8).
func Expand(values ...any) Expansion {
	return Expansion(values)
}

// KV is one ordered keyword argument. A plain map loses Go's
// (non-)ordering guarantees, and the Cartesian product is specified as
// "left-to-right over positional then keyword" — so declaration order
// for keyword arguments must be preserved explicitly.
type KV struct {
	Key   string
	Value any
}

// ArgSpec is one test's declared call: a positional tuple and an ordered
// keyword mapping, each position optionally holding an Expansion marker.
type ArgSpec struct {
	Positional []any
	Keyword    []KV
}

// Generate runs the Cartesian product described in spec.md §4.3: every
// position holding an Expansion is expanded, all other positions are kept
// as-is, left-to-right over positional then keyword. A declaration with
// no markers produces exactly one Params.
func Generate(spec ArgSpec) []model.Params {
	tuples := []model.Params{{
		Positional: append([]any(nil), spec.Positional...),
		Keyword:    map[string]any{},
	}}
	for _, kv := range spec.Keyword {
		tuples[0].Keyword[kv.Key] = kv.Value
	}

	for pos, v := range spec.Positional {
		expansion, ok := v.(Expansion)
		if !ok {
			continue
		}
		tuples = expandPositional(tuples, pos, expansion)
	}

	for _, kv := range spec.Keyword {
		expansion, ok := kv.Value.(Expansion)
		if !ok {
			continue
		}
		tuples = expandKeyword(tuples, kv.Key, expansion)
	}

	return tuples
}

func expandPositional(tuples []model.Params, pos int, expansion Expansion) []model.Params {
	out := make([]model.Params, 0, len(tuples)*len(expansion))
	for _, elt := range expansion {
		for _, t := range tuples {
			positional := append([]any(nil), t.Positional...)
			positional[pos] = elt
			out = append(out, model.Params{Positional: positional, Keyword: copyKeyword(t.Keyword)})
		}
	}
	return out
}

func expandKeyword(tuples []model.Params, key string, expansion Expansion) []model.Params {
	out := make([]model.Params, 0, len(tuples)*len(expansion))
	for _, elt := range expansion {
		for _, t := range tuples {
			keyword := copyKeyword(t.Keyword)
			keyword[key] = elt
			out = append(out, model.Params{Positional: append([]any(nil), t.Positional...), Keyword: keyword})
		}
	}
	return out
}

func copyKeyword(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
