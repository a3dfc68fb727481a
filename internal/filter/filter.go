// Package filter implements component D of SPEC_FULL.md: a Boolean
// expression language over "is this word a substring of the test's
// display name?" (spec.md §4.4).
//
// The expression is parsed in two stages. First a small hand-rolled
// tokenizer (tokenize, below) splits the raw expression into words,
// parentheses, and the three reserved operators — this is necessary
// because a "word" here is any run of non-space/non-paren text,
// including things like "p=4", which a general-purpose expression
// lexer would otherwise split on "=". The tokenizer's word list is then
// rewritten into a small boolean program and compiled/evaluated with
// github.com/expr-lang/expr, which supplies not/and/or precedence and
// parenthesization rather than hand-rolling an operator-precedence
// parser.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// SyntaxError reports a filter expression the tokenizer or expr-lang
// rejected (spec.md §7: "filter-syntax... terminal; the run aborts").
type SyntaxError struct {
	Expr string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter-syntax error in %q: %v", e.Expr, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

var reserved = map[string]bool{"not": true, "and": true, "or": true}

// ExtractWords returns every non-operator, non-parenthesis token from the
// expression (spec.md §4.4: "the complementary operation used to assist
// fast pre-screening").
func ExtractWords(exprStr string) []string {
	var words []string
	for _, tok := range tokenize(exprStr) {
		if tok == "(" || tok == ")" || reserved[strings.ToLower(tok)] {
			continue
		}
		words = append(words, tok)
	}
	return words
}

func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// Filter is a compiled filter expression, ready to evaluate against any
// number of display names.
type Filter struct {
	source  string
	program *vm.Program
	idents  map[string]string // placeholder identifier -> original word
}

// Compile parses and compiles a filter expression. A malformed expression
// (e.g. mismatched parentheses) yields a *SyntaxError.
func Compile(exprStr string) (*Filter, error) {
	if strings.TrimSpace(exprStr) == "" {
		return &Filter{source: exprStr, idents: map[string]string{}}, nil
	}

	tokens := tokenize(exprStr)
	idents := map[string]string{}
	rewritten := make([]string, 0, len(tokens))

	n := 0
	for _, tok := range tokens {
		switch {
		case tok == "(" || tok == ")":
			rewritten = append(rewritten, tok)
		case reserved[strings.ToLower(tok)]:
			rewritten = append(rewritten, strings.ToLower(tok))
		default:
			name := "w" + strconv.Itoa(n)
			n++
			idents[name] = tok
			rewritten = append(rewritten, name)
		}
	}

	env := make(map[string]any, len(idents))
	for name := range idents {
		env[name] = false
	}

	program, err := expr.Compile(strings.Join(rewritten, " "), expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, &SyntaxError{Expr: exprStr, Err: err}
	}

	return &Filter{source: exprStr, program: program, idents: idents}, nil
}

// Matches evaluates the filter against a test's fully-qualified display
// name (spec.md §4.4).
func (f *Filter) Matches(displayName string) (bool, error) {
	if f.program == nil {
		return true, nil // empty filter matches everything
	}

	env := make(map[string]any, len(f.idents))
	for name, word := range f.idents {
		env[name] = strings.Contains(displayName, word)
	}

	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, &SyntaxError{Expr: f.source, Err: err}
	}
	b, ok := out.(bool)
	if !ok {
		return false, &SyntaxError{Expr: f.source, Err: fmt.Errorf("filter did not evaluate to a boolean")}
	}
	return b, nil
}

// Source returns the original, unrewritten expression text.
func (f *Filter) Source() string { return f.source }
