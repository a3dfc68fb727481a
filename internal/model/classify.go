package model

import (
	"fmt"
	"reflect"
)

// AssertionError marks a test failure as assertion-kind (spec.md §4.8
// step 6: "assertion-kind error or expected mismatch -> FAILED"), as
// opposed to any other error, which classifies a test BROKEN. Test
// bodies return this (instead of a plain error) to signal "the thing
// under test behaved wrong" rather than "the harness hit a fault."
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string { return e.Message }

// NewAssertionError constructs an AssertionError with a formatted message.
func NewAssertionError(format string, args ...any) *AssertionError {
	return &AssertionError{Message: fmt.Sprintf(format, args...)}
}

// Classify implements spec.md §4.8 steps 5-6: the expected-value check
// and the resulting status/reason. result and err are whatever the test
// function returned; expected may be nil.
func Classify(expected *Expected, result any, err error) (status Status, reason string, messages []string) {
	if err != nil {
		if expected != nil && expected.Kind == ExpectedException && matchesExceptionType(expected.Type, err) {
			return StatusPassed, "", nil
		}
		if _, ok := err.(*AssertionError); ok {
			return StatusFailed, "assertion", []string{err.Error()}
		}
		return StatusBroken, "error", []string{err.Error()}
	}

	if expected == nil {
		return StatusPassed, "", nil
	}

	switch expected.Kind {
	case ExpectedNone:
		return StatusPassed, "", nil
	case ExpectedValue:
		if reflect.DeepEqual(result, expected.Value) {
			return StatusPassed, "", nil
		}
		return StatusFailed, "expected-mismatch", []string{
			fmt.Sprintf("expected value %v, got %v", expected.Value, result),
		}
	case ExpectedType:
		if result != nil && reflect.TypeOf(result) == expected.Type {
			return StatusPassed, "", nil
		}
		return StatusFailed, "expected-mismatch", []string{
			fmt.Sprintf("expected type %v, got %T", expected.Type, result),
		}
	case ExpectedException:
		return StatusFailed, "expected-mismatch", []string{
			fmt.Sprintf("expected exception %v, none was raised", expected.Type),
		}
	case ExpectedMatch:
		if expected.Match != nil && expected.Match.MatchString(fmt.Sprintf("%v", result)) {
			return StatusPassed, "", nil
		}
		return StatusFailed, "expected-mismatch", []string{
			fmt.Sprintf("result %v does not match %v", result, expected.Match),
		}
	default:
		return StatusPassed, "", nil
	}
}

func matchesExceptionType(want reflect.Type, err error) bool {
	if want == nil {
		return false
	}
	return reflect.TypeOf(err) == want
}
