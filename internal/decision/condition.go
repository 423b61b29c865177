// Package decision implements the graph-based sequential decision procedure:
// a DAG of prompt nodes walked one model call at a time, where each response
// selects the outgoing edge whose condition matches first.
package decision

import (
	"fmt"
	"regexp"
	"strings"
)

// Condition decides an edge transition from a model response. Conditions are
// tagged variants rather than arbitrary closures so graphs stay describable
// as data and testable apart from the engine.
type Condition interface {
	Match(response string) bool
	String() string
}

type prefixCondition struct {
	prefix string
}

// Prefix matches when the response, after leading whitespace, starts with
// the given text. Matching is case-insensitive.
func Prefix(prefix string) Condition {
	return prefixCondition{prefix: prefix}
}

func (c prefixCondition) Match(response string) bool {
	trimmed := strings.TrimSpace(response)
	return len(trimmed) >= len(c.prefix) && strings.EqualFold(trimmed[:len(c.prefix)], c.prefix)
}

func (c prefixCondition) String() string {
	return fmt.Sprintf("prefix(%q)", c.prefix)
}

type containsCondition struct {
	substr string
}

// Contains matches when the response contains the given text,
// case-insensitively.
func Contains(substr string) Condition {
	return containsCondition{substr: substr}
}

func (c containsCondition) Match(response string) bool {
	return strings.Contains(strings.ToLower(response), strings.ToLower(c.substr))
}

func (c containsCondition) String() string {
	return fmt.Sprintf("contains(%q)", c.substr)
}

type regexCondition struct {
	re *regexp.Regexp
}

// Regex matches the response against a compiled regular expression.
func Regex(expr string) (Condition, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile edge condition: %w", err)
	}
	return regexCondition{re: re}, nil
}

// MustRegex is Regex for statically known expressions; it panics on compile
// failure.
func MustRegex(expr string) Condition {
	c, err := Regex(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func (c regexCondition) Match(response string) bool {
	return c.re.MatchString(response)
}

func (c regexCondition) String() string {
	return fmt.Sprintf("regex(%q)", c.re.String())
}

type funcCondition struct {
	name string
	fn   func(string) bool
}

// Func wraps a custom predicate under a stable name for logging.
func Func(name string, fn func(string) bool) Condition {
	return funcCondition{name: name, fn: fn}
}

func (c funcCondition) Match(response string) bool {
	return c.fn(response)
}

func (c funcCondition) String() string {
	return fmt.Sprintf("func(%s)", c.name)
}

type defaultCondition struct{}

// Default always matches. Declared last on a node's edge list it acts as the
// "else" transition.
func Default() Condition {
	return defaultCondition{}
}

func (defaultCondition) Match(string) bool {
	return true
}

func (defaultCondition) String() string {
	return "default"
}
