// Package expr provides compile-time validation and runtime evaluation
// of the boolean conditions used in model routing rules.
package expr

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Program represents a compiled routing condition ready for evaluation.
type Program struct {
	Source  string
	program *vm.Program
}

// Compile validates and compiles a routing condition for later evaluation.
// Conditions are type-checked against Env and must yield a boolean.
func Compile(source string) (*Program, error) {
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}

	return &Program{
		Source:  source,
		program: program,
	}, nil
}

// ValidateSyntax checks if an expression is syntactically valid without
// compiling it against the routing environment.
func ValidateSyntax(source string) error {
	if source == "" {
		return fmt.Errorf("empty expression")
	}
	_, err := expr.Compile(source)
	if err != nil {
		return fmt.Errorf("invalid expression syntax: %w", err)
	}
	return nil
}
