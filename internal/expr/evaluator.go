package expr

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Env holds the request variables available to routing conditions.
type Env struct {
	Model      string `expr:"model"`
	Provider   string `expr:"provider"`
	HasFiles   bool   `expr:"has_files"`
	MessageLen int    `expr:"message_len"`
	WebSearch  bool   `expr:"web_search"`
	Streaming  bool   `expr:"streaming"`
}

// EvalBool evaluates a compiled condition against the given environment.
func (p *Program) EvalBool(env Env) (bool, error) {
	if p == nil || p.program == nil {
		return false, fmt.Errorf("nil compiled expression")
	}

	result, err := expr.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("expression eval error for %q: %w", p.Source, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", p.Source, result)
	}
	return b, nil
}
