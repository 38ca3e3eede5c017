package variables

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// Eval interpolates ${name} markers in expression and evaluates the result
// with expr-lang. Bound variables are also visible as bare identifiers, so
// both `${count} < 3` and `status == "ok"` work.
func (v *Variables) Eval(expression string) (any, error) {
	code, err := v.Interpolate(expression)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	env := v.Snapshot()
	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", code, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", code, err)
	}
	return out, nil
}

// EvalBool evaluates a condition. The result must be a boolean.
func (v *Variables) EvalBool(expression string) (bool, error) {
	code, err := v.Interpolate(expression)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(code) == "" {
		return false, fmt.Errorf("empty condition")
	}

	env := v.Snapshot()
	program, err := expr.Compile(code, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", code, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", code, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not produce a boolean", code)
	}
	return b, nil
}
