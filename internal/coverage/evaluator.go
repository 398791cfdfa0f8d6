package coverage

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// DefaultPassExpression decides whether evidence attributes describe a
// complete or passing result.
const DefaultPassExpression = `has(attrs.result) && string(attrs.result).lowerAscii() in ["complete", "completed", "pass", "passed", "passing", "compliant", "success"]`

// Evaluator runs a CEL boolean expression over evidence attributes. Compiled
// programs are cached per expression.
type Evaluator struct {
	env  *cel.Env
	expr string

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator builds an evaluator for expr, or DefaultPassExpression when
// expr is empty. The expression is compiled up front so configuration
// errors surface at startup.
func NewEvaluator(expr string) (*Evaluator, error) {
	if expr == "" {
		expr = DefaultPassExpression
	}
	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	e := &Evaluator{env: env, expr: expr, programs: make(map[string]cel.Program)}
	if _, err := e.program(expr); err != nil {
		return nil, err
	}
	return e, nil
}

// Expression returns the configured pass expression.
func (e *Evaluator) Expression() string { return e.expr }

// Passes reports whether attrs satisfy the pass expression.
func (e *Evaluator) Passes(attrs map[string]any) (bool, error) {
	prg, err := e.program(e.expr)
	if err != nil {
		return false, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{"attrs": attrs})
	if err != nil {
		return false, fmt.Errorf("evaluating pass expression: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("pass expression returned %s, want bool", out.Type())
	}
	return ok, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling pass expression: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("pass expression must be boolean, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("building pass program: %w", err)
	}
	e.programs[expr] = prg
	return prg, nil
}
