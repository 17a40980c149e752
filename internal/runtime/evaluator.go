package runtime

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator decides guard expressions against a variable environment.
type Evaluator interface {
	Evaluate(expression string, env map[string]any) (bool, error)
	Check(expression string) error
}

// ExprEvaluator evaluates guards with expr-lang. Expressions must produce a boolean;
// unknown variables evaluate to nil. Compiled programs are cached and shared across goroutines.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Check compiles the expression without running it.
func (e *ExprEvaluator) Check(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs the expression against env.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("guard %q returned %T, want bool", expression, out)
	}
	return b, nil
}

func (e *ExprEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile guard %q: %w", expression, err)
	}

	e.cache[expression] = prg
	return prg, nil
}
