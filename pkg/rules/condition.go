// Package rules implements the two trigger rule languages: the condition
// expression DSL evaluated against events, and the cron schedule clock.
package rules

import (
	"fmt"
	"strings"
)

// EvaluationError reports a malformed expression node or an operand the
// operator cannot work with. The trigger engine disables the offending
// rule and keeps going.
type EvaluationError struct {
	Node string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule node %q: %v", e.Node, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// EvalOptions control the behaviors the source left open.
type EvalOptions struct {
	// StrictVarLookup makes a missing var path an evaluation error
	// instead of the nil (falsy) sentinel.
	StrictVarLookup bool
}

// Expr is the condition expression tree. It is a closed sum: comparisons,
// n-ary boolean connectives, not, bool cast, var lookup, and literals.
type Expr interface {
	eval(event map[string]any, opts EvalOptions) (any, error)
}

// Comparison is eq, ne, gt, lt, ge or le over two subexpressions.
type Comparison struct {
	Op    string
	Left  Expr
	Right Expr
}

// Connective is the n-ary "and" / "or".
type Connective struct {
	Op   string
	Args []Expr
}

// Not negates the truthiness of its argument.
type Not struct{ Arg Expr }

// Bool casts its argument to truthiness.
type Bool struct{ Arg Expr }

// Var resolves a dot-delimited path against the event. An absent path
// evaluates to nil, which is falsy, unless StrictVarLookup is on.
type Var struct{ Path string }

// Literal is a constant leaf.
type Literal struct{ Value any }

func (c *Comparison) eval(event map[string]any, opts EvalOptions) (any, error) {
	left, err := c.Left.eval(event, opts)
	if err != nil {
		return nil, err
	}

	right, err := c.Right.eval(event, opts)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case "eq":
		return looseEqual(left, right), nil
	case "ne":
		return !looseEqual(left, right), nil
	case "gt", "lt", "ge", "le":
		return ordered(c.Op, left, right)
	default:
		return nil, &EvaluationError{Node: c.Op, Err: fmt.Errorf("unknown comparison operator")}
	}
}

func (c *Connective) eval(event map[string]any, opts EvalOptions) (any, error) {
	for _, arg := range c.Args {
		value, err := arg.eval(event, opts)
		if err != nil {
			return nil, err
		}

		truthy := Truthy(value)

		if c.Op == "and" && !truthy {
			return false, nil
		}

		if c.Op == "or" && truthy {
			return true, nil
		}
	}

	return c.Op == "and", nil
}

func (n *Not) eval(event map[string]any, opts EvalOptions) (any, error) {
	value, err := n.Arg.eval(event, opts)
	if err != nil {
		return nil, err
	}

	return !Truthy(value), nil
}

func (b *Bool) eval(event map[string]any, opts EvalOptions) (any, error) {
	value, err := b.Arg.eval(event, opts)
	if err != nil {
		return nil, err
	}

	return Truthy(value), nil
}

func (v *Var) eval(event map[string]any, opts EvalOptions) (any, error) {
	value, found := lookupPath(event, v.Path)
	if !found {
		if opts.StrictVarLookup {
			return nil, &EvaluationError{Node: "var", Err: fmt.Errorf("path %q not present in event", v.Path)}
		}

		return nil, nil
	}

	return value, nil
}

func (l *Literal) eval(map[string]any, EvalOptions) (any, error) {
	return l.Value, nil
}

// Evaluate runs the expression against the event and returns the
// truthiness of the root result.
func Evaluate(expr Expr, event map[string]any, opts EvalOptions) (bool, error) {
	value, err := expr.eval(event, opts)
	if err != nil {
		return false, err
	}

	return Truthy(value), nil
}

func lookupPath(data map[string]any, path string) (any, bool) {
	var value any = data

	for _, part := range strings.Split(path, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}

		value, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return value, true
}

// Truthy follows the DSL's casting rules: nil and zero values are false,
// everything else is true.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		if f, ok := asFloat(value); ok {
			return f != 0
		}

		return true
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// looseEqual compares with numeric normalization so 3 == 3.0 regardless of
// how the event payload was decoded.
func looseEqual(left, right any) bool {
	if lf, ok := asFloat(left); ok {
		if rf, ok := asFloat(right); ok {
			return lf == rf
		}

		return false
	}

	return left == right
}

func ordered(op string, left, right any) (any, error) {
	// A nil operand (e.g. a missing var path) never satisfies an ordered
	// comparison.
	if left == nil || right == nil {
		return false, nil
	}

	if lf, lok := asFloat(left); lok {
		rf, rok := asFloat(right)
		if !rok {
			return nil, &EvaluationError{Node: op, Err: fmt.Errorf("cannot compare number with %T", right)}
		}

		return compareOrdered(op, lf, rf), nil
	}

	if ls, lok := left.(string); lok {
		rs, rok := right.(string)
		if !rok {
			return nil, &EvaluationError{Node: op, Err: fmt.Errorf("cannot compare string with %T", right)}
		}

		return compareOrdered(op, ls, rs), nil
	}

	return nil, &EvaluationError{Node: op, Err: fmt.Errorf("unsupported operand type %T", left)}
}

func compareOrdered[T interface{ ~float64 | ~string }](op string, left, right T) bool {
	switch op {
	case "gt":
		return left > right
	case "lt":
		return left < right
	case "ge":
		return left >= right
	default:
		return left <= right
	}
}
