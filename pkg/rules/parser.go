package rules

import (
	"fmt"
)

// ParseCondition turns the JSON document form of a rule body into an
// expression tree. The document is one operator node: a single-key map
// whose key is the operator and whose value is the argument list, e.g.
//
//	{"and": [{"eq": [{"var": "type"}, "workflow_finished"]},
//	         {"eq": [{"var": "data.state"}, "failed"]}]}
//
// Scalar values parse as literals; {"var": "path"} parses as a lookup.
func ParseCondition(doc map[string]any) (Expr, error) {
	if len(doc) != 1 {
		return nil, &EvaluationError{Node: "root", Err: fmt.Errorf("operator node must have exactly one key, got %d", len(doc))}
	}

	var op string

	var raw any

	for key, value := range doc {
		op, raw = key, value
	}

	args := argList(raw)

	switch op {
	case "var":
		if len(args) != 1 {
			return nil, &EvaluationError{Node: "var", Err: fmt.Errorf("var takes exactly one path argument")}
		}

		path, ok := args[0].(string)
		if !ok {
			return nil, &EvaluationError{Node: "var", Err: fmt.Errorf("var path must be a string, got %T", args[0])}
		}

		return &Var{Path: path}, nil

	case "eq", "ne", "gt", "lt", "ge", "le":
		if len(args) != 2 {
			return nil, &EvaluationError{Node: op, Err: fmt.Errorf("%s takes exactly two arguments, got %d", op, len(args))}
		}

		left, err := parseArg(args[0])
		if err != nil {
			return nil, err
		}

		right, err := parseArg(args[1])
		if err != nil {
			return nil, err
		}

		return &Comparison{Op: op, Left: left, Right: right}, nil

	case "and", "or":
		if len(args) == 0 {
			return nil, &EvaluationError{Node: op, Err: fmt.Errorf("%s requires at least one argument", op)}
		}

		exprs := make([]Expr, 0, len(args))

		for _, arg := range args {
			expr, err := parseArg(arg)
			if err != nil {
				return nil, err
			}

			exprs = append(exprs, expr)
		}

		return &Connective{Op: op, Args: exprs}, nil

	case "not", "bool":
		if len(args) != 1 {
			return nil, &EvaluationError{Node: op, Err: fmt.Errorf("%s takes exactly one argument, got %d", op, len(args))}
		}

		arg, err := parseArg(args[0])
		if err != nil {
			return nil, err
		}

		if op == "not" {
			return &Not{Arg: arg}, nil
		}

		return &Bool{Arg: arg}, nil

	default:
		return nil, &EvaluationError{Node: op, Err: fmt.Errorf("unknown operator")}
	}
}

// argList normalizes the syntax sugar {"bool": x} => {"bool": [x]}.
func argList(raw any) []any {
	if list, ok := raw.([]any); ok {
		return list
	}

	return []any{raw}
}

func parseArg(raw any) (Expr, error) {
	if node, ok := raw.(map[string]any); ok {
		return ParseCondition(node)
	}

	return &Literal{Value: raw}, nil
}
