package condition

import (
	"fmt"
)

// Eval walks a value-expression AST with the resolved source value bound to
// "value". The result is a float64, bool or string depending on the
// expression; arithmetic over non-numeric operands is an error, which callers
// translate into the rule's declared default.
func Eval(expr Expr, value any) (any, error) {
	switch e := expr.(type) {
	case *ValueRef:
		return value, nil
	case *Literal:
		return e.Value, nil
	case *ArithExpr:
		return evalArith(e, value)
	case *CompareExpr:
		return evalCompare(e, value)
	default:
		return nil, fmt.Errorf("unknown expr type %T", expr)
	}
}

func evalArith(e *ArithExpr, value any) (any, error) {
	left, err := Eval(e.Left, value)
	if err != nil {
		return nil, err
	}
	right, err := Eval(e.Right, value)
	if err != nil {
		return nil, err
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s requires numeric operands, got %T and %T", e.Op, left, right)
	}
	switch e.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown arithmetic op %q", e.Op)
}

func evalCompare(e *CompareExpr, value any) (any, error) {
	left, err := Eval(e.Left, value)
	if err != nil {
		return nil, err
	}
	right, err := Eval(e.Right, value)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s requires numeric operands, got %T and %T", e.Op, left, right)
	}
	switch e.Op {
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	}
	return nil, fmt.Errorf("unknown comparison op %q", e.Op)
}
