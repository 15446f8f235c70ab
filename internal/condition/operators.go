package condition

import (
	"fmt"
	"math"
	"strings"
)

// Source resolves a dotted field reference against an event.
type Source interface {
	Resolve(path string) (any, bool)
}

// Outcome classifies a condition-tree evaluation. Errors are reported rather
// than swallowed so callers can log them, but for matching purposes an error
// means "did not match" (fail-closed).
type Outcome int

const (
	Matched Outcome = iota
	Unmatched
	Errored
)

// Result is the evaluation of one condition tree.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Satisfied reports whether the tree matched.
func (r Result) Satisfied() bool { return r.Outcome == Matched }

// Match evaluates a condition mapping against src. Every key is a field
// reference whose expected value is either a literal (equality) or an
// operator object; all keys are ANDed. An unknown operator fails the whole
// condition.
func Match(conds map[string]any, src Source) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: Errored, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	for path, expected := range conds {
		val, _ := src.Resolve(path)

		ops, isOp := expected.(map[string]any)
		if !isOp {
			if !equal(val, expected) {
				return Result{Outcome: Unmatched, Reason: path}
			}
			continue
		}

		for op, arg := range ops {
			ok, err := applyOperator(op, val, arg)
			if err != nil {
				return Result{Outcome: Errored, Reason: fmt.Sprintf("%s.%s: %v", path, op, err)}
			}
			if !ok {
				return Result{Outcome: Unmatched, Reason: fmt.Sprintf("%s.%s", path, op)}
			}
		}
	}
	return Result{Outcome: Matched}
}

func applyOperator(op string, val, arg any) (bool, error) {
	switch op {
	case "not":
		return !equal(val, arg), nil
	case "in":
		items, ok := arg.([]any)
		if !ok {
			return false, nil
		}
		return containsValue(items, val), nil
	case "not_in":
		items, ok := arg.([]any)
		if !ok {
			// Nothing is disallowed.
			return true, nil
		}
		return !containsValue(items, val), nil
	case "exists":
		want := truthy(arg)
		return (val != nil) == want, nil
	case "empty":
		want := truthy(arg)
		return isEmpty(val) == want, nil
	case "range":
		return inRange(val, arg)
	case "contains":
		return containsNeedle(val, arg), nil
	case "not_contains":
		return !containsNeedle(val, arg), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// isEmpty treats nil, the empty string and an empty list as empty.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	}
	return true
}

func containsValue(items []any, val any) bool {
	for _, it := range items {
		if equal(val, it) {
			return true
		}
	}
	return false
}

// inRange checks an inclusive numeric [lo, hi] bound.
func inRange(val, arg any) (bool, error) {
	bounds, ok := arg.([]any)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("range expects [lo, hi], got %v", arg)
	}
	v, okV := toFloat64(val)
	lo, okL := toFloat64(bounds[0])
	hi, okH := toFloat64(bounds[1])
	if !okL || !okH {
		return false, fmt.Errorf("range bounds must be numeric, got %v", arg)
	}
	if !okV {
		return false, nil
	}
	return v >= lo && v <= hi, nil
}

// containsNeedle does a case-insensitive substring test. The needle may be a
// single value or a list of values; any match satisfies.
func containsNeedle(val, arg any) bool {
	var haystack string
	switch t := val.(type) {
	case nil:
		haystack = ""
	case string:
		haystack = t
	default:
		haystack = fmt.Sprintf("%v", t)
	}
	haystack = strings.ToLower(haystack)

	needles, ok := arg.([]any)
	if !ok {
		needles = []any{arg}
	}
	for _, n := range needles {
		needle := strings.ToLower(fmt.Sprintf("%v", n))
		if needle != "" && strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// equal does deep-ish equality: numeric types are compared by value.
func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	// string fallback
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}
