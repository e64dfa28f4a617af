package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EvalError describes an expression that parsed but cannot be evaluated
// against the bound result, such as len() of an unsized value or an
// ordering comparison between incomparable types.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string {
	return "condition evaluation error: " + e.Msg
}

// Evaluate parses the expression and evaluates it against root, the
// caller-supplied object that "result" resolves to. The and/or
// connectives are folded strictly left to right with no precedence;
// every clause is evaluated.
func Evaluate(expr string, root any) (bool, error) {
	parsed, err := parse(expr)
	if err != nil {
		return false, err
	}
	return parsed.eval(root)
}

// Validate parses the expression without evaluating it, reporting any
// syntax error.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// eval folds the comparison clauses left to right.
func (e *expression) eval(root any) (bool, error) {
	result, err := evalComparison(e.comparisons[0], root)
	if err != nil {
		return false, err
	}
	for i, conn := range e.connectives {
		rhs, err := evalComparison(e.comparisons[i+1], root)
		if err != nil {
			return false, err
		}
		if conn == "and" {
			result = result && rhs
		} else {
			result = result || rhs
		}
	}
	return result, nil
}

// evalComparison evaluates one clause.
func evalComparison(node comparisonNode, root any) (bool, error) {
	switch c := node.(type) {
	case boolLiteral:
		return bool(c), nil
	case *nullCheck:
		val, err := c.acc.resolve(root)
		if err != nil {
			return false, err
		}
		if c.negated {
			return val != nil, nil
		}
		return val == nil, nil
	case *binaryComparison:
		lhs, err := c.acc.resolve(root)
		if err != nil {
			return false, err
		}
		return compare(lhs, c.op, c.value, c.acc.text)
	default:
		return false, &EvalError{Msg: fmt.Sprintf("unknown comparison node %T", node)}
	}
}

// resolve walks the accessor against root. Dotted lookups short-circuit
// to null the instant any intermediate value is null or not a map; only
// len() of an unsized value is an error.
func (a *accessor) resolve(root any) (any, error) {
	if a.length != nil {
		inner, err := a.length.resolve(root)
		if err != nil {
			return nil, err
		}
		n, ok := sizeOf(inner)
		if !ok {
			return nil, &EvalError{Msg: fmt.Sprintf("len(%s): value is not a sized type", a.length.text)}
		}
		return float64(n), nil
	}

	current := root
	for _, field := range a.path {
		if current == nil {
			return nil, nil
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}
		current = m[field]
	}
	return current, nil
}

// sizeOf reports the length of a sized value.
func sizeOf(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return len(t), true
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	}
	return 0, false
}

// compare applies a binary operator. Equality coerces the right operand
// toward the left operand's type; ordering requires both sides to be
// comparable as numbers or as strings.
func compare(lhs any, op string, rhs any, accText string) (bool, error) {
	switch op {
	case "==":
		return looselyEqual(lhs, rhs), nil
	case "!=":
		return !looselyEqual(lhs, rhs), nil
	case "contains":
		return containsValue(lhs, rhs, accText)
	case ">", "<", ">=", "<=":
		return orderValues(lhs, op, rhs, accText)
	default:
		return false, &EvalError{Msg: fmt.Sprintf("unknown operator %q", op)}
	}
}

// looselyEqual compares with best-effort coercion toward lhs's type.
func looselyEqual(lhs, rhs any) bool {
	if lhs == nil || rhs == nil {
		return lhs == nil && rhs == nil
	}
	switch l := lhs.(type) {
	case bool:
		switch r := rhs.(type) {
		case bool:
			return l == r
		case string:
			return strconv.FormatBool(l) == r
		}
		return false
	case string:
		return l == stringify(rhs)
	}
	if lf, ok := toFloat(lhs); ok {
		if rf, ok := coerceFloat(rhs); ok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(lhs, rhs)
}

// orderValues applies an ordering operator.
func orderValues(lhs any, op string, rhs any, accText string) (bool, error) {
	if lf, lok := toFloat(lhs); lok {
		rf, rok := coerceFloat(rhs)
		if !rok {
			return false, &EvalError{Msg: fmt.Sprintf("%s %s: right operand %v is not a number", accText, op, rhs)}
		}
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	ls, lok := lhs.(string)
	rs, rok := rhs.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}
	return false, &EvalError{Msg: fmt.Sprintf("%s %s: cannot order %T against %T", accText, op, lhs, rhs)}
}

// containsValue implements the contains operator for strings, lists,
// and maps (key membership).
func containsValue(lhs, rhs any, accText string) (bool, error) {
	switch l := lhs.(type) {
	case string:
		return strings.Contains(l, stringify(rhs)), nil
	case []any:
		for _, elem := range l {
			if looselyEqual(elem, rhs) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := l[stringify(rhs)]
		return ok, nil
	}
	return false, &EvalError{Msg: fmt.Sprintf("%s contains: value of type %T is not a container", accText, lhs)}
}

// toFloat converts native numeric types.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// coerceFloat converts numerics and numeric strings.
func coerceFloat(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// stringify renders a value the way a user would have written it.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", v)
}
