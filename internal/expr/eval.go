package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrType is returned when operands cannot be ordered against each other.
var ErrType = errors.New("expression type error")

// Eval evaluates n against env. Unknown variables evaluate to nil.
func Eval(n Node, env map[string]any) (any, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil
	case *Variable:
		return lookup(env, n.Path), nil
	case *Not:
		v, err := Eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	case *Logical:
		l, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpAnd:
			if !Truthy(l) {
				return false, nil
			}
		case OpOr:
			if Truthy(l) {
				return true, nil
			}
		default:
			return nil, fmt.Errorf("%w: unknown operator %q", ErrSyntax, n.Op)
		}
		r, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case *Comparison:
		l, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		r, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return compare(n.Op, l, r)
	case nil:
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unknown node %T", ErrSyntax, n)
}

// EvalBool evaluates n and reports its truthiness.
func EvalBool(n Node, env map[string]any) (bool, error) {
	v, err := Eval(n, env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Evaluate parses and evaluates src in one call.
func Evaluate(src string, env map[string]any) (bool, error) {
	n, err := Parse(src)
	if err != nil {
		return false, err
	}
	return EvalBool(n, env)
}

// Truthy: nil, false, 0 and "" are false; everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func compare(op CompareOp, l, r any) (bool, error) {
	if lf, ok := toFloat(l); ok {
		if rf, ok := toFloat(r); ok {
			return compareOrdered(op, lf, rf)
		}
	}
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return compareOrdered(op, ls, rs)
		}
	}

	switch op {
	case OpEq:
		return equal(l, r), nil
	case OpNe:
		return !equal(l, r), nil
	}
	return false, fmt.Errorf("%w: cannot apply %s to %T and %T", ErrType, op, l, r)
}

func compareOrdered[T float64 | string](op CompareOp, l, r T) (bool, error) {
	switch op {
	case OpEq:
		return l == r, nil
	case OpNe:
		return l != r, nil
	case OpLt:
		return l < r, nil
	case OpLe:
		return l <= r, nil
	case OpGt:
		return l > r, nil
	case OpGe:
		return l >= r, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrSyntax, op)
}

func equal(l, r any) bool {
	switch lv := l.(type) {
	case nil:
		return r == nil
	case bool:
		rv, ok := r.(bool)
		return ok && lv == rv
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	}
	return 0, false
}

// lookup walks path through nested maps and slices. Slice segments are
// decimal indexes.
func lookup(env map[string]any, path []string) any {
	var cur any = env
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil
			}
			cur = v
		case map[string]string:
			v, ok := c[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil
			}
			cur = c[i]
		default:
			return nil
		}
	}
	return cur
}
