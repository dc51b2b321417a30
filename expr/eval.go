package expr

import (
	"fmt"

	"github.com/sdapipe/landscape/landscaperr"
)

// evalNode evaluates a parsed AST node against row. Operators are
// dispatched by the switch statements in this file, not by package-level
// operator maps, so evaluation reads no process-wide mutable operator
// state.
func evalNode(n node, row Row) (any, error) {
	switch n.kind {
	case nodeLiteral:
		return n.lit, nil

	case nodeRowSubscript:
		var cur any = row
		for _, k := range n.keys {
			m, ok := cur.(Row)
			if !ok {
				if asMap, ok2 := cur.(map[string]any); ok2 {
					m = asMap
				} else {
					return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval",
						fmt.Sprintf("cannot subscript non-mapping value at key %q", k))
				}
			}
			v, ok := m[k]
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval",
					fmt.Sprintf("row has no key %q", k))
			}
			cur = v
		}
		return cur, nil

	case nodeList:
		out := make([]any, len(n.items))
		for i, item := range n.items {
			v, err := evalNode(*item, row)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case nodeUnary:
		v, err := evalNode(*n.expr, row)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "not":
			b, ok := v.(bool)
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "operand of 'not' is not a boolean")
			}
			return !b, nil
		case "-":
			return negate(v)
		}
		return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "unknown unary operator "+n.op)

	case nodeBinary:
		left, err := evalNode(*n.left, row)
		if err != nil {
			return nil, err
		}
		// Short-circuit and/or.
		if n.binOp == "and" {
			lb, ok := left.(bool)
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "left operand of 'and' is not a boolean")
			}
			if !lb {
				return false, nil
			}
			right, err := evalNode(*n.right, row)
			if err != nil {
				return nil, err
			}
			rb, ok := right.(bool)
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "right operand of 'and' is not a boolean")
			}
			return rb, nil
		}
		if n.binOp == "or" {
			lb, ok := left.(bool)
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "left operand of 'or' is not a boolean")
			}
			if lb {
				return true, nil
			}
			right, err := evalNode(*n.right, row)
			if err != nil {
				return nil, err
			}
			rb, ok := right.(bool)
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "right operand of 'or' is not a boolean")
			}
			return rb, nil
		}

		right, err := evalNode(*n.right, row)
		if err != nil {
			return nil, err
		}
		return evalBinaryOp(n.binOp, left, right)
	}

	return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "unknown node kind")
}

func evalBinaryOp(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(op, left, right)
	case "in":
		return containment(left, right)
	case "not in":
		v, err := containment(left, right)
		if err != nil {
			return nil, err
		}
		return !v.(bool), nil
	case "+", "-", "*", "/", "%":
		return arith(op, left, right)
	}
	return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "unknown binary operator "+op)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareOrdered(op string, a, b any) (any, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf, nil
		case "<=":
			return af <= bf, nil
		case ">":
			return af > bf, nil
		case ">=":
			return af >= bf, nil
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		case ">":
			return as > bs, nil
		case ">=":
			return as >= bs, nil
		}
	}
	return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval",
		fmt.Sprintf("cannot compare %T and %T with %s", a, b, op))
}

func containment(needle, haystack any) (any, error) {
	list, ok := haystack.([]any)
	if !ok {
		if s, ok := haystack.(string); ok {
			sub, ok := needle.(string)
			if !ok {
				return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "'in' on a string requires a string operand")
			}
			return contains(s, sub), nil
		}
		return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "'in' requires a list or string right-hand side")
	}
	for _, el := range list {
		if equalValues(needle, el) {
			return true, nil
		}
	}
	return false, nil
}

func contains(s, sub string) bool {
	return len(sub) == 0 || indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func arith(op string, a, b any) (any, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval",
			fmt.Sprintf("arithmetic operator %s requires numeric operands, got %T and %T", op, a, b))
	}
	_, aIsInt := a.(int64)
	_, bIsInt := b.(int64)
	bothInt := aIsInt && bIsInt

	switch op {
	case "+":
		if bothInt {
			return a.(int64) + b.(int64), nil
		}
		return af + bf, nil
	case "-":
		if bothInt {
			return a.(int64) - b.(int64), nil
		}
		return af - bf, nil
	case "*":
		if bothInt {
			return a.(int64) * b.(int64), nil
		}
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "division by zero")
		}
		return af / bf, nil
	case "%":
		if bf == 0 {
			return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "modulo by zero")
		}
		if bothInt {
			ai, bi := a.(int64), b.(int64)
			return ai % bi, nil
		}
		return mod(af, bf), nil
	}
	return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", "unknown arithmetic operator "+op)
}

func mod(a, b float64) float64 {
	r := a - b*float64(int64(a/b))
	return r
}

func negate(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return -x, nil
	case float64:
		return -x, nil
	}
	return nil, landscaperr.New(landscaperr.KindEvaluationError, "expr.Eval", fmt.Sprintf("cannot negate %T", v))
}
