package core

import (
	"fmt"
	"strings"
)

// Condition tree operators.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// FieldPredicate maps comparator names to operands for a single field,
// e.g. {"gt": 10000000}. All comparators in the predicate must hold.
type FieldPredicate map[string]interface{}

// ConditionNode is one node of a boolean condition tree over event
// fields. Field predicates and child nodes are combined with the node
// operator (AND unless "OR" is declared); Negated inverts the result.
type ConditionNode struct {
	Operator string                    `json:"operator,omitempty" bson:"operator,omitempty" yaml:"operator,omitempty"`
	Negated  bool                      `json:"negated,omitempty" bson:"negated,omitempty" yaml:"negated,omitempty"`
	Fields   map[string]FieldPredicate `json:"fields,omitempty" bson:"fields,omitempty" yaml:"fields,omitempty"`
	Children []*ConditionNode          `json:"children,omitempty" bson:"children,omitempty" yaml:"children,omitempty"`
}

// Evaluate runs the condition tree against an event. A malformed tree
// (unknown comparator, type mismatch on an ordered comparison) returns
// an error so callers can treat it as a non-match.
func (n *ConditionNode) Evaluate(e *Event) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("condition tree is nil")
	}
	or := strings.EqualFold(n.Operator, OperatorOr)

	matchedAny := false
	evaluated := 0
	for path, predicate := range n.Fields {
		ok, err := predicate.evaluate(e, path)
		if err != nil {
			return false, err
		}
		evaluated++
		if ok {
			matchedAny = true
		} else if !or {
			return n.Negated, nil
		}
	}
	for _, child := range n.Children {
		ok, err := child.Evaluate(e)
		if err != nil {
			return false, err
		}
		evaluated++
		if ok {
			matchedAny = true
		} else if !or {
			return n.Negated, nil
		}
	}

	if evaluated == 0 {
		return false, fmt.Errorf("condition node has no fields or children")
	}
	result := matchedAny
	if !or {
		// Every term held, or we would have returned above.
		result = true
	}
	if n.Negated {
		result = !result
	}
	return result, nil
}

func (p FieldPredicate) evaluate(e *Event, path string) (bool, error) {
	if len(p) == 0 {
		return false, fmt.Errorf("empty predicate for field %q", path)
	}
	for comparator, operand := range p {
		ok, err := compare(e, path, comparator, operand)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compare(e *Event, path, comparator string, operand interface{}) (bool, error) {
	value, present := e.Field(path)

	switch comparator {
	case "exists":
		want, ok := operand.(bool)
		if !ok {
			return false, fmt.Errorf("exists operand for %q must be a bool", path)
		}
		return present == want, nil
	case "eq":
		return present && looseEqual(value, operand), nil
	case "neq":
		return !present || !looseEqual(value, operand), nil
	}

	if !present {
		return false, nil
	}

	switch comparator {
	case "gt", "gte", "lt", "lte":
		left, lok := CoerceFloat(value)
		right, rok := CoerceFloat(operand)
		if !lok || !rok {
			return false, fmt.Errorf("comparator %q on %q requires numeric operands", comparator, path)
		}
		switch comparator {
		case "gt":
			return left > right, nil
		case "gte":
			return left >= right, nil
		case "lt":
			return left < right, nil
		default:
			return left <= right, nil
		}
	case "contains", "startsWith", "endsWith":
		left, lok := CoerceString(value)
		right, rok := CoerceString(operand)
		if !lok || !rok {
			return false, fmt.Errorf("comparator %q on %q requires string operands", comparator, path)
		}
		switch comparator {
		case "contains":
			return strings.Contains(left, right), nil
		case "startsWith":
			return strings.HasPrefix(left, right), nil
		default:
			return strings.HasSuffix(left, right), nil
		}
	case "in", "nin":
		members, ok := operand.([]interface{})
		if !ok {
			return false, fmt.Errorf("comparator %q on %q requires a list operand", comparator, path)
		}
		found := false
		for _, m := range members {
			if looseEqual(value, m) {
				found = true
				break
			}
		}
		if comparator == "in" {
			return found, nil
		}
		return !found, nil
	default:
		return false, fmt.Errorf("unknown comparator %q for field %q", comparator, path)
	}
}

// looseEqual compares two scalars numerically when both coerce to
// numbers, falling back to string comparison otherwise. This keeps JSON
// (float64) and YAML (int) rule payloads interchangeable.
func looseEqual(a, b interface{}) bool {
	if fa, ok := CoerceFloat(a); ok {
		if fb, ok := CoerceFloat(b); ok {
			return fa == fb
		}
	}
	sa, aok := CoerceString(a)
	sb, bok := CoerceString(b)
	return aok && bok && sa == sb
}
