// Package condition provides the node that selects the "true" or "false" outgoing edge.
package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

type Operator string

const (
	OperatorEquals     Operator = "equals"
	OperatorNotEquals  Operator = "not_equals"
	OperatorContains   Operator = "contains"
	OperatorNotContain Operator = "not_contains"
	OperatorStartsWith Operator = "starts_with"
	OperatorEndsWith   Operator = "ends_with"
	OperatorIsEmpty    Operator = "is_empty"
	OperatorIsNotEmpty Operator = "is_not_empty"
	OperatorGt         Operator = "gt"
	OperatorGte        Operator = "gte"
	OperatorLt         Operator = "lt"
	OperatorLte        Operator = "lte"
	OperatorIn         Operator = "in"
	OperatorNotIn      Operator = "not_in"
)

var Operators = []Operator{
	OperatorEquals, OperatorNotEquals,
	OperatorContains, OperatorNotContain, OperatorStartsWith, OperatorEndsWith,
	OperatorIsEmpty, OperatorIsNotEmpty,
	OperatorGt, OperatorGte, OperatorLt, OperatorLte,
	OperatorIn, OperatorNotIn,
}

// Node evaluates operator(context[field], value).
type Node struct {
	id       string
	field    string
	operator Operator
	value    any
}

func NewNode(node *models.Node) (*Node, error) {
	field := node.StringConfig("field")
	if field == "" {
		return nil, protocol.NewConfigurationError(node.ID, "missing required field 'field'", nil)
	}

	operator := Operator(node.StringConfig("operator"))
	if !isKnown(operator) {
		return nil, protocol.NewConfigurationError(node.ID, fmt.Sprintf("unknown operator %q", operator), nil)
	}

	return &Node{
		id:       node.ID,
		field:    field,
		operator: operator,
		value:    node.Config["value"],
	}, nil
}

func isKnown(operator Operator) bool {
	for _, known := range Operators {
		if known == operator {
			return true
		}
	}

	return false
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Type() models.NodeType {
	return models.NodeTypeCondition
}

func (n *Node) RequiredContext() []string {
	return nil
}

func (n *Node) Execute(_ context.Context, input protocol.Input) (protocol.Result, error) {
	actual := Lookup(input.Context, n.field)

	matched, err := Evaluate(n.operator, actual, n.value)
	if err != nil {
		return protocol.Result{}, protocol.NewConfigurationError(n.id, fmt.Sprintf("cannot evaluate %s on field %q", n.operator, n.field), err)
	}

	branch := models.EdgeLabelFalse
	if matched {
		branch = models.EdgeLabelTrue
	}

	return protocol.Result{
		Output: map[string]any{
			"condition_result": matched,
		},
		ConditionResult: &matched,
		SelectedBranch:  branch,
	}, nil
}

// Lookup resolves a dotted path against nested maps. A key containing dots
// is matched literally before the path is split.
func Lookup(data map[string]any, path string) any {
	if value, ok := data[path]; ok {
		return value
	}

	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil
	}

	nested, ok := data[head].(map[string]any)
	if !ok {
		return nil
	}

	return Lookup(nested, rest)
}

// Evaluate applies operator to the actual value and the configured literal.
func Evaluate(operator Operator, actual, literal any) (bool, error) {
	switch operator {
	case OperatorEquals:
		return equalsLiteral(actual, literal), nil
	case OperatorNotEquals:
		return !equalsLiteral(actual, literal), nil
	case OperatorContains:
		return strings.Contains(toString(actual), toString(literal)), nil
	case OperatorNotContain:
		return !strings.Contains(toString(actual), toString(literal)), nil
	case OperatorStartsWith:
		return strings.HasPrefix(toString(actual), toString(literal)), nil
	case OperatorEndsWith:
		return strings.HasSuffix(toString(actual), toString(literal)), nil
	case OperatorIsEmpty:
		return isEmpty(actual), nil
	case OperatorIsNotEmpty:
		return !isEmpty(actual), nil
	case OperatorGt, OperatorGte, OperatorLt, OperatorLte:
		return compare(operator, actual, literal)
	case OperatorIn, OperatorNotIn:
		members, ok := toList(literal)
		if !ok {
			return false, fmt.Errorf("operator %s requires a list literal, got %T", operator, literal)
		}

		found := false

		for _, member := range members {
			if equalsLiteral(actual, member) {
				found = true

				break
			}
		}

		if operator == OperatorIn {
			return found, nil
		}

		return !found, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// equalsLiteral coerces actual to the literal's type before comparing.
func equalsLiteral(actual, literal any) bool {
	if literal == nil {
		return actual == nil
	}

	if expected, ok := toNumber(literal); ok && isNumeric(literal) {
		got, ok := toNumber(actual)

		return ok && got == expected
	}

	if expected, ok := literal.(bool); ok {
		switch v := actual.(type) {
		case bool:
			return v == expected
		case string:
			parsed, err := strconv.ParseBool(v)

			return err == nil && parsed == expected
		default:
			return false
		}
	}

	if actual == nil {
		return false
	}

	return toString(actual) == toString(literal)
}

func compare(operator Operator, actual, literal any) (bool, error) {
	left, ok := toNumber(actual)
	if !ok {
		return false, fmt.Errorf("%w: %v", protocol.ErrNonNumericOperand, actual)
	}

	right, ok := toNumber(literal)
	if !ok {
		return false, fmt.Errorf("%w: %v", protocol.ErrNonNumericOperand, literal)
	}

	switch operator {
	case OperatorGt:
		return left > right, nil
	case OperatorGte:
		return left >= right, nil
	case OperatorLt:
		return left < right, nil
	default:
		return left <= right, nil
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func toList(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}

	if list, ok := value.([]any); ok {
		return list, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}

	return list, true
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	if s, ok := value.(string); ok {
		return s == ""
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}
