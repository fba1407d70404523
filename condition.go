package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ============================================================================
// CONDITION DSL (parsing)
// ============================================================================

const (
	// MaxConditionBytes bounds the raw condition document.
	MaxConditionBytes = 10 * 1024
	// MaxConditionDepth bounds operator nesting during evaluation.
	MaxConditionDepth = 10
)

var (
	ErrConditionTooLarge  = errors.New("condition document exceeds size limit")
	ErrTrailingContent    = errors.New("unexpected content after condition document")
	ErrMalformedCondition = errors.New("malformed condition")
)

// ConditionNode is a parsed condition. The variant set is closed: nodes are
// produced by ParseCondition (or NeverMatch) only.
type ConditionNode interface {
	String() string
	eval(attrs *Attributes, depth int) (bool, error)
}

type andNode struct{ children []ConditionNode }

type orNode struct{ children []ConditionNode }

type notNode struct{ child ConditionNode }

type compareOp uint8

const (
	opEq compareOp = iota
	opNe
	opGt
	opGte
	opLt
	opLte
)

var compareOpNames = [...]string{"eq", "ne", "gt", "gte", "lt", "lte"}

func (op compareOp) String() string { return compareOpNames[op] }

type compareNode struct {
	op   compareOp
	path string
	want Value
}

type inNode struct {
	path string
	want []Value
}

// neverNode is the fail-closed sentinel. It records the trigger so decision
// logs can name it.
type neverNode struct{ reason string }

// NeverMatch returns the sentinel condition that matches nothing. Parse
// failures degrade to it.
func NeverMatch() ConditionNode { return neverNode{reason: "unparseable"} }

func (n andNode) String() string { return "and(" + joinNodes(n.children) + ")" }
func (n orNode) String() string  { return "or(" + joinNodes(n.children) + ")" }
func (n notNode) String() string { return "not(" + n.child.String() + ")" }

func (n compareNode) String() string {
	return fmt.Sprintf("%s(%s, %s)", n.op, n.path, n.want.StringForm())
}

func (n inNode) String() string {
	forms := make([]string, 0, len(n.want))
	for _, w := range n.want {
		forms = append(forms, w.StringForm())
	}
	return fmt.Sprintf("in(%s, [%s])", n.path, strings.Join(forms, " "))
}

func (n neverNode) String() string { return "never(" + n.reason + ")" }

func joinNodes(nodes []ConditionNode) string {
	parts := make([]string, 0, len(nodes))
	for _, c := range nodes {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}

// ParseCondition compiles a JSON condition document. It never fails:
// oversized, syntactically broken, or misshapen input degrades to the
// never-matching sentinel so a bad policy can only withhold access.
func ParseCondition(text string) ConditionNode {
	node, err := parseCondition(text, nil)
	if err != nil {
		return NeverMatch()
	}
	return node
}

// ParseConditionStrict is the diagnostic variant for tooling: hard failures
// surface as errors and unknown operators are reported through warn. The
// affected node still parses, as the never-matching sentinel.
func ParseConditionStrict(text string, warn func(op string)) (ConditionNode, error) {
	return parseCondition(text, warn)
}

func parseCondition(text string, warn func(op string)) (ConditionNode, error) {
	if len(text) > MaxConditionBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrConditionTooLarge, len(text), MaxConditionBytes)
	}
	dec := json.NewDecoder(strings.NewReader(text))
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingContent
	}
	return buildNode(raw, warn)
}

func buildNode(raw any, warn func(op string)) (ConditionNode, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: node must be a JSON object", ErrMalformedCondition)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("%w: node must carry exactly one operator key, got %d", ErrMalformedCondition, len(obj))
	}
	var op string
	var operand any
	for k, v := range obj {
		op, operand = k, v
	}

	switch op {
	case "and", "or":
		items, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects an array of nodes", ErrMalformedCondition, op)
		}
		children := make([]ConditionNode, 0, len(items))
		for _, it := range items {
			child, err := buildNode(it, warn)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if op == "and" {
			return andNode{children: children}, nil
		}
		return orNode{children: children}, nil

	case "not":
		child, err := buildNode(operand, warn)
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil

	case "eq", "ne", "gt", "gte", "lt", "lte":
		path, lit, err := operandEntry(op, operand)
		if err != nil {
			return nil, err
		}
		want, err := literalValue(op, lit)
		if err != nil {
			return nil, err
		}
		var cop compareOp
		switch op {
		case "eq":
			cop = opEq
		case "ne":
			cop = opNe
		case "gt":
			cop = opGt
		case "gte":
			cop = opGte
		case "lt":
			cop = opLt
		case "lte":
			cop = opLte
		}
		return compareNode{op: cop, path: path, want: want}, nil

	case "in":
		path, lit, err := operandEntry(op, operand)
		if err != nil {
			return nil, err
		}
		items, ok := lit.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects an array target", ErrMalformedCondition, op)
		}
		want := make([]Value, 0, len(items))
		for _, it := range items {
			v, err := literalValue(op, it)
			if err != nil {
				return nil, err
			}
			want = append(want, v)
		}
		return inNode{path: path, want: want}, nil

	default:
		// Unknown operators stay local: the node can never match, but the
		// surrounding structure keeps its documented algebra.
		if warn != nil {
			warn(op)
		}
		return neverNode{reason: "unknown operator " + op}, nil
	}
}

// operandEntry unwraps the {"attribute.path": target} object carried by
// comparison and membership operators.
func operandEntry(op string, operand any) (string, any, error) {
	m, ok := operand.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q expects an object operand", ErrMalformedCondition, op)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%w: %q expects exactly one attribute path, got %d", ErrMalformedCondition, op, len(m))
	}
	for path, lit := range m {
		return path, lit, nil
	}
	return "", nil, fmt.Errorf("%w: empty operand", ErrMalformedCondition)
}

func literalValue(op string, raw any) (Value, error) {
	switch raw.(type) {
	case string, float64, bool:
		return FromAny(raw), nil
	}
	return Value{}, fmt.Errorf("%w: %q literals must be strings, numbers, or booleans", ErrMalformedCondition, op)
}
