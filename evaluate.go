package authz

import "errors"

// ============================================================================
// CONDITION EVALUATION
// ============================================================================

// errTooDeep aborts the whole evaluation rather than scoring a single node
// false, so enclosing "not" nodes cannot flip a tripped guard into a match.
var errTooDeep = errors.New("condition nesting exceeds max depth")

// EvaluateCondition applies a parsed condition to the given attributes.
// Every failure path, the depth guard included, yields false.
func EvaluateCondition(node ConditionNode, attrs *Attributes) bool {
	ok, err := node.eval(attrs, 0)
	if err != nil {
		return false
	}
	return ok
}

func (n andNode) eval(attrs *Attributes, depth int) (bool, error) {
	if depth >= MaxConditionDepth {
		return false, errTooDeep
	}
	for _, c := range n.children {
		ok, err := c.eval(attrs, depth+1)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil // vacuous truth: and([]) holds
}

func (n orNode) eval(attrs *Attributes, depth int) (bool, error) {
	if depth >= MaxConditionDepth {
		return false, errTooDeep
	}
	for _, c := range n.children {
		ok, err := c.eval(attrs, depth+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil // or([]) matches nothing
}

func (n notNode) eval(attrs *Attributes, depth int) (bool, error) {
	if depth >= MaxConditionDepth {
		return false, errTooDeep
	}
	ok, err := n.child.eval(attrs, depth+1)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (n compareNode) eval(attrs *Attributes, depth int) (bool, error) {
	if depth >= MaxConditionDepth {
		return false, errTooDeep
	}
	got := attrs.Resolve(n.path)
	switch n.op {
	case opEq:
		return got.Equal(n.want), nil
	case opNe:
		// A resolution miss is a definite non-match for every comparison,
		// so ne over a missing attribute is false, not the negation of eq.
		if got.IsNull() {
			return false, nil
		}
		return !got.Equal(n.want), nil
	}
	// Ordering operators coerce both sides numerically; missing and
	// non-numeric operands become 0.0 (see Value.NumberForm).
	l, r := got.NumberForm(), n.want.NumberForm()
	switch n.op {
	case opGt:
		return l > r, nil
	case opGte:
		return l >= r, nil
	case opLt:
		return l < r, nil
	case opLte:
		return l <= r, nil
	}
	return false, nil
}

func (n inNode) eval(attrs *Attributes, depth int) (bool, error) {
	if depth >= MaxConditionDepth {
		return false, errTooDeep
	}
	got := attrs.Resolve(n.path)
	switch got.Kind() {
	case KindNull, KindMap:
		return false, nil
	case KindList:
		// Collection attributes match element-wise on string form.
		for _, item := range got.Items() {
			if item.IsNull() {
				continue
			}
			if n.contains(item.StringForm()) {
				return true, nil
			}
		}
		return false, nil
	}
	return n.contains(got.StringForm()), nil
}

func (n inNode) contains(form string) bool {
	for _, w := range n.want {
		if w.StringForm() == form {
			return true
		}
	}
	return false
}

func (n neverNode) eval(attrs *Attributes, depth int) (bool, error) {
	return false, nil
}
