package authz

import (
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// ATTRIBUTE MODEL
// ============================================================================

// Kind discriminates the representation held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is an attribute value carried through condition evaluation. Exactly
// one representation is set, selected by Kind. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func NullValue() Value            { return Value{} }
func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

func ListValue(items ...Value) Value { return Value{kind: KindList, list: items} }

func MapValue(fields map[string]Value) Value { return Value{kind: KindMap, m: fields} }

// FromAny converts a JSON-decoded tree (or plain Go scalars) into a Value.
// Unrecognized types are stringified rather than rejected.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int8:
		return NumberValue(float64(t))
	case int16:
		return NumberValue(float64(t))
	case int32:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case uint:
		return NumberValue(float64(t))
	case uint8:
		return NumberValue(float64(t))
	case uint16:
		return NumberValue(float64(t))
	case uint32:
		return NumberValue(float64(t))
	case uint64:
		return NumberValue(float64(t))
	case []any:
		items := make([]Value, 0, len(t))
		for _, it := range t {
			items = append(items, FromAny(it))
		}
		return ListValue(items...)
	case []string:
		items := make([]Value, 0, len(t))
		for _, s := range t {
			items = append(items, StringValue(s))
		}
		return ListValue(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, fv := range t {
			fields[k] = FromAny(fv)
		}
		return MapValue(fields)
	default:
		return StringValue(fmt.Sprint(v))
	}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Items returns the elements of a list value, nil otherwise.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Field looks up a key of a map value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return NullValue(), false
	}
	fv, ok := v.m[name]
	if !ok {
		return NullValue(), false
	}
	return fv, true
}

// Equal is kind-sensitive: values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, fv := range v.m {
			ov, ok := o.m[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// StringForm renders the value for string-based membership comparison.
// Numbers drop trailing zeros ("18", not "18.000000") so that a numeric
// target literal and a numeric attribute meet on the same form.
func (v Value) StringForm() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	}
	return ""
}

// NumberForm coerces the value for ordering comparison. Numbers pass
// through, numeric strings parse, and everything else (null, bool, list,
// map, non-numeric string) collapses to 0.0. A missing attribute therefore
// compares as zero, which makes "gt" against a negative literal succeed;
// that long-standing behavior is kept on purpose.
func (v Value) NumberForm() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Attributes carries the three evaluation namespaces. Instances are built
// per evaluation call and never mutated afterwards.
type Attributes struct {
	subject  map[string]Value
	resource map[string]Value
	context  map[string]Value
}

// NewAttributes converts the caller's loosely-typed maps once, up front, so
// evaluation works on tagged values only.
func NewAttributes(subject, resource, context map[string]any) *Attributes {
	return &Attributes{
		subject:  toValueMap(subject),
		resource: toValueMap(resource),
		context:  toValueMap(context),
	}
}

func toValueMap(in map[string]any) map[string]Value {
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = FromAny(v)
	}
	return out
}

// Resolve walks a dot-delimited attribute path such as "subject.dept.code".
// The first segment selects the namespace; any missing segment or traversal
// into a non-map yields null, never an error.
func (a *Attributes) Resolve(path string) Value {
	ns, rest, _ := strings.Cut(path, ".")
	var m map[string]Value
	switch ns {
	case "subject":
		m = a.subject
	case "resource":
		m = a.resource
	case "context":
		m = a.context
	default:
		return NullValue()
	}
	if rest == "" {
		return MapValue(m)
	}
	cur := MapValue(m)
	for rest != "" {
		var seg string
		seg, rest, _ = strings.Cut(rest, ".")
		next, ok := cur.Field(seg)
		if !ok {
			return NullValue()
		}
		cur = next
	}
	return cur
}
