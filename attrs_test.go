package authz

import "testing"

func TestFromAnyKinds(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{nil, KindNull},
		{"hello", KindString},
		{true, KindBool},
		{3.14, KindNumber},
		{42, KindNumber},
		{int64(7), KindNumber},
		{uint32(9), KindNumber},
		{[]any{"a", 1}, KindList},
		{[]string{"a", "b"}, KindList},
		{map[string]any{"k": "v"}, KindMap},
		{struct{}{}, KindString},
	}
	for _, c := range cases {
		if got := FromAny(c.in).Kind(); got != c.kind {
			t.Fatalf("FromAny(%v): kind %v, want %v", c.in, got, c.kind)
		}
	}
}

func TestValueEqualIsKindSensitive(t *testing.T) {
	if StringValue("18").Equal(NumberValue(18)) {
		t.Fatalf("string and number must not compare equal")
	}
	if !NumberValue(18).Equal(FromAny(18.0)) {
		t.Fatalf("same number must compare equal")
	}
	if !FromAny([]any{"a", 1.0}).Equal(ListValue(StringValue("a"), NumberValue(1))) {
		t.Fatalf("element-equal lists must compare equal")
	}
	if FromAny([]any{"a"}).Equal(FromAny([]any{"a", "b"})) {
		t.Fatalf("lists of different length must not compare equal")
	}
	if !FromAny(map[string]any{"x": 1.0}).Equal(MapValue(map[string]Value{"x": NumberValue(1)})) {
		t.Fatalf("key-equal maps must compare equal")
	}
	if !NullValue().Equal(FromAny(nil)) {
		t.Fatalf("null equals null")
	}
}

func TestStringForm(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NumberValue(18), "18"},
		{NumberValue(18.5), "18.5"},
		{StringValue("x"), "x"},
		{BoolValue(true), "true"},
		{BoolValue(false), "false"},
		{NullValue(), ""},
		{ListValue(StringValue("a")), ""},
	}
	for _, c := range cases {
		if got := c.v.StringForm(); got != c.want {
			t.Fatalf("StringForm: got %q, want %q", got, c.want)
		}
	}
}

func TestNumberForm(t *testing.T) {
	cases := []struct {
		v    Value
		want float64
	}{
		{NumberValue(2.5), 2.5},
		{StringValue("42.5"), 42.5},
		{StringValue(" 7 "), 7},
		{StringValue("abc"), 0},
		{BoolValue(true), 0},
		{NullValue(), 0},
		{ListValue(NumberValue(1)), 0},
	}
	for _, c := range cases {
		if got := c.v.NumberForm(); got != c.want {
			t.Fatalf("NumberForm: got %v, want %v", got, c.want)
		}
	}
}

func TestResolvePaths(t *testing.T) {
	attrs := NewAttributes(
		map[string]any{
			"userId": "42",
			"dept":   map[string]any{"code": "eng", "floor": 3},
		},
		map[string]any{"ownerId": "42"},
		map[string]any{"channel": "web"},
	)

	if got := attrs.Resolve("subject.userId"); !got.Equal(StringValue("42")) {
		t.Fatalf("subject.userId: got %v", got)
	}
	if got := attrs.Resolve("subject.dept.code"); !got.Equal(StringValue("eng")) {
		t.Fatalf("nested path: got %v", got)
	}
	if got := attrs.Resolve("resource.ownerId"); !got.Equal(StringValue("42")) {
		t.Fatalf("resource namespace: got %v", got)
	}
	if got := attrs.Resolve("context.channel"); !got.Equal(StringValue("web")) {
		t.Fatalf("context namespace: got %v", got)
	}
	if got := attrs.Resolve("subject.missing"); !got.IsNull() {
		t.Fatalf("missing attribute should resolve null, got %v", got)
	}
	if got := attrs.Resolve("subject.userId.deeper"); !got.IsNull() {
		t.Fatalf("traversal into a scalar should resolve null, got %v", got)
	}
	if got := attrs.Resolve("unknown.x"); !got.IsNull() {
		t.Fatalf("unknown namespace should resolve null, got %v", got)
	}
	if got := attrs.Resolve("subject"); got.Kind() != KindMap {
		t.Fatalf("bare namespace should resolve to a map, got kind %v", got.Kind())
	}
}
