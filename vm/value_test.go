package vm

import (
	"strings"
	"testing"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{int64(0), false},
		{int64(-1), true},
		{0.0, false},
		{"", false},
		{"x", true},
		{Bytes{}, false},
		{NewList(), false},
		{NewList(nil), true},
		{NewDict(), false},
	}
	for _, tc := range tests {
		if got := Truthy(tc.v); got != tc.want {
			t.Errorf("Truthy(%s) = %v, want %v", Repr(tc.v), got, tc.want)
		}
	}
}

func TestEqual(t *testing.T) {
	d1 := NewDict()
	d1.Set("a", NewList(int64(1)))
	d2 := NewDict()
	d2.Set("a", NewList(1.0))

	tests := []struct {
		a, b Value
		want bool
	}{
		{int64(1), 1.0, true},
		{int64(1), "1", false},
		{nil, nil, true},
		{nil, false, false},
		{Bytes("ab"), Bytes("ab"), true},
		{NewList(int64(1), "x"), NewList(int64(1), "x"), true},
		{NewList(int64(1)), NewList(int64(1), int64(2)), false},
		{d1, d2, true},
	}
	for _, tc := range tests {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("Equal(%s, %s) = %v, want %v", Repr(tc.a), Repr(tc.b), got, tc.want)
		}
	}
}

func TestDictOrderAndKeys(t *testing.T) {
	d := NewDict()
	d.Set("z", int64(1))
	d.Set(int64(2), int64(2))
	d.Set("a", int64(3))
	d.Set(2.0, int64(4)) // same key as int 2

	if d.Len() != 3 {
		t.Fatalf("Len = %d, want 3", d.Len())
	}
	if got := Repr(d); got != `{"z": 1, 2: 4, "a": 3}` {
		t.Errorf("Repr = %s", got)
	}
	if err := d.Set(NewList(), nil); err == nil {
		t.Error("list keys should be rejected")
	}
	if _, ok, _ := d.Get("missing"); ok {
		t.Error("Get(missing) reported found")
	}
}

func TestRepr(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{nil, "nil"},
		{int64(-3), "-3"},
		{2.0, "2.0"},
		{1e21, "1e+21"},
		{"a\"b", `"a\"b"`},
		{Bytes{1, 2}, "bytes(2)"},
		{&Builtin{Name: "len"}, "<builtin len>"},
	}
	for _, tc := range tests {
		if got := Repr(tc.v); got != tc.want {
			t.Errorf("Repr = %s, want %s", got, tc.want)
		}
	}
	if ToString("plain") != "plain" {
		t.Error("ToString should not quote strings")
	}
}

func TestSelfReferentialContainers(t *testing.T) {
	l := NewList(int64(1))
	l.Items = append(l.Items, l)
	if got := Repr(l); got != "[1, [...]]" {
		t.Errorf("Repr(self list) = %s", got)
	}

	d := NewDict()
	d.Set("k", int64(1))
	d.Set("self", d)
	if got := Repr(d); got != `{"k": 1, "self": {...}}` {
		t.Errorf("Repr(self dict) = %s", got)
	}

	shared := NewList(int64(2))
	twice := NewList(shared, shared)
	if got := Repr(twice); got != "[[2], [2]]" {
		t.Errorf("Repr(shared, not cyclic) = %s", got)
	}

	other := NewList(int64(1))
	other.Items = append(other.Items, other)
	diff := NewList(int64(2))
	diff.Items = append(diff.Items, diff)
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same cyclic list", l, l, true},
		{"equal cyclic lists", l, other, true},
		{"different cyclic lists", l, diff, false},
		{"cyclic dict", d, d, true},
		{"cyclic vs flat", l, NewList(int64(1), NewList()), false},
		{"list vs bytes", l, Bytes("x"), false},
	}
	for _, tc := range tests {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: Equal = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDeepNestingIsBounded(t *testing.T) {
	var v Value = NewList()
	for i := 0; i < 100000; i++ {
		v = NewList(v)
	}
	s := Repr(v)
	if !strings.HasSuffix(s, "[...]"+strings.Repeat("]", maxNesting)) {
		t.Errorf("deep Repr not truncated: ...%s", s[len(s)-20:])
	}
	if !Equal(v, v) {
		t.Error("deep list not equal to itself")
	}
}
