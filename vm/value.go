package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is any Ox runtime value. The concrete types are:
//
//	nil, bool, int64, float64, string, Bytes, *List, *Dict,
//	*Function, *Builtin, *Module
type Value = interface{}

// Bytes is an immutable byte string.
type Bytes []byte

// List is a mutable, ordered sequence of values.
type List struct {
	Items []Value
}

// NewList creates a list holding items.
func NewList(items ...Value) *List {
	if items == nil {
		items = []Value{}
	}
	return &List{Items: items}
}

// Dict is an insertion-ordered mapping from hashable values to values.
type Dict struct {
	keys   []Value
	values []Value
	index  map[interface{}]int
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[interface{}]int)}
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, len(d.keys))
	copy(out, d.keys)
	return out
}

// Get looks up key.
func (d *Dict) Get(key Value) (Value, bool, error) {
	k, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[k]
	if !ok {
		return nil, false, nil
	}
	return d.values[i], true, nil
}

// Set inserts or replaces key.
func (d *Dict) Set(key, value Value) error {
	k, err := hashKey(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[k]; ok {
		d.values[i] = value
		return nil
	}
	d.index[k] = len(d.keys)
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
	return nil
}

// hashKey normalizes a value into a Go map key. Integral floats hash like
// the equal int so that 1 and 1.0 address the same entry.
func hashKey(v Value) (interface{}, error) {
	switch x := v.(type) {
	case nil, bool, int64, string:
		return x, nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return int64(x), nil
		}
		return x, nil
	}
	return nil, fmt.Errorf("unhashable type: %s", TypeName(v))
}

// TypeName returns the Ox type name of v.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case Bytes:
		return "bytes"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	case *Function:
		return "function"
	case *Builtin:
		return "builtin"
	case *Module:
		return "module"
	case *iterator:
		return "iterator"
	}
	return fmt.Sprintf("<go %T>", v)
}

// Truthy reports whether v counts as true in a condition.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case Bytes:
		return len(x) != 0
	case *List:
		return len(x.Items) != 0
	case *Dict:
		return x.Len() != 0
	}
	return true
}

// maxNesting bounds how deep Repr and Equal descend into containers.
const maxNesting = 512

// Equal reports whether a and b are equal. Numbers compare across int and
// float; lists and dicts compare element-wise. A pair of containers already
// being compared further up is taken as equal, so self-referential values
// terminate. Past maxNesting levels containers compare by identity.
func Equal(a, b Value) bool {
	return equal(a, b, nil, 0)
}

type containerPair struct{ a, b Value }

func isContainer(v Value) bool {
	switch v.(type) {
	case *List, *Dict:
		return true
	}
	return false
}

func equal(a, b Value, active map[containerPair]bool, depth int) bool {
	if isContainer(a) && isContainer(b) {
		if depth >= maxNesting {
			return a == b
		}
		pair := containerPair{a, b}
		if active[pair] {
			return true
		}
		if active == nil {
			active = make(map[containerPair]bool)
		}
		active[pair] = true
		defer delete(active, pair)
		depth++
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	case string:
		y, ok := b.(string)
		return ok && x == y
	case Bytes:
		y, ok := b.(Bytes)
		return ok && string(x) == string(y)
	case *List:
		y, ok := b.(*List)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !equal(x.Items[i], y.Items[i], active, depth) {
				return false
			}
		}
		return true
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			other, found, err := y.Get(k)
			if err != nil || !found || !equal(x.values[i], other, active, depth) {
				return false
			}
		}
		return true
	}
	return a == b
}

// compare orders two numbers or two strings.
func compare(a, b Value) (int, error) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpInt(x, y), nil
		case float64:
			return cmpFloat(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpFloat(x, float64(y)), nil
		case float64:
			return cmpFloat(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s and %s", TypeName(a), TypeName(b))
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToString converts v to its display form, as used by print and str.
func ToString(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

// Repr returns the source-like representation of v. A container that
// contains itself prints as [...] or {...} where it recurs.
func Repr(v Value) string {
	var sb strings.Builder
	writeRepr(&sb, v, make(map[Value]bool))
	return sb.String()
}

func writeRepr(sb *strings.Builder, v Value, active map[Value]bool) {
	switch x := v.(type) {
	case *List:
		if active[x] || len(active) >= maxNesting {
			sb.WriteString("[...]")
			return
		}
		active[x] = true
		defer delete(active, x)
		sb.WriteByte('[')
		for i, it := range x.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeRepr(sb, it, active)
		}
		sb.WriteByte(']')
	case *Dict:
		if active[x] || len(active) >= maxNesting {
			sb.WriteString("{...}")
			return
		}
		active[x] = true
		defer delete(active, x)
		sb.WriteByte('{')
		for i, k := range x.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeRepr(sb, k, active)
			sb.WriteString(": ")
			writeRepr(sb, x.values[i], active)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString(scalarRepr(v))
	}
}

func scalarRepr(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		return s
	case string:
		return strconv.Quote(x)
	case Bytes:
		return fmt.Sprintf("bytes(%d)", len(x))
	case *Function:
		return fmt.Sprintf("<function %s>", x.Code.Name)
	case *Builtin:
		return fmt.Sprintf("<builtin %s>", x.Name)
	case *Module:
		return fmt.Sprintf("<module %s>", x.Name)
	}
	return fmt.Sprintf("<%s>", TypeName(v))
}

// SortedNames returns the keys of m in sorted order.
func SortedNames(m map[string]Value) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
