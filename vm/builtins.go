package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Core builtins
// ---------------------------------------------------------------------------

// CoreBuiltins lists the names installed by New.
var CoreBuiltins = []string{
	"abs", "append", "float", "int", "keys", "len", "max", "min",
	"print", "range", "str", "type",
}

func (v *VM) registerCoreBuiltins() {
	v.RegisterFunc("print", -1, builtinPrint)
	v.RegisterFunc("len", 1, builtinLen)
	v.RegisterFunc("str", 1, func(_ *VM, args []Value) (Value, error) {
		return ToString(args[0]), nil
	})
	v.RegisterFunc("int", 1, builtinInt)
	v.RegisterFunc("float", 1, builtinFloat)
	v.RegisterFunc("range", -1, builtinRange)
	v.RegisterFunc("append", 2, builtinAppend)
	v.RegisterFunc("keys", 1, builtinKeys)
	v.RegisterFunc("type", 1, func(_ *VM, args []Value) (Value, error) {
		return TypeName(args[0]), nil
	})
	v.RegisterFunc("abs", 1, builtinAbs)
	v.RegisterFunc("min", -1, func(_ *VM, args []Value) (Value, error) {
		return extremum("min", args, -1)
	})
	v.RegisterFunc("max", -1, func(_ *VM, args []Value) (Value, error) {
		return extremum("max", args, 1)
	})
}

func builtinPrint(v *VM, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = ToString(a)
	}
	if _, err := fmt.Fprintln(v.Stdout, strings.Join(parts, " ")); err != nil {
		return nil, err
	}
	return nil, nil
}

func builtinLen(_ *VM, args []Value) (Value, error) {
	switch x := args[0].(type) {
	case string:
		return int64(len(x)), nil
	case Bytes:
		return int64(len(x)), nil
	case *List:
		return int64(len(x.Items)), nil
	case *Dict:
		return int64(x.Len()), nil
	}
	return nil, fmt.Errorf("len() of %s", TypeName(args[0]))
}

func builtinInt(_ *VM, args []Value) (Value, error) {
	switch x := args[0].(type) {
	case int64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("int() of %s", Repr(x))
		}
		// -2^63 is exact in float64; 2^63 is the first value past MaxInt64.
		if t := math.Trunc(x); t < math.MinInt64 || t >= -math.MinInt64 {
			return nil, fmt.Errorf("int() of %s: out of range", Repr(x))
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int() of %s", Repr(x))
		}
		return n, nil
	}
	return nil, fmt.Errorf("int() of %s", TypeName(args[0]))
}

func builtinFloat(_ *VM, args []Value) (Value, error) {
	switch x := args[0].(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("float() of %s", Repr(x))
		}
		return f, nil
	}
	return nil, fmt.Errorf("float() of %s", TypeName(args[0]))
}

func builtinRange(_ *VM, args []Value) (Value, error) {
	bounds := make([]int64, len(args))
	for i, a := range args {
		n, ok := a.(int64)
		if !ok {
			return nil, fmt.Errorf("range() argument must be int, not %s", TypeName(a))
		}
		bounds[i] = n
	}
	var start, stop, step int64 = 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	default:
		return nil, fmt.Errorf("range() takes 1 to 3 arguments (%d given)", len(args))
	}
	if step == 0 {
		return nil, fmt.Errorf("range() step must not be zero")
	}
	items := []Value{}
	for n := start; (step > 0 && n < stop) || (step < 0 && n > stop); n += step {
		items = append(items, n)
	}
	return NewList(items...), nil
}

func builtinAppend(_ *VM, args []Value) (Value, error) {
	l, ok := args[0].(*List)
	if !ok {
		return nil, fmt.Errorf("append() to %s", TypeName(args[0]))
	}
	l.Items = append(l.Items, args[1])
	return l, nil
}

func builtinKeys(_ *VM, args []Value) (Value, error) {
	d, ok := args[0].(*Dict)
	if !ok {
		return nil, fmt.Errorf("keys() of %s", TypeName(args[0]))
	}
	return NewList(d.Keys()...), nil
}

func builtinAbs(_ *VM, args []Value) (Value, error) {
	switch x := args[0].(type) {
	case int64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		return math.Abs(x), nil
	}
	return nil, fmt.Errorf("abs() of %s", TypeName(args[0]))
}

// extremum implements min and max over either the arguments or a single
// list argument. sign is -1 for min, 1 for max.
func extremum(name string, args []Value, sign int) (Value, error) {
	items := args
	if len(args) == 1 {
		l, ok := args[0].(*List)
		if !ok {
			return nil, fmt.Errorf("%s() of %s", name, TypeName(args[0]))
		}
		items = l.Items
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s() of empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		c, err := compare(it, best)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = it
		}
	}
	return best, nil
}
