package transform

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
)

// ---------------------------------------------------------------------------
// Rename map
// ---------------------------------------------------------------------------

// Pair is one original to generated identifier mapping.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RenameMap is an insertion-ordered bijection from original identifiers to
// generated ones.
type RenameMap struct {
	pairs   []Pair
	forward map[string]string
	reverse map[string]string
}

// NewRenameMap returns an empty map.
func NewRenameMap() *RenameMap {
	return &RenameMap{forward: make(map[string]string), reverse: make(map[string]string)}
}

// Add records from -> to. Mapping a name twice, or two names onto the same
// target, is an error.
func (r *RenameMap) Add(from, to string) error {
	if prev, ok := r.forward[from]; ok {
		return fmt.Errorf("%q already renamed to %q", from, prev)
	}
	if prev, ok := r.reverse[to]; ok {
		return fmt.Errorf("%q and %q both renamed to %q", prev, from, to)
	}
	r.forward[from] = to
	r.reverse[to] = from
	r.pairs = append(r.pairs, Pair{From: from, To: to})
	return nil
}

// Lookup returns the generated name for from.
func (r *RenameMap) Lookup(from string) (string, bool) {
	if r == nil {
		return "", false
	}
	to, ok := r.forward[from]
	return to, ok
}

// Original returns the original name that was renamed to to.
func (r *RenameMap) Original(to string) (string, bool) {
	if r == nil {
		return "", false
	}
	from, ok := r.reverse[to]
	return from, ok
}

// Len returns the number of mappings.
func (r *RenameMap) Len() int {
	if r == nil {
		return 0
	}
	return len(r.pairs)
}

// Pairs returns the mappings in insertion order.
func (r *RenameMap) Pairs() []Pair {
	if r == nil {
		return nil
	}
	out := make([]Pair, len(r.pairs))
	copy(out, r.pairs)
	return out
}

// MarshalJSON encodes the map as a JSON object whose keys keep insertion
// order.
func (r *RenameMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range r.Pairs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.From)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.To)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object written by MarshalJSON, keeping key order
// and rejecting anything that is not a bijection.
func (r *RenameMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("rename map must be a JSON object")
	}
	m := NewRenameMap()
	for dec.More() {
		var from, to string
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		from = tok.(string)
		if err := dec.Decode(&to); err != nil {
			return fmt.Errorf("rename map value for %q: %w", from, err)
		}
		if err := m.Add(from, to); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = *m
	return nil
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Collector gathers every identifier the program binds: parameters,
// assignment targets, loop and catch variables, and global declarations.
// Function names, builtins and preserved names are never collected.
type Collector struct {
	Builtins map[string]bool
	Preserve map[string]bool
}

func (c *Collector) Collect(prog *compiler.Program) []string {
	funcs := make(map[string]bool)
	for _, fn := range prog.Funcs() {
		funcs[fn.Name] = true
	}

	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] || funcs[name] || c.Builtins[name] || c.Preserve[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	compiler.InspectProgram(prog, func(n compiler.Node) bool {
		switch s := n.(type) {
		case *compiler.FuncDecl:
			for _, p := range s.Params {
				add(p)
			}
		case *compiler.AssignStmt:
			if name, ok := s.Target.(*compiler.Name); ok {
				add(name.Name)
			}
		case *compiler.ForStmt:
			add(s.Var)
		case *compiler.TryStmt:
			add(s.CatchVar)
		case *compiler.GlobalStmt:
			for _, g := range s.Names {
				add(g)
			}
		}
		return true
	})
	return out
}

// ---------------------------------------------------------------------------
// Renaming
// ---------------------------------------------------------------------------

// Renamer maps each collected name to a fresh identifier and rewrites every
// spelling of it. Renaming is by spelling across the whole program, so a
// name bound in two functions gets the same replacement in both and scoping
// is unchanged.
type Renamer struct {
	Names    NameGenerator
	Builtins map[string]bool
}

func (r *Renamer) Rename(prog *compiler.Program, names []string) (*RenameMap, error) {
	if r.Names == nil {
		return nil, fmt.Errorf("renamer has no name generator")
	}
	taken := compiler.Identifiers(prog)
	for b := range r.Builtins {
		taken[b] = true
	}

	m := NewRenameMap()
	for _, name := range names {
		if _, dup := m.Lookup(name); dup {
			continue
		}
		to, err := fresh(r.Names, taken)
		if err != nil {
			return nil, fmt.Errorf("renaming %q: %w", name, err)
		}
		if err := m.Add(name, to); err != nil {
			return nil, err
		}
	}
	Apply(prog, m)
	return m, nil
}

// Apply rewrites every binding and reference of a mapped name in place.
func Apply(prog *compiler.Program, m *RenameMap) {
	sub := func(name string) string {
		if to, ok := m.Lookup(name); ok {
			return to
		}
		return name
	}
	compiler.InspectProgram(prog, func(n compiler.Node) bool {
		switch v := n.(type) {
		case *compiler.Name:
			v.Name = sub(v.Name)
		case *compiler.FuncDecl:
			for i, p := range v.Params {
				v.Params[i] = sub(p)
			}
		case *compiler.ForStmt:
			v.Var = sub(v.Var)
		case *compiler.TryStmt:
			if v.CatchVar != "" {
				v.CatchVar = sub(v.CatchVar)
			}
		case *compiler.GlobalStmt:
			for i, g := range v.Names {
				v.Names[i] = sub(g)
			}
		}
		return true
	})
}

// RenameTopFunction renames the first top-level function to name and
// rewrites every reference that resolves to it. References inside
// functions that bind the same spelling as a local are left alone. It is used to give dataset samples a
// uniform entry point. The previous name is returned.
func RenameTopFunction(prog *compiler.Program, name string) (string, error) {
	funcs := prog.Funcs()
	if len(funcs) == 0 {
		return "", fmt.Errorf("program declares no functions")
	}
	old := funcs[0].Name
	if old == name {
		return old, nil
	}
	if compiler.IsReserved(name) {
		return "", fmt.Errorf("%q is a reserved word", name)
	}
	if compiler.Identifiers(prog)[name] {
		return "", fmt.Errorf("%q is already used in the program", name)
	}
	funcs[0].Name = name

	rewrite := func(n compiler.Node) bool {
		switch v := n.(type) {
		case *compiler.Name:
			if v.Name == old {
				v.Name = name
			}
		case *compiler.GlobalStmt:
			for i, g := range v.Names {
				if g == old {
					v.Names[i] = name
				}
			}
		}
		return true
	}
	for _, st := range prog.Stmts {
		fn, ok := st.(*compiler.FuncDecl)
		if !ok {
			compiler.Inspect(st, rewrite)
			continue
		}
		// A function that binds the old name locally never sees the
		// global, so its references stay as they are.
		if compiler.LocalNames(fn)[old] {
			continue
		}
		for _, body := range fn.Body {
			compiler.Inspect(body, rewrite)
		}
	}
	return old, nil
}
