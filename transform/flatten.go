package transform

import (
	"fmt"
	"math/rand"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
)

// Flattener rewrites each function body into a state-dispatch loop:
//
//	state_N = L0
//	while state_N != Lend {
//	    if state_N == L0 { S0; state_N = L1 }
//	    else if state_N == L1 { S1; state_N = L2 }
//	    ...
//	}
//
// Top-level statements of the body are moved verbatim into the guarded
// blocks, so returns, throws and inner loops keep their meaning. Labels are a
// seeded permutation of distinct integers and the guarded blocks are emitted
// in shuffled order. Global declarations stay ahead of the loop.
type Flattener struct {
	// Seed fixes labels and state names. Zero picks a random seed.
	Seed int64
}

func (f *Flattener) Flatten(prog *compiler.Program) error {
	seed := f.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))
	taken := compiler.Identifiers(prog)

	for _, fn := range prog.Funcs() {
		if err := flattenFunc(fn, rng, taken); err != nil {
			return fmt.Errorf("flattening %s: %w", fn.Name, err)
		}
	}
	return nil
}

// maxStateAttempts bounds the search for an unused state variable name.
const maxStateAttempts = 1000

func stateName(rng *rand.Rand, taken map[string]bool) (string, error) {
	for i := 0; i < maxStateAttempts; i++ {
		name := fmt.Sprintf("state_%d", 1000+rng.Intn(9000))
		if !taken[name] {
			taken[name] = true
			return name, nil
		}
	}
	return "", fmt.Errorf("no unused state variable name")
}

func flattenFunc(fn *compiler.FuncDecl, rng *rand.Rand, taken map[string]bool) error {
	var globals, stmts []compiler.Stmt
	for _, s := range fn.Body {
		if _, ok := s.(*compiler.GlobalStmt); ok {
			globals = append(globals, s)
			continue
		}
		stmts = append(stmts, s)
	}
	if len(stmts) == 0 {
		return nil
	}

	state, err := stateName(rng, taken)
	if err != nil {
		return err
	}

	n := len(stmts)
	pool := rng.Perm(16 * (n + 1))
	labels := make([]int64, n+1)
	for i := range labels {
		labels[i] = int64(pool[i] + 1)
	}
	end := labels[n]

	// One guarded block per statement, chained in shuffled order.
	order := rng.Perm(n)
	var chain []compiler.Stmt
	for i := len(order) - 1; i >= 0; i-- {
		k := order[i]
		sp := stmts[k].Span()
		block := []compiler.Stmt{
			stmts[k],
			setState(state, labels[k+1], sp),
		}
		guard := &compiler.IfStmt{
			SpanVal: sp,
			Cond:    compare(state, compiler.TokenEq, labels[k], sp),
			Then:    block,
			Else:    chain,
		}
		chain = []compiler.Stmt{guard}
	}

	sp := fn.SpanVal
	loop := &compiler.WhileStmt{
		SpanVal: sp,
		Cond:    compare(state, compiler.TokenNotEq, end, sp),
		Body:    chain,
	}

	body := make([]compiler.Stmt, 0, len(globals)+2)
	body = append(body, globals...)
	body = append(body, setState(state, labels[0], sp), loop)
	fn.Body = body
	return nil
}

func setState(state string, label int64, sp compiler.Span) compiler.Stmt {
	return &compiler.AssignStmt{
		SpanVal: sp,
		Target:  &compiler.Name{SpanVal: sp, Name: state},
		Op:      compiler.TokenAssign,
		Value:   &compiler.IntLiteral{SpanVal: sp, Value: label},
	}
}

func compare(state string, op compiler.TokenType, label int64, sp compiler.Span) compiler.Expr {
	return &compiler.BinaryExpr{
		SpanVal: sp,
		Op:      op,
		Left:    &compiler.Name{SpanVal: sp, Name: state},
		Right:   &compiler.IntLiteral{SpanVal: sp, Value: label},
	}
}
