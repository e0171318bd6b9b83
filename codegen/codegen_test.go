package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentus/ast"
	"agentus/bytecode"
)

func numLit(n float64) ast.Expr { return ast.Expr{Kind: ast.ExprNumLit, Num: n} }
func ident(name string) ast.Expr { return ast.Expr{Kind: ast.ExprIdent, Name: name} }

func TestArithmeticProgram(t *testing.T) {
	// let x = 40  let y = 2  emit x + y
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "x", Value: ptr(numLit(40))},
			{Kind: ast.StmtLet, Name: "y", Value: ptr(numLit(2))},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "+", Left: ptr(ident("x")), Right: ptr(ident("y"))})},
		},
	}

	mod, err := Generate(prog)
	require.NoError(t, err)

	entry := mod.Functions[mod.Entry]
	var sawAdd, sawEmit bool
	for _, instr := range entry.Instructions {
		switch instr.Op() {
		case bytecode.OpAdd:
			sawAdd = true
		case bytecode.OpEmit:
			sawEmit = true
		}
	}
	assert.True(t, sawAdd, "expected an Add instruction")
	assert.True(t, sawEmit, "expected an Emit instruction")
}

func TestConstantInterning(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtEmit, Value: ptr(numLit(7))},
			{Kind: ast.StmtEmit, Value: ptr(numLit(7))},
		},
	}
	mod, err := Generate(prog)
	require.NoError(t, err)

	count := 0
	for _, c := range mod.Constants {
		if c.Kind == bytecode.ConstNum && c.Num == 7 {
			count++
		}
	}
	assert.Equal(t, 1, count, "identical literal 7 must intern to a single constant")
}

func TestFibonacciCallsResolve(t *testing.T) {
	// fn fib(n) { if n < 2 { return n } else { return fib(n-1) + fib(n-2) } }
	fib := ast.FuncDecl{
		Name:   "fib",
		Params: []ast.Param{{Name: "n"}},
		Body: []ast.Stmt{
			{
				Kind: ast.StmtIf,
				Cond: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "<", Left: ptr(ident("n")), Right: ptr(numLit(2))}),
				Then: []ast.Stmt{{Kind: ast.StmtReturn, Value: ptr(ident("n"))}},
				Else: []ast.Stmt{{Kind: ast.StmtReturn, Value: ptr(ast.Expr{
					Kind: ast.ExprBinary, Op: "+",
					Left: ptr(ast.Expr{Kind: ast.ExprCall, Callee: "fib", Args: []ast.Expr{
						{Kind: ast.ExprBinary, Op: "-", Left: ptr(ident("n")), Right: ptr(numLit(1))},
					}}),
					Right: ptr(ast.Expr{Kind: ast.ExprCall, Callee: "fib", Args: []ast.Expr{
						{Kind: ast.ExprBinary, Op: "-", Left: ptr(ident("n")), Right: ptr(numLit(2))},
					}}),
				})}},
			},
		},
	}
	prog := &ast.Program{
		Functions: []ast.FuncDecl{fib},
		Statements: []ast.Stmt{
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprCall, Callee: "fib", Args: []ast.Expr{numLit(10)}})},
		},
	}

	mod, err := Generate(prog)
	require.NoError(t, err)
	require.Len(t, mod.Functions, 2) // fib + synthetic main

	var sawCall bool
	for _, instr := range mod.Functions[0].Instructions {
		if instr.Op() == bytecode.OpCall {
			sawCall = true
		}
	}
	assert.True(t, sawCall, "fib body should recursively call itself")
}

func TestAgentMethodReservesReceiverRegister(t *testing.T) {
	agent := ast.AgentDecl{
		Name: "Counter",
		Memory: []ast.MemoryFieldDecl{
			{Name: "c", Type: "num", Default: ptr(numLit(0))},
		},
		Methods: []ast.FuncDecl{
			{
				Name: "inc",
				Body: []ast.Stmt{
					{Kind: ast.StmtAssign, Target: ptr(ast.Expr{Kind: ast.ExprFieldGet, Field: "c"}),
						Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "+", Left: ptr(ast.Expr{Kind: ast.ExprFieldGet, Field: "c"}), Right: ptr(numLit(1))})},
					{Kind: ast.StmtReturn, Value: ptr(ast.Expr{Kind: ast.ExprFieldGet, Field: "c"})},
				},
			},
		},
	}
	prog := &ast.Program{Agents: []ast.AgentDecl{agent}}

	mod, err := Generate(prog)
	require.NoError(t, err)
	require.Len(t, mod.Agents, 1)
	idx, ok := mod.Agents[0].MethodIndex("inc")
	require.True(t, ok)

	fn := mod.Functions[idx]
	assert.Equal(t, 1, fn.NumParams, "method's implicit self counts as a parameter")

	var sawMLoad, sawMStore bool
	for _, instr := range fn.Instructions {
		switch instr.Op() {
		case bytecode.OpMLoad:
			sawMLoad = true
		case bytecode.OpMStore:
			sawMStore = true
		}
	}
	assert.True(t, sawMLoad)
	assert.True(t, sawMStore)
}

func TestForInLowersToNewIterAndIterNext(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "m", Value: ptr(ast.Expr{Kind: ast.ExprMapLit, Entries: []ast.MapEntry{
				{Key: "a", Value: numLit(1)},
				{Key: "b", Value: numLit(2)},
			}})},
			{Kind: ast.StmtForIn, LoopVar: "k", Iter: ptr(ident("m")), Body: []ast.Stmt{
				{Kind: ast.StmtEmit, Value: ptr(ident("k"))},
			}},
		},
	}
	mod, err := Generate(prog)
	require.NoError(t, err)

	entry := mod.Functions[mod.Entry]
	var sawNewIter, sawIterNext int
	for _, instr := range entry.Instructions {
		if instr.Op() == bytecode.OpNewIter {
			sawNewIter++
		}
		if instr.Op() == bytecode.OpIterNext {
			sawIterNext++
		}
	}
	assert.Equal(t, 1, sawNewIter)
	assert.Equal(t, 1, sawIterNext)
}

func TestTryCatchEmitsHandlerSequence(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtTry,
				Then:     []ast.Stmt{{Kind: ast.StmtThrow, Value: ptr(ast.Expr{Kind: ast.ExprStrLit, Str: "boom"})}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	mod, err := Generate(prog)
	require.NoError(t, err)

	entry := mod.Functions[mod.Entry]
	var sawTryBegin, sawTryEnd, sawThrow bool
	for _, instr := range entry.Instructions {
		switch instr.Op() {
		case bytecode.OpTryBegin:
			sawTryBegin = true
		case bytecode.OpTryEnd:
			sawTryEnd = true
		case bytecode.OpThrow:
			sawThrow = true
		}
	}
	assert.True(t, sawTryBegin)
	assert.True(t, sawTryEnd)
	assert.True(t, sawThrow)
}

func TestUndefinedFunctionIsGeneratorError(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprCall, Callee: "nope"})},
		},
	}
	_, err := Generate(prog)
	require.Error(t, err)
}

func ptr(e ast.Expr) *ast.Expr { return &e }
