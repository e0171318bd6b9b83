package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentus/ast"
	"agentus/codegen"
	"agentus/host"
	"agentus/value"
)

func ptr(e ast.Expr) *ast.Expr { return &e }
func numLit(n float64) ast.Expr { return ast.Expr{Kind: ast.ExprNumLit, Num: n} }
func strLit(s string) ast.Expr { return ast.Expr{Kind: ast.ExprStrLit, Str: s} }
func ident(name string) ast.Expr { return ast.Expr{Kind: ast.ExprIdent, Name: name} }

func runProgram(t *testing.T, prog *ast.Program) ([]string, error) {
	t.Helper()
	mod, err := codegen.Generate(prog)
	require.NoError(t, err)
	machine := New(mod, host.NewEchoHost())
	return machine.RunProgram()
}

// scenario 1: let x = 40  let y = 2  emit x + y -> ["42"]
func TestScenarioArithmeticEmit(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "x", Value: ptr(numLit(40))},
			{Kind: ast.StmtLet, Name: "y", Value: ptr(numLit(2))},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "+", Left: ptr(ident("x")), Right: ptr(ident("y"))})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, out)
}

// scenario 2: recursive fib(10) -> ["55"]
func TestScenarioFibonacci(t *testing.T) {
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
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"55"}, out)
}

// scenario 3: agent with mutable memory, three sequential method calls
// on the same instance -> ["1","2","3"].
func TestScenarioAgentMemoryCounter(t *testing.T) {
	agent := ast.AgentDecl{
		Name: "C",
		Memory: []ast.MemoryFieldDecl{
			{Name: "c", Type: "num", Default: ptr(numLit(0))},
		},
		Methods: []ast.FuncDecl{
			{
				Name: "inc",
				Body: []ast.Stmt{
					{Kind: ast.StmtAssign,
						Target: ptr(ast.Expr{Kind: ast.ExprFieldGet, Field: "c"}),
						Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "+",
							Left:  ptr(ast.Expr{Kind: ast.ExprFieldGet, Field: "c"}),
							Right: ptr(numLit(1)),
						}),
					},
					{Kind: ast.StmtReturn, Value: ptr(ast.Expr{Kind: ast.ExprFieldGet, Field: "c"})},
				},
			},
		},
	}
	prog := &ast.Program{
		Agents: []ast.AgentDecl{agent},
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "a", Value: ptr(ast.Expr{Kind: ast.ExprSpawn, Name: "C"})},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprMethodCall, Receiver: ptr(ident("a")), Method: "inc"})},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprMethodCall, Receiver: ptr(ident("a")), Method: "inc"})},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprMethodCall, Receiver: ptr(ident("a")), Method: "inc"})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, out)
}

// scenario 4: map literal, index assignment, for-in over keys in
// insertion order -> ["a","b","c"].
func TestScenarioMapInsertionOrderIteration(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "m", Value: ptr(ast.Expr{Kind: ast.ExprMapLit, Entries: []ast.MapEntry{
				{Key: "a", Value: numLit(1)},
				{Key: "b", Value: numLit(2)},
			}})},
			{Kind: ast.StmtAssign,
				Target: ptr(ast.Expr{Kind: ast.ExprIndexGet, Container: ptr(ident("m")), Index: ptr(strLit("c"))}),
				Value:  ptr(numLit(3)),
			},
			{Kind: ast.StmtForIn, LoopVar: "k", Iter: ptr(ident("m")), Body: []ast.Stmt{
				{Kind: ast.StmtEmit, Value: ptr(ident("k"))},
			}},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

// scenario 5: throw/catch and assert/catch both yield the bare message.
func TestScenarioThrowCatch(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtTry,
				Then:     []ast.Stmt{{Kind: ast.StmtThrow, Value: ptr(strLit("boom"))}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, out)
}

func TestScenarioAssertCatch(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtTry,
				Then: []ast.Stmt{{Kind: ast.StmtAssert,
					Cond:    ptr(ast.Expr{Kind: ast.ExprBoolLit, Bool: false}),
					Message: ptr(strLit("boom")),
				}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, out)
}

// scenario 6: A's top-level statements send "x" then "y" to B; B is
// spawned with a "run" method that receives twice and emits each
// message -> ["x","y"]. This is the case that requires the scheduler
// to keep running B's coroutine after the entry agent's own
// statements (modeling A) have completed (see DESIGN.md's Scheduler
// termination decision).
func TestScenarioTwoAgentSendRecv(t *testing.T) {
	agentB := ast.AgentDecl{
		Name: "B",
		Methods: []ast.FuncDecl{
			{
				Name: "run",
				Body: []ast.Stmt{
					{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprRecv})},
					{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprRecv})},
				},
			},
		},
	}
	prog := &ast.Program{
		Agents: []ast.AgentDecl{agentB},
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "b", Value: ptr(ast.Expr{Kind: ast.ExprSpawn, Name: "B"})},
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprSend, Target: ptr(ident("b")), Value: ptr(strLit("x"))})},
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprSend, Target: ptr(ident("b")), Value: ptr(strLit("y"))})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, out)
}

func TestDivisionByZeroThrowsArithmeticError(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtTry,
				Then: []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "/", Left: ptr(numLit(1)), Right: ptr(numLit(0))})}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"division by zero"}, out)
}

func TestModuloByZeroThrowsArithmeticError(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtTry,
				Then: []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "%", Left: ptr(numLit(1)), Right: ptr(numLit(0))})}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"modulo by zero"}, out)
}

func TestListIndexOutOfBoundsThrows(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "xs", Value: ptr(ast.Expr{Kind: ast.ExprListLit, Elements: []ast.Expr{numLit(1), numLit(2)}})},
			{Kind: ast.StmtTry,
				Then: []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprIndexGet, Container: ptr(ident("xs")), Index: ptr(numLit(5))})}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "out of bounds")
}

func TestMapMissingKeyThrowsKeyError(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "m", Value: ptr(ast.Expr{Kind: ast.ExprMapLit})},
			{Kind: ast.StmtTry,
				Then: []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprIndexGet, Container: ptr(ident("m")), Index: ptr(strLit("missing"))})}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "missing key")
}

func TestFIFOSendOrderAcrossMultipleSends(t *testing.T) {
	agentB := ast.AgentDecl{
		Name: "B",
		Methods: []ast.FuncDecl{
			{
				Name: "run",
				Body: []ast.Stmt{
					{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprRecv})},
					{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprRecv})},
					{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprRecv})},
				},
			},
		},
	}
	prog := &ast.Program{
		Agents: []ast.AgentDecl{agentB},
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "b", Value: ptr(ast.Expr{Kind: ast.ExprSpawn, Name: "B"})},
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprSend, Target: ptr(ident("b")), Value: ptr(strLit("1"))})},
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprSend, Target: ptr(ident("b")), Value: ptr(strLit("2"))})},
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprSend, Target: ptr(ident("b")), Value: ptr(strLit("3"))})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, out)
}

func TestEntryAgentUncaughtThrowIsReportedAsError(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtThrow, Value: ptr(strLit("fatal"))},
		},
	}
	_, err := runProgram(t, prog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal")
}

func TestWaitDeliversTerminatedAgentExitValue(t *testing.T) {
	agentC := ast.AgentDecl{
		Name: "C",
		Methods: []ast.FuncDecl{
			{Name: "run", Body: []ast.Stmt{
				{Kind: ast.StmtReturn, Value: ptr(strLit("done"))},
			}},
		},
	}
	prog := &ast.Program{
		Agents: []ast.AgentDecl{agentC},
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "c", Value: ptr(ast.Expr{Kind: ast.ExprSpawn, Name: "C"})},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprWait, Target: ptr(ident("c"))})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, out)
}

func TestEchoHostExecRoundTripsPrompt(t *testing.T) {
	agentEcho := ast.AgentDecl{
		Name: "Echoer",
		Methods: []ast.FuncDecl{
			{Name: "run", Body: []ast.Stmt{
				{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprExec, Prompt: ptr(strLit("hello"))})},
			}},
		},
	}
	prog := &ast.Program{
		Agents: []ast.AgentDecl{agentEcho},
		Statements: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprSpawn, Name: "Echoer"})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, out)
}

func TestConcatTypeErrorOnNonStringOperand(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtTry,
				Then: []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprBinary, Op: "++", Left: ptr(strLit("x")), Right: ptr(numLit(1))})}},
				CatchVar: "e",
				Catch:    []ast.Stmt{{Kind: ast.StmtEmit, Value: ptr(ident("e"))}},
			},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "++ requires both operands to be strings")
}

func TestFormatBareErrorMessageOnEmit(t *testing.T) {
	// Confirms value.Format's KindError case emits the bare message, not
	// the "Kind: message" form Error() produces.
	e := &value.Err{Kind: value.UserError, Message: "boom"}
	assert.Equal(t, "boom", value.Format(value.ErrValue(e)))
}

// kill(handle) must terminate the target with an Error exit value
// (spec.md section 4.5), observable through wait().
func TestKillTerminatesWithErrorExitObservedByWait(t *testing.T) {
	agentK := ast.AgentDecl{
		Name: "K",
		Methods: []ast.FuncDecl{
			{Name: "run", Body: []ast.Stmt{
				{Kind: ast.StmtEmit, Value: ptr(strLit("should not run"))},
			}},
		},
	}
	prog := &ast.Program{
		Agents: []ast.AgentDecl{agentK},
		Statements: []ast.Stmt{
			{Kind: ast.StmtLet, Name: "k", Value: ptr(ast.Expr{Kind: ast.ExprSpawn, Name: "K"})},
			{Kind: ast.StmtExpr, Expr: ptr(ast.Expr{Kind: ast.ExprKill, Target: ptr(ident("k"))})},
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprWait, Target: ptr(ident("k"))})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	// K is killed before its "run" coroutine ever gets a turn, so only
	// the killed exit value is observed.
	assert.Equal(t, []string{"killed"}, out)
}

// A stale host.Result delivered for an agent killed while its Exec/
// TCall was in flight must be dropped, not resurrect the agent.
func TestDeliverHostResultDropsStaleEventForTerminatedAgent(t *testing.T) {
	mod, err := codegen.Generate(&ast.Program{})
	require.NoError(t, err)
	machine := New(mod, host.NewNoopHost())

	ag := machine.agents[entryHandle]
	ag.State = StateTerminated
	ag.Exit = value.ErrValue(&value.Err{Kind: value.HostError, Message: "killed"})
	ag.Frames = nil
	readyBefore := len(machine.ready)

	machine.deliverHostResult(ag, hostEvent{
		agent:   entryHandle,
		result:  host.Result{Value: value.Str("stale result")},
		destReg: 0,
	})

	assert.Equal(t, StateTerminated, ag.State, "a terminated agent must not be resurrected by a late host result")
	assert.Len(t, machine.ready, readyBefore, "a terminated agent must not be re-enqueued")
}

// assert false, "boom" must classify as AssertionError, not UserError
// (spec.md sections 4.3/4.7), even though the surface language has no
// error-kind accessor to observe it directly — it is visible in the
// entry agent's reported runtime error when uncaught.
func TestAssertFailureClassifiesAsAssertionError(t *testing.T) {
	prog := &ast.Program{
		Statements: []ast.Stmt{
			{Kind: ast.StmtAssert, Cond: ptr(ast.Expr{Kind: ast.ExprBoolLit, Bool: false}), Message: ptr(strLit("boom"))},
		},
	}
	_, err := runProgram(t, prog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AssertionError")
	assert.Contains(t, err.Error(), "boom")
}

// tool() arguments must format in declaration order, matching
// execTCall's positional-to-named resolution, not alphabetical order.
func TestToolCallArgsFormatInDeclarationOrder(t *testing.T) {
	prog := &ast.Program{
		Tools: []ast.ToolDecl{
			{Name: "search", Params: []ast.ToolParamDecl{{Name: "z", Type: "str"}, {Name: "a", Type: "str"}}},
		},
		Statements: []ast.Stmt{
			{Kind: ast.StmtEmit, Value: ptr(ast.Expr{Kind: ast.ExprCall, Callee: "search", Args: []ast.Expr{strLit("zval"), strLit("aval")}})},
		},
	}
	out, err := runProgram(t, prog)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "search(z=zval, a=aval)", out[0])
}
