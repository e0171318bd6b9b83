package ast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramJSONRoundTrip(t *testing.T) {
	prog := Program{
		Functions: []FuncDecl{
			{
				Name:       "fib",
				Params:     []Param{{Name: "n", Type: "num"}},
				ReturnType: "num",
				Body: []Stmt{
					{
						Kind: StmtIf,
						Cond: &Expr{Kind: ExprBinary, Op: "<", Left: &Expr{Kind: ExprIdent, Name: "n"}, Right: &Expr{Kind: ExprNumLit, Num: 2}},
						Then: []Stmt{{Kind: StmtReturn, Value: &Expr{Kind: ExprIdent, Name: "n"}}},
						Else: []Stmt{{Kind: StmtReturn, Value: &Expr{
							Kind: ExprBinary, Op: "+",
							Left:  &Expr{Kind: ExprCall, Callee: "fib", Args: []Expr{{Kind: ExprBinary, Op: "-", Left: &Expr{Kind: ExprIdent, Name: "n"}, Right: &Expr{Kind: ExprNumLit, Num: 1}}}},
							Right: &Expr{Kind: ExprCall, Callee: "fib", Args: []Expr{{Kind: ExprBinary, Op: "-", Left: &Expr{Kind: ExprIdent, Name: "n"}, Right: &Expr{Kind: ExprNumLit, Num: 2}}}},
						}}},
					},
				},
			},
		},
		Statements: []Stmt{
			{Kind: StmtEmit, Value: &Expr{Kind: ExprCall, Callee: "fib", Args: []Expr{{Kind: ExprNumLit, Num: 10}}}},
		},
	}

	data, err := json.Marshal(prog)
	require.NoError(t, err)

	var got Program
	require.NoError(t, json.Unmarshal(data, &got))

	require.Len(t, got.Functions, 1)
	assert.Equal(t, "fib", got.Functions[0].Name)
	assert.Equal(t, StmtIf, got.Functions[0].Body[0].Kind)
	assert.Equal(t, "<", got.Functions[0].Body[0].Cond.Op)
	require.Len(t, got.Statements, 1)
	assert.Equal(t, StmtEmit, got.Statements[0].Kind)
}

func TestAgentDeclJSONRoundTrip(t *testing.T) {
	agent := AgentDecl{
		Name:  "Counter",
		Model: "gpt-test",
		Memory: []MemoryFieldDecl{
			{Name: "c", Type: "num", Default: &Expr{Kind: ExprNumLit, Num: 0}},
		},
		Methods: []FuncDecl{
			{
				Name: "inc",
				Body: []Stmt{
					{Kind: StmtAssign, Target: &Expr{Kind: ExprFieldGet, Field: "c"}, Value: &Expr{Kind: ExprBinary, Op: "+",
						Left: &Expr{Kind: ExprFieldGet, Field: "c"}, Right: &Expr{Kind: ExprNumLit, Num: 1}}},
					{Kind: StmtReturn, Value: &Expr{Kind: ExprFieldGet, Field: "c"}},
				},
			},
		},
	}

	data, err := json.Marshal(agent)
	require.NoError(t, err)

	var got AgentDecl
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "Counter", got.Name)
	require.Len(t, got.Memory, 1)
	assert.Equal(t, "c", got.Memory[0].Name)
	assert.Equal(t, 0.0, got.Memory[0].Default.Num)
	require.Len(t, got.Methods, 1)
	assert.Equal(t, "inc", got.Methods[0].Name)
}

func TestStringTemplateJSONRoundTrip(t *testing.T) {
	tmpl := StringTemplate{
		Literals: []string{"hi ", "!"},
		Exprs:    []Expr{{Kind: ExprIdent, Name: "name"}},
	}
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)

	var got StringTemplate
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []string{"hi ", "!"}, got.Literals)
	require.Len(t, got.Exprs, 1)
	assert.Equal(t, "name", got.Exprs[0].Name)
}
