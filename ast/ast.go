// Package ast defines the shape of the validated syntax tree that an
// external lexer/parser/name-resolver hands to the code generator.
// Lexing and parsing are out of scope for this module (they are
// treated as a black box producing this shape); this package is
// therefore plain data — struct literals with JSON tags for
// interchange — and carries no behavior of its own.
package ast

// Program is the root of a compilation unit: top-level function,
// agent, and tool declarations plus top-level imperative statements.
type Program struct {
	Functions  []FuncDecl  `json:"functions,omitempty"`
	Agents     []AgentDecl `json:"agents,omitempty"`
	Tools      []ToolDecl  `json:"tools,omitempty"`
	Statements []Stmt      `json:"statements,omitempty"`
}

// Param is one declared function/method parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// FuncDecl is a top-level function or an agent method body.
type FuncDecl struct {
	Name       string `json:"name"`
	Params     []Param `json:"params,omitempty"`
	ReturnType string `json:"return_type,omitempty"`
	Body       []Stmt `json:"body"`
}

// MemoryFieldDecl is one `memory { name: type = default }` entry.
type MemoryFieldDecl struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default *Expr  `json:"default,omitempty"`
}

// AgentDecl is an `agent Name { ... }` declaration.
type AgentDecl struct {
	Name         string            `json:"name"`
	Model        string            `json:"model,omitempty"`
	SystemPrompt *StringTemplate   `json:"system_prompt,omitempty"`
	Memory       []MemoryFieldDecl `json:"memory,omitempty"`
	Methods      []FuncDecl        `json:"methods,omitempty"`
}

// ToolParamDecl is one declared tool parameter.
type ToolParamDecl struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default *Expr  `json:"default,omitempty"`
}

// ToolDecl is a `tool name { ... }` declaration.
type ToolDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Params      []ToolParamDecl `json:"params,omitempty"`
	ReturnType  string          `json:"return_type,omitempty"`
}

// StmtKind discriminates the alternative of Stmt that is populated.
type StmtKind string

const (
	StmtLet      StmtKind = "let"
	StmtAssign   StmtKind = "assign"
	StmtExpr     StmtKind = "expr"
	StmtEmit     StmtKind = "emit"
	StmtIf       StmtKind = "if"
	StmtWhile    StmtKind = "while"
	StmtForIn    StmtKind = "for_in"
	StmtReturn   StmtKind = "return"
	StmtTry      StmtKind = "try"
	StmtThrow    StmtKind = "throw"
	StmtAssert   StmtKind = "assert"
	StmtRetry    StmtKind = "retry"
	StmtBlock    StmtKind = "block"
)

// Stmt is a flattened union over every statement form in the source
// language surface (spec.md section 6). Only the fields relevant to
// Kind are populated; the rest are left zero.
type Stmt struct {
	Kind StmtKind `json:"kind"`

	// StmtLet
	Name string `json:"name,omitempty"`

	// StmtAssign: Target is an lvalue expression (ExprIdent,
	// ExprFieldGet, or ExprIndexGet naming the slot being written).
	// StmtReturn, StmtThrow reuse Value as the returned/thrown expr.
	Target *Expr `json:"target,omitempty"`
	Value  *Expr `json:"value,omitempty"`

	// StmtExpr
	Expr *Expr `json:"expr,omitempty"`

	// StmtIf
	Cond *Expr  `json:"cond,omitempty"`
	Then []Stmt `json:"then,omitempty"`
	Else []Stmt `json:"else,omitempty"`

	// StmtWhile reuses Cond and Then as the loop body.

	// StmtForIn
	LoopVar string `json:"loop_var,omitempty"`
	Iter    *Expr  `json:"iter,omitempty"`
	Body    []Stmt `json:"body,omitempty"`

	// StmtTry reuses Then as the guarded body.
	CatchVar string `json:"catch_var,omitempty"`
	Catch    []Stmt `json:"catch,omitempty"`

	// StmtAssert reuses Cond as the asserted condition.
	Message *Expr `json:"message,omitempty"`

	// StmtRetry reuses Body as the retried block.
	Count *Expr `json:"count,omitempty"`

	// StmtBlock reuses Body.
}

// ExprKind discriminates the alternative of Expr that is populated.
type ExprKind string

const (
	ExprNumLit     ExprKind = "num_lit"
	ExprStrLit     ExprKind = "str_lit"
	ExprBoolLit    ExprKind = "bool_lit"
	ExprNoneLit    ExprKind = "none_lit"
	ExprIdent      ExprKind = "ident"
	ExprBinary     ExprKind = "binary"
	ExprUnary      ExprKind = "unary"
	ExprCall       ExprKind = "call"
	ExprMethodCall ExprKind = "method_call"
	ExprFieldGet   ExprKind = "field_get"
	ExprIndexGet   ExprKind = "index_get"
	ExprListLit    ExprKind = "list_lit"
	ExprMapLit     ExprKind = "map_lit"
	ExprInterp     ExprKind = "interp"
	ExprExec       ExprKind = "exec"
	ExprSend       ExprKind = "send"
	ExprRecv       ExprKind = "recv"
	ExprRecvTO     ExprKind = "recv_timeout"
	ExprWait       ExprKind = "wait"
	ExprKill       ExprKind = "kill"
	ExprSpawn      ExprKind = "spawn"
)

// MapEntry is one `key: value` pair of a map literal.
type MapEntry struct {
	Key   string `json:"key"`
	Value Expr   `json:"value"`
}

// StringTemplate is an interpolated string: alternating literal text
// and embedded expressions, e.g. `"hi {name}!"` -> Literals=["hi ", "!"],
// Exprs=[name], Exprs[i] sitting between Literals[i] and Literals[i+1]
// (spec.md section 4.2).
type StringTemplate struct {
	Literals []string `json:"literals"`
	Exprs    []Expr   `json:"exprs"`
}

// Expr is a flattened union over every expression form in the source
// language surface. Only the fields relevant to Kind are populated.
type Expr struct {
	Kind ExprKind `json:"kind"`

	// ExprNumLit
	Num float64 `json:"num,omitempty"`

	// ExprStrLit
	Str string `json:"str,omitempty"`

	// ExprBoolLit
	Bool bool `json:"bool,omitempty"`

	// ExprIdent, ExprSpawn (agent type name)
	Name string `json:"name,omitempty"`

	// ExprBinary, ExprUnary
	Op    string `json:"op,omitempty"`
	Left  *Expr  `json:"left,omitempty"`
	Right *Expr  `json:"right,omitempty"`

	// ExprCall
	Callee string `json:"callee,omitempty"`
	Args   []Expr `json:"args,omitempty"`

	// ExprMethodCall
	Receiver *Expr  `json:"receiver,omitempty"`
	Method   string `json:"method,omitempty"`

	// ExprFieldGet (self.field or receiver.field)
	Field string `json:"field,omitempty"`

	// ExprIndexGet (also used as the lvalue shape for index assignment)
	Container *Expr `json:"container,omitempty"`
	Index     *Expr `json:"index,omitempty"`

	// ExprListLit
	Elements []Expr `json:"elements,omitempty"`

	// ExprMapLit
	Entries []MapEntry `json:"entries,omitempty"`

	// ExprInterp
	Template *StringTemplate `json:"template,omitempty"`

	// ExprExec
	Prompt *Expr `json:"prompt,omitempty"`

	// ExprSend, ExprWait, ExprKill: Target (+ Value for send)
	// ExprRecvTO: Timeout
	Target  *Expr `json:"target,omitempty"`
	Value   *Expr `json:"value,omitempty"`
	Timeout *Expr `json:"timeout,omitempty"`
}
