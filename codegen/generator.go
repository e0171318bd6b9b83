// Package codegen walks a validated ast.Program and emits a
// bytecode.Module: it allocates registers per function frame, interns
// constants, resolves call targets, and lowers control flow, string
// interpolation, agent/tool definitions, and exception handling to
// the instruction set bytecode.Op defines (spec.md section 4.2).
package codegen

import (
	"math"

	"agentus/ast"
	"agentus/bytecode"
)

// Generator holds the module under construction and the compile-time
// symbol tables (function/agent/tool name -> index) used to resolve
// calls, spawns, and tool invocations.
type Generator struct {
	mod *bytecode.Module

	constNum  map[uint64]int
	constStr  map[string]int
	constBool [2]int
	constNone int

	funcIndexByName  map[string]int
	agentIndexByName map[string]int
	toolIndexByName  map[string]int
}

// New creates an empty Generator.
func New() *Generator {
	return &Generator{
		mod:              &bytecode.Module{},
		constNum:         map[uint64]int{},
		constStr:         map[string]int{},
		constBool:        [2]int{-1, -1},
		constNone:        -1,
		funcIndexByName:  map[string]int{},
		agentIndexByName: map[string]int{},
		toolIndexByName:  map[string]int{},
	}
}

func (g *Generator) internNum(n float64) int {
	key := math.Float64bits(n)
	if idx, ok := g.constNum[key]; ok {
		return idx
	}
	idx := len(g.mod.Constants)
	g.mod.Constants = append(g.mod.Constants, bytecode.ConstantNum(n))
	g.constNum[key] = idx
	return idx
}

func (g *Generator) internStr(s string) int {
	if idx, ok := g.constStr[s]; ok {
		return idx
	}
	idx := len(g.mod.Constants)
	g.mod.Constants = append(g.mod.Constants, bytecode.ConstantStr(s))
	g.constStr[s] = idx
	return idx
}

func (g *Generator) internBool(b bool) int {
	i := 0
	if b {
		i = 1
	}
	if g.constBool[i] >= 0 {
		return g.constBool[i]
	}
	idx := len(g.mod.Constants)
	g.mod.Constants = append(g.mod.Constants, bytecode.ConstantBool(b))
	g.constBool[i] = idx
	return idx
}

func (g *Generator) internNone() int {
	if g.constNone >= 0 {
		return g.constNone
	}
	idx := len(g.mod.Constants)
	g.mod.Constants = append(g.mod.Constants, bytecode.ConstantNone())
	g.constNone = idx
	return idx
}

// Generate compiles a validated program into a bytecode.Module.
func Generate(prog *ast.Program) (*bytecode.Module, error) {
	g := New()

	// Reserve function slots up front so forward references (mutual
	// recursion, calls to functions declared later) resolve.
	for i, fn := range prog.Functions {
		if _, dup := g.funcIndexByName[fn.Name]; dup {
			return nil, errf("duplicate function name %q", fn.Name)
		}
		g.funcIndexByName[fn.Name] = len(g.mod.Functions)
		g.mod.Functions = append(g.mod.Functions, bytecode.Function{Name: fn.Name})
		_ = i
	}

	for _, tool := range prog.Tools {
		desc, err := g.buildToolDescriptor(&tool)
		if err != nil {
			return nil, err
		}
		g.toolIndexByName[tool.Name] = len(g.mod.Tools)
		g.mod.Tools = append(g.mod.Tools, *desc)
	}

	for _, agent := range prog.Agents {
		g.agentIndexByName[agent.Name] = len(g.mod.Agents)
		g.mod.Agents = append(g.mod.Agents, bytecode.AgentDescriptor{Name: agent.Name})
	}

	// Compile top-level function bodies into their reserved slots.
	for _, fn := range prog.Functions {
		compiled, err := g.compileFunction(&fn, false)
		if err != nil {
			return nil, err
		}
		g.mod.Functions[g.funcIndexByName[fn.Name]] = compiled
	}

	// Compile agent descriptors: memory defaults, system prompt, and
	// method bodies (registers 0 reserved for the receiver).
	for ai, agent := range prog.Agents {
		desc, err := g.compileAgent(&agent)
		if err != nil {
			return nil, err
		}
		g.mod.Agents[ai] = *desc
	}

	// Synthesize the entry function from top-level statements.
	entryFG := newFuncGen(g)
	for _, stmt := range prog.Statements {
		if err := g.compileStmt(entryFG, &stmt); err != nil {
			return nil, err
		}
	}
	entryFG.emit(bytecode.NewABC(bytecode.OpReturn, 0, 0, 0))
	g.mod.Entry = len(g.mod.Functions)
	g.mod.Functions = append(g.mod.Functions, entryFG.finish("main", 0))

	return g.mod, nil
}

func (g *Generator) buildToolDescriptor(t *ast.ToolDecl) (*bytecode.ToolDescriptor, error) {
	desc := &bytecode.ToolDescriptor{Name: t.Name, Description: t.Description, ReturnType: t.ReturnType}
	for _, p := range t.Params {
		tp := bytecode.ToolParam{Name: p.Name, TypeTag: p.Type}
		if p.Default != nil {
			idx, err := g.constExprIndex(p.Default)
			if err != nil {
				return nil, err
			}
			tp.HasDefault = true
			tp.DefaultIdx = idx
		}
		desc.Params = append(desc.Params, tp)
	}
	return desc, nil
}

// constExprIndex resolves a default-value expression (tool parameter
// default, agent memory field default) to a constant pool index.
// Defaults must be literal forms, resolvable without evaluation.
func (g *Generator) constExprIndex(e *ast.Expr) (int, error) {
	switch e.Kind {
	case ast.ExprNumLit:
		return g.internNum(e.Num), nil
	case ast.ExprStrLit:
		return g.internStr(e.Str), nil
	case ast.ExprBoolLit:
		return g.internBool(e.Bool), nil
	case ast.ExprNoneLit:
		return g.internNone(), nil
	default:
		return 0, errf("default value must be a literal, got %s", e.Kind)
	}
}

func (g *Generator) compileFunction(fn *ast.FuncDecl, isMethod bool) (bytecode.Function, error) {
	fg := newFuncGen(g)
	if isMethod {
		// Register 0 is reserved for the receiver's agent handle
		// (spec.md section 4.2, "Method calls and self").
		r, _ := fg.alloc()
		fg.bind("self", r)
	}
	for _, p := range fn.Params {
		r, err := fg.alloc()
		if err != nil {
			return bytecode.Function{}, err
		}
		fg.bind(p.Name, r)
	}
	for _, stmt := range fn.Body {
		if err := g.compileStmt(fg, &stmt); err != nil {
			return bytecode.Function{}, err
		}
	}
	// Implicit fall-through return of none, in case the body does not
	// end in an explicit return on every path.
	mark := fg.mark()
	noneIdx := g.internNone()
	r := uint8(mark)
	fg.setNext(mark + 1)
	fg.emit(bytecode.NewABx(bytecode.OpLoadConst, r, uint16(noneIdx)))
	fg.emit(bytecode.NewABC(bytecode.OpReturn, r, 0, 0))

	numParams := len(fn.Params)
	if isMethod {
		numParams++
	}
	return fg.finish(fn.Name, numParams), nil
}

func (g *Generator) compileAgent(a *ast.AgentDecl) (*bytecode.AgentDescriptor, error) {
	desc := &bytecode.AgentDescriptor{Name: a.Name, Model: a.Model}

	if a.SystemPrompt != nil {
		prompt := ""
		for _, lit := range a.SystemPrompt.Literals {
			prompt += lit
		}
		desc.PromptIdx = g.internStr(prompt)
	} else {
		desc.PromptIdx = g.internStr("")
	}

	for _, f := range a.Memory {
		mf := bytecode.MemoryField{Name: f.Name, TypeTag: f.Type}
		if f.Default != nil {
			idx, err := g.constExprIndex(f.Default)
			if err != nil {
				return nil, err
			}
			mf.DefaultIdx = idx
		} else {
			mf.DefaultIdx = g.internNone()
		}
		desc.MemoryFields = append(desc.MemoryFields, mf)
	}

	for _, m := range a.Methods {
		compiled, err := g.compileFunction(&m, true)
		if err != nil {
			return nil, err
		}
		idx := len(g.mod.Functions)
		g.mod.Functions = append(g.mod.Functions, compiled)
		desc.Methods = append(desc.Methods, bytecode.MethodEntry{Name: m.Name, FuncIndex: idx})
	}

	return desc, nil
}
