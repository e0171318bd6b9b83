package codegen

import (
	"agentus/ast"
	"agentus/bytecode"
)

func binaryOp(op string) (bytecode.Op, bool) {
	switch op {
	case "+":
		return bytecode.OpAdd, true
	case "-":
		return bytecode.OpSub, true
	case "*":
		return bytecode.OpMul, true
	case "/":
		return bytecode.OpDiv, true
	case "%":
		return bytecode.OpMod, true
	case "++":
		return bytecode.OpConcat, true
	case "==":
		return bytecode.OpEq, true
	case "!=":
		return bytecode.OpNe, true
	case "<":
		return bytecode.OpLt, true
	case "<=":
		return bytecode.OpLe, true
	case ">":
		return bytecode.OpGt, true
	case ">=":
		return bytecode.OpGe, true
	case "and":
		return bytecode.OpAnd, true
	case "or":
		return bytecode.OpOr, true
	default:
		return 0, false
	}
}

func (g *Generator) compileExpr(fg *funcGen, e *ast.Expr) (valRef, error) {
	switch e.Kind {
	case ast.ExprNumLit:
		return g.compileLoadConst(fg, g.internNum(e.Num))
	case ast.ExprStrLit:
		return g.compileLoadConst(fg, g.internStr(e.Str))
	case ast.ExprBoolLit:
		return g.compileLoadConst(fg, g.internBool(e.Bool))
	case ast.ExprNoneLit:
		return g.compileLoadConst(fg, g.internNone())

	case ast.ExprIdent:
		if r, ok := fg.resolve(e.Name); ok {
			return valRef{reg: r, temp: false}, nil
		}
		return valRef{}, errf("undefined variable %q", e.Name)

	case ast.ExprFieldGet:
		dst, err := fg.alloc()
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABx(bytecode.OpMLoad, dst, uint16(g.internStr(e.Field))))
		return valRef{reg: dst, temp: true}, nil

	case ast.ExprUnary:
		return g.compileUnary(fg, e)

	case ast.ExprBinary:
		return g.compileBinary(fg, e)

	case ast.ExprCall:
		return g.compileCall(fg, e)

	case ast.ExprMethodCall:
		return g.compileMethodCall(fg, e)

	case ast.ExprIndexGet:
		return g.compileBinaryLike(fg, bytecode.OpIdxGet, e.Container, e.Index)

	case ast.ExprListLit:
		return g.compileListLit(fg, e)

	case ast.ExprMapLit:
		return g.compileMapLit(fg, e)

	case ast.ExprInterp:
		return g.compileInterp(fg, e)

	case ast.ExprExec:
		return g.compileExec(fg, e)

	case ast.ExprSend:
		return g.compileSend(fg, e)

	case ast.ExprRecv:
		dst, err := fg.alloc()
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABC(bytecode.OpRecv, dst, 0, 0))
		return valRef{reg: dst, temp: true}, nil

	case ast.ExprRecvTO:
		mark := fg.mark()
		tv, err := g.compileExpr(fg, e.Timeout)
		if err != nil {
			return valRef{}, err
		}
		dst := uint8(mark)
		fg.emit(bytecode.NewABC(bytecode.OpRecvTimeout, dst, tv.reg, 0))
		fg.setNext(mark + 1)
		return valRef{reg: dst, temp: true}, nil

	case ast.ExprWait:
		return g.compileUnaryLike(fg, bytecode.OpWait, e.Target)

	case ast.ExprKill:
		return g.compileUnaryLike(fg, bytecode.OpKill, e.Target)

	case ast.ExprSpawn:
		idx, ok := g.agentIndexByName[e.Name]
		if !ok {
			return valRef{}, errf("undefined agent type %q", e.Name)
		}
		dst, err := fg.alloc()
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABx(bytecode.OpSpawn, dst, uint16(idx)))
		return valRef{reg: dst, temp: true}, nil

	default:
		return valRef{}, errf("unsupported expression kind %q", e.Kind)
	}
}

func (g *Generator) compileLoadConst(fg *funcGen, idx int) (valRef, error) {
	dst, err := fg.alloc()
	if err != nil {
		return valRef{}, err
	}
	fg.emit(bytecode.NewABx(bytecode.OpLoadConst, dst, uint16(idx)))
	return valRef{reg: dst, temp: true}, nil
}

func (g *Generator) compileUnary(fg *funcGen, e *ast.Expr) (valRef, error) {
	mark := fg.mark()
	v, err := g.compileExpr(fg, e.Right)
	if err != nil {
		return valRef{}, err
	}
	var op bytecode.Op
	switch e.Op {
	case "-":
		op = bytecode.OpNeg
	case "not":
		op = bytecode.OpNot
	default:
		return valRef{}, errf("unknown unary operator %q", e.Op)
	}
	dst := uint8(mark)
	fg.emit(bytecode.NewABC(op, dst, v.reg, 0))
	fg.setNext(mark + 1)
	return valRef{reg: dst, temp: true}, nil
}

func (g *Generator) compileBinary(fg *funcGen, e *ast.Expr) (valRef, error) {
	op, ok := binaryOp(e.Op)
	if !ok {
		return valRef{}, errf("unknown binary operator %q", e.Op)
	}
	return g.compileBinaryLike(fg, op, e.Left, e.Right)
}

// compileBinaryLike is the common shape for any two-operand opcode:
// the result reuses the register position marked before either
// operand was compiled, so both operand temporaries are reclaimed the
// instant the opcode is emitted (spec.md section 4.2's temporary
// release discipline).
func (g *Generator) compileBinaryLike(fg *funcGen, op bytecode.Op, left, right *ast.Expr) (valRef, error) {
	mark := fg.mark()
	lv, err := g.compileExpr(fg, left)
	if err != nil {
		return valRef{}, err
	}
	rv, err := g.compileExpr(fg, right)
	if err != nil {
		return valRef{}, err
	}
	dst := uint8(mark)
	fg.emit(bytecode.NewABC(op, dst, lv.reg, rv.reg))
	fg.setNext(mark + 1)
	return valRef{reg: dst, temp: true}, nil
}

func (g *Generator) compileUnaryLike(fg *funcGen, op bytecode.Op, operand *ast.Expr) (valRef, error) {
	mark := fg.mark()
	v, err := g.compileExpr(fg, operand)
	if err != nil {
		return valRef{}, err
	}
	dst := uint8(mark)
	fg.emit(bytecode.NewABC(op, dst, v.reg, 0))
	fg.setNext(mark + 1)
	return valRef{reg: dst, temp: true}, nil
}

// compileArgBlock compiles each argument expression independently
// (in arbitrary temporaries, possibly non-contiguous), then copies
// the results into a fresh consecutive register block, per spec.md
// section 4.2: "all argument expressions are compiled into arbitrary
// temporaries first, then copied into a consecutive block of
// registers immediately before the call opcodes."
func (g *Generator) compileArgBlock(fg *funcGen, exprs []*ast.Expr) (base uint8, count int, err error) {
	vals := make([]valRef, 0, len(exprs))
	for _, e := range exprs {
		v, err := g.compileExpr(fg, e)
		if err != nil {
			return 0, 0, err
		}
		vals = append(vals, v)
	}

	argBase := fg.mark()
	if argBase+len(vals) > maxRegisters {
		return 0, 0, errf("function exceeds %d registers per frame", maxRegisters)
	}
	for i, v := range vals {
		dst := uint8(argBase + i)
		if v.reg != dst {
			fg.emit(bytecode.NewABC(bytecode.OpMove, dst, v.reg, 0))
		}
	}
	fg.setNext(argBase + len(vals))
	return uint8(argBase), len(vals), nil
}

func (g *Generator) compileCall(fg *funcGen, e *ast.Expr) (valRef, error) {
	argExprs := exprPtrs(e.Args)

	if funcIdx, ok := g.funcIndexByName[e.Callee]; ok {
		base, count, err := g.compileArgBlock(fg, argExprs)
		if err != nil {
			return valRef{}, err
		}
		resultReg := base
		fg.emit(bytecode.NewABx(bytecode.OpCall, resultReg, uint16(funcIdx)))
		fg.emit(bytecode.NewABC(bytecode.OpNop, 0, base, uint8(count)))
		fg.setNext(int(base) + 1)
		return valRef{reg: resultReg, temp: true}, nil
	}

	if toolIdx, ok := g.toolIndexByName[e.Callee]; ok {
		return g.compileToolCall(fg, toolIdx, argExprs)
	}

	return valRef{}, errf("undefined function or tool %q", e.Callee)
}

func (g *Generator) compileToolCall(fg *funcGen, toolIdx int, argExprs []*ast.Expr) (valRef, error) {
	tool := g.mod.Tools[toolIdx]
	if len(argExprs) > len(tool.Params) {
		return valRef{}, errf("tool %q called with too many arguments", tool.Name)
	}

	base, _, err := g.compileArgBlock(fg, argExprs)
	if err != nil {
		return valRef{}, err
	}

	// Fill any trailing parameters not supplied by the call site with
	// their declared defaults, materialized at compile time.
	for i := len(argExprs); i < len(tool.Params); i++ {
		p := tool.Params[i]
		if !p.HasDefault {
			return valRef{}, errf("tool %q missing required argument %q", tool.Name, p.Name)
		}
		slot, err := fg.alloc()
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABx(bytecode.OpLoadConst, slot, uint16(p.DefaultIdx)))
	}

	resultReg := base
	fg.emit(bytecode.NewABx(bytecode.OpTCall, resultReg, uint16(toolIdx)))
	fg.emit(bytecode.NewABC(bytecode.OpNop, 0, base, uint8(len(tool.Params))))
	fg.setNext(int(base) + 1)
	return valRef{reg: resultReg, temp: true}, nil
}

func (g *Generator) compileMethodCall(fg *funcGen, e *ast.Expr) (valRef, error) {
	args := append([]*ast.Expr{e.Receiver}, exprPtrs(e.Args)...)
	base, count, err := g.compileArgBlock(fg, args)
	if err != nil {
		return valRef{}, err
	}
	resultReg := base
	fg.emit(bytecode.NewABx(bytecode.OpCall, resultReg, bytecode.MethodCallSentinel))
	fg.emit(bytecode.NewABC(bytecode.OpNop, 0, base, uint8(count)))
	fg.emit(bytecode.NewABx(bytecode.OpNop, 0, uint16(g.internStr(e.Method))))
	fg.setNext(int(base) + 1)
	return valRef{reg: resultReg, temp: true}, nil
}

func (g *Generator) compileListLit(fg *funcGen, e *ast.Expr) (valRef, error) {
	mark := fg.mark()
	dst := uint8(mark)
	fg.setNext(mark + 1)
	fg.emit(bytecode.NewABC(bytecode.OpNewList, dst, 0, 0))
	for i := range e.Elements {
		elemMark := fg.mark()
		v, err := g.compileExpr(fg, &e.Elements[i])
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABC(bytecode.OpListPush, dst, v.reg, 0))
		fg.setNext(elemMark)
	}
	return valRef{reg: dst, temp: true}, nil
}

func (g *Generator) compileMapLit(fg *funcGen, e *ast.Expr) (valRef, error) {
	mark := fg.mark()
	dst := uint8(mark)
	fg.setNext(mark + 1)
	fg.emit(bytecode.NewABC(bytecode.OpNewMap, dst, 0, 0))
	for i := range e.Entries {
		entryMark := fg.mark()
		keyIdx := g.internStr(e.Entries[i].Key)
		keyReg, err := fg.alloc()
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABx(bytecode.OpLoadConst, keyReg, uint16(keyIdx)))
		v, err := g.compileExpr(fg, &e.Entries[i].Value)
		if err != nil {
			return valRef{}, err
		}
		fg.emit(bytecode.NewABC(bytecode.OpIdxSet, dst, keyReg, v.reg))
		fg.setNext(entryMark)
	}
	return valRef{reg: dst, temp: true}, nil
}

func (g *Generator) compileInterp(fg *funcGen, e *ast.Expr) (valRef, error) {
	t := e.Template
	mark := fg.mark()
	dst := uint8(mark)
	fg.emit(bytecode.NewABx(bytecode.OpLoadConst, dst, uint16(g.internStr(firstOrEmpty(t.Literals)))))
	fg.setNext(mark + 1)

	for i := range t.Exprs {
		partMark := fg.mark()
		v, err := g.compileExpr(fg, &t.Exprs[i])
		if err != nil {
			return valRef{}, err
		}
		strReg := uint8(partMark)
		fg.emit(bytecode.NewABC(bytecode.OpToStr, strReg, v.reg, 0))
		fg.setNext(partMark + 1)
		fg.emit(bytecode.NewABC(bytecode.OpConcat, dst, dst, strReg))
		fg.setNext(partMark)

		if i+1 < len(t.Literals) {
			litMark := fg.mark()
			litReg := uint8(litMark)
			fg.emit(bytecode.NewABx(bytecode.OpLoadConst, litReg, uint16(g.internStr(t.Literals[i+1]))))
			fg.setNext(litMark + 1)
			fg.emit(bytecode.NewABC(bytecode.OpConcat, dst, dst, litReg))
			fg.setNext(litMark)
		}
	}
	return valRef{reg: dst, temp: true}, nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func (g *Generator) compileExec(fg *funcGen, e *ast.Expr) (valRef, error) {
	mark := fg.mark()
	pv, err := g.compileExpr(fg, e.Prompt)
	if err != nil {
		return valRef{}, err
	}
	dst := uint8(mark)
	fg.emit(bytecode.NewABC(bytecode.OpExec, dst, pv.reg, 0))
	fg.setNext(mark + 1)
	return valRef{reg: dst, temp: true}, nil
}

func (g *Generator) compileSend(fg *funcGen, e *ast.Expr) (valRef, error) {
	mark := fg.mark()
	tv, err := g.compileExpr(fg, e.Target)
	if err != nil {
		return valRef{}, err
	}
	vv, err := g.compileExpr(fg, e.Value)
	if err != nil {
		return valRef{}, err
	}
	fg.emit(bytecode.NewABC(bytecode.OpSend, tv.reg, vv.reg, 0))
	fg.setNext(mark)
	dst, err := fg.alloc()
	if err != nil {
		return valRef{}, err
	}
	fg.emit(bytecode.NewABx(bytecode.OpLoadConst, dst, uint16(g.internNone())))
	return valRef{reg: dst, temp: true}, nil
}

func exprPtrs(exprs []ast.Expr) []*ast.Expr {
	out := make([]*ast.Expr, len(exprs))
	for i := range exprs {
		out[i] = &exprs[i]
	}
	return out
}
