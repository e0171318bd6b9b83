package codegen

import (
	"agentus/ast"
	"agentus/bytecode"
)

func (g *Generator) compileStmt(fg *funcGen, s *ast.Stmt) error {
	switch s.Kind {
	case ast.StmtLet:
		return g.compileLet(fg, s)
	case ast.StmtAssign:
		return g.compileAssign(fg, s)
	case ast.StmtExpr:
		mark := fg.mark()
		if _, err := g.compileExpr(fg, s.Expr); err != nil {
			return err
		}
		fg.setNext(mark)
		return nil
	case ast.StmtEmit:
		mark := fg.mark()
		v, err := g.compileExpr(fg, s.Value)
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABC(bytecode.OpEmit, v.reg, 0, 0))
		fg.setNext(mark)
		return nil
	case ast.StmtIf:
		return g.compileIf(fg, s)
	case ast.StmtWhile:
		return g.compileWhile(fg, s)
	case ast.StmtForIn:
		return g.compileForIn(fg, s)
	case ast.StmtReturn:
		return g.compileReturn(fg, s)
	case ast.StmtTry:
		return g.compileTry(fg, s)
	case ast.StmtThrow:
		mark := fg.mark()
		v, err := g.compileExpr(fg, s.Value)
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABC(bytecode.OpThrow, v.reg, 0, 0))
		fg.setNext(mark)
		return nil
	case ast.StmtAssert:
		return g.compileAssert(fg, s)
	case ast.StmtRetry:
		return g.compileRetry(fg, s)
	case ast.StmtBlock:
		return g.compileBlock(fg, s.Body)
	default:
		return errf("unsupported statement kind %q", s.Kind)
	}
}

func (g *Generator) compileBlock(fg *funcGen, body []ast.Stmt) error {
	mark := fg.mark()
	fg.pushScope()
	for i := range body {
		if err := g.compileStmt(fg, &body[i]); err != nil {
			return err
		}
	}
	fg.popScope(mark)
	return nil
}

func (g *Generator) compileLet(fg *funcGen, s *ast.Stmt) error {
	mark := fg.mark()
	v, err := g.compileExpr(fg, s.Value)
	if err != nil {
		return err
	}
	var reg uint8
	if v.temp && int(v.reg) == mark {
		// The value already landed exactly where the local should
		// live; keep it there instead of copying.
		reg = v.reg
	} else {
		r, err := fg.alloc()
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABC(bytecode.OpMove, r, v.reg, 0))
		reg = r
	}
	fg.bind(s.Name, reg)
	return nil
}

func (g *Generator) compileAssign(fg *funcGen, s *ast.Stmt) error {
	switch s.Target.Kind {
	case ast.ExprIdent:
		reg, ok := fg.resolve(s.Target.Name)
		if !ok {
			return errf("undefined variable %q", s.Target.Name)
		}
		mark := fg.mark()
		v, err := g.compileExpr(fg, s.Value)
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABC(bytecode.OpMove, reg, v.reg, 0))
		fg.setNext(mark)
		return nil

	case ast.ExprFieldGet:
		mark := fg.mark()
		v, err := g.compileExpr(fg, s.Value)
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABx(bytecode.OpMStore, v.reg, uint16(g.internStr(s.Target.Field))))
		fg.setNext(mark)
		return nil

	case ast.ExprIndexGet:
		mark := fg.mark()
		cv, err := g.compileExpr(fg, s.Target.Container)
		if err != nil {
			return err
		}
		iv, err := g.compileExpr(fg, s.Target.Index)
		if err != nil {
			return err
		}
		vv, err := g.compileExpr(fg, s.Value)
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABC(bytecode.OpIdxSet, cv.reg, iv.reg, vv.reg))
		fg.setNext(mark)
		return nil

	default:
		return errf("invalid assignment target kind %q", s.Target.Kind)
	}
}

func (g *Generator) compileReturn(fg *funcGen, s *ast.Stmt) error {
	mark := fg.mark()
	if s.Value == nil {
		r, err := fg.alloc()
		if err != nil {
			return err
		}
		fg.emit(bytecode.NewABx(bytecode.OpLoadConst, r, uint16(g.internNone())))
		fg.emit(bytecode.NewABC(bytecode.OpReturn, r, 0, 0))
		fg.setNext(mark)
		return nil
	}
	v, err := g.compileExpr(fg, s.Value)
	if err != nil {
		return err
	}
	fg.emit(bytecode.NewABC(bytecode.OpReturn, v.reg, 0, 0))
	fg.setNext(mark)
	return nil
}

func (g *Generator) compileIf(fg *funcGen, s *ast.Stmt) error {
	mark := fg.mark()
	cv, err := g.compileExpr(fg, s.Cond)
	if err != nil {
		return err
	}
	fg.setNext(mark)
	jumpToElsePC := fg.emit(bytecode.NewAsBx(bytecode.OpJumpIfFalse, cv.reg, 0))

	if err := g.compileBlock(fg, s.Then); err != nil {
		return err
	}

	if len(s.Else) == 0 {
		if err := fg.patchAsBx(jumpToElsePC, fg.pc()); err != nil {
			return err
		}
		return nil
	}

	jumpToEndPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))
	if err := fg.patchAsBx(jumpToElsePC, fg.pc()); err != nil {
		return err
	}
	if err := g.compileBlock(fg, s.Else); err != nil {
		return err
	}
	return fg.patchSBx(jumpToEndPC, fg.pc())
}

func (g *Generator) compileWhile(fg *funcGen, s *ast.Stmt) error {
	loopStart := fg.pc()
	mark := fg.mark()
	cv, err := g.compileExpr(fg, s.Cond)
	if err != nil {
		return err
	}
	fg.setNext(mark)
	exitPC := fg.emit(bytecode.NewAsBx(bytecode.OpJumpIfFalse, cv.reg, 0))

	if err := g.compileBlock(fg, s.Then); err != nil {
		return err
	}

	backPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))
	if err := fg.patchSBx(backPC, loopStart); err != nil {
		return err
	}
	return fg.patchAsBx(exitPC, fg.pc())
}

// compileForIn lowers `for x in e` per spec.md section 4.2: evaluate
// e, NewIter, loop label, IterNext(x_reg, exit_offset) + Nop(_,
// iter_reg, 0), body, unconditional back-jump, exit label.
func (g *Generator) compileForIn(fg *funcGen, s *ast.Stmt) error {
	blockMark := fg.mark()
	fg.pushScope()

	ev, err := g.compileExpr(fg, s.Iter)
	if err != nil {
		return err
	}
	iterReg, err := fg.alloc()
	if err != nil {
		return err
	}
	fg.emit(bytecode.NewABC(bytecode.OpNewIter, iterReg, ev.reg, 0))

	xReg, err := fg.alloc()
	if err != nil {
		return err
	}
	fg.bind(s.LoopVar, xReg)

	loopStart := fg.pc()
	iterNextPC := fg.emit(bytecode.NewAsBx(bytecode.OpIterNext, xReg, 0))
	fg.emit(bytecode.NewABC(bytecode.OpNop, 0, iterReg, 0))

	if err := g.compileBlock(fg, s.Body); err != nil {
		return err
	}

	backPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))
	if err := fg.patchSBx(backPC, loopStart); err != nil {
		return err
	}
	if err := fg.patchAsBx(iterNextPC, fg.pc()); err != nil {
		return err
	}

	fg.popScope(blockMark)
	return nil
}

// compileTry lowers try/catch per spec.md section 4.2: TryBegin
// carries the catch register and the offset to the handler, and
// pushes a handler entry with the handler's PC (no register
// high-water mark is encoded); the body runs; TryEnd pops the entry
// on the success path, followed by a jump past the handler.
func (g *Generator) compileTry(fg *funcGen, s *ast.Stmt) error {
	blockMark := fg.mark()
	fg.pushScope()

	catchReg, err := fg.alloc()
	if err != nil {
		return err
	}

	tryBeginPC := fg.emit(bytecode.NewAsBx(bytecode.OpTryBegin, catchReg, 0))

	if err := g.compileBlock(fg, s.Then); err != nil {
		return err
	}
	fg.emit(bytecode.NewABC(bytecode.OpTryEnd, 0, 0, 0))
	skipCatchPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))

	if err := fg.patchAsBx(tryBeginPC, fg.pc()); err != nil {
		return err
	}
	fg.bind(s.CatchVar, catchReg)
	if err := g.compileBlockNoScope(fg, s.Catch); err != nil {
		return err
	}

	if err := fg.patchSBx(skipCatchPC, fg.pc()); err != nil {
		return err
	}
	fg.popScope(blockMark)
	return nil
}

// compileBlockNoScope compiles statements without pushing a fresh
// lexical scope, used for the catch body so that the catch variable
// bound by the caller stays visible.
func (g *Generator) compileBlockNoScope(fg *funcGen, body []ast.Stmt) error {
	for i := range body {
		if err := g.compileStmt(fg, &body[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) compileAssert(fg *funcGen, s *ast.Stmt) error {
	mark := fg.mark()
	cv, err := g.compileExpr(fg, s.Cond)
	if err != nil {
		return err
	}
	fg.setNext(mark)
	skipPC := fg.emit(bytecode.NewAsBx(bytecode.OpJumpIfFalse, cv.reg, 0))
	// Condition held: skip the throw.
	jumpOverThrowPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))

	if err := fg.patchAsBx(skipPC, fg.pc()); err != nil {
		return err
	}
	msgMark := fg.mark()
	var msgReg uint8
	if s.Message != nil {
		mv, err := g.compileExpr(fg, s.Message)
		if err != nil {
			return err
		}
		msgReg = mv.reg
	} else {
		msgReg = uint8(msgMark)
		fg.emit(bytecode.NewABx(bytecode.OpLoadConst, msgReg, uint16(g.internStr("assertion failed"))))
		fg.setNext(msgMark + 1)
	}
	fg.emit(bytecode.NewABC(bytecode.OpAssertFail, msgReg, 0, 0))
	fg.setNext(msgMark)

	return fg.patchSBx(jumpOverThrowPC, fg.pc())
}

// compileRetry lowers `retry N { B }` per spec.md section 4.2:
// materialize a counter, TryBegin around B, and on catch decrement
// and loop back while the counter remains positive, re-throwing the
// final error unchanged once it reaches zero.
func (g *Generator) compileRetry(fg *funcGen, s *ast.Stmt) error {
	blockMark := fg.mark()
	fg.pushScope()

	counterMark := fg.mark()
	cv, err := g.compileExpr(fg, s.Count)
	if err != nil {
		return err
	}
	counterReg := uint8(counterMark)
	if cv.reg != counterReg {
		fg.emit(bytecode.NewABC(bytecode.OpMove, counterReg, cv.reg, 0))
	}
	fg.setNext(counterMark + 1)

	errReg, err := fg.alloc()
	if err != nil {
		return err
	}

	retryPC := fg.pc()
	tryBeginPC := fg.emit(bytecode.NewAsBx(bytecode.OpTryBegin, errReg, 0))

	if err := g.compileBlock(fg, s.Body); err != nil {
		return err
	}
	fg.emit(bytecode.NewABC(bytecode.OpTryEnd, 0, 0, 0))
	successPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))

	if err := fg.patchAsBx(tryBeginPC, fg.pc()); err != nil {
		return err
	}

	oneMark := fg.mark()
	oneReg := uint8(oneMark)
	fg.emit(bytecode.NewABx(bytecode.OpLoadConst, oneReg, uint16(g.internNum(1))))
	fg.setNext(oneMark + 1)
	fg.emit(bytecode.NewABC(bytecode.OpSub, counterReg, counterReg, oneReg))
	fg.setNext(oneMark)

	zeroMark := fg.mark()
	zeroReg := uint8(zeroMark)
	fg.emit(bytecode.NewABx(bytecode.OpLoadConst, zeroReg, uint16(g.internNum(0))))
	fg.setNext(zeroMark + 1)
	gtReg := zeroReg
	fg.emit(bytecode.NewABC(bytecode.OpGt, gtReg, counterReg, zeroReg))
	exhaustedPC := fg.emit(bytecode.NewAsBx(bytecode.OpJumpIfFalse, gtReg, 0))
	fg.setNext(zeroMark)

	backPC := fg.emit(bytecode.NewSBx(bytecode.OpJump, 0))
	if err := fg.patchSBx(backPC, retryPC); err != nil {
		return err
	}

	if err := fg.patchAsBx(exhaustedPC, fg.pc()); err != nil {
		return err
	}
	fg.emit(bytecode.NewABC(bytecode.OpThrow, errReg, 0, 0))

	if err := fg.patchSBx(successPC, fg.pc()); err != nil {
		return err
	}

	fg.popScope(blockMark)
	return nil
}
