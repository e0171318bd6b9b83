package vm

import (
	"agentus/bytecode"
	"agentus/value"
)

// stepOutcome is what executing one instruction did to the current
// agent's scheduling status.
type stepOutcome byte

const (
	outcomeContinue stepOutcome = iota
	outcomeYield
	outcomeSuspended
	outcomeTerminated
)

// runAgentSlice executes instructions on ag's top frame until it
// yields, suspends, terminates, or an internal fault occurs. The fetch
// here advances PC past the opcode; the Call, TCall, and IterNext
// handlers then advance it past their own Nop tails (spec.md section
// 4.1), and jumps overwrite it.
func (vm *VM) runAgentSlice(ag *AgentInstance) error {
	for {
		frame := ag.topFrame()
		if frame == nil {
			vm.terminateAgent(ag, value.None())
			return nil
		}
		fn := &vm.mod.Functions[frame.FuncIndex]
		if frame.PC < 0 || frame.PC >= len(fn.Instructions) {
			return faultf("agent %d: pc %d out of range in function %q", ag.ID, frame.PC, fn.Name)
		}

		instr := fn.Instructions[frame.PC]
		frame.PC++
		op := instr.Op()

		outcome, err := vm.execInstruction(ag, frame, fn, instr, op)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeContinue:
			continue
		case outcomeYield:
			ag.State = StateReady
			return nil
		case outcomeSuspended, outcomeTerminated:
			return nil
		}
	}
}

func (vm *VM) execInstruction(ag *AgentInstance, frame *CallFrame, fn *bytecode.Function, instr bytecode.Instruction, op bytecode.Op) (stepOutcome, error) {
	switch op {
	case bytecode.OpLoadConst:
		frame.Registers[instr.A()] = vm.constValue(int(instr.Bx()))
		return outcomeContinue, nil
	case bytecode.OpMove:
		frame.Registers[instr.A()] = frame.Registers[instr.B()]
		return outcomeContinue, nil

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe,
		bytecode.OpAnd, bytecode.OpOr, bytecode.OpConcat:
		return vm.execBinaryOp(ag, frame, instr, op), nil
	case bytecode.OpNeg, bytecode.OpNot, bytecode.OpToStr:
		return vm.execUnaryOp(frame, instr, op), nil

	case bytecode.OpNewList:
		frame.Registers[instr.A()] = value.NewList()
		return outcomeContinue, nil
	case bytecode.OpNewMap:
		frame.Registers[instr.A()] = value.NewMap()
		return outcomeContinue, nil
	case bytecode.OpListPush:
		frame.Registers[instr.A()].AsList().Push(frame.Registers[instr.B()])
		return outcomeContinue, nil
	case bytecode.OpIdxGet:
		return vm.execIdxGet(ag, frame, instr), nil
	case bytecode.OpIdxSet:
		return vm.execIdxSet(ag, frame, instr), nil
	case bytecode.OpMapContains:
		_, ok := frame.Registers[instr.B()].AsMap().Get(frame.Registers[instr.C()].AsStr())
		frame.Registers[instr.A()] = value.Bool(ok)
		return outcomeContinue, nil
	case bytecode.OpMapRemove:
		frame.Registers[instr.A()].AsMap().Remove(frame.Registers[instr.B()].AsStr())
		return outcomeContinue, nil
	case bytecode.OpMapKeys:
		keys := frame.Registers[instr.B()].AsMap().Keys()
		out := value.NewList()
		for _, k := range keys {
			out.AsList().Push(value.Str(k))
		}
		frame.Registers[instr.A()] = out
		return outcomeContinue, nil
	case bytecode.OpMapValues:
		m := frame.Registers[instr.B()].AsMap()
		out := value.NewList()
		for _, k := range m.Keys() {
			v, _ := m.Get(k)
			out.AsList().Push(v)
		}
		frame.Registers[instr.A()] = out
		return outcomeContinue, nil
	case bytecode.OpLen:
		n, verr := value.Len(frame.Registers[instr.B()])
		if verr != nil {
			return vm.throwOutcome(ag, verr), nil
		}
		frame.Registers[instr.A()] = value.Num(float64(n))
		return outcomeContinue, nil

	case bytecode.OpNewIter:
		return vm.execNewIter(ag, frame, instr), nil
	case bytecode.OpIterNext:
		return vm.execIterNext(ag, frame, fn, instr), nil

	case bytecode.OpJump:
		frame.PC = frame.PC + int(instr.SBx24())
		return outcomeContinue, nil
	case bytecode.OpJumpIfFalse:
		if !frame.Registers[instr.A()].IsTruthy() {
			frame.PC = frame.PC + int(instr.SBx())
		}
		return outcomeContinue, nil
	case bytecode.OpJumpIfTrue:
		if frame.Registers[instr.A()].IsTruthy() {
			frame.PC = frame.PC + int(instr.SBx())
		}
		return outcomeContinue, nil

	case bytecode.OpCall:
		return vm.execCall(ag, frame, fn, instr)
	case bytecode.OpTCall:
		return vm.execTCall(ag, frame, fn, instr)
	case bytecode.OpReturn:
		return vm.execReturn(ag, frame, instr), nil
	case bytecode.OpNop:
		return outcomeContinue, nil

	case bytecode.OpExec:
		return vm.execExec(ag, frame, instr), nil

	case bytecode.OpSpawn:
		frame.Registers[instr.A()] = value.Agent(vm.spawnAgent(int(instr.Bx())))
		return outcomeContinue, nil
	case bytecode.OpSend:
		vm.execSend(frame, instr)
		return outcomeContinue, nil
	case bytecode.OpRecv:
		vm.execRecv(ag, frame, instr)
		return outcomeYield, nil
	case bytecode.OpRecvTimeout:
		return vm.execRecvTimeout(ag, frame, instr), nil
	case bytecode.OpWait:
		return vm.execWait(ag, frame, instr), nil
	case bytecode.OpKill:
		vm.execKill(frame, instr)
		return outcomeContinue, nil

	case bytecode.OpTryBegin:
		frame.pushHandler(frame.PC+int(instr.SBx()), 0, instr.A())
		return outcomeContinue, nil
	case bytecode.OpTryEnd:
		frame.popHandler()
		return outcomeContinue, nil
	case bytecode.OpThrow:
		return vm.throwOutcome(ag, vm.valueToErr(frame.Registers[instr.A()])), nil
	case bytecode.OpAssertFail:
		msg := value.Format(frame.Registers[instr.A()])
		return vm.throwOutcome(ag, &value.Err{Kind: value.AssertionError, Message: msg}), nil
	case bytecode.OpGetError:
		return outcomeContinue, nil

	case bytecode.OpMLoad:
		return vm.execMLoad(ag, frame, instr), nil
	case bytecode.OpMStore:
		vm.execMStore(ag, frame, instr)
		return outcomeContinue, nil

	case bytecode.OpParseJSON:
		v, verr := value.ParseJSON(frame.Registers[instr.B()].AsStr())
		if verr != nil {
			return vm.throwOutcome(ag, verr), nil
		}
		frame.Registers[instr.A()] = v
		return outcomeContinue, nil
	case bytecode.OpToJSON:
		s, verr := value.ToJSON(frame.Registers[instr.B()])
		if verr != nil {
			return vm.throwOutcome(ag, verr), nil
		}
		frame.Registers[instr.A()] = value.Str(s)
		return outcomeContinue, nil

	case bytecode.OpEmit:
		vm.output = append(vm.output, value.Format(frame.Registers[instr.A()]))
		return outcomeContinue, nil

	default:
		return outcomeContinue, faultf("unimplemented opcode %s", op)
	}
}

// valueToErr implements Throw(src)'s "reads a value (a string message
// or an Error)" rule: an already-caught error propagates unchanged,
// anything else becomes a UserError carrying its canonical form.
// assert lowers to its own OpAssertFail rather than OpThrow, so it is
// classified AssertionError instead of going through this path.
func (vm *VM) valueToErr(v value.Value) *value.Err {
	if v.Kind() == value.KindError {
		return v.AsErr()
	}
	return &value.Err{Kind: value.UserError, Message: value.Format(v)}
}

func (vm *VM) throwOutcome(ag *AgentInstance, err *value.Err) stepOutcome {
	vm.throw(ag, err)
	if ag.State == StateTerminated {
		return outcomeTerminated
	}
	return outcomeContinue
}
