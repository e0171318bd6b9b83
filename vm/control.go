package vm

import (
	"fmt"

	"agentus/bytecode"
	"agentus/value"
)

func typeErr(format string, args ...any) *value.Err {
	return &value.Err{Kind: value.TypeError, Message: fmt.Sprintf(format, args...)}
}

// execBinaryOp implements arithmetic, comparison, logic, and string
// concatenation (spec.md section 4.3): arithmetic and ordering operate
// on Num, and/or operate on Bool, ++ requires both operands to be
// strings, == and != are polymorphic via value.Equal.
func (vm *VM) execBinaryOp(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction, op bytecode.Op) stepOutcome {
	a := frame.Registers[instr.B()]
	b := frame.Registers[instr.C()]
	dst := instr.A()

	switch op {
	case bytecode.OpEq:
		frame.Registers[dst] = value.Bool(value.Equal(a, b))
		return outcomeContinue
	case bytecode.OpNe:
		frame.Registers[dst] = value.Bool(!value.Equal(a, b))
		return outcomeContinue
	case bytecode.OpConcat:
		if a.Kind() != value.KindStr || b.Kind() != value.KindStr {
			return vm.throwOutcome(ag, typeErr("++ requires both operands to be strings"))
		}
		frame.Registers[dst] = value.Str(a.AsStr() + b.AsStr())
		return outcomeContinue
	case bytecode.OpAnd:
		if a.Kind() != value.KindBool || b.Kind() != value.KindBool {
			return vm.throwOutcome(ag, typeErr("and requires both operands to be bool"))
		}
		frame.Registers[dst] = value.Bool(a.AsBool() && b.AsBool())
		return outcomeContinue
	case bytecode.OpOr:
		if a.Kind() != value.KindBool || b.Kind() != value.KindBool {
			return vm.throwOutcome(ag, typeErr("or requires both operands to be bool"))
		}
		frame.Registers[dst] = value.Bool(a.AsBool() || b.AsBool())
		return outcomeContinue
	}

	if a.Kind() != value.KindNum || b.Kind() != value.KindNum {
		return vm.throwOutcome(ag, typeErr("%s requires both operands to be numbers", op))
	}
	x, y := a.AsNum(), b.AsNum()
	switch op {
	case bytecode.OpAdd:
		frame.Registers[dst] = value.Num(x + y)
	case bytecode.OpSub:
		frame.Registers[dst] = value.Num(x - y)
	case bytecode.OpMul:
		frame.Registers[dst] = value.Num(x * y)
	case bytecode.OpDiv:
		if y == 0 {
			return vm.throwOutcome(ag, &value.Err{Kind: value.ArithmeticError, Message: "division by zero"})
		}
		frame.Registers[dst] = value.Num(x / y)
	case bytecode.OpMod:
		if y == 0 {
			return vm.throwOutcome(ag, &value.Err{Kind: value.ArithmeticError, Message: "modulo by zero"})
		}
		frame.Registers[dst] = value.Num(float64(int64(x) % int64(y)))
	case bytecode.OpLt:
		frame.Registers[dst] = value.Bool(x < y)
	case bytecode.OpLe:
		frame.Registers[dst] = value.Bool(x <= y)
	case bytecode.OpGt:
		frame.Registers[dst] = value.Bool(x > y)
	case bytecode.OpGe:
		frame.Registers[dst] = value.Bool(x >= y)
	}
	return outcomeContinue
}

func (vm *VM) execUnaryOp(frame *CallFrame, instr bytecode.Instruction, op bytecode.Op) stepOutcome {
	v := frame.Registers[instr.B()]
	dst := instr.A()
	switch op {
	case bytecode.OpNeg:
		frame.Registers[dst] = value.Num(-v.AsNum())
	case bytecode.OpNot:
		frame.Registers[dst] = value.Bool(!v.IsTruthy())
	case bytecode.OpToStr:
		frame.Registers[dst] = value.Str(value.Format(v))
	}
	return outcomeContinue
}

func (vm *VM) execIdxGet(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	container := frame.Registers[instr.B()]
	index := frame.Registers[instr.C()]
	switch container.Kind() {
	case value.KindList:
		i := int(index.AsNum())
		v, ok := container.AsList().Get(i)
		if !ok {
			return vm.throwOutcome(ag, &value.Err{Kind: value.IndexError, Message: fmt.Sprintf("list index %d out of bounds", i)})
		}
		frame.Registers[instr.A()] = v
		return outcomeContinue
	case value.KindMap:
		v, ok := container.AsMap().Get(index.AsStr())
		if !ok {
			return vm.throwOutcome(ag, &value.Err{Kind: value.KeyError, Message: fmt.Sprintf("missing key %q", index.AsStr())})
		}
		frame.Registers[instr.A()] = v
		return outcomeContinue
	default:
		return vm.throwOutcome(ag, typeErr("indexing not supported on %s", container.Kind()))
	}
}

func (vm *VM) execIdxSet(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	container := frame.Registers[instr.A()]
	index := frame.Registers[instr.B()]
	v := frame.Registers[instr.C()]
	switch container.Kind() {
	case value.KindList:
		i := int(index.AsNum())
		if !container.AsList().Set(i, v) {
			return vm.throwOutcome(ag, &value.Err{Kind: value.IndexError, Message: fmt.Sprintf("list index %d out of bounds", i)})
		}
		return outcomeContinue
	case value.KindMap:
		container.AsMap().Set(index.AsStr(), v)
		return outcomeContinue
	default:
		return vm.throwOutcome(ag, typeErr("indexing not supported on %s", container.Kind()))
	}
}

func (vm *VM) execNewIter(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	container := frame.Registers[instr.B()]
	switch container.Kind() {
	case value.KindList:
		frame.Registers[instr.A()] = value.IterValue(value.NewIterator(value.IterList, container.AsList(), nil))
	case value.KindMap:
		frame.Registers[instr.A()] = value.IterValue(value.NewIterator(value.IterMap, nil, container.AsMap()))
	default:
		return vm.throwOutcome(ag, typeErr("for-in requires a list or map, got %s", container.Kind()))
	}
	return outcomeContinue
}

// execIterNext reads the trailing Nop(_, iter_reg, 0) carrying the
// iterator register, advances PC past it, and either binds the next
// element/key or takes the AsBx exit offset when exhausted (spec.md
// section 4.2's for-in lowering). A container mutated since NewIter
// throws rather than yielding stale positions (open question iii).
func (vm *VM) execIterNext(ag *AgentInstance, frame *CallFrame, fn *bytecode.Function, instr bytecode.Instruction) stepOutcome {
	nopTail := fn.Instructions[frame.PC]
	branchBase := frame.PC
	frame.PC++
	iterReg := nopTail.B()

	it := frame.Registers[iterReg].AsIterator()
	if it.Mutated() {
		return vm.throwOutcome(ag, &value.Err{Kind: value.TypeError, Message: "container mutated during iteration"})
	}

	v, ok := it.Next()
	if !ok {
		frame.PC = branchBase + int(instr.SBx())
		return outcomeContinue
	}
	frame.Registers[instr.A()] = v
	return outcomeContinue
}

// execCall handles both a direct function call and, when the Call's
// Bx immediate is MethodCallSentinel, a method dispatch: reads one
// extra Nop tail for (first_arg_reg, num_args), and for a method call
// a second Nop tail carrying the method-name constant index (spec.md
// section 4.1's multi-instruction sequences table).
func (vm *VM) execCall(ag *AgentInstance, frame *CallFrame, fn *bytecode.Function, instr bytecode.Instruction) (stepOutcome, error) {
	argsNop := fn.Instructions[frame.PC]
	frame.PC++
	firstArg := argsNop.B()
	numArgs := int(argsNop.C())
	resultReg := instr.A()

	var funcIdx int
	var boundAgent value.AgentHandle
	hasAgent := false

	if instr.Bx() == bytecode.MethodCallSentinel {
		methodNop := fn.Instructions[frame.PC]
		frame.PC++
		methodName := vm.mod.Constants[methodNop.Bx()].Str

		receiver := frame.Registers[firstArg]
		if receiver.Kind() != value.KindAgentHandle {
			return outcomeContinue, faultf("method call receiver is not an agent handle")
		}
		target := vm.agents[receiver.AsAgent()]
		if target == nil || target.Descriptor == nil {
			return vm.throwOutcome(ag, &value.Err{Kind: value.UndefinedError, Message: fmt.Sprintf("undefined agent instance")}), nil
		}
		idx, ok := target.Descriptor.MethodIndex(methodName)
		if !ok {
			return vm.throwOutcome(ag, &value.Err{Kind: value.UndefinedError, Message: fmt.Sprintf("undefined method %q on agent %q", methodName, target.Descriptor.Name)}), nil
		}
		funcIdx = idx
		boundAgent = receiver.AsAgent()
		hasAgent = true
	} else {
		funcIdx = int(instr.Bx())
	}

	callee := vm.mod.Functions[funcIdx]
	newFrame := newFrame(funcIdx, callee.NumRegisters, resultReg)
	newFrame.HasAgent = hasAgent
	newFrame.AgentID = boundAgent
	for i := 0; i < numArgs && i < callee.NumRegisters; i++ {
		newFrame.Registers[i] = frame.Registers[firstArg+uint8(i)]
	}
	ag.Frames = append(ag.Frames, newFrame)
	return outcomeContinue, nil
}

func (vm *VM) execReturn(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	result := frame.Registers[instr.A()]
	resultReg := frame.ResultReg

	ag.Frames = ag.Frames[:len(ag.Frames)-1]
	caller := ag.topFrame()
	if caller == nil {
		vm.terminateAgent(ag, result)
		return outcomeTerminated
	}
	caller.Registers[resultReg] = result
	return outcomeContinue
}

// throw implements unwinding (spec.md section 4.3): pop handler
// entries off the current frame; if none remain, pop the frame and
// continue in the caller; exhausting every frame of the agent
// terminates it with Exit set to the error.
func (vm *VM) throw(ag *AgentInstance, err *value.Err) {
	for len(ag.Frames) > 0 {
		frame := ag.topFrame()
		if len(frame.Handlers) > 0 {
			h := frame.Handlers[len(frame.Handlers)-1]
			frame.popHandler()
			frame.PC = h.handlerPC
			frame.Registers[h.errReg] = value.ErrValue(err)
			return
		}
		ag.Frames = ag.Frames[:len(ag.Frames)-1]
	}
	vm.terminateAgent(ag, value.ErrValue(err))
}

// terminateAgent marks ag Terminated and wakes every agent parked in
// Wait on it.
func (vm *VM) terminateAgent(ag *AgentInstance, exit value.Value) {
	ag.State = StateTerminated
	ag.Exit = exit
	for _, waiterHandle := range ag.waiters {
		waiter := vm.agents[waiterHandle]
		if waiter == nil || waiter.State != StateSuspendedWait {
			continue
		}
		frame := waiter.topFrame()
		if frame != nil {
			frame.Registers[waiter.recv.destReg] = exit
		}
		waiter.State = StateReady
		vm.ready = append(vm.ready, waiterHandle)
	}
	ag.waiters = nil
}

// execMLoad reads the bound agent's memory map, falling back to the
// descriptor's declared default for a field absent from the instance
// (spec.md section 4.3's memory opcodes).
func (vm *VM) execMLoad(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	field := vm.mod.Constants[instr.Bx()].Str
	inst := vm.boundInstance(ag, frame)
	if inst == nil {
		return vm.throwOutcome(ag, &value.Err{Kind: value.UndefinedError, Message: "field access outside a method body"})
	}
	if v, ok := inst.Memory[field]; ok {
		frame.Registers[instr.A()] = v
		return outcomeContinue
	}
	if defIdx, ok := inst.Descriptor.DefaultForField(field); ok {
		frame.Registers[instr.A()] = vm.constValue(defIdx)
		return outcomeContinue
	}
	return vm.throwOutcome(ag, &value.Err{Kind: value.UndefinedError, Message: fmt.Sprintf("undefined memory field %q", field)})
}

func (vm *VM) execMStore(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) {
	field := vm.mod.Constants[instr.Bx()].Str
	inst := vm.boundInstance(ag, frame)
	if inst == nil {
		return
	}
	inst.Memory[field] = frame.Registers[instr.A()]
}

func (vm *VM) boundInstance(ag *AgentInstance, frame *CallFrame) *AgentInstance {
	if !frame.HasAgent {
		return nil
	}
	return vm.agents[frame.AgentID]
}
