package vm

import (
	"time"

	"agentus/bytecode"
	"agentus/host"
	"agentus/value"

	"github.com/google/uuid"
)

// execExec dispatches exec(prompt) against the bound agent's model and
// system prompt template (spec.md section 4.4): the issuing frame must
// belong to an agent method, since exec() reads Model/PromptIdx off
// that agent's descriptor rather than taking them as operands.
func (vm *VM) execExec(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	dst := instr.A()
	prompt := frame.Registers[instr.B()]

	inst := vm.boundInstance(ag, frame)
	if inst == nil {
		return vm.throwOutcome(ag, &value.Err{Kind: value.UndefinedError, Message: "exec() used outside an agent method"})
	}

	req := host.ExecRequest{
		ID:           uuid.NewString(),
		Model:        inst.Descriptor.Model,
		SystemPrompt: vm.constValue(inst.Descriptor.PromptIdx).AsStr(),
		UserPrompt:   prompt.AsStr(),
		AgentID:      inst.ID,
	}
	ch := vm.host.Exec(req)
	vm.forwardHostResult(ag.ID, dst, ch)
	ag.State = StateSuspendedHost
	return outcomeSuspended
}

// execTCall dispatches a tool() call: its trailing Nop tail carries
// the argument block's base register and count (spec.md section
// 4.1), which are matched positionally against the tool's declared
// parameter names to build the ToolRequest's named arguments.
func (vm *VM) execTCall(ag *AgentInstance, frame *CallFrame, fn *bytecode.Function, instr bytecode.Instruction) (stepOutcome, error) {
	argsNop := fn.Instructions[frame.PC]
	frame.PC++
	base := argsNop.B()
	count := int(argsNop.C())

	tool := vm.mod.Tools[instr.Bx()]
	args := value.NewMap()
	for i := 0; i < count && i < len(tool.Params); i++ {
		args.AsMap().Set(tool.Params[i].Name, frame.Registers[base+uint8(i)])
	}

	req := host.ToolRequest{ID: uuid.NewString(), ToolName: tool.Name, Args: args.AsMap()}
	ch := vm.host.ToolCall(req)
	vm.forwardHostResult(ag.ID, instr.A(), ch)
	ag.State = StateSuspendedHost
	return outcomeSuspended, nil
}

// forwardHostResult relays a single in-flight host.Result onto the
// shared hostResults bus, tagged with the agent and destination
// register it belongs to, mirroring gvm's per-request response
// goroutine pattern (vm/devices.go).
func (vm *VM) forwardHostResult(agentID value.AgentHandle, destReg uint8, ch <-chan host.Result) {
	go func() {
		result := <-ch
		vm.hostResults <- hostEvent{agent: agentID, result: result, destReg: destReg}
	}()
}

// execSend appends to the target agent's mailbox, waking it
// immediately if it is parked on an empty-mailbox RecvTimeout (spec.md
// section 4.3): the issuing agent never suspends on send.
func (vm *VM) execSend(frame *CallFrame, instr bytecode.Instruction) {
	target := frame.Registers[instr.A()].AsAgent()
	v := frame.Registers[instr.B()]

	targetInst := vm.agents[target]
	if targetInst == nil {
		return
	}
	targetInst.pushMailbox(v)

	if targetInst.State == StateSuspendedMailbox {
		delivered, _ := targetInst.popMailbox()
		tframe := targetInst.topFrame()
		if tframe != nil {
			tframe.Registers[targetInst.recv.destReg] = delivered
		}
		targetInst.State = StateReady
		vm.ready = append(vm.ready, target)
	}
}

// execRecv is non-blocking: it always yields the remainder of the
// agent's turn to the scheduler (spec.md section 4.3), but never parks
// the agent the way RecvTimeout on an empty mailbox does.
func (vm *VM) execRecv(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) {
	dst := instr.A()
	if v, ok := ag.popMailbox(); ok {
		frame.Registers[dst] = v
		return
	}
	frame.Registers[dst] = value.None()
}

// execRecvTimeout returns immediately if a message is already queued,
// otherwise suspends the agent until one arrives or the duration (in
// seconds) elapses, whichever comes first.
func (vm *VM) execRecvTimeout(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	dst := instr.A()
	if v, ok := ag.popMailbox(); ok {
		frame.Registers[dst] = v
		return outcomeContinue
	}
	seconds := frame.Registers[instr.B()].AsNum()
	ag.recv = pendingRecv{destReg: dst, deadlineAt: time.Now().Add(time.Duration(seconds * float64(time.Second)))}
	ag.State = StateSuspendedMailbox
	return outcomeSuspended
}

// execWait blocks the caller until the target agent terminates,
// delivering its exit value immediately if it already has (spec.md
// section 4.3's wait semantics).
func (vm *VM) execWait(ag *AgentInstance, frame *CallFrame, instr bytecode.Instruction) stepOutcome {
	dst := instr.A()
	target := frame.Registers[instr.B()].AsAgent()

	targetInst := vm.agents[target]
	if targetInst == nil {
		return vm.throwOutcome(ag, &value.Err{Kind: value.UndefinedError, Message: "wait on an undefined agent instance"})
	}
	if targetInst.State == StateTerminated {
		frame.Registers[dst] = targetInst.Exit
		return outcomeContinue
	}

	targetInst.waiters = append(targetInst.waiters, ag.ID)
	ag.recv.destReg = dst
	ag.State = StateSuspendedWait
	return outcomeSuspended
}

// execKill forcibly terminates the target agent with an Error exit
// value (spec.md section 4.5: "kill(handle) transitions the target to
// Terminated with an Error exit value"). Kill is not a catchable
// operation for the killed agent: it bypasses throw and wakes the
// target's own waiters directly, delivering that Error as their wait()
// result.
func (vm *VM) execKill(frame *CallFrame, instr bytecode.Instruction) {
	dst := instr.A()
	target := frame.Registers[instr.B()].AsAgent()
	if targetInst := vm.agents[target]; targetInst != nil && targetInst.State != StateTerminated {
		vm.terminateAgent(targetInst, value.ErrValue(&value.Err{Kind: value.HostError, Message: "killed"}))
	}
	frame.Registers[dst] = value.None()
}
