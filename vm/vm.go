// Package vm executes a compiled bytecode.Module: instruction dispatch,
// per-agent call-frame stacks, the agent-instance table and its
// mailboxes, the cooperative scheduler, and the sole dispatch point to
// a host.Host for LLM exec and tool calls (spec.md section 4.3).
package vm

import (
	"fmt"
	"time"

	"agentus/bytecode"
	"agentus/host"
	"agentus/value"
)

// entryHandle is the stable handle of the implicit top-level program,
// itself modeled as an AgentInstance with no descriptor so that
// unwinding, termination, and error reporting share one code path
// with user-spawned agents (spec.md section 4.3's unwinding rule:
// "if that agent is the entry agent, the VM reports the error to its
// caller").
const entryHandle value.AgentHandle = 0

// hostEvent is what an in-flight host.Host call reports back on,
// tagged with the agent it belongs to so the scheduler's single
// select loop can fan results in from many concurrent goroutines
// without reflect.Select (gvm's devices.go used one response bus per
// VM for the same reason — vm/devices.go's deviceResponseBus).
type hostEvent struct {
	agent   value.AgentHandle
	result  host.Result
	destReg uint8
}

// VM holds everything needed to run one Module to completion: the
// module itself, the host boundary, the agent table, the cooperative
// ready queue, accumulated emit() output, and debug-mode state.
type VM struct {
	mod  *bytecode.Module
	host host.Host

	agents     map[value.AgentHandle]*AgentInstance
	nextHandle value.AgentHandle
	ready      []value.AgentHandle

	hostResults chan hostEvent

	output []string
}

// New constructs a VM ready to run mod against the given host.
func New(mod *bytecode.Module, h host.Host) *VM {
	vm := &VM{
		mod:         mod,
		host:        h,
		agents:      make(map[value.AgentHandle]*AgentInstance),
		nextHandle:  1,
		hostResults: make(chan hostEvent, 16),
	}
	entry := newAgentInstance(entryHandle, nil)
	entry.Frames = []*CallFrame{vm.newEntryFrame()}
	vm.agents[entryHandle] = entry
	vm.ready = append(vm.ready, entryHandle)
	return vm
}

func (vm *VM) newEntryFrame() *CallFrame {
	fn := vm.mod.Functions[vm.mod.Entry]
	f := newFrame(vm.mod.Entry, fn.NumRegisters, 0)
	return f
}

// Output returns a copy of the emit() buffer, one canonical-form
// string per emit, in emission order.
func (vm *VM) Output() []string {
	out := make([]string, len(vm.output))
	copy(out, vm.output)
	return out
}

// Run drives the scheduler until every agent is either Terminated or
// permanently parked (no pending host call, mailbox deadline, or
// pending Wait can make further progress), then returns the final
// emit() buffer. The entry agent finishing its top-level statements
// does not by itself end the run — spawned agents with their own "run"
// coroutine keep executing until they too terminate or park (spec.md
// section 8 scenario 6). A non-nil error is either an internal VM
// fault (a malformed module or an exhausted register bank, returned
// with a nil buffer) or the entry agent's uncaught Terminated(Error)
// exit value wrapped as a runtimeErr (returned with the buffer).
// Errors caught by a handler, and uncaught errors of other agents, do
// not produce an error here.
func (vm *VM) Run() ([]string, error) {
	for {
		if len(vm.ready) == 0 {
			progressed, err := vm.awaitAsyncEvent()
			if err != nil {
				return nil, err
			}
			if !progressed {
				break
			}
			continue
		}

		handle := vm.ready[0]
		vm.ready = vm.ready[1:]
		ag := vm.agents[handle]
		if ag == nil || ag.State == StateTerminated {
			continue
		}
		ag.State = StateRunning

		if err := vm.runAgentSlice(ag); err != nil {
			return nil, err
		}

		if ag.State == StateRunning || ag.State == StateReady {
			ag.State = StateReady
			vm.ready = append(vm.ready, handle)
		}
	}

	if entry := vm.agents[entryHandle]; entry != nil && entry.Exit.Kind() == value.KindError {
		return vm.output, newRuntimeErr(entry.Exit.AsErr())
	}
	return vm.output, nil
}

// runtimeErr wraps a caught *value.Err surfaced by the entry agent's
// termination as a Go error for the CLI layer.
type runtimeErr struct{ err *value.Err }

func (e runtimeErr) Error() string { return e.err.Error() }

func newRuntimeErr(err *value.Err) error { return runtimeErr{err: err} }

// awaitAsyncEvent blocks until some agent's pending host call resolves
// or its RecvTimeout deadline elapses, transitioning that agent back
// to Ready. It returns false only when nothing is pending (all agents
// are either Terminated or permanently parked in Wait with no path
// forward — a deadlock the scheduler cannot resolve on its own).
func (vm *VM) awaitAsyncEvent() (bool, error) {
	hasPending := false
	for _, ag := range vm.agents {
		if ag.State == StateSuspendedHost || ag.State == StateSuspendedMailbox {
			hasPending = true
			break
		}
	}
	if !hasPending {
		return false, nil
	}

	timerC, agentsAtDeadline := vm.earliestRecvDeadline()
	select {
	case ev := <-vm.hostResults:
		ag := vm.agents[ev.agent]
		if ag == nil {
			return true, nil
		}
		vm.deliverHostResult(ag, ev)
		return true, nil
	case <-timerC:
		for _, handle := range agentsAtDeadline {
			ag := vm.agents[handle]
			if ag == nil || ag.State != StateSuspendedMailbox {
				continue
			}
			vm.timeoutRecv(ag)
		}
		return true, nil
	}
}

// deliverHostResult applies an in-flight Exec/TCall result to the
// agent that issued it. If that agent was killed or otherwise
// terminated while the call was in flight, the result is discarded
// (spec.md section 4.5/5: "in-flight host operations for that agent
// are discarded upon resumption") rather than resurrecting it.
func (vm *VM) deliverHostResult(ag *AgentInstance, ev hostEvent) {
	if ag.State == StateTerminated {
		return
	}
	ag.State = StateReady
	frame := ag.topFrame()
	if frame == nil {
		return
	}
	if ev.result.Err != nil {
		vm.throw(ag, ev.result.Err)
	} else {
		frame.Registers[ev.destReg] = ev.result.Value
	}
	vm.ready = append(vm.ready, ag.ID)
}

func (vm *VM) timeoutRecv(ag *AgentInstance) {
	if v, ok := ag.popMailbox(); ok {
		// Open question (ii): delivery wins over a simultaneously
		// elapsing timeout.
		frame := ag.topFrame()
		frame.Registers[ag.recv.destReg] = v
		ag.State = StateReady
		vm.ready = append(vm.ready, ag.ID)
		return
	}
	ag.State = StateReady
	vm.throw(ag, &value.Err{Kind: value.TimeoutError, Message: "recv_timeout elapsed"})
	vm.ready = append(vm.ready, ag.ID)
}

// earliestRecvDeadline returns a timer channel firing at the soonest
// pending RecvTimeout deadline across all agents, plus the set of
// agents sharing that exact deadline. When no agent has a pending
// deadline it returns a nil channel, which never fires.
func (vm *VM) earliestRecvDeadline() (<-chan time.Time, []value.AgentHandle) {
	var earliest time.Time
	var handles []value.AgentHandle
	for handle, ag := range vm.agents {
		if ag.State != StateSuspendedMailbox {
			continue
		}
		d := ag.recv.deadlineAt
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
			handles = []value.AgentHandle{handle}
		} else if d.Equal(earliest) {
			handles = append(handles, handle)
		}
	}
	if earliest.IsZero() {
		return nil, nil
	}
	return time.After(time.Until(earliest)), handles
}

// spawnAgent creates an instance of the agent descriptor at descIdx.
// A descriptor carrying a conventionally named "run" method is
// started as its own independent coroutine immediately: this is how
// two concurrently-scheduled agents (spec.md section 8's send/recv
// scenario) each make progress without one driving the other through
// an explicit call.
func (vm *VM) spawnAgent(descIdx int) value.AgentHandle {
	desc := &vm.mod.Agents[descIdx]
	handle := vm.nextHandle
	vm.nextHandle++
	inst := newAgentInstance(handle, desc)
	for _, f := range desc.MemoryFields {
		inst.Memory[f.Name] = vm.constValue(f.DefaultIdx)
	}
	vm.agents[handle] = inst

	if runIdx, ok := desc.MethodIndex("run"); ok {
		runFn := vm.mod.Functions[runIdx]
		frame := newFrame(runIdx, runFn.NumRegisters, 0)
		frame.HasAgent = true
		frame.AgentID = handle
		inst.Frames = append(inst.Frames, frame)
		vm.ready = append(vm.ready, handle)
	}
	return handle
}

func (vm *VM) constValue(idx int) value.Value {
	c := vm.mod.Constants[idx]
	switch c.Kind {
	case bytecode.ConstBool:
		return value.Bool(c.Bool)
	case bytecode.ConstNum:
		return value.Num(c.Num)
	case bytecode.ConstStr:
		return value.Str(c.Str)
	default:
		return value.None()
	}
}

// vmFault is an internal error distinct from a caught language error:
// a malformed module or an out-of-bounds access that a correct
// compiler would never emit.
type vmFault struct{ msg string }

func (e vmFault) Error() string { return e.msg }

func faultf(format string, args ...any) error {
	return vmFault{msg: fmt.Sprintf(format, args...)}
}
