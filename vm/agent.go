package vm

import (
	"time"

	"agentus/bytecode"
	"agentus/host"
	"agentus/value"
)

// AgentState is an AgentInstance's scheduling state (spec.md section 3).
type AgentState byte

const (
	StateReady AgentState = iota
	StateRunning
	StateSuspendedMailbox
	StateSuspendedHost
	StateSuspendedWait
	StateTerminated
)

func (s AgentState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspendedMailbox:
		return "suspended(mailbox)"
	case StateSuspendedHost:
		return "suspended(host_pending)"
	case StateSuspendedWait:
		return "suspended(wait)"
	case StateTerminated:
		return "terminated"
	default:
		return "?state?"
	}
}

// pendingHost is what an agent is waiting on while StateSuspendedHost:
// the channel a host.Host call will eventually deliver to, and the
// frame/register the result belongs in.
type pendingHost struct {
	ch      <-chan host.Result
	destReg uint8
}

// pendingRecv is what an agent is waiting on while StateSuspendedMailbox
// due to a RecvTimeout with an empty mailbox.
type pendingRecv struct {
	destReg    uint8
	deadlineAt time.Time
}

// AgentInstance is a live, spawned agent: a stable handle, a reference
// to its descriptor, its private memory map, its FIFO mailbox, its own
// call-frame stack (populated for the entry program and for agents that
// run their own "run" method as an independent coroutine — see
// DESIGN.md; other agents' methods run on the caller's stack), and
// scheduling state (spec.md section 3).
type AgentInstance struct {
	ID         value.AgentHandle
	Descriptor *bytecode.AgentDescriptor
	Memory     map[string]value.Value
	Mailbox    []value.Value

	Frames []*CallFrame
	State  AgentState
	Exit   value.Value

	host pendingHost
	recv pendingRecv

	waiters []value.AgentHandle // agents parked in Wait on this instance's termination
}

func newAgentInstance(id value.AgentHandle, desc *bytecode.AgentDescriptor) *AgentInstance {
	return &AgentInstance{
		ID:         id,
		Descriptor: desc,
		Memory:     make(map[string]value.Value),
		State:      StateReady,
	}
}

func (a *AgentInstance) pushMailbox(v value.Value) {
	a.Mailbox = append(a.Mailbox, v)
}

func (a *AgentInstance) popMailbox() (value.Value, bool) {
	if len(a.Mailbox) == 0 {
		return value.Value{}, false
	}
	v := a.Mailbox[0]
	a.Mailbox = a.Mailbox[1:]
	return v, true
}

func (a *AgentInstance) topFrame() *CallFrame {
	if len(a.Frames) == 0 {
		return nil
	}
	return a.Frames[len(a.Frames)-1]
}
