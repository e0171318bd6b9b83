package host

import "agentus/value"

// NoopHost is the safe default reference host: it errors on every
// call rather than silently fabricating LLM or tool output (spec.md
// section 4.4).
type NoopHost struct{}

func NewNoopHost() *NoopHost { return &NoopHost{} }

func (h *NoopHost) Exec(req ExecRequest) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- Result{Err: &value.Err{Kind: value.HostError, Message: "no host configured for exec"}}
	}()
	return ch
}

func (h *NoopHost) ToolCall(req ToolRequest) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- Result{Err: &value.Err{Kind: value.HostError, Message: "no host configured for tool_call"}}
	}()
	return ch
}
