package host

import (
	"fmt"
	"strings"

	"agentus/value"
)

// EchoHost is the deterministic reference host used for testing: it
// returns the user prompt verbatim from Exec, and formats tool calls
// as "name(arg1=v1, arg2=v2, …)" with arguments in declaration order
// (req.Args is already insertion-ordered by execTCall) so results are
// reproducible across runs (spec.md section 4.4).
type EchoHost struct{}

func NewEchoHost() *EchoHost { return &EchoHost{} }

func (h *EchoHost) Exec(req ExecRequest) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- Result{Value: value.Str(req.UserPrompt)}
	}()
	return ch
}

func (h *EchoHost) ToolCall(req ToolRequest) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		keys := req.Args.Keys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v, _ := req.Args.Get(k)
			parts = append(parts, fmt.Sprintf("%s=%s", k, value.Format(v)))
		}
		formatted := fmt.Sprintf("%s(%s)", req.ToolName, strings.Join(parts, ", "))
		ch <- Result{Value: value.Str(formatted)}
	}()
	return ch
}
