package codegen

import "fmt"

// Error is a generator-side compile failure: undefined name
// resolution, register exhaustion, or jump offset overflow
// (spec.md section 4.2).
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func errf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
