package codegen

import "agentus/bytecode"

const maxRegisters = 256

// valRef is the result of compiling an expression: the register that
// holds its value, and whether that register is a temporary the
// caller may reclaim once it has consumed the value. A false temp
// means the register is a named local (or the reserved receiver
// register) and must not be released out from under it.
type valRef struct {
	reg  uint8
	temp bool
}

// funcGen compiles a single function/method body: a linear register
// allocator starting at 0 and capped at 256, a stack of lexical
// scopes mapping local names to registers, and the growing
// instruction buffer (spec.md section 4.2's "one sub-generator per
// function/method/agent-method body").
type funcGen struct {
	g      *Generator
	instrs []bytecode.Instruction

	next int
	max  int

	scopes []map[string]uint8
}

func newFuncGen(g *Generator) *funcGen {
	fg := &funcGen{g: g}
	fg.pushScope()
	return fg
}

func (fg *funcGen) pushScope() {
	fg.scopes = append(fg.scopes, map[string]uint8{})
}

// popScope discards the innermost scope and resets the register
// allocator to the mark recorded when that scope was entered,
// releasing its locals and any temporaries in reverse allocation
// order by simply rewinding the stack pointer (spec.md section 4.2's
// "released in reverse allocation order").
func (fg *funcGen) popScope(mark int) {
	fg.scopes = fg.scopes[:len(fg.scopes)-1]
	fg.next = mark
}

func (fg *funcGen) bind(name string, reg uint8) {
	fg.scopes[len(fg.scopes)-1][name] = reg
}

func (fg *funcGen) resolve(name string) (uint8, bool) {
	for i := len(fg.scopes) - 1; i >= 0; i-- {
		if r, ok := fg.scopes[i][name]; ok {
			return r, true
		}
	}
	return 0, false
}

// mark returns the current allocator position without consuming it.
func (fg *funcGen) mark() int { return fg.next }

// alloc reserves the next free register.
func (fg *funcGen) alloc() (uint8, error) {
	if fg.next >= maxRegisters {
		return 0, errf("function exceeds %d registers per frame", maxRegisters)
	}
	r := fg.next
	fg.next++
	if fg.next > fg.max {
		fg.max = fg.next
	}
	return uint8(r), nil
}

// setNext rewinds or advances the allocator to an absolute position,
// used after an opcode has consumed its operand temporaries (spec.md
// section 4.2: "released as soon as the consuming opcode has been
// emitted").
func (fg *funcGen) setNext(n int) {
	fg.next = n
	if n > fg.max {
		fg.max = n
	}
}

func (fg *funcGen) emit(i bytecode.Instruction) int {
	fg.instrs = append(fg.instrs, i)
	return len(fg.instrs) - 1
}

func (fg *funcGen) pc() int { return len(fg.instrs) }

// patchAsBx rewrites the sBx field of an already-emitted AsBx-format
// instruction so that it lands on targetPC, honoring section 4.1's
// rule that jump offsets are applied to the PC after the branch
// instruction has been fetched.
func (fg *funcGen) patchAsBx(pc int, targetPC int) error {
	instr := fg.instrs[pc]
	offset := targetPC - (pc + 1)
	if offset < -32768 || offset > 32767 {
		return errf("jump offset %d overflows signed 16 bits", offset)
	}
	fg.instrs[pc] = bytecode.NewAsBx(instr.Op(), instr.A(), int16(offset))
	return nil
}

// patchSBx is patchAsBx's counterpart for the register-less sBx
// format used by unconditional Jump.
func (fg *funcGen) patchSBx(pc int, targetPC int) error {
	instr := fg.instrs[pc]
	offset := targetPC - (pc + 1)
	const lo, hi = -(1 << 23), 1<<23 - 1
	if offset < lo || offset > hi {
		return errf("jump offset %d overflows signed 24 bits", offset)
	}
	fg.instrs[pc] = bytecode.NewSBx(instr.Op(), int32(offset))
	return nil
}

func (fg *funcGen) finish(name string, numParams int) bytecode.Function {
	return bytecode.Function{
		Name:         name,
		NumParams:    numParams,
		NumRegisters: fg.max,
		Instructions: fg.instrs,
	}
}
