// Package bytecode defines the instruction encoding and module format
// produced by the code generator and consumed by the virtual machine.
package bytecode

import "fmt"

// Instruction is a 32-bit fixed-width word, decoded in one of four
// formats depending on its opcode. This mirrors the teacher's choice
// to fix an Instruction's wire size once and treat it as load-bearing,
// except Agentus packs everything into 32 bits instead of 64.
type Instruction uint32

// Format identifies how an Instruction's operand bits are sliced.
type Format byte

const (
	FormatABC  Format = iota // opcode(8) | A(8) | B(8) | C(8)
	FormatABx                // opcode(8) | A(8) | Bx(16), unsigned
	FormatAsBx                // opcode(8) | A(8) | sBx(16), signed
	FormatSBx                // opcode(8) | sBx(24), signed, no register
)

// NewABC packs an opcode and three 8-bit register operands.
func NewABC(op Op, a, b, c uint8) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16 | uint32(b)<<8 | uint32(c))
}

// NewABx packs an opcode, a register, and an unsigned 16-bit immediate.
func NewABx(op Op, a uint8, bx uint16) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16 | uint32(bx))
}

// NewAsBx packs an opcode, a register, and a signed 16-bit immediate.
func NewAsBx(op Op, a uint8, sbx int16) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16 | uint32(uint16(sbx)))
}

// NewSBx packs an opcode and a signed 24-bit immediate, no register.
func NewSBx(op Op, sbx int32) Instruction {
	const mask = 1<<24 - 1
	return Instruction(uint32(op)<<24 | (uint32(sbx) & mask))
}

// Op returns the instruction's opcode.
func (i Instruction) Op() Op { return Op(i >> 24) }

// A returns the A operand common to ABC/ABx/AsBx formats.
func (i Instruction) A() uint8 { return uint8(i >> 16) }

// B returns the B operand of an ABC-format instruction.
func (i Instruction) B() uint8 { return uint8(i >> 8) }

// C returns the C operand of an ABC-format instruction.
func (i Instruction) C() uint8 { return uint8(i) }

// Bx returns the unsigned 16-bit immediate of an ABx-format instruction.
func (i Instruction) Bx() uint16 { return uint16(i) }

// SBx returns the signed 16-bit immediate of an AsBx-format instruction.
func (i Instruction) SBx() int16 { return int16(uint16(i)) }

// SBx24 returns the signed 24-bit immediate of an sBx-format instruction.
func (i Instruction) SBx24() int32 {
	v := int32(i & (1<<24 - 1))
	if v&(1<<23) != 0 {
		v -= 1 << 24
	}
	return v
}

// String renders the instruction in disassembly form, e.g.
// "Add       r0, r1, r2" or "Jump      -4". Grounded on gvm's
// Instruction.String pretty-printer (vm/compile.go).
func (i Instruction) String() string {
	op := i.Op()
	name := op.String()
	switch op.Format() {
	case FormatABC:
		return fmt.Sprintf("%-10s r%d, r%d, r%d", name, i.A(), i.B(), i.C())
	case FormatABx:
		return fmt.Sprintf("%-10s r%d, %d", name, i.A(), i.Bx())
	case FormatAsBx:
		return fmt.Sprintf("%-10s r%d, %d", name, i.A(), i.SBx())
	case FormatSBx:
		return fmt.Sprintf("%-10s %d", name, i.SBx24())
	default:
		return fmt.Sprintf("%-10s ?", name)
	}
}

// MethodCallSentinel is the Call immediate value that marks a method
// dispatch rather than a direct function call (spec.md section 4.1,
// GLOSSARY "Sentinel").
const MethodCallSentinel = 0xFFFE
