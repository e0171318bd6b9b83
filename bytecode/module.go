package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ConstKind tags which alternative of Constant is populated.
type ConstKind byte

const (
	ConstNone ConstKind = iota
	ConstBool
	ConstNum
	ConstStr
)

// Constant is one pool entry: number, string, bool, or none. Pool
// entries are interned by the code generator (spec.md section 4.2):
// identical literals share one index.
type Constant struct {
	Kind ConstKind
	Bool bool
	Num  float64
	Str  string
}

func ConstantNone() Constant        { return Constant{Kind: ConstNone} }
func ConstantBool(b bool) Constant  { return Constant{Kind: ConstBool, Bool: b} }
func ConstantNum(n float64) Constant { return Constant{Kind: ConstNum, Num: n} }
func ConstantStr(s string) Constant { return Constant{Kind: ConstStr, Str: s} }

func (c Constant) String() string {
	switch c.Kind {
	case ConstNone:
		return "none"
	case ConstBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case ConstNum:
		return fmt.Sprintf("%g", c.Num)
	case ConstStr:
		return fmt.Sprintf("%q", c.Str)
	default:
		return "?const?"
	}
}

// Function is one compiled function, method, or agent-method body:
// an instruction vector, parameter count, declared register count,
// optional name, and an optional debug span map (instruction index ->
// source line, used only by the debugger/disassembler).
type Function struct {
	Name         string
	NumParams    int
	NumRegisters int
	Instructions []Instruction
	DebugLines   map[int]int
}

// MethodEntry is one row of an AgentDescriptor's ordered method table.
type MethodEntry struct {
	Name      string
	FuncIndex int
}

// MemoryField is one row of an AgentDescriptor's ordered memory-field
// list: a name, a declared type tag, and a default constant index.
type MemoryField struct {
	Name       string
	TypeTag    string
	DefaultIdx int
}

// AgentDescriptor describes an agent type: its name, LLM model
// string, system prompt template (as a constant index), its ordered
// memory fields, and its ordered method table.
type AgentDescriptor struct {
	Name         string
	Model        string
	PromptIdx    int
	MemoryFields []MemoryField
	Methods      []MethodEntry
}

// MethodIndex looks up a method's function index by name, returning
// false if the agent declares no such method.
func (d *AgentDescriptor) MethodIndex(name string) (int, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m.FuncIndex, true
		}
	}
	return 0, false
}

// DefaultForField returns the declared default constant index for a
// memory field, used by MLoad when a field is absent from an
// instance's memory map.
func (d *AgentDescriptor) DefaultForField(name string) (int, bool) {
	for _, f := range d.MemoryFields {
		if f.Name == name {
			return f.DefaultIdx, true
		}
	}
	return 0, false
}

// ToolParam is one parameter of a ToolDescriptor: a name, type tag,
// and an optional default constant index.
type ToolParam struct {
	Name       string
	TypeTag    string
	HasDefault bool
	DefaultIdx int
}

// ToolDescriptor describes an externally implemented tool: its name,
// optional description, ordered parameter list, and declared return
// type.
type ToolDescriptor struct {
	Name        string
	Description string
	Params      []ToolParam
	ReturnType  string
}

// Module is the unit produced by the code generator and consumed by
// the virtual machine: constants pool, function table, agent
// descriptors, tool descriptors, and the entry function index.
type Module struct {
	Constants []Constant
	Functions []Function
	Agents    []AgentDescriptor
	Tools     []ToolDescriptor
	Entry     int
}

// Disassemble renders every function's instructions in human-readable
// form, carried forward from gvm's printProgram/Instruction.String
// pretty-printer (vm/compile.go).
func (m *Module) Disassemble() string {
	var b bytes.Buffer
	for fi, fn := range m.Functions {
		marker := ""
		if fi == m.Entry {
			marker = " (entry)"
		}
		fmt.Fprintf(&b, "function %d %q params=%d regs=%d%s\n", fi, fn.Name, fn.NumParams, fn.NumRegisters, marker)
		for pc, instr := range fn.Instructions {
			fmt.Fprintf(&b, "  %4d  %s\n", pc, instr.String())
		}
	}
	return b.String()
}

// --- On-disk encoding -------------------------------------------------
//
// This wire shape is a supplemented feature: spec.md section 6
// describes an on-disk module format as an external interface but
// does not require persistence be implemented. The format below is a
// fixed header plus tagged records, exercised by round-trip tests;
// it is deliberately not wired into the CLI.

const (
	magic         uint32 = 0xA6E17B01
	formatVersion uint16 = 1
	opTableVer    uint16 = uint16(opCount)
)

// Encode writes the module in its documented binary form.
func (m *Module) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, opTableVer); err != nil {
		return err
	}

	if err := encodeConstants(w, m.Constants); err != nil {
		return err
	}
	if err := encodeFunctions(w, m.Functions); err != nil {
		return err
	}
	if err := encodeAgents(w, m.Agents); err != nil {
		return err
	}
	if err := encodeTools(w, m.Tools); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, int32(m.Entry))
}

func encodeConstants(w io.Writer, consts []Constant) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(consts))); err != nil {
		return err
	}
	for _, c := range consts {
		if err := binary.Write(w, binary.LittleEndian, byte(c.Kind)); err != nil {
			return err
		}
		switch c.Kind {
		case ConstBool:
			if err := binary.Write(w, binary.LittleEndian, c.Bool); err != nil {
				return err
			}
		case ConstNum:
			if err := binary.Write(w, binary.LittleEndian, c.Num); err != nil {
				return err
			}
		case ConstStr:
			if err := writeString(w, c.Str); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeFunctions(w io.Writer, fns []Function) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(fns))); err != nil {
		return err
	}
	for _, fn := range fns {
		if err := writeString(w, fn.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(fn.NumParams)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(fn.NumRegisters)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(fn.Instructions))); err != nil {
			return err
		}
		for _, instr := range fn.Instructions {
			if err := binary.Write(w, binary.LittleEndian, uint32(instr)); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeAgents(w io.Writer, agents []AgentDescriptor) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(agents))); err != nil {
		return err
	}
	for _, a := range agents {
		if err := writeString(w, a.Name); err != nil {
			return err
		}
		if err := writeString(w, a.Model); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(a.PromptIdx)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(a.MemoryFields))); err != nil {
			return err
		}
		for _, f := range a.MemoryFields {
			if err := writeString(w, f.Name); err != nil {
				return err
			}
			if err := writeString(w, f.TypeTag); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, int32(f.DefaultIdx)); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(a.Methods))); err != nil {
			return err
		}
		for _, meth := range a.Methods {
			if err := writeString(w, meth.Name); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, int32(meth.FuncIndex)); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeTools(w io.Writer, tools []ToolDescriptor) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(tools))); err != nil {
		return err
	}
	for _, t := range tools {
		if err := writeString(w, t.Name); err != nil {
			return err
		}
		if err := writeString(w, t.Description); err != nil {
			return err
		}
		if err := writeString(w, t.ReturnType); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(t.Params))); err != nil {
			return err
		}
		for _, p := range t.Params {
			if err := writeString(w, p.Name); err != nil {
				return err
			}
			if err := writeString(w, p.TypeTag); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, p.HasDefault); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, int32(p.DefaultIdx)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Decode reads a module previously written by Encode. It rejects
// files with a mismatched magic number or an opcode-table version
// newer than this binary understands.
func Decode(r io.Reader) (*Module, error) {
	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, err
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("bytecode: bad magic %#x", gotMagic)
	}

	var gotFormatVer, gotOpVer uint16
	if err := binary.Read(r, binary.LittleEndian, &gotFormatVer); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &gotOpVer); err != nil {
		return nil, err
	}
	if gotOpVer > opTableVer {
		return nil, fmt.Errorf("bytecode: module opcode table version %d newer than this binary's %d", gotOpVer, opTableVer)
	}

	m := &Module{}

	var numConsts int32
	if err := binary.Read(r, binary.LittleEndian, &numConsts); err != nil {
		return nil, err
	}
	m.Constants = make([]Constant, numConsts)
	for i := range m.Constants {
		var kind byte
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, err
		}
		c := Constant{Kind: ConstKind(kind)}
		switch c.Kind {
		case ConstBool:
			if err := binary.Read(r, binary.LittleEndian, &c.Bool); err != nil {
				return nil, err
			}
		case ConstNum:
			if err := binary.Read(r, binary.LittleEndian, &c.Num); err != nil {
				return nil, err
			}
		case ConstStr:
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			c.Str = s
		}
		m.Constants[i] = c
	}

	var numFns int32
	if err := binary.Read(r, binary.LittleEndian, &numFns); err != nil {
		return nil, err
	}
	m.Functions = make([]Function, numFns)
	for i := range m.Functions {
		fn := Function{}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		fn.Name = name

		var numParams, numRegs, numInstrs int32
		if err := binary.Read(r, binary.LittleEndian, &numParams); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &numRegs); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &numInstrs); err != nil {
			return nil, err
		}
		fn.NumParams = int(numParams)
		fn.NumRegisters = int(numRegs)
		fn.Instructions = make([]Instruction, numInstrs)
		for j := range fn.Instructions {
			var word uint32
			if err := binary.Read(r, binary.LittleEndian, &word); err != nil {
				return nil, err
			}
			fn.Instructions[j] = Instruction(word)
		}
		m.Functions[i] = fn
	}

	var numAgents int32
	if err := binary.Read(r, binary.LittleEndian, &numAgents); err != nil {
		return nil, err
	}
	m.Agents = make([]AgentDescriptor, numAgents)
	for i := range m.Agents {
		a := AgentDescriptor{}
		var err error
		if a.Name, err = readString(r); err != nil {
			return nil, err
		}
		if a.Model, err = readString(r); err != nil {
			return nil, err
		}
		var promptIdx int32
		if err := binary.Read(r, binary.LittleEndian, &promptIdx); err != nil {
			return nil, err
		}
		a.PromptIdx = int(promptIdx)

		var numFields int32
		if err := binary.Read(r, binary.LittleEndian, &numFields); err != nil {
			return nil, err
		}
		a.MemoryFields = make([]MemoryField, numFields)
		for j := range a.MemoryFields {
			f := MemoryField{}
			if f.Name, err = readString(r); err != nil {
				return nil, err
			}
			if f.TypeTag, err = readString(r); err != nil {
				return nil, err
			}
			var defIdx int32
			if err := binary.Read(r, binary.LittleEndian, &defIdx); err != nil {
				return nil, err
			}
			f.DefaultIdx = int(defIdx)
			a.MemoryFields[j] = f
		}

		var numMethods int32
		if err := binary.Read(r, binary.LittleEndian, &numMethods); err != nil {
			return nil, err
		}
		a.Methods = make([]MethodEntry, numMethods)
		for j := range a.Methods {
			me := MethodEntry{}
			if me.Name, err = readString(r); err != nil {
				return nil, err
			}
			var fidx int32
			if err := binary.Read(r, binary.LittleEndian, &fidx); err != nil {
				return nil, err
			}
			me.FuncIndex = int(fidx)
			a.Methods[j] = me
		}
		m.Agents[i] = a
	}

	var numTools int32
	if err := binary.Read(r, binary.LittleEndian, &numTools); err != nil {
		return nil, err
	}
	m.Tools = make([]ToolDescriptor, numTools)
	for i := range m.Tools {
		t := ToolDescriptor{}
		var err error
		if t.Name, err = readString(r); err != nil {
			return nil, err
		}
		if t.Description, err = readString(r); err != nil {
			return nil, err
		}
		if t.ReturnType, err = readString(r); err != nil {
			return nil, err
		}
		var numParams int32
		if err := binary.Read(r, binary.LittleEndian, &numParams); err != nil {
			return nil, err
		}
		t.Params = make([]ToolParam, numParams)
		for j := range t.Params {
			p := ToolParam{}
			if p.Name, err = readString(r); err != nil {
				return nil, err
			}
			if p.TypeTag, err = readString(r); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &p.HasDefault); err != nil {
				return nil, err
			}
			var defIdx int32
			if err := binary.Read(r, binary.LittleEndian, &defIdx); err != nil {
				return nil, err
			}
			p.DefaultIdx = int(defIdx)
			t.Params[j] = p
		}
		m.Tools[i] = t
	}

	var entry int32
	if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
		return nil, err
	}
	m.Entry = int(entry)

	return m, nil
}
