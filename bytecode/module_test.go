package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModule() *Module {
	return &Module{
		Constants: []Constant{
			ConstantNum(40),
			ConstantNum(2),
			ConstantStr("hi"),
		},
		Functions: []Function{
			{
				Name:         "main",
				NumParams:    0,
				NumRegisters: 3,
				Instructions: []Instruction{
					NewABx(OpLoadConst, 0, 0),
					NewABx(OpLoadConst, 1, 1),
					NewABC(OpAdd, 2, 0, 1),
					NewABC(OpEmit, 2, 0, 0),
					NewABC(OpReturn, 2, 0, 0),
				},
			},
		},
		Agents: []AgentDescriptor{
			{
				Name:      "Counter",
				Model:     "gpt-test",
				PromptIdx: 2,
				MemoryFields: []MemoryField{
					{Name: "c", TypeTag: "num", DefaultIdx: 1},
				},
				Methods: []MethodEntry{
					{Name: "inc", FuncIndex: 0},
				},
			},
		},
		Tools: []ToolDescriptor{
			{
				Name:        "search",
				Description: "searches things",
				ReturnType:  "str",
				Params: []ToolParam{
					{Name: "q", TypeTag: "str"},
					{Name: "limit", TypeTag: "num", HasDefault: true, DefaultIdx: 1},
				},
			},
		},
		Entry: 0,
	}
}

func TestDisassembleContainsFunctionAndOpcodeNames(t *testing.T) {
	m := sampleModule()
	out := m.Disassemble()
	assert.Contains(t, out, `function 0 "main"`)
	assert.Contains(t, out, "(entry)")
	assert.Contains(t, out, "LoadConst")
	assert.Contains(t, out, "Add")
	assert.Contains(t, out, "Emit")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleModule()

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)

	require.Len(t, got.Constants, len(m.Constants))
	assert.Equal(t, m.Constants[0].Num, got.Constants[0].Num)
	assert.Equal(t, m.Constants[2].Str, got.Constants[2].Str)

	require.Len(t, got.Functions, 1)
	assert.Equal(t, "main", got.Functions[0].Name)
	assert.Equal(t, m.Functions[0].Instructions, got.Functions[0].Instructions)

	require.Len(t, got.Agents, 1)
	assert.Equal(t, "Counter", got.Agents[0].Name)
	idx, ok := got.Agents[0].MethodIndex("inc")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "search", got.Tools[0].Name)
	assert.True(t, got.Tools[0].Params[1].HasDefault)

	assert.Equal(t, m.Entry, got.Entry)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 1, 0, 1, 0})
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestAgentDescriptorDefaultForField(t *testing.T) {
	m := sampleModule()
	idx, ok := m.Agents[0].DefaultForField("c")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = m.Agents[0].DefaultForField("missing")
	assert.False(t, ok)
}
