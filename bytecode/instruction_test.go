package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestABCRoundTrip(t *testing.T) {
	i := NewABC(OpAdd, 1, 2, 3)
	assert.Equal(t, OpAdd, i.Op())
	assert.Equal(t, uint8(1), i.A())
	assert.Equal(t, uint8(2), i.B())
	assert.Equal(t, uint8(3), i.C())
}

func TestABxRoundTrip(t *testing.T) {
	i := NewABx(OpLoadConst, 5, 4000)
	assert.Equal(t, OpLoadConst, i.Op())
	assert.Equal(t, uint8(5), i.A())
	assert.Equal(t, uint16(4000), i.Bx())
}

func TestAsBxRoundTripNegative(t *testing.T) {
	i := NewAsBx(OpJumpIfFalse, 2, -100)
	assert.Equal(t, OpJumpIfFalse, i.Op())
	assert.Equal(t, uint8(2), i.A())
	assert.Equal(t, int16(-100), i.SBx())
}

func TestSBx24RoundTripNegative(t *testing.T) {
	i := NewSBx(OpJump, -12345)
	assert.Equal(t, OpJump, i.Op())
	assert.Equal(t, int32(-12345), i.SBx24())
}

func TestSBx24RoundTripPositive(t *testing.T) {
	i := NewSBx(OpJump, 8388607) // max positive 24-bit signed value
	assert.Equal(t, int32(8388607), i.SBx24())
}

func TestMethodCallSentinelFitsInBx(t *testing.T) {
	i := NewABx(OpCall, 0, MethodCallSentinel)
	assert.Equal(t, uint16(0xFFFE), i.Bx())
}

func TestOpStringRoundTrip(t *testing.T) {
	for op := Op(0); op < opCount; op++ {
		name := op.String()
		require.NotEqual(t, "?unknown-op?", name, "opcode %d has no name", op)
		got, ok := OpByName(name)
		require.True(t, ok, "name %q does not resolve back to an opcode", name)
		assert.Equal(t, op, got)
	}
}

func TestInstructionStringABC(t *testing.T) {
	i := NewABC(OpAdd, 0, 1, 2)
	assert.Contains(t, i.String(), "Add")
	assert.Contains(t, i.String(), "r0")
}

func TestIsSuspensionPoint(t *testing.T) {
	assert.True(t, OpExec.IsSuspensionPoint())
	assert.True(t, OpTCall.IsSuspensionPoint())
	assert.True(t, OpRecv.IsSuspensionPoint())
	assert.True(t, OpRecvTimeout.IsSuspensionPoint())
	assert.True(t, OpWait.IsSuspensionPoint())
	assert.False(t, OpAdd.IsSuspensionPoint())
	assert.False(t, OpSend.IsSuspensionPoint())
}
