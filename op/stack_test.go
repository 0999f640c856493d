package op

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteStackProgramConstPlus(t *testing.T) {
	// DW_OP_const1u 5, DW_OP_const1u 3, DW_OP_plus -> address 8
	expr := []byte{opConst1u, 5, opConst1u, 3, opPlus}
	piece, err := ExecuteStackProgram(Context{PtrSize: 8}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceAddress, piece.Kind)
	require.Equal(t, uint64(8), piece.Address)
}

func TestExecuteStackProgramStackValue(t *testing.T) {
	// DW_OP_const1u 7, DW_OP_stack_value -> literal value, not an address
	expr := []byte{opConst1u, 7, opStackValue}
	piece, err := ExecuteStackProgram(Context{PtrSize: 8}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceValue, piece.Kind)
	require.Equal(t, int64(7), piece.Value)
}

func TestExecuteStackProgramReg(t *testing.T) {
	// DW_OP_reg3 yields the register location directly, no stack involved.
	expr := []byte{opReg0 + 3}
	piece, err := ExecuteStackProgram(Context{PtrSize: 8}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceRegister, piece.Kind)
	require.Equal(t, uint64(3), piece.Register)
}

func TestExecuteStackProgramBreg(t *testing.T) {
	regs := NewRegisters(binary.LittleEndian, 0, 16, 7)
	regs.AddReg(6, FromUint64(0x1000))

	// DW_OP_breg6 0x10 -> register 6's value plus SLEB128(0x10)
	expr := []byte{opBreg0 + 6, 0x10}
	piece, err := ExecuteStackProgram(Context{Regs: regs, PtrSize: 8}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceAddress, piece.Kind)
	require.Equal(t, uint64(0x1010), piece.Address)
}

func TestExecuteStackProgramBregUnsetRegister(t *testing.T) {
	regs := NewRegisters(binary.LittleEndian, 0, 16, 7)
	expr := []byte{opBreg0 + 6, 0x10}
	_, err := ExecuteStackProgram(Context{Regs: regs, PtrSize: 8}, expr)
	require.Error(t, err)
}

func TestExecuteStackProgramCallFrameCFA(t *testing.T) {
	regs := NewRegisters(binary.LittleEndian, 0, 16, 7)
	regs.CFA = 0x7ffee100

	expr := []byte{opCallFrameCFA}
	piece, err := ExecuteStackProgram(Context{Regs: regs, PtrSize: 8}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceAddress, piece.Kind)
	require.Equal(t, uint64(0x7ffee100), piece.Address)
}

func TestExecuteStackProgramFbreg(t *testing.T) {
	regs := NewRegisters(binary.LittleEndian, 0, 16, 7)
	regs.FrameBase = 0x2000

	// DW_OP_fbreg -8
	expr := []byte{opFbreg, 0x78}
	piece, err := ExecuteStackProgram(Context{Regs: regs, PtrSize: 8}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceAddress, piece.Kind)
	require.Equal(t, uint64(0x1ff8), piece.Address)
}

func TestExecuteStackProgramDeref(t *testing.T) {
	backing := map[uint64]uint64{0x3000: 0x12345678}
	mem := func(buf []byte, addr uint64) (int, error) {
		v := backing[addr]
		for i := range buf {
			buf[i] = byte(v >> (8 * uint(i)))
		}
		return len(buf), nil
	}

	expr := []byte{opConst4u, 0x00, 0x30, 0x00, 0x00, opDeref}
	piece, err := ExecuteStackProgram(Context{PtrSize: 4, Mem: mem}, expr)
	require.NoError(t, err)
	require.Equal(t, PieceAddress, piece.Kind)
	require.Equal(t, uint64(0x12345678), piece.Address)
}

func TestExecuteStackProgramUnsupportedOpcode(t *testing.T) {
	expr := []byte{0xff}
	_, err := ExecuteStackProgram(Context{PtrSize: 8}, expr)
	require.Error(t, err)
}

func TestExecuteStackProgramStackUnderflow(t *testing.T) {
	expr := []byte{opPlus}
	_, err := ExecuteStackProgram(Context{PtrSize: 8}, expr)
	require.Error(t, err)
}
