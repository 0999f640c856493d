package arch

import (
	"encoding/binary"
	"testing"

	"github.com/arcfault/unwind/frame"
	"github.com/stretchr/testify/require"
)

func memOf(backing map[uint64]uint64) func(buf []byte, addr uint64) (int, error) {
	return func(buf []byte, addr uint64) (int, error) {
		v := backing[addr]
		buf2 := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf2, v)
		copy(buf, buf2)
		return len(buf), nil
	}
}

func simpleRow() *frame.FrameContext {
	return &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		CFA:        frame.DWRule{Rule: frame.RuleCFA, Reg: DwarfRSP, Offset: 16},
		Regs: map[uint64]frame.DWRule{
			DwarfRIP: {Rule: frame.RuleOffset, Offset: -8},
		},
	}
}

func TestAMD64StateCFA(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	cfa, err := s.CFA(simpleRow())
	require.NoError(t, err)
	require.Equal(t, uint64(0x7ffee010), cfa)
}

func TestAMD64StateCFAWrongRegister(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	row := simpleRow()
	row.CFA.Reg = DwarfRIP
	_, err := s.CFA(row)
	require.Error(t, err)
	var notSupported *NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestAMD64StateStep(t *testing.T) {
	cfa := uint64(0x7ffee010)
	backing := map[uint64]uint64{
		cfa - 8: 0x400999, // saved return address at CFA-8
	}
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	err := s.Step(simpleRow(), memOf(backing), 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0x400999), s.PC())
	require.Equal(t, cfa, s.SP())
}

func TestAMD64StateStepUndefinedRetAddrIsUnwindEnded(t *testing.T) {
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		CFA:        frame.DWRule{Rule: frame.RuleCFA, Reg: DwarfRSP, Offset: 16},
		Regs:       map[uint64]frame.DWRule{},
	}
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	err := s.Step(row, memOf(nil), 8)
	require.Error(t, err)
	var ended *UnwindEndedError
	require.ErrorAs(t, err, &ended)
}

func TestAMD64StateStepCFAExpressionNotSupported(t *testing.T) {
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		CFA:        frame.DWRule{Rule: frame.RuleCFAExpression},
	}
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	err := s.Step(row, memOf(nil), 8)
	require.Error(t, err)
	var notSupported *NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestAMD64StateStepLeavesStateUnchangedOnError(t *testing.T) {
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		CFA:        frame.DWRule{Rule: frame.RuleCFA, Reg: DwarfRSP, Offset: 16},
		Regs:       map[uint64]frame.DWRule{},
	}
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	err := s.Step(row, memOf(nil), 8)
	require.Error(t, err)
	require.Equal(t, uint64(0x400100), s.PC())
	require.Equal(t, uint64(0x7ffee000), s.SP())
}

func TestAMD64StateRecoverRuleRegister(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, map[uint64]uint64{6: 0xabc})
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		Regs: map[uint64]frame.DWRule{
			3: {Rule: frame.RuleRegister, Reg: 6},
		},
	}
	v, err := s.Recover(3, 0, row)
	require.NoError(t, err)
	require.Equal(t, uint64(0xabc), v)
}

func TestAMD64StateRecoverRuleValOffset(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		Regs: map[uint64]frame.DWRule{
			6: {Rule: frame.RuleValOffset, Offset: -16},
		},
	}
	v, err := s.Recover(6, 0x1000, row)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000-16), v)
}

func TestAMD64StateRecoverRuleSameVal(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		Regs: map[uint64]frame.DWRule{
			DwarfRSP: {Rule: frame.RuleSameVal},
		},
	}
	v, err := s.Recover(DwarfRSP, 0, row)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7ffee000), v)
}

func TestAMD64StateRecoverArchitecturalNotSupported(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, nil)
	row := &frame.FrameContext{
		RetAddrReg: DwarfRIP,
		Regs: map[uint64]frame.DWRule{
			6: {Rule: frame.RuleArchitectural},
		},
	}
	_, err := s.Recover(6, 0, row)
	require.Error(t, err)
	var notSupported *NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestAMD64StateClone(t *testing.T) {
	s := NewAMD64State(0x400100, 0x7ffee000, map[uint64]uint64{6: 1})
	clone := s.Clone()

	cloneConcrete, ok := clone.(*AMD64State)
	require.True(t, ok)
	require.Equal(t, s.RIP, cloneConcrete.RIP)
	require.Equal(t, s.RSP, cloneConcrete.RSP)

	cloneConcrete.RIP = 0x999999
	require.Equal(t, uint64(0x400100), s.PC())
}
