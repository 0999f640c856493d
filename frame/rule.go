// Package frame parses DWARF Call Frame Information (.eh_frame and
// .eh_frame_hdr) and executes CFI instruction streams to produce, for a
// given PC, the FrameContext (spec §4.6/§4.7/§4.8) that arch.AMD64State
// consumes to compute the CFA and recover caller registers.
//
// Grounded on the CIE/FDE byte layout and opcode set in
// _examples/other_examples/..._ConradIrwin-go-dwarf__unwind.go and
// ..._pattyshack-bad__dwarf-call_frame_info.go / dwarf-frame_section.go,
// generalized from their partial opcode coverage to the full rule set
// spec §4.7 names (Undefined/SameValue/Offset/ValOffset/Register/
// Expression/ValExpression/Architectural).
package frame

// Rule identifies how to recover one register's value in the caller's
// frame, per spec §4.7 ("recover_register").
type Rule int

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleArchitectural
	// RuleCFA is used only for the CFA pseudo-rule itself: CFA = reg + offset.
	RuleCFA
	// RuleCFAExpression marks a CFA rule given by a DWARF expression instead
	// of register+offset (spec §4.7: "If the CFA rule is Expression: fail
	// with NotSupported").
	RuleCFAExpression
)

// DWRule is one resolved CFI rule: either the CFA rule for a row, or the
// recovery rule for a single register within that row.
type DWRule struct {
	Rule       Rule
	Reg        uint64
	Offset     int64
	Expression []byte
}

// FrameContext is the unwind row resolved for one specific PC (spec
// glossary: "Unwind row"): the CFA rule plus a rule per register the CIE/FDE
// instruction stream mentioned.
type FrameContext struct {
	// RetAddrReg is the CIE's return_address_register column (on x86-64
	// this is always DWARF register 16, RIP).
	RetAddrReg uint64
	CFA        DWRule
	Regs       map[uint64]DWRule
}

func newFrameContext(retAddrReg uint64) *FrameContext {
	return &FrameContext{RetAddrReg: retAddrReg, Regs: map[uint64]DWRule{}}
}

func (fc *FrameContext) clone() *FrameContext {
	cp := &FrameContext{RetAddrReg: fc.RetAddrReg, CFA: fc.CFA, Regs: make(map[uint64]DWRule, len(fc.Regs))}
	for k, v := range fc.Regs {
		cp.Regs[k] = v
	}
	return cp
}
