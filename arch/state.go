package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/arcfault/unwind/frame"
	"github.com/arcfault/unwind/op"
)

// NotSupportedError marks a CFI construct beyond what State can represent
// (spec §4.7: "NotSupported"). The root package maps this to KindNotSupported
// without arch importing the root package's Error type (which would create
// an import cycle, since the root package imports arch).
type NotSupportedError struct{ Msg string }

func (e *NotSupportedError) Error() string { return e.Msg }

// UnwindEndedError marks the expected top-of-stack terminator (spec §4.7:
// "Undefined -> UnwindEnded").
type UnwindEndedError struct{ Msg string }

func (e *UnwindEndedError) Error() string { return e.Msg }

// LogicalError marks an internal invariant violated while resolving a
// register or CFA rule (spec §4.7-eval: "a logical error").
type LogicalError struct{ Msg string }

func (e *LogicalError) Error() string { return e.Msg }

// State is the capability interface the Cursor drives one step at a time,
// matching spec §9's "dynamic dispatch across ISAs" design note: CFA,
// Recover and Step are the only operations a future non-x86-64
// implementation would need to provide.
type State interface {
	// CFA computes the Canonical Frame Address for row.
	CFA(row *frame.FrameContext) (uint64, error)
	// Recover resolves the value a caller's frame should see for register
	// reg, given cfa (already computed via CFA) and row.
	Recover(reg uint64, cfa uint64, row *frame.FrameContext) (uint64, error)
	// Step advances state to the caller's frame described by row. All
	// register mutation is atomic: on error, state is left unchanged
	// (spec §4.7: "atomically (all-or-nothing) assign").
	Step(row *frame.FrameContext, mem op.MemoryReader, ptrSize int) error
	// PC and SP report the current frame's program counter and stack
	// pointer.
	PC() uint64
	SP() uint64
	// Clone returns an independent copy suitable for a speculative Step:
	// the Cursor steps the clone and only commits it back on success
	// (spec §4.8: "snapshot state ... on any error, state is unchanged").
	Clone() State
}

// AMD64State is the x86-64 CursorState (spec §4.7): "the only two the
// simplified state manipulates" are RSP and RIP, so that's all this struct
// tracks plus whatever named registers the unwound code's CFI referenced so
// DW_OP_reg/DW_OP_breg expressions referencing them can resolve. Grounded on
// delve's per-ISA Arch pattern (_examples/devilkun-delve/pkg/proc/arm64_arch.go)
// generalized down to this spec's two-register model.
type AMD64State struct {
	RIP, RSP uint64
	// Other holds any additional DWARF registers the caller captured (e.g.
	// RBP), consulted only by RuleRegister/expression evaluation — never
	// mutated by Step, since spec §4.7 only ever assigns rip/rsp.
	Other map[uint64]uint64
}

// NewAMD64State builds cursor state from a captured machine context.
func NewAMD64State(rip, rsp uint64, other map[uint64]uint64) *AMD64State {
	if other == nil {
		other = map[uint64]uint64{}
	}
	return &AMD64State{RIP: rip, RSP: rsp, Other: other}
}

func (s *AMD64State) PC() uint64 { return s.RIP }
func (s *AMD64State) SP() uint64 { return s.RSP }

// Clone copies RIP/RSP; Other is shared rather than deep-copied since Step
// never mutates it (only DW_OP_reg/breg expression evaluation reads it).
func (s *AMD64State) Clone() State {
	cp := *s
	return &cp
}

func (s *AMD64State) regValue(reg uint64) (uint64, bool) {
	switch reg {
	case DwarfRIP:
		return s.RIP, true
	case DwarfRSP:
		return s.RSP, true
	default:
		v, ok := s.Other[reg]
		return v, ok
	}
}

// CFA implements spec §4.7's get_cfa.
func (s *AMD64State) CFA(row *frame.FrameContext) (uint64, error) {
	switch row.CFA.Rule {
	case frame.RuleCFA:
		if row.CFA.Reg != DwarfRSP {
			return 0, &NotSupportedError{Msg: fmt.Sprintf("CFA value is only derivable from RSP in frame-pointer based state (got register %d)", row.CFA.Reg)}
		}
		return uint64(int64(s.RSP) + row.CFA.Offset), nil
	case frame.RuleCFAExpression:
		return 0, &NotSupportedError{Msg: "CFA expression not supported"}
	default:
		return 0, &NotSupportedError{Msg: "CFA rule is not RegisterAndOffset or Expression"}
	}
}

// Recover implements spec §4.7's recover_register.
func (s *AMD64State) Recover(reg uint64, cfa uint64, row *frame.FrameContext) (uint64, error) {
	return s.recover(reg, cfa, row, nil, 0)
}

// recover is Recover plus the plumbing an expression-bearing rule needs
// (a memory reader and the pointer size), kept as a separate entry point so
// plain Offset/Register rules (the overwhelming common case) never pay for
// building an op.Context.
func (s *AMD64State) recover(reg uint64, cfa uint64, row *frame.FrameContext, mem op.MemoryReader, ptrSize int) (uint64, error) {
	rule, ok := row.Regs[reg]
	if !ok {
		rule = frame.DWRule{Rule: frame.RuleUndefined}
	}
	switch rule.Rule {
	case frame.RuleUndefined:
		return 0, &UnwindEndedError{Msg: "register rule is Undefined"}
	case frame.RuleSameVal:
		v, ok := s.regValue(reg)
		if !ok {
			return 0, &NotSupportedError{Msg: fmt.Sprintf("SameValue rule for register %d with no current value", reg)}
		}
		return v, nil
	case frame.RuleOffset:
		if mem == nil {
			return 0, &LogicalError{Msg: "Offset rule requires memory access"}
		}
		addr := uint64(int64(cfa) + rule.Offset)
		buf := make([]byte, ptrSize)
		if _, err := mem(buf, addr); err != nil {
			return 0, fmt.Errorf("arch: dereferencing CFA+%d (%#x): %w", rule.Offset, addr, err)
		}
		return readWord(buf), nil
	case frame.RuleValOffset:
		return uint64(int64(cfa) + rule.Offset), nil
	case frame.RuleRegister:
		v, ok := s.regValue(rule.Reg)
		if !ok {
			return 0, &NotSupportedError{Msg: fmt.Sprintf("Register rule references untracked register %d", rule.Reg)}
		}
		return v, nil
	case frame.RuleExpression, frame.RuleValExpression:
		if mem == nil {
			return 0, &LogicalError{Msg: "Expression rule requires memory access"}
		}
		regs := op.NewRegisters(binary.LittleEndian, 0, DwarfRIP, DwarfRSP)
		regs.CFA = int64(cfa)
		for r, v := range s.Other {
			regs.AddReg(r, op.FromUint64(v))
		}
		regs.AddReg(DwarfRIP, op.FromUint64(s.RIP))
		regs.AddReg(DwarfRSP, op.FromUint64(s.RSP))
		piece, err := op.ExecuteStackProgram(op.Context{Regs: regs, Mem: mem, PtrSize: ptrSize}, rule.Expression)
		if err != nil {
			return 0, fmt.Errorf("arch: evaluating register %d expression: %w", reg, err)
		}
		return resolvePiece(piece, mem, ptrSize, rule.Rule == frame.RuleValExpression)
	case frame.RuleArchitectural:
		return 0, &NotSupportedError{Msg: fmt.Sprintf("Architectural rule for register %d", reg)}
	default:
		return 0, &LogicalError{Msg: fmt.Sprintf("unknown register rule %d", rule.Rule)}
	}
}

// resolvePiece implements spec §4.7-eval's "final location variant is
// resolved" table. valExpr selects DW_CFA_val_expression semantics (the
// result is a value, not an address to dereference) even when the
// expression itself didn't end in DW_OP_stack_value.
func resolvePiece(p op.Piece, mem op.MemoryReader, ptrSize int, valExpr bool) (uint64, error) {
	switch p.Kind {
	case op.PieceValue:
		return uint64(p.Value), nil
	case op.PieceRegister:
		return 0, &NotSupportedError{Msg: "expression result is a register location, which this state cannot read generically"}
	case op.PieceAddress:
		if valExpr {
			return p.Address, nil
		}
		buf := make([]byte, ptrSize)
		if _, err := mem(buf, p.Address); err != nil {
			return 0, fmt.Errorf("arch: dereferencing expression result %#x: %w", p.Address, err)
		}
		return readWord(buf), nil
	case op.PieceBytes:
		if len(p.Bytes) < ptrSize {
			return 0, &LogicalError{Msg: "expression result narrower than pointer width"}
		}
		return readWord(p.Bytes[:ptrSize]), nil
	default:
		return 0, &LogicalError{Msg: "expression produced no result (Empty)"}
	}
}

// Step implements spec §4.7's step: compute new_rip/new_rsp, then assign
// both only if neither computation failed.
func (s *AMD64State) Step(row *frame.FrameContext, mem op.MemoryReader, ptrSize int) error {
	cfa, err := s.CFA(row)
	if err != nil {
		return err
	}
	newRIP, err := s.recover(row.RetAddrReg, cfa, row, mem, ptrSize)
	if err != nil {
		return err
	}
	newRSP := cfa

	s.RIP = newRIP
	s.RSP = newRSP
	return nil
}

// readWord decodes a little-endian word of any width up to 8 bytes (DWARF
// expression results and CFI rule dereferences are always at most a
// machine word on x86-64, but DW_OP_deref_size can request narrower reads).
func readWord(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
