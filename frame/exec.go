package frame

import "fmt"

// DW_CFA_* opcodes (DWARF v5 §6.4.2), the instruction set that advances the
// "current location" and mutates register rules as a CIE/FDE's instruction
// stream is replayed. Grounded on the opcode constants in
// _examples/other_examples/..._ConradIrwin-go-dwarf__unwind.go and
// ..._pattyshack-bad__dwarf-call_frame_info.go; this module executes the
// full set those two partial implementations only stub (offset_extended_sf,
// expression, val_offset, val_expression, register, remember/restore_state).
const (
	cfaAdvanceLoc = 0x40 // high 2 bits; low 6 bits carry the delta
	cfaOffset     = 0x80 // high 2 bits; low 6 bits carry the register
	cfaRestore    = 0xc0 // high 2 bits; low 6 bits carry the register

	cfaNop               = 0x00
	cfaSetLoc            = 0x01
	cfaAdvanceLoc1       = 0x02
	cfaAdvanceLoc2       = 0x03
	cfaAdvanceLoc4       = 0x04
	cfaOffsetExtended    = 0x05
	cfaRestoreExtended   = 0x06
	cfaUndefined         = 0x07
	cfaSameValue         = 0x08
	cfaRegister          = 0x09
	cfaRememberState     = 0x0a
	cfaRestoreState      = 0x0b
	cfaDefCFA            = 0x0c
	cfaDefCFARegister    = 0x0d
	cfaDefCFAOffset      = 0x0e
	cfaDefCFAExpression  = 0x0f
	cfaExpression        = 0x10
	cfaOffsetExtendedSF  = 0x11
	cfaDefCFASF          = 0x12
	cfaDefCFAOffsetSF    = 0x13
	cfaValOffset         = 0x14
	cfaValOffsetSF       = 0x15
	cfaValExpression     = 0x16
)

// rowAt replays the CIE's initial instructions and then the FDE's
// instructions up to (and including) the row whose range contains pc,
// producing the FrameContext spec §4.8 calls an "unwind row".
func (f *fde) rowAt(pc uint64, order byteOrder) (*FrameContext, error) {
	initial := newFrameContext(f.cie.returnAddressReg)

	type savedState struct {
		ctx *FrameContext
		loc uint64
	}
	var stateStack []savedState

	loc := f.initialLocation
	caf := int64(f.cie.codeAlignmentFactor)
	daf := f.cie.dataAlignmentFactor

	run := func(instrs []byte, ctx **FrameContext) error {
		i := 0
		for i < len(instrs) {
			op := instrs[i]
			i++

			high := op & 0xc0
			low := op & 0x3f
			if high == cfaAdvanceLoc {
				loc += uint64(low) * uint64(caf)
				if loc > pc {
					break
				}
				continue
			}
			if high == cfaOffset {
				off, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[uint64(low)] = DWRule{Rule: RuleOffset, Offset: int64(off) * daf}
				continue
			}
			if high == cfaRestore {
				if loc > pc {
					break
				}
				if r, ok := initial.Regs[uint64(low)]; ok {
					(*ctx).Regs[uint64(low)] = r
				} else {
					delete((*ctx).Regs, uint64(low))
				}
				continue
			}

			switch op {
			case cfaNop:
			case cfaSetLoc:
				if i+8 > len(instrs) {
					return fmt.Errorf("frame: truncated DW_CFA_set_loc")
				}
				loc = order.uint(instrs[i:i+8], 8)
				i += 8
			case cfaAdvanceLoc1:
				loc += uint64(instrs[i]) * uint64(caf)
				i++
			case cfaAdvanceLoc2:
				loc += order.uint(instrs[i:i+2], 2) * uint64(caf)
				i += 2
			case cfaAdvanceLoc4:
				loc += order.uint(instrs[i:i+4], 4) * uint64(caf)
				i += 4
			case cfaOffsetExtended:
				reg, n := readULEB(instrs[i:])
				i += n
				off, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleOffset, Offset: int64(off) * daf}
			case cfaRestoreExtended:
				reg, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				if r, ok := initial.Regs[reg]; ok {
					(*ctx).Regs[reg] = r
				} else {
					delete((*ctx).Regs, reg)
				}
			case cfaUndefined:
				reg, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleUndefined}
			case cfaSameValue:
				reg, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleSameVal}
			case cfaRegister:
				reg, n := readULEB(instrs[i:])
				i += n
				src, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleRegister, Reg: src}
			case cfaRememberState:
				stateStack = append(stateStack, savedState{ctx: (*ctx).clone(), loc: loc})
			case cfaRestoreState:
				if len(stateStack) == 0 {
					return fmt.Errorf("frame: DW_CFA_restore_state with empty stack")
				}
				top := stateStack[len(stateStack)-1]
				stateStack = stateStack[:len(stateStack)-1]
				*ctx = top.ctx
			case cfaDefCFA:
				reg, n := readULEB(instrs[i:])
				i += n
				off, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: int64(off)}
			case cfaDefCFARegister:
				reg, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				cfa := (*ctx).CFA
				cfa.Rule = RuleCFA
				cfa.Reg = reg
				(*ctx).CFA = cfa
			case cfaDefCFAOffset:
				off, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				cfa := (*ctx).CFA
				cfa.Rule = RuleCFA
				cfa.Offset = int64(off)
				(*ctx).CFA = cfa
			case cfaDefCFAExpression:
				length, n := readULEB(instrs[i:])
				i += n
				if i+int(length) > len(instrs) {
					return fmt.Errorf("frame: truncated DW_CFA_def_cfa_expression")
				}
				if loc <= pc {
					(*ctx).CFA = DWRule{Rule: RuleCFAExpression, Expression: instrs[i : i+int(length)]}
				}
				i += int(length)
			case cfaExpression:
				reg, n := readULEB(instrs[i:])
				i += n
				length, n := readULEB(instrs[i:])
				i += n
				if i+int(length) > len(instrs) {
					return fmt.Errorf("frame: truncated DW_CFA_expression")
				}
				if loc <= pc {
					(*ctx).Regs[reg] = DWRule{Rule: RuleExpression, Expression: instrs[i : i+int(length)]}
				}
				i += int(length)
			case cfaOffsetExtendedSF:
				reg, n := readULEB(instrs[i:])
				i += n
				off, n := readSLEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleOffset, Offset: off * daf}
			case cfaDefCFASF:
				reg, n := readULEB(instrs[i:])
				i += n
				off, n := readSLEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: off * daf}
			case cfaDefCFAOffsetSF:
				off, n := readSLEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				cfa := (*ctx).CFA
				cfa.Rule = RuleCFA
				cfa.Offset = off * daf
				(*ctx).CFA = cfa
			case cfaValOffset:
				reg, n := readULEB(instrs[i:])
				i += n
				off, n := readULEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleValOffset, Offset: int64(off) * daf}
			case cfaValOffsetSF:
				reg, n := readULEB(instrs[i:])
				i += n
				off, n := readSLEB(instrs[i:])
				i += n
				if loc > pc {
					break
				}
				(*ctx).Regs[reg] = DWRule{Rule: RuleValOffset, Offset: off * daf}
			case cfaValExpression:
				reg, n := readULEB(instrs[i:])
				i += n
				length, n := readULEB(instrs[i:])
				i += n
				if i+int(length) > len(instrs) {
					return fmt.Errorf("frame: truncated DW_CFA_val_expression")
				}
				if loc <= pc {
					(*ctx).Regs[reg] = DWRule{Rule: RuleValExpression, Expression: instrs[i : i+int(length)]}
				}
				i += int(length)
			default:
				return fmt.Errorf("frame: unsupported CFA opcode %#x", op)
			}

			if loc > pc {
				break
			}
		}
		return nil
	}

	if err := run(f.cie.initialInstructions, &initial); err != nil {
		return nil, err
	}
	row := initial.clone()
	if err := run(f.instructions, &row); err != nil {
		return nil, err
	}
	return row, nil
}
