// Package op implements the DWARF register file used while stepping a
// Cursor and a DWARF expression stack-machine evaluator (spec §4.7-eval).
// It is the Go analogue of github.com/go-delve/delve/pkg/dwarf/op, which
// pkg/proc/stack.go in the teacher repo imports for the same purpose; that
// package isn't part of the retrieval pack, so its surface is reconstructed
// here from how stack.go calls into it (op.DwarfRegisters, op.DwarfRegister,
// op.ExecuteStackProgram, op.DwarfRegisterFromUint64/FromBytes).
package op

import "encoding/binary"

// Register holds the value of a single DWARF-numbered register. Only
// Uint64Val is used by the x86-64 cursor state (spec §4.7 tracks only RIP
// and RSP), but Bytes is kept so wider registers (e.g. XMM) can round-trip
// through expression evaluation without truncation.
type Register struct {
	Uint64Val uint64
	Bytes     []byte
}

// FromUint64 builds a Register holding a plain machine word.
func FromUint64(v uint64) *Register {
	return &Register{Uint64Val: v}
}

// FromBytes builds a Register from a little-endian byte slice, as read off
// the stack or out of a ucontext.
func FromBytes(b []byte) *Register {
	r := &Register{Bytes: append([]byte(nil), b...)}
	for i := 0; i < len(b) && i < 8; i++ {
		r.Uint64Val |= uint64(b[i]) << (8 * uint(i))
	}
	return r
}

// Registers is the live register file threaded through CFA/register
// recovery (spec §4.7). CFA and FrameBase are pseudo-registers computed
// during stepping, not read off hardware.
type Registers struct {
	ByteOrder binary.ByteOrder

	// StaticBase is image.Bias for the image owning PC, used to convert
	// this frame's PC back to an SVMA for line-table lookups.
	StaticBase uint64

	PCRegNum uint64
	SPRegNum uint64

	// CFA is the Canonical Frame Address computed for the current frame.
	CFA int64
	// FrameBase is the DW_AT_frame_base value for the function owning PC,
	// used by DW_OP_fbreg.
	FrameBase int64

	regs map[uint64]*Register
}

// NewRegisters builds an empty register file.
func NewRegisters(order binary.ByteOrder, staticBase, pcRegNum, spRegNum uint64) Registers {
	return Registers{ByteOrder: order, StaticBase: staticBase, PCRegNum: pcRegNum, SPRegNum: spRegNum, regs: map[uint64]*Register{}}
}

// Reg returns the register numbered n, or nil if it has no value.
func (r *Registers) Reg(n uint64) *Register {
	if r.regs == nil {
		return nil
	}
	return r.regs[n]
}

// AddReg sets register n. Passing a nil reg clears it (DWARF Undefined).
func (r *Registers) AddReg(n uint64, reg *Register) {
	if r.regs == nil {
		r.regs = map[uint64]*Register{}
	}
	if reg == nil {
		delete(r.regs, n)
		return
	}
	r.regs[n] = reg
}

// Uint64Val returns the value of register n, or 0 if unset.
func (r *Registers) Uint64Val(n uint64) uint64 {
	if reg := r.Reg(n); reg != nil {
		return reg.Uint64Val
	}
	return 0
}

// PC returns the value of the program-counter register.
func (r *Registers) PC() uint64 { return r.Uint64Val(r.PCRegNum) }

// SP returns the value of the stack-pointer register.
func (r *Registers) SP() uint64 { return r.Uint64Val(r.SPRegNum) }

// Clone returns a deep-enough copy of r suitable for stepping to the next
// frame without mutating the caller's snapshot.
func (r Registers) Clone() Registers {
	cp := r
	cp.regs = make(map[uint64]*Register, len(r.regs))
	for k, v := range r.regs {
		rv := *v
		cp.regs[k] = &rv
	}
	return cp
}
