// Package arch holds the x86-64 register file and the CursorState
// capability interface that the unwind cursor drives one step at a time.
// Grounded on the per-ISA Arch struct in
// _examples/devilkun-delve/pkg/proc/arm64_arch.go, but scoped down to the
// two DWARF register numbers the simplified cursor state actually needs
// (spec.md §4.7: "the only two the simplified state manipulates; other
// indices surface as 'not supported'").
package arch

import "golang.org/x/arch/x86/x86asm"

// DWARF x86-64 register numbers (System V ABI). RSP is the stack pointer;
// RIP's DWARF number (16) is also the CFI "return address register" column
// for this ABI — a frame's saved-return-address rule lives under register
// number 16, not under any general-purpose register alias.
const (
	DwarfRSP = 7
	DwarfRIP = 16
	DwarfRBP = 6
)

// PtrSize is the machine word width this package unwinds: 8 bytes on
// x86-64 (Non-goals: no 32-bit, no other ISAs).
const PtrSize = 8

// dwarfToHardware names the x86asm register corresponding to each DWARF
// register number this module ever surfaces to a caller or log line.
// Mirrors amd64DwarfToHardware in the teacher's amd64_arch.go, trimmed to
// the subset this unwinder resolves (general-purpose integer registers;
// no vector/segment registers, since CFI for ordinary function prologues
// never targets them).
var dwarfToHardware = map[uint64]x86asm.Reg{
	0:  x86asm.RAX,
	1:  x86asm.RDX,
	2:  x86asm.RCX,
	3:  x86asm.RBX,
	4:  x86asm.RSI,
	5:  x86asm.RDI,
	6:  x86asm.RBP,
	7:  x86asm.RSP,
	8:  x86asm.R8,
	9:  x86asm.R9,
	10: x86asm.R10,
	11: x86asm.R11,
	12: x86asm.R12,
	13: x86asm.R13,
	14: x86asm.R14,
	15: x86asm.R15,
}

// DwarfRegisterName returns the hardware register name for a DWARF
// register number, or "" if this module doesn't track it. Used only for
// diagnostics (log lines, error messages) — never on the hot path.
func DwarfRegisterName(reg uint64) string {
	if reg == DwarfRIP {
		return "RIP"
	}
	r, ok := dwarfToHardware[reg]
	if !ok {
		return ""
	}
	return r.String()
}
