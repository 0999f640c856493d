package frame

import "fmt"

// ErrNoFDEForPC is returned by Table.FDEForPC and Header.FDEForPC when no
// FDE covers the requested PC (spec §4.8: "Otherwise, linearly search
// .eh_frame for the FDE covering SVMA").
type ErrNoFDEForPC struct{ PC uint64 }

func (e *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("frame: no FDE covers pc %#x", e.PC)
}

// Table is a parsed .eh_frame section: CIEs plus the FDEs that reference
// them, searched linearly by PC. This is the fallback path used when an
// image has no .eh_frame_hdr (spec §4.6: "extract .eh_frame_hdr ... if
// present ... extract .eh_frame").
type Table struct {
	data   []byte
	order  byteOrder
	ptrSize int
	// svma is the static address (bias-removed) of data[0] — the start of
	// the .eh_frame section in the object's own address space, needed to
	// resolve DW_EH_PE_pcrel encodings.
	svma uint64

	cies map[int]*cie
}

// NewTable parses raw .eh_frame bytes. Parsing here is limited to building
// the CIE cache lazily; FDEForPC does the actual per-record decode so that
// a malformed FDE far from the PC being queried never prevents resolving
// PCs covered by earlier, well-formed FDEs.
func NewTable(data []byte, order byteOrder, ptrSize int, svma uint64) *Table {
	return &Table{data: data, order: order, ptrSize: ptrSize, svma: svma, cies: map[int]*cie{}}
}

// FDEForPC linearly scans the section for the FDE whose [initial_location,
// initial_location+address_range) range contains pc (an SVMA), then
// replays its CFI program to produce the row at pc.
func (t *Table) FDEForPC(pc uint64) (*FrameContext, error) {
	off := 0
	for off < len(t.data) {
		n, f, err := parseCIEFDE(t.data, off, t.order, t.ptrSize, t.svma, t.cies)
		if err != nil {
			return nil, errGimliWrap(err)
		}
		if n == 0 {
			break // terminator
		}
		if f != nil && f.contains(pc) {
			row, err := f.rowAt(pc, t.order)
			if err != nil {
				return nil, errGimliWrap(err)
			}
			return row, nil
		}
		off += n
	}
	return nil, &ErrNoFDEForPC{PC: pc}
}

// errGimliWrap tags a CFI-parsing error so callers (the Cursor) can fold it
// into unwind.KindGimli without this package importing the root package
// (which would create an import cycle).
type GimliError struct{ Err error }

func (e *GimliError) Error() string { return e.Err.Error() }
func (e *GimliError) Unwrap() error { return e.Err }

func errGimliWrap(err error) error {
	if err == nil {
		return nil
	}
	return &GimliError{Err: err}
}
