package frame

import "fmt"

// Header is a parsed .eh_frame_hdr: a small fixed header plus a
// binary-search table of (initial_location, FDE address) pairs sorted by
// initial_location, letting FDEForPC run in O(log N) instead of Table's
// O(N) linear scan (spec §4.6: "extract .eh_frame_hdr bytes and parse (if
// present)").
type Header struct {
	table     *Table // shares the .eh_frame Table's byte slice and CIE cache
	ehFramePtr uint64
	fdeCount   uint64

	tableData  []byte
	tableEnc   byte
	rowSize    int
	headerSVMA uint64 // static address of the .eh_frame_hdr section itself (DW_EH_PE_datarel base)
	tableSVMA  uint64 // static address of tableData[0] (DW_EH_PE_pcrel base for table rows)
}

// ParseHeader decodes a .eh_frame_hdr section. svma is the static address
// of data[0] (the header's own section start, used to resolve DW_EH_PE_pcrel
// entries within the header). table is the already-constructed .eh_frame
// Table this header indexes into (so FDE offsets resolved here reuse the
// same CIE cache).
func ParseHeader(data []byte, order byteOrder, ptrSize int, svma uint64, table *Table) (*Header, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame: .eh_frame_hdr too short")
	}
	version := data[0]
	if version != 1 {
		return nil, fmt.Errorf("frame: unsupported .eh_frame_hdr version %d", version)
	}
	ehFramePtrEnc := data[1]
	fdeCountEnc := data[2]
	tableEnc := data[3]
	i := 4

	ehFramePtr, err := decodePointer(data, &i, ehFramePtrEnc, order, ptrSize, svma, svma)
	if err != nil {
		return nil, fmt.Errorf("frame: .eh_frame_hdr eh_frame_ptr: %w", err)
	}
	fdeCount, err := decodePointer(data, &i, fdeCountEnc, order, ptrSize, svma, svma)
	if err != nil {
		return nil, fmt.Errorf("frame: .eh_frame_hdr fde_count: %w", err)
	}

	rowSize := encodedSize(tableEnc&peFormatMask, ptrSize)
	if rowSize < 0 {
		return nil, fmt.Errorf("frame: .eh_frame_hdr binary-search table uses a variable-width encoding (%#x), which cannot be binary-searched", tableEnc)
	}

	h := &Header{
		table:      table,
		ehFramePtr: ehFramePtr,
		fdeCount:   fdeCount,
		tableData:  data[i:],
		tableEnc:   tableEnc,
		rowSize:    rowSize * 2,
		headerSVMA: svma,
		tableSVMA:  svma + uint64(i),
	}
	if uint64(len(h.tableData)) < fdeCount*uint64(h.rowSize) {
		return nil, fmt.Errorf("frame: .eh_frame_hdr table truncated")
	}
	return h, nil
}

// rowLocation decodes just the initial_location half of binary-search row n,
// without resolving the FDE it points at.
func (h *Header) rowLocation(n uint64) (uint64, error) {
	off := int(n) * h.rowSize
	i := off
	return decodePointer(h.tableData, &i, h.tableEnc, h.table.order, h.table.ptrSize, h.tableSVMA, h.headerSVMA)
}

func (h *Header) rowFDEAddr(n uint64) (uint64, error) {
	off := int(n)*h.rowSize + h.rowSize/2
	i := off
	return decodePointer(h.tableData, &i, h.tableEnc, h.table.order, h.table.ptrSize, h.tableSVMA, h.headerSVMA)
}

// FDEForPC binary-searches the header's table for the row whose
// initial_location is the greatest one not exceeding pc, then decodes and
// replays that FDE (spec §4.8: "use its binary-search table to find the FDE
// and then fetch the unwind row for SVMA").
func (h *Header) FDEForPC(pc uint64) (*FrameContext, error) {
	lo, hi := uint64(0), h.fdeCount
	if hi == 0 {
		return nil, &ErrNoFDEForPC{PC: pc}
	}
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		loc, err := h.rowLocation(mid)
		if err != nil {
			return nil, errGimliWrap(err)
		}
		if loc <= pc {
			lo = mid
		} else {
			hi = mid
		}
	}
	firstLoc, err := h.rowLocation(0)
	if err != nil {
		return nil, errGimliWrap(err)
	}
	if pc < firstLoc {
		return nil, &ErrNoFDEForPC{PC: pc}
	}

	fdeAddr, err := h.rowFDEAddr(lo)
	if err != nil {
		return nil, errGimliWrap(err)
	}
	if fdeAddr < h.table.svma {
		return nil, fmt.Errorf("frame: FDE address %#x precedes .eh_frame start %#x", fdeAddr, h.table.svma)
	}
	fdeOff := int(fdeAddr - h.table.svma)
	_, f, err := parseCIEFDE(h.table.data, fdeOff, h.table.order, h.table.ptrSize, h.table.svma, h.table.cies)
	if err != nil {
		return nil, errGimliWrap(err)
	}
	if f == nil || !f.contains(pc) {
		return nil, &ErrNoFDEForPC{PC: pc}
	}
	return f.rowAt(pc, h.table.order)
}
