package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildSimpleHeader wraps buildSimpleTable's one-FDE section in a matching
// .eh_frame_hdr using absolute (non-relative) pointer encodings throughout,
// so every stored value is the literal offset/address a caller would
// compute by hand — binary-search correctness is exercised without also
// having to hand-verify PC-relative/data-relative base arithmetic (that
// arithmetic is covered directly by TestDecodePointerPCRel/DataRel).
func buildSimpleHeader() (hdrData []byte, table *Table, initialLocation uint64) {
	data, initLoc, _, fdeOffset := buildSimpleTable()
	table = NewTable(data, LittleEndian, 8, 0)

	var hdr []byte
	hdr = append(hdr, 1)          // version
	hdr = append(hdr, peAbsPtr)   // eh_frame_ptr encoding
	hdr = append(hdr, peAbsPtr)   // fde_count encoding
	hdr = append(hdr, peAbsPtr)   // table encoding
	hdr = appendU64(hdr, 0)       // eh_frame_ptr value (unused by FDEForPC)
	hdr = appendU64(hdr, 1)       // fde_count = 1
	hdr = appendU64(hdr, initLoc) // row 0: initial_location
	hdr = appendU64(hdr, fdeOffset)

	return hdr, table, initLoc
}

func TestHeaderFDEForPC(t *testing.T) {
	hdrData, table, initialLocation := buildSimpleHeader()
	hdr, err := ParseHeader(hdrData, LittleEndian, 8, 0, table)
	require.NoError(t, err)

	row, err := hdr.FDEForPC(initialLocation + 0x10)
	require.NoError(t, err)
	require.Equal(t, RuleCFA, row.CFA.Rule)
	require.Equal(t, uint64(7), row.CFA.Reg)
	require.Equal(t, int64(8), row.CFA.Offset)
}

func TestHeaderFDEForPCBeforeFirstRow(t *testing.T) {
	hdrData, table, initialLocation := buildSimpleHeader()
	hdr, err := ParseHeader(hdrData, LittleEndian, 8, 0, table)
	require.NoError(t, err)

	_, err = hdr.FDEForPC(initialLocation - 1)
	require.Error(t, err)
	var notFound *ErrNoFDEForPC
	require.ErrorAs(t, err, &notFound)
}

func TestParseHeaderRejectsVariableWidthTable(t *testing.T) {
	var hdr []byte
	hdr = append(hdr, 1, peAbsPtr, peAbsPtr, peULEB128)
	hdr = appendU64(hdr, 0) // eh_frame_ptr
	hdr = appendU64(hdr, 0) // fde_count
	_, err := ParseHeader(hdr, LittleEndian, 8, 0, nil)
	require.Error(t, err)
}
