package unwind

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/arcfault/unwind/frame"
	"github.com/arcfault/unwind/image"
)

func cursorTestAppendU32(b []byte, v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return append(b, buf...)
}

func cursorTestAppendU64(b []byte, v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return append(b, buf...)
}

// buildOrdinaryPrologueTable hand-assembles a one-CIE-one-FDE .eh_frame
// section describing the ordinary x86-64 System V prologue row: CFA =
// RSP+8, return address (DWARF reg 16) saved at CFA-8. Mirrors the layout
// frame's own table tests use.
func buildOrdinaryPrologueTable(initialLocation, addressRange uint64, retAddrUndefined bool) []byte {
	cieBody := []byte{
		1,    // version
		0x00, // augmentation: empty string
		0x01, // code_alignment_factor ULEB = 1
		0x78, // data_alignment_factor SLEB = -8
		16,   // return_address_register
		0x0c, 0x07, 0x08, // DW_CFA_def_cfa(reg=7/RSP, offset=8)
	}
	if !retAddrUndefined {
		cieBody = append(cieBody, 0x90, 0x01) // DW_CFA_offset(reg=16, factored offset=1 -> -8)
	}
	var cieRecord []byte
	cieRecord = cursorTestAppendU32(cieRecord, uint32(4+len(cieBody)))
	cieRecord = cursorTestAppendU32(cieRecord, 0)
	cieRecord = append(cieRecord, cieBody...)

	ciePointer := uint32(len(cieRecord) + 4)

	var fdeBody []byte
	fdeBody = cursorTestAppendU32(fdeBody, ciePointer)
	fdeBody = cursorTestAppendU64(fdeBody, initialLocation)
	fdeBody = cursorTestAppendU64(fdeBody, addressRange)

	var fdeRecord []byte
	fdeRecord = cursorTestAppendU32(fdeRecord, uint32(len(fdeBody)))
	fdeRecord = append(fdeRecord, fdeBody...)

	return append(cieRecord, fdeRecord...)
}

func newSyntheticImageRegistry(img *image.Image) *Registry {
	return newTestRegistry(img)
}

func TestCursorNextWalksOneFrame(t *testing.T) {
	const initialLocation = 0x400000
	const addressRange = 0x1000

	data := buildOrdinaryPrologueTable(initialLocation, addressRange, false)
	table := frame.NewTable(data, frame.LittleEndian, 8, 0)

	img := &image.Image{
		Filename:     "synthetic",
		StartAddress: initialLocation,
		Length:       addressRange,
		EHFrame:      table,
	}
	reg := newSyntheticImageRegistry(img)
	defer reg.Close()

	// Fake stack: the return address the CALL instruction would have
	// pushed, readable through this process's own address space since the
	// unwinder only ever reads its own memory.
	var frame [1]uint64
	returnAddr := uint64(initialLocation + 0x20)
	frame[0] = returnAddr
	rsp := uint64(uintptr(unsafe.Pointer(&frame[0])))

	c := NewCursorFromContext(reg, initialLocation+0x10, rsp, nil)
	err := c.Next()
	require.NoError(t, err)
	require.Equal(t, returnAddr, c.PC())
	require.Equal(t, rsp+8, c.SP())
	require.Equal(t, 1, c.Depth())
}

func TestCursorNextUnwindEndedOnUndefinedRetAddrRule(t *testing.T) {
	const initialLocation = 0x500000
	const addressRange = 0x1000

	data := buildOrdinaryPrologueTable(initialLocation, addressRange, true)
	table := frame.NewTable(data, frame.LittleEndian, 8, 0)

	img := &image.Image{
		Filename:     "synthetic",
		StartAddress: initialLocation,
		Length:       addressRange,
		EHFrame:      table,
	}
	reg := newSyntheticImageRegistry(img)
	defer reg.Close()

	var frame [1]uint64
	rsp := uint64(uintptr(unsafe.Pointer(&frame[0])))

	c := NewCursorFromContext(reg, initialLocation+0x10, rsp, nil)
	err := c.Next()
	require.Error(t, err)
	require.True(t, IsUnwindEnded(err))
	require.Equal(t, 0, c.Depth())
}

func TestCursorNextUnknownPCWhenNoImageOwnsStartingPC(t *testing.T) {
	reg := newSyntheticImageRegistry(&image.Image{
		Filename:     "synthetic",
		StartAddress: 0x600000,
		Length:       0x1000,
	})
	defer reg.Close()

	c := NewCursorFromContext(reg, 0x1, 0x2, nil)
	err := c.Next()
	require.Error(t, err)

	var unwindErr *Error
	require.ErrorAs(t, err, &unwindErr)
	require.Equal(t, KindUnknownPC, unwindErr.Kind)
}
