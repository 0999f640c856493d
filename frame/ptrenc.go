package frame

import "fmt"

// GNU .eh_frame pointer-encoding byte (DW_EH_PE_*): low nibble is the
// storage format, high nibble is the base the value is relative to. Both
// CIE augmentation data ('R', 'P', 'L' entries) and every row of
// .eh_frame_hdr's binary-search table are stored using one of these
// encodings rather than a fixed-width absolute pointer, so a decoder is
// needed in both frame/header.go and here.
const (
	peOmit   = 0xff
	peFormatMask = 0x0f
	peAppMask    = 0x70
	peIndirect   = 0x80

	peAbsPtr = 0x00
	peULEB128 = 0x01
	peUData2  = 0x02
	peUData4  = 0x03
	peUData8  = 0x04
	peSigned  = 0x08
	peSLEB128 = 0x09
	peSData2  = 0x0a
	peSData4  = 0x0b
	peSData8  = 0x0c

	peAppAbs     = 0x00
	peAppPCRel   = 0x10
	peAppTextRel = 0x20
	peAppDataRel = 0x30
	peAppFuncRel = 0x40
	peAppAligned = 0x50
)

// decodePointer reads one encoded pointer from data starting at *i, advances
// *i past it, and resolves the "relative-to" application using pcRelBase
// (the static address of data[0]; for DW_EH_PE_pcrel the field's own offset
// within data is added to it) and
// dataRelBase (the start of the section the encoding is relative to —
// DW_EH_PE_datarel, used by .eh_frame_hdr table rows).
func decodePointer(data []byte, i *int, enc byte, order byteOrder, ptrSize int, pcRelBase, dataRelBase uint64) (uint64, error) {
	if enc == peOmit {
		return 0, nil
	}
	start := *i
	var raw uint64
	switch enc & peFormatMask {
	case peAbsPtr:
		if *i+ptrSize > len(data) {
			return 0, fmt.Errorf("frame: truncated pointer")
		}
		raw = order.uint(data[*i:*i+ptrSize], ptrSize)
		*i += ptrSize
	case peUData2, peSData2:
		if *i+2 > len(data) {
			return 0, fmt.Errorf("frame: truncated pointer")
		}
		raw = order.uint(data[*i:*i+2], 2)
		if enc&peFormatMask == peSData2 {
			raw = uint64(int64(int16(raw)))
		}
		*i += 2
	case peUData4, peSData4:
		if *i+4 > len(data) {
			return 0, fmt.Errorf("frame: truncated pointer")
		}
		raw = order.uint(data[*i:*i+4], 4)
		if enc&peFormatMask == peSData4 {
			raw = uint64(int64(int32(raw)))
		}
		*i += 4
	case peUData8, peSData8:
		if *i+8 > len(data) {
			return 0, fmt.Errorf("frame: truncated pointer")
		}
		raw = order.uint(data[*i:*i+8], 8)
		*i += 8
	case peULEB128:
		v, n := readULEB(data[*i:])
		raw = v
		*i += n
	case peSLEB128:
		v, n := readSLEB(data[*i:])
		raw = uint64(v)
		*i += n
	default:
		return 0, fmt.Errorf("frame: unsupported pointer format %#x", enc&peFormatMask)
	}

	var base uint64
	switch enc & peAppMask {
	case peAppAbs:
		base = 0
	case peAppPCRel:
		base = pcRelBase + uint64(start)
	case peAppDataRel:
		base = dataRelBase
	default:
		return 0, fmt.Errorf("frame: unsupported pointer application %#x", enc&peAppMask)
	}

	if enc&peIndirect != 0 {
		return 0, fmt.Errorf("frame: indirect pointer encodings are not supported")
	}

	return base + raw, nil
}

// encodedSize returns the size in bytes of one encoding without decoding
// (used to skip augmentation data whose content the module doesn't need,
// e.g. a personality routine pointer).
func encodedSize(enc byte, ptrSize int) int {
	switch enc & peFormatMask {
	case peAbsPtr:
		return ptrSize
	case peUData2, peSData2:
		return 2
	case peUData4, peSData4:
		return 4
	case peUData8, peSData8:
		return 8
	default:
		return -1 // variable-length (ULEB/SLEB): caller must decode to skip
	}
}
