package frame

import "fmt"

// cie is a decoded Common Information Entry: the template of initial rules
// and alignment factors shared by every FDE that references it.
type cie struct {
	version             byte
	augmentation        string
	codeAlignmentFactor uint64
	dataAlignmentFactor int64
	returnAddressReg    uint64
	fdeEncoding         byte // from augmentation "R", defaults to DW_EH_PE_absptr
	initialInstructions []byte
}

// fde is a decoded Frame Description Entry: the PC range it covers plus its
// own instruction stream (applied on top of the CIE's initial rules).
type fde struct {
	cie             *cie
	initialLocation uint64
	addressRange    uint64
	instructions    []byte
}

func (f *fde) contains(pc uint64) bool {
	return pc >= f.initialLocation && pc < f.initialLocation+f.addressRange
}

// parseCIEFDE walks one CIE/FDE-length-prefixed record starting at
// data[off:]. cieCache memoizes CIEs by their offset within data (an
// .eh_frame section commonly has many FDEs sharing one CIE). sectionSVMA is
// the static address of the start of data, needed to resolve DW_EH_PE_pcrel
// encodings in augmentation data and initial_location/address_range.
//
// Returns the record's total length (including the 4- or 12-byte length
// prefix) so the caller can advance to the next record, or 0 for the
// zero-length terminator record, and either a decoded *fde (record was an
// FDE) or nil (record was a CIE, already cached, or the terminator).
func parseCIEFDE(data []byte, off int, order byteOrder, ptrSize int, sectionSVMA uint64, cieCache map[int]*cie) (int, *fde, error) {
	if off+4 > len(data) {
		return 0, nil, fmt.Errorf("frame: truncated record at offset %d", off)
	}
	length := order.uint(data[off:off+4], 4)
	recordStart := off
	off += 4
	if length == 0 {
		// A zero-length record is the standard .eh_frame terminator.
		return 0, nil, nil
	}
	if length == 0xffffffff {
		return 0, nil, fmt.Errorf("frame: 64-bit DWARF CFI is not supported")
	}
	end := off + int(length)
	if end > len(data) {
		return 0, nil, fmt.Errorf("frame: record length %d overruns section", length)
	}

	if off+4 > len(data) {
		return 0, nil, fmt.Errorf("frame: truncated CIE pointer")
	}
	idOrCIEPointer := order.uint(data[off:off+4], 4)
	off += 4

	if idOrCIEPointer == 0 {
		c, err := parseCIEBody(data[off:end], order, ptrSize)
		if err != nil {
			return 0, nil, err
		}
		cieCache[recordStart] = c
		return end - recordStart, nil, nil
	}

	// FDE: idOrCIEPointer is recordStart+4's offset back to the CIE, i.e.
	// cieOffset = (offset of the CIE-pointer field) - idOrCIEPointer.
	cieOffset := (off - 4) - int(idOrCIEPointer)
	c, ok := cieCache[cieOffset]
	if !ok {
		parsedLen, _, err := parseCIEFDE(data, cieOffset, order, ptrSize, sectionSVMA, cieCache)
		if err != nil {
			return 0, nil, fmt.Errorf("frame: resolving CIE at offset %d: %w", cieOffset, err)
		}
		_ = parsedLen
		c, ok = cieCache[cieOffset]
		if !ok {
			return 0, nil, fmt.Errorf("frame: offset %d did not resolve to a CIE", cieOffset)
		}
	}

	fdeEncoding := c.fdeEncoding
	pcRelBase := sectionSVMA
	i := off
	initLoc, err := decodePointer(data, &i, fdeEncoding, order, ptrSize, pcRelBase, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("frame: FDE initial_location: %w", err)
	}
	// address_range uses the same format as initial_location but is never
	// itself pc/data-relative (it's a length).
	addrRangeEnc := fdeEncoding & peFormatMask
	addrRange, err := decodePointer(data, &i, addrRangeEnc, order, ptrSize, 0, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("frame: FDE address_range: %w", err)
	}

	if len(c.augmentation) > 0 && c.augmentation[0] == 'z' {
		augLen, n := readULEB(data[i:])
		i += n + int(augLen)
	}

	f := &fde{cie: c, initialLocation: initLoc, addressRange: addrRange, instructions: data[i:end]}
	return end - recordStart, f, nil
}

// parseCIEBody decodes a CIE's body (the bytes after the length+id fields).
func parseCIEBody(b []byte, order byteOrder, ptrSize int) (*cie, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("frame: empty CIE")
	}
	c := &cie{version: b[0], fdeEncoding: peAbsPtr}
	i := 1

	augStart := i
	for i < len(b) && b[i] != 0 {
		i++
	}
	if i >= len(b) {
		return nil, fmt.Errorf("frame: unterminated CIE augmentation string")
	}
	c.augmentation = string(b[augStart:i])
	i++ // skip NUL

	if c.version >= 4 {
		// address_size, segment_selector_size
		if i+2 > len(b) {
			return nil, fmt.Errorf("frame: truncated CIE v4 header")
		}
		i += 2
	}

	codeAlign, n := readULEB(b[i:])
	c.codeAlignmentFactor = codeAlign
	i += n

	dataAlign, n := readSLEB(b[i:])
	c.dataAlignmentFactor = dataAlign
	i += n

	if c.version == 1 {
		if i >= len(b) {
			return nil, fmt.Errorf("frame: truncated CIE return-address register")
		}
		c.returnAddressReg = uint64(b[i])
		i++
	} else {
		retReg, n := readULEB(b[i:])
		c.returnAddressReg = retReg
		i += n
	}

	if len(c.augmentation) > 0 && c.augmentation[0] == 'z' {
		augDataLen, n := readULEB(b[i:])
		i += n
		augDataEnd := i + int(augDataLen)
		if augDataEnd > len(b) {
			return nil, fmt.Errorf("frame: CIE augmentation data overruns CIE")
		}
		for _, ch := range c.augmentation[1:] {
			switch ch {
			case 'R':
				if i >= augDataEnd {
					return nil, fmt.Errorf("frame: missing 'R' augmentation byte")
				}
				c.fdeEncoding = b[i]
				i++
			case 'P':
				if i >= augDataEnd {
					return nil, fmt.Errorf("frame: missing 'P' augmentation byte")
				}
				enc := b[i]
				i++
				sz := encodedSize(enc, ptrSize)
				if sz < 0 {
					_, n := readULEB(b[i:])
					sz = n
				}
				i += sz
			case 'L':
				i++ // one encoding byte, LSDA pointer itself lives in the FDE
			case 'S', 'B', 'G':
				// signal-frame / BTI / MTE markers carry no extra bytes
			default:
				// Unknown augmentation letter: augDataLen already lets us
				// skip safely, so just stop interpreting further letters.
			}
		}
		i = augDataEnd
	}

	c.initialInstructions = b[i:]
	return c, nil
}
