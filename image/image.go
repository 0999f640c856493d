// Package image implements the Raw Image Loader, Section Mapper, Symbol
// Map, Debug Info Loader, Line-Info Context and Image Registry (spec
// §4.1-4.6): everything that turns a loaded shared object on disk into a
// queryable, address-stable Image.
package image

import (
	"encoding/binary"
	"fmt"

	"github.com/arcfault/unwind/frame"
)

// Image is one mapped object (main executable or shared library) the
// registry knows about (spec §3's "Image" data model entry). Once built,
// an Image is immutable and must not be relocated — views borrowing from
// its DWARF/CFI buffers (via debug/dwarf, via frame.Table) pin those
// buffers for the Image's lifetime (spec §5: "pin the registry — do not
// relocate Images after construction").
type Image struct {
	Filename      string
	StartAddress  uint64
	Length        uint64
	// Bias is AVMA - SVMA: add it to a static address to get the runtime
	// address, subtract it from a runtime address to get the static one.
	Bias          int64
	Base          *BaseAddresses
	Symbols       *SymbolMap
	LineContext   *LineContext
	EHFrame       *frame.Table
	EHFrameHdr    *frame.Header
	Endian        binary.ByteOrder

	raw *RawImage
}

// Has reports whether avma falls within this image's mapped range,
// used by the registry's neighbor probe in find_image (spec §4.6).
func (img *Image) Has(avma uint64) bool {
	return avma >= img.StartAddress && avma < img.StartAddress+img.Length
}

// Close releases the underlying mapping and file handles, including a
// dSYM bundle's mapping if the LineContext was built from one.
func (img *Image) Close() error {
	var firstErr error
	if img.LineContext != nil {
		if err := img.LineContext.Close(); err != nil {
			firstErr = err
		}
	}
	if img.raw != nil {
		if err := img.raw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build runs the per-image pipeline spec §4.6 names: "raw-image ->
// base-addresses (skip image if missing) -> symbol-map -> debug-info ->
// line-context -> extract .eh_frame_hdr bytes and parse (if present) ->
// extract .eh_frame bytes and parse -> push complete Image". avma and
// length are the actual load address and mapped length the OS enumerator
// reported; bias is avma - (the object's own reported SVMA for the same
// mapping), computed by the caller from the enumerator's data.
func Build(path string, avma, length uint64, bias int64) (*Image, error) {
	raw, err := LoadRawImage(path)
	if err != nil {
		return nil, err
	}

	base, err := buildBaseAddresses(raw.Object, sectionTableFor(raw.Object))
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("image: %s: %w", path, err)
	}

	symtab, err := buildSymbolMap(raw.Object)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("image: %s: building symbol map: %w", path, err)
	}

	lineCtx, err := buildLineContext(raw.Object, path)
	if err != nil {
		// Debug info is optional end-to-end (spec §4.4: "If neither source
		// yields symbols, return an empty bundle (the line context then
		// becomes null)"); a malformed .debug_info is likewise non-fatal —
		// the image still has a symbol-table-only fallback.
		lineCtx = nil
	}

	ehFrameData := raw.Object.Section(".eh_frame")
	if ehFrameData == nil {
		ehFrameData = raw.Object.Section("__eh_frame")
	}
	order := frame.LittleEndian
	if raw.Object.Endian() == binary.BigEndian {
		order = frame.BigEndian
	}
	var table *frame.Table
	var hdr *frame.Header
	if ehFrameData != nil {
		table = frame.NewTable(ehFrameData, order, ptrSizeFor(raw.Object), base.EHFrame)

		if base.EHFrameHdr != nil {
			if hdrData := raw.Object.Section(".eh_frame_hdr"); hdrData != nil {
				h, err := frame.ParseHeader(hdrData, order, ptrSizeFor(raw.Object), *base.EHFrameHdr, table)
				if err != nil {
					// A malformed .eh_frame_hdr just forfeits the fast
					// path; the linear .eh_frame scan still works.
					hdr = nil
				} else {
					hdr = h
				}
			}
		}
	}

	return &Image{
		Filename:     path,
		StartAddress: avma,
		Length:       length,
		Bias:         bias,
		Base:         base,
		Symbols:      symtab,
		LineContext:  lineCtx,
		EHFrame:      table,
		EHFrameHdr:   hdr,
		Endian:       raw.Object.Endian(),
		raw:          raw,
	}, nil
}

func ptrSizeFor(obj ObjectFile) int { return 8 } // Non-goals: x86-64 only
