package image

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/arcfault/unwind/internal/ulog"
)

// ObjectFile is the parsed container this module knows how to read
// sections and symbols out of, regardless of platform (spec §4.1:
// "parse the map's byte range as an object file").
type ObjectFile interface {
	// Section returns a section's contents, or nil if absent.
	Section(name string) []byte
	// SectionAddr returns a section's static load address (SVMA).
	SectionAddr(name string) (uint64, bool)
	Symbols() ([]ObjectSymbol, error)
	// DWARF returns the object's debug_info/debug_line/etc bundle (spec
	// §4.4), or (nil, nil) if the object carries no debug symbols at all.
	DWARF() (*dwarf.Data, error)
	// UUID returns the object's build-id/UUID if present, for resolving an
	// external dSYM bundle on Mach-O (spec §4.4).
	UUID() (string, bool)
	Endian() binary.ByteOrder
	Close() error
}

// ObjectSymbol is one entry this module reads out of an object's static
// symbol table, prior to being copied into a SymbolMap (spec §4.3).
type ObjectSymbol struct {
	Name  string
	Value uint64
}

// RawImage is the result of the Raw Image Loader (spec §4.1): a read-only
// memory mapping of an object file plus the parsed container borrowing
// from it. Both the mapping and the underlying *os.File must outlive the
// parsed object, so RawImage owns and closes all three together.
type RawImage struct {
	Path   string
	mapped mmap.MMap
	file   *os.File
	Object ObjectFile
}

// LoadRawImage opens path, memory-maps it read-only, and parses the
// mapped bytes as an ELF or Mach-O object (spec §4.1). Fails on open/map
// failure or if the container can't be parsed. Both are plain wrapped
// errors, not tagged with a root-package Kind; NewRegistry hands them to its
// onSkip callback and drops the image (spec §4.6: "skip image if missing").
func LoadRawImage(path string) (*RawImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: opening %s: %w", path, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("image: mapping %s: %w", path, err)
	}

	obj, err := parseObject(path, []byte(data))
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("image: parsing %s: %w", path, err)
	}

	return &RawImage{Path: path, mapped: data, file: f, Object: obj}, nil
}

// Close releases the mapping, the parsed object's own handles, and the
// underlying file, in that order (spec §5: "released only when the
// registry is dropped").
func (r *RawImage) Close() error {
	var firstErr error
	if r.Object != nil {
		if err := r.Object.Close(); err != nil {
			firstErr = err
		}
	}
	if err := r.mapped.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func parseObject(path string, data []byte) (ObjectFile, error) {
	if len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		f, err := elf.NewFile(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return &elfObject{path: path, f: f}, nil
	}
	if f, err := macho.NewFile(bytes.NewReader(data)); err == nil {
		return &machoObject{path: path, f: f}, nil
	} else if runtime.GOOS == "darwin" {
		return nil, err
	}
	return nil, fmt.Errorf("unrecognized object file format")
}

type elfObject struct {
	path string
	f    *elf.File
}

func (o *elfObject) Section(name string) []byte {
	s := o.f.Section(name)
	if s == nil {
		return nil
	}
	data, err := s.Data()
	if err != nil {
		ulog.L().WithError(err).Warnf("image: reading section %s in %s", name, o.path)
		return nil
	}
	return data
}

func (o *elfObject) SectionAddr(name string) (uint64, bool) {
	s := o.f.Section(name)
	if s == nil {
		return 0, false
	}
	return s.Addr, true
}

func (o *elfObject) DWARF() (*dwarf.Data, error) {
	d, err := o.f.DWARF()
	if err != nil {
		return nil, nil
	}
	return d, nil
}

func (o *elfObject) UUID() (string, bool) {
	sec := o.f.Section(".note.gnu.build-id")
	if sec == nil {
		return "", false
	}
	note, err := sec.Data()
	if err != nil || len(note) < 16 {
		return "", false
	}
	// ELF notes: namesz, descsz, type, name (padded), desc (padded).
	namesz := o.f.ByteOrder.Uint32(note[0:4])
	descsz := o.f.ByteOrder.Uint32(note[4:8])
	start := 12 + align4(int(namesz))
	end := start + int(descsz)
	if end > len(note) {
		return "", false
	}
	return fmt.Sprintf("%x", note[start:end]), true
}

func align4(n int) int { return (n + 3) &^ 3 }

func (o *elfObject) Endian() binary.ByteOrder { return o.f.ByteOrder }

func (o *elfObject) Symbols() ([]ObjectSymbol, error) {
	syms, err := o.f.Symbols()
	if err != nil {
		// No static symbol table is common for stripped binaries — spec
		// §4.3 treats that as an empty, not a failed, symbol map.
		return nil, nil
	}
	out := make([]ObjectSymbol, 0, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		out = append(out, ObjectSymbol{Name: s.Name, Value: s.Value})
	}
	return out, nil
}

func (o *elfObject) Close() error { return o.f.Close() }

type machoObject struct {
	path string
	f    *macho.File
}

func (o *machoObject) Section(name string) []byte {
	s := o.f.Section(name)
	if s == nil {
		return nil
	}
	data, err := s.Data()
	if err != nil {
		ulog.L().WithError(err).Warnf("image: reading section %s in %s", name, o.path)
		return nil
	}
	return data
}

func (o *machoObject) SectionAddr(name string) (uint64, bool) {
	s := o.f.Section(name)
	if s == nil {
		return 0, false
	}
	return s.Addr, true
}

func (o *machoObject) DWARF() (*dwarf.Data, error) {
	d, err := o.f.DWARF()
	if err != nil {
		return nil, nil
	}
	return d, nil
}

// loadCmdUUID is LC_UUID; debug/macho has no typed wrapper for it, so it
// surfaces as a raw LoadBytes entry that this module decodes itself.
const loadCmdUUID = 0x1b

// UUID reads the LC_UUID load command, used to locate a dSYM bundle by
// UUID (spec §4.4: "external debug files ... referenced by UUID").
func (o *machoObject) UUID() (string, bool) {
	for _, l := range o.f.Loads {
		raw, ok := l.(macho.LoadBytes)
		if !ok || len(raw) < 24 {
			continue
		}
		if o.f.ByteOrder.Uint32(raw[0:4]) != loadCmdUUID {
			continue
		}
		return fmt.Sprintf("%X", []byte(raw[8:24])), true
	}
	return "", false
}

func (o *machoObject) Endian() binary.ByteOrder {
	if o.f.ByteOrder == nil {
		return binary.LittleEndian
	}
	return o.f.ByteOrder.(binary.ByteOrder)
}

func (o *machoObject) Symbols() ([]ObjectSymbol, error) {
	if o.f.Symtab == nil {
		return nil, nil
	}
	out := make([]ObjectSymbol, 0, len(o.f.Symtab.Syms))
	for _, s := range o.f.Symtab.Syms {
		if s.Name == "" {
			continue
		}
		out = append(out, ObjectSymbol{Name: s.Name, Value: s.Value})
	}
	return out, nil
}

func (o *machoObject) Close() error { return o.f.Close() }
