package image

import "sort"

// symtabEntry is one (address, name) pair copied out of the object's
// static symbol table (spec §4.3: "copying each (address, name) into
// owned storage").
type symtabEntry struct {
	Addr uint64
	Name string
}

// SymbolMap supports "largest entry with address <= key" lookup in
// O(log N), the fallback symbolication source when DWARF is unavailable
// (spec §4.3).
type SymbolMap struct {
	entries []symtabEntry
}

// buildSymbolMap enumerates obj's static symbol table and sorts it by
// address so Lookup can binary-search it.
func buildSymbolMap(obj ObjectFile) (*SymbolMap, error) {
	syms, err := obj.Symbols()
	if err != nil {
		return nil, err
	}
	entries := make([]symtabEntry, 0, len(syms))
	for _, s := range syms {
		entries = append(entries, symtabEntry{Addr: s.Value, Name: s.Name})
	}
	return newSymbolMap(entries), nil
}

func newSymbolMap(entries []symtabEntry) *SymbolMap {
	sorted := append([]symtabEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })
	return &SymbolMap{entries: sorted}
}

// SymbolMapEntry is a caller-supplied (address, name) pair for NewSymbolMap.
type SymbolMapEntry struct {
	Addr uint64
	Name string
}

// NewSymbolMap builds a SymbolMap directly from caller-supplied entries,
// for callers assembling symbol data from a source other than an object
// file's own symbol table.
func NewSymbolMap(entries []SymbolMapEntry) *SymbolMap {
	raw := make([]symtabEntry, len(entries))
	for i, e := range entries {
		raw[i] = symtabEntry{Addr: e.Addr, Name: e.Name}
	}
	return newSymbolMap(raw)
}

// Lookup returns the name of the symbol with the greatest address not
// exceeding svma, and true, or ("", false) if svma precedes every entry or
// the map is empty.
func (m *SymbolMap) Lookup(svma uint64) (string, bool) {
	if m == nil || len(m.entries) == 0 {
		return "", false
	}
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Addr > svma })
	if i == 0 {
		return "", false
	}
	return m.entries[i-1].Name, true
}
