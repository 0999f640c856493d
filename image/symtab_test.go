package image

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSymbolMapLookup(t *testing.T) {
	m := &SymbolMap{entries: []symtabEntry{
		{Addr: 0x1000, Name: "foo"},
		{Addr: 0x2000, Name: "bar"},
		{Addr: 0x3000, Name: "baz"},
	}}

	name, ok := m.Lookup(0x2500)
	require.True(t, ok)
	require.Equal(t, "bar", name)

	name, ok = m.Lookup(0x2000)
	require.True(t, ok)
	require.Equal(t, "bar", name)

	name, ok = m.Lookup(0x3500)
	require.True(t, ok)
	require.Equal(t, "baz", name)
}

func TestSymbolMapLookupBeforeFirstEntry(t *testing.T) {
	m := &SymbolMap{entries: []symtabEntry{{Addr: 0x1000, Name: "foo"}}}
	_, ok := m.Lookup(0x500)
	require.False(t, ok)
}

func TestSymbolMapLookupEmpty(t *testing.T) {
	m := &SymbolMap{}
	_, ok := m.Lookup(0x1000)
	require.False(t, ok)
}

func TestSymbolMapLookupNil(t *testing.T) {
	var m *SymbolMap
	_, ok := m.Lookup(0x1000)
	require.False(t, ok)
}
