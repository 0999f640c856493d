package unwind

import (
	"testing"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/require"

	"github.com/arcfault/unwind/image"
)

func TestSymbolInfoIsUnresolved(t *testing.T) {
	unresolved := &SymbolInfo{AVMA: 0xdeadbeef}
	require.True(t, unresolved.IsUnresolved())

	name := "libfoo.so"
	resolved := &SymbolInfo{ObjectName: &name, AVMA: 0x1000}
	require.False(t, resolved.IsUnresolved())

	withFrame := &SymbolInfo{AVMA: 0x1000, Frames: []Frame{SymbolMapFrame{Name: "foo"}}}
	require.False(t, withFrame.IsUnresolved())
}

func TestRegistryFindImageAndResolveSymbolOutsideEveryImage(t *testing.T) {
	reg := New()
	defer reg.Close()

	_, ok := reg.FindImage(0)
	require.False(t, ok)

	info, err := reg.ResolveSymbol(0)
	require.NoError(t, err)
	require.True(t, info.IsUnresolved())
	require.Equal(t, uint64(0), info.AVMA)
}

// newTestRegistry wires a single synthetic Image into a Registry without
// going through image.NewProcessRegistry, so resolution logic is exercised
// independently of the calling process's actual loaded images.
func newTestRegistry(img *image.Image) *Registry {
	cache, err := lru.New(defaultSymbolCacheSize)
	if err != nil {
		panic(err)
	}
	return &Registry{
		images: image.NewRegistryFromImages([]*image.Image{img}),
		cache:  cache,
	}
}

func TestResolveSymbolFallsBackToSymbolMapWithoutLineContext(t *testing.T) {
	img := &image.Image{
		Filename:     "synthetic",
		StartAddress: 0x400000,
		Length:       0x1000,
		Bias:         0,
		Symbols: image.NewSymbolMap([]image.SymbolMapEntry{
			{Addr: 0x400000, Name: "main"},
			{Addr: 0x400100, Name: "helper"},
		}),
	}

	reg := newTestRegistry(img)
	defer reg.Close()

	info, err := reg.ResolveSymbol(0x400150)
	require.NoError(t, err)
	require.False(t, info.IsUnresolved())
	require.NotNil(t, info.ObjectName)
	require.Equal(t, "synthetic", *info.ObjectName)
	require.Len(t, info.Frames, 1)

	symFrame, ok := info.Frames[0].(SymbolMapFrame)
	require.True(t, ok)
	require.Equal(t, "helper", symFrame.Name)
}

func TestResolveSymbolMemoizesResult(t *testing.T) {
	img := &image.Image{
		Filename:     "synthetic",
		StartAddress: 0x500000,
		Length:       0x1000,
		Symbols: image.NewSymbolMap([]image.SymbolMapEntry{
			{Addr: 0x500000, Name: "entry"},
		}),
	}
	reg := newTestRegistry(img)
	defer reg.Close()

	first, err := reg.ResolveSymbol(0x500010)
	require.NoError(t, err)
	second, err := reg.ResolveSymbol(0x500010)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestWithSymbolCacheSizeNonPositiveFallsBackToDefault(t *testing.T) {
	reg := New(WithSymbolCacheSize(0))
	defer reg.Close()
	require.NotNil(t, reg.cache)
}
