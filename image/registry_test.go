package image

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// syntheticImage builds a minimal Image spanning [start, start+length)
// without going through Build/LoadRawImage, so the registry's search logic
// is exercised independently of any real object file.
func syntheticImage(start, length uint64) *Image {
	return &Image{StartAddress: start, Length: length}
}

func newTestRegistry(imgs ...*Image) *Registry {
	reg := &Registry{images: imgs}
	return reg
}

// Images deliberately leave a gap between b (ends 0x3000) and a (starts
// 0x4000) so neighbor-probe rejection has a real case to exercise.
func threeImages() (a, b, c *Image) {
	a = syntheticImage(0x4000, 0x1000) // [0x4000, 0x5000)
	b = syntheticImage(0x2000, 0x1000) // [0x2000, 0x3000)
	c = syntheticImage(0x1000, 0x1000) // [0x1000, 0x2000)
	return a, b, c
}

func TestRegistryFindImageExactMatch(t *testing.T) {
	a, b, c := threeImages()
	reg := newTestRegistry(a, b, c) // descending by StartAddress

	got, ok := reg.FindImage(0x2000)
	require.True(t, ok)
	require.Same(t, b, got)
}

func TestRegistryFindImageNeighborProbe(t *testing.T) {
	a, b, c := threeImages()
	reg := newTestRegistry(a, b, c)

	got, ok := reg.FindImage(0x2500)
	require.True(t, ok)
	require.Same(t, b, got)
}

func TestRegistryFindImageOutsideEveryImage(t *testing.T) {
	a, b, c := threeImages()
	reg := newTestRegistry(a, b, c)

	_, ok := reg.FindImage(0x3500) // lies in the gap between b's end and a's start
	require.False(t, ok)

	_, ok = reg.FindImage(0x500) // before every image
	require.False(t, ok)

	_, ok = reg.FindImage(0x6000) // after every image
	require.False(t, ok)
}

func TestRegistryFindImageEmpty(t *testing.T) {
	reg := newTestRegistry()
	_, ok := reg.FindImage(0x1000)
	require.False(t, ok)
}

func TestRegistryImages(t *testing.T) {
	a := syntheticImage(0x3000, 0x1000)
	reg := newTestRegistry(a)
	require.Equal(t, []*Image{a}, reg.Images())
}
