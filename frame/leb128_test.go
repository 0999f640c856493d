package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadULEB(t *testing.T) {
	cases := []struct {
		name    string
		in      []byte
		want    uint64
		wantLen int
	}{
		{"zero", []byte{0x00}, 0, 1},
		{"single byte", []byte{0x7f}, 127, 1},
		{"three bytes", []byte{0xe5, 0x8e, 0x26}, 624485, 3},
		{"trailing garbage ignored", []byte{0x01, 0xff, 0xff}, 1, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, n := readULEB(c.in)
			assert.Equal(t, c.want, got)
			assert.Equal(t, c.wantLen, n)
		})
	}
}

func TestReadSLEB(t *testing.T) {
	cases := []struct {
		name    string
		in      []byte
		want    int64
		wantLen int
	}{
		{"zero", []byte{0x00}, 0, 1},
		{"positive", []byte{0x02}, 2, 1},
		{"negative single byte", []byte{0x7e}, -2, 1},
		{"negative two bytes", []byte{0x9b, 0x7f}, -101, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, n := readSLEB(c.in)
			assert.Equal(t, c.want, got)
			assert.Equal(t, c.wantLen, n)
		})
	}
}

func TestByteOrderUint(t *testing.T) {
	le := LittleEndian
	be := BigEndian
	require.NotNil(t, le)
	require.NotNil(t, be)

	b := []byte{0x01, 0x02, 0x03, 0x04}
	assert.Equal(t, uint64(0x04030201), le.uint(b, 4))
	assert.Equal(t, uint64(0x01020304), be.uint(b, 4))
}
