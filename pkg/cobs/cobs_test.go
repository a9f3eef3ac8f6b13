package cobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x11, 0x22, 0x00, 0x33},
		{0x00, 0x00, 0x00},
		make([]byte, 300), // 300 zero bytes, one code byte each
	}
	for _, src := range cases {
		encoded := Encode(src)
		assert.NotContains(t, encoded, byte(0), "encoded output must never contain a zero byte")
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, src, decoded)
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	_, err = Decode([]byte{0x05, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}
