package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known check value for the Castagnoli polynomial.
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))
}

func TestNewCRC32C_Streaming(t *testing.T) {
	h := NewCRC32C()
	_, _ = h.Write([]byte("1234"))
	_, _ = h.Write([]byte("56789"))
	assert.Equal(t, CRC32C([]byte("123456789")), h.Sum32())
}

func TestVerify(t *testing.T) {
	data := []byte("segment")
	sum := CRC32C(data)
	assert.True(t, Verify(data, sum))
	data[0] ^= 1
	assert.False(t, Verify(data, sum))
}
