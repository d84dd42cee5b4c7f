package byteorder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-salt/salt/byteorder"
)

func TestUint16RoundTrip(t *testing.T) {
	assert.Equal(t, uint16(0xffac), byteorder.Uint16FromNetwork(byteorder.Uint16ToNetwork(0xffac)))
	assert.Equal(t, []byte{0xff, 0xac}, byteorder.Uint16ToNetwork(0xffac))
}

func TestUint32RoundTrip(t *testing.T) {
	assert.Equal(t, uint32(0x01020304), byteorder.Uint32FromNetwork(byteorder.Uint32ToNetwork(0x01020304)))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, byteorder.Uint32ToNetwork(0x01020304))
}
