// Package byteorder provides the host<->network integer conversions the
// header/body assembler needs for its length field. Other header bytes are
// deliberately left unconverted; the caller decides how to interpret them.
package byteorder

import "encoding/binary"

// Uint16ToNetwork encodes v in network byte order (big-endian).
func Uint16ToNetwork(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// Uint16FromNetwork decodes a network-byte-order 16-bit value.
func Uint16FromNetwork(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// Uint32ToNetwork encodes v in network byte order (big-endian).
func Uint32ToNetwork(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Uint32FromNetwork decodes a network-byte-order 32-bit value.
func Uint32FromNetwork(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
