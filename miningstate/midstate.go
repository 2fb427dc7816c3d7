package miningstate

import (
	"encoding/binary"
	"math/bits"
)

const (
	// keccak pad10*1: 0x01 right after the 84 data bytes, 0x80 in the last rate byte (135)
	padFirst = uint64(0x01) << 32
	padLast  = uint64(0x80) << 56
)

// computeMidstate runs theta, rho and pi of the first Keccak-f[1600] round over the
// single padded block. The result is the B array a kernel finishes with chi/iota and
// the remaining 23 rounds after patching in its nonce.
func computeMidstate(m Message) [MidstateSize]byte {
	raw := m.Bytes()

	var msg [11]uint64
	for i := 0; i < 10; i++ {
		msg[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	msg[10] = uint64(binary.LittleEndian.Uint32(raw[80:]))

	var c, d [5]uint64
	c[0] = msg[0] ^ msg[5] ^ msg[10] ^ padFirst
	c[1] = msg[1] ^ msg[6] ^ padLast
	c[2] = msg[2] ^ msg[7]
	c[3] = msg[3] ^ msg[8]
	c[4] = msg[4] ^ msg[9]

	d[0] = bits.RotateLeft64(c[1], 1) ^ c[4]
	d[1] = bits.RotateLeft64(c[2], 1) ^ c[0]
	d[2] = bits.RotateLeft64(c[3], 1) ^ c[1]
	d[3] = bits.RotateLeft64(c[4], 1) ^ c[2]
	d[4] = bits.RotateLeft64(c[0], 1) ^ c[3]

	var mid [25]uint64
	mid[0] = msg[0] ^ d[0]
	mid[1] = bits.RotateLeft64(msg[6]^d[1], 44)
	mid[2] = bits.RotateLeft64(d[2], 43)
	mid[3] = bits.RotateLeft64(d[3], 21)
	mid[4] = bits.RotateLeft64(d[4], 14)
	mid[5] = bits.RotateLeft64(msg[3]^d[3], 28)
	mid[6] = bits.RotateLeft64(msg[9]^d[4], 20)
	mid[7] = bits.RotateLeft64(msg[10]^d[0]^padFirst, 3)
	mid[8] = bits.RotateLeft64(padLast^d[1], 45)
	mid[9] = bits.RotateLeft64(d[2], 61)
	mid[10] = bits.RotateLeft64(msg[1]^d[1], 1)
	mid[11] = bits.RotateLeft64(msg[7]^d[2], 6)
	mid[12] = bits.RotateLeft64(d[3], 25)
	mid[13] = bits.RotateLeft64(d[4], 8)
	mid[14] = bits.RotateLeft64(d[0], 18)
	mid[15] = bits.RotateLeft64(msg[4]^d[4], 27)
	mid[16] = bits.RotateLeft64(msg[5]^d[0], 36)
	mid[17] = bits.RotateLeft64(d[1], 10)
	mid[18] = bits.RotateLeft64(d[2], 15)
	mid[19] = bits.RotateLeft64(d[3], 56)
	mid[20] = bits.RotateLeft64(msg[2]^d[2], 62)
	mid[21] = bits.RotateLeft64(msg[8]^d[3], 55)
	mid[22] = bits.RotateLeft64(d[4], 39)
	mid[23] = bits.RotateLeft64(d[0], 41)
	mid[24] = bits.RotateLeft64(d[1], 2)

	var out [MidstateSize]byte
	for i, lane := range mid {
		binary.LittleEndian.PutUint64(out[i*8:], lane)
	}
	return out
}
