// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "encoding/binary"

// PackBits packs a logical array of bits into bytes, bit i occupying byte
// i/8 bit i%8, LSB-first within each byte; trailing bits in the last byte
// are zero (§4.3 "Bit packing").
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackBits unpacks count bits from packed, LSB-first within each byte.
func UnpackBits(packed []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(packed) {
			break
		}
		out[i] = packed[byteIdx]&(1<<uint(i%8)) != 0
	}
	return out
}

// EncodeRegisters serializes a list of 16-bit values big-endian.
func EncodeRegisters(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// DecodeRegisters parses a big-endian byte slice into 16-bit values. Any
// trailing odd byte is ignored.
func DecodeRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return out
}
