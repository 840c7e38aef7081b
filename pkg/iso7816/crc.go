// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "math/bits"

// CRC-16 generator x^16 + x^12 + x^5 + 1 (the leading x^16 term is implicit)
const crcPolynomial = 0x1021

// XORChecksum returns the XOR of all bytes
func XORChecksum(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

// CheckXOR reports whether the last byte of unit is the XOR of the bytes before it
func CheckXOR(unit []byte) bool {
	if len(unit) == 0 {
		return false
	}
	return XORChecksum(unit[:len(unit)-1]) == unit[len(unit)-1]
}

// CRCRemainder divides the bit string formed by data (most significant bit first)
// by the generator modulo 2 and returns the 16-bit remainder. No initial value or
// final XOR is applied.
func CRCRemainder(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			in := uint16(b>>uint(i)) & 1
			top := crc >> 15
			crc = crc<<1 | in
			if top == 1 {
				crc ^= crcPolynomial
			}
		}
	}
	return crc
}

// CalculateCRC returns the two EDC bytes to append to payload, i.e. the remainder of
// payload * x^16 divided by the generator.
func CalculateCRC(payload []byte) uint16 {
	return CRCRemainder(append(append([]byte{}, payload...), 0, 0))
}

// AppendCRC returns payload followed by its CRC, most significant byte first
func AppendCRC(payload []byte) []byte {
	crc := CalculateCRC(payload)
	return append(append([]byte{}, payload...), byte(crc>>8), byte(crc))
}

// CheckCRC reports whether block, including its two trailing CRC bytes, divides
// evenly by the generator
func CheckCRC(block []byte) bool {
	if len(block) < 2 {
		return false
	}
	return CRCRemainder(block) == 0
}

// Invert converts a byte read with the direct convention to its inverse convention
// value: complemented and transmitted most significant bit first. Invert is its own
// inverse.
func Invert(b byte) byte {
	return bits.Reverse8(^b)
}
