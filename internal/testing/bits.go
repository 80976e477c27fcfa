// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testing

// bitAt returns bit i of data, counting LSB first
func bitAt(data []byte, i int) byte {
	return (data[i/8] >> (i % 8)) & 1
}

// bitsOf unpacks the first n bits of data into one byte per bit
func bitsOf(data []byte, n int) []byte {
	out := make([]byte, n)
	for i := range n {
		out[i] = bitAt(data, i)
	}
	return out
}

// packBits packs one-bit-per-byte values LSB first
func packBits(bits []byte) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// crc16 mirrors mfrc522.CRC16
func crc16(data []byte, preset uint16) [2]byte {
	crc := preset
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		crc = (crc >> 8) ^ uint16(b)<<8 ^ uint16(b)<<3 ^ uint16(b)>>4
	}
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// checkCRC reports whether data ends in a valid CRC_A
func checkCRC(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	crc := crc16(data[:len(data)-2], 0x6363)
	return data[len(data)-2] == crc[0] && data[len(data)-1] == crc[1]
}

// appendCRC returns data followed by its CRC_A
func appendCRC(data []byte) []byte {
	crc := crc16(data, 0x6363)
	return append(append([]byte(nil), data...), crc[0], crc[1])
}
